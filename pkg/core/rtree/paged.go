package rtree

import (
	"container/list"
	"fmt"

	"rstardb/pkg/common"
	"rstardb/pkg/geom"
	"rstardb/pkg/monitor"
	"rstardb/pkg/storage"

	"github.com/vmihailenco/msgpack/v5"
)

type pageImage struct {
	Level   int          `msgpack:"l"`
	Entries []entryImage `msgpack:"e"`
}

// entryImage stores Max only when it differs from Min, so point entries
// cost one coordinate vector.
type entryImage struct {
	Min []float64 `msgpack:"lo"`
	Max []float64 `msgpack:"hi,omitempty"`
	Ref int64     `msgpack:"r"`
}

func encodeNode(n *Node) ([]byte, error) {
	img := pageImage{Level: n.Level, Entries: make([]entryImage, len(n.Entries))}
	for i, e := range n.Entries {
		ei := entryImage{Min: e.MBR.Min}
		if !geom.Point(e.MBR.Min).Equal(e.MBR) {
			ei.Max = e.MBR.Max
		}
		if n.IsLeaf() {
			ei.Ref = int64(e.ID)
		} else {
			ei.Ref = int64(e.Child)
		}
		img.Entries[i] = ei
	}
	return msgpack.Marshal(&img)
}

func decodeNode(id storage.PageID, data []byte) (*Node, error) {
	var img pageImage
	if err := msgpack.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrCorrupt, id, err)
	}
	n := &Node{ID: id, Level: img.Level, Entries: make([]Entry, len(img.Entries))}
	for i, ei := range img.Entries {
		hi := ei.Max
		if len(hi) == 0 {
			hi = ei.Min
		}
		if len(hi) != len(ei.Min) {
			return nil, fmt.Errorf("%w: page %d entry %d has %d/%d bounds", ErrCorrupt, id, i, len(ei.Min), len(hi))
		}
		e := Entry{MBR: geom.Box{Min: ei.Min, Max: hi}}
		if n.IsLeaf() {
			e.ID = common.ObjectID(ei.Ref)
		} else {
			e.Child = storage.PageID(ei.Ref)
		}
		n.Entries[i] = e
	}
	return n, nil
}

type cached struct {
	id   storage.PageID
	node *Node
}

// PagedStore keeps msgpack-encoded nodes in a storage backend, with an LRU
// cache of decoded nodes in front. Writes go straight to the backend.
type PagedStore struct {
	backend  storage.Backend
	capacity int
	lru      *list.List
	items    map[storage.PageID]*list.Element
	stats    *monitor.IndexStats
	readOnly bool
}

// NewPagedStore wraps backend. A cacheSize of 0 or less disables caching.
func NewPagedStore(backend storage.Backend, cacheSize int, stats *monitor.IndexStats) *PagedStore {
	return &PagedStore{
		backend:  backend,
		capacity: cacheSize,
		lru:      list.New(),
		items:    make(map[storage.PageID]*list.Element),
		stats:    stats,
		readOnly: storage.ReadOnly(backend),
	}
}

func (p *PagedStore) ReadOnly() bool { return p.readOnly }

func (p *PagedStore) Backend() storage.Backend { return p.backend }

func (p *PagedStore) AllocatePage() (storage.PageID, error) {
	if p.readOnly {
		return 0, storage.ErrReadOnly
	}
	return p.backend.Allocate()
}

func (p *PagedStore) ReadNode(id storage.PageID) (*Node, error) {
	if el, ok := p.items[id]; ok {
		p.lru.MoveToFront(el)
		p.stats.RecordCacheHit()
		return el.Value.(*cached).node, nil
	}
	data, err := p.backend.Read(id)
	if err != nil {
		return nil, err
	}
	p.stats.RecordPageRead()
	n, err := decodeNode(id, data)
	if err != nil {
		return nil, err
	}
	p.remember(id, n)
	return n, nil
}

func (p *PagedStore) WriteNode(id storage.PageID, n *Node) error {
	if p.readOnly {
		return storage.ErrReadOnly
	}
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	if err := p.backend.Write(id, data); err != nil {
		return err
	}
	p.stats.RecordPageWrite()
	n.ID = id
	p.remember(id, n)
	return nil
}

// WriteNodes writes several nodes at once. Backends that accept page
// batches get them in a single call.
func (p *PagedStore) WriteNodes(nodes []*Node) error {
	if p.readOnly {
		return storage.ErrReadOnly
	}
	bw, ok := p.backend.(interface {
		WriteBatch(pages map[storage.PageID][]byte) error
	})
	if !ok {
		for _, n := range nodes {
			if err := p.WriteNode(n.ID, n); err != nil {
				return err
			}
		}
		return nil
	}

	pages := make(map[storage.PageID][]byte, len(nodes))
	for _, n := range nodes {
		data, err := encodeNode(n)
		if err != nil {
			return err
		}
		pages[n.ID] = data
	}
	if err := bw.WriteBatch(pages); err != nil {
		return err
	}
	for _, n := range nodes {
		p.stats.RecordPageWrite()
		p.remember(n.ID, n)
	}
	return nil
}

func (p *PagedStore) FreePage(id storage.PageID) error {
	if p.readOnly {
		return storage.ErrReadOnly
	}
	p.forget(id)
	return p.backend.Free(id)
}

func (p *PagedStore) ReadHeader() (*Header, error) {
	data, err := p.backend.Read(storage.HeaderPage)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	return &h, nil
}

func (p *PagedStore) WriteHeader(h *Header) error {
	if p.readOnly {
		return storage.ErrReadOnly
	}
	data, err := msgpack.Marshal(h)
	if err != nil {
		return err
	}
	return p.backend.Write(storage.HeaderPage, data)
}

// Sync flushes the backend when it supports it.
func (p *PagedStore) Sync() error {
	if s, ok := p.backend.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Cached is the number of decoded nodes held.
func (p *PagedStore) Cached() int { return p.lru.Len() }

// Purge drops every cached node.
func (p *PagedStore) Purge() {
	p.lru.Init()
	p.items = make(map[storage.PageID]*list.Element)
}

func (p *PagedStore) remember(id storage.PageID, n *Node) {
	if p.capacity <= 0 {
		return
	}
	if el, ok := p.items[id]; ok {
		el.Value.(*cached).node = n
		p.lru.MoveToFront(el)
		return
	}
	p.items[id] = p.lru.PushFront(&cached{id: id, node: n})
	for p.lru.Len() > p.capacity {
		last := p.lru.Back()
		p.lru.Remove(last)
		delete(p.items, last.Value.(*cached).id)
	}
}

func (p *PagedStore) forget(id storage.PageID) {
	if el, ok := p.items[id]; ok {
		p.lru.Remove(el)
		delete(p.items, id)
	}
}
