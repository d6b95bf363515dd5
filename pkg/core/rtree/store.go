package rtree

import (
	"fmt"

	"rstardb/pkg/storage"
)

// NodeStore persists node images by page id.
type NodeStore interface {
	AllocatePage() (storage.PageID, error)
	ReadNode(id storage.PageID) (*Node, error)
	WriteNode(id storage.PageID, n *Node) error
	FreePage(id storage.PageID) error
}

// HeaderStore is implemented by stores that can keep the tree header, which
// makes a tree reopenable with Open.
type HeaderStore interface {
	ReadHeader() (*Header, error)
	WriteHeader(h *Header) error
}

// Header is the persisted tree metadata.
type Header struct {
	InstanceID   string         `msgpack:"instance_id"`
	Dims         int            `msgpack:"dims"`
	Height       int            `msgpack:"height"`
	Root         storage.PageID `msgpack:"root"`
	Size         int            `msgpack:"size"`
	LeafCapacity int            `msgpack:"leaf_capacity"`
	DirCapacity  int            `msgpack:"dir_capacity"`
	MinFill      float64        `msgpack:"min_fill"`
}

func readOnly(s NodeStore) bool {
	ro, ok := s.(interface{ ReadOnly() bool })
	return ok && ro.ReadOnly()
}

// MemoryStore is an arena of nodes indexed by page id. Page 0 is never
// handed out.
type MemoryStore struct {
	nodes  []*Node
	free   []storage.PageID
	header *Header
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make([]*Node, 1)}
}

func (m *MemoryStore) AllocatePage() (storage.PageID, error) {
	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		return id, nil
	}
	m.nodes = append(m.nodes, nil)
	return storage.PageID(len(m.nodes) - 1), nil
}

func (m *MemoryStore) ReadNode(id storage.PageID) (*Node, error) {
	if id <= storage.HeaderPage || int(id) >= len(m.nodes) || m.nodes[id] == nil {
		return nil, fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	return m.nodes[id], nil
}

func (m *MemoryStore) WriteNode(id storage.PageID, n *Node) error {
	if id <= storage.HeaderPage || int(id) >= len(m.nodes) {
		return fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	n.ID = id
	m.nodes[id] = n
	return nil
}

func (m *MemoryStore) FreePage(id storage.PageID) error {
	if id <= storage.HeaderPage || int(id) >= len(m.nodes) || m.nodes[id] == nil {
		return fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	m.nodes[id] = nil
	m.free = append(m.free, id)
	return nil
}

// Pages is the number of live nodes.
func (m *MemoryStore) Pages() int {
	return len(m.nodes) - 1 - len(m.free)
}

func (m *MemoryStore) ReadHeader() (*Header, error) {
	if m.header == nil {
		return nil, fmt.Errorf("%w: header", storage.ErrPageNotFound)
	}
	h := *m.header
	return &h, nil
}

func (m *MemoryStore) WriteHeader(h *Header) error {
	c := *h
	m.header = &c
	return nil
}
