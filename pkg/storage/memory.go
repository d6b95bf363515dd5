package storage

import (
	"fmt"

	"github.com/google/btree"
)

type memPage struct {
	id   PageID
	data []byte
}

// MemoryBackend keeps pages in an ordered in-memory tree.
type MemoryBackend struct {
	tree *btree.BTreeG[memPage]
	next PageID
	free []PageID
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tree: btree.NewG(32, func(a, b memPage) bool { return a.id < b.id }),
		next: HeaderPage + 1,
	}
}

func (m *MemoryBackend) Allocate() (PageID, error) {
	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		return id, nil
	}
	id := m.next
	m.next++
	return id, nil
}

func (m *MemoryBackend) Read(id PageID) ([]byte, error) {
	p, ok := m.tree.Get(memPage{id: id})
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out, nil
}

func (m *MemoryBackend) Write(id PageID, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.tree.ReplaceOrInsert(memPage{id: id, data: buf})
	if id >= m.next {
		m.next = id + 1
	}
	return nil
}

func (m *MemoryBackend) Free(id PageID) error {
	if _, ok := m.tree.Delete(memPage{id: id}); !ok {
		return fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	if id != HeaderPage {
		m.free = append(m.free, id)
	}
	return nil
}

func (m *MemoryBackend) Scan(fn func(id PageID, data []byte) bool) error {
	m.tree.Ascend(func(p memPage) bool {
		return fn(p.id, p.data)
	})
	return nil
}

// Count is the number of written pages.
func (m *MemoryBackend) Count() int { return m.tree.Len() }

func (m *MemoryBackend) Close() error { return nil }
