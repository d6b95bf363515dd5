package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteBackend(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	plog, err := OpenPageLog(filepath.Join(dir, "pages.log"))
	if err != nil {
		t.Fatalf("open page log: %v", err)
	}
	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
		"log":    plog,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackendContract(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			a, err := b.Allocate()
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			c, err := b.Allocate()
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			if a == HeaderPage || c == HeaderPage || a == c {
				t.Fatalf("bad page ids %d, %d", a, c)
			}

			if err := b.Write(HeaderPage, []byte("meta")); err != nil {
				t.Fatalf("write header: %v", err)
			}
			if err := b.Write(a, []byte("first")); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := b.Write(c, []byte("second")); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := b.Write(a, []byte("first-v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			got, err := b.Read(a)
			if err != nil || string(got) != "first-v2" {
				t.Fatalf("read page %d: %q, %v", a, got, err)
			}
			got, err = b.Read(HeaderPage)
			if err != nil || string(got) != "meta" {
				t.Fatalf("read header: %q, %v", got, err)
			}

			var ids []PageID
			if err := b.Scan(func(id PageID, data []byte) bool {
				ids = append(ids, id)
				return true
			}); err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(ids) != 3 || ids[0] != HeaderPage || ids[1] >= ids[2] {
				t.Fatalf("scan order: %v", ids)
			}

			if err := b.Free(c); err != nil {
				t.Fatalf("free: %v", err)
			}
			if _, err := b.Read(c); !errors.Is(err, ErrPageNotFound) {
				t.Fatalf("read freed page: expected ErrPageNotFound, got %v", err)
			}
			if _, err := b.Read(PageID(9999)); !errors.Is(err, ErrPageNotFound) {
				t.Fatalf("read unknown page: expected ErrPageNotFound, got %v", err)
			}
		})
	}
}

func TestMemoryBackendReusesFreedPages(t *testing.T) {
	m := NewMemoryBackend()
	id, _ := m.Allocate()
	if err := m.Write(id, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
	again, _ := m.Allocate()
	if again != id {
		t.Fatalf("expected freed page %d to be reused, got %d", id, again)
	}

	buf := []byte("abc")
	m.Write(again, buf)
	buf[0] = 'x'
	got, _ := m.Read(again)
	if !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("backend aliased the caller's buffer: %q", got)
	}
}

func TestSQLiteBackendWriteBatch(t *testing.T) {
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "batch.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	pages := map[PageID][]byte{1: []byte("a"), 2: []byte("b"), 5: []byte("c")}
	if err := s.WriteBatch(pages); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	n := 0
	s.Scan(func(id PageID, data []byte) bool {
		if !bytes.Equal(data, pages[id]) {
			t.Errorf("page %d: got %q", id, data)
		}
		n++
		return true
	})
	if n != 3 {
		t.Fatalf("scan visited %d pages, want 3", n)
	}
	if _, err := s.Read(3); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("page outside the batch: expected ErrPageNotFound, got %v", err)
	}
}
