package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"rstardb/pkg/storage"

	"github.com/edsrzf/mmap-go"
)

// Snapshot is a read-only storage.Backend over a mapped snapshot file.
// Slices returned by Read and Scan point into the mapping and stay valid
// until Close.
type Snapshot struct {
	file    *os.File
	data    mmap.MMap
	ids     []storage.PageID
	offsets []int64
	sizes   []uint32
}

func Open(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < footerSize+8 {
		f.Close()
		return nil, errors.New("snapshot: file too small")
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &Snapshot{file: f, data: m}
	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) loadIndex() error {
	size := int64(len(s.data))
	footer := s.data[size-footerSize:]
	indexStart := int64(binary.LittleEndian.Uint64(footer[0:8]))
	magic := binary.LittleEndian.Uint64(footer[8:16])
	if magic != MagicNumber {
		return errors.New("snapshot: invalid magic number")
	}
	if indexStart < 0 || indexStart+8 > size-footerSize {
		return errors.New("snapshot: index offset out of range")
	}

	count := int64(binary.LittleEndian.Uint64(s.data[indexStart : indexStart+8]))
	if count < 0 || indexStart+8+count*slotSize > size-footerSize {
		return fmt.Errorf("snapshot: index of %d pages does not fit", count)
	}

	s.ids = make([]storage.PageID, count)
	s.offsets = make([]int64, count)
	s.sizes = make([]uint32, count)
	pos := indexStart + 8
	for i := int64(0); i < count; i++ {
		s.ids[i] = storage.PageID(binary.LittleEndian.Uint64(s.data[pos : pos+8]))
		s.offsets[i] = int64(binary.LittleEndian.Uint64(s.data[pos+8 : pos+16]))
		s.sizes[i] = binary.LittleEndian.Uint32(s.data[pos+16 : pos+20])
		if s.offsets[i] < 0 || s.offsets[i]+int64(s.sizes[i]) > indexStart {
			return fmt.Errorf("snapshot: page %d out of range", s.ids[i])
		}
		pos += slotSize
	}
	return nil
}

func (s *Snapshot) Read(id storage.PageID) ([]byte, error) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i == len(s.ids) || s.ids[i] != id {
		return nil, fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	off := s.offsets[i]
	return s.data[off : off+int64(s.sizes[i]) : off+int64(s.sizes[i])], nil
}

func (s *Snapshot) Scan(fn func(id storage.PageID, data []byte) bool) error {
	for i, id := range s.ids {
		off := s.offsets[i]
		if !fn(id, s.data[off:off+int64(s.sizes[i])]) {
			break
		}
	}
	return nil
}

// Len is the number of pages in the snapshot.
func (s *Snapshot) Len() int { return len(s.ids) }

func (s *Snapshot) Allocate() (storage.PageID, error) { return 0, storage.ErrReadOnly }

func (s *Snapshot) Write(storage.PageID, []byte) error { return storage.ErrReadOnly }

func (s *Snapshot) Free(storage.PageID) error { return storage.ErrReadOnly }

func (s *Snapshot) ReadOnly() bool { return true }

func (s *Snapshot) Close() error {
	var err error
	if s.data != nil {
		err = s.data.Unmap()
		s.data = nil
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
