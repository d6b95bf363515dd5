// Package snapshot writes a page backend into a single immutable file and
// serves it back read-only through a memory mapping.
//
// Layout (little endian):
//
//	[ID 8B] [Size 4B] [Data NB]  ... one record per page, ascending ids
//	[Count 8B] ([ID 8B] [Offset 8B] [Size 4B]) * Count
//	[IndexStart 8B] [Magic 8B]
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log"
	"os"

	"rstardb/pkg/storage"
)

const (
	MagicNumber = 0x5253544152504731 // "RSTARPG1"
	footerSize  = 16
	slotSize    = 8 + 8 + 4
)

type Builder struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	offset  int64
	last    storage.PageID
	ids     []storage.PageID
	offsets []int64
	sizes   []uint32
}

// NewBuilder writes into a temporary file next to path; Close moves it into
// place.
func NewBuilder(path string) (*Builder, error) {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return nil, err
	}
	return &Builder{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		last:   -1,
	}, nil
}

// Add appends a page. Ids must be strictly ascending.
func (b *Builder) Add(id storage.PageID, data []byte) error {
	if id <= b.last {
		return fmt.Errorf("snapshot: page %d added after %d", id, b.last)
	}
	if err := binary.Write(b.writer, binary.LittleEndian, int64(id)); err != nil {
		return err
	}
	if err := binary.Write(b.writer, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	if _, err := b.writer.Write(data); err != nil {
		return err
	}

	b.ids = append(b.ids, id)
	b.offsets = append(b.offsets, b.offset+12)
	b.sizes = append(b.sizes, uint32(len(data)))
	b.offset += 12 + int64(len(data))
	b.last = id
	return nil
}

func (b *Builder) Close() error {
	indexStart := b.offset

	if err := binary.Write(b.writer, binary.LittleEndian, int64(len(b.ids))); err != nil {
		return b.abort(err)
	}
	for i := range b.ids {
		if err := binary.Write(b.writer, binary.LittleEndian, int64(b.ids[i])); err != nil {
			return b.abort(err)
		}
		if err := binary.Write(b.writer, binary.LittleEndian, b.offsets[i]); err != nil {
			return b.abort(err)
		}
		if err := binary.Write(b.writer, binary.LittleEndian, b.sizes[i]); err != nil {
			return b.abort(err)
		}
	}

	if err := binary.Write(b.writer, binary.LittleEndian, indexStart); err != nil {
		return b.abort(err)
	}
	magic := uint64(MagicNumber)
	if err := binary.Write(b.writer, binary.LittleEndian, magic); err != nil {
		return b.abort(err)
	}

	if err := b.writer.Flush(); err != nil {
		return b.abort(err)
	}
	if err := b.file.Sync(); err != nil {
		return b.abort(err)
	}
	if err := b.file.Close(); err != nil {
		return err
	}
	return os.Rename(b.path+".tmp", b.path)
}

func (b *Builder) abort(err error) error {
	b.file.Close()
	os.Remove(b.path + ".tmp")
	return err
}

// Write copies every page of src into a snapshot file at path.
func Write(path string, src storage.Backend) error {
	b, err := NewBuilder(path)
	if err != nil {
		return err
	}
	var addErr error
	if err := src.Scan(func(id storage.PageID, data []byte) bool {
		addErr = b.Add(id, data)
		return addErr == nil
	}); err != nil {
		return b.abort(err)
	}
	if addErr != nil {
		return b.abort(addErr)
	}
	count := len(b.ids)
	if err := b.Close(); err != nil {
		return err
	}
	log.Printf("[Snapshot] Wrote %d pages to %s", count, path)
	return nil
}
