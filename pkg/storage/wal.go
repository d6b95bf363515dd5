package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"sync"

	"github.com/google/btree"
)

// [CRC32 4B] [Op 1B] [PageID 8B] [Size 4B] [Data NB]

const (
	HeaderSize = 4 + 1 + 8 + 4 // 17 Bytes

	opWrite byte = 1
	opFree  byte = 2
)

var errCorruptRecord = errors.New("wal: corrupted record")

// LogRecord is one entry of a page log.
type LogRecord struct {
	Op     byte
	ID     PageID
	Data   []byte
	Offset int64 // file offset of Data
}

type logSlot struct {
	id   PageID
	off  int64
	size uint32
}

// PageLog is a Backend over an append-only file. Every write appends a full
// page image; an in-memory ordered index points at the latest image of each
// live page. The index is rebuilt by replaying the log on open.
type PageLog struct {
	file  *os.File
	mu    sync.Mutex
	buf   *bufio.Writer
	index *btree.BTreeG[logSlot]
	end   int64
	live  int64
	next  PageID
	free  []PageID
}

func OpenPageLog(path string) (*PageLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l := &PageLog{
		file:  f,
		buf:   bufio.NewWriter(f),
		index: btree.NewG(32, func(a, b logSlot) bool { return a.id < b.id }),
		next:  HeaderPage + 1,
	}
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *PageLog) replay() error {
	it, err := l.NewIterator()
	if err != nil {
		return err
	}
	defer it.Close()

	freed := make(map[PageID]bool)
	good := int64(0)
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a torn tail from an interrupted append
			log.Printf("[Storage] Page log %s: dropping tail at offset %d: %v", l.file.Name(), good, err)
			if err := l.file.Truncate(good); err != nil {
				return err
			}
			break
		}
		switch rec.Op {
		case opWrite:
			l.put(logSlot{id: rec.ID, off: rec.Offset, size: uint32(len(rec.Data))})
			delete(freed, rec.ID)
		case opFree:
			l.drop(rec.ID)
			freed[rec.ID] = true
		}
		if rec.ID >= l.next {
			l.next = rec.ID + 1
		}
		good = rec.Offset + int64(len(rec.Data))
	}
	l.end = good
	for id := range freed {
		if id != HeaderPage {
			l.free = append(l.free, id)
		}
	}
	return nil
}

func (l *PageLog) put(s logSlot) {
	if old, ok := l.index.ReplaceOrInsert(s); ok {
		l.live -= int64(old.size)
	}
	l.live += int64(s.size)
}

func (l *PageLog) drop(id PageID) bool {
	old, ok := l.index.Delete(logSlot{id: id})
	if ok {
		l.live -= int64(old.size)
	}
	return ok
}

func (l *PageLog) append(op byte, id PageID, data []byte) (int64, error) {
	header := make([]byte, HeaderSize)
	header[4] = op
	binary.LittleEndian.PutUint64(header[5:13], uint64(id))
	binary.LittleEndian.PutUint32(header[13:17], uint32(len(data)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(data)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := l.buf.Write(header); err != nil {
		return 0, err
	}
	if _, err := l.buf.Write(data); err != nil {
		return 0, err
	}
	if err := l.buf.Flush(); err != nil {
		return 0, err
	}
	off := l.end + HeaderSize
	l.end = off + int64(len(data))
	return off, nil
}

func (l *PageLog) Allocate() (PageID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.free); n > 0 {
		id := l.free[n-1]
		l.free = l.free[:n-1]
		return id, nil
	}
	id := l.next
	l.next++
	return id, nil
}

func (l *PageLog) Read(id PageID) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.index.Get(logSlot{id: id})
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	data := make([]byte, s.size)
	if _, err := l.file.ReadAt(data, s.off); err != nil {
		return nil, err
	}
	return data, nil
}

func (l *PageLog) Write(id PageID, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	off, err := l.append(opWrite, id, data)
	if err != nil {
		return err
	}
	l.put(logSlot{id: id, off: off, size: uint32(len(data))})
	if id >= l.next {
		l.next = id + 1
	}
	return nil
}

func (l *PageLog) Free(id PageID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.drop(id) {
		return fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	if _, err := l.append(opFree, id, nil); err != nil {
		return err
	}
	if id != HeaderPage {
		l.free = append(l.free, id)
	}
	return nil
}

func (l *PageLog) Scan(fn func(id PageID, data []byte) bool) error {
	l.mu.Lock()
	slots := make([]logSlot, 0, l.index.Len())
	l.index.Ascend(func(s logSlot) bool {
		slots = append(slots, s)
		return true
	})
	l.mu.Unlock()

	for _, s := range slots {
		data := make([]byte, s.size)
		if _, err := l.file.ReadAt(data, s.off); err != nil {
			return err
		}
		if !fn(s.id, data) {
			return nil
		}
	}
	return nil
}

// Garbage is the fraction of the file taken by superseded images.
func (l *PageLog) Garbage() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.end == 0 {
		return 0
	}
	used := l.live + int64(l.index.Len())*HeaderSize
	return 1 - float64(used)/float64(l.end)
}

// Compact rewrites the live pages into a fresh log and swaps it in.
func (l *PageLog) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return err
	}

	path := l.file.Name()
	tmpPath := path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w := &PageLog{
		file:  tmp,
		buf:   bufio.NewWriter(tmp),
		index: btree.NewG(32, func(a, b logSlot) bool { return a.id < b.id }),
	}
	var copyErr error
	l.index.Ascend(func(s logSlot) bool {
		data := make([]byte, s.size)
		if _, copyErr = l.file.ReadAt(data, s.off); copyErr != nil {
			return false
		}
		off, err := w.append(opWrite, s.id, data)
		if err != nil {
			copyErr = err
			return false
		}
		w.put(logSlot{id: s.id, off: off, size: s.size})
		return true
	})
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	if copyErr != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return copyErr
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file.Close()
	before := l.end
	l.file = f
	l.buf = bufio.NewWriter(f)
	l.index = w.index
	l.end = w.end
	l.live = w.live
	log.Printf("[Storage] Compacted page log %s: %d -> %d bytes", path, before, l.end)
	return nil
}

func (l *PageLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Flush()
	return l.file.Sync()
}

func (l *PageLog) Close() error {
	l.buf.Flush()
	return l.file.Close()
}

func (l *PageLog) Size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := l.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type LogIterator struct {
	reader *bufio.Reader
	file   *os.File
	offset int64
}

func (l *PageLog) NewIterator() (*LogIterator, error) {
	f, err := os.Open(l.file.Name())
	if err != nil {
		return nil, err
	}
	return &LogIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

func (it *LogIterator) Next() (LogRecord, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(it.reader, header)
	if err == io.EOF {
		return LogRecord{}, io.EOF
	}
	if err != nil {
		return LogRecord{}, fmt.Errorf("%w: short header (%d bytes)", errCorruptRecord, n)
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	op := header[4]
	id := PageID(binary.LittleEndian.Uint64(header[5:13]))
	size := binary.LittleEndian.Uint32(header[13:17])
	if op != opWrite && op != opFree {
		return LogRecord{}, fmt.Errorf("%w: unknown op %d", errCorruptRecord, op)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(it.reader, data); err != nil {
		return LogRecord{}, fmt.Errorf("%w: short data", errCorruptRecord)
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(data)
	if checksum.Sum32() != storedCRC {
		return LogRecord{}, errors.New("wal: crc mismatch")
	}

	rec := LogRecord{Op: op, ID: id, Data: data, Offset: it.offset + HeaderSize}
	it.offset += HeaderSize + int64(size)
	return rec, nil
}

func (it *LogIterator) Close() {
	it.file.Close()
}
