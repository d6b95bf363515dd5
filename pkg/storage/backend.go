package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// PageID addresses a page of a backend.
type PageID int64

// HeaderPage is reserved for index metadata. Allocate never returns it.
const HeaderPage PageID = 0

var (
	ErrPageNotFound = errors.New("storage: page not found")
	ErrReadOnly     = errors.New("storage: backend is read-only")
)

// Backend stores opaque page images addressed by page id.
type Backend interface {
	Allocate() (PageID, error)
	Read(id PageID) ([]byte, error)
	Write(id PageID, data []byte) error
	Free(id PageID) error
	// Scan visits all written pages in ascending id order until fn returns false.
	Scan(fn func(id PageID, data []byte) bool) error
	Close() error
}

// ReadOnly reports whether b refuses mutations.
func ReadOnly(b Backend) bool {
	ro, ok := b.(interface{ ReadOnly() bool })
	return ok && ro.ReadOnly()
}

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY,
		data BLOB
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init pages table: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		log.Printf("[Storage] Warning: Failed to set PRAGMA: %v", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Allocate() (PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("INSERT INTO pages (data) VALUES (NULL)")
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return PageID(id), nil
}

func (s *SQLiteBackend) Read(id PageID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM pages WHERE id = ?", int64(id)).Scan(&data)
	if err == sql.ErrNoRows || (err == nil && data == nil) {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *SQLiteBackend) Write(id PageID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO pages (id, data) VALUES (?, ?)", int64(id), data)
	return err
}

// WriteBatch stores several pages in one transaction.
func (s *SQLiteBackend) WriteBatch(pages map[PageID][]byte) error {
	if len(pages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO pages (id, data) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for id, data := range pages {
		if _, err := stmt.Exec(int64(id), data); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Free(id PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM pages WHERE id = ?", int64(id))
	return err
}

func (s *SQLiteBackend) Scan(fn func(id PageID, data []byte) bool) error {
	rows, err := s.db.Query("SELECT id, data FROM pages WHERE data IS NOT NULL ORDER BY id ASC")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		if !fn(PageID(id), data) {
			break
		}
	}
	return rows.Err()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
