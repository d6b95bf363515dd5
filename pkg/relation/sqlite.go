package relation

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"rstardb/pkg/common"

	_ "modernc.org/sqlite"
)

// SQLite stores vectors as little-endian float64 blobs in a SQLite table.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex
	dims int
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("relation: open sqlite: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS vectors (
		id INTEGER PRIMARY KEY,
		vec BLOB NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("relation: init vectors table: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		log.Printf("[Relation] Warning: Failed to set PRAGMA: %v", err)
	}

	s := &SQLite{db: db}
	var blob []byte
	err = db.QueryRow("SELECT vec FROM vectors LIMIT 1").Scan(&blob)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		db.Close()
		return nil, err
	default:
		s.dims = len(blob) / 8
	}
	return s, nil
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeVector(buf []byte) (common.Vector, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("relation: vector blob of %d bytes", len(buf))
	}
	vec := make(common.Vector, len(buf)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return vec, nil
}

func (s *SQLite) Put(id common.ObjectID, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkDims(&s.dims, len(vec)); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO vectors (id, vec) VALUES (?, ?)", int64(id), encodeVector(vec))
	return err
}

// PutBatch stores records in a single transaction.
func (s *SQLite) PutBatch(records []common.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	for _, rec := range records {
		if err := checkDims(&dims, len(rec.Vec)); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO vectors (id, vec) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(int64(rec.ID), encodeVector(rec.Vec)); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.dims = dims
	return nil
}

func (s *SQLite) VectorAt(id common.ObjectID) (common.Vector, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT vec FROM vectors WHERE id = ?", int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeVector(blob)
}

func (s *SQLite) Remove(id common.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM vectors WHERE id = ?", int64(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) Ascend(fn func(rec common.Record) bool) error {
	rows, err := s.db.Query("SELECT id, vec FROM vectors ORDER BY id ASC")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return err
		}
		if !fn(common.Record{ID: common.ObjectID(id), Vec: vec}) {
			break
		}
	}
	return rows.Err()
}

func (s *SQLite) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		log.Printf("[Relation] count failed: %v", err)
		return 0
	}
	return n
}

func (s *SQLite) Dimensionality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
