// Package identity persists the learned mapping from raw tag EPCs to
// their business identity (print card and numeric registry id) in SQLite.
// Every successful attribute fetch teaches the store, so the dedup key
// survives catalog outages: a re-read of a known tag still collapses onto
// its product key instead of falling back to the raw EPC.
package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. A nil *Store is a valid no-op store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the SQLite database at path and ensures the
// schema exists. The connection is serialized; this store is far off the
// hot path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("identity: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("identity: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("identity: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=2000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tag_identity (
    tag_id       TEXT PRIMARY KEY,
    print_card   TEXT NOT NULL,
    record_id    INTEGER NOT NULL DEFAULT 0,
    observations INTEGER NOT NULL DEFAULT 1,
    learned_at   INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("identity: schema: %w", err)
	}
	return nil
}

// Close closes the underlying database. Safe on nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Learn upserts the identity for a tag. Repeat observations bump the
// counter and refresh print card and record id.
func (s *Store) Learn(tagID, printCard string, recordID int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	tagID = strings.TrimSpace(tagID)
	printCard = strings.TrimSpace(printCard)
	if tagID == "" || printCard == "" {
		return errors.New("identity: tag id and print card are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
INSERT INTO tag_identity (tag_id, print_card, record_id, observations, learned_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT(tag_id) DO UPDATE SET
    print_card   = excluded.print_card,
    record_id    = excluded.record_id,
    observations = observations + 1,
    learned_at   = excluded.learned_at`,
		tagID, printCard, recordID, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("identity: learn %s: %w", tagID, err)
	}
	return nil
}

// Lookup returns the learned identity for a tag, if any.
func (s *Store) Lookup(tagID string) (printCard string, recordID int64, ok bool) {
	if s == nil || s.db == nil || strings.TrimSpace(tagID) == "" {
		return "", 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`SELECT print_card, record_id FROM tag_identity WHERE tag_id = ?`, tagID)
	if err := row.Scan(&printCard, &recordID); err != nil {
		return "", 0, false
	}
	return printCard, recordID, true
}

// Count returns the number of learned identities.
func (s *Store) Count() (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tag_identity`).Scan(&n); err != nil {
		return 0, fmt.Errorf("identity: count: %w", err)
	}
	return n, nil
}
