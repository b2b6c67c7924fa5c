// Package store persists patient records, clinical notes and exported session
// histories in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"clinicrew/internal/domain"
)

var (
	_ domain.PatientStore = (*SQLiteStore)(nil)
	_ domain.HistoryStore = (*SQLiteStore)(nil)
)

// SQLiteStore implements domain.PatientStore and domain.HistoryStore. When an
// encryptor is set, note text and history blobs are encrypted at rest.
type SQLiteStore struct {
	db  *sql.DB
	enc domain.ContentEncryptor
	now func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithEncryptor encrypts notes and history blobs. A nil encryptor is ignored.
func WithEncryptor(enc domain.ContentEncryptor) Option {
	return func(s *SQLiteStore) {
		if enc != nil {
			s.enc = enc
		}
	}
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %v", domain.ErrRecordStore, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrRecordStore, err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrRecordStore, pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrRecordStore, err)
	}

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) seal(text string) (string, error) {
	if s.enc == nil {
		return text, nil
	}
	out, err := s.enc.Encrypt(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}
	return out, nil
}

// open decrypts text. Rows written before encryption was enabled pass
// through unchanged.
func (s *SQLiteStore) open(text string) (string, error) {
	if s.enc == nil || !s.enc.IsEncrypted(text) {
		return text, nil
	}
	out, err := s.enc.Decrypt(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return out, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
