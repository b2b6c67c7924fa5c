package domain

import (
	"context"
	"time"
)

// HistorySnapshotVersion is the current export format version.
const HistorySnapshotVersion = 1

// HistorySnapshot is the durable representation of a conversation thread.
type HistorySnapshot struct {
	Version    int       `json:"version"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Messages   []Message `json:"messages"`
	ExportedAt time.Time `json:"exported_at"`
}

// HistoryStore persists exported history blobs by session id.
type HistoryStore interface {
	SaveHistory(ctx context.Context, sessionID string, blob []byte) error
	// LoadHistory returns ErrSessionNotFound when nothing is stored.
	LoadHistory(ctx context.Context, sessionID string) ([]byte, error)
	DeleteHistory(ctx context.Context, sessionID string) error
}

// ContentEncryptor provides symmetric encryption for data at rest.
type ContentEncryptor interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt returns input without the encrypted marker unchanged.
	Decrypt(ciphertext string) (string, error)
	IsEncrypted(s string) bool
}
