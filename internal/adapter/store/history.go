package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinicrew/internal/domain"
)

func (s *SQLiteStore) SaveHistory(ctx context.Context, sessionID string, blob []byte) error {
	sealed, err := s.seal(string(blob))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO histories (session_id, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		sessionID, sealed, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("%w: save history %s: %v", domain.ErrRecordStore, sessionID, err)
	}
	return nil
}

// LoadHistory returns ErrSessionNotFound when nothing is stored for sessionID.
func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string) ([]byte, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM histories WHERE session_id = ?`, sessionID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("store.LoadHistory", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load history %s: %v", domain.ErrRecordStore, sessionID, err)
	}
	plain, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}

// DeleteHistory returns ErrSessionNotFound when no row matched.
func (s *SQLiteStore) DeleteHistory(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM histories WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete history %s: %v", domain.ErrRecordStore, sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("store.DeleteHistory", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

// HistorySessions lists the session ids with a stored history.
func (s *SQLiteStore) HistorySessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM histories ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list histories: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan history id: %v", domain.ErrRecordStore, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
