package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/usecase"
)

// ExportHistory serialises the thread as a versioned snapshot. A session
// without a thread exports an empty message list.
func (o *Orchestrator) ExportHistory() ([]byte, error) {
	o.mu.Lock()
	snap := domain.HistorySnapshot{
		Version:    domain.HistorySnapshotVersion,
		Messages:   []domain.Message{},
		ExportedAt: time.Now().UTC(),
	}
	if o.thread != nil {
		snap.ThreadID = o.thread.ID()
		snap.Messages = o.thread.Messages()
	}
	o.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, domain.WrapOp("Orchestrator.ExportHistory", err)
	}
	return data, nil
}

// LoadHistory installs a new thread holding the messages of blob, trimmed to
// the history cap and with broken tool chains repaired. A blob that cannot
// be decoded leaves the session with an empty thread. Both a snapshot object
// and a bare message array are accepted.
func (o *Orchestrator) LoadHistory(blob []byte) {
	msgs, err := decodeHistory(blob)
	if err != nil {
		o.logger.Warn("history load failed, starting empty", "error", err)
		o.Reset()
		return
	}

	trimmed, err := usecase.TrimHistory(msgs, o.historyCap)
	if err != nil {
		o.logger.Warn("history trim failed, keeping full history", "error", err, "messages", len(msgs))
	}
	trimmed = usecase.RepairTranscript(trimmed)

	thread := o.coordinator.NewThread()
	thread.Replace(trimmed)

	o.mu.Lock()
	o.thread = thread
	o.mu.Unlock()
	o.logger.Debug("history loaded", "messages", len(trimmed), "dropped", len(msgs)-len(trimmed))
}

func decodeHistory(blob []byte) ([]domain.Message, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) > 0 && blob[0] == '[' {
		var msgs []domain.Message
		if err := json.Unmarshal(blob, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrHistoryDecode, err)
		}
		return msgs, nil
	}

	var snap domain.HistorySnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrHistoryDecode, err)
	}
	if snap.Version > domain.HistorySnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", domain.ErrHistoryDecode, snap.Version)
	}
	return snap.Messages, nil
}
