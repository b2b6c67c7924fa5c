package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/tracer"
)

var _ domain.AuditLogger = (*FileAuditLogger)(nil)

// FileAuditLogger implements domain.AuditLogger by writing JSONL to a file.
type FileAuditLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileAuditLogger creates an audit logger that appends to the given path.
// The file is created with 0600 permissions if it does not exist.
func NewFileAuditLogger(path string) (*FileAuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditLogger{file: f, path: path}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// Log writes an audit event as a single JSON line.
func (a *FileAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	// Also emit as OTel span event if a span is active
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, len(event.Detail)+2)
		attrs = append(attrs, tracer.StringAttr("audit.actor", event.Actor), tracer.StringAttr("audit.resource", event.Resource))
		for k, v := range event.Detail {
			attrs = append(attrs, tracer.StringAttr("audit."+k, v))
		}
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(attrs...))
	}
	return nil
}

// Close closes the audit log file.
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// EnforceRetention rewrites the log keeping only entries newer than maxAge.
// Lines without a parseable timestamp are kept. A zero maxAge is a no-op.
func (a *FileAuditLogger) EnforceRetention(maxAge time.Duration) (removed int, err error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	// The handle is reopened whatever happens below.
	defer func() {
		f, openErr := openAppend(a.path)
		if openErr != nil && err == nil {
			err = fmt.Errorf("reopen after retention: %w", openErr)
		}
		a.file = f
	}()

	in, err := os.Open(a.path)
	if err != nil {
		return 0, fmt.Errorf("open for reading: %w", err)
	}
	var kept [][]byte
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(line, &entry) == nil && !entry.Timestamp.IsZero() && entry.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	in.Close()
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan audit log: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return removed, nil
}

// SubscribeAudit records session lifecycle and tool calls from bus into
// audit. Write failures are logged, never propagated to the publisher.
func SubscribeAudit(bus domain.EventBus, audit domain.AuditLogger, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		entry, ok := auditEntry(ev)
		if !ok {
			return
		}
		if err := audit.Log(ctx, entry); err != nil {
			logger.Warn("audit write failed", "type", entry.Type, "error", err)
		}
	})
}

// auditEntry maps a bus event to an audit entry. Only session lifecycle and
// tool call events are audited.
func auditEntry(ev domain.Event) (domain.AuditEvent, bool) {
	entry := domain.AuditEvent{
		Timestamp: ev.Timestamp.UTC(),
		Resource:  "session/" + ev.SessionID,
		Outcome:   "success",
	}
	switch ev.Type {
	case domain.EventSessionCreated:
		entry.Type = domain.AuditSessionCreate
		entry.Action = "create"
	case domain.EventSessionDeleted:
		entry.Type = domain.AuditSessionDelete
		entry.Action = "delete"
	case domain.EventToolCallCompleted:
		var p domain.ToolCallPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return domain.AuditEvent{}, false
		}
		entry.Type = domain.AuditToolExec
		entry.Actor = p.Specialist
		entry.Action = p.Tool
		entry.Detail = map[string]string{"session": ev.SessionID}
		entry.Resource = "tool/" + p.Tool
		if p.IsError {
			entry.Outcome = "error"
		}
	default:
		return domain.AuditEvent{}, false
	}
	return entry, true
}
