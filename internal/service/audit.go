package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEntry is one structured admission-lifecycle record: a terminal error,
// or a significant step outcome (capacity check, increment, session creation,
// rollback, conflict).
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Op      string    `json:"op,omitempty"`
	CodeID  uuid.UUID `json:"code_id,omitempty"`
	Message string    `json:"message,omitempty"`
	Current int       `json:"current,omitempty"`
	Max     int       `json:"max,omitempty"`
}

const defaultAuditCapacity = 1024

// AuditLog keeps a bounded append-only ring of admission events, queryable by
// time window, kind, or code id. Every record is also emitted through zap.
// One instance per process, injected where needed; Clear is privileged.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
	next    int
	full    bool
	logger  *zap.Logger
}

func NewAuditLog(logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{
		entries: make([]AuditEntry, defaultAuditCapacity),
		logger:  logger,
	}
}

func (l *AuditLog) Record(entry AuditEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event", entry.Event),
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", string(entry.Kind)))
	}
	if entry.Op != "" {
		fields = append(fields, zap.String("op", entry.Op))
	}
	if entry.CodeID != uuid.Nil {
		fields = append(fields, zap.String("code_id", entry.CodeID.String()))
	}
	if entry.Max > 0 {
		fields = append(fields, zap.Int("current", entry.Current), zap.Int("max", entry.Max))
	}
	if entry.Kind != "" {
		l.logger.Warn(entry.Message, fields...)
	} else {
		l.logger.Info(entry.Message, fields...)
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
	l.mu.Unlock()
}

// RecordError records a terminal admission error.
func (l *AuditLog) RecordError(err *AdmissionError) {
	l.Record(AuditEntry{
		Event:   "admission_error",
		Kind:    err.Kind,
		Op:      err.Op,
		CodeID:  err.CodeID,
		Message: err.Error(),
		Current: err.Current,
		Max:     err.Max,
	})
}

// snapshotLocked returns entries oldest-first. Caller holds at least RLock.
func (l *AuditLog) snapshotLocked() []AuditEntry {
	if !l.full {
		out := make([]AuditEntry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]AuditEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Recent returns up to n newest entries, newest first.
func (l *AuditLog) Recent(n int) []AuditEntry {
	l.mu.RLock()
	all := l.snapshotLocked()
	l.mu.RUnlock()

	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

// Query filters entries by optional window, kind, and code id.
func (l *AuditLog) Query(since, until time.Time, kind ErrorKind, codeID uuid.UUID) []AuditEntry {
	l.mu.RLock()
	all := l.snapshotLocked()
	l.mu.RUnlock()

	out := make([]AuditEntry, 0, len(all))
	for _, e := range all {
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if !until.IsZero() && e.Time.After(until) {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		if codeID != uuid.Nil && e.CodeID != codeID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Stats counts recorded errors by kind.
func (l *AuditLog) Stats() map[ErrorKind]int {
	l.mu.RLock()
	all := l.snapshotLocked()
	l.mu.RUnlock()

	stats := make(map[ErrorKind]int)
	for _, e := range all {
		if e.Kind != "" {
			stats[e.Kind]++
		}
	}
	return stats
}

// Clear drops every entry. Operator action.
func (l *AuditLog) Clear() {
	l.mu.Lock()
	l.entries = make([]AuditEntry, defaultAuditCapacity)
	l.next = 0
	l.full = false
	l.mu.Unlock()
}
