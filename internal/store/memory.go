package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps records in process. Used by tests and single-binary runs.
type Memory struct {
	mu      sync.Mutex
	records map[int64]WorkRecord
	nextID  int64
	audit   []AuditEntry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[int64]WorkRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(ctx context.Context) (WorkRecord, error) {
	if err := ctx.Err(); err != nil {
		return WorkRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := WorkRecord{ID: m.nextID, CreatedAt: m.now()}
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *Memory) Find(ctx context.Context, id int64) (WorkRecord, error) {
	if err := ctx.Err(); err != nil {
		return WorkRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return WorkRecord{}, notFound(id)
	}
	return rec, nil
}

func (m *Memory) Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error) {
	if err := ctx.Err(); err != nil {
		return WorkRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return WorkRecord{}, notFound(id)
	}
	if rec.Completed() {
		return rec, nil
	}
	at := completedAt.UTC()
	rec.Result = result
	rec.CompletedAt = &at
	m.records[id] = rec
	return rec, nil
}

func (m *Memory) Append(ctx context.Context, message string) (AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return AuditEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := AuditEntry{
		ID:        int64(len(m.audit) + 1),
		Message:   message,
		CreatedAt: m.now(),
	}
	m.audit = append(m.audit, entry)
	return entry, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, 0, min(limit, len(m.audit)))
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
