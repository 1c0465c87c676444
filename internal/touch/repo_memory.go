package touch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-memory touch queue useful for tests and early development.
// The mutex stands in for the database's single-statement atomicity: Claim
// performs the same compare-and-swap the Postgres repo does, so racing
// dispatchers hit the same "only one wins" semantics.
//
// NOTE: This is not intended for production; use Repo against Postgres.
type MemoryQueue struct {
	mu   sync.Mutex
	runs map[string]*TouchRun
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{runs: make(map[string]*TouchRun)}
}

func (m *MemoryQueue) Insert(ctx context.Context, run TouchRun) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryQueue) FetchDue(ctx context.Context, now time.Time, limit int) ([]TouchRun, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []TouchRun
	for _, r := range m.runs {
		if r.Status == StatusQueued && !r.ScheduledAt.After(now) {
			due = append(due, *r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryQueue) Claim(ctx context.Context, ids []string, now time.Time) ([]TouchRun, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []TouchRun
	for _, id := range ids {
		r, ok := m.runs[id]
		if !ok {
			continue
		}
		if r.Status != StatusQueued || r.ScheduledAt.After(now) {
			continue
		}
		r.Status = StatusExecuting
		t := now
		r.ExecutedAt = &t
		r.UpdatedAt = now
		claimed = append(claimed, *r)
	}
	return claimed, nil
}

func (m *MemoryQueue) MarkSent(ctx context.Context, id string, sentAt time.Time, execMS int64, meta map[string]any) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusSent
	t := sentAt
	r.SentAt = &t
	r.ExecutionMS = execMS
	r.Meta = mergeMeta(r.Meta, meta)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryQueue) MarkCanceled(ctx context.Context, id string, execMS int64, meta map[string]any) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusCanceled
	r.SentAt = nil
	r.ExecutionMS = execMS
	r.Meta = mergeMeta(r.Meta, meta)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryQueue) MarkFailed(ctx context.Context, id string, errMsg string, execMS int64, meta map[string]any) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusFailed
	r.Error = errMsg
	r.ExecutionMS = execMS
	r.Meta = mergeMeta(r.Meta, meta)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryQueue) Get(ctx context.Context, id string) (TouchRun, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return TouchRun{}, ErrNotFound
	}
	return *r, nil
}

// mergeMeta appends new keys over existing ones without dropping prior trace
// entries; the stored map is replaced by a fresh merged copy.
func mergeMeta(existing, add map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(add))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}
