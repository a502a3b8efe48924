package job

import (
	"context"
	"sort"
	"sync"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

// Store persists records. Finish and Delete enforce the status machine:
// Finish only applies to a running record and Delete only to a terminal one,
// otherwise they return ErrInvalidTransition. Unknown ids yield ErrNotFound.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Finish(ctx context.Context, rec *Record) error
	// Get matches either the record id or its correlation id.
	Get(ctx context.Context, id string) (*Record, error)
	Latest(ctx context.Context, settingsID string) (*Record, error)
	Running(ctx context.Context, correlationID string) ([]*Record, error)
	List(ctx context.Context, skip, limit int64) ([]*Record, int64, error)
	Stats(ctx context.Context) (Stats, error)
	Delete(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func clone(rec *Record) *Record {
	out := *rec
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

func (m *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return errors.New("record already exists: " + rec.ID)
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *MemoryStore) Finish(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[rec.ID]
	if !ok {
		return errors.ErrNotFound
	}
	if current.Status != StatusRunning {
		return errors.ErrInvalidTransition
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

// sorted returns records newest first. Callers hold the lock.
func (m *MemoryStore) sorted() []*Record {
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[id]; ok {
		return clone(rec), nil
	}
	for _, rec := range m.sorted() {
		if rec.CorrelationID == id {
			return clone(rec), nil
		}
	}
	return nil, errors.ErrNotFound
}

func (m *MemoryStore) Latest(ctx context.Context, settingsID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.sorted() {
		if rec.SettingsID == settingsID {
			return clone(rec), nil
		}
	}
	return nil, errors.ErrNotFound
}

func (m *MemoryStore) Running(ctx context.Context, correlationID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.sorted() {
		if rec.CorrelationID == correlationID && rec.Status == StatusRunning {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (m *MemoryStore) List(ctx context.Context, skip, limit int64) ([]*Record, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sorted()
	total := int64(len(all))
	if skip >= total {
		return []*Record{}, total, nil
	}
	end := total
	if limit > 0 && skip+limit < total {
		end = skip + limit
	}

	out := make([]*Record, 0, end-skip)
	for _, rec := range all[skip:end] {
		out = append(out, clone(rec))
	}
	return out, total, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, rec := range m.records {
		s.Total++
		s.TotalSize += rec.FileSize
		switch rec.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusRunning:
			s.Running++
		}
	}
	return s, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	if !rec.Status.Terminal() {
		return errors.ErrInvalidTransition
	}
	delete(m.records, id)
	return nil
}
