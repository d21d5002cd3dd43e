package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps file records in process memory. It satisfies the same
// contract as Repository and is meant for development and tests; nothing
// survives a restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*FileRecord
	nextID  int64
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*FileRecord)}
}

func (m *MemoryRepository) Create(_ context.Context, rec *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.Token]; exists {
		return ErrTokenConflict
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	m.nextID++
	rec.ID = m.nextID
	rec.DownloadsCount = 0
	rec.ExhaustedAt = nil
	m.records[rec.Token] = clone(rec)
	return nil
}

func (m *MemoryRepository) GetByToken(_ context.Context, token string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[token]
	if !ok {
		return nil, ErrFileNotFound
	}
	return clone(rec), nil
}

func (m *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*FileRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			out = append(out, clone(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// IncrementDownloads holds the write lock across the expiry check and the
// increment.
func (m *MemoryRepository) IncrementDownloads(_ context.Context, token string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[token]
	if !ok {
		return 0, ErrFileNotFound
	}
	if rec.Expired(now) {
		return 0, ErrPolicyExhausted
	}

	rec.DownloadsCount++
	if rec.LimitReached() {
		t := now
		rec.ExhaustedAt = &t
	}
	return rec.DownloadsCount, nil
}

func (m *MemoryRepository) UpdatePolicy(_ context.Context, token string, p Policy, now time.Time) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[token]
	if !ok {
		return nil, ErrFileNotFound
	}
	if p.MaxDownloads != nil && rec.DownloadsCount > *p.MaxDownloads {
		return nil, ErrQuotaBelowUsage
	}

	rec.PasswordHash = copyPtr(p.PasswordHash)
	rec.ExpiresAt = copyPtr(p.ExpiresAt)
	rec.MaxDownloads = copyPtr(p.MaxDownloads)
	switch {
	case !rec.LimitReached():
		rec.ExhaustedAt = nil
	case rec.ExhaustedAt == nil:
		t := now
		rec.ExhaustedAt = &t
	}
	return clone(rec), nil
}

func (m *MemoryRepository) TransferOwner(_ context.Context, fromOwner, toOwner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.OwnerID == fromOwner {
			rec.OwnerID = toOwner
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[token]; !ok {
		return ErrFileNotFound
	}
	delete(m.records, token)
	return nil
}

func (m *MemoryRepository) GetExpired(_ context.Context, cutoff time.Time) ([]*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*FileRecord
	for _, rec := range m.records {
		ttlDone := rec.ExpiresAt != nil && !rec.ExpiresAt.After(cutoff)
		quotaDone := rec.ExhaustedAt != nil && !rec.ExhaustedAt.After(cutoff)
		if ttlDone || quotaDone {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (m *MemoryRepository) GetStats(_ context.Context, now time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{}
	for _, rec := range m.records {
		stats.TotalFiles++
		if !rec.Expired(now) {
			stats.ActiveFiles++
		}
		stats.TotalDownloads += int64(rec.DownloadsCount)
		stats.StorageUsed += rec.Size
	}
	return stats, nil
}

// HealthCheck always succeeds.
func (m *MemoryRepository) HealthCheck(context.Context) error {
	return nil
}

func clone(rec *FileRecord) *FileRecord {
	c := *rec
	c.PasswordHash = copyPtr(rec.PasswordHash)
	c.ExpiresAt = copyPtr(rec.ExpiresAt)
	c.MaxDownloads = copyPtr(rec.MaxDownloads)
	c.ExhaustedAt = copyPtr(rec.ExhaustedAt)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
