package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// Suitable for development and testing; use PostgresRepository to keep the
// catalog across restarts.
type MemoryRepository struct {
	mu      sync.RWMutex
	caps    Caps
	records map[string]entry
	seq     uint64
	now     func() time.Time
}

// entry orders records saved within the same timestamp.
type entry struct {
	rec Record
	seq uint64
}

// NewMemoryRepository creates an in-memory catalog with the given caps.
func NewMemoryRepository(caps Caps) *MemoryRepository {
	return &MemoryRepository{
		caps:    caps,
		records: make(map[string]entry),
		now:     time.Now,
	}
}

// Save stores rec and evicts the oldest records of its kind beyond the cap.
func (r *MemoryRepository) Save(_ context.Context, rec Record) ([]Record, error) {
	rec, err := prepare(rec, r.now())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.records[rec.ID] = entry{rec: rec, seq: r.seq}

	limit := r.caps.limit(rec.IsVideo)
	if limit <= 0 {
		return nil, nil
	}

	kind := KindImage
	if rec.IsVideo {
		kind = KindVideo
	}
	same := r.sorted(kind)
	if len(same) <= limit {
		return nil, nil
	}

	excess := same[limit:]
	evicted := make([]Record, 0, len(excess))
	// Oldest first.
	for i := len(excess) - 1; i >= 0; i-- {
		delete(r.records, excess[i].rec.ID)
		evicted = append(evicted, excess[i].rec)
	}
	return evicted, nil
}

// Get returns a record by ID.
func (r *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

// List returns records of kind, newest first.
func (r *MemoryRepository) List(_ context.Context, kind Kind, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.sorted(kind)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out, nil
}

// Delete removes a record.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

// sorted returns the entries matching kind, newest first.
// Callers must hold r.mu.
func (r *MemoryRepository) sorted(kind Kind) []entry {
	out := make([]entry, 0, len(r.records))
	for _, e := range r.records {
		if kind.matches(e.rec.IsVideo) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].rec.Timestamp.Equal(out[j].rec.Timestamp) {
			return out[i].rec.Timestamp.After(out[j].rec.Timestamp)
		}
		return out[i].seq > out[j].seq
	})
	return out
}
