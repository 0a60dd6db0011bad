package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps jobs in process memory. Jobs do not survive a
// restart; the media catalog is the durable record of finished work.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]stored
	seq  uint64
}

// stored pairs a job snapshot with its insertion order.
type stored struct {
	job *Job
	seq uint64
}

// NewMemoryRepository creates an empty job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]stored),
	}
}

// Save stores a snapshot of job. Replacing a job keeps its original
// insertion order.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.jobs[job.ID].seq
	if seq == 0 {
		r.seq++
		seq = r.seq
	}
	r.jobs[job.ID] = stored{job: job.Clone(), seq: seq}
	return nil
}

// FindByID returns a snapshot of the job.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return s.job.Clone(), nil
}

// List returns snapshots of the jobs matching filter, newest first.
func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]*Job, error) {
	r.mu.RLock()
	matched := make([]stored, 0, len(r.jobs))
	for _, s := range r.jobs {
		if filter.Matches(s.job) {
			matched = append(matched, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.After(b.job.CreatedAt)
		}
		return a.seq > b.seq
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*Job, len(matched))
	for i, s := range matched {
		out[i] = s.job.Clone()
	}
	return out, nil
}

// Delete removes a job.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
