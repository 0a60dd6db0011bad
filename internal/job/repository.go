package job

import (
	"context"
	"errors"
	"slices"

	"github.com/maauso/mediagen-api/internal/provider"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Filter narrows a job listing. Zero fields match everything.
type Filter struct {
	// Statuses keeps jobs in any of the given states.
	Statuses []Status
	// Model keeps jobs for one provider model id.
	Model string
	// Kind keeps jobs producing one media kind.
	Kind provider.Kind
	// Limit caps the result size; zero means no cap.
	Limit int
}

// Matches reports whether j passes every set field of f. Limit is ignored.
func (f Filter) Matches(j *Job) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	if f.Model != "" && j.Model != f.Model {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	return true
}

// Repository stores generation jobs.
type Repository interface {
	// Save inserts or replaces a job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns the jobs matching filter, newest first. Jobs created at
	// the same instant keep their insertion order, latest first.
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// Delete returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
