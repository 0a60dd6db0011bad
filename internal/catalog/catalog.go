// Package catalog keeps the records of generated media. Each media kind is
// capped; saving past the cap evicts the oldest records of that kind.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Static errors for catalog operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("catalog: invalid record")
	// ErrInvalidKind is returned for an unknown kind filter.
	ErrInvalidKind = errors.New("catalog: invalid kind")
)

// Default per-kind caps.
const (
	DefaultImageCap = 50
	DefaultVideoCap = 20
)

// Kind filters records by media kind. KindAll matches both.
type Kind string

const (
	KindAll   Kind = ""
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ParseKind parses a kind filter. An empty string means KindAll.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAll, KindImage, KindVideo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

func (k Kind) matches(isVideo bool) bool {
	switch k {
	case KindImage:
		return !isVideo
	case KindVideo:
		return isVideo
	default:
		return true
	}
}

// Record is a generated media item.
type Record struct {
	ID              string
	JobID           string
	URL             string
	Prompt          string
	Timestamp       time.Time
	IsVideo         bool
	Model           string
	Width           int
	Height          int
	DurationSeconds float64
	// IsLocalRef is true when URL points at the local media archive rather
	// than a remote URL.
	IsLocalRef bool
}

// Caps limits how many records of each kind are kept. A non-positive cap
// disables eviction for that kind.
type Caps struct {
	Image int
	Video int
}

// DefaultCaps returns the default per-kind caps.
func DefaultCaps() Caps {
	return Caps{Image: DefaultImageCap, Video: DefaultVideoCap}
}

func (c Caps) limit(isVideo bool) int {
	if isVideo {
		return c.Video
	}
	return c.Image
}

// Repository defines the interface for record persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Save stores a record, creating or replacing it, and returns the records
	// evicted to keep its kind within the cap, oldest first.
	Save(ctx context.Context, rec Record) ([]Record, error)

	// Get returns a record by ID or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns records of the given kind, newest first. A non-positive
	// limit returns all of them.
	List(ctx context.Context, kind Kind, limit int) ([]Record, error)

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// prepare validates rec and fills its ID and timestamp.
func prepare(rec Record, now time.Time) (Record, error) {
	if rec.URL == "" {
		return Record{}, fmt.Errorf("%w: url is required", ErrInvalidRecord)
	}
	if !rec.IsLocalRef && !strings.HasPrefix(rec.URL, "http") {
		return Record{}, fmt.Errorf("%w: url %q", ErrInvalidRecord, rec.URL)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}
