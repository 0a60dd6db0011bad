// Package media inspects generated media files.
package media

import "context"

// Info describes a media file. DurationSeconds is zero for still images.
type Info struct {
	Width           int
	Height          int
	DurationSeconds float64
}

// Prober reads the dimensions and duration of a media file.
// Implementations should use ffprobe or similar tools.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}
