package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no image or video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// Probe returns the width and height of the first video stream and the
// container duration.
func (p *FFprobe) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, &FFprobeError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return parseProbeOutput(stdout.Bytes())
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return Info{}, ErrNoVideoStream
	}

	info := Info{
		Width:  out.Streams[0].Width,
		Height: out.Streams[0].Height,
	}
	// Still images report no duration, or "N/A".
	if d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64); err == nil && d > 0 {
		info.DurationSeconds = d
	}
	return info, nil
}

// FFprobeError represents an error from running ffprobe, including the stderr output.
type FFprobeError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFprobeError) Error() string {
	return fmt.Sprintf("%v: %v\nargs: %v\nstderr: %s", ErrFFprobeExecution, e.Err, e.Args, e.Stderr)
}

func (e *FFprobeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFFprobeExecution) match.
func (e *FFprobeError) Is(target error) bool {
	return target == ErrFFprobeExecution
}
