package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo creates a simple test video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64, width, height int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=blue:s=%dx%d:d=%.1f", width, height, duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

// createTestImage creates a simple test image using ffmpeg.
func createTestImage(t *testing.T, path string, width, height int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=red:s=%dx%d:d=1", width, height),
		"-frames:v", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test image: %v\noutput: %s", err, output)
	}
}

func TestNewFFprobe(t *testing.T) {
	if p := NewFFprobe(""); p.ffprobePath != "ffprobe" {
		t.Errorf("expected default path ffprobe, got %q", p.ffprobePath)
	}
	if p := NewFFprobe("/opt/bin/ffprobe"); p.ffprobePath != "/opt/bin/ffprobe" {
		t.Errorf("expected custom path, got %q", p.ffprobePath)
	}
}

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Info
		wantErr error
	}{
		{
			name:  "video",
			input: `{"programs":[],"streams":[{"width":1280,"height":720}],"format":{"duration":"8.041667"}}`,
			want:  Info{Width: 1280, Height: 720, DurationSeconds: 8.041667},
		},
		{
			name:  "image without duration",
			input: `{"streams":[{"width":1024,"height":1024}],"format":{}}`,
			want:  Info{Width: 1024, Height: 1024},
		},
		{
			name:  "duration not available",
			input: `{"streams":[{"width":64,"height":32}],"format":{"duration":"N/A"}}`,
			want:  Info{Width: 64, Height: 32},
		},
		{
			name:    "audio only",
			input:   `{"streams":[],"format":{"duration":"3.0"}}`,
			wantErr: ErrNoVideoStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeOutput([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestProbe(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	ctx := context.Background()
	p := NewFFprobe("")

	t.Run("video", func(t *testing.T) {
		path := filepath.Join(dir, "clip.mp4")
		createTestVideo(t, path, 2.0, 128, 72)

		info, err := p.Probe(ctx, path)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if info.Width != 128 || info.Height != 72 {
			t.Errorf("expected 128x72, got %dx%d", info.Width, info.Height)
		}
		if info.DurationSeconds < 1.5 || info.DurationSeconds > 2.5 {
			t.Errorf("expected duration ~2s, got %f", info.DurationSeconds)
		}
	})

	t.Run("image", func(t *testing.T) {
		path := filepath.Join(dir, "still.png")
		createTestImage(t, path, 40, 30)

		info, err := p.Probe(ctx, path)
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if info.Width != 40 || info.Height != 30 {
			t.Errorf("expected 40x30, got %dx%d", info.Width, info.Height)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := p.Probe(ctx, filepath.Join(dir, "missing.mp4"))
		if !errors.Is(err, ErrFFprobeExecution) {
			t.Errorf("expected ErrFFprobeExecution, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		time.Sleep(time.Millisecond)

		if _, err := p.Probe(ctx, filepath.Join(dir, "clip.mp4")); err == nil {
			t.Error("expected error when context is cancelled")
		}
	})
}

func TestFFprobeError(t *testing.T) {
	err := &FFprobeError{
		Args:   []string{"-v", "error", "input.mp4"},
		Stderr: "input.mp4: No such file or directory",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "No such file or directory") {
		t.Error("Error() should contain stderr")
	}
	if !errors.Is(err, ErrFFprobeExecution) {
		t.Error("expected errors.Is to match ErrFFprobeExecution")
	}
	if unwrapped := err.Unwrap(); unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}
