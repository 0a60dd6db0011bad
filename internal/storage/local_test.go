package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		tempDir := filepath.Join(os.TempDir(), "mediagen_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(tempDir) }()

		storage, err := NewLocalStorage(tempDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}

		info, err := os.Stat(storage.MediaDir())
		if err != nil {
			t.Fatalf("media directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "mediagen")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		ctx := context.Background()

		path, err := storage.SaveTemp(ctx, "download", bytes.NewReader([]byte("video bytes")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(filepath.Base(path), "download_") {
			t.Errorf("path %s should contain 'download_'", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "video bytes" {
			t.Errorf("got %q, want %q", string(content), "video bytes")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		if err := storage.CleanupTemp(ctx, paths); err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		if err := storage.CleanupTemp(ctx, []string{"/non/existent/file"}); err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_PublishAndRemove(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	src, err := storage.SaveTemp(ctx, "result", bytes.NewReader([]byte("png bytes")))
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}

	ref, err := storage.Publish(ctx, "images/abc.png", src)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if want := filepath.Join(storage.MediaDir(), "images", "abc.png"); ref != want {
		t.Errorf("ref = %v, want %v", ref, want)
	}
	content, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("failed to read published file: %v", err)
	}
	if string(content) != "png bytes" {
		t.Errorf("got %q, want %q", string(content), "png bytes")
	}

	if err := storage.Remove(ctx, ref); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("file %s still exists", ref)
	}

	if err := storage.Remove(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestLocalStorage_RejectsForeignPaths(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	src, err := storage.SaveTemp(ctx, "result", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}

	for _, key := range []string{"", "../escape.mp4", "a/../../escape.mp4"} {
		if _, err := storage.Publish(ctx, key, src); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Publish(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}

	// Temp files are outside the media directory and cannot be removed through Remove.
	if err := storage.Remove(ctx, src); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign path, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("temp file should still exist: %v", err)
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "mediagen_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	storage, err := NewLocalStorage(tempDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
