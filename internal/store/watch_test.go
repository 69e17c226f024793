package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherNotifiesOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	changed := make(chan struct{}, 8)
	w := NewWatcher(path, 20*time.Millisecond, func() { changed <- struct{}{} }, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	if err := NewFileStore(path).Save(context.Background(), &Rules{Blocked: []string{"gcloud"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	changed := make(chan struct{}, 8)
	w := NewWatcher(path, 20*time.Millisecond, func() { changed <- struct{}{} }, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("unexpected notification for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "rules.json"), 0, func() {}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
