package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestWatchReloadsAgents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibe.yaml")
	if err := os.WriteFile(path, []byte("agents:\n  - name: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	diffs := make(chan ConfigDiff, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, cfg, func(_, _ *Config, d ConfigDiff) {
			diffs <- d
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("agents:\n  - name: a\n  - name: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-diffs:
		if !slices.Equal(d.AgentsAdded, []string{"b"}) {
			t.Errorf("expected b added, got %v", d.AgentsAdded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned %v", err)
	}
}
