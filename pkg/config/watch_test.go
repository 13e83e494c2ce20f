package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  max_pending: 12\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped.
	if err := os.WriteFile(path, []byte("queue:\n  min_pending: 50\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	select {
	case c := <-changes:
		t.Fatalf("Invalid config should not be delivered, got %+v", c.Queue)
	default:
	}

	if err := os.WriteFile(path, []byte("queue:\n  max_pending: 24\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Queue.MaxPending != 24 {
			t.Errorf("Expected reloaded max_pending 24, got %d", c.Queue.MaxPending)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent", "config.yaml"), func(*Config) {})
	if err == nil {
		t.Fatal("Expected error watching a missing directory")
	}
}
