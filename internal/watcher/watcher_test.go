package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect gathers handler batches.
type collect struct {
	mu    sync.Mutex
	paths []string
}

func (c *collect) handler(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, paths...)
}

func (c *collect) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestWatcher_ReportsNewBookFile(t *testing.T) {
	dir := t.TempDir()
	got := &collect{}

	w := New(dir, 50*time.Millisecond, got.handler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "new-book.txt")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0644))

	require.Eventually(t, func() bool {
		for _, p := range got.snapshot() {
			if p == path {
				return true
			}
		}
		return false
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	<-done
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	got := &collect{}

	w := New(dir, 50*time.Millisecond, got.handler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("x"), 0644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, got.snapshot())

	cancel()
	<-done
}

func TestWatcher_DebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	got := &collect{}

	w := New(dir, 100*time.Millisecond, got.handler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "copying.epub")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("partial"), 0644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(got.snapshot()) > 0
	}, 3*time.Second, 25*time.Millisecond)

	// All the write events collapsed into a single report.
	assert.Equal(t, []string{path}, got.snapshot())

	cancel()
	<-done
}
