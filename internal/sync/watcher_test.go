package sync

import (
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher(time.Millisecond, nil)
	require.Error(t, err)
}

func TestWatcherReportsChangedFiles(t *testing.T) {
	dir := t.TempDir()

	var mu gosync.Mutex
	var got []string
	w, err := NewWatcher(10*time.Millisecond, func(paths []string) {
		mu.Lock()
		got = append(got, paths...)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Stop()

	watched, failed, err := w.WatchRecursive(dir)
	require.NoError(t, err)
	require.Equal(t, 1, watched)
	require.Zero(t, failed)

	w.Start()

	path := filepath.Join(dir, "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range got {
			if p == path {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := NewWatcher(time.Millisecond, func([]string) {})
	require.NoError(t, err)

	// Must return even though no loop ever ran, and stay
	// idempotent afterwards.
	w.Stop()
	w.Stop()
}

func TestWatcherDebounceHoldsHotFiles(t *testing.T) {
	w, err := NewWatcher(time.Hour, func([]string) {
		t.Error("flush fired before debounce elapsed")
	})
	require.NoError(t, err)
	defer w.Stop()

	w.mu.Lock()
	w.pending["/x"] = w.now()
	w.mu.Unlock()

	w.flush()

	w.mu.Lock()
	_, still := w.pending["/x"]
	w.mu.Unlock()
	require.True(t, still)
}
