package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxedit/internal/config"
)

const updatedDefinitions = minimalDefinitions + `        - {phrases: [halt], effect: stop}
`

const invalidDefinitions = `
contexts:
  - name: speech
    tokens: [{type: word, match: 'a*'}]
    spacing: [{space: true}]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	writeFile(t, path, minimalDefinitions)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	d := w.Current()
	if d == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if !d.Grammar.IsCommandWord("stop") {
		t.Error("initial definitions lack stop")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	writeFile(t, path, minimalDefinitions)

	var mu sync.Mutex
	var gotOld, gotNew *config.Definitions
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(path, func(old, new *config.Definitions) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, updatedDefinitions)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld == nil || gotNew == nil {
		t.Fatal("callback received nil definitions")
	}
	if gotOld.Grammar.IsCommandWord("halt") {
		t.Error("old definitions already know halt")
	}
	if !gotNew.Grammar.IsCommandWord("halt") {
		t.Error("new definitions lack halt")
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the reloaded definitions")
	}
}

func TestWatcher_InvalidFileKeepsOldDefinitions(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	writeFile(t, path, minimalDefinitions)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(path, func(_, _ *config.Definitions) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()
	before := w.Current()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, invalidDefinitions)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid definitions, got %d calls", calls)
	}
	if w.Current() != before {
		t.Error("Current() changed after an invalid write")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/defs.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	writeFile(t, path, minimalDefinitions)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	writeFile(t, path, minimalDefinitions)

	var mu sync.Mutex
	calls := 0
	w, err := config.NewWatcher(path, func(_, _ *config.Definitions) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
