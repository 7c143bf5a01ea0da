package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 50 * time.Millisecond

type counter struct {
	n atomic.Int32
}

func (c *counter) inc(context.Context) { c.n.Add(1) }

func (c *counter) get() int { return int(c.n.Load()) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, path string, fn func(context.Context)) *Watcher {
	t.Helper()
	w := NewWatcher(path, fn, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all_chunks.json")
	var c counter
	startWatcher(t, path, c.inc)

	for i := 0; i < 5; i++ {
		if err := writeFile(path, "[]"); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return c.get() >= 1 })
	time.Sleep(4 * testDebounce)
	if got := c.get(); got != 1 {
		t.Errorf("callbacks = %d, want 1", got)
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "all_chunks.json")
	var c counter
	startWatcher(t, path, c.inc)

	tmp := filepath.Join(dir, "all_chunks.json.tmp")
	if err := writeFile(tmp, "[]"); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.get() == 1 })
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "all_chunks.json")
	var c counter
	startWatcher(t, path, c.inc)

	if err := writeFile(filepath.Join(dir, "notes.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "all_chunks.json.bak"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(6 * testDebounce)
	if got := c.get(); got != 0 {
		t.Errorf("callbacks = %d, want 0", got)
	}
}

func TestWatcher_NoOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	var mu sync.Mutex
	active, maxActive, calls := 0, 0, 0
	release := make(chan struct{})
	fn := func(context.Context) {
		mu.Lock()
		active++
		calls++
		if active > maxActive {
			maxActive = active
		}
		first := calls == 1
		mu.Unlock()
		if first {
			<-release
		}
		mu.Lock()
		active--
		mu.Unlock()
	}
	startWatcher(t, path, fn)

	if err := writeFile(path, "a"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})
	if err := writeFile(path+"-wal", "b"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	close(release)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", maxActive)
	}
}

func TestWatcher_Start_createsMissingDirectory(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "data", "chunks", "all_chunks.json")
	startWatcher(t, path, nil)
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all_chunks.json")
	w := NewWatcher(path, nil)
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_matches(t *testing.T) {
	w := NewWatcher("/data/chunks.db", nil)
	tests := []struct {
		name string
		want bool
	}{
		{"/data/chunks.db", true},
		{"/data/chunks.db-wal", true},
		{"/data/chunks.db-journal", true},
		{"/data/chunks.db-shm", false},
		{"/data/chunks.dbx", false},
		{"/data/other.db", false},
	}
	for _, tt := range tests {
		if got := w.matches(tt.name); got != tt.want {
			t.Errorf("matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
