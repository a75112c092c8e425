package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"curator/internal/scan"
	"curator/internal/testsupport"
	"curator/internal/watch"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	scans   int
}

func (r *recorder) NotifyFileChange(_ context.Context, path string) error {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
	return nil
}

func (r *recorder) CheckFileSystem(context.Context) error {
	r.mu.Lock()
	r.scans++
	r.mu.Unlock()
	return nil
}

func (r *recorder) saw(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.changed {
		if p == path {
			return true
		}
	}
	return false
}

func (r *recorder) scanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

func startWatcher(t *testing.T) (string, *recorder) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	data := testsupport.DataDir(cfg)
	if err := os.MkdirAll(filepath.Join(data, ".hidden"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	matcher := scan.NewMatcher(scan.Options{
		DataDirs:   cfg.Paths.DataDirs,
		SidecarExt: cfg.Scanner.SidecarExtension,
		Types:      cfg.Descriptors(),
	})
	rec := &recorder{}
	w := watch.New(matcher, rec, 20*time.Millisecond, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(w.Stop)
	return data, rec
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherDeliversFileChanges(t *testing.T) {
	data, rec := startWatcher(t)
	path := filepath.Join(data, "rock.png")
	testsupport.WriteText(t, path, "pixels")

	eventually(t, func() bool { return rec.saw(path) }, "write was not delivered")
}

func TestWatcherIgnoresHiddenDirectories(t *testing.T) {
	data, rec := startWatcher(t)
	hidden := filepath.Join(data, ".hidden", "x.png")
	visible := filepath.Join(data, "y.png")
	testsupport.WriteText(t, hidden, "a")
	testsupport.WriteText(t, visible, "b")

	eventually(t, func() bool { return rec.saw(visible) }, "visible write not delivered")
	if rec.saw(hidden) {
		t.Fatal("hidden file change must not be delivered")
	}
}

func TestWatcherRescansNewDirectories(t *testing.T) {
	data, rec := startWatcher(t)
	if err := os.MkdirAll(filepath.Join(data, "props"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	eventually(t, func() bool { return rec.scanCount() > 0 }, "new directory did not trigger a rescan")

	nested := filepath.Join(data, "props", "crate.obj")
	testsupport.WriteText(t, nested, "mesh")
	eventually(t, func() bool { return rec.saw(nested) }, "change inside new directory not delivered")
}
