package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	if err := os.Mkdir(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	if r := CheckReadableDirectory("data", dir); !r.Passed {
		t.Fatalf("read-only dir should pass readable check: %s", r.Detail)
	}
	if r := CheckDirectoryAccess("data", dir); r.Passed {
		t.Fatal("read-only dir should fail read/write check")
	}
}

func TestCheckProjectFile(t *testing.T) {
	dir := t.TempDir()
	if r := CheckProjectFile(dir); r.Passed {
		t.Fatal("directory should not pass as project file")
	}
	file := filepath.Join(dir, "game.project")
	if err := os.WriteFile(file, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckProjectFile(file); !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Detail)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDirs = []string{filepath.Join(base, "data")}
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.OutputDir = filepath.Join(base, "cache", "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workers.Binary = "sh"
	for _, dir := range []string{cfg.Paths.DataDirs[0], cfg.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &cfg
}

func TestRunAllPassesWithReadyEnvironment(t *testing.T) {
	cfg := testConfig(t)
	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAllReportsMissingWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.Binary = "definitely-not-a-curator-worker"
	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 1 || failed[0].Name != "Worker" {
		t.Fatalf("expected worker failure, got %+v", failed)
	}
}

func TestRunAllMissingDataDirIsOptional(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.DataDirs = []string{filepath.Join(t.TempDir(), "offline-share")}
	results := RunAll(context.Background(), cfg)
	if results[0].Passed || !results[0].Optional {
		t.Fatalf("expected optional data dir failure, got %+v", results[0])
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("optional failures should not count: %+v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if got := RunAll(context.Background(), nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
