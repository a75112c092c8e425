package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"curator/internal/fileutil"
)

func TestHashFileIsStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(a, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	ha, err := fileutil.HashFile(a)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	hb, _ := fileutil.HashFile(b)
	if ha != hb || ha == 0 {
		t.Fatalf("expected equal non-zero hashes, got %x %x", ha, hb)
	}

	if err := os.WriteFile(b, []byte("payload2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if hb2, _ := fileutil.HashFile(b); hb2 == ha {
		t.Fatal("expected hash to change with content")
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := fileutil.HashFile(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "doc.asset")
	if err := fileutil.WriteFileAtomic(target, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := fileutil.WriteFileAtomic(target, []byte("two"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "two" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "out", "dst.bin")
	if err := os.WriteFile(src, []byte("copy me"), 0o644); err != nil {
		t.Fatal(err)
	}
	digest, err := fileutil.CopyFileVerified(src, dst)
	if err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	want, _ := fileutil.HashFile(src)
	if digest != want {
		t.Fatalf("digest mismatch: %x != %x", digest, want)
	}
}
