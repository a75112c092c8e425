package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"curator/internal/config"
	"curator/internal/document"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	WriteText(t, path, string(buf))
}

// WriteText writes content to path, creating parent directories. The
// modification time is pushed forward so back-to-back writes are always
// observed as changes.
func WriteText(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var prev time.Time
	if st, err := os.Stat(path); err == nil {
		prev = st.ModTime()
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if !prev.IsZero() {
		next := prev.Add(time.Second)
		if err := os.Chtimes(path, next, next); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

// AssetSpec describes a test asset and its sidecar.
type AssetSpec struct {
	// ID is generated when nil.
	ID           uuid.UUID
	Content      string
	Type         string
	Dependencies []string
	References   []string
	Settings     map[string]any
}

// WriteAsset creates an asset file under the first data directory together
// with its sidecar and returns the asset's id and absolute path.
func WriteAsset(t testing.TB, cfg *config.Config, rel string, def AssetSpec) (uuid.UUID, string) {
	t.Helper()

	path := filepath.Join(DataDir(cfg), filepath.FromSlash(rel))
	content := def.Content
	if content == "" {
		content = rel
	}
	WriteText(t, path, content)
	id := def.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	sc := document.Sidecar{
		ID:           id.String(),
		Type:         def.Type,
		Version:      document.CurrentVersion,
		Dependencies: def.Dependencies,
		References:   def.References,
		Settings:     def.Settings,
	}
	if err := document.Write(document.Path(path, cfg.Scanner.SidecarExtension), sc); err != nil {
		t.Fatalf("write sidecar for %s: %v", rel, err)
	}
	return id, path
}
