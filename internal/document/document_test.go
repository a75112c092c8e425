package document_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"curator/internal/document"
)

func TestLoadCreatesMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	assetPath := filepath.Join(dir, "rock.png")
	if err := os.WriteFile(assetPath, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	loader := document.Loader{Extension: ".asset"}

	first, err := loader.Load(assetPath, "texture")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.ID == uuid.Nil || first.Type != "texture" {
		t.Fatalf("unexpected declared info: %+v", first)
	}
	if _, err := os.Stat(assetPath + ".asset"); err != nil {
		t.Fatalf("expected sidecar to be written: %v", err)
	}

	second, err := loader.Load(assetPath, "texture")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed between loads: %s -> %s", first.ID, second.ID)
	}
}

func TestLoadReadsDeclaredLists(t *testing.T) {
	dir := t.TempDir()
	assetPath := filepath.Join(dir, "mesh.obj")
	id := uuid.New()
	sc := document.Sidecar{
		ID:           id.String(),
		Type:         "Mesh",
		Version:      2,
		Dependencies: []string{"mat.mat", " mat.mat ", ""},
		References:   []string{"tex.png"},
		Settings:     map[string]any{"scale": 2.0},
	}
	if err := document.Write(document.Path(assetPath, ".asset"), sc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := document.Loader{Extension: ".asset"}.Load(assetPath, "fallback")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.ID != id || info.Type != "mesh" || info.Version != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(info.Dependencies) != 1 || info.Dependencies[0] != "mat.mat" {
		t.Fatalf("dependencies not cleaned: %v", info.Dependencies)
	}
	if len(info.References) != 1 {
		t.Fatalf("unexpected references: %v", info.References)
	}
}

func TestLoadRejectsBadID(t *testing.T) {
	dir := t.TempDir()
	assetPath := filepath.Join(dir, "bad.mat")
	if err := os.WriteFile(assetPath+".asset", []byte("id = \"nope\"\nversion = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := document.Loader{Extension: ".asset"}.Load(assetPath, "material")
	if !errors.Is(err, document.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestSettingsHashTracksSettings(t *testing.T) {
	a, _ := document.SettingsHash("texture", 1, map[string]any{"srgb": true, "mips": 4})
	b, _ := document.SettingsHash("texture", 1, map[string]any{"mips": 4, "srgb": true})
	c, _ := document.SettingsHash("texture", 1, map[string]any{"mips": 5, "srgb": true})
	d, _ := document.SettingsHash("texture", 2, map[string]any{"mips": 4, "srgb": true})
	if a != b {
		t.Fatal("hash should not depend on map order")
	}
	if a == c || a == d {
		t.Fatal("hash should change with settings and version")
	}
}

func TestReidentifyWritesNewID(t *testing.T) {
	dir := t.TempDir()
	assetPath := filepath.Join(dir, "copy.mat")
	loader := document.Loader{Extension: ".asset"}
	original, err := loader.Load(assetPath, "material")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fresh, err := loader.Reidentify(assetPath)
	if err != nil {
		t.Fatalf("Reidentify: %v", err)
	}
	if fresh == original.ID {
		t.Fatal("expected a new id")
	}
	reloaded, _ := loader.Load(assetPath, "material")
	if reloaded.ID != fresh {
		t.Fatalf("sidecar not updated: %s", reloaded.ID)
	}
}
