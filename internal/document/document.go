// Package document reads and writes the sidecar files that carry an asset's
// declared metadata.
//
// Every asset file has a TOML sidecar next to it (texture.png ->
// texture.png.asset) holding a stable id, the asset type, the dependency and
// reference lists and free-form transform settings. A missing sidecar is
// created on first sight with a fresh id so the asset keeps its identity when
// it is later renamed together with its sidecar.
package document

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"curator/internal/asset"
	"curator/internal/fileutil"
)

// CurrentVersion is written into newly created sidecars.
const CurrentVersion = 1

// Sidecar is the on-disk representation of declared asset metadata.
type Sidecar struct {
	ID            string         `toml:"id"`
	Type          string         `toml:"type,omitempty"`
	Version       int            `toml:"version"`
	ImportPending bool           `toml:"import_pending,omitempty"`
	Dependencies  []string       `toml:"dependencies,omitempty"`
	References    []string       `toml:"references,omitempty"`
	Settings      map[string]any `toml:"settings,omitempty"`
}

// ErrInvalid marks a sidecar that exists but cannot be interpreted.
var ErrInvalid = errors.New("invalid asset document")

// Path returns the sidecar location for an asset file.
func Path(assetPath, ext string) string {
	return assetPath + ext
}

// IsSidecar reports whether path names a sidecar file.
func IsSidecar(path, ext string) bool {
	return ext != "" && strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext))
}

// Read parses the sidecar at path.
func Read(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, err
	}
	var sc Sidecar
	if err := toml.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return sc, nil
}

// Write stores sc at path atomically.
func Write(path string, sc Sidecar) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(sc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// Loader turns sidecars into DeclaredInfo values.
type Loader struct {
	Extension string
}

// Load returns the declared info for assetPath. When the sidecar does not
// exist one is created with a new id and the given type name.
func (l Loader) Load(assetPath, typeName string) (*asset.DeclaredInfo, error) {
	scPath := Path(assetPath, l.Extension)
	sc, err := Read(scPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		sc = Sidecar{ID: uuid.NewString(), Type: typeName, Version: CurrentVersion}
		if err := Write(scPath, sc); err != nil {
			return nil, fmt.Errorf("create sidecar: %w", err)
		}
	case err != nil:
		return nil, err
	}
	return Declared(sc, typeName)
}

// Reidentify assigns a fresh id to the sidecar of assetPath and returns it.
func (l Loader) Reidentify(assetPath string) (uuid.UUID, error) {
	scPath := Path(assetPath, l.Extension)
	sc, err := Read(scPath)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	sc.ID = id.String()
	if err := Write(scPath, sc); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Declared validates sc and converts it. fallbackType is used when the
// sidecar does not name a type.
func Declared(sc Sidecar, fallbackType string) (*asset.DeclaredInfo, error) {
	id, err := uuid.Parse(strings.TrimSpace(sc.ID))
	if err != nil || id == uuid.Nil {
		return nil, fmt.Errorf("%w: bad id %q", ErrInvalid, sc.ID)
	}
	typeName := strings.ToLower(strings.TrimSpace(sc.Type))
	if typeName == "" {
		typeName = fallbackType
	}
	settingsHash, err := SettingsHash(typeName, sc.Version, sc.Settings)
	if err != nil {
		return nil, err
	}
	return &asset.DeclaredInfo{
		ID:            id,
		Type:          typeName,
		Version:       sc.Version,
		Dependencies:  cleanList(sc.Dependencies),
		References:    cleanList(sc.References),
		ImportPending: sc.ImportPending,
		SettingsHash:  settingsHash,
	}, nil
}

// SettingsHash digests the parts of a document that change transform output
// without touching the source file.
func SettingsHash(typeName string, version int, settings map[string]any) (uint64, error) {
	digest := xxhash.New()
	_, _ = digest.WriteString(typeName)
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(version))
	_, _ = digest.Write(v[:])
	if len(settings) > 0 {
		// encoding/json sorts map keys, which keeps the digest stable.
		data, err := json.Marshal(settings)
		if err != nil {
			return 0, fmt.Errorf("%w: settings: %w", ErrInvalid, err)
		}
		_, _ = digest.Write(data)
	}
	return digest.Sum64(), nil
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SetImportPending flags the sidecar of assetPath so the asset is reported
// as waiting for an import step.
func (l Loader) SetImportPending(assetPath string, pending bool) error {
	scPath := Path(assetPath, l.Extension)
	sc, err := Read(scPath)
	if err != nil {
		return err
	}
	if sc.ImportPending == pending {
		return nil
	}
	sc.ImportPending = pending
	return Write(scPath, sc)
}
