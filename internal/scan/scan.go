// Package scan classifies and enumerates files under the configured data
// directories.
package scan

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"curator/internal/asset"
	"curator/internal/document"
)

// Kind classifies a path under a data directory.
type Kind int

const (
	KindIgnored Kind = iota
	// KindAsset is a file with an extension claimed by an asset type.
	KindAsset
	// KindSidecar is an asset document next to its asset file.
	KindSidecar
	// KindFile is any other file; it may be used as a dependency.
	KindFile
)

// File describes one classified file.
type File struct {
	Kind         Kind
	AbsolutePath string
	RelativePath string
	DataDir      string
	Type         string
	ModTime      time.Time
}

// AssetPath returns the asset file a sidecar belongs to.
func (f File) AssetPath(sidecarExt string) string {
	if f.Kind != KindSidecar {
		return f.AbsolutePath
	}
	return f.AbsolutePath[:len(f.AbsolutePath)-len(sidecarExt)]
}

type root struct {
	dir    string
	ignore *ignore.GitIgnore
}

// Matcher knows the data directories, ignore rules and asset extensions.
type Matcher struct {
	roots      []root
	byExt      map[string]string
	sidecarExt string
	skipDirs   []string
}

// Options configures a Matcher.
type Options struct {
	DataDirs   []string
	IgnoreFile string
	SidecarExt string
	Types      []asset.TypeDescriptor
	// SkipDirs are never descended into, typically the output cache.
	SkipDirs []string
}

// NewMatcher loads ignore rules from each data directory.
func NewMatcher(opts Options) *Matcher {
	m := &Matcher{
		byExt:      make(map[string]string),
		sidecarExt: strings.ToLower(opts.SidecarExt),
	}
	for _, t := range opts.Types {
		for _, ext := range t.Extensions {
			m.byExt[strings.ToLower(ext)] = t.Name
		}
	}
	for _, dir := range opts.SkipDirs {
		if dir != "" {
			m.skipDirs = append(m.skipDirs, filepath.Clean(dir))
		}
	}
	for _, dir := range opts.DataDirs {
		dir = filepath.Clean(dir)
		r := root{dir: dir}
		if opts.IgnoreFile != "" {
			if lines, err := readLines(filepath.Join(dir, opts.IgnoreFile)); err == nil && len(lines) > 0 {
				r.ignore = ignore.CompileIgnoreLines(lines...)
			}
		}
		m.roots = append(m.roots, r)
	}
	return m
}

// DataDirs returns the configured roots.
func (m *Matcher) DataDirs() []string {
	out := make([]string, len(m.roots))
	for i, r := range m.roots {
		out[i] = r.dir
	}
	return out
}

// SidecarExtension returns the sidecar suffix.
func (m *Matcher) SidecarExtension() string { return m.sidecarExt }

// TypeFor returns the asset type claiming path's extension.
func (m *Matcher) TypeFor(path string) (string, bool) {
	name, ok := m.byExt[strings.ToLower(filepath.Ext(path))]
	return name, ok
}

// Locate finds the data directory containing path and the path relative to it.
func (m *Matcher) Locate(path string) (dataDir, rel string, ok bool) {
	path = filepath.Clean(path)
	for _, r := range m.roots {
		rel, err := filepath.Rel(r.dir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return r.dir, filepath.ToSlash(rel), true
	}
	return "", "", false
}

// Classify decides how the curator treats path. modTime is left zero.
func (m *Matcher) Classify(path string) File {
	path = filepath.Clean(path)
	f := File{AbsolutePath: path}
	for _, skip := range m.skipDirs {
		if path == skip || strings.HasPrefix(path, skip+string(filepath.Separator)) {
			return f
		}
	}
	for _, r := range m.roots {
		rel, err := filepath.Rel(r.dir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if hidden(rel) || (r.ignore != nil && r.ignore.MatchesPath(rel)) {
			return f
		}
		f.DataDir, f.RelativePath = r.dir, rel
		switch {
		case document.IsSidecar(path, m.sidecarExt):
			f.Kind = KindSidecar
			if name, ok := m.TypeFor(path[:len(path)-len(m.sidecarExt)]); ok {
				f.Type = name
			} else {
				f.Kind = KindFile
			}
		default:
			if name, ok := m.TypeFor(path); ok {
				f.Kind, f.Type = KindAsset, name
			} else {
				f.Kind = KindFile
			}
		}
		return f
	}
	return f
}

// Walk visits every non-ignored file under the data directories. Missing
// data directories are skipped.
func (m *Matcher) Walk(ctx context.Context, fn func(File) error) error {
	for _, r := range m.roots {
		err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == r.dir {
					return fs.SkipDir
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path == r.dir {
					return nil
				}
				if m.Classify(path).Kind == KindIgnored {
					return fs.SkipDir
				}
				return nil
			}
			f := m.Classify(path)
			if f.Kind == KindIgnored {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			f.ModTime = info.ModTime()
			return fn(f)
		})
		if err != nil && !errors.Is(err, fs.SkipDir) {
			return err
		}
	}
	return nil
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
