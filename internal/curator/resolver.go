package curator

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/registry"
	"curator/internal/services"
)

// target is a declared dependency or reference string resolved to index
// keys. Id targets have exactly one key; path targets list every candidate
// location in lookup order.
type target struct {
	raw   string
	id    uuid.UUID
	paths []string
	keys  []string
}

// boundTarget is a target matched against the registry.
type boundTarget struct {
	target
	assetID uuid.UUID
}

func (c *Curator) resolveTarget(raw, assetPath string) target {
	t := target{raw: raw}
	if id, err := uuid.Parse(raw); err == nil && len(raw) >= 32 {
		t.id = id
		t.keys = []string{registry.IDKey(id)}
		return t
	}
	rel := filepath.FromSlash(raw)
	if filepath.IsAbs(rel) {
		t.paths = []string{filepath.Clean(rel)}
	} else {
		t.paths = append(t.paths, filepath.Join(filepath.Dir(assetPath), rel))
		for _, dir := range c.matcher.DataDirs() {
			t.paths = append(t.paths, filepath.Join(dir, rel))
		}
	}
	seen := make(map[string]struct{}, len(t.paths))
	paths := t.paths[:0]
	for _, p := range t.paths {
		key := c.reg.Key(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		paths = append(paths, p)
		t.keys = append(t.keys, key)
	}
	t.paths = paths
	return t
}

func (c *Curator) resolveTargets(raws []string, assetPath string) []target {
	out := make([]target, 0, len(raws))
	for _, raw := range raws {
		out = append(out, c.resolveTarget(raw, assetPath))
	}
	slices.SortFunc(out, func(a, b target) int { return strings.Compare(a.raw, b.raw) })
	return out
}

// edgeKeys returns the index keys for everything decl points at.
func (c *Curator) edgeKeys(decl *asset.DeclaredInfo, assetPath string) (deps, refs []string) {
	if decl == nil {
		return nil, nil
	}
	for _, t := range c.resolveTargets(decl.Dependencies, assetPath) {
		deps = append(deps, t.keys...)
	}
	for _, t := range c.resolveTargets(decl.References, assetPath) {
		refs = append(refs, t.keys...)
	}
	return deps, refs
}

// bindLocked matches targets to registered assets. Called with the registry lock held.
func (c *Curator) bindLocked(tx *registry.Tx, targets []target) []boundTarget {
	out := make([]boundTarget, 0, len(targets))
	for _, t := range targets {
		b := boundTarget{target: t}
		if t.id != uuid.Nil {
			if tx.Get(t.id) != nil {
				b.assetID = t.id
			}
		} else {
			for _, p := range t.paths {
				if info := tx.GetByPath(p); info != nil {
					b.assetID = info.ID
					break
				}
			}
		}
		out = append(out, b)
	}
	return out
}

// existingPath returns the first candidate that exists on disk.
func existingPath(t target) (string, bool) {
	for _, p := range t.paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Hull is the transitive closure of an asset's declared edges.
type Hull struct {
	// Assets lists every asset reached, the starting asset first.
	Assets       []uuid.UUID
	Dependencies []string
	References   []string
	// Unresolved holds declared strings that match neither an asset nor a file.
	Unresolved []string
}

// TransitiveHull walks dependency and reference lists breadth first from id.
// Cycles terminate through the visited set.
func (c *Curator) TransitiveHull(ctx context.Context, id uuid.UUID) (Hull, error) {
	type pending struct {
		target
		dependency bool
	}
	var (
		hull  Hull
		files []pending
		found bool
	)
	c.reg.Locked(func(tx *registry.Tx) {
		start := tx.Get(id)
		if start == nil {
			return
		}
		found = true
		visited := map[uuid.UUID]bool{id: true}
		queue := []uuid.UUID{id}
		hull.Assets = append(hull.Assets, id)
		for len(queue) > 0 {
			cur := tx.Get(queue[0])
			queue = queue[1:]
			if cur == nil || cur.Declared == nil {
				continue
			}
			walk := func(raws []string, dependency bool) {
				for _, b := range c.bindLocked(tx, c.resolveTargets(raws, cur.AbsolutePath)) {
					if b.assetID == uuid.Nil {
						if b.id != uuid.Nil {
							hull.Unresolved = append(hull.Unresolved, b.raw)
						} else {
							files = append(files, pending{target: b.target, dependency: dependency})
						}
						continue
					}
					dep := tx.Get(b.assetID)
					if dependency {
						hull.Dependencies = append(hull.Dependencies, dep.AbsolutePath)
					} else {
						hull.References = append(hull.References, dep.AbsolutePath)
					}
					if !visited[b.assetID] {
						visited[b.assetID] = true
						hull.Assets = append(hull.Assets, b.assetID)
						queue = append(queue, b.assetID)
					}
				}
			}
			walk(cur.Declared.Dependencies, true)
			walk(cur.Declared.References, false)
		}
	})
	if !found {
		return Hull{}, services.Wrap(services.ErrNotFound, "curator", "transitive hull", id.String(), nil)
	}
	if err := ctx.Err(); err != nil {
		return Hull{}, err
	}

	for _, f := range files {
		p, ok := existingPath(f.target)
		switch {
		case !ok:
			hull.Unresolved = append(hull.Unresolved, f.raw)
		case f.dependency:
			hull.Dependencies = append(hull.Dependencies, p)
		default:
			hull.References = append(hull.References, p)
		}
	}
	hull.Dependencies = sortedUnique(hull.Dependencies)
	hull.References = sortedUnique(hull.References)
	hull.Unresolved = sortedUnique(hull.Unresolved)
	return hull, nil
}

// FindAllUses returns the assets that depend on or reference id. With
// transitive set the inverse closure is returned.
func (c *Curator) FindAllUses(id uuid.UUID, transitive bool) []uuid.UUID {
	var out []uuid.UUID
	c.reg.Locked(func(tx *registry.Tx) {
		seen := map[uuid.UUID]bool{id: true}
		queue := []uuid.UUID{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, user := range c.usersLocked(tx, cur) {
				if seen[user] {
					continue
				}
				seen[user] = true
				out = append(out, user)
				if transitive {
					queue = append(queue, user)
				}
			}
		}
	})
	slices.SortFunc(out, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

// usersLocked lists assets whose declared edges point at id.
func (c *Curator) usersLocked(tx *registry.Tx, id uuid.UUID) []uuid.UUID {
	keys := []string{registry.IDKey(id)}
	if info := tx.Get(id); info != nil {
		keys = append(keys, c.reg.Key(info.AbsolutePath))
	}
	return c.usersOfKeysLocked(tx, keys...)
}

func (c *Curator) usersOfKeysLocked(tx *registry.Tx, keys ...string) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, key := range keys {
		for _, list := range [][]uuid.UUID{tx.Dependents(key), tx.Referrers(key)} {
			for _, user := range list {
				if !seen[user] {
					seen[user] = true
					out = append(out, user)
				}
			}
		}
	}
	return out
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	slices.Sort(values)
	return slices.Compact(values)
}

func containsState(states []asset.State, s asset.State) bool {
	return slices.Contains(states, s)
}

func sortByPath(infos []asset.Info) {
	slices.SortFunc(infos, func(a, b asset.Info) int {
		if c := strings.Compare(a.RelativePath, b.RelativePath); c != 0 {
			return c
		}
		return strings.Compare(a.AbsolutePath, b.AbsolutePath)
	})
}
