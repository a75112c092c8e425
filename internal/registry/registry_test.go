package registry_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"curator/internal/asset"
	"curator/internal/events"
	"curator/internal/registry"
)

func newInfo(path string) asset.Info {
	return asset.Info{ID: uuid.New(), AbsolutePath: path, RelativePath: filepath.Base(path)}
}

func TestInsertIndexesByIDAndPath(t *testing.T) {
	reg := registry.New(registry.Options{})
	info := newInfo("/data/mesh.obj")

	h, err := reg.Insert(info)
	require.NoError(t, err)
	require.False(t, h.IsZero())

	got, ok := reg.Get(info.ID)
	require.True(t, ok)
	require.Equal(t, asset.StateUnknown, got.State)
	require.Equal(t, asset.ExistenceAdded, got.Existence)

	byPath, ok := reg.GetByPath("/data/./mesh.obj")
	require.True(t, ok)
	require.Equal(t, info.ID, byPath.ID)

	_, err = reg.Insert(info)
	require.ErrorIs(t, err, registry.ErrDuplicateID)

	other := newInfo("/data/mesh.obj")
	_, err = reg.Insert(other)
	require.ErrorIs(t, err, registry.ErrDuplicatePath)
}

func TestStaleHandleFailsAfterRemove(t *testing.T) {
	reg := registry.New(registry.Options{})
	first := newInfo("/data/a.mat")
	h, err := reg.Insert(first)
	require.NoError(t, err)
	require.True(t, reg.Remove(first.ID))

	// The freed slot is reused with a new generation.
	second := newInfo("/data/b.mat")
	h2, err := reg.Insert(second)
	require.NoError(t, err)
	require.NotEqual(t, h, h2)

	_, ok := reg.Lookup(h)
	require.False(t, ok, "stale handle must not resolve")
	got, ok := reg.Lookup(h2)
	require.True(t, ok)
	require.Equal(t, second.ID, got.ID)
}

func TestCaseInsensitivePathKeys(t *testing.T) {
	reg := registry.New(registry.Options{CaseInsensitive: true})
	info := newInfo("/Data/Textures/Rock.PNG")
	_, err := reg.Insert(info)
	require.NoError(t, err)

	got, ok := reg.GetByPath("/data/textures/rock.png")
	require.True(t, ok)
	require.Equal(t, info.ID, got.ID)
}

func TestSetStateKeepsExactlyOneState(t *testing.T) {
	reg := registry.New(registry.Options{})
	ids := make([]uuid.UUID, 0, 8)
	for i := range 8 {
		info := newInfo(fmt.Sprintf("/data/%d.mat", i))
		_, err := reg.Insert(info)
		require.NoError(t, err)
		ids = append(ids, info.ID)
	}

	states := asset.AllStates()
	reg.Locked(func(tx *registry.Tx) {
		for round := range 3 {
			for i, id := range ids {
				tx.SetState(id, states[(i+round)%len(states)])
				require.NoError(t, tx.Verify())
			}
		}
	})

	stats := reg.StateCounts()
	require.Equal(t, len(ids), stats.Total)
}

func TestMarkUpdatingIsExclusive(t *testing.T) {
	reg := registry.New(registry.Options{})
	info := newInfo("/data/tex.png")
	_, err := reg.Insert(info)
	require.NoError(t, err)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Locked(func(tx *registry.Tx) {
				if tx.MarkUpdating(info.ID) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, 1, reg.StateCounts().Updating)
}

func TestUnresolvedEdgeReplayInvalidatesDependent(t *testing.T) {
	reg := registry.New(registry.Options{})
	mesh := newInfo("/data/mesh.obj")
	_, err := reg.Insert(mesh)
	require.NoError(t, err)

	matPath := "/data/mat.mat"
	var stamp uint64
	reg.Locked(func(tx *registry.Tx) {
		tx.ClearStale(mesh.ID)
		tx.SetState(mesh.ID, asset.StateMissingDependency)
		tx.AddUnresolved(mesh.ID, reg.Key(matPath))
		stamp = tx.Get(mesh.ID).StateStamp
		require.Equal(t, 1, tx.UnresolvedCount())
	})

	_, err = reg.Insert(newInfo(matPath))
	require.NoError(t, err)

	reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(mesh.ID)
		require.Equal(t, asset.StateUnknown, info.State)
		require.Greater(t, info.StateStamp, stamp)
		require.True(t, tx.IsStale(mesh.ID))
		require.Zero(t, tx.UnresolvedCount())
	})
}

func TestEdgesAreReplacedSymmetrically(t *testing.T) {
	reg := registry.New(registry.Options{})
	id := uuid.New()
	reg.Locked(func(tx *registry.Tx) {
		tx.SetEdges(id, []string{"a", "b"}, []string{"r"})
		require.ElementsMatch(t, []uuid.UUID{id}, tx.Dependents("a"))
		require.ElementsMatch(t, []uuid.UUID{id}, tx.Referrers("r"))

		tx.SetEdges(id, []string{"b"}, nil)
		require.Empty(t, tx.Dependents("a"))
		require.Empty(t, tx.Referrers("r"))
		require.ElementsMatch(t, []uuid.UUID{id}, tx.Dependents("b"))
	})
}

func TestRemoveDropsIndexes(t *testing.T) {
	reg := registry.New(registry.Options{})
	info := newInfo("/data/scene.scene")
	_, err := reg.Insert(info)
	require.NoError(t, err)
	reg.Locked(func(tx *registry.Tx) {
		tx.SetEdges(info.ID, []string{"dep"}, nil)
		tx.MarkUpdating(info.ID)
	})
	require.True(t, reg.Remove(info.ID))
	require.False(t, reg.Remove(info.ID))

	reg.Locked(func(tx *registry.Tx) {
		require.Empty(t, tx.Dependents("dep"))
		require.False(t, tx.IsUpdating(info.ID))
		require.NoError(t, tx.Verify())
	})
}

func TestEventsPublishedAfterUnlock(t *testing.T) {
	hub := events.NewHub()
	sub := hub.Subscribe(16)
	defer sub.Close()

	reg := registry.New(registry.Options{Publisher: hub})
	info := newInfo("/data/a.wav")
	_, err := reg.Insert(info)
	require.NoError(t, err)
	reg.Locked(func(tx *registry.Tx) { tx.SetState(info.ID, asset.StateNeedsTransform) })
	reg.Remove(info.ID)
	reg.Locked(func(tx *registry.Tx) { tx.Reset() })

	var kinds []events.Kind
	for range 4 {
		kinds = append(kinds, (<-sub.C()).Kind)
	}
	require.Equal(t, []events.Kind{events.AssetAdded, events.AssetUpdated, events.AssetRemoved, events.AssetListReset}, kinds)
}

func TestFileStatusCache(t *testing.T) {
	reg := registry.New(registry.Options{})
	reg.Locked(func(tx *registry.Tx) {
		tx.SetFile(asset.FileStatus{Path: "/data/b.png", Hash: 2, Status: asset.FileValid})
		tx.SetFile(asset.FileStatus{Path: "/data/a.png", Hash: 1, Status: asset.FileValid})
		tx.MarkFilesUnknown()
		files := tx.Files()
		require.Len(t, files, 2)
		require.Equal(t, "/data/a.png", files[0].Path)
		require.Equal(t, asset.FileUnknown, files[1].Status)
		tx.RemoveFile("/data/a.png")
		require.Nil(t, tx.File("/data/a.png"))
	})
}
