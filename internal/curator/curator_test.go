package curator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/document"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/testsupport"
)

func newCurator(t *testing.T, cfg *config.Config) *Curator {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	c, err := New(context.Background(), Options{Config: cfg, Store: st})
	require.NoError(t, err)
	return c
}

func scanAndSettle(t *testing.T, c *Curator) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.CheckFileSystem(ctx))
	require.NoError(t, c.RefreshStates(ctx))
}

func settle(t *testing.T, c *Curator) {
	t.Helper()
	require.NoError(t, c.RefreshStates(context.Background()))
}

func stateOf(t *testing.T, c *Curator, id uuid.UUID) asset.State {
	t.Helper()
	info, ok := c.Info(id)
	require.True(t, ok, "asset %s not registered", id)
	return info.State
}

func runNext(t *testing.T, c *Curator, outcome asset.Outcome) asset.Assignment {
	t.Helper()
	asg, ok := c.NextEligible()
	require.True(t, ok, "expected an eligible asset")
	require.NoError(t, c.Complete(context.Background(), asg, outcome))
	settle(t, c)
	return asg
}

var success = asset.Outcome{Status: asset.OutcomeSuccess}

func TestDependencyIsProcessedBeforeDependent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	matID, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"mat.mat"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, matID))
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, meshID))

	first, ok := c.NextEligible()
	require.True(t, ok)
	require.Equal(t, matID, first.ID)
	require.Equal(t, asset.ModeTransform, first.Mode)

	_, ok = c.NextEligible()
	require.False(t, ok, "dependent must wait while its dependency is updating")

	require.NoError(t, c.Complete(context.Background(), first, success))
	settle(t, c)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, matID))

	second := runNext(t, c, success)
	require.Equal(t, meshID, second.ID)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, meshID))

	_, ok = c.NextEligible()
	require.False(t, ok)
}

func TestNoDoubleDispatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "only.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	asg, ok := c.NextEligible()
	require.True(t, ok)
	require.Equal(t, id, asg.ID)
	_, ok = c.NextEligible()
	require.False(t, ok)
}

func TestDeletedDependencyFileBlocksUntilRestored(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	texPath := filepath.Join(testsupport.DataDir(cfg), "tex.raw")
	testsupport.WriteText(t, texPath, "pixels")
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"tex.raw"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)
	runNext(t, c, success)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, meshID))

	require.NoError(t, os.Remove(texPath))
	require.NoError(t, c.NotifyFileChange(ctx, texPath))
	settle(t, c)
	info, _ := c.Info(meshID)
	require.Equal(t, asset.StateMissingDependency, info.State)
	require.Equal(t, []string{"tex.raw"}, info.MissingDependencies)

	testsupport.WriteText(t, texPath, "new pixels")
	require.NoError(t, c.NotifyFileChange(ctx, texPath))
	settle(t, c)
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, meshID))
}

func TestDependencyByIDResolvesWhenAssetAppears(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	matID := uuid.New()
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{matID.String()}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)
	require.Equal(t, asset.StateMissingDependency, stateOf(t, c, meshID))

	_, matPath := testsupport.WriteAsset(t, cfg, "materials/late.mat", testsupport.AssetSpec{ID: matID})
	require.NoError(t, c.NotifyFileChange(ctx, matPath))
	settle(t, c)
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, matID))
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, meshID))
}

func TestCircularDependencyTerminates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	aID, _ := testsupport.WriteAsset(t, cfg, "a.mat", testsupport.AssetSpec{Dependencies: []string{"b.mat"}})
	bID, _ := testsupport.WriteAsset(t, cfg, "b.mat", testsupport.AssetSpec{Dependencies: []string{"a.mat"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	for _, id := range []uuid.UUID{aID, bID} {
		info, _ := c.Info(id)
		require.Equal(t, asset.StateTransformError, info.State)
		require.NotEmpty(t, info.LastLog)
		require.Contains(t, info.LastLog[0].Message, "circular dependency")
	}
	_, ok := c.NextEligible()
	require.False(t, ok)

	hull, err := c.TransitiveHull(context.Background(), aID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{aID, bID}, hull.Assets)
}

func TestHashIsStableAcrossRecomputation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	testsupport.WriteAsset(t, cfg, "base.mat", testsupport.AssetSpec{Settings: map[string]any{"roughness": 0.5}})
	id, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"base.mat"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	first, _ := c.Info(id)
	require.NotZero(t, first.AssetHash)
	state, err := c.UpdateAssetState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, asset.StateNeedsTransform, state)
	second, _ := c.Info(id)
	require.Equal(t, first.AssetHash, second.AssetHash)
	require.Equal(t, first.ThumbHash, second.ThumbHash)
}

func TestSettingsChangeAltersHash(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	id, path := testsupport.WriteAsset(t, cfg, "base.mat", testsupport.AssetSpec{Settings: map[string]any{"roughness": 0.5}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)
	runNext(t, c, success)
	before, _ := c.Info(id)

	scPath := document.Path(path, cfg.Scanner.SidecarExtension)
	sc, err := document.Read(scPath)
	require.NoError(t, err)
	sc.Settings = map[string]any{"roughness": 0.9}
	require.NoError(t, document.Write(scPath, sc))
	require.NoError(t, c.NotifyFileChange(ctx, scPath))
	settle(t, c)

	after, _ := c.Info(id)
	require.NotEqual(t, before.AssetHash, after.AssetHash)
	require.Equal(t, asset.StateNeedsTransform, after.State)
}

func TestTransformFailureIsStickyUntilRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	matID, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"mat.mat"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	asg := runNext(t, c, asset.Outcome{
		Status:  asset.OutcomeFailed,
		Message: "shader compile failed",
		Log:     []asset.LogEntry{{Level: "info", Message: "compiling"}},
	})
	require.Equal(t, matID, asg.ID)
	info, _ := c.Info(matID)
	require.Equal(t, asset.StateTransformError, info.State)
	require.Equal(t, "shader compile failed", info.LastLog[len(info.LastLog)-1].Message)
	require.Equal(t, asset.StateMissingDependency, stateOf(t, c, meshID))

	state, err := c.UpdateAssetState(ctx, matID)
	require.NoError(t, err)
	require.Equal(t, asset.StateTransformError, state, "unchanged inputs keep the failure")

	require.NoError(t, c.Retry(matID))
	settle(t, c)
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, matID))
	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, meshID))
}

func TestCrashedWorkerMarksTransformError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	runNext(t, c, asset.Outcome{Status: asset.OutcomeCrashed, Message: "worker exited with status 139"})
	require.Equal(t, asset.StateTransformError, stateOf(t, c, id))
}

func TestImportNeededMarksSidecar(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, path := testsupport.WriteAsset(t, cfg, "raw.png", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	runNext(t, c, asset.Outcome{Status: asset.OutcomeImportNeeded})
	require.Equal(t, asset.StateNeedsImport, stateOf(t, c, id))
	sc, err := document.Read(document.Path(path, cfg.Scanner.SidecarExtension))
	require.NoError(t, err)
	require.True(t, sc.ImportPending)
}

func TestFailureClassifiedAsImportParksAsset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, path := testsupport.WriteAsset(t, cfg, "raw.png", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	runNext(t, c, asset.Outcome{
		Status:  asset.OutcomeFailed,
		Message: "source not imported",
		Err:     services.Wrap(services.ErrImportNeeded, "worker", "process asset", "raw.png", nil),
	})
	require.Equal(t, asset.StateNeedsImport, stateOf(t, c, id))
	sc, err := document.Read(document.Path(path, cfg.Scanner.SidecarExtension))
	require.NoError(t, err)
	require.True(t, sc.ImportPending)
}

func TestClassifiedFailureMarksTransformError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	err := services.Wrap(services.ErrWorkerCrashed, "worker", "process asset", "worker exited: signal: killed", nil)
	runNext(t, c, asset.Outcome{Status: asset.OutcomeCrashed, Message: err.Error(), Err: err})
	require.Equal(t, asset.StateTransformError, stateOf(t, c, id))
	info, ok := c.Info(id)
	require.True(t, ok)
	require.NotEmpty(t, info.LastLog)
	require.Equal(t, err.Error(), info.LastLog[len(info.LastLog)-1].Message)
}

func TestManualTypesNeedExplicitRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "level.scene", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, id))
	_, ok := c.NextEligible()
	require.False(t, ok)

	require.NoError(t, c.Transform(id))
	asg, ok := c.NextEligible()
	require.True(t, ok)
	require.Equal(t, id, asg.ID)
}

func TestResultForInvalidatedAssetIsNotTrusted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	id, path := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{Content: "v1"})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	asg, ok := c.NextEligible()
	require.True(t, ok)
	testsupport.WriteText(t, path, "v2")
	require.NoError(t, c.NotifyFileChange(ctx, path))
	require.NoError(t, c.Complete(ctx, asg, success))
	settle(t, c)

	require.Equal(t, asset.StateNeedsTransform, stateOf(t, c, id))
}

func TestReferenceChangeNeedsOnlyThumbnail(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	notePath := filepath.Join(testsupport.DataDir(cfg), "preview.txt")
	testsupport.WriteText(t, notePath, "first")
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{References: []string{"preview.txt"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)
	runNext(t, c, success)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, id))

	testsupport.WriteText(t, notePath, "second")
	require.NoError(t, c.NotifyFileChange(ctx, notePath))
	settle(t, c)
	require.Equal(t, asset.StateNeedsThumbnail, stateOf(t, c, id))

	asg := runNext(t, c, success)
	require.Equal(t, asset.ModeThumbnail, asg.Mode)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, id))
}

func TestMissingReference(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{References: []string{"nowhere.txt"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	info, _ := c.Info(id)
	require.Equal(t, asset.StateMissingReference, info.State)
	require.Equal(t, []string{"nowhere.txt"}, info.MissingReferences)
}

func TestDuplicateIDIsReassigned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	id, _ := testsupport.WriteAsset(t, cfg, "one.mat", testsupport.AssetSpec{})
	_, copyPath := testsupport.WriteAsset(t, cfg, "two.mat", testsupport.AssetSpec{ID: id})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	require.Len(t, c.Assets(), 2)
	copyInfo, ok := c.InfoByPath(copyPath)
	require.True(t, ok)
	require.NotEqual(t, id, copyInfo.ID)
}

func TestMovedAssetKeepsIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	id, path := testsupport.WriteAsset(t, cfg, "old.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	newPath := filepath.Join(filepath.Dir(path), "renamed.mat")
	ext := cfg.Scanner.SidecarExtension
	require.NoError(t, os.Rename(path+ext, newPath+ext))
	require.NoError(t, os.Rename(path, newPath))
	require.NoError(t, c.NotifyFileChange(ctx, newPath))
	require.NoError(t, c.NotifyFileChange(ctx, path))
	settle(t, c)

	info, ok := c.Info(id)
	require.True(t, ok)
	require.Equal(t, "renamed.mat", info.RelativePath)
	require.Len(t, c.Assets(), 1)
}

func TestRemovedAssetMarksDependentsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	_, matPath := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"mat.mat"}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	require.NoError(t, os.Remove(matPath))
	require.NoError(t, c.NotifyFileChange(ctx, matPath))
	settle(t, c)
	require.Equal(t, asset.StateMissingDependency, stateOf(t, c, meshID))
	remaining := c.Assets()
	require.Len(t, remaining, 1)
	require.Equal(t, meshID, remaining[0].ID)
}

func TestFindAllUses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	texID, _ := testsupport.WriteAsset(t, cfg, "tex.png", testsupport.AssetSpec{})
	matID, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{Dependencies: []string{"tex.png"}})
	meshID, _ := testsupport.WriteAsset(t, cfg, "mesh.obj", testsupport.AssetSpec{References: []string{matID.String()}})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	require.Equal(t, []uuid.UUID{matID}, c.FindAllUses(texID, false))
	require.ElementsMatch(t, []uuid.UUID{matID, meshID}, c.FindAllUses(texID, true))
}

func TestTransitiveHullCollectsFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	data := testsupport.DataDir(cfg)
	testsupport.WriteText(t, filepath.Join(data, "shared", "noise.raw"), "noise")
	testsupport.WriteAsset(t, cfg, "tex.png", testsupport.AssetSpec{Dependencies: []string{"shared/noise.raw"}})
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{
		Dependencies: []string{"tex.png", "ghost.raw"},
		References:   []string{"preview.txt"},
	})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	hull, err := c.TransitiveHull(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(data, "shared", "noise.raw"), filepath.Join(data, "tex.png")}, hull.Dependencies)
	require.Equal(t, []string{"ghost.raw", "preview.txt"}, hull.Unresolved)
	require.Len(t, hull.Assets, 2)
}

func TestCachesRestoreStateAcrossRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	st := testsupport.MustOpenStore(t, cfg)

	first, err := New(ctx, Options{Config: cfg, Store: st})
	require.NoError(t, err)
	scanAndSettle(t, first)
	runNext(t, first, success)
	require.NoError(t, first.SaveCaches(ctx))

	second, err := New(ctx, Options{Config: cfg, Store: st})
	require.NoError(t, err)
	require.NoError(t, second.LoadCaches(ctx))
	info, ok := second.Info(id)
	require.True(t, ok)
	require.NotZero(t, info.AssetHash)
	scanAndSettle(t, second)
	require.Equal(t, asset.StateUpToDate, stateOf(t, second, id))
}

func TestPlatformSwitchInvalidatesOutputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	id, _ := testsupport.WriteAsset(t, cfg, "mat.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)
	runNext(t, c, success)
	before, _ := c.Info(id)

	require.NoError(t, c.SetActivePlatform(ctx, "mobile"))
	settle(t, c)
	after, _ := c.Info(id)
	require.Equal(t, asset.StateNeedsTransform, after.State)
	require.NotEqual(t, before.AssetHash, after.AssetHash)

	require.NoError(t, c.SetActivePlatform(ctx, "default"))
	settle(t, c)
	require.Equal(t, asset.StateUpToDate, stateOf(t, c, id))
}

func TestIgnoredFilesAreNotRegistered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	data := testsupport.DataDir(cfg)
	testsupport.WriteText(t, filepath.Join(data, cfg.Scanner.IgnoreFile), "scratch/\n")
	testsupport.WriteAsset(t, cfg, "scratch/tmp.mat", testsupport.AssetSpec{})
	testsupport.WriteAsset(t, cfg, "keep.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	assets := c.Assets()
	require.Len(t, assets, 1)
	require.Equal(t, "keep.mat", assets[0].RelativePath)
}

func TestUnparsableSidecarIsUnknown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.DataDir(cfg), "broken.mat")
	testsupport.WriteText(t, path, "data")
	testsupport.WriteText(t, document.Path(path, cfg.Scanner.SidecarExtension), "id = [not toml")
	c := newCurator(t, cfg)
	scanAndSettle(t, c)

	info, ok := c.InfoByPath(path)
	require.True(t, ok)
	require.Equal(t, asset.StateUnknown, info.State)
	require.True(t, strings.TrimSpace(info.ParseError) != "")
	_, ok = c.NextEligible()
	require.False(t, ok)
}

func TestTransformAllRecordsCompletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	testsupport.WriteAsset(t, cfg, "a.mat", testsupport.AssetSpec{})
	testsupport.WriteAsset(t, cfg, "level.scene", testsupport.AssetSpec{})
	st := testsupport.MustOpenStore(t, cfg)
	c, err := New(ctx, Options{Config: cfg, Store: st})
	require.NoError(t, err)
	scanAndSettle(t, c)

	require.Equal(t, 2, c.TransformAll())
	runNext(t, c, success)
	runNext(t, c, success)

	_, ok, err := st.LastFullTransform(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnreadableFileIsMarkedLocked(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not restrict root")
	}
	cfg := testsupport.NewConfig(t)
	_, path := testsupport.WriteAsset(t, cfg, "locked.mat", testsupport.AssetSpec{})
	c := newCurator(t, cfg)
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	fileState := func() asset.FileState {
		var state asset.FileState
		c.reg.Locked(func(tx *registry.Tx) {
			if fs := tx.File(path); fs != nil {
				state = fs.Status
			}
		})
		return state
	}

	_, ok := c.fileHash(path)
	require.False(t, ok)
	require.Equal(t, asset.FileLocked, fileState())

	require.NoError(t, os.Chmod(path, 0o644))
	sum, ok := c.fileHash(path)
	require.True(t, ok)
	require.NotZero(t, sum)
	require.Equal(t, asset.FileValid, fileState())
}
