package asset_test

import (
	"testing"

	"github.com/google/uuid"

	"curator/internal/asset"
)

func TestParseStateAcceptsDisplaySpellings(t *testing.T) {
	cases := map[string]asset.State{
		"needs_transform":    asset.StateNeedsTransform,
		"Needs-Thumbnail":    asset.StateNeedsThumbnail,
		" up to date ":       asset.StateUpToDate,
		"MISSING_DEPENDENCY": asset.StateMissingDependency,
	}
	for input, want := range cases {
		got, ok := asset.ParseState(input)
		if !ok || got != want {
			t.Fatalf("ParseState(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}
	if _, ok := asset.ParseState("updating"); ok {
		t.Fatal("updating is a marker, not a state")
	}
}

func TestAllStatesIsACopy(t *testing.T) {
	states := asset.AllStates()
	states[0] = "mutated"
	if asset.AllStates()[0] != asset.StateUnknown {
		t.Fatal("AllStates must not expose internal slice")
	}
}

func TestCloneDetachesSlices(t *testing.T) {
	info := asset.Info{
		ID:                  uuid.New(),
		Declared:            &asset.DeclaredInfo{Dependencies: []string{"a.png"}},
		MissingDependencies: []string{"a.png"},
		LastLog:             []asset.LogEntry{{Level: "error", Message: "boom"}},
	}
	cp := info.Clone()
	cp.Declared.Dependencies[0] = "b.png"
	cp.MissingDependencies[0] = "b.png"
	cp.LastLog[0].Message = "changed"
	if info.Declared.Dependencies[0] != "a.png" || info.MissingDependencies[0] != "a.png" {
		t.Fatal("clone shares dependency slices")
	}
	if info.LastLog[0].Message != "boom" {
		t.Fatal("clone shares log slice")
	}
}

func TestTypeDescriptorAutoTransform(t *testing.T) {
	if !(asset.TypeDescriptor{Name: "material"}).AutoTransform() {
		t.Fatal("default descriptor should transform automatically")
	}
	if (asset.TypeDescriptor{ManualTransformOnly: true}).AutoTransform() {
		t.Fatal("manual-only descriptor must not auto transform")
	}
	if (asset.TypeDescriptor{TransformDisabled: true}).AutoTransform() {
		t.Fatal("disabled descriptor must not auto transform")
	}
}
