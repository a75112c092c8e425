package asset

import "strings"

// State classifies an asset's transform status.
type State string

const (
	StateUnknown           State = "unknown"
	StateNeedsImport       State = "needs_import"
	StateNeedsTransform    State = "needs_transform"
	StateNeedsThumbnail    State = "needs_thumbnail"
	StateUpToDate          State = "up_to_date"
	StateMissingDependency State = "missing_dependency"
	StateMissingReference  State = "missing_reference"
	StateTransformError    State = "transform_error"
)

var allStates = []State{
	StateUnknown,
	StateNeedsImport,
	StateNeedsTransform,
	StateNeedsThumbnail,
	StateUpToDate,
	StateMissingDependency,
	StateMissingReference,
	StateTransformError,
}

// AllStates returns every state in reporting order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a string to a State, accepting a few display spellings.
func ParseState(value string) (State, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for _, state := range allStates {
		if string(state) == normalized {
			return state, true
		}
	}
	return "", false
}

// NeedsWork reports whether the scheduler may hand an asset in this state to a worker.
func (s State) NeedsWork() bool {
	return s == StateNeedsTransform || s == StateNeedsThumbnail
}

// Blocking reports whether a dependency in this state prevents its dependents
// from being hashed.
func (s State) Blocking() bool {
	return s == StateUnknown || s == StateMissingDependency || s == StateMissingReference
}

func (s State) String() string { return string(s) }

// Existence tracks whether the backing file was seen during the last sweep.
type Existence string

const (
	ExistenceAdded     Existence = "added"
	ExistenceUnchanged Existence = "unchanged"
	ExistenceRemoved   Existence = "removed"
)

// Mode selects what a worker should produce for an assignment.
type Mode string

const (
	ModeTransform Mode = "transform"
	ModeThumbnail Mode = "thumbnail"
)
