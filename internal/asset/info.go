package asset

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// DeclaredInfo is the author-supplied metadata read from an asset's document.
type DeclaredInfo struct {
	ID            uuid.UUID
	Type          string
	Version       int
	Dependencies  []string
	References    []string
	ImportPending bool
	SettingsHash  uint64
}

// Clone returns a deep copy.
func (d *DeclaredInfo) Clone() *DeclaredInfo {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Dependencies = slices.Clone(d.Dependencies)
	cp.References = slices.Clone(d.References)
	return &cp
}

// LogEntry is a single log line captured from a worker process.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Info is the curator's record for one known asset.
type Info struct {
	ID           uuid.UUID
	Existence    Existence
	State        State
	AbsolutePath string
	RelativePath string
	DataDir      string
	LastAccess   time.Time

	Declared   *DeclaredInfo
	ParseError string

	AssetHash           uint64
	ThumbHash           uint64
	MissingDependencies []string
	MissingReferences   []string
	LastLog             []LogEntry

	// ErrorHash is the asset hash a transform last failed with. The asset
	// stays in TransformError while its inputs still hash to this value.
	ErrorHash uint64

	// StateStamp increases on every invalidation so a state computed from
	// data gathered before the bump can be recognised as stale.
	StateStamp uint64
}

// Clone returns a deep copy safe to hand out without the registry lock.
func (i *Info) Clone() Info {
	cp := *i
	cp.Declared = i.Declared.Clone()
	cp.MissingDependencies = slices.Clone(i.MissingDependencies)
	cp.MissingReferences = slices.Clone(i.MissingReferences)
	cp.LastLog = slices.Clone(i.LastLog)
	return cp
}

// FileState describes how trustworthy a cached file status is.
type FileState string

const (
	FileUnknown FileState = "unknown"
	FileLocked  FileState = "locked"
	FileValid   FileState = "valid"
)

// FileStatus caches the content hash of a tracked file keyed by modification time.
type FileStatus struct {
	Path    string
	ModTime time.Time
	Hash    uint64
	AssetID uuid.UUID
	Status  FileState
}

// TypeDescriptor describes how the curator treats an asset type.
type TypeDescriptor struct {
	Name                string
	Extensions          []string
	ManualTransformOnly bool
	TransformDisabled   bool
	SupportsThumbnail   bool
}

// AutoTransform reports whether the scheduler may pick assets of this type on its own.
func (t TypeDescriptor) AutoTransform() bool {
	return !t.ManualTransformOnly && !t.TransformDisabled
}

// Assignment is a unit of work handed from the scheduler to a worker slot.
type Assignment struct {
	ID           uuid.UUID
	Type         string
	AbsolutePath string
	RelativePath string
	Mode         Mode
	AssetHash    uint64
	ThumbHash    uint64
	StateStamp   uint64
}

// OutcomeStatus is the result class reported for a finished assignment.
type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeImportNeeded OutcomeStatus = "import_needed"
	OutcomeCrashed      OutcomeStatus = "crashed"
)

// Outcome is what a worker slot reports back when an assignment completes.
type Outcome struct {
	Status  OutcomeStatus
	Message string
	Log     []LogEntry
	// Err classifies a non-successful outcome. It carries one of the
	// services sentinel errors.
	Err error
}

// Stats summarises asset counts per state.
type Stats struct {
	Total    int
	Updating int
	ByState  map[State]int
}
