package api

import (
	"curator/internal/asset"
	"curator/internal/logging"
	"curator/internal/processor"
	"curator/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// AssetView describes a registry entry in a transport-friendly format.
type AssetView struct {
	ID                  string           `json:"id"`
	Type                string           `json:"type,omitempty"`
	State               string           `json:"state"`
	Existence           string           `json:"existence"`
	Updating            bool             `json:"updating"`
	Path                string           `json:"path"`
	AbsolutePath        string           `json:"absolute_path"`
	DataDir             string           `json:"data_dir,omitempty"`
	AssetHash           string           `json:"asset_hash,omitempty"`
	ThumbHash           string           `json:"thumb_hash,omitempty"`
	Dependencies        []string         `json:"dependencies,omitempty"`
	References          []string         `json:"references,omitempty"`
	MissingDependencies []string         `json:"missing_dependencies,omitempty"`
	MissingReferences   []string         `json:"missing_references,omitempty"`
	ImportPending       bool             `json:"import_pending,omitempty"`
	ParseError          string           `json:"parse_error,omitempty"`
	LastAccess          string           `json:"last_access,omitempty"`
	Log                 []asset.LogEntry `json:"log,omitempty"`
}

// Stats provides normalized per-state counts.
type Stats struct {
	Total    int            `json:"total"`
	Updating int            `json:"updating"`
	ByState  map[string]int `json:"by_state"`
}

// DependencyStatus captures availability of an external program.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missing_required"`
	MissingOptional int    `json:"missing_optional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running           bool               `json:"running"`
	PID               int                `json:"pid"`
	Platform          string             `json:"platform"`
	CacheDBPath       string             `json:"cache_db_path"`
	LockFilePath      string             `json:"lock_file_path"`
	LogPath           string             `json:"log_path,omitempty"`
	APIBind           string             `json:"api_bind,omitempty"`
	Watching          bool               `json:"watching"`
	LastFullTransform string             `json:"last_full_transform,omitempty"`
	Stats             Stats              `json:"stats"`
	Pool              processor.Status   `json:"pool"`
	Dependencies      []DependencyStatus `json:"dependencies"`
	Cache             *store.Health      `json:"cache,omitempty"`
}

// AssetListResponse wraps a collection of assets.
type AssetListResponse struct {
	Assets []AssetView `json:"assets"`
}

// AssetResponse wraps a single asset.
type AssetResponse struct {
	Asset AssetView `json:"asset"`
}

// UsesResponse lists the assets that depend on or reference an asset.
type UsesResponse struct {
	Asset      AssetView   `json:"asset"`
	Transitive bool        `json:"transitive"`
	Users      []AssetView `json:"users"`
}

// LogStreamResponse wraps a page of structured log events.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}
