package ipc

import (
	"curator/internal/api"
	"curator/internal/logging"
)

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest pauses processing. With Exit set the daemon process also terminates.
type StopRequest struct {
	Exit bool `json:"exit"`
}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status DTO.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// StatsRequest fetches per-state counts.
type StatsRequest struct{}

// StatsResponse carries per-state counts.
type StatsResponse struct {
	Stats api.Stats `json:"stats"`
}

// AssetListRequest filters the asset listing.
type AssetListRequest struct {
	States []string `json:"states"`
	Type   string   `json:"type"`
	Search string   `json:"search"`
}

// AssetListResponse contains matching assets.
type AssetListResponse struct {
	Assets []api.AssetView `json:"assets"`
}

// AssetRequest addresses one asset by id or path.
type AssetRequest struct {
	Ref string `json:"ref"`
}

// AssetResponse returns a single asset.
type AssetResponse struct {
	Asset api.AssetView `json:"asset"`
}

// UsesRequest asks which assets use Ref.
type UsesRequest struct {
	Ref        string `json:"ref"`
	Transitive bool   `json:"transitive"`
}

// UsesResponse lists the users of an asset.
type UsesResponse = api.UsesResponse

// ScanRequest triggers a full filesystem sweep.
type ScanRequest struct{}

// CountResponse reports how many assets an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// EmptyRequest is used by parameterless operations.
type EmptyRequest struct{}

// PlatformRequest switches the active platform.
type PlatformRequest struct {
	Name string `json:"name"`
}

// PlatformResponse echoes the active platform.
type PlatformResponse struct {
	Platform string `json:"platform"`
}

// LogTailRequest asks for raw lines from the daemon log file.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// LogFetchRequest queries the structured log stream.
type LogFetchRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	AssetID    string `json:"asset_id"`
	Component  string `json:"component"`
	Level      string `json:"level"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// LogFetchResponse returns structured events and the next cursor.
type LogFetchResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test status.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
