package api

import (
	"fmt"

	"curator/internal/asset"
)

// FormatHash renders a content hash. Zero means not computed.
func FormatHash(h uint64) string {
	if h == 0 {
		return ""
	}
	return fmt.Sprintf("%016x", h)
}

// FromInfo converts a registry record. The worker log is only carried when
// detail is set since list views would otherwise grow without bound.
func FromInfo(info asset.Info, updating, detail bool) AssetView {
	view := AssetView{
		ID:                  info.ID.String(),
		State:               string(info.State),
		Existence:           string(info.Existence),
		Updating:            updating,
		Path:                info.RelativePath,
		AbsolutePath:        info.AbsolutePath,
		DataDir:             info.DataDir,
		AssetHash:           FormatHash(info.AssetHash),
		ThumbHash:           FormatHash(info.ThumbHash),
		MissingDependencies: info.MissingDependencies,
		MissingReferences:   info.MissingReferences,
		ParseError:          info.ParseError,
	}
	if view.State == "" {
		view.State = string(asset.StateUnknown)
	}
	if !info.LastAccess.IsZero() {
		view.LastAccess = info.LastAccess.UTC().Format(dateTimeFormat)
	}
	if d := info.Declared; d != nil {
		view.Type = d.Type
		view.Dependencies = d.Dependencies
		view.References = d.References
		view.ImportPending = d.ImportPending
	}
	if detail {
		view.Log = info.LastLog
	}
	return view
}

// FromStats converts per-state counts, listing every state even when zero.
func FromStats(stats asset.Stats) Stats {
	out := Stats{
		Total:    stats.Total,
		Updating: stats.Updating,
		ByState:  make(map[string]int, len(asset.AllStates())),
	}
	for _, state := range asset.AllStates() {
		out.ByState[string(state)] = stats.ByState[state]
	}
	return out
}
