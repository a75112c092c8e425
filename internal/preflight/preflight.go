package preflight

import (
	"context"
	"fmt"

	"curator/internal/config"
	"curator/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes all preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for i, dir := range cfg.Paths.DataDirs {
		name := "Data directory"
		if len(cfg.Paths.DataDirs) > 1 {
			name = fmt.Sprintf("Data directory %d", i+1)
		}
		// A missing data dir is skipped by scans, so it only warns.
		r := CheckReadableDirectory(name, dir)
		r.Optional = true
		results = append(results, r)
	}
	results = append(results,
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
	)
	if cfg.Project.File != "" {
		results = append(results, CheckProjectFile(cfg.Project.File))
	}
	for _, status := range CheckSystemDeps(ctx, cfg) {
		results = append(results, fromStatus(status))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(status deps.Status) Result {
	r := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
	if status.Available {
		r.Detail = status.Command
	} else {
		r.Detail = status.Detail
	}
	return r
}
