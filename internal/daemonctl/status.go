package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"curator/internal/api"
	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/ipc"
	"curator/internal/preflight"
	"curator/internal/store"
)

// Severities understood by the CLI status renderer.
const (
	sevOK    = "ok"
	sevInfo  = "info"
	sevWarn  = "warn"
	sevError = "error"
)

func statusLine(label, severity, detail string) api.StatusLine {
	return api.StatusLine{Label: label, Severity: severity, Detail: detail}
}

// passFail picks the severity of a check that either passed or failed.
func passFail(passed bool, failed string) string {
	if passed {
		return sevOK
	}
	return failed
}

// StatusSnapshot is the combined view printed by the status command.
type StatusSnapshot struct {
	Reachable         bool                  `json:"reachable"`
	Daemon            api.DaemonStatus      `json:"daemon"`
	SystemChecks      []api.StatusLine      `json:"system_checks"`
	DataDirs          []api.StatusLine      `json:"data_dirs"`
	DependencySummary api.DependencySummary `json:"dependency_summary"`
}

// offlineQueryTimeout bounds reads of the cache database when the daemon is
// down.
const offlineQueryTimeout = 2 * time.Second

// BuildStatusSnapshot asks the daemon for its status. When the daemon does
// not answer, counts and cache health come from the cache database instead.
// Local checks are always evaluated by the caller's process.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}
	if status, ok := daemonStatus(cfg.Paths.SocketPath); ok {
		snapshot.Reachable = true
		snapshot.Daemon = status
	} else {
		snapshot.Daemon = api.DaemonStatus{
			Platform:     cfg.Project.Platform,
			CacheDBPath:  cfg.CacheDBPath(),
			LockFilePath: cfg.LockPath(),
		}
		queryCtx, cancel := context.WithTimeout(ctx, offlineQueryTimeout)
		defer cancel()
		if stats, health, found := offlineCache(queryCtx, cfg); found {
			snapshot.Daemon.Stats = stats
			snapshot.Daemon.Cache = health
		}
	}

	deps := snapshot.Daemon.Dependencies
	if len(deps) == 0 {
		deps = ResolveDependencies(ctx, cfg)
	}
	for i := range deps {
		if strings.TrimSpace(deps[i].Severity) == "" {
			deps[i].Severity = dependencySeverity(deps[i].Available, deps[i].Optional)
		}
	}
	snapshot.Daemon.Dependencies = deps
	snapshot.DependencySummary = BuildDependencySummary(deps)

	daemon := snapshot.Daemon
	snapshot.SystemChecks = BuildSystemChecks(cfg, snapshot.Reachable, daemon.Running, daemon.Watching)
	snapshot.DataDirs = BuildDataDirChecks(cfg)
	if daemon.Cache != nil {
		snapshot.DataDirs = append(snapshot.DataDirs, CacheHealthLine(*daemon.Cache))
	}
	return snapshot, nil
}

func daemonStatus(socketPath string) (api.DaemonStatus, bool) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return api.DaemonStatus{}, false
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil || resp == nil {
		return api.DaemonStatus{}, false
	}
	return resp.Status, true
}

// offlineCache counts persisted assets by state and inspects the cache
// database. It never creates the database when it does not exist yet.
func offlineCache(ctx context.Context, cfg *config.Config) (api.Stats, *store.Health, bool) {
	dbPath := cfg.CacheDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		return api.Stats{}, nil, false
	}
	st, err := store.OpenPath(dbPath)
	if err != nil {
		return api.Stats{}, &store.Health{Path: dbPath, Exists: true, Error: err.Error()}, true
	}
	defer st.Close()
	health, err := st.CheckHealth(ctx)
	if err != nil && health.Error == "" {
		health.Error = err.Error()
	}
	records, err := st.LoadAssets(ctx)
	if err != nil {
		return api.Stats{}, &health, true
	}
	stats := asset.Stats{ByState: make(map[asset.State]int)}
	for _, rec := range records {
		stats.Total++
		stats.ByState[rec.State]++
	}
	return api.FromStats(stats), &health, true
}

// CacheHealthLine summarizes the cache database for the status output.
func CacheHealthLine(h store.Health) api.StatusLine {
	const label = "Cache DB"
	switch {
	case h.Error != "":
		return statusLine(label, sevError, h.Error)
	case !h.Exists:
		return statusLine(label, sevInfo, "not created yet")
	case !h.IntegrityOK:
		return statusLine(label, sevError, "integrity check failed; run curator cache clear")
	}
	return statusLine(label, sevOK, fmt.Sprintf("v%d, %d files, %d outputs, %d assets",
		h.SchemaVersion, h.TrackedFiles, h.LedgerEntries, h.SnapshotAssets))
}

func dependencySeverity(available, optional bool) string {
	if optional {
		return passFail(available, sevWarn)
	}
	return passFail(available, sevError)
}

// ResolveDependencies checks the external programs the daemon relies on.
func ResolveDependencies(ctx context.Context, cfg *config.Config) []api.DependencyStatus {
	if cfg == nil {
		return nil
	}
	checks := preflight.CheckSystemDeps(ctx, cfg)
	statuses := make([]api.DependencyStatus, len(checks))
	for i, check := range checks {
		statuses[i] = api.DependencyStatus{
			Name:        check.Name,
			Command:     check.Command,
			Description: check.Description,
			Optional:    check.Optional,
			Available:   check.Available,
			Detail:      check.Detail,
			Severity:    dependencySeverity(check.Available, check.Optional),
		}
	}
	return statuses
}

// BuildSystemChecks combines runtime state with configuration checks:
// processing, file watching, project file, notifications and the HTTP API.
func BuildSystemChecks(cfg *config.Config, reachable, processing, watching bool) []api.StatusLine {
	return []api.StatusLine{
		processingLine(reachable, processing),
		watchLine(cfg.Scanner.Watch, processing, watching),
		projectLine(cfg.Project),
		notificationsLine(cfg.Notifications.NtfyTopic),
		apiLine(cfg.API),
	}
}

func processingLine(reachable, processing bool) api.StatusLine {
	const label = "Curator"
	switch {
	case processing:
		return statusLine(label, sevOK, "Running")
	case reachable:
		return statusLine(label, sevWarn, "Paused (run `curator start`)")
	}
	return statusLine(label, sevWarn, "Not running (run `curator start`)")
}

func watchLine(enabled, processing, watching bool) api.StatusLine {
	const label = "File Watching"
	switch {
	case !enabled:
		return statusLine(label, sevInfo, "Disabled (scan manually with `curator scan`)")
	case watching:
		return statusLine(label, sevOK, "Active")
	case processing:
		return statusLine(label, sevWarn, "Configured but inactive")
	}
	return statusLine(label, sevInfo, "Inactive (daemon not running)")
}

func projectLine(project config.Project) api.StatusLine {
	if strings.TrimSpace(project.File) == "" {
		return statusLine("Project", sevInfo, project.Name)
	}
	check := preflight.CheckProjectFile(project.File)
	return statusLine("Project", passFail(check.Passed, sevWarn), check.Detail)
}

func notificationsLine(topic string) api.StatusLine {
	if strings.TrimSpace(topic) == "" {
		return statusLine("Notifications", sevInfo, "Not configured")
	}
	return statusLine("Notifications", sevOK, "Configured")
}

func apiLine(cfg config.API) api.StatusLine {
	bind := strings.TrimSpace(cfg.Bind)
	switch {
	case bind == "":
		return statusLine("HTTP API", sevInfo, "Disabled")
	case strings.TrimSpace(cfg.Token) == "":
		return statusLine("HTTP API", sevWarn, bind+" (mutating routes unauthenticated)")
	}
	return statusLine("HTTP API", sevOK, bind)
}

// BuildDataDirChecks reports readable data directories and writable cache
// and output directories. An unreadable data directory only warns since the
// curator skips it.
func BuildDataDirChecks(cfg *config.Config) []api.StatusLine {
	lines := make([]api.StatusLine, 0, len(cfg.Paths.DataDirs)+2)
	for i, dir := range cfg.Paths.DataDirs {
		label := fmt.Sprintf("Data %d", i+1)
		check := preflight.CheckReadableDirectory(label, dir)
		lines = append(lines, statusLine(label, passFail(check.Passed, sevWarn), check.Detail))
	}
	for _, dir := range [...][2]string{{"Cache", cfg.Paths.CacheDir}, {"Output", cfg.Paths.OutputDir}} {
		check := preflight.CheckDirectoryAccess(dir[0], dir[1])
		lines = append(lines, statusLine(dir[0], passFail(check.Passed, sevError), check.Detail))
	}
	return lines
}

// BuildDependencySummary counts available and missing dependencies.
func BuildDependencySummary(deps []api.DependencyStatus) api.DependencySummary {
	if len(deps) == 0 {
		return api.DependencySummary{Severity: sevInfo, Detail: "No dependency checks configured"}
	}
	summary := api.DependencySummary{Total: len(deps)}
	for _, dep := range deps {
		switch {
		case dep.Available:
			summary.Available++
		case dep.Optional:
			summary.MissingOptional++
		default:
			summary.MissingRequired++
		}
	}
	switch {
	case summary.MissingRequired > 0:
		summary.Severity = sevError
	case summary.MissingOptional > 0:
		summary.Severity = sevWarn
	default:
		summary.Severity = sevOK
	}
	summary.Detail = fmt.Sprintf("%d/%d available", summary.Available, summary.Total)
	if summary.Available < summary.Total {
		summary.Detail += fmt.Sprintf(" (missing: %d required, %d optional)", summary.MissingRequired, summary.MissingOptional)
	}
	return summary
}
