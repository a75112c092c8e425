package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"curator/internal/api"
	"curator/internal/asset"
)

// statusKind grades a status line; it indexes statusStyles.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

var statusStyles = [...]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

var (
	ansiRed  = statusStyles[statusError].color
	ansiBlue = statusStyles[statusInfo].color
)

func (k statusKind) style() (label, color string) {
	if k < 0 || int(k) >= len(statusStyles) {
		k = statusInfo
	}
	return statusStyles[k].label, statusStyles[k].color
}

// renderStatusLine pads label into a fixed column so status sections line up.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag, color := kind.style()
	line := fmt.Sprintf("  %-18s [%s]", label+":", tag)
	if message != "" {
		line += " " + message
	}
	if !colorize {
		return line
	}
	return color + line + ansiReset
}

var severityKinds = map[string]statusKind{
	"ok":      statusOK,
	"warn":    statusWarn,
	"warning": statusWarn,
	"error":   statusError,
}

func statusKindFromSeverity(severity string) statusKind {
	return severityKinds[strings.ToLower(strings.TrimSpace(severity))]
}

// stateKind maps asset states onto status colors for tables and detail views.
func stateKind(state string) statusKind {
	switch asset.State(state) {
	case asset.StateUpToDate:
		return statusOK
	case asset.StateTransformError, asset.StateMissingDependency, asset.StateMissingReference:
		return statusError
	case asset.StateNeedsImport, asset.StateNeedsTransform, asset.StateNeedsThumbnail:
		return statusWarn
	default:
		return statusInfo
	}
}

func colorState(state string, colorize bool) string {
	if !colorize {
		return state
	}
	_, color := stateKind(state).style()
	return color + state + ansiReset
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func dependencyLines(deps []api.DependencyStatus, summary api.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusKindFromSeverity(dep.Severity), detail, colorize))
	}
	return lines
}

// relativeTime renders an RFC3339 timestamp as "3 minutes ago". Unparsable
// values are returned unchanged.
func relativeTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "never"
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(t)
}

func stateRows(stats api.Stats) [][]string {
	rows := make([][]string, 0, len(stats.ByState))
	for _, state := range asset.AllStates() {
		count := stats.ByState[string(state)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(state), humanize.Comma(int64(count))})
	}
	return rows
}
