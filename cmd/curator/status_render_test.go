package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"curator/internal/api"
	"curator/internal/logging"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	line := renderStatusLine("Curator", statusOK, "Running", false)
	if !strings.Contains(line, "Curator:") || !strings.Contains(line, "[OK] Running") {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("did not expect ANSI codes: %q", line)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	line := renderStatusLine("Worker", statusError, "missing", true)
	if !strings.HasPrefix(line, ansiRed) || !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected red line, got %q", line)
	}
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]api.DependencyStatus{
		{Name: "Worker", Command: "curator-worker", Available: true},
		{Name: "Converter", Optional: true, Severity: "warn", Detail: "not found"},
	}, api.DependencySummary{Severity: "warn", Detail: "1/2 available"}, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "Ready (curator-worker)") {
		t.Fatalf("unexpected ready line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[WARN] not found") {
		t.Fatalf("unexpected missing line: %q", lines[2])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}

func TestRelativeTime(t *testing.T) {
	if got := relativeTime(""); got != "never" {
		t.Fatalf("expected never, got %q", got)
	}
	if got := relativeTime("garbage"); got != "garbage" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	past := time.Now().Add(-3 * time.Hour).UTC().Format(time.RFC3339)
	if got := relativeTime(past); !strings.Contains(got, "hours ago") {
		t.Fatalf("unexpected relative time: %q", got)
	}
}

func TestFormatLogEvent(t *testing.T) {
	line := formatLogEvent(logging.LogEvent{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
		Level:     "warn",
		Component: "processor",
		Slot:      2,
		Path:      "textures/moss.png",
		Message:   "worker crashed",
		Fields:    map[string]string{"exit_code": "137"},
	})
	for _, want := range []string{"WARN", "[processor]", "slot=2", "textures/moss.png", "- worker crashed", "exit_code: 137"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}
