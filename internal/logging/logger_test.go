package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (*logging.Options, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "curator.log")
	return &logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	}, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigCreatesLogDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "curator.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestConsoleLoggerFormatsComponentAndSlot(t *testing.T) {
	opts, path := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "worker")
	logger.Info("asset transformed", logging.Slot(2), logging.AssetID("abc"), logging.String("note", "two words"))

	line := readLog(t, path)
	if !strings.Contains(line, "INFO worker [slot 2]: asset transformed") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "asset_id=abc") {
		t.Fatalf("expected asset id field: %q", line)
	}
	if !strings.Contains(line, `note="two words"`) {
		t.Fatalf("expected quoted value: %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("info logs should omit source: %q", line)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	opts, path := newFileLogger(t, "console", "debug")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("with source")
	if !strings.Contains(readLog(t, path), "logger_test.go:") {
		t.Fatal("expected source location in debug output")
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	opts, path := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("slow hash", logging.Path("textures/a.png"))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["level"] != "warn" || payload["msg"] != "slow hash" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
	if payload["path"] != "textures/a.png" {
		t.Fatalf("expected path field: %v", payload)
	}
}

func TestJSONLoggerRendersHashAndGroup(t *testing.T) {
	opts, path := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("asset dispatched",
		logging.Hash("combined_hash", 0xbeef),
		logging.Group("hull", logging.Int("dependencies", 2), logging.Int("references", 1)))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["combined_hash"] != "000000000000beef" {
		t.Fatalf("unexpected hash rendering: %v", payload)
	}
	hull, ok := payload["hull"].(map[string]any)
	if !ok || hull["dependencies"] != float64(2) {
		t.Fatalf("expected grouped hull fields: %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsAssetAndSlot(t *testing.T) {
	opts, path := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithAssetID(context.Background(), "a-1")
	ctx = services.WithSlot(ctx, 3)
	ctx = services.WithRequestID(ctx, "req-9")

	logging.WithContext(ctx, logger).Info("tagged")

	line := readLog(t, path)
	for _, want := range []string{"asset_id=a-1", "correlation_id=req-9"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	opts, path := newFileLogger(t, "json", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "sidecar unreadable", "sidecar_parse_failed", logging.String(logging.FieldImpact, "asset skipped"))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload[logging.FieldEventType] != "sidecar_parse_failed" {
		t.Fatalf("missing event type: %v", payload)
	}
	if payload[logging.FieldErrorHint] == nil {
		t.Fatalf("missing error hint: %v", payload)
	}
	if payload[logging.FieldImpact] != "asset skipped" {
		t.Fatalf("caller impact should win: %v", payload)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should never be enabled")
	}
}

func TestConsoleLoggerPrefixesGroupedKeys(t *testing.T) {
	opts, path := newFileLogger(t, "console", "info")
	logger, err := logging.New(*opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "scheduler").With(logging.Int("pass", 1)).WithGroup("pick")
	logger.Info("assignment ready", logging.Int("slot_count", 3), logging.Group("hull", logging.Int("size", 4)))

	line := readLog(t, path)
	for _, want := range []string{"scheduler: assignment ready", " pass=1", " pick.slot_count=3", " pick.hull.size=4"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}
