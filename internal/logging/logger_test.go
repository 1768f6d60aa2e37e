package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloven/internal/config"
	"cloven/internal/logging"
)

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller", logging.String(logging.FieldStage, "canon"), logging.Int(logging.FieldWorker, 2))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", text)
	}
	if !strings.Contains(text, "CANON · Worker #2") {
		t.Fatalf("expected stage/worker subject in header, got %q", text)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")

	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	for _, key := range []string{"ts", "level", "msg", "k"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected key %q in %v", key, record)
		}
	}
	if record["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", record["level"])
	}
}

func TestJSONLoggerKeepsInnermostComponentAndStage(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "layers.log")

	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	stage := logging.NewComponentLogger(logger, "workflow").With(logging.String(logging.FieldStage, "gap"))
	pool := logging.NewComponentLogger(stage, "pool")
	pool.Info("worker died", logging.String(logging.FieldStage, "gap"), logging.Int(logging.FieldWorker, 2))
	pool.WithGroup("chunk").Info("grouped", logging.Int("keys", 3))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %q", content)
	}
	for _, line := range lines {
		if n := strings.Count(line, `"component":`); n != 1 {
			t.Fatalf("expected one component key, got %d in %s", n, line)
		}
		if n := strings.Count(line, `"stage":`); n != 1 {
			t.Fatalf("expected one stage key, got %d in %s", n, line)
		}
		if !strings.Contains(line, `"component":"pool"`) {
			t.Fatalf("expected the innermost component, got %s", line)
		}
	}
	if !strings.Contains(lines[1], `"chunk":{"keys":3}`) {
		t.Fatalf("group attributes lost: %s", lines[1])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := logging.WithRunID(context.Background(), "run-1")
	ctx = logging.WithStage(ctx, "gap")
	logging.WithContext(ctx, base).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldRunID] != "run-1" || record[logging.FieldStage] != "gap" {
		t.Fatalf("unexpected context fields: %v", record)
	}
}

func TestStageOverrideLowersThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "info"
	cfg.Logging.StageOverrides = map[string]string{"gap": "debug"}

	logPath := filepath.Join(t.TempDir(), "override.log")
	logger, err := logging.NewFromConfig(&cfg, logPath)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}

	logger.Debug("base debug hidden")
	logging.ForStage(logger, cfg.Logging.StageOverrides, "canon").Debug("canon debug hidden")
	logging.ForStage(logger, cfg.Logging.StageOverrides, "GAP").Debug("gap debug shown")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if strings.Contains(text, "hidden") {
		t.Fatalf("expected base threshold to hide debug lines, got %q", text)
	}
	if !strings.Contains(text, "gap debug shown") {
		t.Fatalf("expected gap override to emit debug line, got %q", text)
	}
}

func TestRunFileHandlerTagsRunID(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	handler, path, err := logging.NewRunFileHandler(&cfg, "abc123")
	if err != nil {
		t.Fatalf("NewRunFileHandler returned error: %v", err)
	}
	logger := logging.TeeLogger(logging.NewNop(), handler)
	logger.Info("tee'd")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(content), `"run_id":"abc123"`) {
		t.Fatalf("expected run id in run log, got %q", content)
	}
}

func TestRunFileHandlerDoesNotDuplicateContextRunID(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	handler, path, err := logging.NewRunFileHandler(&cfg, "abc123")
	if err != nil {
		t.Fatalf("NewRunFileHandler returned error: %v", err)
	}
	ctx := logging.WithRunID(context.Background(), "abc123")
	logger := logging.WithContext(ctx, logging.TeeLogger(logging.NewNop(), handler))
	logger.Info("tagged once")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if got := strings.Count(string(content), `"run_id"`); got != 1 {
		t.Fatalf("expected run_id once, found %d times in %q", got, content)
	}
}
