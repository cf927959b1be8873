package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesJSONToRunDir(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run-1")

	logger, err := NewLogger(runDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.WithRun("run-1").WithStage("extraction").Info("stage started", "workers", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(runDir, "debug.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\nline: %s", err, line)
	}

	if entry["msg"] != "stage started" {
		t.Errorf("msg = %v, want %q", entry["msg"], "stage started")
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want %q", entry["run_id"], "run-1")
	}
	if entry["stage"] != "extraction" {
		t.Errorf("stage = %v, want %q", entry["stage"], "extraction")
	}
	if entry["workers"] != float64(3) {
		t.Errorf("workers = %v, want 3", entry["workers"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("surviving line = %q, want it to contain %q", lines[0], "kept")
	}
}

func TestChildLoggersDoNotMutateParent(t *testing.T) {
	parent := NopLogger()
	child := parent.WithStage("audit").WithWorker("auditor-1")

	if len(parent.attrs) != 0 {
		t.Errorf("parent attrs = %d, want 0", len(parent.attrs))
	}
	if len(child.attrs) != 2 {
		t.Errorf("child attrs = %d, want 2", len(child.attrs))
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
