package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "docqa.log")
	log, closer, err := New(Config{Level: "warn", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept", "chunks", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["chunks"] != float64(3) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected an error for an unknown format")
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing happens")
}
