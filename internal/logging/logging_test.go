package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	log, closeLog, err := New("debug", "json", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("cycle done")
	closeLog()
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"cycle done"`) {
		t.Fatalf("expected entry in file, got %q", data)
	}
}

func TestNewLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	log, closeLog, err := New("warn", "console", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	closeLog()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	if _, _, err := New("loud", "console", ""); err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := New("info", "xml", ""); err == nil {
		t.Fatalf("expected format error")
	}
	if _, _, err := New("info", "console", filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestCloseFlushesBeforeExitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	log, closeLog, err := New("info", "json", path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Error("cycle failed")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"cycle failed"`) {
		t.Fatalf("expected entry flushed on close, got %q", data)
	}
	// Writes after close go nowhere but must not panic.
	log.Info("late")
}
