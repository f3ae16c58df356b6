package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := New(&out, &errOut)

	l.Info("converted %d images", 3)
	l.Warning("prompt outside crop")
	l.Error("failed: %v", "boom")

	if !strings.Contains(out.String(), "INFO") || !strings.Contains(out.String(), "converted 3 images") {
		t.Errorf("Unexpected info output: %q", out.String())
	}
	if !strings.Contains(out.String(), "WARNING") {
		t.Errorf("Expected warning on out, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "ERROR") || !strings.Contains(errOut.String(), "boom") {
		t.Errorf("Unexpected error output: %q", errOut.String())
	}
}

func TestNewWithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewWithDir(dir)
	if err != nil {
		t.Fatalf("NewWithDir failed: %v", err)
	}
	l.Warning("written to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "warning.log"))
	if err != nil {
		t.Fatalf("Expected warning.log: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Unexpected warning.log content: %q", data)
	}
}
