package logger

import (
	"path/filepath"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loomd.log")
	if err := Init("debug", path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Log == nil {
		t.Fatalf("expected Log to be initialized")
	}
	Info("test message", "k", "v")
}

func TestComponentTagsLoggerWithName(t *testing.T) {
	if err := Init("info", ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l := Component("broker")
	if l == nil {
		t.Fatalf("expected a non-nil component logger")
	}
}
