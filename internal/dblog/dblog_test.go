package dblog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	log := Component(base, "wal")
	log.Info("flushed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["component"] != "wal" {
		t.Errorf("got component=%v, want wal", entry["component"])
	}
}

func TestNamespaceAddsField(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	log := Namespace(base, "issues")
	log.Info("compacted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["ns"] != "issues" {
		t.Errorf("got ns=%v, want issues", entry["ns"])
	}
}

func TestNewDefaultsToStderr(t *testing.T) {
	log := New(nil, slog.LevelInfo)
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewWritesJSONToGivenFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	log := New(f, slog.LevelDebug)
	log.Debug("hello", slog.Int("n", 1))

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("expected valid JSON log line, got %q: %v", data, err)
	}
}
