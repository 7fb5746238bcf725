package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/nvplug/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_SessionFields(t *testing.T) {
	meta := &types.SessionMeta{SessionID: "sess-1", PluginName: "scratch", Prefix: "scr", Mode: types.ModeEmbed}
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(meta, &buf, zapcore.DebugLevel)

	logger.Info("started", map[string]any{"channel": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", e["session_id"])
	}
	if e["plugin"] != "scratch" {
		t.Errorf("plugin = %v, want scratch", e["plugin"])
	}
	if e["mode"] != "embed" {
		t.Errorf("mode = %v, want embed", e["mode"])
	}
	if e["message"] != "started" {
		t.Errorf("message = %v, want started", e["message"])
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["channel"] != float64(3) {
		t.Errorf("fields = %v, want channel=3", e["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(nil, &buf, zapcore.WarnLevel)

	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("shown", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "shown" {
		t.Fatalf("entries = %v, want only the warn entry", entries)
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(nil, &buf, zapcore.DebugLevel).Named("dispatch")
	logger.Error("boom", nil)

	entries := decodeLines(t, &buf)
	if entries[0]["component"] != "dispatch" {
		t.Errorf("component = %v, want dispatch", entries[0]["component"])
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	if err != nil || lvl != zapcore.InfoLevel {
		t.Errorf("ParseLevel(\"\") = %v, %v; want info", lvl, err)
	}
	lvl, err = ParseLevel("warn")
	if err != nil || lvl != zapcore.WarnLevel {
		t.Errorf("ParseLevel(warn) = %v, %v; want warn", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
