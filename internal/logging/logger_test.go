// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

// decodeLines parses every JSON line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Output is not valid JSON: %v (%q)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit_idempotent verifies only the first Init takes effect.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = sync.Once{}

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	Init(&buf2, LevelDebug)
	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}

	Info("hello")
	if buf1.Len() == 0 {
		t.Error("first writer should receive output")
	}
	if buf2.Len() != 0 {
		t.Error("second writer should not receive output")
	}
}

// TestParseLevel verifies config strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =====================================================
// Level Filtering Tests
// =====================================================

// TestLogger_filtering verifies entries below the minimum level are dropped.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", io.EOF)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "warning" || entries[1].Level != "error" {
		t.Errorf("levels = %q, %q", entries[0].Level, entries[1].Level)
	}
}

// TestLogger_SetLevel verifies the level can be lowered at runtime.
func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Debug("hidden")
	logger.SetLevel(LevelDebug)
	logger.Debug("shown")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Message != "shown" {
		t.Errorf("entries = %+v", entries)
	}
}

// =====================================================
// Entry Shape Tests
// =====================================================

// TestLogger_jsonFormat verifies the JSON fields of an entry.
func TestLogger_jsonFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("scan queued", map[string]interface{}{"qr_token": "abc123", "depth": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "scan queued" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Level != "info" {
		t.Errorf("Level = %q, want info", entry.Level)
	}
	if entry.Timestamp == "" {
		t.Error("Timestamp should be set")
	}
	if entry.Context["qr_token"] != "abc123" {
		t.Errorf("qr_token = %v", entry.Context["qr_token"])
	}
	if entry.Context["depth"] != float64(3) {
		t.Errorf("depth = %v", entry.Context["depth"])
	}
}

// TestLogger_Error verifies the error text lands in the context.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("flush failed", io.ErrUnexpectedEOF)

	entry := decodeLines(t, &buf)[0]
	if entry.Level != "error" {
		t.Errorf("Level = %q, want error", entry.Level)
	}
	if entry.Context["error"] != io.ErrUnexpectedEOF.Error() {
		t.Errorf("error = %v", entry.Context["error"])
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("refresh failed", "REFRESH_FAILED", io.ErrUnexpectedEOF, map[string]interface{}{"route": "fallback"})

	entry := decodeLines(t, &buf)[0]
	if entry.Context["error_code"] != "REFRESH_FAILED" {
		t.Errorf("error_code = %v", entry.Context["error_code"])
	}
	if entry.Context["route"] != "fallback" {
		t.Errorf("route = %v", entry.Context["route"])
	}
}

// TestLogger_With verifies child loggers carry their fields.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo).With(map[string]interface{}{"component": "executor"})

	logger.Info("attempt", map[string]interface{}{"attempt": 1})

	entry := decodeLines(t, &buf)[0]
	if entry.Context["component"] != "executor" {
		t.Errorf("component = %v", entry.Context["component"])
	}
	if entry.Context["attempt"] != float64(1) {
		t.Errorf("attempt = %v", entry.Context["attempt"])
	}
}

// TestGetContext_merge verifies later maps override earlier ones.
func TestGetContext_merge(t *testing.T) {
	merged := getContext(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2},
	)
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("merged = %v", merged)
	}
	if getContext() != nil {
		t.Error("no maps should give nil context")
	}
}

// TestLogger_concurrentLogging verifies concurrent writers produce whole lines.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}
