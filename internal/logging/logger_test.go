// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
)

// resetGlobal clears the global logger so Init can run again.
func resetGlobal() {
	global = nil
	once = sync.Once{}
}

// decodeLine parses a single JSON log line.
func decodeLine(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v (%q)", err, buf.String())
	}
	return entry
}

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit verifies logger initialization.
func TestInit(t *testing.T) {
	resetGlobal()
	var buf bytes.Buffer
	Init(&buf, LevelInfo)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil after Init()")
	}
	if logger.out != &buf {
		t.Error("Init() did not set output writer correctly")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	resetGlobal()

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if Get().out != &buf1 {
		t.Error("Second Init() should be ignored, output writer changed")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	resetGlobal()

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
}

// TestParseLevel verifies config strings map to levels.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// =====================================================
// Log Level Tests
// =====================================================

// TestLogLevel_shouldLog verifies log level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logLevel LogLevel
		expected bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"debug logs at info", LevelInfo, LevelDebug, false},
		{"info logs at info", LevelInfo, LevelInfo, true},
		{"info logs at warn", LevelWarn, LevelInfo, false},
		{"warn logs at error", LevelError, LevelWarn, false},
		{"error logs at error", LevelError, LevelError, true},
		{"error logs at debug", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &Logger{minLevel: tt.minLevel}
			if got := logger.shouldLog(tt.logLevel); got != tt.expected {
				t.Errorf("shouldLog(%v) at minLevel %v = %v, want %v",
					tt.logLevel, tt.minLevel, got, tt.expected)
			}
		})
	}
}

// =====================================================
// Logging Tests
// =====================================================

// TestLogger_Debug verifies debug logging with context.
func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("test message", map[string]interface{}{"key": "value"})

	entry := decodeLine(t, &buf)
	if entry.Level != "debug" {
		t.Errorf("Level = %q, want 'debug'", entry.Level)
	}
	if entry.Message != "test message" {
		t.Errorf("Message = %q, want 'test message'", entry.Message)
	}
	if entry.Context["key"] != "value" {
		t.Errorf("Context['key'] = %v, want 'value'", entry.Context["key"])
	}
	if entry.Timestamp == "" {
		t.Error("Timestamp should be set")
	}
}

// TestLogger_Info verifies info logging without context.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("info message")

	entry := decodeLine(t, &buf)
	if entry.Level != "info" {
		t.Errorf("Level = %q, want 'info'", entry.Level)
	}
	if entry.Context != nil {
		t.Errorf("Context = %v, want nil", entry.Context)
	}
}

// TestLogger_filtered verifies messages below the minimum level are dropped.
func TestLogger_filtered(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

// TestLogger_Error verifies error logging.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("storage write failed", io.ErrShortWrite, map[string]interface{}{"key": "offlineCheckinQueue"})

	entry := decodeLine(t, &buf)
	if entry.Level != "error" {
		t.Errorf("Level = %q, want 'error'", entry.Level)
	}
	if entry.Error != io.ErrShortWrite.Error() {
		t.Errorf("Error = %q, want %q", entry.Error, io.ErrShortWrite.Error())
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("queue load failed", "STORAGE_ERROR", io.ErrUnexpectedEOF,
		map[string]interface{}{"key": "offlineCheckinQueue"})

	entry := decodeLine(t, &buf)
	if entry.Code != "STORAGE_ERROR" {
		t.Errorf("Code = %q, want 'STORAGE_ERROR'", entry.Code)
	}
	if entry.Context["key"] != "offlineCheckinQueue" {
		t.Errorf("Context['key'] = %v", entry.Context["key"])
	}
}

// TestLogger_WarnWithCode verifies recovered failures log at warn.
func TestLogger_WarnWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.WarnWithCode("item failed", "VALIDATION_REJECTED", io.EOF)

	entry := decodeLine(t, &buf)
	if entry.Level != "warning" {
		t.Errorf("Level = %q, want 'warning'", entry.Level)
	}
	if entry.Code != "VALIDATION_REJECTED" {
		t.Errorf("Code = %q", entry.Code)
	}
}

// TestMergeContext verifies multiple context maps are merged.
func TestMergeContext(t *testing.T) {
	if mergeContext() != nil {
		t.Error("mergeContext() with no maps should be nil")
	}

	merged := mergeContext(
		map[string]interface{}{"a": 1},
		nil,
		map[string]interface{}{"b": 2, "a": 3},
	)
	if merged["a"] != 3 || merged["b"] != 2 {
		t.Errorf("merged = %v", merged)
	}
}

// TestGlobalFunctions verifies the package-level helpers use the global logger.
func TestGlobalFunctions(t *testing.T) {
	resetGlobal()
	var buf bytes.Buffer
	Init(&buf, LevelDebug)
	defer resetGlobal()

	Debug("d")
	Info("i")
	Warn("w")
	Error("e", io.EOF)
	ErrorWithCode("c", "ERR001", io.EOF)
	WarnWithCode("wc", "ERR002", io.EOF)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 6 {
		t.Errorf("got %d lines, want 6", len(lines))
	}
}
