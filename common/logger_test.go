package common

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppLogger_SetLevel(t *testing.T) {
	logger := NewLogger(io.Discard, LevelInfo)

	logger.SetLevel(LevelDebug)
	if got := logger.Level(); got != LevelDebug {
		t.Errorf("SetLevel did not update level, got %v, want %v", got, LevelDebug)
	}
}

func TestAppLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, LevelWarn)

	// Debug and Info should be filtered
	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is Warn")
	}

	// Warn and Error should pass
	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "WARN") {
		t.Error("Warn message should be logged")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "ERROR") {
		t.Error("Error message should be logged")
	}
}

func TestAppLogger_LogFormatting(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, LevelDebug)

	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	// Check timestamp format (YYYY/MM/DD)
	if !strings.Contains(output, time.Now().Format("2006/01/02")) {
		t.Error("Log should contain date in YYYY/MM/DD format")
	}

	// Check level
	if !strings.Contains(output, "[INFO]") {
		t.Error("Log should contain level indicator")
	}

	// Check message
	if !strings.Contains(output, "Test message with formatting") {
		t.Error("Log should contain formatted message")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	// Test default values
	if defaultMaxFileSize != 5*1024*1024 {
		t.Errorf("defaultMaxFileSize = %v, want 5MB", defaultMaxFileSize)
	}

	if defaultMaxBackups != 5 {
		t.Errorf("defaultMaxBackups = %v, want 5", defaultMaxBackups)
	}
}

func TestGetConfigDir(t *testing.T) {
	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if dir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	if !strings.HasSuffix(dir, ConfigDirName) {
		t.Errorf("GetConfigDir() = %v, should end with %v", dir, ConfigDirName)
	}
}

func TestFileExists(t *testing.T) {
	// Test with existing file
	tempFile, err := os.CreateTemp("", "test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tempFile.Name())
	tempFile.Close()

	if !FileExists(tempFile.Name()) {
		t.Error("FileExists() should return true for existing file")
	}

	// Test with non-existing file
	if FileExists("/nonexistent/path/to/file") {
		t.Error("FileExists() should return false for non-existing file")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
		{1500 * time.Millisecond, "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.in); got != tt.want {
				t.Errorf("FormatDuration(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"123", "***"},
		{"1234567890123456", "************3456"},
	}

	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAppLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug).With("reconciler")

	logger.Debug("applied event %d", 7)

	if !strings.Contains(buf.String(), "reconciler: applied event 7") {
		t.Errorf("component prefix missing from %q", buf.String())
	}
}

func TestWrapError(t *testing.T) {
	originalErr := ErrConnectionFailed
	wrapped := WrapError(originalErr, "additional context")

	if wrapped == nil {
		t.Error("WrapError should return non-nil error")
	}

	if !strings.Contains(wrapped.Error(), "additional context") {
		t.Error("WrapError should include additional context")
	}

	if !strings.Contains(wrapped.Error(), originalErr.Error()) {
		t.Error("WrapError should include original error message")
	}

	// Test with nil error
	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestLogRotation_OnOpen(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, LogFileName)

	// Create a log file larger than threshold
	largeContent := strings.Repeat("x", 1024*1024) // 1MB
	if err := os.WriteFile(logFile, []byte(largeContent), 0600); err != nil {
		t.Fatal(err)
	}

	logger := NewLogger(io.Discard, LevelInfo)
	logger.sink.maxFileSize = 512 * 1024
	defer logger.Close()

	if err := logger.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log file size = %d, want a fresh file", info.Size())
	}

	matches, _ := filepath.Glob(logFile + ".*.gz")
	if len(matches) != 1 {
		t.Errorf("expected 1 compressed backup, got %v", matches)
	}
}

func TestLogRotation_WhileWriting(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(io.Discard, LevelInfo)
	logger.sink.maxFileSize = 200
	logger.sink.maxBackups = 2
	defer logger.Close()

	if err := logger.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		logger.Info("line %d %s", i, strings.Repeat("y", 40))
	}

	backups, _ := filepath.Glob(filepath.Join(dir, LogFileName) + ".*")
	if len(backups) != 2 {
		t.Errorf("expected 2 backups kept, got %d", len(backups))
	}
	info, err := os.Stat(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() >= 200 {
		t.Errorf("active log file size = %d, want below the limit", info.Size())
	}
}

func TestAppLogger_WithFollowsParent(t *testing.T) {
	var first, second bytes.Buffer
	root := NewLogger(&first, LevelInfo)
	child := root.With("client").With("transport")

	child.Debug("hidden")
	root.SetLevel(LevelDebug)
	root.SetOutput(&second)
	child.Debug("dialling")

	if first.Len() != 0 {
		t.Errorf("old output = %q, want nothing", first.String())
	}
	if !strings.Contains(second.String(), "client.transport: dialling") {
		t.Errorf("child output = %q", second.String())
	}
}

func TestAppLogger_FileFollowsConsole(t *testing.T) {
	var console bytes.Buffer
	logger := NewLogger(&console, LevelInfo)
	defer logger.Close()

	dir := t.TempDir()
	if err := logger.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	logger.Info("first")

	var replaced bytes.Buffer
	logger.SetOutput(&replaced)
	logger.Info("second")

	if !strings.Contains(console.String(), "first") || strings.Contains(console.String(), "second") {
		t.Errorf("console output = %q", console.String())
	}
	if !strings.Contains(replaced.String(), "second") {
		t.Errorf("replaced output = %q", replaced.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("log file = %q, want both lines", data)
	}
}
