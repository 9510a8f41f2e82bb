// Package common provides shared constants, types, and utilities
// used across the VPN daemon client.
package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a config or flag value into a LogLevel.
// Unknown values map to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// AppLogger is a leveled logger writing to a console writer and,
// optionally, to a size-rotated log file. Loggers derived with With share
// the level and destinations of their parent.
type AppLogger struct {
	sink   *logSink
	prefix string
}

// logSink is the state shared by a logger and everything derived from it.
type logSink struct {
	mu          sync.Mutex
	level       LogLevel
	console     io.Writer
	file        *os.File
	filePath    string
	fileSize    int64
	maxFileSize int64 // bytes before rotation (default: 5MB)
	maxBackups  int   // rotated files to keep (default: 5)
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	Console     io.Writer // defaults to os.Stdout
	EnableFile  bool
	Dir         string // defaults to GetLogDir()
	MaxFileSize int64  // in bytes, default 5MB
	MaxBackups  int    // number of rotated files to keep, default 5
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024 // 5MB
	defaultMaxBackups  = 5
)

// NewLogger creates a standalone logger writing to w.
func NewLogger(w io.Writer, level LogLevel) *AppLogger {
	return &AppLogger{sink: &logSink{
		level:       level,
		console:     w,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}}
}

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = NewLogger(os.Stdout, LevelInfo)
	})
	return defaultLogger
}

// InitLogger configures the process-wide logger.
// Should be called early in application startup.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)
	if config.Console != nil {
		logger.SetOutput(config.Console)
	}

	s := logger.sink
	s.mu.Lock()
	if config.MaxFileSize > 0 {
		s.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		s.maxBackups = config.MaxBackups
	}
	s.mu.Unlock()

	if !config.EnableFile {
		return nil
	}
	dir := config.Dir
	if dir == "" {
		dir = GetLogDir()
	}
	return logger.EnableFileLogging(dir)
}

// With returns a logger that tags every line with the given component
// name. It follows later SetLevel and SetOutput calls on l.
func (l *AppLogger) With(component string) *AppLogger {
	prefix := component
	if l.prefix != "" {
		prefix = l.prefix + "." + component
	}
	return &AppLogger{sink: l.sink, prefix: prefix}
}

// Level returns the minimum level written.
func (l *AppLogger) Level() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetOutput sets the console destination. An open log file keeps
// receiving every line.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.console = w
}

// EnableFileLogging also writes every line to dir/LogFileName, rotating
// the file whenever it grows past the size limit.
func (l *AppLogger) EnableFileLogging(dir string) error {
	if isSymlink(dir) {
		return fmt.Errorf("security error: log directory is a symlink")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	logPath := filepath.Join(dir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("security error: log file is a symlink")
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.filePath = logPath
	if info, err := os.Stat(logPath); err == nil && info.Size() >= s.maxFileSize {
		s.rotateLocked()
	}
	return s.openLocked()
}

// isSymlink reports whether path is a symbolic link.
// A missing path is not a symlink.
func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func (s *logSink) openLocked() error {
	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	s.file = file
	s.fileSize = info.Size()
	return nil
}

func (s *logSink) write(line string) {
	io.WriteString(s.console, line)
	if s.file == nil {
		return
	}
	n, err := io.WriteString(s.file, line)
	s.fileSize += int64(n)
	if err != nil || s.fileSize < s.maxFileSize {
		return
	}
	s.rotateLocked()
	if err := s.openLocked(); err != nil {
		fmt.Fprintf(s.console, "log file disabled after rotation: %v\n", err)
	}
}

// rotateLocked compresses the current log file next to itself and prunes
// backups beyond maxBackups. The file is closed afterwards.
func (s *logSink) rotateLocked() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	stamp := time.Now()
	rotatedPath := backupPath(s.filePath, stamp)
	for FileExists(rotatedPath) {
		stamp = stamp.Add(time.Nanosecond)
		rotatedPath = backupPath(s.filePath, stamp)
	}
	if err := compressFile(s.filePath, rotatedPath); err != nil {
		os.Remove(rotatedPath)
		os.Rename(s.filePath, strings.TrimSuffix(rotatedPath, ".gz"))
	} else {
		os.Remove(s.filePath)
	}
	s.fileSize = 0
	s.pruneBackups()
}

// backupPath names a rotated log so that lexical order is rotation order.
func backupPath(logPath string, at time.Time) string {
	return fmt.Sprintf("%s.%s.gz", logPath, at.Format("20060102-150405.000000000"))
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *logSink) pruneBackups() {
	matches, err := filepath.Glob(s.filePath + ".*")
	if err != nil || len(matches) <= s.maxBackups {
		return
	}

	// Oldest first.
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-s.maxBackups] {
		os.Remove(path)
	}
}

// GetLogDir returns the log directory path.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

func (l *AppLogger) log(level LogLevel, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	if l.prefix != "" {
		formatted = l.prefix + ": " + formatted
	}

	timestamp := time.Now().Format("2006/01/02 15:04:05")
	s.write(fmt.Sprintf("%s [%s] %s: %s\n", timestamp, level, caller, formatted))
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// Shorthand functions for default logger.

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().Debug(msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().Info(msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().Warn(msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().Error(msg, args...)
}

// Close closes the log file. Should be called on application shutdown.
func (l *AppLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}
