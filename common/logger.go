// Package common provides shared constants, types, and utilities
// used across the VPN Guard application.
package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name as it appears in log lines.
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

const (
	defaultMaxFileSize = 5 * 1024 * 1024 // 5MB
	defaultMaxBackups  = 5
)

// LogConfig holds logger initialization options.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	MaxFileSize int64 // bytes before rotation, default 5MB
	MaxBackups  int   // rotated files kept, default 5
}

// AppLogger writes leveled, timestamped lines to the console and, once
// file logging is enabled, to a size-rotated file under the log
// directory. Rotation happens on the write that crosses the limit;
// rotated files are gzip-compressed and old ones pruned.
type AppLogger struct {
	mu          sync.Mutex
	level       LogLevel
	console     io.Writer // nil while the terminal UI owns the screen
	file        *os.File
	filePath    string
	fileSize    int64
	maxFileSize int64
	maxBackups  int
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

// GetLogger returns the process-wide logger.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AppLogger{
			level:       LevelInfo,
			console:     os.Stdout,
			maxFileSize: defaultMaxFileSize,
			maxBackups:  defaultMaxBackups,
		}
	})
	return defaultLogger
}

// InitLogger configures the process-wide logger. Call once at startup,
// before anything logs.
func InitLogger(config LogConfig) error {
	l := GetLogger()

	l.mu.Lock()
	l.level = config.Level
	if config.MaxFileSize > 0 {
		l.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		l.maxBackups = config.MaxBackups
	}
	l.mu.Unlock()

	if config.EnableFile {
		return l.EnableFileLogging()
	}
	return nil
}

// SetLevel sets the minimum level that gets written.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// DisableConsole stops console output, leaving only the log file.
// Called when the terminal UI takes over the screen. A no-op while
// file logging is off, so messages are never silently dropped.
func (l *AppLogger) DisableConsole() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.console = nil
}

// GetLogDir returns the log directory path.
func GetLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", ConfigDirName, "logs")
}

// isSymlink reports whether path exists and is a symbolic link.
func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// EnableFileLogging opens the log file for appending, rotating first
// if a previous run left it over the size limit.
func (l *AppLogger) EnableFileLogging() error {
	logDir := GetLogDir()
	if logDir == "" {
		return fmt.Errorf("cannot resolve log directory")
	}

	// Refuse symlinked paths so a planted link cannot redirect writes.
	if isSymlink(logDir) {
		return fmt.Errorf("log directory %s is a symlink", logDir)
	}
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}
	logPath := filepath.Join(logDir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("log file %s is a symlink", logPath)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.filePath = logPath
	if info, err := os.Stat(logPath); err == nil && info.Size() >= l.maxFileSize {
		l.rotateLocked()
	}
	return l.openLocked()
}

// openLocked opens filePath for appending and records its size so the
// write path knows when the next rotation is due.
func (l *AppLogger) openLocked() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	l.fileSize = info.Size()
	return nil
}

// rotateLocked moves the current log file aside as a gzip backup and
// prunes old backups. The caller reopens through openLocked.
func (l *AppLogger) rotateLocked() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	stamp := time.Now().Format("20060102-150405")
	rotated := fmt.Sprintf("%s.%s.gz", l.filePath, stamp)
	if err := gzipFile(l.filePath, rotated); err != nil {
		// An uncompressed backup beats losing the data.
		os.Rename(l.filePath, fmt.Sprintf("%s.%s", l.filePath, stamp))
	} else {
		os.Remove(l.filePath)
	}

	l.pruneBackupsLocked()
}

// gzipFile compresses src into dst.
func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// pruneBackupsLocked deletes the oldest rotated files beyond maxBackups.
func (l *AppLogger) pruneBackupsLocked() {
	matches, err := filepath.Glob(l.filePath + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		a, errA := os.Stat(matches[i])
		b, errB := os.Stat(matches[j])
		if errA != nil || errB != nil {
			return false
		}
		return a.ModTime().Before(b.ModTime())
	})
	for _, old := range matches[:len(matches)-l.maxBackups] {
		os.Remove(old)
	}
}

// write formats one line and sends it to every active destination.
// Both the AppLogger methods and the package shorthands call it
// directly, keeping the logging call site two frames up.
func (l *AppLogger) write(level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "???"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	out := fmt.Sprintf("%s [%s] %s: %s\n",
		time.Now().Format("2006/01/02 15:04:05"), level, caller, msg)

	if l.console != nil {
		io.WriteString(l.console, out)
	}
	if l.file != nil {
		n, err := io.WriteString(l.file, out)
		if err != nil {
			return
		}
		l.fileSize += int64(n)
		if l.fileSize >= l.maxFileSize {
			l.rotateLocked()
			if err := l.openLocked(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation lost the file: %v\n", err)
			}
		}
	}
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.write(LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.write(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.write(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.write(LevelError, msg, args...)
}

// Shorthands for the default logger. These call write directly rather
// than going through the methods above so caller attribution stays on
// the logging call site.

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().write(LevelDebug, msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().write(LevelInfo, msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().write(LevelWarn, msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().write(LevelError, msg, args...)
}

// Close closes the log file if open. Call on shutdown.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// CloseLogger closes the default logger's file.
func CloseLogger() error {
	return GetLogger().Close()
}
