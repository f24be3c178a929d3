package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// ParseLevel maps a config level name to a LogLevel. Unknown names map to INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a printf-style facade over zerolog with hourly rotated file output
type Logger struct {
	mu         sync.RWMutex
	zl         zerolog.Logger
	fileWriter io.Writer
	level      LogLevel
	exit       func(int)
}

type hourlyLumberjackWriter struct {
	baseDir  string
	baseName string
	ext      string

	maxSize    int
	maxBackups int
	maxAge     int
	compress   bool

	mu           sync.Mutex
	currentKey   string
	currentLog   *lumberjack.Logger
	lastPruneDay string
}

func newHourlyLumberjackWriter(basePath string, maxSize, maxBackups, maxAge int, compress bool) (*hourlyLumberjackWriter, error) {
	baseDir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	baseName := strings.TrimSuffix(base, ext)
	if baseName == "" {
		return nil, fmt.Errorf("invalid log file: %q", basePath)
	}
	if ext == "" {
		ext = ".log"
	}

	w := &hourlyLumberjackWriter{
		baseDir:      baseDir,
		baseName:     baseName,
		ext:          ext,
		maxSize:      maxSize,
		maxBackups:   maxBackups,
		maxAge:       maxAge,
		compress:     compress,
		currentKey:   "",
		currentLog:   nil,
		lastPruneDay: "",
	}

	if err := w.ensureWriter(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *hourlyLumberjackWriter) hourlyPath(now time.Time) string {
	dayDir := filepath.Join(w.baseDir, now.Format("2006-01-02"))
	filename := fmt.Sprintf("%s-%02d%s", w.baseName, now.Hour(), w.ext)
	return filepath.Join(dayDir, filename)
}

func (w *hourlyLumberjackWriter) ensureWriter(now time.Time) error {
	w.currentKey = now.Format("2006-01-02-15")

	path := w.hourlyPath(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	w.currentLog = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    w.maxSize,
		MaxBackups: w.maxBackups,
		MaxAge:     w.maxAge,
		Compress:   w.compress,
	}

	today := now.Format("2006-01-02")
	if w.maxAge > 0 && today != w.lastPruneDay {
		w.lastPruneDay = today
		if err := w.pruneOldDays(now); err != nil {
			return err
		}
	}

	return nil
}

func (w *hourlyLumberjackWriter) ensure(now time.Time) error {
	key := now.Format("2006-01-02-15")
	if w.currentLog != nil && w.currentKey == key {
		return nil
	}

	if w.currentLog != nil {
		_ = w.currentLog.Close()
		w.currentLog = nil
	}
	return w.ensureWriter(now)
}

func (w *hourlyLumberjackWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensure(time.Now()); err != nil {
		return 0, err
	}
	return w.currentLog.Write(p)
}

func (w *hourlyLumberjackWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensure(time.Now()); err != nil {
		return err
	}
	return w.currentLog.Rotate()
}

func (w *hourlyLumberjackWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentLog == nil {
		return nil
	}
	err := w.currentLog.Close()
	w.currentLog = nil
	w.currentKey = ""
	return err
}

func dateOnly(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func (w *hourlyLumberjackWriter) pruneOldDays(now time.Time) error {
	base := w.baseDir
	cutoff := dateOnly(now).AddDate(0, 0, -(w.maxAge - 1))

	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read log directory %q: %w", base, err)
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", ent.Name(), now.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(base, ent.Name()))
		}
	}

	return nil
}

// LoggerInterface defines the interface for logging methods
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
	Sync() error
	ChangeLogLevel(level LogLevel)
}

// NewLogger creates a logger writing to the hourly rotated file and to a
// console writer on stdout
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	fileWriter, err := newHourlyLumberjackWriter(logFile, maxSize, maxBackups, maxAge, compress)
	if err != nil {
		return nil, err
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05.000000"}
	multi := zerolog.MultiLevelWriter(fileWriter, console)

	l := newLogger(multi, level)
	l.fileWriter = fileWriter
	return l, nil
}

// NewWriterLogger creates a logger that writes JSON lines to w only
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level LogLevel) *Logger {
	zl := zerolog.New(w).
		Level(level.zerolog()).
		With().
		Timestamp().
		CallerWithSkipFrameCount(3).
		Logger()
	return &Logger{zl: zl, level: level, exit: os.Exit}
}

func (l *Logger) logger() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zl := l.zl
	return &zl
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logger().Debug().Msgf(format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logger().Info().Msgf(format, v...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	l.logger().Warn().Msgf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logger().Error().Msgf(format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.logger().WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	l.exit(1)
}

// Sync flushes any buffered log entries to the underlying writer
func (l *Logger) Sync() error {
	type rotator interface {
		Rotate() error
	}
	if r, ok := l.fileWriter.(rotator); ok {
		return r.Rotate()
	}
	return nil
}

// Close releases the current log file
func (l *Logger) Close() error {
	if c, ok := l.fileWriter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ChangeLogLevel changes the logging level at runtime
func (l *Logger) ChangeLogLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}
