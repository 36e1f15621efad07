package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Leveled process logger backed by log/slog.
// - Init(level) / SetFormat(format) configure it once at startup
// - *f variants take printf arguments, *w variants take key/value pairs

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	format           = "text"
	level            = LevelInfo
	lv               = new(slog.LevelVar)
	logger           = newLogger(out, format)
)

func newLogger(w io.Writer, f string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if f == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	s := strings.ToLower(strings.TrimSpace(l))
	switch s {
	case "debug":
		level = LevelDebug
		lv.Set(slog.LevelDebug)
	case "warn", "warning":
		level = LevelWarn
		lv.Set(slog.LevelWarn)
	case "error":
		level = LevelError
		lv.Set(slog.LevelError)
	case "fatal":
		level = LevelFatal
		lv.Set(slog.LevelError + 4)
	default:
		level = LevelInfo
		lv.Set(slog.LevelInfo)
	}
}

// SetFormat switches between "text" (default) and "json" output.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = strings.ToLower(strings.TrimSpace(f))
	logger = newLogger(out, format)
}

// SetOutput redirects log output; used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = newLogger(out, format)
}

// Slog exposes the underlying logger for libraries that take a *slog.Logger.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func emit(l slog.Level, msg string, kv ...any) {
	mu.RLock()
	lg := logger
	mu.RUnlock()
	lg.Log(context.Background(), l, msg, kv...)
}

func Debugf(format string, v ...interface{}) { emit(slog.LevelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { emit(slog.LevelInfo, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { emit(slog.LevelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { emit(slog.LevelError, fmt.Sprintf(format, v...)) }

func Fatalf(format string, v ...interface{}) {
	mu.RLock()
	lg := logger
	mu.RUnlock()
	// bypasses the level filter
	_ = lg.Handler().Handle(context.Background(), fatalRecord(fmt.Sprintf(format, v...)))
	os.Exit(1)
}

// Debugw/Infow/Warnw/Errorw log msg with structured key/value pairs.
func Debugw(msg string, kv ...any) { emit(slog.LevelDebug, msg, kv...) }
func Infow(msg string, kv ...any)  { emit(slog.LevelInfo, msg, kv...) }
func Warnw(msg string, kv ...any)  { emit(slog.LevelWarn, msg, kv...) }
func Errorw(msg string, kv ...any) { emit(slog.LevelError, msg, kv...) }

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	emit(slog.LevelInfo, strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
