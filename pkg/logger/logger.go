// Package logger provides a package-level, lazily-initialized logger used
// across the module, mirroring the teacher's Initialize/Debugf/Infof/
// Warnf/Errorf calling convention (cmd/vmcp/main.go, cmd/vmcp/app/commands.go).
//
// The teacher's own pkg/logger backs this convention with log/slog plus an
// external env-reading package that is not available to this module (see
// DESIGN.md); this package backs the same convention with
// go.uber.org/zap's SugaredLogger instead, which is already part of the
// dependency set this module draws on.
package logger

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	singleton atomic.Pointer[zap.SugaredLogger]
	initOnce  sync.Once
)

// Initialize sets up the package-level logger. It is safe to call multiple
// times; only the first call takes effect. DEBUG_LOGS=true switches to a
// development (human-readable, debug-level) encoder config; otherwise logs
// are emitted as JSON at info level, matching the unstructured-vs-structured
// split the teacher's convention names via UNSTRUCTURED_LOGS.
func Initialize() {
	initOnce.Do(func() {
		singleton.Store(newSugaredLogger())
	})
}

func newSugaredLogger() *zap.SugaredLogger {
	var cfg zap.Config
	if debugEnabled() {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op-safe logger; logging must never be the
		// reason the rest of the program can't start.
		l = zap.NewNop()
	}
	return l.Sugar()
}

func debugEnabled() bool {
	return os.Getenv("DEBUG_LOGS") == "true"
}

func get() *zap.SugaredLogger {
	if l := singleton.Load(); l != nil {
		return l
	}
	Initialize()
	return singleton.Load()
}

// Debugf logs at debug level.
func Debugf(template string, args ...any) { get().Debugf(template, args...) }

// Infof logs at info level.
func Infof(template string, args ...any) { get().Infof(template, args...) }

// Warnf logs at warn level.
func Warnf(template string, args ...any) { get().Warnf(template, args...) }

// Errorf logs at error level.
func Errorf(template string, args ...any) { get().Errorf(template, args...) }

// Sync flushes any buffered log entries. Call it before process exit.
func Sync() error {
	if l := singleton.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
