// Package xlog provides the process-wide structured logger.
//
// Grounded on ManuGH-xg2g's internal/log package: a single zerolog base
// logger configured once at startup, with per-component children carrying a
// "component" field and per-request children carrying a "req_id" field.
package xlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error"; defaults to "info"
	Output  io.Writer // defaults to os.Stdout
	Service string    // defaults to "videocache"
}

var (
	mu   sync.RWMutex
	base zerolog.Logger
)

func init() {
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", "videocache").Logger()
}

// Configure (re)initializes the global base logger. Safe to call once at
// startup; later calls replace the base for any logger obtained afterwards.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "videocache"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component returns a child logger tagged with component=name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

// WithRequestID returns a child of log tagged with a freshly generated
// req_id, one per accepted connection (§4.J).
func WithRequestID(log zerolog.Logger) zerolog.Logger {
	return log.With().Str("req_id", uuid.New().String()).Logger()
}

// Base returns the current global base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}
