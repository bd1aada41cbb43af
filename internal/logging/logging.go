// Package logging emits the per-request outcome log. Emission goes through
// the background queue so logging never adds latency to the response path.
package logging

import (
	"time"

	"go.uber.org/zap"

	"searchproxy/internal/background"
	"searchproxy/internal/request"
)

// New builds the process logger at the given level. Unknown levels fall
// back to info.
func New(level string, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}

// RequestLogger records one line per finished request.
type RequestLogger struct {
	log   *zap.Logger
	queue *background.Queue
}

// NewRequestLogger wires the logger to the background queue.
func NewRequestLogger(log *zap.Logger, queue *background.Queue) *RequestLogger {
	return &RequestLogger{log: log, queue: queue}
}

// Outcome describes how one request ended.
type Outcome struct {
	Status   int
	CacheHit bool
	Duration time.Duration
}

// Log schedules the outcome line for emission. Fire and forget: a saturated
// queue drops the line.
func (l *RequestLogger) Log(rc *request.Context, out Outcome) {
	fields := []zap.Field{
		zap.String("request_id", rc.ID),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.Int("status", out.Status),
		zap.Bool("ssr", rc.SSR),
		zap.Bool("cache_hit", out.CacheHit),
		zap.Duration("duration", out.Duration),
		zap.String("origin", rc.Origin),
		zap.String("user_agent", rc.UserAgent),
	}
	l.queue.Submit(func() {
		l.log.Info("request completed", fields...)
	})
}
