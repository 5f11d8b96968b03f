// Package telemetry defines the logging and metrics seams used throughout the
// runtime. Pipeline stages accept these narrow interfaces rather than concrete
// providers so tests can run silent and production wires Clue and OpenTelemetry.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log records with alternating key-value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and histogram helpers for runtime
	// instrumentation.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}
)
