// Package logger provides the default slog JSON implementation of the
// loader's Logger interface.
package logger

import (
	"context"
	"io"
	"log/slog"

	"github.com/luno/jettison/errors"
)

type logger struct {
	log *slog.Logger
}

type Option func(o *slog.HandlerOptions)

// WithLevel overrides the minimum level logged.
func WithLevel(l slog.Level) Option {
	return func(o *slog.HandlerOptions) {
		o.Level = l
	}
}

func New(w io.Writer, opts ...Option) *logger {
	// Debug by default so individual trace records can be followed through
	// the engine.
	o := slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &logger{
		log: slog.New(slog.NewJSONHandler(w, &o)),
	}
}

func (l logger) Debug(ctx context.Context, msg string, meta map[string]string) {
	l.log.DebugContext(ctx, msg, "meta", meta)
}

// Error logs the error with any jettison key values folded into the meta map.
// Caller provided meta wins on key collisions.
func (l logger) Error(ctx context.Context, err error, meta map[string]string) {
	if kvs := errors.GetKeyValues(err); len(kvs) > 0 {
		merged := make(map[string]string, len(kvs)+len(meta))
		for k, v := range kvs {
			merged[k] = v
		}
		for k, v := range meta {
			merged[k] = v
		}
		meta = merged
	}
	l.log.ErrorContext(ctx, err.Error(), "meta", meta)
}
