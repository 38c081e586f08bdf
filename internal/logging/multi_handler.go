package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler writes every record to each non-nil handler that accepts its
// level. It backs the console plus LOG_FILE setup.
func MultiHandler(handlers ...slog.Handler) slog.Handler {
	var f fanout
	for _, h := range handlers {
		if h != nil {
			f.sinks = append(f.sinks, h)
		}
	}
	if len(f.sinks) == 1 {
		return f.sinks[0]
	}
	return f
}

type fanout struct {
	sinks []slog.Handler
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.sinks {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f.sinks {
		if h.Enabled(ctx, record.Level) {
			// Handlers may retain the record, so each gets its own copy.
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) derive(apply func(slog.Handler) slog.Handler) fanout {
	next := fanout{sinks: make([]slog.Handler, len(f.sinks))}
	for i, h := range f.sinks {
		next.sinks[i] = apply(h)
	}
	return next
}
