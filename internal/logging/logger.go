package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

type Options struct {
	Level  slog.Level
	Format string
	// FilePath adds a JSON sink next to the console handler.
	FilePath string
}

// New builds the application logger. The returned closer releases the log
// file when one was opened.
func New(out io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	if out == nil {
		out = os.Stdout
	}

	console := consoleHandler(out, opts)
	if strings.TrimSpace(opts.FilePath) == "" {
		return slog.New(console), nopCloser{}, nil
	}

	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level})

	return slog.New(MultiHandler(console, fileHandler)), file, nil
}

func consoleHandler(out io.Writer, opts Options) slog.Handler {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	}
	return tint.NewHandler(out, &tint.Options{Level: opts.Level})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
