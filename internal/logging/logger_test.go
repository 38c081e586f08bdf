package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONFormatWritesStructuredRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: slog.LevelInfo, Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.Info("order created", "order_no", "ORD20251209001")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if record["order_no"] != "ORD20251209001" {
		t.Fatalf("expected order_no attribute, got %v", record)
	}
}

func TestNew_FileSinkReceivesRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shophub.log")
	var console bytes.Buffer
	logger, closer, err := New(&console, Options{Level: slog.LevelInfo, FilePath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Warn("checksum mismatch", "provider", "ecpay")
	if err := closer.Close(); err != nil {
		t.Fatalf("failed to close log file: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"provider":"ecpay"`) {
		t.Fatalf("expected file sink to contain record, got %q", content)
	}
	if !strings.Contains(console.String(), "checksum mismatch") {
		t.Fatalf("expected console output, got %q", console.String())
	}
}

func TestWith_EnrichesContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), base)

	ctx, _ = With(ctx, nil, "order_no", "ORD20251209002")
	FromContext(ctx, nil).Info("payment applied")

	if !strings.Contains(buf.String(), `"order_no":"ORD20251209002"`) {
		t.Fatalf("expected enriched logger, got %q", buf.String())
	}
}

func TestFromContext_FallsBackToDiscard(t *testing.T) {
	t.Parallel()

	if logger := FromContext(context.Background(), nil); logger == nil {
		t.Fatal("expected a usable logger")
	}
}

func TestMultiHandler_RespectsEachSinkLevel(t *testing.T) {
	t.Parallel()

	var debug, warn bytes.Buffer
	logger := slog.New(MultiHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		nil,
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)).With("component", "ecpay").WithGroup("webhook")

	logger.Info("payment applied", "order_no", "ORD20251209003")
	logger.Warn("unknown order", "order_no", "ORD20251209004")

	if !strings.Contains(debug.String(), "payment applied") || !strings.Contains(debug.String(), "webhook.order_no=ORD20251209004") {
		t.Fatalf("debug sink missing records: %q", debug.String())
	}
	if strings.Contains(warn.String(), "payment applied") {
		t.Fatalf("warn sink received an info record: %q", warn.String())
	}
	if !strings.Contains(warn.String(), "component=ecpay") {
		t.Fatalf("warn sink lost attributes: %q", warn.String())
	}
}
