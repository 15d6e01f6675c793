package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core), "orders")

	log(context.Background(), "order.created", map[string]any{"order": "ord-1"})
	log(context.Background(), "ledger.journal.record.failed", map[string]any{"error": "down"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].LoggerName != "orders" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	if entries[0].ContextMap()["order"] != "ord-1" {
		t.Fatalf("expected order field, got %+v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected failures at warn, got %s", entries[1].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(fallbackCore), "")

	ctx := WithLogger(context.Background(), zap.New(requestCore).With(zap.String("requestId", "req-1")))
	log(ctx, "withdrawal.requested", nil)

	if fallbackLogs.Len() != 0 {
		t.Fatalf("fallback logger should stay silent")
	}
	entries := requestLogs.AllUntimed()
	if len(entries) != 1 || entries[0].ContextMap()["requestId"] != "req-1" {
		t.Fatalf("expected request-scoped entry, got %+v", entries)
	}
}
