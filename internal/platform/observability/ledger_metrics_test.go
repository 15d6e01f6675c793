package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/rede-afiliados/api/internal/domain"
)

func TestLedgerMetricsRecordsWithoutPanicking(t *testing.T) {
	metrics := NewLedgerMetrics(noop.NewMeterProvider().Meter("test"), nil)
	if metrics.entries == nil || metrics.amount == nil || metrics.transitions == nil {
		t.Fatalf("expected all instruments registered, got %+v", metrics)
	}

	ctx := context.Background()
	metrics.RecordEntry(ctx, domain.LedgerEntryCommissionReversal, -20_00)
	metrics.RecordTransition(ctx, domain.OrderStatusPending, domain.OrderStatusPaid)
}

func TestLedgerMetricsNilReceiver(t *testing.T) {
	var metrics *LedgerMetrics
	metrics.RecordEntry(context.Background(), domain.LedgerEntryPayoutHold, 100_00)
	metrics.RecordTransition(context.Background(), domain.OrderStatusPaid, domain.OrderStatusShipped)
}
