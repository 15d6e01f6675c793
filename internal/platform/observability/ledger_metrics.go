package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/services"
)

const ledgerMeterName = "github.com/rede-afiliados/api/ledger"

// LedgerMetrics records ledger movements as OpenTelemetry counters.
type LedgerMetrics struct {
	entries     metric.Int64Counter
	amount      metric.Int64Counter
	transitions metric.Int64Counter
}

var _ services.LedgerMetrics = (*LedgerMetrics)(nil)

// NewLedgerMetrics registers the ledger instruments. A nil meter falls back to the global provider.
func NewLedgerMetrics(meter metric.Meter, logger *zap.Logger) *LedgerMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(ledgerMeterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &LedgerMetrics{}
	var err error
	if m.entries, err = meter.Int64Counter("ledger.entries",
		metric.WithDescription("Ledger entries committed by kind")); err != nil {
		logger.Warn("ledger metrics: unable to register entries counter", zap.Error(err))
	}
	if m.amount, err = meter.Int64Counter("ledger.amount",
		metric.WithUnit("{centavo}"),
		metric.WithDescription("Absolute balance movement in centavos by entry kind")); err != nil {
		logger.Warn("ledger metrics: unable to register amount counter", zap.Error(err))
	}
	if m.transitions, err = meter.Int64Counter("ledger.order_transitions",
		metric.WithDescription("Order status transitions")); err != nil {
		logger.Warn("ledger metrics: unable to register transitions counter", zap.Error(err))
	}
	return m
}

// RecordEntry counts one committed entry and its absolute amount.
func (m *LedgerMetrics) RecordEntry(ctx context.Context, kind domain.LedgerEntryKind, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	if m.entries != nil {
		m.entries.Add(ctx, 1, attrs)
	}
	if amount < 0 {
		amount = -amount
	}
	if m.amount != nil {
		m.amount.Add(ctx, amount, attrs)
	}
}

// RecordTransition counts one order status change.
func (m *LedgerMetrics) RecordTransition(ctx context.Context, from, to domain.OrderStatus) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}
