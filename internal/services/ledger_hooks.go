package services

import (
	"context"
	"maps"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	ledgerEventOrderCreated       = "order.created"
	ledgerEventOrderStatusChanged = "order.status.changed"
	ledgerEventOrderDeleted       = "order.deleted"
	ledgerEventWithdrawalCreated  = "withdrawal.requested"
	ledgerEventWithdrawalResolved = "withdrawal.resolved"
)

// LedgerEvent captures metadata for emitted ledger domain events.
type LedgerEvent struct {
	Type           string
	OrderID        string
	WithdrawalID   string
	ProfileID      string
	ActorID        string
	PreviousStatus string
	CurrentStatus  string
	Amount         int64
	OccurredAt     time.Time
	Metadata       map[string]any
}

// LedgerEventPublisher publishes ledger domain events for downstream consumers.
type LedgerEventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event LedgerEvent) error
}

// LedgerJournal mirrors committed ledger entries into a secondary store.
type LedgerJournal interface {
	Record(ctx context.Context, entries []LedgerEntry) error
	TotalsByProfile(ctx context.Context) (map[string]domain.LedgerTotals, error)
}

// LedgerMetrics counts ledger movements.
type LedgerMetrics interface {
	RecordEntry(ctx context.Context, kind domain.LedgerEntryKind, amount int64)
	RecordTransition(ctx context.Context, from, to OrderStatus)
}

// OrderNotifier informs buyers about order status changes.
type OrderNotifier interface {
	NotifyOrderStatus(ctx context.Context, order Order) error
}

// WithdrawalNotifier informs affiliates about resolved payouts.
type WithdrawalNotifier interface {
	NotifyWithdrawal(ctx context.Context, withdrawal Withdrawal) error
}

// ledgerHooks bundles the post-commit collaborators shared by ledger services.
type ledgerHooks struct {
	events  LedgerEventPublisher
	journal LedgerJournal
	metrics LedgerMetrics
	logger  func(context.Context, string, map[string]any)
}

// applyLedgerEntry appends entry and moves the profile's running totals by its deltas.
func applyLedgerEntry(ctx context.Context, tx repositories.LedgerTx, profile *Profile, entry LedgerEntry) error {
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return err
	}
	profile.Balance += entry.BalanceDelta
	profile.TotalEarnings += entry.EarningsDelta
	profile.UpdatedAt = entry.CreatedAt
	return tx.SetBalances(ctx, profile.ID, profile.Balance, profile.TotalEarnings, entry.CreatedAt)
}

func (h ledgerHooks) committed(ctx context.Context, entries []LedgerEntry) {
	if len(entries) == 0 {
		return
	}
	if h.metrics != nil {
		for _, entry := range entries {
			h.metrics.RecordEntry(ctx, entry.Kind, entry.BalanceDelta)
		}
	}
	if h.journal == nil {
		return
	}
	if err := h.journal.Record(ctx, entries); err != nil {
		h.logger(ctx, "ledger.journal.record.failed", map[string]any{
			"entries": len(entries),
			"error":   err.Error(),
		})
	}
}

func (h ledgerHooks) publish(ctx context.Context, event LedgerEvent) {
	if h.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := h.events.PublishLedgerEvent(ctx, event); err != nil {
		h.logger(ctx, "ledger.event.publish.failed", map[string]any{
			"type":       event.Type,
			"order":      event.OrderID,
			"withdrawal": event.WithdrawalID,
			"error":      err.Error(),
		})
	}
}

func noopLogger(context.Context, string, map[string]any) {}
