package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusRejected  OrderStatus = "rejected"
)

// PaymentMethod selects between immediate checkout and invoiced credit.
type PaymentMethod string

const (
	PaymentMethodNow     PaymentMethod = "now"
	PaymentMethodInvoice PaymentMethod = "invoice"
)

// WithdrawalStatus enumerates payout request states.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// LedgerEntryKind classifies a signed balance movement.
type LedgerEntryKind string

const (
	LedgerEntryCommissionGrant    LedgerEntryKind = "commission_grant"
	LedgerEntryCommissionReversal LedgerEntryKind = "commission_reversal"
	LedgerEntryPayoutHold         LedgerEntryKind = "payout_hold"
	LedgerEntryPayoutRefund       LedgerEntryKind = "payout_refund"
)

const (
	// DefaultCommissionRate applies when a product has no configured rate.
	DefaultCommissionRate = 10.0
	// MinimumWithdrawal is the smallest payout an affiliate may request (R$ 100,00).
	MinimumWithdrawal int64 = 100_00
	// DefaultInvoiceLimit is the credit line assumed for profiles without one (R$ 1.000,00).
	DefaultInvoiceLimit int64 = 1_000_00
	// DefaultInvoiceDueDay is the due day assumed for profiles without one.
	DefaultInvoiceDueDay = 30
)

var (
	// ErrInvalidTransition is returned when a status change is not in the transition table.
	ErrInvalidTransition = errors.New("ledger: invalid order status transition")
	// ErrRejectionReasonRequired is returned when rejecting without a reason.
	ErrRejectionReasonRequired = errors.New("ledger: rejection reason is required")
	// ErrInvalidCommissionRate is returned for rates outside 0..100.
	ErrInvalidCommissionRate = errors.New("ledger: commission rate must be between 0 and 100")
)

// Order is the central ledger entity.
type Order struct {
	ID                  string
	UserID              string
	ProductID           string
	Quantity            int
	Amount              int64
	PaymentMethod       PaymentMethod
	Status              OrderStatus
	RejectionReason     string
	PaymentPreferenceID string
	PaymentProvider     string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	PaidAt              *time.Time
	StatusHistory       []OrderStatusChange
}

// OrderStatusChange records one applied transition for audit purposes.
type OrderStatusChange struct {
	From    OrderStatus
	To      OrderStatus
	ActorID string
	Reason  string
	At      time.Time
}

// Commission credits a referrer for a referred buyer's paid order.
type Commission struct {
	ID          string
	AffiliateID string
	OrderID     string
	BuyerID     string
	Amount      int64
	Rate        float64
	CreatedAt   time.Time
}

// Withdrawal is a payout request that holds funds until resolved.
type Withdrawal struct {
	ID         string
	UserID     string
	Amount     int64
	PixKey     string
	Status     WithdrawalStatus
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

// LedgerEntry is an append-only signed movement on a profile's balance and earnings.
type LedgerEntry struct {
	ID            string
	ProfileID     string
	Kind          LedgerEntryKind
	BalanceDelta  int64
	EarningsDelta int64
	OrderID       string
	WithdrawalID  string
	CommissionID  string
	ActorID       string
	CreatedAt     time.Time
}

// LedgerTotals is the fold of a profile's ledger entries.
type LedgerTotals struct {
	Balance       int64
	TotalEarnings int64
	Entries       int
}

// TransitionEffect tags a side effect triggered by an order status change.
type TransitionEffect string

const (
	EffectStoreReason       TransitionEffect = "store_reason"
	EffectGrantCommission   TransitionEffect = "grant_commission"
	EffectReverseCommission TransitionEffect = "reverse_commission"
	EffectNotifyBuyer       TransitionEffect = "notify_buyer"
)

// OrderTransitions is the single source of truth for legal status changes.
var OrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusApproved, OrderStatusPaid, OrderStatusRejected},
	OrderStatusApproved:  {OrderStatusPaid, OrderStatusShipped},
	OrderStatusPaid:      {OrderStatusApproved, OrderStatusShipped},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: {},
	OrderStatusRejected:  {},
}

// TransitionPlan lists the ordered effects of moving an order between two states.
type TransitionPlan struct {
	From    OrderStatus
	To      OrderStatus
	Effects []TransitionEffect
}

// Has reports whether the plan includes the effect.
func (p TransitionPlan) Has(effect TransitionEffect) bool {
	return slices.Contains(p.Effects, effect)
}

// ParseOrderStatus normalises a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := OrderTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// AllowedTransitions returns the states reachable from status.
func AllowedTransitions(status OrderStatus) []OrderStatus {
	next := OrderTransitions[status]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(OrderTransitions[from], to)
}

// IsPaidFamily reports whether the status implies the order was paid.
func IsPaidFamily(status OrderStatus) bool {
	switch status {
	case OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// PlanTransition validates the transition and derives its side effects.
func PlanTransition(from, to OrderStatus, reason string) (TransitionPlan, error) {
	if !CanTransition(from, to) {
		return TransitionPlan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	plan := TransitionPlan{From: from, To: to}
	if to == OrderStatusRejected {
		if strings.TrimSpace(reason) == "" {
			return TransitionPlan{}, ErrRejectionReasonRequired
		}
		plan.Effects = append(plan.Effects, EffectStoreReason)
	}
	switch {
	case to == OrderStatusPaid && !IsPaidFamily(from):
		plan.Effects = append(plan.Effects, EffectGrantCommission)
	case IsPaidFamily(from) && !IsPaidFamily(to):
		plan.Effects = append(plan.Effects, EffectReverseCommission)
	}
	plan.Effects = append(plan.Effects, EffectNotifyBuyer)
	return plan, nil
}

// CommissionRate resolves the product's rate, falling back to DefaultCommissionRate.
func CommissionRate(product Product) float64 {
	if product.CommissionRate == nil {
		return DefaultCommissionRate
	}
	return *product.CommissionRate
}

// ValidateCommissionRate checks the 0..100 bound.
func ValidateCommissionRate(rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 100 {
		return ErrInvalidCommissionRate
	}
	return nil
}

// GrantCommission computes the commission owed to referrerID for a paid order.
func GrantCommission(order Order, product Product, referrerID, id string, now time.Time) (Commission, error) {
	referrerID = strings.TrimSpace(referrerID)
	if referrerID == "" {
		return Commission{}, errors.New("ledger: referrer is required")
	}
	rate := CommissionRate(product)
	if err := ValidateCommissionRate(rate); err != nil {
		return Commission{}, err
	}
	return Commission{
		ID:          id,
		AffiliateID: referrerID,
		OrderID:     order.ID,
		BuyerID:     order.UserID,
		Amount:      PercentOf(order.Amount, rate),
		Rate:        rate,
		CreatedAt:   now,
	}, nil
}

// ReversalDelta is the signed adjustment applied to a referrer on reversal.
type ReversalDelta struct {
	Balance  int64
	Earnings int64
}

// ReverseCommission computes the negative deltas for undoing a commission,
// clamped so neither balance nor earnings drop below zero.
func ReverseCommission(commission Commission, referrer Profile) ReversalDelta {
	return ReversalDelta{
		Balance:  -min(commission.Amount, max(referrer.Balance, 0)),
		Earnings: -min(commission.Amount, max(referrer.TotalEarnings, 0)),
	}
}

// PercentOf returns amount*rate/100 rounded half away from zero.
func PercentOf(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate / 100))
}

// IsOpenInvoice reports whether the order counts toward invoice debt.
func IsOpenInvoice(order Order) bool {
	if order.PaymentMethod != PaymentMethodInvoice {
		return false
	}
	return order.Status != OrderStatusPaid && order.Status != OrderStatusRejected
}

// OpenInvoiceDebt sums the amounts of open invoice orders.
func OpenInvoiceDebt(orders []Order) int64 {
	var total int64
	for _, order := range orders {
		if IsOpenInvoice(order) {
			total += order.Amount
		}
	}
	return total
}

// AvailableCredit is limit minus debt; it may be negative.
func AvailableCredit(limit, debt int64) int64 {
	return limit - debt
}

// AvailableLimit is AvailableCredit floored at zero for display.
func AvailableLimit(limit, debt int64) int64 {
	return max(AvailableCredit(limit, debt), 0)
}

// CanPlaceInvoiceOrder reports whether a new invoice order fits in the credit line.
func CanPlaceInvoiceOrder(limit, debt, amount int64) bool {
	return debt+amount <= limit
}

// AvailableBalance is the withdrawable amount: balance minus open debt, floored at zero.
func AvailableBalance(balance, debt int64) int64 {
	return max(balance-debt, 0)
}

// InvoiceDueDate returns when an invoice order created at createdAt falls due.
// Orders created after the due day roll to the next month; short months clamp
// to their last day.
func InvoiceDueDate(createdAt time.Time, dueDay int) time.Time {
	if dueDay < 1 || dueDay > 31 {
		dueDay = DefaultInvoiceDueDay
	}
	year, month, day := createdAt.Date()
	if day > dueDay {
		month++
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, createdAt.Location()).Day()
	return time.Date(year, month, min(dueDay, last), 0, 0, 0, 0, createdAt.Location())
}

// IsRevenue reports whether the order counts as realised revenue.
func IsRevenue(order Order) bool {
	if order.Status == OrderStatusPaid {
		return true
	}
	return order.PaymentMethod == PaymentMethodNow &&
		(order.Status == OrderStatusShipped || order.Status == OrderStatusDelivered)
}

// Ledger entry ids are derived from the source record so a retried write collides.

// GrantEntryID identifies the grant entry for a commission.
func GrantEntryID(commissionID string) string { return "grant_" + commissionID }

// ReversalEntryID identifies the reversal entry for a commission.
func ReversalEntryID(commissionID string) string { return "reversal_" + commissionID }

// HoldEntryID identifies the payout hold entry for a withdrawal.
func HoldEntryID(withdrawalID string) string { return "hold_" + withdrawalID }

// RefundEntryID identifies the payout refund entry for a withdrawal.
func RefundEntryID(withdrawalID string) string { return "refund_" + withdrawalID }

// FoldLedger sums entries into running totals.
func FoldLedger(entries []LedgerEntry) LedgerTotals {
	var totals LedgerTotals
	for _, entry := range entries {
		totals.Balance += entry.BalanceDelta
		totals.TotalEarnings += entry.EarningsDelta
		totals.Entries++
	}
	return totals
}
