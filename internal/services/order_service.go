package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	commissionIDPrefix = "com_"

	maxRejectionReasonLength = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderCreditLimitExceeded indicates an invoice order does not fit the credit line.
	ErrOrderCreditLimitExceeded = errors.New("order: invoice credit limit exceeded")
	// ErrOrderProductUnavailable indicates the product is missing or not approved.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Ledger      repositories.LedgerRepository
	Orders      repositories.OrderRepository
	Checkout    PreferenceManager
	Notifier    OrderNotifier
	Audit       AuditLogService
	Events      LedgerEventPublisher
	Journal     LedgerJournal
	Metrics     LedgerMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	ledger   repositories.LedgerRepository
	orders   repositories.OrderRepository
	checkout PreferenceManager
	notifier OrderNotifier
	audit    AuditLogService
	hooks    ledgerHooks
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("order service: ledger repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderService{
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		checkout: deps.Checkout,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		hooks: ledgerHooks{
			events:  deps.Events,
			journal: deps.Journal,
			metrics: deps.Metrics,
			logger:  logger,
		},
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: user and product are required", ErrOrderInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CreateOrderResult{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	if method != domain.PaymentMethodNow && method != domain.PaymentMethodInvoice {
		return CreateOrderResult{}, fmt.Errorf("%w: payment method must be now or invoice", ErrOrderInvalidInput)
	}

	now := s.now()
	orderID := orderIDPrefix + s.newID()

	var (
		order   Order
		product Product
	)
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		var err error
		product, err = tx.GetProduct(ctx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("%w: product %s not found", ErrOrderProductUnavailable, productID)
			}
			return err
		}
		if product.Status != domain.ProductStatusApproved {
			return fmt.Errorf("%w: product %s is %s", ErrOrderProductUnavailable, productID, product.Status)
		}
		amount := product.FinalPrice * int64(cmd.Quantity)
		if amount <= 0 {
			return fmt.Errorf("%w: product %s has no price", ErrOrderProductUnavailable, productID)
		}

		if method == domain.PaymentMethodInvoice {
			buyer, err := tx.GetProfile(ctx, userID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return fmt.Errorf("%w: buyer profile %s not found", ErrOrderInvalidInput, userID)
				}
				return err
			}
			open, err := tx.ListOpenInvoiceOrders(ctx, userID)
			if err != nil {
				return err
			}
			limit := buyer.EffectiveInvoiceLimit()
			debt := domain.OpenInvoiceDebt(open)
			if !domain.CanPlaceInvoiceOrder(limit, debt, amount) {
				return fmt.Errorf("%w: debt %d + amount %d exceeds limit %d", ErrOrderCreditLimitExceeded, debt, amount, limit)
			}
		}

		order = Order{
			ID:            orderID,
			UserID:        userID,
			ProductID:     productID,
			Quantity:      cmd.Quantity,
			Amount:        amount,
			PaymentMethod: method,
			Status:        domain.OrderStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}

	s.hooks.publish(ctx, LedgerEvent{
		Type:          ledgerEventOrderCreated,
		OrderID:       order.ID,
		ProfileID:     order.UserID,
		ActorID:       userID,
		CurrentStatus: string(order.Status),
		Amount:        order.Amount,
		OccurredAt:    now,
		Metadata:      map[string]any{"paymentMethod": string(order.PaymentMethod)},
	})

	result := CreateOrderResult{Order: order}
	if method != domain.PaymentMethodNow || s.checkout == nil {
		return result, nil
	}

	pref, err := requestPreference(ctx, s.checkout, s.orders, order, product, cmd.Payer, cmd.Origin, cmd.Provider, now, s.logger)
	if err != nil {
		s.logger(ctx, "order.payment.preference.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return result, err
	}
	result.Checkout = &pref
	result.Order.PaymentPreferenceID = pref.ID
	result.Order.PaymentProvider = pref.Provider
	return result, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:        strings.TrimSpace(filter.UserID),
		Status:        filter.Status,
		PaymentMethod: filter.PaymentMethod,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) AllowedTransitions(status OrderStatus) []OrderStatus {
	return domain.AllowedTransitions(status)
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	reason := sanitizeText(cmd.Reason, maxRejectionReasonLength)

	var (
		updated Order
		plan    domain.TransitionPlan
		entries []LedgerEntry
	)
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		entries = nil
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: order %s is %s, expected %s", ErrOrderConflict, orderID, order.Status, *cmd.ExpectedStatus)
		}

		plan, err = domain.PlanTransition(order.Status, target, reason)
		switch {
		case errors.Is(err, domain.ErrRejectionReasonRequired):
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		case errors.Is(err, domain.ErrInvalidTransition):
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		case err != nil:
			return err
		}

		now := s.now()
		for _, effect := range plan.Effects {
			switch effect {
			case domain.EffectStoreReason:
				order.RejectionReason = reason
			case domain.EffectGrantCommission:
				entry, err := s.grantCommission(ctx, tx, order, actor, now)
				if err != nil {
					return err
				}
				if entry != nil {
					entries = append(entries, *entry)
				}
				order.PaidAt = &now
			case domain.EffectReverseCommission:
				entry, err := s.reverseCommission(ctx, tx, order, actor, now)
				if err != nil {
					return err
				}
				if entry != nil {
					entries = append(entries, *entry)
				}
				order.PaidAt = nil
			}
		}

		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:    order.Status,
			To:      target,
			ActorID: actor,
			Reason:  reason,
			At:      now,
		})
		order.Status = target
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.hooks.committed(ctx, entries)
	if s.hooks.metrics != nil {
		s.hooks.metrics.RecordTransition(ctx, plan.From, plan.To)
	}
	if plan.Has(domain.EffectNotifyBuyer) && s.notifier != nil {
		if err := s.notifier.NotifyOrderStatus(ctx, updated); err != nil {
			s.logger(ctx, "order.notify.failed", map[string]any{
				"orderId": updated.ID,
				"status":  string(updated.Status),
				"error":   err.Error(),
			})
		}
	}

	effects := make([]string, 0, len(plan.Effects))
	for _, effect := range plan.Effects {
		effects = append(effects, string(effect))
	}
	s.hooks.publish(ctx, LedgerEvent{
		Type:           ledgerEventOrderStatusChanged,
		OrderID:        updated.ID,
		ProfileID:      updated.UserID,
		ActorID:        actor,
		PreviousStatus: string(plan.From),
		CurrentStatus:  string(plan.To),
		Amount:         updated.Amount,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"effects": effects},
	})

	return updated, nil
}

func (s *orderService) Delete(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	var (
		deleted Order
		entries []LedgerEntry
	)
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		entries = nil
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if domain.IsPaidFamily(order.Status) {
			entry, err := s.reverseCommission(ctx, tx, order, actor, s.now())
			if err != nil {
				return err
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
		deleted = order
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.hooks.committed(ctx, entries)
	s.hooks.publish(ctx, LedgerEvent{
		Type:           ledgerEventOrderDeleted,
		OrderID:        deleted.ID,
		ProfileID:      deleted.UserID,
		ActorID:        actor,
		PreviousStatus: string(deleted.Status),
		Amount:         deleted.Amount,
		OccurredAt:     s.now(),
	})
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     actor,
			ActorType: "staff",
			Action:    "order.delete",
			TargetRef: "/orders/" + deleted.ID,
			Severity:  "warn",
			Metadata: map[string]any{
				"status":   string(deleted.Status),
				"amount":   deleted.Amount,
				"reversed": len(entries) > 0,
			},
		})
	}
	return nil
}

// grantCommission credits the buyer's referrer. It returns nil when no
// commission applies.
func (s *orderService) grantCommission(ctx context.Context, tx repositories.LedgerTx, order Order, actor string, now time.Time) (*LedgerEntry, error) {
	buyer, err := tx.GetProfile(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	referrerID := strings.TrimSpace(buyer.ReferredBy)
	if referrerID == "" || referrerID == buyer.ID {
		s.logger(ctx, "order.commission.no_referrer", map[string]any{"orderId": order.ID, "buyerId": buyer.ID})
		return nil, nil
	}

	existing, err := tx.FindCommissionByOrder(ctx, order.ID)
	switch {
	case err == nil:
		s.logger(ctx, "order.commission.exists", map[string]any{"orderId": order.ID, "commissionId": existing.ID})
		return nil, nil
	case !repositories.IsNotFound(err):
		return nil, err
	}

	product, err := tx.GetProduct(ctx, order.ProductID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return nil, err
		}
		s.logger(ctx, "order.commission.product_missing", map[string]any{"orderId": order.ID, "productId": order.ProductID})
		product = Product{ID: order.ProductID}
	}

	referrer, err := tx.GetProfile(ctx, referrerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "order.commission.referrer_missing", map[string]any{"orderId": order.ID, "referrerId": referrerID})
			return nil, nil
		}
		return nil, err
	}

	commission, err := domain.GrantCommission(order, product, referrerID, commissionIDPrefix+s.newID(), now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if product.CommissionRate == nil {
		s.logger(ctx, "order.commission.default_rate", map[string]any{
			"orderId":   order.ID,
			"productId": product.ID,
			"rate":      commission.Rate,
		})
	}
	if err := tx.InsertCommission(ctx, commission); err != nil {
		return nil, err
	}

	entry := LedgerEntry{
		ID:            domain.GrantEntryID(commission.ID),
		ProfileID:     referrer.ID,
		Kind:          domain.LedgerEntryCommissionGrant,
		BalanceDelta:  commission.Amount,
		EarningsDelta: commission.Amount,
		OrderID:       order.ID,
		CommissionID:  commission.ID,
		ActorID:       actor,
		CreatedAt:     now,
	}
	if err := applyLedgerEntry(ctx, tx, &referrer, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// reverseCommission undoes the order's commission if one exists.
func (s *orderService) reverseCommission(ctx context.Context, tx repositories.LedgerTx, order Order, actor string, now time.Time) (*LedgerEntry, error) {
	commission, err := tx.FindCommissionByOrder(ctx, order.ID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "order.commission.missing", map[string]any{"orderId": order.ID, "status": string(order.Status)})
			return nil, nil
		}
		return nil, err
	}

	referrer, err := tx.GetProfile(ctx, commission.AffiliateID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return nil, err
		}
		s.logger(ctx, "order.commission.referrer_missing", map[string]any{"orderId": order.ID, "referrerId": commission.AffiliateID})
		return nil, tx.DeleteCommission(ctx, commission)
	}

	delta := domain.ReverseCommission(commission, referrer)
	if err := tx.DeleteCommission(ctx, commission); err != nil {
		return nil, err
	}
	entry := LedgerEntry{
		ID:            domain.ReversalEntryID(commission.ID),
		ProfileID:     referrer.ID,
		Kind:          domain.LedgerEntryCommissionReversal,
		BalanceDelta:  delta.Balance,
		EarningsDelta: delta.Earnings,
		OrderID:       order.ID,
		CommissionID:  commission.ID,
		ActorID:       actor,
		CreatedAt:     now,
	}
	if err := applyLedgerEntry(ctx, tx, &referrer, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}
