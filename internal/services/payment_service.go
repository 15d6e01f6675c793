package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/payments"
	"github.com/rede-afiliados/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates a malformed preference or notification request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the referenced order does not exist.
	ErrPaymentNotFound = errors.New("payment: order not found")
	// ErrPaymentForbidden indicates the caller does not own the order.
	ErrPaymentForbidden = errors.New("payment: order belongs to another user")
	// ErrPaymentInvalidState indicates the order can no longer be paid.
	ErrPaymentInvalidState = errors.New("payment: order is not payable")
	// ErrPaymentTimeout indicates the provider did not answer in time.
	ErrPaymentTimeout = errors.New("payment: provider timed out")
	// ErrPaymentProvider indicates the provider rejected the request.
	ErrPaymentProvider = errors.New("payment: provider error")
	// ErrPaymentTransport indicates the provider could not be reached.
	ErrPaymentTransport = errors.New("payment: provider unreachable")
	// ErrPaymentUnavailable indicates no payment provider is configured.
	ErrPaymentUnavailable = errors.New("payment: service unavailable")
)

// PreferenceManager abstracts payments.Manager for easier testing.
type PreferenceManager interface {
	CreatePreference(ctx context.Context, preferred string, req payments.PreferenceRequest) (payments.Preference, error)
	LookupPayment(ctx context.Context, providerKey string, req payments.LookupRequest) (payments.PaymentDetails, error)
}

type orderTransitioner interface {
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Payments PreferenceManager
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Status   orderTransitioner
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments PreferenceManager
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	status   orderTransitioner
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the payment preference and notification service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil || deps.Products == nil {
		return nil, errors.New("payment service: order and product repositories are required")
	}
	if deps.Status == nil {
		return nil, errors.New("payment service: order status service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentService{
		payments: deps.Payments,
		orders:   deps.Orders,
		products: deps.Products,
		status:   deps.Status,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *paymentService) CreatePreference(ctx context.Context, cmd PaymentPreferenceCommand) (PaymentPreference, error) {
	if s.payments == nil {
		return PaymentPreference{}, ErrPaymentUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentPreference{}, fmt.Errorf("%w: orderId is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return PaymentPreference{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
		}
		return PaymentPreference{}, err
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return PaymentPreference{}, ErrPaymentForbidden
	}
	if domain.IsPaidFamily(order.Status) || order.Status == domain.OrderStatusRejected {
		return PaymentPreference{}, fmt.Errorf("%w: order is %s", ErrPaymentInvalidState, order.Status)
	}

	product, err := s.products.FindByID(ctx, order.ProductID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return PaymentPreference{}, err
		}
		product = Product{ID: order.ProductID, Name: "Pedido " + order.ID}
	}

	return requestPreference(ctx, s.payments, s.orders, order, product, cmd.Payer, cmd.Origin, cmd.Provider, s.clock(), s.logger)
}

func (s *paymentService) HandleNotification(ctx context.Context, cmd PaymentNotificationCommand) (PaymentNotificationResult, error) {
	if s.payments == nil {
		return PaymentNotificationResult{}, ErrPaymentUnavailable
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentNotificationResult{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	details, err := s.payments.LookupPayment(ctx, cmd.Provider, payments.LookupRequest{PaymentID: paymentID})
	if err != nil {
		return PaymentNotificationResult{}, classifyPaymentError(err)
	}
	result := PaymentNotificationResult{OrderID: details.ExternalReference, Status: string(details.Status)}
	if details.ExternalReference == "" {
		s.logger(ctx, "payment.notification.unreferenced", map[string]any{"paymentId": paymentID})
		return result, nil
	}

	order, err := s.orders.FindByID(ctx, details.ExternalReference)
	if err != nil {
		if repositories.IsNotFound(err) {
			return result, fmt.Errorf("%w: %s", ErrPaymentNotFound, details.ExternalReference)
		}
		return result, err
	}

	actor := "system:" + details.Provider
	var cmdTransition *TransitionOrderCommand
	switch details.Status {
	case payments.StatusSucceeded:
		if domain.CanTransition(order.Status, domain.OrderStatusPaid) {
			cmdTransition = &TransitionOrderCommand{TargetStatus: domain.OrderStatusPaid}
		}
	case payments.StatusRefunded:
		if order.Status == domain.OrderStatusPaid {
			cmdTransition = &TransitionOrderCommand{TargetStatus: domain.OrderStatusApproved, Reason: "payment refunded"}
		}
	}
	if cmdTransition == nil {
		s.logger(ctx, "payment.notification.ignored", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
			"payment": string(details.Status),
		})
		return result, nil
	}

	expected := order.Status
	cmdTransition.OrderID = order.ID
	cmdTransition.ActorID = actor
	cmdTransition.ExpectedStatus = &expected
	if _, err := s.status.TransitionStatus(ctx, *cmdTransition); err != nil {
		if errors.Is(err, ErrOrderConflict) {
			// another notification already moved the order
			return result, nil
		}
		return result, err
	}
	result.Transitioned = true
	return result, nil
}

// requestPreference asks the provider for a checkout preference and records it on the order.
func requestPreference(ctx context.Context, manager PreferenceManager, orders repositories.OrderRepository, order Order, product Product, payer PaymentPayer, origin, provider string, now time.Time, logger func(context.Context, string, map[string]any)) (PaymentPreference, error) {
	quantity := int64(max(order.Quantity, 1))
	unit := order.Amount / quantity
	if unit*quantity != order.Amount {
		quantity, unit = 1, order.Amount
	}
	title := strings.TrimSpace(product.Name)
	if title == "" {
		title = "Pedido " + order.ID
	}

	pref, err := manager.CreatePreference(ctx, provider, payments.PreferenceRequest{
		OrderID: order.ID,
		Items: []payments.PreferenceItem{{
			Title:     title,
			Quantity:  quantity,
			UnitPrice: unit,
			Currency:  payments.DefaultCurrency,
		}},
		Payer:  payments.Payer{Email: payer.Email, Name: payer.Name},
		Origin: origin,
	})
	if err != nil {
		return PaymentPreference{}, classifyPaymentError(err)
	}

	if err := orders.SetPaymentReference(ctx, order.ID, pref.Provider, pref.ID, now); err != nil {
		logger(ctx, "payment.preference.persist.failed", map[string]any{
			"orderId":      order.ID,
			"preferenceId": pref.ID,
			"error":        err.Error(),
		})
	}

	return PaymentPreference{
		ID:        pref.ID,
		Provider:  pref.Provider,
		InitPoint: pref.InitPoint,
		OrderID:   order.ID,
	}, nil
}

// classifyPaymentError keeps the timeout, provider and transport classes distinct.
func classifyPaymentError(err error) error {
	var providerErr *payments.ProviderError
	switch {
	case errors.Is(err, payments.ErrPreferenceTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrPaymentTimeout, err)
	case errors.As(err, &providerErr):
		return fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	case errors.Is(err, payments.ErrProviderTransport):
		return fmt.Errorf("%w: %w", ErrPaymentTransport, err)
	case errors.Is(err, payments.ErrUnsupportedProvider), errors.Is(err, payments.ErrInvalidPreference):
		return fmt.Errorf("%w: %w", ErrPaymentInvalidInput, err)
	default:
		return err
	}
}
