package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/payments"
)

func newPaymentFixture(t *testing.T) (orderFixture, PaymentService) {
	t.Helper()
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments: f.checkout,
		Orders:   f.store.Orders(),
		Products: f.store.Products(),
		Status:   f.svc,
		Clock:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return f, svc
}

func TestPaymentService_CreatePreference(t *testing.T) {
	f, svc := newPaymentFixture(t)
	var captured payments.PreferenceRequest
	f.checkout.createFn = func(_ context.Context, preferred string, req payments.PreferenceRequest) (payments.Preference, error) {
		if preferred != payments.ProviderStripe {
			t.Fatalf("expected preferred provider to pass through, got %q", preferred)
		}
		captured = req
		return payments.Preference{ID: "cs_1", Provider: payments.ProviderStripe, InitPoint: "https://stripe/redirect"}, nil
	}

	pref, err := svc.CreatePreference(context.Background(), PaymentPreferenceCommand{
		OrderID:  "ord_1",
		ActorID:  "buyer",
		Payer:    PaymentPayer{Email: "buyer@example.com"},
		Origin:   "https://rede.example",
		Provider: payments.ProviderStripe,
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "cs_1" || pref.InitPoint != "https://stripe/redirect" || pref.OrderID != "ord_1" {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if captured.OrderID != "ord_1" || len(captured.Items) != 1 || captured.Items[0].Title != "Banner" || captured.Items[0].UnitPrice != 1000_00 {
		t.Fatalf("unexpected provider request %+v", captured)
	}
	order, err := f.store.Orders().FindByID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.PaymentPreferenceID != "cs_1" || order.PaymentProvider != payments.ProviderStripe {
		t.Fatalf("expected payment reference stored, got %+v", order)
	}
}

func TestPaymentService_CreatePreferenceGuards(t *testing.T) {
	f, svc := newPaymentFixture(t)
	ctx := context.Background()

	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "ord_1", ActorID: "someone"}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "missing", ActorID: "buyer"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{ActorID: "buyer"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "ord_1", IsAdmin: true}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state for paid order, got %v", err)
	}
}

func TestPaymentService_ClassifiesProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "timeout", err: payments.ErrPreferenceTimeout, want: ErrPaymentTimeout},
		{name: "provider", err: &payments.ProviderError{Provider: payments.ProviderMercadoPago, StatusCode: 400, Message: "bad"}, want: ErrPaymentProvider},
		{name: "transport", err: payments.ErrProviderTransport, want: ErrPaymentTransport},
		{name: "unsupported", err: payments.ErrUnsupportedProvider, want: ErrPaymentInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, svc := newPaymentFixture(t)
			f.checkout.createFn = func(context.Context, string, payments.PreferenceRequest) (payments.Preference, error) {
				return payments.Preference{}, tc.err
			}
			_, err := svc.CreatePreference(context.Background(), PaymentPreferenceCommand{OrderID: "ord_1", ActorID: "buyer"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPaymentService_UnavailableWithoutManager(t *testing.T) {
	f := newOrderFixture(t)
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:   f.store.Orders(),
		Products: f.store.Products(),
		Status:   f.svc,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	if _, err := svc.CreatePreference(context.Background(), PaymentPreferenceCommand{OrderID: "ord_1"}); !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "1"}); !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPaymentService_NotificationMarksOrderPaid(t *testing.T) {
	f, svc := newPaymentFixture(t)
	f.checkout.lookupFn = func(_ context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error) {
		if provider != payments.ProviderMercadoPago || req.PaymentID != "123" {
			t.Fatalf("unexpected lookup %s %+v", provider, req)
		}
		return payments.PaymentDetails{
			Provider:          payments.ProviderMercadoPago,
			PaymentID:         "123",
			ExternalReference: "ord_1",
			Status:            payments.StatusSucceeded,
		}, nil
	}
	ctx := context.Background()

	result, err := svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "123"})
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if !result.Transitioned || result.OrderID != "ord_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 200_00 {
		t.Fatalf("expected commission granted through notification, got %d", referrer.Balance)
	}

	// replays leave the order untouched
	again, err := svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "123"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Transitioned {
		t.Fatalf("expected replay to be ignored")
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 200_00 {
		t.Fatalf("expected single grant, got %d", referrer.Balance)
	}
}

func TestPaymentService_RefundRevertsPaidOrder(t *testing.T) {
	f, svc := newPaymentFixture(t)
	ctx := context.Background()
	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	f.checkout.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Provider: payments.ProviderStripe, ExternalReference: "ord_1", Status: payments.StatusRefunded}, nil
	}

	result, err := svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderStripe, PaymentID: "pi_1"})
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if !result.Transitioned {
		t.Fatalf("expected refund to revert the order")
	}
	order, err := f.store.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != domain.OrderStatusApproved {
		t.Fatalf("expected approved after refund, got %s", order.Status)
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 0 {
		t.Fatalf("expected commission reversed, got %d", referrer.Balance)
	}
}

func TestPaymentService_NotificationUnknownOrder(t *testing.T) {
	f, svc := newPaymentFixture(t)
	f.checkout.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{ExternalReference: "ord_missing", Status: payments.StatusSucceeded}, nil
	}
	if _, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "9"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	f.checkout.lookupFn = func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{Status: payments.StatusSucceeded}, nil
	}
	result, err := svc.HandleNotification(context.Background(), PaymentNotificationCommand{PaymentID: "9"})
	if err != nil || result.Transitioned {
		t.Fatalf("expected unreferenced payment to be acknowledged, got %+v %v", result, err)
	}
}
