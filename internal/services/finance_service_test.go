package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/payments"
	"github.com/rede-afiliados/api/internal/repositories/memory"
)

func newFinanceFixture(t *testing.T) (orderFixture, FinanceService) {
	t.Helper()
	f := newOrderFixture(t)
	svc, err := NewFinanceService(FinanceServiceDeps{
		Profiles:    f.store.Profiles(),
		Orders:      f.store.Orders(),
		Commissions: f.store.Commissions(),
		Status:      f.svc,
		Clock:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new finance service: %v", err)
	}
	return f, svc
}

func TestFinanceService_Summary(t *testing.T) {
	f, svc := newFinanceFixture(t)
	dueDay := 31
	f.store.PutProfile(domain.Profile{ID: "aff", Balance: 500_00, TotalEarnings: 900_00, InvoiceDueDay: &dueDay})
	f.store.PutOrder(domain.Order{ID: "feb", UserID: "aff", Amount: 200_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusPending, CreatedAt: fixedNow})
	f.store.PutOrder(domain.Order{ID: "jan", UserID: "aff", Amount: 100_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusShipped, CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)})
	f.store.PutOrder(domain.Order{ID: "settled", UserID: "aff", Amount: 999_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusPaid, CreatedAt: fixedNow})

	summary, err := svc.Summary(context.Background(), "aff")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.OpenDebt != 300_00 || summary.InvoiceLimit != domain.DefaultInvoiceLimit || summary.AvailableLimit != 700_00 {
		t.Fatalf("unexpected credit figures %+v", summary)
	}
	if summary.AvailableBalance != 200_00 || !summary.CanWithdraw {
		t.Fatalf("unexpected available balance %+v", summary)
	}
	if len(summary.OpenInvoices) != 2 {
		t.Fatalf("expected two open invoices, got %d", len(summary.OpenInvoices))
	}
	first, second := summary.OpenInvoices[0], summary.OpenInvoices[1]
	if first.Order.ID != "jan" || !first.Overdue {
		t.Fatalf("expected january invoice first and overdue, got %+v", first)
	}
	wantFeb := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	if !second.DueDate.Equal(wantFeb) || second.Overdue {
		t.Fatalf("expected due %s, got %+v", wantFeb, second)
	}
	if summary.NextDueDate == nil || !summary.NextDueDate.Equal(first.DueDate) {
		t.Fatalf("unexpected next due date %v", summary.NextDueDate)
	}
}

func TestFinanceService_PayInvoice(t *testing.T) {
	f, svc := newFinanceFixture(t)
	ctx := context.Background()
	f.store.PutProfile(domain.Profile{ID: "aff"})
	f.store.PutOrder(domain.Order{ID: "inv", UserID: "aff", Amount: 300_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusApproved, CreatedAt: fixedNow})
	f.store.PutOrder(domain.Order{ID: "shipped", UserID: "aff", Amount: 300_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusShipped, CreatedAt: fixedNow})

	if _, err := svc.PayInvoice(ctx, PayInvoiceCommand{UserID: "someone", OrderID: "inv"}); !errors.Is(err, ErrFinanceForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.PayInvoice(ctx, PayInvoiceCommand{UserID: "aff", OrderID: "shipped"}); !errors.Is(err, ErrFinanceInvalidState) {
		t.Fatalf("expected shipped invoice to be refused, got %v", err)
	}

	paid, err := svc.PayInvoice(ctx, PayInvoiceCommand{UserID: "aff", OrderID: "inv"})
	if err != nil {
		t.Fatalf("pay invoice: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	summary, err := svc.Summary(ctx, "aff")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.OpenDebt != 300_00 {
		t.Fatalf("expected only the shipped invoice to remain, got %d", summary.OpenDebt)
	}
}

func TestPaymentService_HandleNotification(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	ctx := context.Background()

	lookups := map[string]payments.PaymentDetails{
		"pay_ok":     {Provider: payments.ProviderMercadoPago, PaymentID: "pay_ok", ExternalReference: "ord_1", Status: payments.StatusSucceeded},
		"pay_refund": {Provider: payments.ProviderMercadoPago, PaymentID: "pay_refund", ExternalReference: "ord_1", Status: payments.StatusRefunded},
		"pay_orphan": {Provider: payments.ProviderMercadoPago, PaymentID: "pay_orphan", Status: payments.StatusSucceeded},
	}
	manager := &stubPreferenceManager{
		lookupFn: func(_ context.Context, _ string, req payments.LookupRequest) (payments.PaymentDetails, error) {
			return lookups[req.PaymentID], nil
		},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments: manager,
		Orders:   f.store.Orders(),
		Products: f.store.Products(),
		Status:   f.svc,
		Clock:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}

	result, err := svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "pay_ok"})
	if err != nil || !result.Transitioned {
		t.Fatalf("expected transition to paid, got %+v err=%v", result, err)
	}
	referrer, _ := f.store.Profiles().FindByID(ctx, "referrer")
	if referrer.Balance != 200_00 {
		t.Fatalf("expected commission credited, got %d", referrer.Balance)
	}

	// duplicate delivery is a no-op
	result, err = svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "pay_ok"})
	if err != nil || result.Transitioned {
		t.Fatalf("expected duplicate to be ignored, got %+v err=%v", result, err)
	}

	result, err = svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "pay_refund"})
	if err != nil || !result.Transitioned {
		t.Fatalf("expected refund to revert order, got %+v err=%v", result, err)
	}
	referrer, _ = f.store.Profiles().FindByID(ctx, "referrer")
	if referrer.Balance != 0 {
		t.Fatalf("expected commission reversed, got %d", referrer.Balance)
	}

	result, err = svc.HandleNotification(ctx, PaymentNotificationCommand{Provider: payments.ProviderMercadoPago, PaymentID: "pay_orphan"})
	if err != nil || result.Transitioned {
		t.Fatalf("expected unreferenced payment to be ignored, got %+v err=%v", result, err)
	}
}

func TestPaymentService_CreatePreferenceOwnership(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(domain.Order{ID: "ord_1", UserID: "buyer", Amount: 50_00, Quantity: 1, Status: domain.OrderStatusPending, PaymentMethod: domain.PaymentMethodNow})
	store.PutOrder(domain.Order{ID: "ord_paid", UserID: "buyer", Amount: 50_00, Quantity: 1, Status: domain.OrderStatusPaid, PaymentMethod: domain.PaymentMethodNow})
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments: &stubPreferenceManager{},
		Orders:   store.Orders(),
		Products: store.Products(),
		Status:   stubTransitioner{},
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "ord_1", ActorID: "intruder"}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "ord_paid", ActorID: "buyer"}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected paid order to be refused, got %v", err)
	}
	pref, err := svc.CreatePreference(ctx, PaymentPreferenceCommand{OrderID: "ord_1", ActorID: "admin", IsAdmin: true})
	if err != nil {
		t.Fatalf("admin preference: %v", err)
	}
	if pref.InitPoint == "" || pref.OrderID != "ord_1" {
		t.Fatalf("unexpected preference %+v", pref)
	}
}

func TestPaymentService_ProviderErrorKeepsDetails(t *testing.T) {
	store := memory.NewStore()
	store.PutOrder(domain.Order{ID: "ord_1", UserID: "buyer", Amount: 50_00, Quantity: 1, Status: domain.OrderStatusPending})
	providerErr := &payments.ProviderError{Provider: payments.ProviderMercadoPago, StatusCode: 400, Message: "invalid payer", Details: map[string]any{"error": "bad_request"}}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments: &stubPreferenceManager{createFn: func(context.Context, string, payments.PreferenceRequest) (payments.Preference, error) {
			return payments.Preference{}, providerErr
		}},
		Orders:   store.Orders(),
		Products: store.Products(),
		Status:   stubTransitioner{},
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}

	_, err = svc.CreatePreference(context.Background(), PaymentPreferenceCommand{OrderID: "ord_1", ActorID: "buyer"})
	if !errors.Is(err, ErrPaymentProvider) {
		t.Fatalf("expected provider error class, got %v", err)
	}
	var target *payments.ProviderError
	if !errors.As(err, &target) || target.Details["error"] != "bad_request" {
		t.Fatalf("expected provider details to survive, got %v", err)
	}
}

type stubTransitioner struct{}

func (stubTransitioner) TransitionStatus(context.Context, TransitionOrderCommand) (Order, error) {
	return Order{}, errors.New("unexpected transition")
}

func TestFinanceService_CommissionReport(t *testing.T) {
	f, svc := newFinanceFixture(t)
	ctx := context.Background()
	f.store.PutProfile(domain.Profile{ID: "aff_a", FullName: "Ana", Email: "ana@example.com"})
	f.store.PutProfile(domain.Profile{ID: "aff_b", FullName: "Bruno", Email: "bruno@example.com"})
	f.store.PutOrder(domain.Order{ID: "ord_a1", UserID: "buyer_1", Amount: 1000_00, Status: domain.OrderStatusPaid, CreatedAt: fixedNow})
	f.store.PutOrder(domain.Order{ID: "ord_b1", UserID: "buyer_2", Amount: 500_00, Status: domain.OrderStatusShipped, CreatedAt: fixedNow})
	f.store.PutCommission(domain.Commission{ID: "com_1", AffiliateID: "aff_a", OrderID: "ord_a1", Amount: 100_00, Rate: 10, CreatedAt: fixedNow.Add(-2 * time.Hour)})
	f.store.PutCommission(domain.Commission{ID: "com_2", AffiliateID: "aff_b", OrderID: "ord_b1", Amount: 75_00, Rate: 15, CreatedAt: fixedNow.Add(-time.Hour)})
	f.store.PutCommission(domain.Commission{ID: "com_3", AffiliateID: "aff_a", OrderID: "ord_gone", Amount: 20_00, Rate: 10, CreatedAt: fixedNow})

	report, err := svc.CommissionReport(ctx, CommissionReportFilter{Pagination: Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 195_00 {
		t.Fatalf("expected total across all pages, got %d", report.Total)
	}
	if len(report.Items) != 2 || report.NextPageToken == "" {
		t.Fatalf("expected first page of two with a token, got %d items token %q", len(report.Items), report.NextPageToken)
	}
	newest, second := report.Items[0], report.Items[1]
	if newest.ID != "com_3" || newest.AffiliateName != "Ana" || newest.OrderStatus != "" {
		t.Fatalf("expected newest line with blank order join, got %+v", newest)
	}
	if second.ID != "com_2" || second.AffiliateEmail != "bruno@example.com" || second.OrderAmount != 500_00 || second.OrderStatus != domain.OrderStatusShipped {
		t.Fatalf("unexpected joined line %+v", second)
	}

	filtered, err := svc.CommissionReport(ctx, CommissionReportFilter{AffiliateID: " aff_a "})
	if err != nil {
		t.Fatalf("filtered report: %v", err)
	}
	if filtered.Total != 120_00 || len(filtered.Items) != 2 {
		t.Fatalf("expected only aff_a commissions, got total %d items %d", filtered.Total, len(filtered.Items))
	}
	for _, line := range filtered.Items {
		if line.AffiliateID != "aff_a" {
			t.Fatalf("unexpected affiliate in filtered report %+v", line)
		}
	}
}
