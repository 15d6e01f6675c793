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

var fixedNow = time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC)

type captureLedgerEvents struct {
	events []LedgerEvent
}

func (c *captureLedgerEvents) PublishLedgerEvent(_ context.Context, event LedgerEvent) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	orders      []Order
	withdrawals []Withdrawal
}

func (c *captureNotifier) NotifyOrderStatus(_ context.Context, order Order) error {
	c.orders = append(c.orders, order)
	return nil
}

func (c *captureNotifier) NotifyWithdrawal(_ context.Context, withdrawal Withdrawal) error {
	c.withdrawals = append(c.withdrawals, withdrawal)
	return nil
}

type captureJournal struct {
	entries []LedgerEntry
}

func (c *captureJournal) Record(_ context.Context, entries []LedgerEntry) error {
	c.entries = append(c.entries, entries...)
	return nil
}

func (c *captureJournal) TotalsByProfile(context.Context) (map[string]domain.LedgerTotals, error) {
	return map[string]domain.LedgerTotals{}, nil
}

type stubPreferenceManager struct {
	createFn func(context.Context, string, payments.PreferenceRequest) (payments.Preference, error)
	lookupFn func(context.Context, string, payments.LookupRequest) (payments.PaymentDetails, error)
}

func (s *stubPreferenceManager) CreatePreference(ctx context.Context, preferred string, req payments.PreferenceRequest) (payments.Preference, error) {
	if s.createFn != nil {
		return s.createFn(ctx, preferred, req)
	}
	return payments.Preference{ID: "pref_1", Provider: payments.ProviderMercadoPago, InitPoint: "https://mp/redirect"}, nil
}

func (s *stubPreferenceManager) LookupPayment(ctx context.Context, provider string, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, provider, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type orderFixture struct {
	store    *memory.Store
	svc      OrderService
	events   *captureLedgerEvents
	notifier *captureNotifier
	journal  *captureJournal
	checkout *stubPreferenceManager
}

func newOrderFixture(t *testing.T) orderFixture {
	t.Helper()
	store := memory.NewStore()
	f := orderFixture{
		store:    store,
		events:   &captureLedgerEvents{},
		notifier: &captureNotifier{},
		journal:  &captureJournal{},
		checkout: &stubPreferenceManager{},
	}
	seq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Ledger:   store.Ledger(),
		Orders:   store.Orders(),
		Checkout: f.checkout,
		Notifier: f.notifier,
		Events:   f.events,
		Journal:  f.journal,
		Clock:    func() time.Time { return fixedNow },
		IDGenerator: func() string {
			seq++
			return "ID" + string(rune('A'+seq-1))
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func ratePtr(v float64) *float64 { return &v }

func int64Ptr(v int64) *int64 { return &v }

func (f orderFixture) seedReferral(t *testing.T, rate *float64) {
	t.Helper()
	ctx := context.Background()
	f.store.PutProfile(domain.Profile{ID: "referrer", Role: domain.RoleAffiliate})
	f.store.PutProfile(domain.Profile{ID: "buyer", Role: domain.RoleAffiliate, ReferredBy: "referrer"})
	if err := f.store.Products().Insert(ctx, domain.Product{
		ID:             "prod_1",
		Name:           "Banner",
		FinalPrice:     1000_00,
		CommissionRate: rate,
		Status:         domain.ProductStatusApproved,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	f.store.PutOrder(domain.Order{
		ID:            "ord_1",
		UserID:        "buyer",
		ProductID:     "prod_1",
		Quantity:      1,
		Amount:        1000_00,
		PaymentMethod: domain.PaymentMethodNow,
		Status:        domain.OrderStatusPending,
		CreatedAt:     fixedNow,
	})
}

func (f orderFixture) profile(t *testing.T, id string) Profile {
	t.Helper()
	p, err := f.store.Profiles().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find profile %s: %v", id, err)
	}
	return p
}

func TestOrderService_TransitionToPaidGrantsCommission(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))

	order, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusPaid,
		ActorID:      "admin",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.OrderStatusPaid || order.PaidAt == nil {
		t.Fatalf("expected paid order with timestamp, got %#v", order)
	}

	commission, ok := f.store.Commission("ord_1")
	if !ok {
		t.Fatalf("expected commission to be created")
	}
	if commission.Amount != 200_00 || commission.Rate != 20 || commission.AffiliateID != "referrer" {
		t.Fatalf("unexpected commission %#v", commission)
	}

	referrer := f.profile(t, "referrer")
	if referrer.Balance != 200_00 || referrer.TotalEarnings != 200_00 {
		t.Fatalf("expected referrer balances 200_00, got %d/%d", referrer.Balance, referrer.TotalEarnings)
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].Kind != domain.LedgerEntryCommissionGrant {
		t.Fatalf("expected one grant entry journaled, got %#v", f.journal.entries)
	}
	if len(f.notifier.orders) != 1 {
		t.Fatalf("expected buyer notification")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != ledgerEventOrderStatusChanged {
		t.Fatalf("expected status changed event, got %#v", f.events.events)
	}
}

func TestOrderService_DefaultCommissionRate(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, nil)

	if _, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 100_00 {
		t.Fatalf("expected 10%% default commission, got %d", referrer.Balance)
	}
}

func TestOrderService_NoReferrerNoCommission(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	f.store.PutProfile(domain.Profile{ID: "buyer", Role: domain.RoleAffiliate})

	if _, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, ok := f.store.Commission("ord_1"); ok {
		t.Fatalf("expected no commission without referrer")
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 0 || referrer.TotalEarnings != 0 {
		t.Fatalf("expected balances unchanged, got %d/%d", referrer.Balance, referrer.TotalEarnings)
	}
	if len(f.journal.entries) != 0 {
		t.Fatalf("expected no ledger entries")
	}
}

func TestOrderService_RevertReversesCommission(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	ctx := context.Background()

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusApproved}); err != nil {
		t.Fatalf("revert: %v", err)
	}

	if _, ok := f.store.Commission("ord_1"); ok {
		t.Fatalf("expected commission to be deleted")
	}
	referrer := f.profile(t, "referrer")
	if referrer.Balance != 0 || referrer.TotalEarnings != 0 {
		t.Fatalf("expected balances back to zero, got %d/%d", referrer.Balance, referrer.TotalEarnings)
	}

	entries, err := f.store.LedgerEntries().ListByProfile(ctx, "referrer")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	totals := domain.FoldLedger(entries)
	if totals.Balance != referrer.Balance || totals.TotalEarnings != referrer.TotalEarnings || totals.Entries != 2 {
		t.Fatalf("ledger fold %+v disagrees with profile %d/%d", totals, referrer.Balance, referrer.TotalEarnings)
	}

	// a second paid cycle grants again
	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay again: %v", err)
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 200_00 {
		t.Fatalf("expected regrant, got %d", referrer.Balance)
	}
}

func TestOrderService_ReversalFloorsAtZero(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	ctx := context.Background()

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	referrer := f.profile(t, "referrer")
	referrer.Balance = 150_00
	f.store.PutProfile(referrer)

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusApproved}); err != nil {
		t.Fatalf("revert: %v", err)
	}
	referrer = f.profile(t, "referrer")
	if referrer.Balance != 0 {
		t.Fatalf("expected balance floored at 0, got %d", referrer.Balance)
	}
	if referrer.TotalEarnings != 0 {
		t.Fatalf("expected earnings 0, got %d", referrer.TotalEarnings)
	}
}

func TestOrderService_RevertWithoutCommissionProceeds(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	paid := fixedNow
	f.store.PutOrder(domain.Order{ID: "ord_2", UserID: "buyer", ProductID: "prod_1", Amount: 500_00, Status: domain.OrderStatusPaid, PaidAt: &paid})

	order, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{OrderID: "ord_2", TargetStatus: domain.OrderStatusApproved})
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if order.Status != domain.OrderStatusApproved || order.PaidAt != nil {
		t.Fatalf("unexpected order %#v", order)
	}
}

func TestOrderService_RejectRequiresReason(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, nil)
	ctx := context.Background()

	_, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusRejected, Reason: "  "})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}

	order, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusRejected, Reason: "arte ilegível"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if order.RejectionReason != "arte ilegível" {
		t.Fatalf("expected reason stored, got %q", order.RejectionReason)
	}

	_, err = f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusApproved})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected terminal rejected state, got %v", err)
	}
}

func TestOrderService_ExpectedStatusConflict(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, nil)
	expected := domain.OrderStatusApproved

	_, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{
		OrderID:        "ord_1",
		TargetStatus:   domain.OrderStatusPaid,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOrderService_CreateInvoiceRespectsCreditLimit(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.store.PutProfile(domain.Profile{ID: "buyer", InvoiceLimit: int64Ptr(1000_00)})
	for _, product := range []domain.Product{
		{ID: "p300", FinalPrice: 300_00, Status: domain.ProductStatusApproved},
		{ID: "p200", FinalPrice: 200_00, Status: domain.ProductStatusApproved},
	} {
		if err := f.store.Products().Insert(ctx, product); err != nil {
			t.Fatalf("insert product: %v", err)
		}
	}
	f.store.PutOrder(domain.Order{ID: "debt", UserID: "buyer", Amount: 800_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusApproved})

	_, err := f.svc.Create(ctx, CreateOrderCommand{UserID: "buyer", ProductID: "p300", Quantity: 1, PaymentMethod: domain.PaymentMethodInvoice})
	if !errors.Is(err, ErrOrderCreditLimitExceeded) {
		t.Fatalf("expected credit limit error, got %v", err)
	}

	result, err := f.svc.Create(ctx, CreateOrderCommand{UserID: "buyer", ProductID: "p200", Quantity: 1, PaymentMethod: domain.PaymentMethodInvoice})
	if err != nil {
		t.Fatalf("create within limit: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending || result.Checkout != nil {
		t.Fatalf("unexpected invoice result %#v", result)
	}
}

func TestOrderService_CreateNowRequestsPreference(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.seedReferral(t, nil)

	var captured payments.PreferenceRequest
	f.checkout.createFn = func(_ context.Context, _ string, req payments.PreferenceRequest) (payments.Preference, error) {
		captured = req
		return payments.Preference{ID: "pref_9", Provider: payments.ProviderMercadoPago, InitPoint: "https://mp/pref_9"}, nil
	}

	result, err := f.svc.Create(ctx, CreateOrderCommand{
		UserID:        "buyer",
		ProductID:     "prod_1",
		Quantity:      2,
		PaymentMethod: domain.PaymentMethodNow,
		Origin:        "http://localhost:5173",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Checkout == nil || result.Checkout.InitPoint != "https://mp/pref_9" {
		t.Fatalf("expected checkout redirect, got %#v", result.Checkout)
	}
	if result.Order.Amount != 2000_00 {
		t.Fatalf("expected amount 2000_00, got %d", result.Order.Amount)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 || captured.Items[0].UnitPrice != 1000_00 {
		t.Fatalf("unexpected preference items %#v", captured.Items)
	}

	stored, err := f.store.Orders().FindByID(ctx, result.Order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.PaymentPreferenceID != "pref_9" {
		t.Fatalf("expected preference recorded, got %q", stored.PaymentPreferenceID)
	}
}

func TestOrderService_CreateKeepsOrderWhenPreferenceTimesOut(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, nil)
	f.checkout.createFn = func(context.Context, string, payments.PreferenceRequest) (payments.Preference, error) {
		return payments.Preference{}, payments.ErrPreferenceTimeout
	}

	result, err := f.svc.Create(context.Background(), CreateOrderCommand{UserID: "buyer", ProductID: "prod_1", Quantity: 1, PaymentMethod: domain.PaymentMethodNow})
	if !errors.Is(err, ErrPaymentTimeout) {
		t.Fatalf("expected ErrPaymentTimeout, got %v", err)
	}
	if result.Order.ID == "" || result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order to be kept, got %#v", result.Order)
	}
}

func TestOrderService_CreateRejectsUnapprovedProduct(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	if err := f.store.Products().Insert(ctx, domain.Product{ID: "draft", FinalPrice: 10_00, Status: domain.ProductStatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := f.svc.Create(ctx, CreateOrderCommand{UserID: "buyer", ProductID: "draft", Quantity: 1, PaymentMethod: domain.PaymentMethodInvoice})
	if !errors.Is(err, ErrOrderProductUnavailable) {
		t.Fatalf("expected ErrOrderProductUnavailable, got %v", err)
	}
}

func TestOrderService_DeletePaidOrderReversesCommission(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	ctx := context.Background()

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := f.svc.Delete(ctx, DeleteOrderCommand{OrderID: "ord_1", ActorID: "admin"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, "ord_1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if referrer := f.profile(t, "referrer"); referrer.Balance != 0 {
		t.Fatalf("expected commission reversed, got %d", referrer.Balance)
	}
}

func TestOrderService_AllowedTransitions(t *testing.T) {
	f := newOrderFixture(t)
	got := f.svc.AllowedTransitions(domain.OrderStatusPaid)
	if len(got) != 2 || got[0] != domain.OrderStatusApproved || got[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected transitions %v", got)
	}
	if len(f.svc.AllowedTransitions(domain.OrderStatusDelivered)) != 0 {
		t.Fatalf("delivered should be terminal")
	}
}
