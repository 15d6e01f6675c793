package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.TransitionOrderCommand) (services.Order, error)
	deleteFn     func(context.Context, services.DeleteOrderCommand) error
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) AllowedTransitions(status services.OrderStatus) []services.OrderStatus {
	return domain.AllowedTransitions(status)
}

func (s *stubOrderService) Delete(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return nil
}

type stubPaymentService struct {
	preferenceFn   func(context.Context, services.PaymentPreferenceCommand) (services.PaymentPreference, error)
	notificationFn func(context.Context, services.PaymentNotificationCommand) (services.PaymentNotificationResult, error)
}

func (s *stubPaymentService) CreatePreference(ctx context.Context, cmd services.PaymentPreferenceCommand) (services.PaymentPreference, error) {
	if s.preferenceFn != nil {
		return s.preferenceFn(ctx, cmd)
	}
	return services.PaymentPreference{}, nil
}

func (s *stubPaymentService) HandleNotification(ctx context.Context, cmd services.PaymentNotificationCommand) (services.PaymentNotificationResult, error) {
	if s.notificationFn != nil {
		return s.notificationFn(ctx, cmd)
	}
	return services.PaymentNotificationResult{}, nil
}

type stubWithdrawalService struct {
	requestFn  func(context.Context, services.RequestWithdrawalCommand) (services.Withdrawal, error)
	approveFn  func(context.Context, services.ResolveWithdrawalCommand) (services.Withdrawal, error)
	rejectFn   func(context.Context, services.ResolveWithdrawalCommand) (services.Withdrawal, error)
	listMineFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Withdrawal], error)
	listAllFn  func(context.Context, services.WithdrawalListFilter) (domain.CursorPage[services.Withdrawal], error)
}

func (s *stubWithdrawalService) Request(ctx context.Context, cmd services.RequestWithdrawalCommand) (services.Withdrawal, error) {
	if s.requestFn != nil {
		return s.requestFn(ctx, cmd)
	}
	return services.Withdrawal{}, nil
}

func (s *stubWithdrawalService) Approve(ctx context.Context, cmd services.ResolveWithdrawalCommand) (services.Withdrawal, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.Withdrawal{}, nil
}

func (s *stubWithdrawalService) Reject(ctx context.Context, cmd services.ResolveWithdrawalCommand) (services.Withdrawal, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.Withdrawal{}, nil
}

func (s *stubWithdrawalService) ListMine(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Withdrawal], error) {
	if s.listMineFn != nil {
		return s.listMineFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.Withdrawal]{}, nil
}

func (s *stubWithdrawalService) ListAll(ctx context.Context, filter services.WithdrawalListFilter) (domain.CursorPage[services.Withdrawal], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, filter)
	}
	return domain.CursorPage[services.Withdrawal]{}, nil
}

type stubFinanceService struct {
	summaryFn     func(context.Context, string) (services.FinanceSummary, error)
	payInvoiceFn  func(context.Context, services.PayInvoiceCommand) (services.Order, error)
	commissionsFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Commission], error)
	reportFn      func(context.Context, services.CommissionReportFilter) (services.CommissionReport, error)
}

func (s *stubFinanceService) Summary(ctx context.Context, userID string) (services.FinanceSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, userID)
	}
	return services.FinanceSummary{}, nil
}

func (s *stubFinanceService) PayInvoice(ctx context.Context, cmd services.PayInvoiceCommand) (services.Order, error) {
	if s.payInvoiceFn != nil {
		return s.payInvoiceFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubFinanceService) ListCommissions(ctx context.Context, affiliateID string, pager services.Pagination) (domain.CursorPage[services.Commission], error) {
	if s.commissionsFn != nil {
		return s.commissionsFn(ctx, affiliateID, pager)
	}
	return domain.CursorPage[services.Commission]{}, nil
}

func (s *stubFinanceService) CommissionReport(ctx context.Context, filter services.CommissionReportFilter) (services.CommissionReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx, filter)
	}
	return services.CommissionReport{}, nil
}

type stubImpersonationService struct {
	startFn func(context.Context, services.StartImpersonationCommand) (services.ImpersonationGrant, error)
}

func (s *stubImpersonationService) Start(ctx context.Context, cmd services.StartImpersonationCommand) (services.ImpersonationGrant, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.ImpersonationGrant{}, nil
}

type stubReconciler struct {
	report services.ReconciliationReport
	err    error
	calls  int
}

func (s *stubReconciler) Reconcile(context.Context) (services.ReconciliationReport, error) {
	s.calls++
	return s.report, s.err
}

// withIdentity injects identity the way RequireFirebaseAuth would.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func affiliateIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleAffiliate}}
}

func adminIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleAdmin}}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, rr)["error"].(string)
	return code
}
