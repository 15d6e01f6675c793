package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/services"
)

func TestWithdrawalHandlers_RequestWithoutBody(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var captured services.RequestWithdrawalCommand
	svc := &stubWithdrawalService{
		requestFn: func(_ context.Context, cmd services.RequestWithdrawalCommand) (services.Withdrawal, error) {
			captured = cmd
			return services.Withdrawal{ID: "wd-1", UserID: cmd.UserID, Amount: 250_00, PixKey: "pix@example.com", Status: domain.WithdrawalStatusPending, CreatedAt: now}, nil
		},
	}
	r := chi.NewRouter()
	r.With(withIdentity(affiliateIdentity("aff-1"))).Route("/withdrawals", NewWithdrawalHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/withdrawals/", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.UserID != "aff-1" || captured.PixKey != "" {
		t.Fatalf("unexpected command %+v", captured)
	}
	payload := decodeBody(t, rr)
	if payload["amount"].(float64) != 25000 || payload["status"] != "pending" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWithdrawalHandlers_RequestBelowMinimum(t *testing.T) {
	svc := &stubWithdrawalService{
		requestFn: func(context.Context, services.RequestWithdrawalCommand) (services.Withdrawal, error) {
			return services.Withdrawal{}, services.ErrWithdrawalInsufficientBalance
		},
	}
	r := chi.NewRouter()
	r.With(withIdentity(affiliateIdentity("aff-1"))).Route("/withdrawals", NewWithdrawalHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/withdrawals/", strings.NewReader(`{"pix_key":"k"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %s", code)
	}
}

func TestWithdrawalHandlers_ListMine(t *testing.T) {
	var gotUser string
	svc := &stubWithdrawalService{
		listMineFn: func(_ context.Context, userID string, _ services.Pagination) (domain.CursorPage[services.Withdrawal], error) {
			gotUser = userID
			return domain.CursorPage[services.Withdrawal]{Items: []services.Withdrawal{{ID: "wd-1", UserID: userID}}}, nil
		},
	}
	r := chi.NewRouter()
	r.With(withIdentity(affiliateIdentity("aff-4"))).Route("/withdrawals", NewWithdrawalHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodGet, "/withdrawals/", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || gotUser != "aff-4" {
		t.Fatalf("expected caller-scoped list, got %d user=%q", rr.Code, gotUser)
	}
}

func TestFinanceHandlers_Summary(t *testing.T) {
	due := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	svc := &stubFinanceService{
		summaryFn: func(_ context.Context, userID string) (services.FinanceSummary, error) {
			if userID != "aff-1" {
				t.Fatalf("unexpected user %s", userID)
			}
			return services.FinanceSummary{
				Balance:          300_00,
				TotalEarnings:    500_00,
				OpenDebt:         120_00,
				InvoiceLimit:     1000_00,
				AvailableLimit:   880_00,
				AvailableBalance: 180_00,
				CanWithdraw:      true,
				InvoiceDueDay:    10,
				NextDueDate:      &due,
				OpenInvoices: []services.InvoiceOrder{{
					Order:   services.Order{ID: "ord-1", Amount: 120_00, PaymentMethod: domain.PaymentMethodInvoice, Status: domain.OrderStatusApproved},
					DueDate: due,
					Overdue: false,
				}},
			}, nil
		},
	}
	r := chi.NewRouter()
	r.With(withIdentity(affiliateIdentity("aff-1"))).Route("/finance", NewFinanceHandlers(nil, svc).Routes)

	req := httptest.NewRequest(http.MethodGet, "/finance/summary", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["available_balance"].(float64) != 18000 || payload["can_withdraw"] != true {
		t.Fatalf("unexpected summary %+v", payload)
	}
	if payload["minimum_withdrawal"].(float64) != float64(domain.MinimumWithdrawal) {
		t.Fatalf("expected minimum withdrawal, got %v", payload["minimum_withdrawal"])
	}
	invoices := payload["open_invoices"].([]any)
	if len(invoices) != 1 || invoices[0].(map[string]any)["due_date"] != "2026-05-10" {
		t.Fatalf("unexpected invoices %+v", invoices)
	}
}

func TestFinanceHandlers_PayInvoice(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"paid", nil, http.StatusOK},
		{"foreign order", services.ErrFinanceForbidden, http.StatusForbidden},
		{"already settled", services.ErrFinanceInvalidState, http.StatusConflict},
		{"missing", services.ErrFinanceNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.PayInvoiceCommand
			svc := &stubFinanceService{
				payInvoiceFn: func(_ context.Context, cmd services.PayInvoiceCommand) (services.Order, error) {
					captured = cmd
					if tc.err != nil {
						return services.Order{}, tc.err
					}
					return services.Order{ID: cmd.OrderID, UserID: cmd.UserID, Status: domain.OrderStatusPaid}, nil
				},
			}
			r := chi.NewRouter()
			r.With(withIdentity(affiliateIdentity("aff-1"))).Route("/finance", NewFinanceHandlers(nil, svc).Routes)

			req := httptest.NewRequest(http.MethodPost, "/finance/invoices/ord-5:pay", nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rr.Code, rr.Body.String())
			}
			if captured.OrderID != "ord-5" || captured.UserID != "aff-1" {
				t.Fatalf("unexpected command %+v", captured)
			}
		})
	}
}
