package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/services"
)

type invoicePayload struct {
	Order   orderPayload `json:"order"`
	DueDate string       `json:"due_date"`
	Overdue bool         `json:"overdue"`
}

type financeSummaryPayload struct {
	Balance          int64            `json:"balance"`
	TotalEarnings    int64            `json:"total_earnings"`
	OpenDebt         int64            `json:"open_debt"`
	InvoiceLimit     int64            `json:"invoice_limit"`
	AvailableLimit   int64            `json:"available_limit"`
	AvailableBalance int64            `json:"available_balance"`
	CanWithdraw      bool             `json:"can_withdraw"`
	MinimumPayout    int64            `json:"minimum_withdrawal"`
	InvoiceDueDay    int              `json:"invoice_due_day"`
	NextDueDate      string           `json:"next_due_date,omitempty"`
	OpenInvoices     []invoicePayload `json:"open_invoices"`
}

type commissionPayload struct {
	ID          string  `json:"id"`
	AffiliateID string  `json:"affiliate_id"`
	OrderID     string  `json:"order_id"`
	BuyerID     string  `json:"buyer_id"`
	Amount      int64   `json:"amount"`
	Rate        float64 `json:"rate"`
	CreatedAt   string  `json:"created_at"`
}

type commissionListResponse struct {
	Items         []commissionPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

// FinanceHandlers exposes the affiliate financial summary and invoice settlement.
type FinanceHandlers struct {
	authn   *auth.Authenticator
	finance services.FinanceService
}

// NewFinanceHandlers constructs finance handlers.
func NewFinanceHandlers(authn *auth.Authenticator, finance services.FinanceService) *FinanceHandlers {
	return &FinanceHandlers{authn: authn, finance: finance}
}

// Routes registers the /finance endpoints.
func (h *FinanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/summary", h.summary)
	r.Get("/commissions", h.listCommissions)
	r.Post("/invoices/{orderID}:pay", h.payInvoice)
}

func (h *FinanceHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.finance == nil {
		writeUnavailable(ctx, w, "finance")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	summary, err := h.finance.Summary(ctx, identity.EffectiveUID())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := financeSummaryPayload{
		Balance:          summary.Balance,
		TotalEarnings:    summary.TotalEarnings,
		OpenDebt:         summary.OpenDebt,
		InvoiceLimit:     summary.InvoiceLimit,
		AvailableLimit:   summary.AvailableLimit,
		AvailableBalance: summary.AvailableBalance,
		CanWithdraw:      summary.CanWithdraw,
		MinimumPayout:    domain.MinimumWithdrawal,
		InvoiceDueDay:    summary.InvoiceDueDay,
		NextDueDate:      formatTimePtr(summary.NextDueDate),
		OpenInvoices:     make([]invoicePayload, 0, len(summary.OpenInvoices)),
	}
	for _, invoice := range summary.OpenInvoices {
		payload.OpenInvoices = append(payload.OpenInvoices, invoicePayload{
			Order:   buildOrderPayload(invoice.Order, nil),
			DueDate: invoice.DueDate.UTC().Format("2006-01-02"),
			Overdue: invoice.Overdue,
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *FinanceHandlers) listCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.finance == nil {
		writeUnavailable(ctx, w, "finance")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	page, err := h.finance.ListCommissions(ctx, identity.EffectiveUID(), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]commissionPayload, 0, len(page.Items))
	for _, c := range page.Items {
		items = append(items, buildCommissionPayload(c))
	}
	writeJSONResponse(w, http.StatusOK, commissionListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func buildCommissionPayload(c services.Commission) commissionPayload {
	return commissionPayload{
		ID:          c.ID,
		AffiliateID: c.AffiliateID,
		OrderID:     c.OrderID,
		BuyerID:     c.BuyerID,
		Amount:      c.Amount,
		Rate:        c.Rate,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

func (h *FinanceHandlers) payInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.finance == nil {
		writeUnavailable(ctx, w, "finance")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.finance.PayInvoice(ctx, services.PayInvoiceCommand{
		UserID:  identity.EffectiveUID(),
		OrderID: orderID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, nil))
}
