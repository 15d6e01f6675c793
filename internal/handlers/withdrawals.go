package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/services"
)

type requestWithdrawalRequest struct {
	PixKey string `json:"pix_key"`
}

type withdrawalPayload struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	PixKey     string `json:"pix_key"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

type withdrawalListResponse struct {
	Items         []withdrawalPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

// WithdrawalHandlers lets the effective user request and list payouts.
type WithdrawalHandlers struct {
	authn       *auth.Authenticator
	withdrawals services.WithdrawalService
}

// NewWithdrawalHandlers constructs withdrawal handlers.
func NewWithdrawalHandlers(authn *auth.Authenticator, withdrawals services.WithdrawalService) *WithdrawalHandlers {
	return &WithdrawalHandlers{authn: authn, withdrawals: withdrawals}
}

// Routes registers the /withdrawals endpoints.
func (h *WithdrawalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.requestWithdrawal)
	r.Get("/", h.listWithdrawals)
}

func (h *WithdrawalHandlers) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.withdrawals == nil {
		writeUnavailable(ctx, w, "withdrawal")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req requestWithdrawalRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}
	}

	withdrawal, err := h.withdrawals.Request(ctx, services.RequestWithdrawalCommand{
		UserID: identity.EffectiveUID(),
		PixKey: strings.TrimSpace(req.PixKey),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildWithdrawalPayload(withdrawal))
}

func (h *WithdrawalHandlers) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.withdrawals == nil {
		writeUnavailable(ctx, w, "withdrawal")
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

	page, err := h.withdrawals.ListMine(ctx, identity.EffectiveUID(), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWithdrawalList(page))
}

func buildWithdrawalList(page domain.CursorPage[services.Withdrawal]) withdrawalListResponse {
	items := make([]withdrawalPayload, 0, len(page.Items))
	for _, withdrawal := range page.Items {
		items = append(items, buildWithdrawalPayload(withdrawal))
	}
	return withdrawalListResponse{Items: items, NextPageToken: page.NextPageToken}
}

func buildWithdrawalPayload(withdrawal services.Withdrawal) withdrawalPayload {
	return withdrawalPayload{
		ID:         withdrawal.ID,
		UserID:     withdrawal.UserID,
		Amount:     withdrawal.Amount,
		PixKey:     withdrawal.PixKey,
		Status:     string(withdrawal.Status),
		Reason:     withdrawal.Reason,
		CreatedAt:  formatTime(withdrawal.CreatedAt),
		ResolvedAt: formatTimePtr(withdrawal.ResolvedAt),
		ResolvedBy: withdrawal.ResolvedBy,
	}
}
