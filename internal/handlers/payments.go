package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/services"
)

type preferenceItemRequest struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// preferenceRequest mirrors the checkout proxy body. Items are accepted for
// compatibility but the price is always derived from the stored order.
type preferenceRequest struct {
	OrderID  string                  `json:"orderId"`
	Items    []preferenceItemRequest `json:"items"`
	Payer    preferencePayerRequest  `json:"payer"`
	Provider string                  `json:"provider"`
}

type preferenceResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id,omitempty"`
	InitPoint string `json:"init_point,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// PaymentHandlers exposes the checkout preference proxy.
type PaymentHandlers struct {
	authn        *auth.Authenticator
	payments     services.PaymentService
	publicOrigin string
}

// NewPaymentHandlers constructs payment handlers; publicOrigin may be empty.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, publicOrigin string) *PaymentHandlers {
	return &PaymentHandlers{
		authn:        authn,
		payments:     payments,
		publicOrigin: strings.TrimRight(strings.TrimSpace(publicOrigin), "/"),
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/preferences", h.createPreference)
}

// createPreference always answers 200 once the caller is authenticated; failures
// are reported in the body with success=false.
func (h *PaymentHandlers) createPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeJSONResponse(w, http.StatusOK, preferenceResponse{Error: "payment service unavailable"})
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req preferenceRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusOK, preferenceResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	payer := services.PaymentPayer{
		Email: strings.TrimSpace(req.Payer.Email),
		Name:  strings.TrimSpace(req.Payer.Name),
	}
	if payer.Email == "" && !identity.IsDelegated() {
		payer.Email = identity.Email
	}

	pref, err := h.payments.CreatePreference(ctx, services.PaymentPreferenceCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		ActorID:  identity.EffectiveUID(),
		IsAdmin:  identity.HasRole(auth.RoleAdmin) && !identity.IsDelegated(),
		Payer:    payer,
		Origin:   requestOrigin(r, h.publicOrigin),
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeJSONResponse(w, http.StatusOK, preferenceResponse{
			Error:   preferenceErrorCode(err),
			Details: err.Error(),
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, preferenceResponse{
		Success:   true,
		ID:        pref.ID,
		InitPoint: pref.InitPoint,
		Provider:  pref.Provider,
	})
}

func preferenceErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		return "invalid_request"
	case errors.Is(err, services.ErrPaymentNotFound):
		return "order_not_found"
	case errors.Is(err, services.ErrPaymentForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrPaymentInvalidState):
		return "order_not_payable"
	case errors.Is(err, services.ErrPaymentTimeout):
		return "payment_timeout"
	case errors.Is(err, services.ErrPaymentProvider):
		return "payment_provider_error"
	case errors.Is(err, services.ErrPaymentTransport):
		return "payment_provider_unreachable"
	case errors.Is(err, services.ErrPaymentUnavailable):
		return "payment_unavailable"
	default:
		return "internal_error"
	}
}

// decodeLooseJSON is used for provider payloads whose shape we do not own.
func decodeLooseJSON(body []byte, dst any) error {
	if len(body) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, dst)
}
