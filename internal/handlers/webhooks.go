package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/rede-afiliados/api/internal/payments"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/httpx"
	"github.com/rede-afiliados/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type webhookAck struct {
	Received     bool   `json:"received"`
	OrderID      string `json:"order_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Transitioned bool   `json:"transitioned"`
	Ignored      string `json:"ignored,omitempty"`
}

// WebhookHandlers receives payment provider notifications.
type WebhookHandlers struct {
	payments     services.PaymentService
	mercadoPago  func(http.Handler) http.Handler
	stripeSecret string
}

// WebhookOption customises webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithMercadoPagoVerifier installs the signature middleware for Mercado Pago notifications.
func WithMercadoPagoVerifier(mw func(http.Handler) http.Handler) WebhookOption {
	return func(h *WebhookHandlers) {
		h.mercadoPago = mw
	}
}

// WithStripeSigningSecret enables the Stripe endpoint with the given endpoint secret.
func WithStripeSigningSecret(secret string) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripeSecret = strings.TrimSpace(secret)
	}
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	mp := r
	if h.mercadoPago != nil {
		mp = r.With(h.mercadoPago)
	}
	mp.Post("/payments/mercadopago", h.mercadoPagoNotification)
	r.Post("/payments/stripe", h.stripeNotification)
}

func (h *WebhookHandlers) mercadoPagoNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}

	// Unsigned notifications never reach the service.
	meta, ok := auth.HMACMetadataFromContext(ctx)
	if !ok || meta.DataID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("signature_missing", "notification is not signed", http.StatusUnauthorized))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "unable to read notification body")
		return
	}
	var note mercadoPagoNotification
	if len(body) > 0 {
		if err := decodeLooseJSON(body, &note); err != nil {
			writeBadRequest(ctx, w, "notification body is not JSON")
			return
		}
	}
	kind := strings.ToLower(strings.TrimSpace(note.Type))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
	}
	if kind != "" && kind != "payment" {
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: kind})
		return
	}

	h.applyNotification(w, r, payments.ProviderMercadoPago, meta.DataID)
}

func (h *WebhookHandlers) stripeNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripeSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "stripe webhook secret not configured", http.StatusServiceUnavailable))
		return
	}
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeBadRequest(ctx, w, "unable to read notification body")
		return
	}
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.stripeSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "signature verification failed", http.StatusUnauthorized))
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: string(event.Type)})
		return
	}
	sessionID, _ := event.Data.Object["id"].(string)
	if strings.TrimSpace(sessionID) == "" {
		writeBadRequest(ctx, w, "event carries no checkout session id")
		return
	}

	h.applyNotification(w, r, payments.ProviderStripe, sessionID)
}

// applyNotification acknowledges permanent failures with 200 so providers stop
// retrying, and surfaces transient ones as 5xx.
func (h *WebhookHandlers) applyNotification(w http.ResponseWriter, r *http.Request, provider, paymentID string) {
	ctx := r.Context()
	result, err := h.payments.HandleNotification(ctx, services.PaymentNotificationCommand{
		Provider:  provider,
		PaymentID: paymentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentNotFound),
			errors.Is(err, services.ErrPaymentInvalidInput),
			errors.Is(err, services.ErrOrderInvalidState):
			writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, OrderID: result.OrderID, Status: result.Status, Ignored: "unprocessable"})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookAck{
		Received:     true,
		OrderID:      result.OrderID,
		Status:       result.Status,
		Transitioned: result.Transitioned,
	})
}
