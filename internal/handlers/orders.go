package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/httpx"
	"github.com/rede-afiliados/api/internal/services"
)

type createOrderRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
	Provider      string `json:"provider"`
	PayerName     string `json:"payer_name"`
}

type orderPayload struct {
	ID                  string                     `json:"id"`
	UserID              string                     `json:"user_id"`
	ProductID           string                     `json:"product_id"`
	Quantity            int                        `json:"quantity"`
	Amount              int64                      `json:"amount"`
	PaymentMethod       string                     `json:"payment_method"`
	Status              string                     `json:"status"`
	RejectionReason     string                     `json:"rejection_reason,omitempty"`
	PaymentProvider     string                     `json:"payment_provider,omitempty"`
	PaymentPreferenceID string                     `json:"payment_preference_id,omitempty"`
	AllowedTransitions  []string                   `json:"allowed_transitions,omitempty"`
	History             []orderStatusChangePayload `json:"history,omitempty"`
	CreatedAt           string                     `json:"created_at"`
	UpdatedAt           string                     `json:"updated_at,omitempty"`
	PaidAt              string                     `json:"paid_at,omitempty"`
}

type orderStatusChangePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

type checkoutPayload struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	InitPoint string `json:"init_point"`
}

type createOrderResponse struct {
	Order    orderPayload     `json:"order"`
	Checkout *checkoutPayload `json:"checkout,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// OrderHandlers exposes order placement and read endpoints for the effective user.
type OrderHandlers struct {
	authn        *auth.Authenticator
	orders       services.OrderService
	publicOrigin string
}

// OrderHandlerOption customises order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderPublicOrigin fixes the origin used for checkout return URLs.
func WithOrderPublicOrigin(origin string) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.publicOrigin = strings.TrimRight(strings.TrimSpace(origin), "/")
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if method != domain.PaymentMethodNow && method != domain.PaymentMethodInvoice {
		writeBadRequest(ctx, w, "payment_method must be now or invoice")
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:        identity.EffectiveUID(),
		ProductID:     strings.TrimSpace(req.ProductID),
		Quantity:      req.Quantity,
		PaymentMethod: method,
		Origin:        requestOrigin(r, h.publicOrigin),
		Provider:      strings.TrimSpace(req.Provider),
		Payer:         services.PaymentPayer{Name: strings.TrimSpace(req.PayerName)},
	}
	if !identity.IsDelegated() {
		cmd.Payer.Email = identity.Email
	}

	result, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := createOrderResponse{Order: buildOrderPayload(result.Order, nil)}
	if result.Checkout != nil {
		resp.Checkout = &checkoutPayload{
			ID:        result.Checkout.ID,
			Provider:  result.Checkout.Provider,
			InitPoint: result.Checkout.InitPoint,
		}
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = identity.EffectiveUID()

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page, nil))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
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

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	// Other users' orders are reported as missing rather than forbidden.
	if order.UserID != identity.EffectiveUID() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, nil))
}

// parseOrderFilter reads the status, payment_method and paging query parameters.
func parseOrderFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()
	query := r.URL.Query()

	var filter services.OrderListFilter
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			writeBadRequest(ctx, w, "status is not a known order status")
			return filter, false
		}
		filter.Status = &status
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("payment_method"))); raw != "" {
		method := domain.PaymentMethod(raw)
		if method != domain.PaymentMethodNow && method != domain.PaymentMethodInvoice {
			writeBadRequest(ctx, w, "payment_method must be now or invoice")
			return filter, false
		}
		filter.PaymentMethod = &method
	}

	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return filter, false
	}
	filter.Pagination = pager
	return filter, true
}

func buildOrderList(page domain.CursorPage[services.Order], allowed func(services.OrderStatus) []services.OrderStatus) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order, allowed))
	}
	return orderListResponse{Items: items, NextPageToken: page.NextPageToken}
}

// buildOrderPayload renders an order; allowed is only set for admin views.
func buildOrderPayload(order services.Order, allowed func(services.OrderStatus) []services.OrderStatus) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		UserID:              order.UserID,
		ProductID:           order.ProductID,
		Quantity:            order.Quantity,
		Amount:              order.Amount,
		PaymentMethod:       string(order.PaymentMethod),
		Status:              string(order.Status),
		RejectionReason:     order.RejectionReason,
		PaymentProvider:     order.PaymentProvider,
		PaymentPreferenceID: order.PaymentPreferenceID,
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
		PaidAt:              formatTimePtr(order.PaidAt),
	}
	if allowed != nil {
		for _, status := range allowed(order.Status) {
			payload.AllowedTransitions = append(payload.AllowedTransitions, string(status))
		}
		for _, change := range order.StatusHistory {
			payload.History = append(payload.History, orderStatusChangePayload{
				From:    string(change.From),
				To:      string(change.To),
				ActorID: change.ActorID,
				Reason:  change.Reason,
				At:      formatTime(change.At),
			})
		}
	}
	return payload
}

// requestOrigin returns the configured origin, else the browser Origin header, else the request host.
func requestOrigin(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		return origin
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		scheme = forwarded
	}
	if r.Host == "" {
		return ""
	}
	return scheme + "://" + r.Host
}
