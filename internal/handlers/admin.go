package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/services"
)

// AdminHandlersDeps bundles the services behind the admin console.
type AdminHandlersDeps struct {
	Authenticator *auth.Authenticator
	Users         services.AdminUserService
	Orders        services.OrderService
	Withdrawals   services.WithdrawalService
	Finance       services.FinanceService
	Products      services.ProductService
	Materials     services.MaterialService
	Notifications services.NotificationService
	Dashboard     services.DashboardService
	Impersonation services.ImpersonationService
	Audit         services.AuditLogService
	Site          services.SiteService
}

// AdminHandlers exposes the admin console API. Every route requires the admin role,
// which delegated identities never carry.
type AdminHandlers struct {
	authn         *auth.Authenticator
	users         services.AdminUserService
	orders        services.OrderService
	withdrawals   services.WithdrawalService
	finance       services.FinanceService
	products      services.ProductService
	materials     services.MaterialService
	notifications services.NotificationService
	dashboard     services.DashboardService
	impersonation services.ImpersonationService
	audit         services.AuditLogService
	site          services.SiteService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:         deps.Authenticator,
		users:         deps.Users,
		orders:        deps.Orders,
		withdrawals:   deps.Withdrawals,
		finance:       deps.Finance,
		products:      deps.Products,
		materials:     deps.Materials,
		notifications: deps.Notifications,
		dashboard:     deps.Dashboard,
		impersonation: deps.Impersonation,
		audit:         deps.Audit,
		site:          deps.Site,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}

	r.Get("/dashboard", h.getDashboard)

	r.Get("/users", h.listUsers)
	r.Put("/users/{userID}/invoice-limit", h.setInvoiceLimit)
	r.Put("/users/{userID}/invoice-due-day", h.setInvoiceDueDay)
	r.Put("/users/{userID}/role", h.setRole)
	r.Delete("/users/{userID}", h.deleteUser)
	r.Get("/users/{userID}/notifications", h.listUserNotifications)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)

	r.Get("/withdrawals", h.listWithdrawals)
	r.Post("/withdrawals/{withdrawalID}:approve", h.approveWithdrawal)
	r.Post("/withdrawals/{withdrawalID}:reject", h.rejectWithdrawal)

	r.Get("/commissions", h.listCommissions)

	r.Get("/products", h.listProducts)
	r.Post("/products/{productID}:approve", h.approveProduct)
	r.Post("/products/{productID}:reject", h.rejectProduct)
	r.Put("/products/{productID}/commission-rate", h.setCommissionRate)

	r.Get("/materials", h.listMaterials)
	r.Post("/materials", h.createMaterial)
	r.Put("/materials/{materialID}", h.updateMaterial)
	r.Delete("/materials/{materialID}", h.deleteMaterial)

	r.Post("/notifications", h.sendNotification)
	r.Post("/impersonations", h.startImpersonation)
	r.Get("/audit-logs", h.listAuditLogs)

	r.Put("/site", h.saveSiteSettings)
	r.Post("/site/assets", h.addSiteAsset)
	r.Delete("/site/assets/{assetID}", h.deleteSiteAsset)
}

type setInvoiceLimitRequest struct {
	Limit int64 `json:"limit"`
}

type setInvoiceDueDayRequest struct {
	DueDay int `json:"due_day"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

type profileListResponse struct {
	Items         []profilePayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type rankedProductPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Orders    int    `json:"orders"`
	Revenue   int64  `json:"revenue"`
}

type rankedAffiliatePayload struct {
	ProfileID     string `json:"profile_id"`
	Name          string `json:"name"`
	TotalEarnings int64  `json:"total_earnings"`
}

type dashboardPayload struct {
	Revenue        int64                    `json:"revenue"`
	OrderCount     int                      `json:"order_count"`
	AffiliateCount int                      `json:"affiliate_count"`
	AverageTicket  int64                    `json:"average_ticket"`
	TopProducts    []rankedProductPayload   `json:"top_products"`
	TopAffiliates  []rankedAffiliatePayload `json:"top_affiliates"`
	GeneratedAt    string                   `json:"generated_at"`
}

func (h *AdminHandlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboard == nil {
		writeUnavailable(ctx, w, "dashboard")
		return
	}
	overview, err := h.dashboard.Overview(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := dashboardPayload{
		Revenue:        overview.Revenue,
		OrderCount:     overview.OrderCount,
		AffiliateCount: overview.AffiliateCount,
		AverageTicket:  overview.AverageTicket,
		TopProducts:    make([]rankedProductPayload, 0, len(overview.TopProducts)),
		TopAffiliates:  make([]rankedAffiliatePayload, 0, len(overview.TopAffiliates)),
		GeneratedAt:    formatTime(overview.GeneratedAt),
	}
	for _, p := range overview.TopProducts {
		payload.TopProducts = append(payload.TopProducts, rankedProductPayload{ProductID: p.ProductID, Name: p.Name, Orders: p.Orders, Revenue: p.Revenue})
	}
	for _, a := range overview.TopAffiliates {
		payload.TopAffiliates = append(payload.TopAffiliates, rankedAffiliatePayload{ProfileID: a.ProfileID, Name: a.Name, TotalEarnings: a.TotalEarnings})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "admin_user")
		return
	}
	var filter services.AdminUserFilter
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role"))); raw != "" {
		role, ok := parseRole(raw)
		if !ok {
			writeBadRequest(ctx, w, "role must be admin or affiliate")
			return
		}
		filter.Role = &role
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	filter.Pagination = pager

	page, err := h.users.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]profilePayload, 0, len(page.Items))
	for _, profile := range page.Items {
		items = append(items, buildProfilePayload(profile))
	}
	writeJSONResponse(w, http.StatusOK, profileListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminHandlers) setInvoiceLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "admin_user")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req setInvoiceLimitRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	profile, err := h.users.SetInvoiceLimit(ctx, services.SetInvoiceLimitCommand{
		UserID:  chi.URLParam(r, "userID"),
		ActorID: actorID(identity),
		Limit:   req.Limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *AdminHandlers) setInvoiceDueDay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "admin_user")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req setInvoiceDueDayRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	profile, err := h.users.SetInvoiceDueDay(ctx, services.SetInvoiceDueDayCommand{
		UserID:  chi.URLParam(r, "userID"),
		ActorID: actorID(identity),
		DueDay:  req.DueDay,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *AdminHandlers) setRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "admin_user")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	role, valid := parseRole(req.Role)
	if !valid {
		writeBadRequest(ctx, w, "role must be admin or affiliate")
		return
	}
	profile, err := h.users.SetRole(ctx, services.SetRoleCommand{
		UserID:  chi.URLParam(r, "userID"),
		ActorID: actorID(identity),
		Role:    role,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *AdminHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		writeUnavailable(ctx, w, "admin_user")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.users.Delete(ctx, services.DeleteUserCommand{
		UserID:  chi.URLParam(r, "userID"),
		ActorID: actorID(identity),
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listUserNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		writeUnavailable(ctx, w, "notification")
		return
	}
	inbox, err := h.notifications.List(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInboxPayload(inbox))
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page, h.orders.AllowedTransitions))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, h.orders.AllowedTransitions))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req transitionOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	target, valid := domain.ParseOrderStatus(req.Status)
	if !valid {
		writeBadRequest(ctx, w, "status is not a known order status")
		return
	}
	cmd := services.TransitionOrderCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: target,
		Reason:       strings.TrimSpace(req.Reason),
		ActorID:      actorID(identity),
	}
	if strings.TrimSpace(req.ExpectedStatus) != "" {
		expected, valid := domain.ParseOrderStatus(req.ExpectedStatus)
		if !valid {
			writeBadRequest(ctx, w, "expected_status is not a known order status")
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, h.orders.AllowedTransitions))
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.orders.Delete(ctx, services.DeleteOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: actorID(identity),
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.withdrawals == nil {
		writeUnavailable(ctx, w, "withdrawal")
		return
	}
	var filter services.WithdrawalListFilter
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		status := domain.WithdrawalStatus(raw)
		switch status {
		case domain.WithdrawalStatusPending, domain.WithdrawalStatusApproved, domain.WithdrawalStatusRejected:
			filter.Status = &status
		default:
			writeBadRequest(ctx, w, "status must be pending, approved or rejected")
			return
		}
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	filter.Pagination = pager

	page, err := h.withdrawals.ListAll(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWithdrawalList(page))
}

type commissionReportLinePayload struct {
	commissionPayload
	AffiliateName  string `json:"affiliate_name,omitempty"`
	AffiliateEmail string `json:"affiliate_email,omitempty"`
	OrderAmount    int64  `json:"order_amount"`
	OrderStatus    string `json:"order_status,omitempty"`
}

type commissionReportResponse struct {
	Items         []commissionReportLinePayload `json:"items"`
	Total         int64                         `json:"total"`
	NextPageToken string                        `json:"next_page_token,omitempty"`
}

func (h *AdminHandlers) listCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.finance == nil {
		writeUnavailable(ctx, w, "finance")
		return
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	report, err := h.finance.CommissionReport(ctx, services.CommissionReportFilter{
		AffiliateID: strings.TrimSpace(r.URL.Query().Get("affiliate_id")),
		Pagination:  pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := commissionReportResponse{
		Items:         make([]commissionReportLinePayload, 0, len(report.Items)),
		Total:         report.Total,
		NextPageToken: report.NextPageToken,
	}
	for _, line := range report.Items {
		resp.Items = append(resp.Items, commissionReportLinePayload{
			commissionPayload: buildCommissionPayload(line.Commission),
			AffiliateName:     line.AffiliateName,
			AffiliateEmail:    line.AffiliateEmail,
			OrderAmount:       line.OrderAmount,
			OrderStatus:       string(line.OrderStatus),
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, false)
}

func (h *AdminHandlers) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.resolveWithdrawal(w, r, true)
}

func (h *AdminHandlers) resolveWithdrawal(w http.ResponseWriter, r *http.Request, reject bool) {
	ctx := r.Context()
	if h.withdrawals == nil {
		writeUnavailable(ctx, w, "withdrawal")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req rejectWithdrawalRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}
	}
	cmd := services.ResolveWithdrawalCommand{
		WithdrawalID: chi.URLParam(r, "withdrawalID"),
		ActorID:      actorID(identity),
		Reason:       strings.TrimSpace(req.Reason),
	}

	var (
		withdrawal services.Withdrawal
		err        error
	)
	if reject {
		withdrawal, err = h.withdrawals.Reject(ctx, cmd)
	} else {
		withdrawal, err = h.withdrawals.Approve(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWithdrawalPayload(withdrawal))
}

type startImpersonationRequest struct {
	UserID     string   `json:"user_id"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type impersonationPayload struct {
	Token     string   `json:"token"`
	Header    string   `json:"header"`
	TargetID  string   `json:"target_id"`
	ActorID   string   `json:"actor_id"`
	Scopes    []string `json:"scopes"`
	ExpiresAt string   `json:"expires_at"`
}

func (h *AdminHandlers) startImpersonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.impersonation == nil {
		writeUnavailable(ctx, w, "impersonation")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req startImpersonationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.TTLSeconds < 0 {
		writeBadRequest(ctx, w, "ttl_seconds must not be negative")
		return
	}

	grant, err := h.impersonation.Start(ctx, services.StartImpersonationCommand{
		ActorID:  actorID(identity),
		TargetID: strings.TrimSpace(req.UserID),
		Scopes:   req.Scopes,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
		IP:       clientIP(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, impersonationPayload{
		Token:     grant.Token,
		Header:    auth.DelegationHeader,
		TargetID:  grant.TargetID,
		ActorID:   grant.ActorID,
		Scopes:    grant.Scopes,
		ExpiresAt: formatTime(grant.ExpiresAt),
	})
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		writeUnavailable(ctx, w, "audit_log")
		return
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	query := r.URL.Query()
	page, err := h.audit.List(ctx, services.AuditLogFilter{
		TargetRef:  query.Get("target"),
		Actor:      query.Get("actor"),
		Action:     query.Get("action"),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Severity:  entry.Severity,
			Metadata:  entry.Metadata,
			Diff:      entry.Diff,
			RequestID: entry.RequestID,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items, "next_page_token": page.NextPageToken})
}

func parseRole(raw string) (domain.Role, bool) {
	switch role := domain.Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case domain.RoleAdmin, domain.RoleAffiliate:
		return role, true
	default:
		return "", false
	}
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
