package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/httpx"
	"github.com/rede-afiliados/api/internal/platform/pagination"
	"github.com/rede-afiliados/api/internal/repositories"
	"github.com/rede-afiliados/api/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 64 * 1024
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

type errorMapping struct {
	target error
	code   string
	status int
}

// serviceErrors is checked in order; the first match wins.
var serviceErrors = []errorMapping{
	{services.ErrOrderCreditLimitExceeded, "credit_limit_exceeded", http.StatusUnprocessableEntity},
	{services.ErrOrderProductUnavailable, "product_unavailable", http.StatusUnprocessableEntity},
	{services.ErrWithdrawalInsufficientBalance, "insufficient_balance", http.StatusUnprocessableEntity},
	{services.ErrProfileNicknameTaken, "nickname_taken", http.StatusConflict},
	{services.ErrProductInUse, "product_in_use", http.StatusConflict},
	{services.ErrPaymentTimeout, "payment_timeout", http.StatusGatewayTimeout},
	{services.ErrPaymentProvider, "payment_provider_error", http.StatusBadGateway},
	{services.ErrPaymentTransport, "payment_provider_unreachable", http.StatusBadGateway},
	{services.ErrPaymentUnavailable, "payment_unavailable", http.StatusServiceUnavailable},
	{services.ErrProductUploadUnavailable, "uploads_unavailable", http.StatusServiceUnavailable},
	{services.ErrProfileUploadUnavailable, "uploads_unavailable", http.StatusServiceUnavailable},
	{domain.ErrRejectionReasonRequired, "rejection_reason_required", http.StatusBadRequest},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{domain.ErrInvalidCommissionRate, "invalid_commission_rate", http.StatusBadRequest},
	{domain.ErrInvalidDimensions, "invalid_dimensions", http.StatusBadRequest},
	{domain.ErrFixedPriceRequired, "fixed_price_required", http.StatusBadRequest},

	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPaymentInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrWithdrawalInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrFinanceInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrProductInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrMaterialInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrProfileInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrAdminUserInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrNotificationInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrSiteInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrImpersonationInvalidInput, "invalid_request", http.StatusBadRequest},

	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrPaymentNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrFinanceNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrWithdrawalNotFound, "withdrawal_not_found", http.StatusNotFound},
	{services.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrMaterialNotFound, "material_not_found", http.StatusNotFound},
	{services.ErrProfileNotFound, "profile_not_found", http.StatusNotFound},
	{services.ErrAdminUserNotFound, "user_not_found", http.StatusNotFound},
	{services.ErrImpersonationNotFound, "user_not_found", http.StatusNotFound},
	{services.ErrNotificationNotFound, "notification_not_found", http.StatusNotFound},
	{services.ErrSiteNotFound, "site_asset_not_found", http.StatusNotFound},

	{services.ErrPaymentForbidden, "forbidden", http.StatusForbidden},
	{services.ErrFinanceForbidden, "forbidden", http.StatusForbidden},
	{services.ErrProductForbidden, "forbidden", http.StatusForbidden},
	{services.ErrImpersonationForbidden, "forbidden", http.StatusForbidden},

	{services.ErrOrderInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrPaymentInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrFinanceInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrWithdrawalInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrProductInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrAdminUserInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrOrderConflict, "conflict", http.StatusConflict},
	{services.ErrWithdrawalConflict, "conflict", http.StatusConflict},
}

// writeServiceError maps service sentinels and repository categories onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			httpx.WriteError(ctx, w, httpx.NewError(m.code, err.Error(), m.status))
			return
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource changed concurrently; retry", http.StatusConflict))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("repository_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// decodeJSONBody reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return errBodyTooLarge
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	writeBadRequest(ctx, w, err.Error())
}

// requireIdentity returns the authenticated identity or writes 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.EffectiveUID()) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorID is the uid that performed the request; under delegation it is the admin, not the subject.
func actorID(identity *auth.Identity) string {
	if identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

// pageFromRequest parses pageSize and pageToken with the handler defaults.
func pageFromRequest(r *http.Request) (services.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,
	})
	if err != nil {
		return services.Pagination{}, err
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
