package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// ProviderMercadoPago is the manager key for the Mercado Pago adapter.
	ProviderMercadoPago = "mercadopago"

	defaultMercadoPagoBaseURL = "https://api.mercadopago.com"
	mercadoPagoMaxBody        = 1 << 20
)

// MercadoPagoLogger defines the logging contract for Mercado Pago operations.
type MercadoPagoLogger func(ctx context.Context, event string, fields map[string]any)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MercadoPagoConfig configures the MercadoPagoProvider.
type MercadoPagoConfig struct {
	AccessToken string
	BaseURL     string
	HTTPClient  HTTPDoer
	Logger      MercadoPagoLogger
	NewKey      func() string
}

// MercadoPagoProvider creates Checkout Pro preferences through the REST API.
type MercadoPagoProvider struct {
	token   string
	baseURL string
	http    HTTPDoer
	logger  MercadoPagoLogger
	newKey  func() string
}

// NewMercadoPagoProvider constructs the provider.
func NewMercadoPagoProvider(cfg MercadoPagoConfig) (*MercadoPagoProvider, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("mercadopago: access token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultMercadoPagoBaseURL
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = func() string { return uuid.NewString() }
	}
	return &MercadoPagoProvider{
		token:   token,
		baseURL: base,
		http:    doer,
		logger:  logger,
		newKey:  newKey,
	}, nil
}

type mpPreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPayer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceBody struct {
	Items             []mpPreferenceItem `json:"items"`
	Payer             mpPayer            `json:"payer"`
	BackURLs          mpBackURLs         `json:"back_urls"`
	AutoReturn        string             `json:"auto_return"`
	ExternalReference string             `json:"external_reference"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPaymentResponse struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type mpErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Cause   any    `json:"cause"`
}

// CreatePreference posts a checkout preference and returns its redirect URL.
func (p *MercadoPagoProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if p == nil {
		return Preference{}, errors.New("mercadopago: provider is nil")
	}
	if err := req.Validate(); err != nil {
		return Preference{}, err
	}

	success, failure, pending := BackURLs(req.Origin)
	body := mpPreferenceBody{
		Payer:             mpPayer{Email: strings.TrimSpace(req.Payer.Email), Name: strings.TrimSpace(req.Payer.Name)},
		BackURLs:          mpBackURLs{Success: success, Failure: failure, Pending: pending},
		AutoReturn:        "approved",
		ExternalReference: req.OrderID,
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, mpPreferenceItem{
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  centsToUnits(item.UnitPrice),
			CurrencyID: strings.ToUpper(defaultString(item.Currency, DefaultCurrency)),
		})
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = p.newKey()
	}

	var resp mpPreferenceResponse
	if err := p.do(ctx, http.MethodPost, "/checkout/preferences", body, key, &resp); err != nil {
		return Preference{}, err
	}
	if resp.InitPoint == "" {
		return Preference{}, &ProviderError{Provider: ProviderMercadoPago, StatusCode: http.StatusOK, Message: "response missing init_point"}
	}

	p.logger(ctx, "payments.mercadopago.preference.created", map[string]any{
		"preferenceId": resp.ID,
		"orderId":      req.OrderID,
	})

	return Preference{
		ID:        resp.ID,
		Provider:  ProviderMercadoPago,
		InitPoint: resp.InitPoint,
		Raw: map[string]any{
			"sandbox_init_point": resp.SandboxInitPoint,
		},
	}, nil
}

// LookupPayment fetches a payment referenced by a webhook notification.
func (p *MercadoPagoProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	id := strings.TrimSpace(req.PaymentID)
	if id == "" {
		return PaymentDetails{}, errors.New("mercadopago: payment id is required")
	}
	var resp mpPaymentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, "", &resp); err != nil {
		return PaymentDetails{}, err
	}
	return PaymentDetails{
		Provider:          ProviderMercadoPago,
		PaymentID:         id,
		ExternalReference: resp.ExternalReference,
		Status:            mapMercadoPagoStatus(resp.Status),
		Amount:            unitsToCents(resp.TransactionAmount),
		Currency:          resp.CurrencyID,
		Raw: map[string]any{
			"status": resp.Status,
		},
	}, nil
}

func (p *MercadoPagoProvider) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("mercadopago: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mercadopago: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	res, err := p.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, mercadoPagoMaxBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: read response: %v", ErrProviderTransport, err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		var apiErr mpErrorResponse
		_ = json.Unmarshal(raw, &apiErr)
		message := strings.TrimSpace(apiErr.Message)
		if message == "" {
			message = http.StatusText(res.StatusCode)
		}
		details := map[string]any{}
		if apiErr.Error != "" {
			details["error"] = apiErr.Error
		}
		if apiErr.Cause != nil {
			details["cause"] = apiErr.Cause
		}
		return &ProviderError{Provider: ProviderMercadoPago, StatusCode: res.StatusCode, Message: message, Details: details}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Provider: ProviderMercadoPago, StatusCode: res.StatusCode, Message: "invalid response body"}
	}
	return nil
}

func mapMercadoPagoStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "authorized":
		return StatusSucceeded
	case "refunded", "charged_back":
		return StatusRefunded
	case "rejected", "cancelled":
		return StatusFailed
	default:
		return StatusPending
	}
}
