package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe is the manager key for the Stripe Checkout adapter.
const ProviderStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Sessions  stripeSessionAPI
}

// StripeProvider implements Provider with Stripe Checkout sessions.
type StripeProvider struct {
	sessions stripeSessionAPI
	account  string
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		logger:   logger,
	}, nil
}

// CreatePreference creates a Stripe Checkout session for the order.
func (p *StripeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if p == nil {
		return Preference{}, errors.New("stripe: provider is nil")
	}
	if err := req.Validate(); err != nil {
		return Preference{}, err
	}

	success, failure, _ := BackURLs(req.Origin)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(success),
		CancelURL:         stripe.String(failure),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          map[string]string{"orderId": req.OrderID},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.Payer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, DefaultCurrency))),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
			},
		})
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return Preference{}, classifyStripeError(err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
	})

	return Preference{
		ID:        session.ID,
		Provider:  ProviderStripe,
		InitPoint: session.URL,
	}, nil
}

// LookupPayment retrieves a Checkout session by id.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(req.PaymentID, params)
	if err != nil {
		return PaymentDetails{}, classifyStripeError(err)
	}

	status := StatusPending
	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		status = StatusSucceeded
	}
	if session.Status == stripe.CheckoutSessionStatusExpired {
		status = StatusFailed
	}

	return PaymentDetails{
		Provider:          ProviderStripe,
		PaymentID:         session.ID,
		ExternalReference: session.ClientReferenceID,
		Status:            status,
		Amount:            session.AmountTotal,
		Currency:          strings.ToUpper(string(session.Currency)),
	}, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 0 {
			return fmt.Errorf("%w: %v", ErrProviderTransport, err)
		}
		return &ProviderError{
			Provider:   ProviderStripe,
			StatusCode: stripeErr.HTTPStatusCode,
			Message:    stripeErr.Msg,
			Details: map[string]any{
				"type": string(stripeErr.Type),
				"code": string(stripeErr.Code),
			},
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderTransport, err)
}
