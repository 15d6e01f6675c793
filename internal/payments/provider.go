package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or provider confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the payment as approved.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider rejected or cancelled the payment.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded or charged back.
	StatusRefunded Status = "refunded"
)

const (
	// DefaultPreferenceTimeout bounds how long a caller waits for a checkout redirect.
	DefaultPreferenceTimeout = 15 * time.Second
	// DefaultCurrency is the settlement currency of the marketplace.
	DefaultCurrency = "BRL"

	loopbackReplacementOrigin = "https://google.com"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrPreferenceTimeout is returned when the provider did not answer in time.
	ErrPreferenceTimeout = errors.New("payments: preference request timed out")
	// ErrProviderTransport is returned when the provider could not be reached.
	ErrProviderTransport = errors.New("payments: provider unreachable")
	// ErrInvalidPreference is returned for malformed preference requests.
	ErrInvalidPreference = errors.New("payments: invalid preference request")
)

// ProviderError carries an error reported by the provider itself.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Details    map[string]any
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: %s returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// PreferenceItem is one line of a checkout preference. UnitPrice is in centavos.
type PreferenceItem struct {
	Title     string
	Quantity  int64
	UnitPrice int64
	Currency  string
}

// Payer identifies the buyer to the provider.
type Payer struct {
	Email string
	Name  string
}

// PreferenceRequest captures the payload required to create a checkout preference.
type PreferenceRequest struct {
	OrderID        string
	Items          []PreferenceItem
	Payer          Payer
	Origin         string
	IdempotencyKey string
}

// Validate checks the fields every provider relies on.
func (r PreferenceRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidPreference)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidPreference)
	}
	for _, item := range r.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return fmt.Errorf("%w: item %q must have positive quantity and price", ErrInvalidPreference, item.Title)
		}
	}
	return nil
}

// Preference is the provider-side checkout the buyer is redirected to.
type Preference struct {
	ID        string
	Provider  string
	InitPoint string
	Raw       map[string]any
}

// LookupRequest identifies a provider payment for reconciliation.
type LookupRequest struct {
	PaymentID string
}

// PaymentDetails normalises provider specific payment fields.
type PaymentDetails struct {
	Provider          string
	PaymentID         string
	ExternalReference string
	Status            Status
	Amount            int64
	Currency          string
	Raw               map[string]any
}

// Provider defines the contract payment adapters implement.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// BackURLs returns the success, failure and pending return URLs for origin.
// Loopback origins are replaced because providers refuse them.
func BackURLs(origin string) (success, failure, pending string) {
	base := PublicOrigin(origin)
	return base + "/admin/orders?status=success",
		base + "/admin/orders?status=failure",
		base + "/admin/orders?status=pending"
}

// PublicOrigin normalises origin and swaps loopback hosts for a public placeholder.
func PublicOrigin(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return loopbackReplacementOrigin
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return loopbackReplacementOrigin
	}
	switch strings.ToLower(parsed.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return loopbackReplacementOrigin
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	timeout         time.Duration
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers express no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithPreferenceTimeout overrides DefaultPreferenceTimeout.
func WithPreferenceTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{
		providers: registered,
		timeout:   DefaultPreferenceTimeout,
	}
	if _, ok := registered[ProviderMercadoPago]; ok {
		m.defaultProvider = ProviderMercadoPago
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePreference delegates to the resolved provider, bounded by the manager timeout.
func (m *Manager) CreatePreference(ctx context.Context, preferred string, req PreferenceRequest) (Preference, error) {
	key, provider, err := m.resolveProvider(preferred)
	if err != nil {
		return Preference{}, err
	}
	if err := req.Validate(); err != nil {
		return Preference{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pref, err := provider.CreatePreference(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Preference{}, fmt.Errorf("%w: %s after %s", ErrPreferenceTimeout, key, m.timeout)
		}
		return Preference{}, err
	}
	pref.Provider = key
	return pref, nil
}

// LookupPayment delegates to the named provider.
func (m *Manager) LookupPayment(ctx context.Context, providerKey string, req LookupRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(providerKey)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func centsToUnits(cents int64) float64 {
	return float64(cents) / 100
}

func unitsToCents(units float64) int64 {
	if units >= 0 {
		return int64(units*100 + 0.5)
	}
	return int64(units*100 - 0.5)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
