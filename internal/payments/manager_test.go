package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	lastOp     string
	lastReq    PreferenceRequest
	preference Preference
	payment    PaymentDetails
	err        error
	block      bool
}

func (f *fakeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	f.lastOp = "create"
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return Preference{}, ctx.Err()
	}
	return f.preference, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func validRequest() PreferenceRequest {
	return PreferenceRequest{
		OrderID: "ord_1",
		Items:   []PreferenceItem{{Title: "Banner", Quantity: 2, UnitPrice: 45_00}},
		Payer:   Payer{Email: "ana@example.com", Name: "Ana"},
		Origin:  "https://painel.example.com",
	}
}

func TestManagerUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	mp := &fakeProvider{preference: Preference{ID: "pref_mp", InitPoint: "https://mp/redirect"}}
	st := &fakeProvider{preference: Preference{ID: "cs_stripe", InitPoint: "https://stripe/redirect"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderMercadoPago: mp,
		ProviderStripe:      st,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pref, err := mgr.CreatePreference(ctx, "stripe", validRequest())
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.Provider != ProviderStripe || pref.ID != "cs_stripe" {
		t.Fatalf("unexpected preference %#v", pref)
	}
	if mp.lastOp != "" {
		t.Fatalf("expected mercadopago provider to remain unused")
	}
}

func TestManagerDefaultsToMercadoPago(t *testing.T) {
	mp := &fakeProvider{preference: Preference{ID: "pref_mp"}}
	st := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: mp, ProviderStripe: st})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	pref, err := mgr.CreatePreference(context.Background(), "", validRequest())
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.Provider != ProviderMercadoPago {
		t.Fatalf("expected mercadopago, got %q", pref.Provider)
	}
}

func TestManagerClassifiesTimeout(t *testing.T) {
	slow := &fakeProvider{block: true}
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: slow}, WithPreferenceTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreatePreference(context.Background(), "", validRequest())
	if !errors.Is(err, ErrPreferenceTimeout) {
		t.Fatalf("expected ErrPreferenceTimeout, got %v", err)
	}
}

func TestManagerPassesProviderErrors(t *testing.T) {
	providerErr := &ProviderError{Provider: ProviderMercadoPago, StatusCode: 400, Message: "invalid items"}
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: &fakeProvider{err: providerErr}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreatePreference(context.Background(), "", validRequest())
	var got *ProviderError
	if !errors.As(err, &got) || got.Message != "invalid items" {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestManagerRejectsInvalidRequest(t *testing.T) {
	mp := &fakeProvider{}
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: mp})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	req := validRequest()
	req.Items = nil
	if _, err := mgr.CreatePreference(context.Background(), "", req); !errors.Is(err, ErrInvalidPreference) {
		t.Fatalf("expected ErrInvalidPreference, got %v", err)
	}
	if mp.lastOp != "" {
		t.Fatalf("provider should not be called for invalid requests")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ProviderMercadoPago: &fakeProvider{}, ProviderStripe: &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreatePreference(context.Background(), "unknown", validRequest())
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestPublicOriginReplacesLoopback(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5173":       "https://google.com",
		"http://127.0.0.1:8080/":      "https://google.com",
		"":                            "https://google.com",
		"https://painel.example.com/": "https://painel.example.com",
		"https://painel.example.com":  "https://painel.example.com",
	}
	for in, want := range cases {
		if got := PublicOrigin(in); got != want {
			t.Fatalf("PublicOrigin(%q) = %q, want %q", in, got, want)
		}
	}

	success, failure, pending := BackURLs("http://localhost:3000")
	if success != "https://google.com/admin/orders?status=success" ||
		failure != "https://google.com/admin/orders?status=failure" ||
		pending != "https://google.com/admin/orders?status=pending" {
		t.Fatalf("unexpected back urls %q %q %q", success, failure, pending)
	}
}
