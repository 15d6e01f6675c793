package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMercadoPagoCreatePreference(t *testing.T) {
	var captured mpPreferenceBody
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pref_123","init_point":"https://mp.example/checkout/pref_123"}`))
	}))
	defer srv.Close()

	provider, err := NewMercadoPagoProvider(MercadoPagoConfig{
		AccessToken: "APP_USR-token",
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
		NewKey:      func() string { return "idem-1" },
	})
	require.NoError(t, err)

	req := validRequest()
	req.Origin = "http://localhost:5173"
	pref, err := provider.CreatePreference(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "pref_123", pref.ID)
	assert.Equal(t, "https://mp.example/checkout/pref_123", pref.InitPoint)
	assert.Equal(t, "Bearer APP_USR-token", headers.Get("Authorization"))
	assert.Equal(t, "idem-1", headers.Get("X-Idempotency-Key"))

	require.Len(t, captured.Items, 1)
	assert.Equal(t, 45.0, captured.Items[0].UnitPrice)
	assert.Equal(t, int64(2), captured.Items[0].Quantity)
	assert.Equal(t, "BRL", captured.Items[0].CurrencyID)
	assert.Equal(t, "approved", captured.AutoReturn)
	assert.Equal(t, "ord_1", captured.ExternalReference)
	assert.Equal(t, "https://google.com/admin/orders?status=success", captured.BackURLs.Success)
}

func TestMercadoPagoProviderErrorCarriesDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid back_urls","error":"bad_request","status":400,"cause":[{"code":"invalid"}]}`))
	}))
	defer srv.Close()

	provider, err := NewMercadoPagoProvider(MercadoPagoConfig{AccessToken: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = provider.CreatePreference(context.Background(), validRequest())
	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusBadRequest, providerErr.StatusCode)
	assert.Equal(t, "invalid back_urls", providerErr.Message)
	assert.Equal(t, "bad_request", providerErr.Details["error"])
}

func TestMercadoPagoMissingInitPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pref_1"}`))
	}))
	defer srv.Close()

	provider, err := NewMercadoPagoProvider(MercadoPagoConfig{AccessToken: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = provider.CreatePreference(context.Background(), validRequest())
	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Contains(t, providerErr.Message, "init_point")
}

func TestMercadoPagoLookupPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/987", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":987,"status":"approved","external_reference":"ord_9","transaction_amount":120.5,"currency_id":"BRL"}`))
	}))
	defer srv.Close()

	provider, err := NewMercadoPagoProvider(MercadoPagoConfig{AccessToken: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	details, err := provider.LookupPayment(context.Background(), LookupRequest{PaymentID: "987"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, details.Status)
	assert.Equal(t, "ord_9", details.ExternalReference)
	assert.Equal(t, int64(120_50), details.Amount)
}

func TestNewMercadoPagoProviderRequiresToken(t *testing.T) {
	_, err := NewMercadoPagoProvider(MercadoPagoConfig{})
	require.Error(t, err)
}
