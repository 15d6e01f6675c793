package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const mpSecretName = "webhooks/mercadopago"

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

func signedNotification(secret, dataID, requestID string, ts time.Time, body []byte) *http.Request {
	target := "/api/v1/webhooks/payments/mercadopago"
	if dataID != "" {
		target += "?type=payment&data.id=" + dataID
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	tsValue := strconv.FormatInt(ts.Unix(), 10)
	signature := computeHMAC([]byte(secret), buildManifest(dataID, requestID, tsValue))
	req.Header.Set(defaultSignatureHeader, "ts="+tsValue+",v1="+hex.EncodeToString(signature))
	if requestID != "" {
		req.Header.Set(defaultRequestIDHeader, requestID)
	}
	return req
}

func newTestHMACValidator(secret string, now time.Time, metrics MetricsRecorder) *HMACValidator {
	return NewHMACValidator(mapSecretProvider{mpSecretName: secret}, NewInMemoryNonceStore(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)
}

func TestRequireHMAC_Success(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	metrics := &recordingMetrics{}
	validator := newTestHMACValidator("mp-secret", now, metrics)

	req := signedNotification("mp-secret", "123456", "req-1", now, []byte(`{"action":"payment.updated"}`))
	rr := httptest.NewRecorder()
	validator.RequireHMAC(mpSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatalf("expected hmac metadata in context")
		}
		if meta.DataID != "123456" || meta.RequestID != "req-1" {
			t.Fatalf("unexpected metadata %+v", meta)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d (%s)", rr.Code, rr.Body.String())
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.records) != 1 || !metrics.records[0].success {
		t.Fatalf("expected success metric, got %+v", metrics.records)
	}
}

func TestRequireHMAC_DataIDFromBody(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestHMACValidator("mp-secret", now, nil)

	body := []byte(`{"type":"payment","data":{"id":"ABC99"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/mercadopago", bytes.NewReader(body))
	tsValue := strconv.FormatInt(now.UnixMilli(), 10)
	signature := computeHMAC([]byte("mp-secret"), []byte("id:abc99;ts:"+tsValue+";"))
	req.Header.Set(defaultSignatureHeader, "ts="+tsValue+", v1="+hex.EncodeToString(signature))

	rr := httptest.NewRecorder()
	validator.RequireHMAC(mpSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestRequireHMAC_ReplayRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestHMACValidator("mp-secret", now, nil)
	handler := validator.RequireHMAC(mpSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedNotification("mp-secret", "42", "req-replay", now, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first delivery to succeed, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signedNotification("mp-secret", "42", "req-replay", now, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected with 401, got %d", rr.Code)
	}
}

func TestRequireHMAC_Rejections(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	tampered := signedNotification("mp-secret", "42", "req-a", now, nil)
	tampered.URL.RawQuery = "data.id=43"

	unsigned := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/mercadopago", nil)

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"wrong secret", signedNotification("other", "42", "req-b", now, nil), http.StatusUnauthorized, "signature_mismatch"},
		{"tampered data id", tampered, http.StatusUnauthorized, "signature_mismatch"},
		{"stale timestamp", signedNotification("mp-secret", "42", "req-c", now.Add(-10*time.Minute), nil), http.StatusUnauthorized, "timestamp_skew"},
		{"missing header", unsigned, http.StatusUnauthorized, "signature_missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := newTestHMACValidator("mp-secret", now, nil)
			rr := httptest.NewRecorder()
			validator.RequireHMAC(mpSecretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rr, tc.req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeAuthError(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret unavailable")
	})
	validator := NewHMACValidator(provider, NewInMemoryNonceStore(), WithHMACLogger(noopLogger{}))

	rr := httptest.NewRecorder()
	validator.RequireHMAC("missing/secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run when secret unavailable")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/mercadopago", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rr.Code)
	}
}
