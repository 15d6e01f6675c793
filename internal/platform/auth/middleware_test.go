package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubUserGetter struct {
	record  *firebaseauth.UserRecord
	calls   int
	lastUID string
}

func (s *stubUserGetter) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	s.calls++
	s.lastUID = uid
	return s.record, nil
}

func decodeAuthError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":   []interface{}{"affiliate", "admin"},
				"locale": "pt-BR",
				"email":  "ana@example.com",
			},
		},
	}
	userGetter := &stubUserGetter{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "uid-123", Email: "ana@example.com"}}}

	authn := NewAuthenticator(verifier, WithUserGetter(userGetter))

	handlerCalled := false
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.EffectiveUID() != "uid-123" {
			t.Fatalf("unexpected uid: %s / %s", identity.UID, identity.EffectiveUID())
		}
		if identity.IsDelegated() || !identity.HasScope("anything") {
			t.Fatalf("plain identities are not scope restricted")
		}
		if identity.Locale != "pt-BR" || identity.Email != "ana@example.com" {
			t.Fatalf("unexpected claims: %+v", identity)
		}

		loaded, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected user load error: %v", err)
		}
		loadedAgain, err := identity.User(r.Context())
		if err != nil {
			t.Fatalf("unexpected second user load error: %v", err)
		}
		if loaded != loadedAgain {
			t.Fatalf("expected cached user record")
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !handlerCalled {
		t.Fatalf("expected handler to run with 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if userGetter.calls != 1 || userGetter.lastUID != "uid-123" {
		t.Fatalf("expected single user fetch for uid-123, got %d %s", userGetter.calls, userGetter.lastUID)
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})

	handler := authn.RequireFirebaseAuth(RoleAffiliate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeAuthError(t, rr); code != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", code)
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]interface{}{}},
	}

	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleAffiliate {
			t.Fatalf("expected fallback role %q, got %v", RoleAffiliate, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer missing-role-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

type delegationFixture struct {
	issuer *DelegationIssuer
	authn  *Authenticator
}

func newDelegationFixture(t *testing.T, claims map[string]interface{}) delegationFixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewDelegationIssuer("0123456789abcdef0123456789abcdef", WithDelegationClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "admin-1", Claims: claims}}
	authn := NewAuthenticator(verifier, WithDelegation(issuer, map[string]string{
		"POST /api/v1/orders": "orders:create",
	}))
	return delegationFixture{issuer: issuer, authn: authn}
}

func (f delegationFixture) serve(t *testing.T, method, path, token string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := f.authn.RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	req.Header.Set(DelegationHeader, token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireFirebaseAuth_DelegatedRead(t *testing.T) {
	f := newDelegationFixture(t, map[string]interface{}{"role": "admin"})
	token, _, err := f.issuer.IssueDelegation("admin-1", "aff-9", []string{"read"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rr, identity := f.serve(t, http.MethodGet, "/api/v1/orders", token, RoleAffiliate)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", rr.Code, rr.Body.String())
	}
	if identity.EffectiveUID() != "aff-9" || identity.UID != "admin-1" {
		t.Fatalf("unexpected identity %s acting as %s", identity.UID, identity.EffectiveUID())
	}
	if !identity.IsDelegated() || identity.Delegation.ActorID != "admin-1" {
		t.Fatalf("expected delegation metadata, got %+v", identity.Delegation)
	}
	if identity.HasRole(RoleAdmin) {
		t.Fatalf("delegated identity must not keep admin role")
	}
}

func TestRequireFirebaseAuth_DelegationDenials(t *testing.T) {
	f := newDelegationFixture(t, map[string]interface{}{"role": "admin"})
	readOnly, _, err := f.issuer.IssueDelegation("admin-1", "aff-9", []string{"read"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	full, _, err := f.issuer.IssueDelegation("admin-1", "aff-9", []string{"read", "orders:create"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	otherAdmin, _, err := f.issuer.IssueDelegation("admin-2", "aff-9", []string{"read"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		roles  []string
		status int
		code   string
	}{
		{"write without scope", http.MethodPost, "/api/v1/orders", readOnly, []string{RoleAffiliate}, http.StatusForbidden, "insufficient_scope"},
		{"unlisted write", http.MethodPatch, "/api/v1/me/profile", full, []string{RoleAffiliate}, http.StatusForbidden, "insufficient_scope"},
		{"admin route", http.MethodGet, "/api/v1/admin/users", full, []string{RoleAdmin}, http.StatusUnauthorized, "insufficient_role"},
		{"other admin's token", http.MethodGet, "/api/v1/orders", otherAdmin, []string{RoleAffiliate}, http.StatusForbidden, "delegation_forbidden"},
		{"garbage token", http.MethodGet, "/api/v1/orders", "not-a-jwt", []string{RoleAffiliate}, http.StatusUnauthorized, "invalid_delegation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := f.serve(t, tc.method, tc.path, tc.token, tc.roles...)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rr.Code, rr.Body.String())
			}
			if code := decodeAuthError(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}

	rr, identity := f.serve(t, http.MethodPost, "/api/v1/orders/", full, RoleAffiliate)
	if rr.Code != http.StatusNoContent || identity.EffectiveUID() != "aff-9" {
		t.Fatalf("expected scoped write to pass, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuth_DelegationRequiresAdmin(t *testing.T) {
	f := newDelegationFixture(t, map[string]interface{}{"role": "affiliate"})
	token, _, err := f.issuer.IssueDelegation("admin-1", "aff-9", []string{"read"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rr, _ := f.serve(t, http.MethodGet, "/api/v1/orders", token)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
