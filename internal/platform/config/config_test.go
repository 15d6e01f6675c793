package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "rede-dev",
		"API_STORAGE_ASSETS_BUCKET": "rede-assets-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "rede-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.Storage.Backend != StorageBackendFirestore {
		t.Errorf("expected firestore backend by default, got %s", cfg.Storage.Backend)
	}
	if cfg.Payments.DefaultProvider != "mercadopago" {
		t.Errorf("expected mercadopago default provider, got %s", cfg.Payments.DefaultProvider)
	}
	if cfg.Delegation.DefaultTTL != defaultDelegationTTL || cfg.Delegation.Secret != "" {
		t.Errorf("unexpected delegation defaults %+v", cfg.Delegation)
	}
	if !cfg.Ledger.ReconcileEnabled || cfg.Ledger.ReconcileSchedule != defaultReconcileSchedule {
		t.Errorf("unexpected ledger defaults %+v", cfg.Ledger)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.ClockSkew != defaultHMACClockSkew {
		t.Errorf("expected default clock skew, got %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                       "9090",
		"API_SERVER_READ_TIMEOUT":               "20s",
		"API_SERVER_WRITE_TIMEOUT":              "25s",
		"API_SERVER_IDLE_TIMEOUT":               "2m",
		"API_CORS_ALLOWED_ORIGINS":              "https://painel.example.com, https://admin.example.com",
		"API_FIREBASE_PROJECT_ID":               "rede-prod",
		"API_FIRESTORE_PROJECT_ID":              "rede-fire",
		"API_STORAGE_BACKEND":                   "MEMORY",
		"API_STORAGE_ASSETS_BUCKET":             "assets-prod",
		"API_POSTGRES_DSN":                      "secret://postgres/dsn",
		"API_PAYMENTS_DEFAULT_PROVIDER":         "Stripe",
		"API_PAYMENTS_PUBLIC_ORIGIN":            "https://loja.example.com",
		"API_PAYMENTS_TIMEOUT":                  "7s",
		"API_PAYMENTS_MERCADOPAGO_ACCESS_TOKEN": "secret://mp/token",
		"API_PAYMENTS_STRIPE_API_KEY":           "secret://stripe/api",
		"API_DELEGATION_SECRET":                 "secret://delegation/key",
		"API_DELEGATION_TTL":                    "10m",
		"API_DELEGATION_MAX_TTL":                "1h",
		"API_LEDGER_EVENTS_TOPIC":               "ledger-prod",
		"API_LEDGER_RECONCILE_ENABLED":          "false",
		"API_LEDGER_RECONCILE_SCHEDULE":         "30 3 * * *",
		"API_RATELIMIT_DEFAULT_PER_MIN":         "150",
		"API_RATELIMIT_AUTH_PER_MIN":            "300",
		"API_RATELIMIT_WEBHOOK_BURST":           "80",
		"API_SECURITY_ENVIRONMENT":              "prod",
		"API_SECURITY_OIDC_AUDIENCE":            "https://service.example.com",
		"API_SECURITY_OIDC_ISSUERS":             "https://accounts.google.com, https://cloud.google.com/iap",
		"API_SECURITY_OIDC_JWKS_URL":            "https://example.com/jwks.json",
		"API_SECURITY_OIDC_INVOKERS":            "scheduler@rede-prod.iam.gserviceaccount.com",
		"API_SECURITY_HMAC_SECRETS":             "webhooks/mercadopago=secret://hmac/mp,internal=internal-secret",
		"API_SECURITY_HMAC_CLOCK_SKEW":          "3m",
		"API_SECURITY_HMAC_NONCE_TTL":           "10m",
		"API_IDEMPOTENCY_HEADER":                "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                   "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":      "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":         "500",
	}

	secrets := map[string]string{
		"secret://postgres/dsn":   "postgres://ledger@db/rede",
		"secret://mp/token":       "mp-token",
		"secret://stripe/api":     "stripe-key",
		"secret://delegation/key": "0123456789abcdef0123456789abcdef",
		"secret://hmac/mp":        "mp-hmac",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected cors origins %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Storage.Backend != StorageBackendMemory {
		t.Errorf("expected backend normalised to memory, got %s", cfg.Storage.Backend)
	}
	if cfg.Firestore.ProjectID != "rede-fire" {
		t.Errorf("unexpected firestore project %s", cfg.Firestore.ProjectID)
	}
	if cfg.Postgres.DSN != "postgres://ledger@db/rede" {
		t.Errorf("expected resolved postgres dsn, got %s", cfg.Postgres.DSN)
	}
	if cfg.Payments.MercadoPagoAccessToken != "mp-token" {
		t.Errorf("expected resolved mercadopago token, got %s", cfg.Payments.MercadoPagoAccessToken)
	}
	if cfg.Payments.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Payments.DefaultProvider != "stripe" || cfg.Payments.PreferenceTimeout != 7*time.Second {
		t.Errorf("unexpected payments config %+v", cfg.Payments)
	}
	if cfg.Delegation.Secret != "0123456789abcdef0123456789abcdef" {
		t.Errorf("expected resolved delegation secret, got %s", cfg.Delegation.Secret)
	}
	if cfg.Delegation.DefaultTTL != 10*time.Minute || cfg.Delegation.MaxTTL != time.Hour {
		t.Errorf("unexpected delegation ttl %+v", cfg.Delegation)
	}
	if cfg.Ledger.ReconcileEnabled || cfg.Ledger.ReconcileSchedule != "30 3 * * *" || cfg.Ledger.EventsTopic != "ledger-prod" {
		t.Errorf("unexpected ledger config %+v", cfg.Ledger)
	}
	if len(cfg.Security.OIDC.Invokers) != 1 {
		t.Errorf("expected one invoker, got %v", cfg.Security.OIDC.Invokers)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("unexpected oidc audience %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Security.OIDC.JWKSURL != "https://example.com/jwks.json" {
		t.Errorf("unexpected jwks url %s", cfg.Security.OIDC.JWKSURL)
	}
	if cfg.Security.HMAC.Secrets["webhooks/mercadopago"] != "mp-hmac" {
		t.Errorf("expected resolved mercadopago hmac secret, got %s", cfg.Security.HMAC.Secrets["webhooks/mercadopago"])
	}
	if cfg.Security.HMAC.Secrets["internal"] != "internal-secret" {
		t.Errorf("expected plain secret passthrough, got %s", cfg.Security.HMAC.Secrets["internal"])
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Security.HMAC.NonceTTL != 10*time.Minute {
		t.Errorf("unexpected nonce ttl %s", cfg.Security.HMAC.NonceTTL)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=rede-dot\nAPI_STORAGE_ASSETS_BUCKET=assets-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "rede-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "rede-dev",
		"API_STORAGE_ASSETS_BUCKET": "assets",
		"API_POSTGRES_DSN":          "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://mp/token=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://mp/token=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "rede-dev",
		"API_STORAGE_ASSETS_BUCKET": "assets",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Delegation.Secret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Delegation.Secret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "rede-dev",
		"API_STORAGE_ASSETS_BUCKET": "assets",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Delegation.Secret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Delegation.Secret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":               "rede-dev",
		"API_STORAGE_ASSETS_BUCKET":             "assets",
		"API_PAYMENTS_MERCADOPAGO_ACCESS_TOKEN": "sm://mp/token",
	}

	secrets := map[string]string{
		"secret://mp/token": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.MercadoPagoAccessToken != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Payments.MercadoPagoAccessToken)
	}
}

func TestLoadRejectsInvalidBackendAndShortDelegationSecret(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "rede-dev",
		"API_STORAGE_ASSETS_BUCKET": "assets",
		"API_STORAGE_BACKEND":       "mysql",
		"API_DELEGATION_SECRET":     "short",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Storage.Backend" || fields[1] != "Delegation.Secret" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadDotEnvSupportsQuotesAndExport(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"rede-quoted\"\nAPI_STORAGE_ASSETS_BUCKET='assets-quoted'\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "rede-quoted" || cfg.Storage.AssetsBucket != "assets-quoted" {
		t.Fatalf("expected unquoted dotenv values, got %+v %+v", cfg.Firebase, cfg.Storage)
	}
}
