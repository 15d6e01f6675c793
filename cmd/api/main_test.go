package main

import (
	"context"
	"testing"

	"github.com/rede-afiliados/api/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	got := requiredSecretNames(map[string]string{
		"API_PAYMENTS_MERCADOPAGO_ACCESS_TOKEN": "secret://payments/mercadopago-token",
		"API_SECURITY_HMAC_SECRETS":             "Payments/MercadoPago=secret://hmac/mp,payments/stripe=secret://hmac/stripe",
	})
	want := []string{
		"Delegation.Secret",
		"Payments.MercadoPagoAccessToken",
		"Security.HMAC.Secrets[payments/mercadopago]",
		"Security.HMAC.Secrets[payments/stripe]",
		"Storage.SignedURLKey",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSecretVersionPinsFromEnv(t *testing.T) {
	pins := secretVersionPinsFromEnv(map[string]string{
		"API_SECRET_VERSION_PINS": "prod:sm://payments/stripe=7, delegation/key=3,broken",
	})
	if pins["prod:secret://payments/stripe"] != "7" {
		t.Fatalf("expected env-scoped pin, got %v", pins)
	}
	if pins["secret://delegation/key"] != "3" {
		t.Fatalf("expected bare ref normalised, got %v", pins)
	}
	if len(pins) != 2 {
		t.Fatalf("malformed entries must be skipped, got %v", pins)
	}
}

func TestSecretProjectMapFromEnv(t *testing.T) {
	projects := secretProjectMapFromEnv(map[string]string{
		"API_SECRET_PROJECT_IDS": "PROD=rede-prod, stg=rede-stg,=x",
	})
	if projects["prod"] != "rede-prod" || projects["stg"] != "rede-stg" || len(projects) != 2 {
		t.Fatalf("unexpected project map %v", projects)
	}
}

func TestWebhookSecrets(t *testing.T) {
	cfg := config.Config{}
	cfg.Security.HMAC.Secrets = map[string]string{
		"Payments/MercadoPago": " mp-secret ",
		"payments/stripe":      "whsec_123",
		"empty":                "  ",
	}
	if got := stripeWebhookSecret(cfg); got != "whsec_123" {
		t.Fatalf("unexpected stripe secret %q", got)
	}
	provider := staticSecretProvider{secrets: webhookSecrets(cfg)}
	secret, err := provider.GetSecret(context.Background(), mercadoPagoSecretName)
	if err != nil || secret != "mp-secret" {
		t.Fatalf("expected trimmed mercadopago secret, got %q (%v)", secret, err)
	}
	if _, err := provider.GetSecret(context.Background(), "empty"); err == nil {
		t.Fatalf("blank secrets must be dropped")
	}
}

func TestBuildMercadoPagoMiddlewareRequiresSecret(t *testing.T) {
	if mw := buildMercadoPagoMiddleware(nil, config.Config{}); mw != nil {
		t.Fatalf("expected no middleware without a secret")
	}
	cfg := config.Config{}
	cfg.Security.HMAC.Secrets = map[string]string{mercadoPagoSecretName: "mp"}
	if mw := buildMercadoPagoMiddleware(nil, cfg); mw == nil {
		t.Fatalf("expected middleware once the secret is configured")
	}
}
