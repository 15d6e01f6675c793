package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/config"
	"github.com/rede-afiliados/api/internal/platform/observability"
)

const (
	mercadoPagoSecretName = "payments/mercadopago"
	stripeSecretName      = "payments/stripe"
)

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	opts := []auth.OIDCOption{auth.WithOIDCLogger(adapter)}
	if len(cfg.Security.OIDC.Invokers) > 0 {
		opts = append(opts, auth.WithOIDCInvokers(cfg.Security.OIDC.Invokers...))
	}
	validator := auth.NewOIDCValidator(cache, opts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildMercadoPagoMiddleware verifies the x-signature manifest of Mercado Pago
// notifications. Returns nil when no secret is configured.
func buildMercadoPagoMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secrets := webhookSecrets(cfg)
	if secrets[mercadoPagoSecretName] == "" {
		if logger != nil {
			logger.Warn("auth: mercadopago webhook secret not configured; notifications will be rejected")
		}
		return nil
	}

	provider := staticSecretProvider{secrets: secrets}
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(mercadoPagoSecretName)
}

func stripeWebhookSecret(cfg config.Config) string {
	return webhookSecrets(cfg)[stripeSecretName]
}

func webhookSecrets(cfg config.Config) map[string]string {
	secrets := make(map[string]string, len(cfg.Security.HMAC.Secrets))
	for key, value := range cfg.Security.HMAC.Secrets {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		secrets[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return secrets
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: hmac secrets not configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}
