package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rede-afiliados/api/internal/platform/secrets"
	"github.com/rede-afiliados/api/internal/platform/textutil"
	"github.com/rede-afiliados/api/internal/repositories"
)

const secretHealthReference = "secret://system/healthz?version=latest"

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := secretProjectMapFromEnv(env); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// secretManagerCheck reports Secret Manager reachability. A missing probe secret
// still proves the API answered.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

// requiredSecretNames lists the config fields that must resolve before startup.
// Provider credentials are only required once their env var is present.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Delegation.Secret",
		"Storage.SignedURLKey",
	}
	optional := map[string]string{
		"API_PAYMENTS_MERCADOPAGO_ACCESS_TOKEN": "Payments.MercadoPagoAccessToken",
		"API_PAYMENTS_STRIPE_API_KEY":           "Payments.StripeAPIKey",
		"API_POSTGRES_DSN":                      "Postgres.DSN",
	}
	for envKey, field := range optional {
		if strings.TrimSpace(env[envKey]) != "" {
			required = append(required, field)
		}
	}
	for _, key := range parseHMACSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	return textutil.LowerKeys(textutil.ParsePairs(env["API_SECRET_PROJECT_IDS"]))
}

// secretVersionPinsFromEnv reads "[env:]ref=version" pairs, normalising refs to
// the secret:// scheme.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range textutil.ParsePairs(env["API_SECRET_VERSION_PINS"]) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseHMACSecretKeys(raw string) []string {
	values := textutil.LowerKeys(textutil.ParsePairs(raw))
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
