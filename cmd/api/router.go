package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rede-afiliados/api/internal/di"
	"github.com/rede-afiliados/api/internal/handlers"
	"github.com/rede-afiliados/api/internal/platform/idempotency"
	"github.com/rede-afiliados/api/internal/platform/observability"
	"github.com/rede-afiliados/api/internal/services"
)

// buildRouter assembles every route group around the container's services.
func buildRouter(c *di.Container, logger *zap.Logger, build services.BuildInfo) chi.Router {
	cfg := c.Config
	svc := c.Services
	authn := c.Infra.Authenticator
	projectID := traceProjectID(cfg)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		handlers.RateLimit(cfg.RateLimits.DefaultPerMinute,
			handlers.WithAuthenticatedLimit(cfg.RateLimits.AuthenticatedPerMinute),
		),
	}
	if c.Infra.Idempotency != nil {
		middlewares = append(middlewares, idempotency.Middleware(
			c.Infra.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		))
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	products := handlers.NewProductHandlers(authn, svc.Products, svc.Materials)
	admin := handlers.NewAdminHandlers(handlers.AdminHandlersDeps{
		Authenticator: authn,
		Users:         svc.AdminUsers,
		Orders:        svc.Orders,
		Withdrawals:   svc.Withdrawals,
		Finance:       svc.Finance,
		Products:      svc.Products,
		Materials:     svc.Materials,
		Notifications: svc.Notifications,
		Dashboard:     svc.Dashboard,
		Impersonation: svc.Impersonation,
		Audit:         svc.Audit,
		Site:          svc.Site,
	})

	authLogger := logger.Named("auth")
	webhookOpts := []handlers.WebhookOption{
		handlers.WithStripeSigningSecret(stripeWebhookSecret(cfg)),
	}
	if mw := buildMercadoPagoMiddleware(authLogger, cfg); mw != nil {
		webhookOpts = append(webhookOpts, handlers.WithMercadoPagoVerifier(mw))
	}
	webhooks := handlers.NewWebhookHandlers(svc.Payments, webhookOpts...)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithCORSOrigins(cfg.CORS.AllowedOrigins...),
		handlers.WithHealthHandlers(health),
		handlers.WithPublicRoutes(handlers.NewPublicHandlers(svc.Site, svc.Products).Routes),
		handlers.WithMeRoutes(handlers.NewMeHandlers(authn, svc.Profiles, svc.Notifications).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, svc.Orders,
			handlers.WithOrderPublicOrigin(cfg.Payments.PublicOrigin),
		).Routes),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(authn, svc.Payments, cfg.Payments.PublicOrigin).Routes),
		handlers.WithWithdrawalRoutes(handlers.NewWithdrawalHandlers(authn, svc.Withdrawals).Routes),
		handlers.WithFinanceRoutes(handlers.NewFinanceHandlers(authn, svc.Finance).Routes),
		handlers.WithProductRoutes(products.Routes),
		handlers.WithMaterialRoutes(products.MaterialRoutes),
		handlers.WithAdminRoutes(admin.Routes),
		handlers.WithWebhookRoutes(webhooks.Routes),
	}
	if burst := cfg.RateLimits.WebhookBurst; burst > 0 {
		opts = append(opts, handlers.WithWebhookMiddlewares(handlers.RateLimit(burst)))
	}
	// Internal routes are only mounted behind OIDC.
	if mw := buildOIDCMiddleware(authLogger, cfg); mw != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(mw),
			handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Reconciler).Routes),
		)
	}

	return handlers.NewRouter(opts...)
}
