package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/payments"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/config"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/platform/idempotency"
	"github.com/rede-afiliados/api/internal/platform/jobs"
	"github.com/rede-afiliados/api/internal/platform/observability"
	pstorage "github.com/rede-afiliados/api/internal/platform/storage"
	"github.com/rede-afiliados/api/internal/repositories"
	fsrepo "github.com/rede-afiliados/api/internal/repositories/firestore"
	"github.com/rede-afiliados/api/internal/repositories/memory"
	"github.com/rede-afiliados/api/internal/repositories/postgres"
	"github.com/rede-afiliados/api/internal/services"
)

const (
	ledgerMeterName      = "github.com/rede-afiliados/api/ledger"
	uploadURLExpiry      = 15 * time.Minute
	firestoreCheckBudget = 1500 * time.Millisecond
	postgresCheckBudget  = time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Audit         services.AuditLogService
	Notifications services.NotificationService
	Orders        services.OrderService
	Payments      services.PaymentService
	Withdrawals   services.WithdrawalService
	Finance       services.FinanceService
	Products      services.ProductService
	Materials     services.MaterialService
	Profiles      services.ProfileService
	AdminUsers    services.AdminUserService
	Dashboard     services.DashboardService
	Site          services.SiteService
	Impersonation services.ImpersonationService
	Reconciler    services.LedgerReconciler
	System        services.SystemService
}

// Infrastructure holds the clients and platform components shared across services.
// Optional members stay nil when their configuration is absent.
type Infrastructure struct {
	Firestore     *pfirestore.Provider
	Journal       *postgres.Journal
	PubSub        *pubsub.Client
	EventsTopic   *pubsub.Topic
	Payments      *payments.Manager
	Uploads       *pstorage.Uploads
	Delegation    *auth.DelegationIssuer
	Firebase      *auth.FirebaseVerifier
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Scheduler     *jobs.Scheduler
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Infra        Infrastructure
	Services     Services

	logger *zap.Logger
}

type options struct {
	logger       *zap.Logger
	registry     repositories.Registry
	verifier     auth.TokenVerifier
	build        services.BuildInfo
	healthChecks []repositories.DependencyCheck
	clock        func() time.Time
	noScheduler  bool
}

// Option customises container construction.
type Option func(*options)

// WithLogger sets the base logger; component loggers are derived from it by name.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry supplies a prebuilt repository registry instead of the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithTokenVerifier replaces the Firebase ID token verifier.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) {
		o.verifier = verifier
	}
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithHealthChecks adds dependency checks beyond the stores the container owns.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) {
		o.healthChecks = append(o.healthChecks, checks...)
	}
}

// WithClock overrides the clock handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithoutScheduler skips background job registration.
func WithoutScheduler() Option {
	return func(o *options) {
		o.noScheduler = true
	}
}

// NewContainer constructs the runtime dependencies. Call Close to release them.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Container{Config: cfg, logger: o.logger}
	if err := c.buildInfrastructure(ctx, o); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	if err := c.buildServices(o); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	if !o.noScheduler {
		if err := c.buildScheduler(); err != nil {
			_ = c.Close(context.Background())
			return nil, err
		}
	}
	return c, nil
}

// Close releases background workers and store clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Infra.Scheduler != nil {
		if err := c.Infra.Scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if c.Infra.EventsTopic != nil {
		c.Infra.EventsTopic.Stop()
	}
	if c.Infra.PubSub != nil {
		if err := c.Infra.PubSub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if c.Infra.Journal != nil {
		if err := c.Infra.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) eventLogger(name string) func(context.Context, string, map[string]any) {
	return observability.EventLogger(c.logger, name)
}

func (c *Container) buildInfrastructure(ctx context.Context, o options) error {
	cfg := c.Config

	switch {
	case o.registry != nil:
		c.Repositories = o.registry
		c.Infra.Idempotency = idempotency.NewMemoryStore()
	case cfg.Storage.Backend == config.StorageBackendMemory:
		c.Repositories = memory.NewStore()
		c.Infra.Idempotency = idempotency.NewMemoryStore()
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		reg, err := fsrepo.NewRegistry(provider)
		if err != nil {
			return fmt.Errorf("firestore registry: %w", err)
		}
		c.Infra.Firestore = provider
		c.Repositories = reg
		c.Infra.Idempotency = idempotency.NewFirestoreStore(client)
	}

	if dsn := strings.TrimSpace(cfg.Postgres.DSN); dsn != "" {
		journal, err := postgres.Open(ctx, dsn)
		if err != nil {
			return err
		}
		c.Infra.Journal = journal
	}

	if topicName := strings.TrimSpace(cfg.Ledger.EventsTopic); topicName != "" && cfg.Storage.Backend == config.StorageBackendFirestore && o.registry == nil {
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		c.Infra.PubSub = client
		c.Infra.EventsTopic = client.Topic(topicName)
	}

	manager, err := buildPaymentManager(cfg.Payments, c.eventLogger("payments"))
	if err != nil {
		return err
	}
	c.Infra.Payments = manager

	if key := strings.TrimSpace(cfg.Storage.SignedURLKey); key != "" {
		signer, err := pstorage.NewServiceAccountSignerFromJSON([]byte(key))
		if err != nil {
			return fmt.Errorf("storage signer: %w", err)
		}
		client, err := pstorage.NewClient(signer)
		if err != nil {
			return fmt.Errorf("storage client: %w", err)
		}
		uploads, err := pstorage.NewUploads(client, cfg.Storage.AssetsBucket, "", uploadURLExpiry)
		if err != nil {
			return fmt.Errorf("storage uploads: %w", err)
		}
		c.Infra.Uploads = uploads
	}

	if secret := strings.TrimSpace(cfg.Delegation.Secret); secret != "" {
		issuer, err := auth.NewDelegationIssuer(secret)
		if err != nil {
			return fmt.Errorf("delegation issuer: %w", err)
		}
		c.Infra.Delegation = issuer
	}

	verifier := o.verifier
	if verifier == nil {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return fmt.Errorf("firebase verifier: %w", err)
		}
		c.Infra.Firebase = firebase
		verifier = firebase
	}
	authOpts := []auth.Option{}
	if c.Infra.Firebase != nil {
		authOpts = append(authOpts, auth.WithUserGetter(c.Infra.Firebase))
	}
	if c.Infra.Delegation != nil {
		authOpts = append(authOpts, auth.WithDelegation(c.Infra.Delegation, DelegationWriteScopes()))
	}
	c.Infra.Authenticator = auth.NewAuthenticator(verifier, authOpts...)
	return nil
}

// DelegationWriteScopes maps the mutating routes a delegated session may reach to the
// scope its token must carry. Unlisted writes stay closed to delegated sessions.
func DelegationWriteScopes() map[string]string {
	return map[string]string{
		"POST /api/v1/orders":               domain.ScopeOrdersCreate,
		"POST /api/v1/payments/preferences": domain.ScopeOrdersCreate,
		"POST /api/v1/withdrawals":          domain.ScopeWithdrawalsRequest,
	}
}

func buildPaymentManager(cfg config.PaymentsConfig, logger func(context.Context, string, map[string]any)) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)
	if token := strings.TrimSpace(cfg.MercadoPagoAccessToken); token != "" {
		mp, err := payments.NewMercadoPagoProvider(payments.MercadoPagoConfig{
			AccessToken: token,
			BaseURL:     cfg.MercadoPagoBaseURL,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("mercadopago provider: %w", err)
		}
		providers[payments.ProviderMercadoPago] = mp
	}
	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		sp, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = sp
	}
	if len(providers) == 0 {
		return nil, nil
	}
	opts := []payments.ManagerOption{payments.WithPreferenceTimeout(cfg.PreferenceTimeout)}
	if _, ok := providers[cfg.DefaultProvider]; ok {
		opts = append(opts, payments.WithDefaultProvider(cfg.DefaultProvider))
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildServices(o options) error {
	reg := c.Repositories
	clock := o.clock
	var svc Services
	var err error

	if svc.Audit, err = services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		Logger:     c.eventLogger("audit"),
	}); err != nil {
		return fmt.Errorf("build audit log service: %w", err)
	}

	if svc.Notifications, err = services.NewNotificationService(services.NotificationServiceDeps{
		Notifications: reg.Notifications(),
		Products:      reg.Products(),
		Clock:         clock,
		Logger:        c.eventLogger("notifications"),
	}); err != nil {
		return fmt.Errorf("build notification service: %w", err)
	}

	// Optional collaborators are assigned only when present so the interfaces stay nil.
	var checkout services.PreferenceManager
	if c.Infra.Payments != nil {
		checkout = c.Infra.Payments
	}
	var journal services.LedgerJournal
	if c.Infra.Journal != nil {
		journal = c.Infra.Journal
	}
	var events services.LedgerEventPublisher
	if c.Infra.EventsTopic != nil {
		publisher, err := jobs.NewPubSubLedgerPublisher(c.Infra.EventsTopic)
		if err != nil {
			return err
		}
		events = publisher
	}
	metrics := observability.NewLedgerMetrics(otel.Meter(ledgerMeterName), c.logger.Named("ledger"))

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Ledger:   reg.Ledger(),
		Orders:   reg.Orders(),
		Checkout: checkout,
		Notifier: svc.Notifications,
		Audit:    svc.Audit,
		Events:   events,
		Journal:  journal,
		Metrics:  metrics,
		Clock:    clock,
		Logger:   c.eventLogger("orders"),
	}); err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	if svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
		Payments: checkout,
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Status:   svc.Orders,
		Clock:    clock,
		Logger:   c.eventLogger("payments"),
	}); err != nil {
		return fmt.Errorf("build payment service: %w", err)
	}

	if svc.Withdrawals, err = services.NewWithdrawalService(services.WithdrawalServiceDeps{
		Ledger:      reg.Ledger(),
		Withdrawals: reg.Withdrawals(),
		Notifier:    svc.Notifications,
		Audit:       svc.Audit,
		Events:      events,
		Journal:     journal,
		Metrics:     metrics,
		Clock:       clock,
		Logger:      c.eventLogger("withdrawals"),
	}); err != nil {
		return fmt.Errorf("build withdrawal service: %w", err)
	}

	if svc.Finance, err = services.NewFinanceService(services.FinanceServiceDeps{
		Profiles:    reg.Profiles(),
		Orders:      reg.Orders(),
		Commissions: reg.Commissions(),
		Status:      svc.Orders,
		Clock:       clock,
		Logger:      c.eventLogger("finance"),
	}); err != nil {
		return fmt.Errorf("build finance service: %w", err)
	}

	var uploads services.UploadSigner
	if c.Infra.Uploads != nil {
		uploads = c.Infra.Uploads
	}

	if svc.Products, err = services.NewProductService(services.ProductServiceDeps{
		Products:  reg.Products(),
		Materials: reg.Materials(),
		Orders:    reg.Orders(),
		Uploads:   uploads,
		Audit:     svc.Audit,
		Clock:     clock,
		Logger:    c.eventLogger("products"),
	}); err != nil {
		return fmt.Errorf("build product service: %w", err)
	}

	if svc.Materials, err = services.NewMaterialService(services.MaterialServiceDeps{
		Materials: reg.Materials(),
		Clock:     clock,
	}); err != nil {
		return fmt.Errorf("build material service: %w", err)
	}

	if svc.Profiles, err = services.NewProfileService(services.ProfileServiceDeps{
		Profiles:      reg.Profiles(),
		Withdrawals:   reg.Withdrawals(),
		Uploads:       uploads,
		PublicBaseURL: c.Config.Payments.PublicOrigin,
		Clock:         clock,
		Logger:        c.eventLogger("profiles"),
	}); err != nil {
		return fmt.Errorf("build profile service: %w", err)
	}

	var identities services.IdentityAdmin
	if c.Infra.Firebase != nil {
		identities = c.Infra.Firebase
	}
	if svc.AdminUsers, err = services.NewAdminUserService(services.AdminUserServiceDeps{
		Profiles:   reg.Profiles(),
		Products:   reg.Products(),
		Identities: identities,
		Audit:      svc.Audit,
		Clock:      clock,
		Logger:     c.eventLogger("admin_users"),
	}); err != nil {
		return fmt.Errorf("build admin user service: %w", err)
	}

	if svc.Dashboard, err = services.NewDashboardService(services.DashboardServiceDeps{
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Profiles: reg.Profiles(),
		Clock:    clock,
		Logger:   c.eventLogger("dashboard"),
	}); err != nil {
		return fmt.Errorf("build dashboard service: %w", err)
	}

	if svc.Site, err = services.NewSiteService(services.SiteServiceDeps{
		Site:  reg.Site(),
		Audit: svc.Audit,
		Clock: clock,
	}); err != nil {
		return fmt.Errorf("build site service: %w", err)
	}

	if c.Infra.Delegation != nil {
		if svc.Impersonation, err = services.NewImpersonationService(services.ImpersonationServiceDeps{
			Profiles:   reg.Profiles(),
			Issuer:     c.Infra.Delegation,
			Audit:      svc.Audit,
			Logger:     c.eventLogger("impersonation"),
			DefaultTTL: c.Config.Delegation.DefaultTTL,
			MaxTTL:     c.Config.Delegation.MaxTTL,
		}); err != nil {
			return fmt.Errorf("build impersonation service: %w", err)
		}
	}

	if svc.Reconciler, err = services.NewLedgerReconciler(services.LedgerReconcilerDeps{
		Profiles: reg.Profiles(),
		Entries:  reg.LedgerEntries(),
		Journal:  journal,
		Clock:    clock,
		Logger:   c.eventLogger("reconcile"),
	}); err != nil {
		return fmt.Errorf("build ledger reconciler: %w", err)
	}

	if svc.System, err = c.buildSystemService(o); err != nil {
		return fmt.Errorf("build system service: %w", err)
	}

	c.Services = svc
	return nil
}

func (c *Container) buildSystemService(o options) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, len(o.healthChecks)+2)
	if provider := c.Infra.Firestore; provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: firestoreCheckBudget,
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		})
	}
	if journal := c.Infra.Journal; journal != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: postgresCheckBudget,
			Check:   journal.Ping,
		})
	}
	checks = append(checks, o.healthChecks...)
	if len(checks) == 0 {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "memory",
			Check: func(context.Context) error { return nil },
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            o.clock,
		Build:            o.build,
	})
}

func (c *Container) buildScheduler() error {
	scheduler, err := jobs.NewScheduler(c.logger.Named("jobs"))
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	c.Infra.Scheduler = scheduler
	cfg := c.Config
	if cfg.Idempotency.CleanupInterval > 0 && c.Infra.Idempotency != nil {
		task := jobs.IdempotencyCleanupTask(c.Infra.Idempotency, cfg.Idempotency.CleanupBatchSize, time.Now)
		if err := scheduler.Every("idempotency-cleanup", cfg.Idempotency.CleanupInterval, task); err != nil {
			return err
		}
	}
	if cfg.Ledger.ReconcileEnabled && strings.TrimSpace(cfg.Ledger.ReconcileSchedule) != "" {
		task := jobs.ReconcileTask(c.Services.Reconciler, c.logger.Named("reconcile"))
		if err := scheduler.Cron("ledger-reconcile", cfg.Ledger.ReconcileSchedule, task); err != nil {
			return err
		}
	}
	return nil
}

// Start launches background jobs.
func (c *Container) Start() {
	if c != nil && c.Infra.Scheduler != nil {
		c.Infra.Scheduler.Start()
	}
}
