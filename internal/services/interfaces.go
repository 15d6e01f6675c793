package services

import (
	"context"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Profile            = domain.Profile
	Product            = domain.Product
	Material           = domain.Material
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	Commission         = domain.Commission
	Withdrawal         = domain.Withdrawal
	LedgerEntry        = domain.LedgerEntry
	Notification       = domain.Notification
	SiteSettings       = domain.SiteSettings
	SiteAsset          = domain.SiteAsset
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
	SignedUpload       = domain.SignedUpload
)

// OrderService drives the order status state machine and its ledger side effects.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	AllowedTransitions(status OrderStatus) []OrderStatus
	Delete(ctx context.Context, cmd DeleteOrderCommand) error
}

// PaymentService creates checkout preferences and reconciles provider notifications.
type PaymentService interface {
	CreatePreference(ctx context.Context, cmd PaymentPreferenceCommand) (PaymentPreference, error)
	HandleNotification(ctx context.Context, cmd PaymentNotificationCommand) (PaymentNotificationResult, error)
}

// WithdrawalService manages payout requests and their balance holds.
type WithdrawalService interface {
	Request(ctx context.Context, cmd RequestWithdrawalCommand) (Withdrawal, error)
	Approve(ctx context.Context, cmd ResolveWithdrawalCommand) (Withdrawal, error)
	Reject(ctx context.Context, cmd ResolveWithdrawalCommand) (Withdrawal, error)
	ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Withdrawal], error)
	ListAll(ctx context.Context, filter WithdrawalListFilter) (domain.CursorPage[Withdrawal], error)
}

// FinanceService summarises balances and settles invoice orders.
type FinanceService interface {
	Summary(ctx context.Context, userID string) (FinanceSummary, error)
	PayInvoice(ctx context.Context, cmd PayInvoiceCommand) (Order, error)
	ListCommissions(ctx context.Context, affiliateID string, pager Pagination) (domain.CursorPage[Commission], error)
	CommissionReport(ctx context.Context, filter CommissionReportFilter) (CommissionReport, error)
}

// ProductService registers and moderates marketplace products.
type ProductService interface {
	Register(ctx context.Context, cmd RegisterProductCommand) (Product, error)
	Update(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	Delete(ctx context.Context, cmd DeleteProductCommand) error
	Get(ctx context.Context, productID string) (Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	Approve(ctx context.Context, cmd ModerateProductCommand) (Product, error)
	Reject(ctx context.Context, cmd ModerateProductCommand) (Product, error)
	SetCommissionRate(ctx context.Context, cmd ModerateProductCommand) (Product, error)
	ImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (SignedUpload, error)
}

// MaterialService maintains the material price list.
type MaterialService interface {
	List(ctx context.Context) ([]Material, error)
	Create(ctx context.Context, cmd UpsertMaterialCommand) (Material, error)
	Update(ctx context.Context, cmd UpsertMaterialCommand) (Material, error)
	Delete(ctx context.Context, materialID string) error
}

// ProfileService exposes self-service profile and network operations.
type ProfileService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (Profile, error)
	Get(ctx context.Context, profileID string) (Profile, error)
	UpdateSettings(ctx context.Context, cmd UpdateProfileCommand) (Profile, error)
	SetNickname(ctx context.Context, cmd SetNicknameCommand) (Profile, error)
	Network(ctx context.Context, profileID string) (NetworkOverview, error)
	AvatarUploadURL(ctx context.Context, cmd AvatarUploadCommand) (SignedUpload, error)
}

// AdminUserService covers the admin user-management screen.
type AdminUserService interface {
	List(ctx context.Context, filter AdminUserFilter) (domain.CursorPage[Profile], error)
	SetInvoiceLimit(ctx context.Context, cmd SetInvoiceLimitCommand) (Profile, error)
	SetInvoiceDueDay(ctx context.Context, cmd SetInvoiceDueDayCommand) (Profile, error)
	SetRole(ctx context.Context, cmd SetRoleCommand) (Profile, error)
	Delete(ctx context.Context, cmd DeleteUserCommand) error
}

// NotificationService lists and sends in-app notifications.
type NotificationService interface {
	List(ctx context.Context, userID string) (NotificationInbox, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Send(ctx context.Context, cmd SendNotificationCommand) (Notification, error)
	NotifyOrderStatus(ctx context.Context, order Order) error
	NotifyWithdrawal(ctx context.Context, withdrawal Withdrawal) error
}

// DashboardService aggregates admin dashboard metrics.
type DashboardService interface {
	Overview(ctx context.Context) (DashboardOverview, error)
}

// SiteService manages public landing page content.
type SiteService interface {
	Settings(ctx context.Context) (RenderedSiteSettings, error)
	SaveSettings(ctx context.Context, cmd SaveSiteSettingsCommand) (RenderedSiteSettings, error)
	ListAssets(ctx context.Context) ([]SiteAsset, error)
	AddAsset(ctx context.Context, cmd AddSiteAssetCommand) (SiteAsset, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// ImpersonationService issues delegation tokens for admin support sessions.
type ImpersonationService interface {
	Start(ctx context.Context, cmd StartImpersonationCommand) (ImpersonationGrant, error)
}

// LedgerReconciler compares stored balances with the ledger journal.
type LedgerReconciler interface {
	Reconcile(ctx context.Context) (ReconciliationReport, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand places an order for one product.
type CreateOrderCommand struct {
	UserID        string
	ProductID     string
	Quantity      int
	PaymentMethod domain.PaymentMethod
	Origin        string
	Provider      string
	Payer         PaymentPayer
}

// CreateOrderResult carries the stored order and, for immediate payment, the checkout redirect.
type CreateOrderResult struct {
	Order    Order
	Checkout *PaymentPreference
}

// TransitionOrderCommand moves an order to a new status.
type TransitionOrderCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	Reason         string
	ActorID        string
	ExpectedStatus *OrderStatus
}

// DeleteOrderCommand removes an order, reversing its commission first.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID        string
	Status        *OrderStatus
	PaymentMethod *domain.PaymentMethod
	Pagination    Pagination
}

// PaymentPayer identifies the buyer to the payment provider.
type PaymentPayer struct {
	Email string
	Name  string
}

// PaymentPreferenceCommand requests a checkout preference for an existing order.
type PaymentPreferenceCommand struct {
	OrderID  string
	ActorID  string
	IsAdmin  bool
	Payer    PaymentPayer
	Origin   string
	Provider string
}

// PaymentPreference is the provider checkout the buyer is redirected to.
type PaymentPreference struct {
	ID        string
	Provider  string
	InitPoint string
	OrderID   string
}

// PaymentNotificationCommand references a provider payment announced by webhook.
type PaymentNotificationCommand struct {
	Provider  string
	PaymentID string
}

// PaymentNotificationResult reports what a notification did to its order.
type PaymentNotificationResult struct {
	OrderID      string
	Status       string
	Transitioned bool
}

// RequestWithdrawalCommand asks to withdraw the full available balance.
type RequestWithdrawalCommand struct {
	UserID string
	PixKey string
}

// ResolveWithdrawalCommand approves or rejects a pending withdrawal.
type ResolveWithdrawalCommand struct {
	WithdrawalID string
	ActorID      string
	Reason       string
}

// WithdrawalListFilter narrows admin withdrawal listings.
type WithdrawalListFilter struct {
	Status     *domain.WithdrawalStatus
	Pagination Pagination
}

// FinanceSummary is the affiliate's financial position.
type FinanceSummary struct {
	Balance          int64
	TotalEarnings    int64
	OpenDebt         int64
	InvoiceLimit     int64
	AvailableLimit   int64
	AvailableBalance int64
	CanWithdraw      bool
	InvoiceDueDay    int
	NextDueDate      *time.Time
	OpenInvoices     []InvoiceOrder
}

// InvoiceOrder is an open invoice order with its due date.
type InvoiceOrder struct {
	Order   Order
	DueDate time.Time
	Overdue bool
}

// CommissionReportFilter narrows the admin commission report to one affiliate when set.
type CommissionReportFilter struct {
	AffiliateID string
	Pagination  Pagination
}

// CommissionReportLine is a commission joined with its affiliate and order.
type CommissionReportLine struct {
	Commission
	AffiliateName  string
	AffiliateEmail string
	OrderAmount    int64
	OrderStatus    domain.OrderStatus
}

// CommissionReport is one page of commissions, newest first. Total covers every
// commission matching the filter, not just the page.
type CommissionReport struct {
	Items         []CommissionReportLine
	NextPageToken string
	Total         int64
}

// PayInvoiceCommand settles an owned invoice order.
type PayInvoiceCommand struct {
	UserID  string
	OrderID string
}

// RegisterProductCommand registers a product for moderation.
type RegisterProductCommand struct {
	OwnerID        string
	Name           string
	MaterialID     string
	WidthMM        float64
	HeightMM       float64
	PriceType      domain.PriceType
	FixedCost      *int64
	CommissionRate *float64
	ImagePath      string
	PDFURL         string
}

// UpdateProductCommand replaces the editable fields of a product. Only the
// owner or an admin may apply it.
type UpdateProductCommand struct {
	ProductID string
	ActorID   string
	IsAdmin   bool
	RegisterProductCommand
}

// DeleteProductCommand removes a product no order references.
type DeleteProductCommand struct {
	ProductID string
	ActorID   string
	IsAdmin   bool
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	Status     *domain.ProductStatus
	OwnerID    string
	Pagination Pagination
}

// ModerateProductCommand approves, rejects, or re-rates a product.
type ModerateProductCommand struct {
	ProductID      string
	ActorID        string
	CommissionRate *float64
}

// ProductImageUploadCommand requests a signed URL for a product image.
type ProductImageUploadCommand struct {
	OwnerID     string
	FileName    string
	ContentType string
}

// UpsertMaterialCommand creates or updates a material.
type UpsertMaterialCommand struct {
	ID         string
	Name       string
	PricePerM2 int64
}

// EnsureProfileCommand creates the caller's profile on first sight.
type EnsureProfileCommand struct {
	UserID         string
	Email          string
	FullName       string
	ReferralHandle string
}

// UpdateProfileCommand carries editable profile fields.
type UpdateProfileCommand struct {
	UserID   string
	FullName *string
	PixKey   *string
}

// SetNicknameCommand claims a unique nickname used in referral links.
type SetNicknameCommand struct {
	UserID   string
	Nickname string
}

// AvatarUploadCommand requests a signed URL for the caller's avatar.
type AvatarUploadCommand struct {
	UserID      string
	FileName    string
	ContentType string
}

// NetworkOverview is the affiliate network page.
type NetworkOverview struct {
	Profile      Profile
	ReferralLink string
	Referrals    []Profile
	Withdrawals  []Withdrawal
}

// AdminUserFilter narrows admin user listings.
type AdminUserFilter struct {
	Role       *domain.Role
	Pagination Pagination
}

// SetInvoiceLimitCommand updates a profile's credit line.
type SetInvoiceLimitCommand struct {
	UserID  string
	ActorID string
	Limit   int64
}

// SetInvoiceDueDayCommand updates a profile's invoice due day.
type SetInvoiceDueDayCommand struct {
	UserID  string
	ActorID string
	DueDay  int
}

// SetRoleCommand toggles a profile's role.
type SetRoleCommand struct {
	UserID  string
	ActorID string
	Role    domain.Role
}

// DeleteUserCommand removes a user and their identity.
type DeleteUserCommand struct {
	UserID  string
	ActorID string
}

// NotificationInbox is the latest notifications plus the unread count.
type NotificationInbox struct {
	Items  []Notification
	Unread int
}

// SendNotificationCommand is an admin-authored notification.
type SendNotificationCommand struct {
	UserID  string
	Title   string
	Message string
	Type    domain.NotificationType
}

// DashboardOverview aggregates admin dashboard metrics.
type DashboardOverview struct {
	Revenue        int64
	OrderCount     int
	AffiliateCount int
	AverageTicket  int64
	TopProducts    []RankedProduct
	TopAffiliates  []RankedAffiliate
	GeneratedAt    time.Time
}

// RankedProduct is a product with its revenue contribution.
type RankedProduct struct {
	ProductID string
	Name      string
	Orders    int
	Revenue   int64
}

// RankedAffiliate is an affiliate with their commission earnings.
type RankedAffiliate struct {
	ProfileID     string
	Name          string
	TotalEarnings int64
}

// RenderedSiteSettings pairs stored settings with the sanitized HTML body.
type RenderedSiteSettings struct {
	Settings         SiteSettings
	DropshippingHTML string
	Meta             map[string]any
}

// SaveSiteSettingsCommand replaces the landing page settings.
type SaveSiteSettingsCommand struct {
	Settings SiteSettings
	ActorID  string
}

// AddSiteAssetCommand registers a landing page image.
type AddSiteAssetCommand struct {
	Type string
	URL  string
}

// StartImpersonationCommand asks for a delegation token acting as TargetID.
type StartImpersonationCommand struct {
	ActorID  string
	TargetID string
	Scopes   []string
	TTL      time.Duration
	IP       string
}

// ImpersonationGrant is the issued delegation token.
type ImpersonationGrant struct {
	Token     string
	TargetID  string
	ActorID   string
	Scopes    []string
	ExpiresAt time.Time
}

// ReconciliationReport lists profiles whose stored balances differ from the journal.
type ReconciliationReport struct {
	CheckedProfiles int
	Drifts          []BalanceDrift
	JournalDrifts   []BalanceDrift
	GeneratedAt     time.Time
}

// BalanceDrift is one profile whose stored totals disagree with the folded ledger.
type BalanceDrift struct {
	ProfileID      string
	StoredBalance  int64
	LedgerBalance  int64
	StoredEarnings int64
	LedgerEarnings int64
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	IPAddress  string
	UserAgent  string
	OccurredAt time.Time
	Metadata   map[string]any
	Diff       map[string]AuditLogDiff
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination Pagination
}
