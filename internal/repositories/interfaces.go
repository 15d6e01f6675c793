package repositories

import (
	"context"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Ledger() LedgerRepository
	Profiles() ProfileRepository
	Products() ProductRepository
	Materials() MaterialRepository
	Orders() OrderRepository
	Commissions() CommissionRepository
	Withdrawals() WithdrawalRepository
	LedgerEntries() LedgerEntryRepository
	Notifications() NotificationRepository
	Site() SiteRepository
	AuditLogs() AuditLogRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// LedgerRepository runs balance-affecting work inside one store transaction.
// The callback may be retried on contention and must be free of side effects
// outside the LedgerTx it receives.
type LedgerRepository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the transactional view of the ledger collections. Writes are
// staged and applied atomically when the callback returns; reads never observe
// writes staged by the same transaction.
//
// SetBalances writes absolute values and the last call for a profile wins. A flow
// that moves the same profile's balance more than once must sum the deltas and
// call SetBalances once, otherwise the earlier change is lost.
type LedgerTx interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetProfile(ctx context.Context, profileID string) (domain.Profile, error)
	GetWithdrawal(ctx context.Context, withdrawalID string) (domain.Withdrawal, error)
	FindCommissionByOrder(ctx context.Context, orderID string) (domain.Commission, error)
	ListOpenInvoiceOrders(ctx context.Context, userID string) ([]domain.Order, error)

	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, orderID string) error
	InsertCommission(ctx context.Context, commission domain.Commission) error
	DeleteCommission(ctx context.Context, commission domain.Commission) error
	InsertWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) error
	UpdateWithdrawal(ctx context.Context, withdrawal domain.Withdrawal) error
	AppendEntry(ctx context.Context, entry domain.LedgerEntry) error
	SetBalances(ctx context.Context, profileID string, balance, totalEarnings int64, updatedAt time.Time) error
}

// ProfileRepository persists affiliate and admin profiles.
type ProfileRepository interface {
	Insert(ctx context.Context, profile domain.Profile) error
	FindByID(ctx context.Context, profileID string) (domain.Profile, error)
	FindByReferralHandle(ctx context.Context, handle string) (domain.Profile, error)
	UpdateSettings(ctx context.Context, profileID string, update ProfileSettingsUpdate) (domain.Profile, error)
	ClaimNickname(ctx context.Context, profileID, nickname string, now time.Time) error
	List(ctx context.Context, filter ProfileListFilter) (domain.CursorPage[domain.Profile], error)
	ListReferrals(ctx context.Context, referrerID string) ([]domain.Profile, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, profileID string) error
}

// ProfileSettingsUpdate carries optional profile fields to mutate.
type ProfileSettingsUpdate struct {
	FullName      *string
	PixKey        *string
	AvatarPath    *string
	Role          *domain.Role
	InvoiceLimit  *int64
	InvoiceDueDay *int
	UpdatedAt     time.Time
}

// ProfileListFilter narrows admin profile listings.
type ProfileListFilter struct {
	Role       *domain.Role
	Pagination domain.Pagination
}

// ProductRepository persists marketplace products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	Delete(ctx context.Context, productID string) error
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	Status     *domain.ProductStatus
	OwnerID    string
	Pagination domain.Pagination
}

// MaterialRepository persists the material price list.
type MaterialRepository interface {
	Insert(ctx context.Context, material domain.Material) error
	Update(ctx context.Context, material domain.Material) error
	Delete(ctx context.Context, materialID string) error
	FindByID(ctx context.Context, materialID string) (domain.Material, error)
	List(ctx context.Context) ([]domain.Material, error)
}

// OrderRepository serves non-transactional order reads.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error)
	ListOpenInvoices(ctx context.Context, userID string) ([]domain.Order, error)
	SetPaymentReference(ctx context.Context, orderID, provider, preferenceID string, updatedAt time.Time) error
	CountByProduct(ctx context.Context, productID string) (int, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID        string
	Status        *domain.OrderStatus
	PaymentMethod *domain.PaymentMethod
	Pagination    domain.Pagination
}

// CommissionRepository serves commission reads.
type CommissionRepository interface {
	ListByAffiliate(ctx context.Context, affiliateID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error)
	List(ctx context.Context, filter CommissionListFilter) (domain.CursorPage[domain.Commission], error)
	Sum(ctx context.Context, affiliateID string) (int64, error)
}

// CommissionListFilter narrows the admin commission report. Results are newest first.
type CommissionListFilter struct {
	AffiliateID string
	Pagination  domain.Pagination
}

// WithdrawalRepository serves withdrawal reads.
type WithdrawalRepository interface {
	FindByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error)
	List(ctx context.Context, filter WithdrawalListFilter) (domain.CursorPage[domain.Withdrawal], error)
}

// WithdrawalListFilter narrows withdrawal listings. Results are newest first.
type WithdrawalListFilter struct {
	UserID     string
	Status     *domain.WithdrawalStatus
	Pagination domain.Pagination
}

// LedgerEntryRepository serves the append-only ledger journal.
type LedgerEntryRepository interface {
	ListByProfile(ctx context.Context, profileID string) ([]domain.LedgerEntry, error)
	TotalsByProfile(ctx context.Context) (map[string]domain.LedgerTotals, error)
}

// NotificationRepository persists in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// SiteRepository persists landing page settings and gallery assets.
type SiteRepository interface {
	GetSettings(ctx context.Context) (domain.SiteSettings, error)
	SaveSettings(ctx context.Context, settings domain.SiteSettings) error
	InsertAsset(ctx context.Context, asset domain.SiteAsset) error
	ListAssets(ctx context.Context) ([]domain.SiteAsset, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// AuditLogRepository appends and lists administrative audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogFilter narrows audit listings. Results are newest first.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination domain.Pagination
}

// HealthRepository surfaces dependency status used by health endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
