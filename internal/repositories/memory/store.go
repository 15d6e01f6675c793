// Package memory provides an in-process repository registry used by tests and
// local development when Firestore is not configured.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/pagination"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store keeps every collection in maps guarded by one mutex. Ledger
// transactions hold the mutex for their whole duration.
type Store struct {
	mu            sync.Mutex
	profiles      map[string]domain.Profile
	products      map[string]domain.Product
	materials     map[string]domain.Material
	orders        map[string]domain.Order
	commissions   map[string]domain.Commission // keyed by order id
	withdrawals   map[string]domain.Withdrawal
	entries       map[string]domain.LedgerEntry
	notifications map[string]domain.Notification
	assets        map[string]domain.SiteAsset
	settings      *domain.SiteSettings
	audit         []domain.AuditLogEntry
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		profiles:      make(map[string]domain.Profile),
		products:      make(map[string]domain.Product),
		materials:     make(map[string]domain.Material),
		orders:        make(map[string]domain.Order),
		commissions:   make(map[string]domain.Commission),
		withdrawals:   make(map[string]domain.Withdrawal),
		entries:       make(map[string]domain.LedgerEntry),
		notifications: make(map[string]domain.Notification),
		assets:        make(map[string]domain.SiteAsset),
	}
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ledger() repositories.LedgerRepository { return ledgerRepo{s} }
func (s *Store) Profiles() repositories.ProfileRepository { return profileRepo{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Materials() repositories.MaterialRepository { return materialRepo{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Commissions() repositories.CommissionRepository { return commissionRepo{s} }
func (s *Store) Withdrawals() repositories.WithdrawalRepository { return withdrawalRepo{s} }
func (s *Store) LedgerEntries() repositories.LedgerEntryRepository { return entryRepo{s} }
func (s *Store) Notifications() repositories.NotificationRepository { return notificationRepo{s} }
func (s *Store) Site() repositories.SiteRepository { return siteRepo{s} }
func (s *Store) AuditLogs() repositories.AuditLogRepository { return auditRepo{s} }

// PutOrder stores an order as-is, bypassing ledger rules. Intended for fixtures.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
}

// PutCommission stores a commission as-is. Intended for fixtures.
func (s *Store) PutCommission(commission domain.Commission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissions[commission.OrderID] = commission
}

// PutWithdrawal stores a withdrawal as-is. Intended for fixtures.
func (s *Store) PutWithdrawal(withdrawal domain.Withdrawal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals[withdrawal.ID] = withdrawal
}

// PutProfile stores a profile as-is. Intended for fixtures.
func (s *Store) PutProfile(profile domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
}

// Commission returns the commission tied to orderID, if any.
func (s *Store) Commission(orderID string) (domain.Commission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commissions[orderID]
	return c, ok
}

type ledgerRepo struct{ s *Store }

type stagedOp struct {
	check func() error
	apply func()
}

type ledgerTx struct {
	s   *Store
	ops []stagedOp
}

// RunInTx serialises ledger work: fn runs under the store lock and its writes are
// staged. Once fn returns nil every staged check runs, then every apply runs in
// order. Reads inside fn see committed state only.
func (r ledgerRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return repositories.NewUnavailableError("memory.ledger.tx", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx := &ledgerTx{s: r.s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, op := range tx.ops {
		if op.check == nil {
			continue
		}
		if err := op.check(); err != nil {
			return err
		}
	}
	for _, op := range tx.ops {
		op.apply()
	}
	return nil
}

func (t *ledgerTx) stage(check func() error, apply func()) {
	t.ops = append(t.ops, stagedOp{check: check, apply: apply})
}

func (t *ledgerTx) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := t.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.get", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (t *ledgerTx) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	product, ok := t.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("memory.products.get", "product %s", productID)
	}
	return product, nil
}

func (t *ledgerTx) GetProfile(_ context.Context, profileID string) (domain.Profile, error) {
	profile, ok := t.s.profiles[profileID]
	if !ok {
		return domain.Profile{}, repositories.NewNotFoundError("memory.profiles.get", "profile %s", profileID)
	}
	return profile, nil
}

func (t *ledgerTx) GetWithdrawal(_ context.Context, withdrawalID string) (domain.Withdrawal, error) {
	withdrawal, ok := t.s.withdrawals[withdrawalID]
	if !ok {
		return domain.Withdrawal{}, repositories.NewNotFoundError("memory.withdrawals.get", "withdrawal %s", withdrawalID)
	}
	return withdrawal, nil
}

func (t *ledgerTx) FindCommissionByOrder(_ context.Context, orderID string) (domain.Commission, error) {
	commission, ok := t.s.commissions[orderID]
	if !ok {
		return domain.Commission{}, repositories.NewNotFoundError("memory.commissions.get", "commission for order %s", orderID)
	}
	return commission, nil
}

func (t *ledgerTx) ListOpenInvoiceOrders(_ context.Context, userID string) ([]domain.Order, error) {
	return t.s.openInvoicesLocked(userID), nil
}

func (t *ledgerTx) InsertOrder(_ context.Context, order domain.Order) error {
	order = cloneOrder(order)
	t.stage(func() error {
		if _, exists := t.s.orders[order.ID]; exists {
			return repositories.NewConflictError("memory.orders.insert", "order %s exists", order.ID)
		}
		return nil
	}, func() { t.s.orders[order.ID] = order })
	return nil
}

func (t *ledgerTx) UpdateOrder(_ context.Context, order domain.Order) error {
	order = cloneOrder(order)
	t.stage(func() error {
		if _, exists := t.s.orders[order.ID]; !exists {
			return repositories.NewNotFoundError("memory.orders.update", "order %s", order.ID)
		}
		return nil
	}, func() { t.s.orders[order.ID] = order })
	return nil
}

func (t *ledgerTx) DeleteOrder(_ context.Context, orderID string) error {
	t.stage(nil, func() { delete(t.s.orders, orderID) })
	return nil
}

func (t *ledgerTx) InsertCommission(_ context.Context, commission domain.Commission) error {
	t.stage(func() error {
		if _, exists := t.s.commissions[commission.OrderID]; exists {
			return repositories.NewConflictError("memory.commissions.insert", "commission for order %s exists", commission.OrderID)
		}
		return nil
	}, func() { t.s.commissions[commission.OrderID] = commission })
	return nil
}

func (t *ledgerTx) DeleteCommission(_ context.Context, commission domain.Commission) error {
	t.stage(nil, func() { delete(t.s.commissions, commission.OrderID) })
	return nil
}

func (t *ledgerTx) InsertWithdrawal(_ context.Context, withdrawal domain.Withdrawal) error {
	t.stage(func() error {
		if _, exists := t.s.withdrawals[withdrawal.ID]; exists {
			return repositories.NewConflictError("memory.withdrawals.insert", "withdrawal %s exists", withdrawal.ID)
		}
		return nil
	}, func() { t.s.withdrawals[withdrawal.ID] = withdrawal })
	return nil
}

func (t *ledgerTx) UpdateWithdrawal(_ context.Context, withdrawal domain.Withdrawal) error {
	t.stage(nil, func() { t.s.withdrawals[withdrawal.ID] = withdrawal })
	return nil
}

func (t *ledgerTx) AppendEntry(_ context.Context, entry domain.LedgerEntry) error {
	t.stage(func() error {
		if _, exists := t.s.entries[entry.ID]; exists {
			return repositories.NewConflictError("memory.ledger.append", "entry %s exists", entry.ID)
		}
		return nil
	}, func() { t.s.entries[entry.ID] = entry })
	return nil
}

func (t *ledgerTx) SetBalances(_ context.Context, profileID string, balance, totalEarnings int64, updatedAt time.Time) error {
	t.stage(func() error {
		if _, ok := t.s.profiles[profileID]; !ok {
			return repositories.NewNotFoundError("memory.profiles.balances", "profile %s", profileID)
		}
		return nil
	}, func() {
		profile := t.s.profiles[profileID]
		profile.Balance = balance
		profile.TotalEarnings = totalEarnings
		profile.UpdatedAt = updatedAt
		t.s.profiles[profileID] = profile
	})
	return nil
}

func (s *Store) openInvoicesLocked(userID string) []domain.Order {
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID && domain.IsOpenInvoice(order) {
			out = append(out, cloneOrder(order))
		}
	}
	sortByCreated(out, func(o domain.Order) time.Time { return o.CreatedAt }, false)
	return out
}

func cloneOrder(order domain.Order) domain.Order {
	order.StatusHistory = slices.Clone(order.StatusHistory)
	if order.PaidAt != nil {
		paid := *order.PaidAt
		order.PaidAt = &paid
	}
	return order
}

func sortByCreated[T any](items []T, created func(T) time.Time, newestFirst bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if newestFirst {
			return created(items[i]).After(created(items[j]))
		}
		return created(items[i]).Before(created(items[j]))
	})
}

// paginate slices items using an offset carried in the StartAt cursor of the page token.
func paginate[T any](items []T, pager domain.Pagination) domain.CursorPage[T] {
	size := pager.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	offset := decodeOffset(pager.PageToken)
	if offset >= len(items) {
		return domain.CursorPage[T]{Items: []T{}}
	}
	end := min(offset+size, len(items))
	page := domain.CursorPage[T]{Items: slices.Clone(items[offset:end])}
	if end < len(items) {
		page.NextPageToken, _ = pagination.EncodeToken(pagination.Cursor{StartAt: []any{end}})
	}
	return page
}

func decodeOffset(token string) int {
	cursor, err := pagination.DecodeToken(token)
	if err != nil || len(cursor.StartAt) != 1 {
		return 0
	}
	offset, ok := cursor.StartAt[0].(float64)
	if !ok || offset < 0 {
		return 0
	}
	return int(offset)
}

func values[K comparable, V any](m map[K]V) []V {
	return slices.Collect(maps.Values(m))
}
