package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// OrderRepository serves order reads outside the ledger transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := coll.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, notFound(err, "orders.find", "order %s", orderID)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Query
	if filter.UserID != "" {
		query = query.Where("userId", "==", filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status", "==", string(*filter.Status))
	}
	if filter.PaymentMethod != nil {
		query = query.Where("paymentMethod", "==", string(*filter.PaymentMethod))
	}
	return pageNewestFirst(ctx, "orders.list", query, filter.Pagination, func(snap *firestore.DocumentSnapshot) (domain.Order, time.Time, error) {
		order, err := decodeOrder(snap)
		return order, order.CreatedAt, err
	})
}

// ListByStatuses returns every order in one of statuses, newest first. No statuses means all orders.
func (r *OrderRepository) ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		query = query.Where("status", "in", values)
	}
	orders, err := collect(ctx, "orders.by_status", query, decodeOrder)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (r *OrderRepository) ListOpenInvoices(ctx context.Context, userID string) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", userID).Where("paymentMethod", "==", string(domain.PaymentMethodInvoice))
	orders, err := collect(ctx, "orders.open_invoices", query, decodeOrder)
	if err != nil {
		return nil, err
	}
	open := orders[:0]
	for _, order := range orders {
		if domain.IsOpenInvoice(order) {
			open = append(open, order)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (r *OrderRepository) SetPaymentReference(ctx context.Context, orderID, provider, preferenceID string, updatedAt time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Doc(orderID).Update(ctx, []firestore.Update{
		{Path: "paymentProvider", Value: provider},
		{Path: "paymentPreferenceId", Value: preferenceID},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}, firestore.Exists)
	if err != nil {
		return notFound(err, "orders.payment_reference", "order %s", orderID)
	}
	return nil
}

func (r *OrderRepository) CountByProduct(ctx context.Context, productID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	return count(ctx, "orders.count_by_product", coll.Where("productId", "==", productID))
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// CommissionRepository serves commission reads. Documents are keyed by order id.
type CommissionRepository struct {
	provider *pfirestore.Provider
}

// NewCommissionRepository constructs a Firestore-backed commission repository.
func NewCommissionRepository(provider *pfirestore.Provider) (*CommissionRepository, error) {
	if provider == nil {
		return nil, errors.New("commission repository requires firestore provider")
	}
	return &CommissionRepository{provider: provider}, nil
}

func (r *CommissionRepository) ListByAffiliate(ctx context.Context, affiliateID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Commission]{}, err
	}
	query := client.Collection(commissionsCollection).Where("affiliateId", "==", affiliateID)
	return pageNewestFirst(ctx, "commissions.by_affiliate", query, pager, decodeCommissionPaged)
}

func (r *CommissionRepository) List(ctx context.Context, filter repositories.CommissionListFilter) (domain.CursorPage[domain.Commission], error) {
	query, err := r.query(ctx, filter.AffiliateID)
	if err != nil {
		return domain.CursorPage[domain.Commission]{}, err
	}
	return pageNewestFirst(ctx, "commissions.list", query, filter.Pagination, decodeCommissionPaged)
}

// Sum totals commission amounts with a server-side aggregation.
func (r *CommissionRepository) Sum(ctx context.Context, affiliateID string) (int64, error) {
	query, err := r.query(ctx, affiliateID)
	if err != nil {
		return 0, err
	}
	return sum(ctx, "commissions.sum", query, "amount")
}

func (r *CommissionRepository) query(ctx context.Context, affiliateID string) (firestore.Query, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	query := client.Collection(commissionsCollection).Query
	if affiliateID != "" {
		query = query.Where("affiliateId", "==", affiliateID)
	}
	return query, nil
}

func decodeCommissionPaged(snap *firestore.DocumentSnapshot) (domain.Commission, time.Time, error) {
	var doc commissionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Commission{}, time.Time{}, err
	}
	commission := doc.toDomain(snap.Ref.ID)
	return commission, commission.CreatedAt, nil
}

// WithdrawalRepository serves withdrawal reads.
type WithdrawalRepository struct {
	provider *pfirestore.Provider
}

// NewWithdrawalRepository constructs a Firestore-backed withdrawal repository.
func NewWithdrawalRepository(provider *pfirestore.Provider) (*WithdrawalRepository, error) {
	if provider == nil {
		return nil, errors.New("withdrawal repository requires firestore provider")
	}
	return &WithdrawalRepository{provider: provider}, nil
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, withdrawalID string) (domain.Withdrawal, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	snap, err := client.Collection(withdrawalsCollection).Doc(withdrawalID).Get(ctx)
	if err != nil {
		return domain.Withdrawal{}, notFound(err, "withdrawals.find", "withdrawal %s", withdrawalID)
	}
	withdrawal, _, err := decodeWithdrawal(snap)
	return withdrawal, err
}

func (r *WithdrawalRepository) List(ctx context.Context, filter repositories.WithdrawalListFilter) (domain.CursorPage[domain.Withdrawal], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Withdrawal]{}, err
	}
	query := client.Collection(withdrawalsCollection).Query
	if filter.UserID != "" {
		query = query.Where("userId", "==", filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status", "==", string(*filter.Status))
	}
	return pageNewestFirst(ctx, "withdrawals.list", query, filter.Pagination, decodeWithdrawal)
}

func decodeWithdrawal(snap *firestore.DocumentSnapshot) (domain.Withdrawal, time.Time, error) {
	var doc withdrawalDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Withdrawal{}, time.Time{}, err
	}
	withdrawal := doc.toDomain(snap.Ref.ID)
	return withdrawal, withdrawal.CreatedAt, nil
}

// LedgerEntryRepository reads the append-only journal.
type LedgerEntryRepository struct {
	provider *pfirestore.Provider
}

// NewLedgerEntryRepository constructs a Firestore-backed journal reader.
func NewLedgerEntryRepository(provider *pfirestore.Provider) (*LedgerEntryRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger entry repository requires firestore provider")
	}
	return &LedgerEntryRepository{provider: provider}, nil
}

func (r *LedgerEntryRepository) ListByProfile(ctx context.Context, profileID string) ([]domain.LedgerEntry, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(ledgerEntriesCollection).Where("profileId", "==", profileID)
	entries, err := collect(ctx, "ledger_entries.by_profile", query, decodeEntry)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// TotalsByProfile folds the whole journal into per-profile sums.
func (r *LedgerEntryRepository) TotalsByProfile(ctx context.Context) (map[string]domain.LedgerTotals, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := client.Collection(ledgerEntriesCollection).
		Select("profileId", "balanceDelta", "earningsDelta").
		Documents(ctx)
	defer iter.Stop()

	totals := make(map[string]domain.LedgerTotals)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return totals, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("ledger_entries.totals", err)
		}
		var doc ledgerEntryDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		t := totals[doc.ProfileID]
		t.Balance += doc.BalanceDelta
		t.TotalEarnings += doc.EarningsDelta
		t.Entries++
		totals[doc.ProfileID] = t
	}
}

func decodeEntry(snap *firestore.DocumentSnapshot) (domain.LedgerEntry, error) {
	var doc ledgerEntryDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.LedgerEntry{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}
