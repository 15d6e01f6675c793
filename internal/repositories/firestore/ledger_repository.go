package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// LedgerRepository runs balance-affecting work in a Firestore transaction.
type LedgerRepository struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

// NewLedgerRepository constructs the transactional ledger repository.
func NewLedgerRepository(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{provider: provider, opts: opts}, nil
}

// RunInTx executes fn in a transaction. Firestore rejects reads after writes, so writes
// are staged on the LedgerTx and flushed once fn returns. Contention retries rerun fn.
// Errors returned by fn surface unwrapped; commit failures keep their Firestore category.
func (r *LedgerRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	var fnErr error
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		ltx := &ledgerTx{client: client, tx: tx}
		fnErr = fn(ctx, ltx)
		if fnErr != nil {
			return fnErr
		}
		for _, write := range ltx.writes {
			if err := write(); err != nil {
				return err
			}
		}
		return nil
	}, r.opts...)
	if fnErr != nil {
		return fnErr
	}
	return err
}

type ledgerTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
	writes []func() error
}

func (t *ledgerTx) stage(write func() error) {
	t.writes = append(t.writes, write)
}

func (t *ledgerTx) get(ref *firestore.DocumentRef, op, kind string) (*firestore.DocumentSnapshot, error) {
	snap, err := t.tx.Get(ref)
	if err != nil {
		return nil, notFound(err, op, "%s %s", kind, ref.ID)
	}
	return snap, nil
}

func (t *ledgerTx) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	snap, err := t.get(t.client.Collection(ordersCollection).Doc(orderID), "orders.tx.get", "order")
	if err != nil {
		return domain.Order{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (t *ledgerTx) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	snap, err := t.get(t.client.Collection(productsCollection).Doc(productID), "products.tx.get", "product")
	if err != nil {
		return domain.Product{}, err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (t *ledgerTx) GetProfile(_ context.Context, profileID string) (domain.Profile, error) {
	snap, err := t.get(t.client.Collection(profilesCollection).Doc(profileID), "profiles.tx.get", "profile")
	if err != nil {
		return domain.Profile{}, err
	}
	var doc profileDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Profile{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (t *ledgerTx) GetWithdrawal(_ context.Context, withdrawalID string) (domain.Withdrawal, error) {
	snap, err := t.get(t.client.Collection(withdrawalsCollection).Doc(withdrawalID), "withdrawals.tx.get", "withdrawal")
	if err != nil {
		return domain.Withdrawal{}, err
	}
	var doc withdrawalDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Withdrawal{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (t *ledgerTx) FindCommissionByOrder(_ context.Context, orderID string) (domain.Commission, error) {
	snap, err := t.get(t.client.Collection(commissionsCollection).Doc(orderID), "commissions.tx.get", "commission for order")
	if err != nil {
		return domain.Commission{}, err
	}
	var doc commissionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Commission{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListOpenInvoiceOrders reads the buyer's invoice orders inside the transaction so a
// concurrent order insert aborts and retries the credit check.
func (t *ledgerTx) ListOpenInvoiceOrders(_ context.Context, userID string) ([]domain.Order, error) {
	query := t.client.Collection(ordersCollection).
		Where("userId", "==", userID).
		Where("paymentMethod", "==", string(domain.PaymentMethodInvoice))
	snaps, err := t.tx.Documents(query).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("orders.tx.open_invoices", err)
	}
	var out []domain.Order
	for _, snap := range snaps {
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		order := doc.toDomain(snap.Ref.ID)
		if domain.IsOpenInvoice(order) {
			out = append(out, order)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *ledgerTx) InsertOrder(_ context.Context, order domain.Order) error {
	ref := t.client.Collection(ordersCollection).Doc(order.ID)
	doc := fromDomainOrder(order)
	t.stage(func() error { return t.tx.Create(ref, doc) })
	return nil
}

func (t *ledgerTx) UpdateOrder(_ context.Context, order domain.Order) error {
	ref := t.client.Collection(ordersCollection).Doc(order.ID)
	doc := fromDomainOrder(order)
	t.stage(func() error { return t.tx.Set(ref, doc) })
	return nil
}

func (t *ledgerTx) DeleteOrder(_ context.Context, orderID string) error {
	ref := t.client.Collection(ordersCollection).Doc(orderID)
	t.stage(func() error { return t.tx.Delete(ref) })
	return nil
}

func (t *ledgerTx) InsertCommission(_ context.Context, commission domain.Commission) error {
	ref := t.client.Collection(commissionsCollection).Doc(commission.OrderID)
	doc := fromDomainCommission(commission)
	t.stage(func() error { return t.tx.Create(ref, doc) })
	return nil
}

func (t *ledgerTx) DeleteCommission(_ context.Context, commission domain.Commission) error {
	ref := t.client.Collection(commissionsCollection).Doc(commission.OrderID)
	t.stage(func() error { return t.tx.Delete(ref) })
	return nil
}

func (t *ledgerTx) InsertWithdrawal(_ context.Context, withdrawal domain.Withdrawal) error {
	ref := t.client.Collection(withdrawalsCollection).Doc(withdrawal.ID)
	doc := fromDomainWithdrawal(withdrawal)
	t.stage(func() error { return t.tx.Create(ref, doc) })
	return nil
}

func (t *ledgerTx) UpdateWithdrawal(_ context.Context, withdrawal domain.Withdrawal) error {
	ref := t.client.Collection(withdrawalsCollection).Doc(withdrawal.ID)
	doc := fromDomainWithdrawal(withdrawal)
	t.stage(func() error { return t.tx.Set(ref, doc) })
	return nil
}

func (t *ledgerTx) AppendEntry(_ context.Context, entry domain.LedgerEntry) error {
	ref := t.client.Collection(ledgerEntriesCollection).Doc(entry.ID)
	doc := fromDomainEntry(entry)
	t.stage(func() error { return t.tx.Create(ref, doc) })
	return nil
}

func (t *ledgerTx) SetBalances(_ context.Context, profileID string, balance, totalEarnings int64, updatedAt time.Time) error {
	ref := t.client.Collection(profilesCollection).Doc(profileID)
	t.stage(func() error {
		return t.tx.Update(ref, []firestore.Update{
			{Path: "balance", Value: balance},
			{Path: "totalEarnings", Value: totalEarnings},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
	return nil
}
