package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// Registry wires every Firestore repository around one shared provider.
type Registry struct {
	provider *pfirestore.Provider

	ledger        *LedgerRepository
	profiles      *ProfileRepository
	products      *ProductRepository
	materials     *MaterialRepository
	orders        *OrderRepository
	commissions   *CommissionRepository
	withdrawals   *WithdrawalRepository
	entries       *LedgerEntryRepository
	notifications *NotificationRepository
	site          *SiteRepository
	audit         *AuditLogRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the Firestore-backed repository registry.
func NewRegistry(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.ledger, err = NewLedgerRepository(provider, txOpts...); err != nil {
		return nil, err
	}
	if reg.profiles, err = NewProfileRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.materials, err = NewMaterialRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.commissions, err = NewCommissionRepository(provider); err != nil {
		return nil, err
	}
	if reg.withdrawals, err = NewWithdrawalRepository(provider); err != nil {
		return nil, err
	}
	if reg.entries, err = NewLedgerEntryRepository(provider); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.site, err = NewSiteRepository(provider); err != nil {
		return nil, err
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Ledger() repositories.LedgerRepository               { return r.ledger }
func (r *Registry) Profiles() repositories.ProfileRepository            { return r.profiles }
func (r *Registry) Products() repositories.ProductRepository            { return r.products }
func (r *Registry) Materials() repositories.MaterialRepository          { return r.materials }
func (r *Registry) Orders() repositories.OrderRepository                { return r.orders }
func (r *Registry) Commissions() repositories.CommissionRepository      { return r.commissions }
func (r *Registry) Withdrawals() repositories.WithdrawalRepository      { return r.withdrawals }
func (r *Registry) LedgerEntries() repositories.LedgerEntryRepository   { return r.entries }
func (r *Registry) Notifications() repositories.NotificationRepository  { return r.notifications }
func (r *Registry) Site() repositories.SiteRepository                   { return r.site }
func (r *Registry) AuditLogs() repositories.AuditLogRepository          { return r.audit }
