package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

type profileRepo struct{ s *Store }

func (r profileRepo) Insert(_ context.Context, profile domain.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.profiles[profile.ID]; exists {
		return repositories.NewConflictError("memory.profiles.insert", "profile %s exists", profile.ID)
	}
	r.s.profiles[profile.ID] = profile
	return nil
}

func (r profileRepo) FindByID(_ context.Context, profileID string) (domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[profileID]
	if !ok {
		return domain.Profile{}, repositories.NewNotFoundError("memory.profiles.find", "profile %s", profileID)
	}
	return profile, nil
}

func (r profileRepo) FindByReferralHandle(_ context.Context, handle string) (domain.Profile, error) {
	handle = strings.TrimSpace(handle)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, profile := range r.s.profiles {
		if strings.EqualFold(profile.Nickname, handle) || strings.EqualFold(profile.ReferralCode, handle) {
			return profile, nil
		}
	}
	return domain.Profile{}, repositories.NewNotFoundError("memory.profiles.handle", "referral handle %q", handle)
}

func (r profileRepo) UpdateSettings(_ context.Context, profileID string, update repositories.ProfileSettingsUpdate) (domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[profileID]
	if !ok {
		return domain.Profile{}, repositories.NewNotFoundError("memory.profiles.update", "profile %s", profileID)
	}
	if update.FullName != nil {
		profile.FullName = *update.FullName
	}
	if update.PixKey != nil {
		profile.PixKey = *update.PixKey
	}
	if update.AvatarPath != nil {
		profile.AvatarPath = *update.AvatarPath
	}
	if update.Role != nil {
		profile.Role = *update.Role
	}
	if update.InvoiceLimit != nil {
		limit := *update.InvoiceLimit
		profile.InvoiceLimit = &limit
	}
	if update.InvoiceDueDay != nil {
		day := *update.InvoiceDueDay
		profile.InvoiceDueDay = &day
	}
	profile.UpdatedAt = update.UpdatedAt
	r.s.profiles[profileID] = profile
	return profile, nil
}

func (r profileRepo) ClaimNickname(_ context.Context, profileID, nickname string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[profileID]
	if !ok {
		return repositories.NewNotFoundError("memory.profiles.nickname", "profile %s", profileID)
	}
	for id, other := range r.s.profiles {
		if id != profileID && strings.EqualFold(other.Nickname, nickname) {
			return repositories.NewConflictError("memory.profiles.nickname", "nickname %q taken", nickname)
		}
	}
	profile.Nickname = nickname
	profile.UpdatedAt = now
	r.s.profiles[profileID] = profile
	return nil
}

func (r profileRepo) List(_ context.Context, filter repositories.ProfileListFilter) (domain.CursorPage[domain.Profile], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Profile
	for _, profile := range r.s.profiles {
		if filter.Role != nil && profile.Role != *filter.Role {
			continue
		}
		out = append(out, profile)
	}
	sortByCreated(out, func(p domain.Profile) time.Time { return p.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}

func (r profileRepo) ListReferrals(_ context.Context, referrerID string) ([]domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Profile
	for _, profile := range r.s.profiles {
		if profile.ReferredBy == referrerID {
			out = append(out, profile)
		}
	}
	sortByCreated(out, func(p domain.Profile) time.Time { return p.CreatedAt }, true)
	return out, nil
}

func (r profileRepo) Count(context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.profiles), nil
}

func (r profileRepo) Delete(_ context.Context, profileID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.profiles[profileID]; !ok {
		return repositories.NewNotFoundError("memory.profiles.delete", "profile %s", profileID)
	}
	delete(r.s.profiles, profileID)
	return nil
}

type productRepo struct{ s *Store }

func (r productRepo) Insert(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.products[product.ID]; exists {
		return repositories.NewConflictError("memory.products.insert", "product %s exists", product.ID)
	}
	r.s.products[product.ID] = product
	return nil
}

func (r productRepo) Update(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.products[product.ID]; !exists {
		return repositories.NewNotFoundError("memory.products.update", "product %s", product.ID)
	}
	r.s.products[product.ID] = product
	return nil
}

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("memory.products.find", "product %s", productID)
	}
	return product, nil
}

func (r productRepo) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Product
	for _, product := range r.s.products {
		if filter.Status != nil && product.Status != *filter.Status {
			continue
		}
		if filter.OwnerID != "" && product.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, product)
	}
	sortByCreated(out, func(p domain.Product) time.Time { return p.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}

func (r productRepo) CountByOwner(_ context.Context, ownerID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, product := range r.s.products {
		if product.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (r productRepo) Delete(_ context.Context, productID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.products[productID]; !ok {
		return repositories.NewNotFoundError("memory.products.delete", "product %s", productID)
	}
	delete(r.s.products, productID)
	return nil
}

type materialRepo struct{ s *Store }

func (r materialRepo) Insert(_ context.Context, material domain.Material) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.materials[material.ID]; exists {
		return repositories.NewConflictError("memory.materials.insert", "material %s exists", material.ID)
	}
	r.s.materials[material.ID] = material
	return nil
}

func (r materialRepo) Update(_ context.Context, material domain.Material) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.materials[material.ID]; !exists {
		return repositories.NewNotFoundError("memory.materials.update", "material %s", material.ID)
	}
	r.s.materials[material.ID] = material
	return nil
}

func (r materialRepo) Delete(_ context.Context, materialID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.materials[materialID]; !exists {
		return repositories.NewNotFoundError("memory.materials.delete", "material %s", materialID)
	}
	delete(r.s.materials, materialID)
	return nil
}

func (r materialRepo) FindByID(_ context.Context, materialID string) (domain.Material, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	material, ok := r.s.materials[materialID]
	if !ok {
		return domain.Material{}, repositories.NewNotFoundError("memory.materials.find", "material %s", materialID)
	}
	return material, nil
}

func (r materialRepo) List(context.Context) ([]domain.Material, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := values(r.s.materials)
	slices.SortFunc(out, func(a, b domain.Material) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("memory.orders.find", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, order := range r.s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if filter.PaymentMethod != nil && order.PaymentMethod != *filter.PaymentMethod {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sortByCreated(out, func(o domain.Order) time.Time { return o.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}

func (r orderRepo) ListByStatuses(_ context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, order := range r.s.orders {
		if len(statuses) == 0 || slices.Contains(statuses, order.Status) {
			out = append(out, cloneOrder(order))
		}
	}
	sortByCreated(out, func(o domain.Order) time.Time { return o.CreatedAt }, true)
	return out, nil
}

func (r orderRepo) ListOpenInvoices(_ context.Context, userID string) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.openInvoicesLocked(userID), nil
}

func (r orderRepo) SetPaymentReference(_ context.Context, orderID, provider, preferenceID string, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return repositories.NewNotFoundError("memory.orders.payment", "order %s", orderID)
	}
	order.PaymentProvider = provider
	order.PaymentPreferenceID = preferenceID
	order.UpdatedAt = updatedAt
	r.s.orders[orderID] = order
	return nil
}

func (r orderRepo) CountByProduct(_ context.Context, productID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, order := range r.s.orders {
		if order.ProductID == productID {
			count++
		}
	}
	return count, nil
}

type commissionRepo struct{ s *Store }

func (r commissionRepo) ListByAffiliate(_ context.Context, affiliateID string, pager domain.Pagination) (domain.CursorPage[domain.Commission], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Commission
	for _, commission := range r.s.commissions {
		if commission.AffiliateID == affiliateID {
			out = append(out, commission)
		}
	}
	sortByCreated(out, func(c domain.Commission) time.Time { return c.CreatedAt }, true)
	return paginate(out, pager), nil
}

func (r commissionRepo) List(_ context.Context, filter repositories.CommissionListFilter) (domain.CursorPage[domain.Commission], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Commission
	for _, commission := range r.s.commissions {
		if filter.AffiliateID == "" || commission.AffiliateID == filter.AffiliateID {
			out = append(out, commission)
		}
	}
	sortByCreated(out, func(c domain.Commission) time.Time { return c.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}

func (r commissionRepo) Sum(_ context.Context, affiliateID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, commission := range r.s.commissions {
		if affiliateID == "" || commission.AffiliateID == affiliateID {
			total += commission.Amount
		}
	}
	return total, nil
}

type withdrawalRepo struct{ s *Store }

func (r withdrawalRepo) FindByID(_ context.Context, withdrawalID string) (domain.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	withdrawal, ok := r.s.withdrawals[withdrawalID]
	if !ok {
		return domain.Withdrawal{}, repositories.NewNotFoundError("memory.withdrawals.find", "withdrawal %s", withdrawalID)
	}
	return withdrawal, nil
}

func (r withdrawalRepo) List(_ context.Context, filter repositories.WithdrawalListFilter) (domain.CursorPage[domain.Withdrawal], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Withdrawal
	for _, withdrawal := range r.s.withdrawals {
		if filter.UserID != "" && withdrawal.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && withdrawal.Status != *filter.Status {
			continue
		}
		out = append(out, withdrawal)
	}
	sortByCreated(out, func(w domain.Withdrawal) time.Time { return w.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}

type entryRepo struct{ s *Store }

func (r entryRepo) ListByProfile(_ context.Context, profileID string) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, entry := range r.s.entries {
		if entry.ProfileID == profileID {
			out = append(out, entry)
		}
	}
	sortByCreated(out, func(e domain.LedgerEntry) time.Time { return e.CreatedAt }, false)
	return out, nil
}

func (r entryRepo) TotalsByProfile(context.Context) (map[string]domain.LedgerTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := make(map[string]domain.LedgerTotals)
	for _, entry := range r.s.entries {
		t := totals[entry.ProfileID]
		t.Balance += entry.BalanceDelta
		t.TotalEarnings += entry.EarningsDelta
		t.Entries++
		totals[entry.ProfileID] = t
	}
	return totals, nil
}

type notificationRepo struct{ s *Store }

func (r notificationRepo) Insert(_ context.Context, notification domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.notifications[notification.ID]; exists {
		return repositories.NewConflictError("memory.notifications.insert", "notification %s exists", notification.ID)
	}
	r.s.notifications[notification.ID] = notification
	return nil
}

func (r notificationRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sortByCreated(out, func(n domain.Notification) time.Time { return n.CreatedAt }, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r notificationRepo) CountUnread(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r notificationRepo) MarkRead(_ context.Context, userID, notificationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return repositories.NewNotFoundError("memory.notifications.read", "notification %s", notificationID)
	}
	n.Read = true
	r.s.notifications[notificationID] = n
	return nil
}

func (r notificationRepo) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := 0
	for id, n := range r.s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			r.s.notifications[id] = n
			updated++
		}
	}
	return updated, nil
}

type siteRepo struct{ s *Store }

func (r siteRepo) GetSettings(context.Context) (domain.SiteSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		return domain.SiteSettings{}, repositories.NewNotFoundError("memory.site.settings", "site settings not configured")
	}
	return *r.s.settings, nil
}

func (r siteRepo) SaveSettings(_ context.Context, settings domain.SiteSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings = &settings
	return nil
}

func (r siteRepo) InsertAsset(_ context.Context, asset domain.SiteAsset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.assets[asset.ID] = asset
	return nil
}

func (r siteRepo) ListAssets(context.Context) ([]domain.SiteAsset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := values(r.s.assets)
	sortByCreated(out, func(a domain.SiteAsset) time.Time { return a.CreatedAt }, true)
	return out, nil
}

func (r siteRepo) DeleteAsset(_ context.Context, assetID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.assets[assetID]; !ok {
		return repositories.NewNotFoundError("memory.site.assets", "asset %s", assetID)
	}
	delete(r.s.assets, assetID)
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r auditRepo) List(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, entry := range r.s.audit {
		if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, entry)
	}
	sortByCreated(out, func(e domain.AuditLogEntry) time.Time { return e.CreatedAt }, true)
	return paginate(out, filter.Pagination), nil
}
