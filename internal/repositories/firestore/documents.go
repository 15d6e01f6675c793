package firestore

import (
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
)

const (
	profilesCollection      = "profiles"
	nicknamesCollection     = "nicknames"
	productsCollection      = "products"
	materialsCollection     = "materials"
	ordersCollection        = "orders"
	commissionsCollection   = "commissions"
	withdrawalsCollection   = "withdrawals"
	ledgerEntriesCollection = "ledgerEntries"
	notificationsCollection = "notifications"
	siteCollection          = "site"
	siteAssetsCollection    = "siteAssets"
	auditLogsCollection     = "auditLogs"

	siteSettingsDocID = "settings"
)

type profileDocument struct {
	Email         string    `firestore:"email"`
	FullName      string    `firestore:"fullName"`
	Nickname      string    `firestore:"nickname"`
	NicknameLower string    `firestore:"nicknameLower"`
	ReferralCode  string    `firestore:"referralCode"`
	Role          string    `firestore:"role"`
	Balance       int64     `firestore:"balance"`
	TotalEarnings int64     `firestore:"totalEarnings"`
	InvoiceLimit  *int64    `firestore:"invoiceLimit"`
	InvoiceDueDay *int64    `firestore:"invoiceDueDay"`
	ReferredBy    string    `firestore:"referredBy"`
	PixKey        string    `firestore:"pixKey"`
	AvatarPath    string    `firestore:"avatarPath"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func fromDomainProfile(p domain.Profile) profileDocument {
	doc := profileDocument{
		Email:         p.Email,
		FullName:      p.FullName,
		Nickname:      p.Nickname,
		NicknameLower: lower(p.Nickname),
		ReferralCode:  p.ReferralCode,
		Role:          string(p.Role),
		Balance:       p.Balance,
		TotalEarnings: p.TotalEarnings,
		InvoiceLimit:  p.InvoiceLimit,
		ReferredBy:    p.ReferredBy,
		PixKey:        p.PixKey,
		AvatarPath:    p.AvatarPath,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	if p.InvoiceDueDay != nil {
		day := int64(*p.InvoiceDueDay)
		doc.InvoiceDueDay = &day
	}
	return doc
}

func (d profileDocument) toDomain(id string) domain.Profile {
	p := domain.Profile{
		ID:            id,
		Email:         d.Email,
		FullName:      d.FullName,
		Nickname:      d.Nickname,
		ReferralCode:  d.ReferralCode,
		Role:          domain.Role(d.Role),
		Balance:       d.Balance,
		TotalEarnings: d.TotalEarnings,
		InvoiceLimit:  d.InvoiceLimit,
		ReferredBy:    d.ReferredBy,
		PixKey:        d.PixKey,
		AvatarPath:    d.AvatarPath,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.InvoiceDueDay != nil {
		day := int(*d.InvoiceDueDay)
		p.InvoiceDueDay = &day
	}
	return p
}

type nicknameDocument struct {
	ProfileID string    `firestore:"profileId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

type productDocument struct {
	OwnerID        string    `firestore:"ownerId"`
	Name           string    `firestore:"name"`
	MaterialID     string    `firestore:"materialId"`
	WidthMM        float64   `firestore:"widthMm"`
	HeightMM       float64   `firestore:"heightMm"`
	PriceType      string    `firestore:"priceType"`
	CalculatedCost int64     `firestore:"calculatedCost"`
	FixedCost      *int64    `firestore:"fixedCost"`
	FinalPrice     int64     `firestore:"finalPrice"`
	CommissionRate *float64  `firestore:"commissionRate"`
	Status         string    `firestore:"status"`
	ImagePath      string    `firestore:"imagePath"`
	PDFURL         string    `firestore:"pdfUrl"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(p domain.Product) productDocument {
	return productDocument{
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		MaterialID:     p.MaterialID,
		WidthMM:        p.WidthMM,
		HeightMM:       p.HeightMM,
		PriceType:      string(p.PriceType),
		CalculatedCost: p.CalculatedCost,
		FixedCost:      p.FixedCost,
		FinalPrice:     p.FinalPrice,
		CommissionRate: p.CommissionRate,
		Status:         string(p.Status),
		ImagePath:      p.ImagePath,
		PDFURL:         p.PDFURL,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		OwnerID:        d.OwnerID,
		Name:           d.Name,
		MaterialID:     d.MaterialID,
		WidthMM:        d.WidthMM,
		HeightMM:       d.HeightMM,
		PriceType:      domain.PriceType(d.PriceType),
		CalculatedCost: d.CalculatedCost,
		FixedCost:      d.FixedCost,
		FinalPrice:     d.FinalPrice,
		CommissionRate: d.CommissionRate,
		Status:         domain.ProductStatus(d.Status),
		ImagePath:      d.ImagePath,
		PDFURL:         d.PDFURL,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type materialDocument struct {
	Name       string    `firestore:"name"`
	PricePerM2 int64     `firestore:"pricePerM2"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type statusChangeDocument struct {
	From    string    `firestore:"from"`
	To      string    `firestore:"to"`
	ActorID string    `firestore:"actorId"`
	Reason  string    `firestore:"reason,omitempty"`
	At      time.Time `firestore:"at"`
}

type orderDocument struct {
	UserID              string                 `firestore:"userId"`
	ProductID           string                 `firestore:"productId"`
	Quantity            int64                  `firestore:"quantity"`
	Amount              int64                  `firestore:"amount"`
	PaymentMethod       string                 `firestore:"paymentMethod"`
	Status              string                 `firestore:"status"`
	RejectionReason     string                 `firestore:"rejectionReason"`
	PaymentPreferenceID string                 `firestore:"paymentPreferenceId"`
	PaymentProvider     string                 `firestore:"paymentProvider"`
	CreatedAt           time.Time              `firestore:"createdAt"`
	UpdatedAt           time.Time              `firestore:"updatedAt"`
	PaidAt              *time.Time             `firestore:"paidAt"`
	StatusHistory       []statusChangeDocument `firestore:"statusHistory"`
}

func fromDomainOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:              o.UserID,
		ProductID:           o.ProductID,
		Quantity:            int64(o.Quantity),
		Amount:              o.Amount,
		PaymentMethod:       string(o.PaymentMethod),
		Status:              string(o.Status),
		RejectionReason:     o.RejectionReason,
		PaymentPreferenceID: o.PaymentPreferenceID,
		PaymentProvider:     o.PaymentProvider,
		CreatedAt:           o.CreatedAt.UTC(),
		UpdatedAt:           o.UpdatedAt.UTC(),
		PaidAt:              utcPtr(o.PaidAt),
	}
	for _, change := range o.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			From:    string(change.From),
			To:      string(change.To),
			ActorID: change.ActorID,
			Reason:  change.Reason,
			At:      change.At.UTC(),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	o := domain.Order{
		ID:                  id,
		UserID:              d.UserID,
		ProductID:           d.ProductID,
		Quantity:            int(d.Quantity),
		Amount:              d.Amount,
		PaymentMethod:       domain.PaymentMethod(d.PaymentMethod),
		Status:              domain.OrderStatus(d.Status),
		RejectionReason:     d.RejectionReason,
		PaymentPreferenceID: d.PaymentPreferenceID,
		PaymentProvider:     d.PaymentProvider,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
		PaidAt:              d.PaidAt,
	}
	for _, change := range d.StatusHistory {
		o.StatusHistory = append(o.StatusHistory, domain.OrderStatusChange{
			From:    domain.OrderStatus(change.From),
			To:      domain.OrderStatus(change.To),
			ActorID: change.ActorID,
			Reason:  change.Reason,
			At:      change.At,
		})
	}
	return o
}

// commissionDocument is stored under the order id so one order can credit at most once.
type commissionDocument struct {
	CommissionID string    `firestore:"commissionId"`
	AffiliateID  string    `firestore:"affiliateId"`
	BuyerID      string    `firestore:"buyerId"`
	Amount       int64     `firestore:"amount"`
	Rate         float64   `firestore:"rate"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func fromDomainCommission(c domain.Commission) commissionDocument {
	return commissionDocument{
		CommissionID: c.ID,
		AffiliateID:  c.AffiliateID,
		BuyerID:      c.BuyerID,
		Amount:       c.Amount,
		Rate:         c.Rate,
		CreatedAt:    c.CreatedAt.UTC(),
	}
}

func (d commissionDocument) toDomain(orderID string) domain.Commission {
	return domain.Commission{
		ID:          d.CommissionID,
		AffiliateID: d.AffiliateID,
		OrderID:     orderID,
		BuyerID:     d.BuyerID,
		Amount:      d.Amount,
		Rate:        d.Rate,
		CreatedAt:   d.CreatedAt,
	}
}

type withdrawalDocument struct {
	UserID     string     `firestore:"userId"`
	Amount     int64      `firestore:"amount"`
	PixKey     string     `firestore:"pixKey"`
	Status     string     `firestore:"status"`
	Reason     string     `firestore:"reason"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	ResolvedAt *time.Time `firestore:"resolvedAt"`
	ResolvedBy string     `firestore:"resolvedBy"`
}

func fromDomainWithdrawal(w domain.Withdrawal) withdrawalDocument {
	return withdrawalDocument{
		UserID:     w.UserID,
		Amount:     w.Amount,
		PixKey:     w.PixKey,
		Status:     string(w.Status),
		Reason:     w.Reason,
		CreatedAt:  w.CreatedAt.UTC(),
		ResolvedAt: utcPtr(w.ResolvedAt),
		ResolvedBy: w.ResolvedBy,
	}
}

func (d withdrawalDocument) toDomain(id string) domain.Withdrawal {
	return domain.Withdrawal{
		ID:         id,
		UserID:     d.UserID,
		Amount:     d.Amount,
		PixKey:     d.PixKey,
		Status:     domain.WithdrawalStatus(d.Status),
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
		ResolvedAt: d.ResolvedAt,
		ResolvedBy: d.ResolvedBy,
	}
}

type ledgerEntryDocument struct {
	ProfileID     string    `firestore:"profileId"`
	Kind          string    `firestore:"kind"`
	BalanceDelta  int64     `firestore:"balanceDelta"`
	EarningsDelta int64     `firestore:"earningsDelta"`
	OrderID       string    `firestore:"orderId,omitempty"`
	WithdrawalID  string    `firestore:"withdrawalId,omitempty"`
	CommissionID  string    `firestore:"commissionId,omitempty"`
	ActorID       string    `firestore:"actorId"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func fromDomainEntry(e domain.LedgerEntry) ledgerEntryDocument {
	return ledgerEntryDocument{
		ProfileID:     e.ProfileID,
		Kind:          string(e.Kind),
		BalanceDelta:  e.BalanceDelta,
		EarningsDelta: e.EarningsDelta,
		OrderID:       e.OrderID,
		WithdrawalID:  e.WithdrawalID,
		CommissionID:  e.CommissionID,
		ActorID:       e.ActorID,
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

func (d ledgerEntryDocument) toDomain(id string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:            id,
		ProfileID:     d.ProfileID,
		Kind:          domain.LedgerEntryKind(d.Kind),
		BalanceDelta:  d.BalanceDelta,
		EarningsDelta: d.EarningsDelta,
		OrderID:       d.OrderID,
		WithdrawalID:  d.WithdrawalID,
		CommissionID:  d.CommissionID,
		ActorID:       d.ActorID,
		CreatedAt:     d.CreatedAt,
	}
}

type notificationDocument struct {
	UserID    string    `firestore:"userId"`
	Title     string    `firestore:"title"`
	Message   string    `firestore:"message"`
	Type      string    `firestore:"type"`
	Read      bool      `firestore:"read"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type siteSettingsDocument struct {
	HeroTitle         string            `firestore:"heroTitle"`
	HeroSubtitle      string            `firestore:"heroSubtitle"`
	VideoURL          string            `firestore:"videoUrl"`
	CTALink           string            `firestore:"ctaLink"`
	DropshippingTitle string            `firestore:"dropshippingTitle"`
	DropshippingBody  string            `firestore:"dropshippingBody"`
	FooterLinks       map[string]string `firestore:"footerLinks"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
	UpdatedBy         string            `firestore:"updatedBy"`
}

func fromDomainSiteSettings(s domain.SiteSettings) siteSettingsDocument {
	return siteSettingsDocument{
		HeroTitle:         s.HeroTitle,
		HeroSubtitle:      s.HeroSubtitle,
		VideoURL:          s.VideoURL,
		CTALink:           s.CTALink,
		DropshippingTitle: s.DropshippingTitle,
		DropshippingBody:  s.DropshippingBody,
		FooterLinks: map[string]string{
			"facebook":  s.FooterLinks.Facebook,
			"instagram": s.FooterLinks.Instagram,
			"youtube":   s.FooterLinks.YouTube,
			"terms":     s.FooterLinks.Terms,
			"privacy":   s.FooterLinks.Privacy,
			"support":   s.FooterLinks.Support,
		},
		UpdatedAt: s.UpdatedAt.UTC(),
		UpdatedBy: s.UpdatedBy,
	}
}

func (d siteSettingsDocument) toDomain() domain.SiteSettings {
	return domain.SiteSettings{
		HeroTitle:         d.HeroTitle,
		HeroSubtitle:      d.HeroSubtitle,
		VideoURL:          d.VideoURL,
		CTALink:           d.CTALink,
		DropshippingTitle: d.DropshippingTitle,
		DropshippingBody:  d.DropshippingBody,
		FooterLinks: domain.FooterLinks{
			Facebook:  d.FooterLinks["facebook"],
			Instagram: d.FooterLinks["instagram"],
			YouTube:   d.FooterLinks["youtube"],
			Terms:     d.FooterLinks["terms"],
			Privacy:   d.FooterLinks["privacy"],
			Support:   d.FooterLinks["support"],
		},
		UpdatedAt: d.UpdatedAt,
		UpdatedBy: d.UpdatedBy,
	}
}

type siteAssetDocument struct {
	Type      string    `firestore:"type"`
	URL       string    `firestore:"url"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Severity  string         `firestore:"severity"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	UserAgent string         `firestore:"userAgent,omitempty"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
