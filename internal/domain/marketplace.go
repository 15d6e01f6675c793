package domain

import "time"

// Role identifies the dashboard persona for a profile.
type Role string

const (
	RoleAffiliate Role = "affiliate"
	RoleAdmin     Role = "admin"
)

// ProductStatus tracks the moderation gate for marketplace visibility.
type ProductStatus string

const (
	ProductStatusPending  ProductStatus = "pending"
	ProductStatusApproved ProductStatus = "approved"
	ProductStatusRejected ProductStatus = "rejected"
)

// PriceType selects how a product's final price is derived.
type PriceType string

const (
	// PriceTypeMeter prices by area using the material's price per square metre.
	PriceTypeMeter PriceType = "meter"
	// PriceTypeFixed uses the fixed cost supplied by the owner.
	PriceTypeFixed PriceType = "fixed"
)

// Profile is the per-identity account carrying the affiliate's running balance.
// Money fields are integer centavos.
type Profile struct {
	ID            string
	Email         string
	FullName      string
	Nickname      string
	ReferralCode  string
	Role          Role
	Balance       int64
	TotalEarnings int64
	InvoiceLimit  *int64
	InvoiceDueDay *int
	ReferredBy    string
	PixKey        string
	AvatarPath    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin reports whether the profile holds the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// EffectiveInvoiceLimit returns the configured credit limit or the platform default.
func (p Profile) EffectiveInvoiceLimit() int64 {
	if p.InvoiceLimit == nil {
		return DefaultInvoiceLimit
	}
	return *p.InvoiceLimit
}

// EffectiveInvoiceDueDay returns the configured due day or the platform default.
func (p Profile) EffectiveInvoiceDueDay() int {
	if p.InvoiceDueDay == nil || *p.InvoiceDueDay < 1 || *p.InvoiceDueDay > 31 {
		return DefaultInvoiceDueDay
	}
	return *p.InvoiceDueDay
}

// Product is an affiliate-registered item sold through the marketplace.
type Product struct {
	ID             string
	OwnerID        string
	Name           string
	MaterialID     string
	WidthMM        float64
	HeightMM       float64
	PriceType      PriceType
	CalculatedCost int64
	FixedCost      *int64
	FinalPrice     int64
	CommissionRate *float64
	Status         ProductStatus
	ImagePath      string
	PDFURL         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Material is a priced substrate products are made from.
type Material struct {
	ID         string
	Name       string
	PricePerM2 int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NotificationType drives the tone used when rendering a notification.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
)

// Notification is an in-app message addressed to one profile.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      NotificationType
	Read      bool
	CreatedAt time.Time
}

// FooterLinks lists the landing page footer destinations.
type FooterLinks struct {
	Facebook  string
	Instagram string
	YouTube   string
	Terms     string
	Privacy   string
	Support   string
}

// SiteSettings holds the editable public landing page content.
type SiteSettings struct {
	HeroTitle         string
	HeroSubtitle      string
	VideoURL          string
	CTALink           string
	DropshippingTitle string
	DropshippingBody  string
	FooterLinks       FooterLinks
	UpdatedAt         time.Time
	UpdatedBy         string
}

// SiteAsset is an image shown on the landing page gallery.
type SiteAsset struct {
	ID        string
	Type      string
	URL       string
	CreatedAt time.Time
}
