package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/rede-afiliados/api/internal/domain"
	pstorage "github.com/rede-afiliados/api/internal/platform/storage"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	productIDPrefix      = "prd_"
	maxProductNameLength = 160
)

var (
	// ErrProductInvalidInput signals the caller provided invalid data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product or its material could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductInvalidState indicates the moderation action does not apply.
	ErrProductInvalidState = errors.New("product: invalid moderation state")
	// ErrProductForbidden indicates the caller does not own the product.
	ErrProductForbidden = errors.New("product: forbidden")
	// ErrProductInUse indicates orders still reference the product.
	ErrProductInUse = errors.New("product: referenced by orders")
	// ErrProductUploadUnavailable indicates object storage is not configured.
	ErrProductUploadUnavailable = errors.New("product: uploads unavailable")
)

// UploadSigner issues signed direct-to-bucket upload URLs.
type UploadSigner interface {
	SignUpload(ctx context.Context, purpose pstorage.AssetPurpose, params pstorage.PathParams, contentType string) (SignedUpload, error)
}

// ProductServiceDeps bundles collaborators for the product service.
type ProductServiceDeps struct {
	Products    repositories.ProductRepository
	Materials   repositories.MaterialRepository
	Orders      repositories.OrderRepository
	Uploads     UploadSigner
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products  repositories.ProductRepository
	materials repositories.MaterialRepository
	orders    repositories.OrderRepository
	uploads   UploadSigner
	audit     AuditLogService
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewProductService constructs the product registration and moderation service.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil || deps.Materials == nil || deps.Orders == nil {
		return nil, errors.New("product service: product, material and order repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &productService{
		products:  deps.Products,
		materials: deps.Materials,
		orders:    deps.Orders,
		uploads:   deps.Uploads,
		audit:     deps.Audit,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Register prices and stores a new product awaiting moderation.
func (s *productService) Register(ctx context.Context, cmd RegisterProductCommand) (Product, error) {
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" {
		return Product{}, fmt.Errorf("%w: owner is required", ErrProductInvalidInput)
	}
	now := s.clock()
	product := Product{
		ID:        productIDPrefix + s.newID(),
		OwnerID:   ownerID,
		Status:    domain.ProductStatusPending,
		CreatedAt: now,
	}
	if err := s.applyDetails(ctx, &product, cmd); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = now
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "product.registered", map[string]any{
		"productId":  product.ID,
		"ownerId":    ownerID,
		"finalPrice": product.FinalPrice,
	})
	return product, nil
}

// Update reprices the product from the submitted fields. An approved product
// edited by its owner goes back to pending moderation.
func (s *productService) Update(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	product, err := s.ownedProduct(ctx, cmd.ProductID, cmd.ActorID, cmd.IsAdmin)
	if err != nil {
		return Product{}, err
	}
	before := product
	if err := s.applyDetails(ctx, &product, cmd.RegisterProductCommand); err != nil {
		return Product{}, err
	}
	if !cmd.IsAdmin && product.Status == domain.ProductStatusApproved {
		product.Status = domain.ProductStatusPending
	}
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "product.updated", map[string]any{
		"productId":  product.ID,
		"actorId":    cmd.ActorID,
		"finalPrice": product.FinalPrice,
		"status":     string(product.Status),
		"resubmit":   before.Status != product.Status,
	})
	return product, nil
}

// Delete removes a product unless an order already references it.
func (s *productService) Delete(ctx context.Context, cmd DeleteProductCommand) error {
	product, err := s.ownedProduct(ctx, cmd.ProductID, cmd.ActorID, cmd.IsAdmin)
	if err != nil {
		return err
	}
	orders, err := s.orders.CountByProduct(ctx, product.ID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if orders > 0 {
		return fmt.Errorf("%w: %d orders", ErrProductInUse, orders)
	}
	if err := s.products.Delete(ctx, product.ID); err != nil {
		return s.mapRepositoryError(err)
	}
	if s.audit != nil && cmd.IsAdmin {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    "product.delete",
			TargetRef: "products/" + product.ID,
		})
	}
	s.logger(ctx, "product.deleted", map[string]any{"productId": product.ID, "actorId": cmd.ActorID})
	return nil
}

func (s *productService) ownedProduct(ctx context.Context, productID, actorID string, isAdmin bool) (Product, error) {
	productID = strings.TrimSpace(productID)
	actorID = strings.TrimSpace(actorID)
	if productID == "" || actorID == "" {
		return Product{}, fmt.Errorf("%w: product id and actor are required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if !isAdmin && product.OwnerID != actorID {
		return Product{}, ErrProductForbidden
	}
	return product, nil
}

// applyDetails validates the editable fields and prices them into product.
// An omitted commission rate keeps the current one.
func (s *productService) applyDetails(ctx context.Context, product *Product, cmd RegisterProductCommand) error {
	name := sanitizeText(cmd.Name, maxProductNameLength)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	priceType := domain.PriceType(strings.ToLower(strings.TrimSpace(string(cmd.PriceType))))
	if priceType == "" {
		priceType = domain.PriceTypeMeter
	}
	if priceType != domain.PriceTypeMeter && priceType != domain.PriceTypeFixed {
		return fmt.Errorf("%w: price type must be meter or fixed", ErrProductInvalidInput)
	}
	rate := domain.DefaultCommissionRate
	switch {
	case cmd.CommissionRate != nil:
		rate = *cmd.CommissionRate
	case product.CommissionRate != nil:
		rate = *product.CommissionRate
	}
	if err := domain.ValidateCommissionRate(rate); err != nil {
		return fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
	}

	var material Material
	if materialID := strings.TrimSpace(cmd.MaterialID); materialID != "" {
		found, err := s.materials.FindByID(ctx, materialID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		material = found
	} else if priceType == domain.PriceTypeMeter {
		return fmt.Errorf("%w: material is required for meter pricing", ErrProductInvalidInput)
	}

	pricing, err := domain.PriceProduct(priceType, cmd.WidthMM, cmd.HeightMM, material, cmd.FixedCost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
	}

	product.Name = name
	product.MaterialID = material.ID
	product.WidthMM = cmd.WidthMM
	product.HeightMM = cmd.HeightMM
	product.PriceType = priceType
	product.CalculatedCost = pricing.CalculatedCost
	product.FixedCost = cmd.FixedCost
	product.FinalPrice = pricing.FinalPrice
	product.CommissionRate = &rate
	product.ImagePath = strings.TrimSpace(cmd.ImagePath)
	product.PDFURL = strings.TrimSpace(cmd.PDFURL)
	return nil
}

func (s *productService) Get(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *productService) List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Status:     filter.Status,
		OwnerID:    strings.TrimSpace(filter.OwnerID),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Approve publishes a pending or rejected product, optionally setting its rate.
func (s *productService) Approve(ctx context.Context, cmd ModerateProductCommand) (Product, error) {
	return s.moderate(ctx, cmd, "product.approve", func(product *Product) error {
		if product.Status == domain.ProductStatusApproved && cmd.CommissionRate == nil {
			return fmt.Errorf("%w: product already approved", ErrProductInvalidState)
		}
		product.Status = domain.ProductStatusApproved
		return applyCommissionRate(product, cmd.CommissionRate)
	})
}

func (s *productService) Reject(ctx context.Context, cmd ModerateProductCommand) (Product, error) {
	return s.moderate(ctx, cmd, "product.reject", func(product *Product) error {
		if product.Status == domain.ProductStatusRejected {
			return fmt.Errorf("%w: product already rejected", ErrProductInvalidState)
		}
		product.Status = domain.ProductStatusRejected
		return nil
	})
}

func (s *productService) SetCommissionRate(ctx context.Context, cmd ModerateProductCommand) (Product, error) {
	if cmd.CommissionRate == nil {
		return Product{}, fmt.Errorf("%w: commission rate is required", ErrProductInvalidInput)
	}
	return s.moderate(ctx, cmd, "product.commission_rate", func(product *Product) error {
		return applyCommissionRate(product, cmd.CommissionRate)
	})
}

func (s *productService) moderate(ctx context.Context, cmd ModerateProductCommand, action string, mutate func(*Product) error) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	before := product
	if err := mutate(&product); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    action,
			TargetRef: "products/" + product.ID,
			Diff: map[string]AuditLogDiff{
				"status":         {Before: string(before.Status), After: string(product.Status)},
				"commissionRate": {Before: rateValue(before.CommissionRate), After: rateValue(product.CommissionRate)},
			},
		})
	}
	return product, nil
}

func (s *productService) ImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (SignedUpload, error) {
	if s.uploads == nil {
		return SignedUpload{}, ErrProductUploadUnavailable
	}
	ownerID := strings.TrimSpace(cmd.OwnerID)
	if ownerID == "" || strings.TrimSpace(cmd.FileName) == "" {
		return SignedUpload{}, fmt.Errorf("%w: owner and file name are required", ErrProductInvalidInput)
	}
	purpose := pstorage.PurposeProductImage
	if strings.EqualFold(strings.TrimSpace(cmd.ContentType), "application/pdf") {
		purpose = pstorage.PurposeProductPDF
	}
	upload, err := s.uploads.SignUpload(ctx, purpose, pstorage.PathParams{
		OwnerID:  ownerID,
		UploadID: s.newID(),
		FileName: cmd.FileName,
	}, cmd.ContentType)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
	}
	return upload, nil
}

func applyCommissionRate(product *Product, rate *float64) error {
	if rate == nil {
		return nil
	}
	if err := domain.ValidateCommissionRate(*rate); err != nil {
		return fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
	}
	value := *rate
	product.CommissionRate = &value
	return nil
}

func rateValue(rate *float64) any {
	if rate == nil {
		return nil
	}
	return *rate
}

func (s *productService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("product: repository unavailable: %w", err)
		}
	}
	return err
}
