package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/httpx"
	"github.com/rede-afiliados/api/internal/services"
)

type registerProductRequest struct {
	Name           string   `json:"name"`
	MaterialID     string   `json:"material_id"`
	WidthMM        float64  `json:"width_mm"`
	HeightMM       float64  `json:"height_mm"`
	PriceType      string   `json:"price_type"`
	FixedCost      *int64   `json:"fixed_cost"`
	CommissionRate *float64 `json:"commission_rate"`
	ImagePath      string   `json:"image_path"`
	PDFURL         string   `json:"pdf_url"`
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type productPayload struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id,omitempty"`
	Name           string   `json:"name"`
	MaterialID     string   `json:"material_id,omitempty"`
	WidthMM        float64  `json:"width_mm"`
	HeightMM       float64  `json:"height_mm"`
	PriceType      string   `json:"price_type"`
	CalculatedCost int64    `json:"calculated_cost"`
	FixedCost      *int64   `json:"fixed_cost,omitempty"`
	FinalPrice     int64    `json:"final_price"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	Status         string   `json:"status"`
	ImagePath      string   `json:"image_path,omitempty"`
	PDFURL         string   `json:"pdf_url,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type materialPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PricePerM2 int64  `json:"price_per_m2"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type signedUploadPayload struct {
	ObjectPath string            `json:"object_path"`
	UploadURL  string            `json:"upload_url"`
	PublicURL  string            `json:"public_url,omitempty"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

// ProductHandlers lets affiliates register products and browse materials.
type ProductHandlers struct {
	authn     *auth.Authenticator
	products  services.ProductService
	materials services.MaterialService
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(authn *auth.Authenticator, products services.ProductService, materials services.MaterialService) *ProductHandlers {
	return &ProductHandlers{authn: authn, products: products, materials: materials}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.registerProduct)
	r.Get("/", h.listMyProducts)
	r.Post("/images:upload-url", h.imageUploadURL)
	r.Get("/{productID}", h.getProduct)
	r.Put("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
}

// MaterialRoutes registers the read-only /materials endpoints.
func (h *ProductHandlers) MaterialRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listMaterials)
}

func (h *ProductHandlers) registerProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req registerProductRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd := req.command()
	cmd.OwnerID = identity.EffectiveUID()
	product, err := h.products.Register(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product, true))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req registerProductRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	product, err := h.products.Update(ctx, services.UpdateProductCommand{
		ProductID:              strings.TrimSpace(chi.URLParam(r, "productID")),
		ActorID:                identity.EffectiveUID(),
		IsAdmin:                isAdminActor(identity),
		RegisterProductCommand: req.command(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	err := h.products.Delete(ctx, services.DeleteProductCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		ActorID:   identity.EffectiveUID(),
		IsAdmin:   isAdminActor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req registerProductRequest) command() services.RegisterProductCommand {
	return services.RegisterProductCommand{
		Name:           req.Name,
		MaterialID:     strings.TrimSpace(req.MaterialID),
		WidthMM:        req.WidthMM,
		HeightMM:       req.HeightMM,
		PriceType:      domain.PriceType(req.PriceType),
		FixedCost:      req.FixedCost,
		CommissionRate: req.CommissionRate,
		ImagePath:      strings.TrimSpace(req.ImagePath),
		PDFURL:         strings.TrimSpace(req.PDFURL),
	}
}

// isAdminActor reports an admin acting as themselves; delegated sessions act as the subject.
func isAdminActor(identity *auth.Identity) bool {
	return identity.HasRole(auth.RoleAdmin) && !identity.IsDelegated()
}

func (h *ProductHandlers) listMyProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	filter, ok := parseProductFilter(w, r)
	if !ok {
		return
	}
	filter.OwnerID = identity.EffectiveUID()

	page, err := h.products.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductList(page, true))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		writeBadRequest(ctx, w, "product id is required")
		return
	}

	product, err := h.products.Get(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	owner := product.OwnerID == identity.EffectiveUID()
	if !owner && product.Status != domain.ProductStatusApproved {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, owner))
}

func (h *ProductHandlers) imageUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req uploadURLRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	upload, err := h.products.ImageUploadURL(ctx, services.ProductImageUploadCommand{
		OwnerID:     identity.EffectiveUID(),
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSignedUploadPayload(upload))
}

func (h *ProductHandlers) listMaterials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.materials == nil {
		writeUnavailable(ctx, w, "material")
		return
	}
	materials, err := h.materials.List(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": buildMaterialPayloads(materials)})
}

// parseProductFilter reads the optional status filter and paging parameters.
func parseProductFilter(w http.ResponseWriter, r *http.Request) (services.ProductListFilter, bool) {
	ctx := r.Context()
	var filter services.ProductListFilter
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		status := domain.ProductStatus(raw)
		switch status {
		case domain.ProductStatusPending, domain.ProductStatusApproved, domain.ProductStatusRejected:
			filter.Status = &status
		default:
			writeBadRequest(ctx, w, "status must be pending, approved or rejected")
			return filter, false
		}
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return filter, false
	}
	filter.Pagination = pager
	return filter, true
}

func buildProductList(page domain.CursorPage[services.Product], detailed bool) productListResponse {
	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product, detailed))
	}
	return productListResponse{Items: items, NextPageToken: page.NextPageToken}
}

// buildProductPayload hides cost details unless detailed is set.
func buildProductPayload(product services.Product, detailed bool) productPayload {
	payload := productPayload{
		ID:         product.ID,
		Name:       product.Name,
		WidthMM:    product.WidthMM,
		HeightMM:   product.HeightMM,
		PriceType:  string(product.PriceType),
		FinalPrice: product.FinalPrice,
		Status:     string(product.Status),
		ImagePath:  product.ImagePath,
		CreatedAt:  formatTime(product.CreatedAt),
	}
	if detailed {
		payload.OwnerID = product.OwnerID
		payload.MaterialID = product.MaterialID
		payload.CalculatedCost = product.CalculatedCost
		payload.FixedCost = product.FixedCost
		payload.CommissionRate = product.CommissionRate
		payload.PDFURL = product.PDFURL
		payload.UpdatedAt = formatTime(product.UpdatedAt)
	}
	return payload
}

func buildMaterialPayloads(materials []services.Material) []materialPayload {
	out := make([]materialPayload, 0, len(materials))
	for _, m := range materials {
		out = append(out, buildMaterialPayload(m))
	}
	return out
}

func buildMaterialPayload(m services.Material) materialPayload {
	return materialPayload{
		ID:         m.ID,
		Name:       m.Name,
		PricePerM2: m.PricePerM2,
		CreatedAt:  formatTime(m.CreatedAt),
		UpdatedAt:  formatTime(m.UpdatedAt),
	}
}

func buildSignedUploadPayload(upload services.SignedUpload) signedUploadPayload {
	return signedUploadPayload{
		ObjectPath: upload.ObjectPath,
		UploadURL:  upload.URL,
		PublicURL:  upload.PublicURL,
		Method:     upload.Method,
		Headers:    upload.Headers,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	}
}
