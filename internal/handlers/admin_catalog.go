package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/services"
)

type moderateProductRequest struct {
	CommissionRate *float64 `json:"commission_rate"`
}

type upsertMaterialRequest struct {
	Name       string `json:"name"`
	PricePerM2 int64  `json:"price_per_m2"`
}

type sendNotificationRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type saveSiteSettingsRequest struct {
	HeroTitle         string             `json:"hero_title"`
	HeroSubtitle      string             `json:"hero_subtitle"`
	VideoURL          string             `json:"video_url"`
	CTALink           string             `json:"cta_link"`
	DropshippingTitle string             `json:"dropshipping_title"`
	DropshippingBody  string             `json:"dropshipping_body"`
	FooterLinks       footerLinksPayload `json:"footer_links"`
}

type addSiteAssetRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	filter, ok := parseProductFilter(w, r)
	if !ok {
		return
	}
	filter.OwnerID = strings.TrimSpace(r.URL.Query().Get("owner_id"))

	page, err := h.products.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductList(page, true))
}

func (h *AdminHandlers) approveProduct(w http.ResponseWriter, r *http.Request) {
	h.moderateProduct(w, r, h.productsApprove, false)
}

func (h *AdminHandlers) rejectProduct(w http.ResponseWriter, r *http.Request) {
	h.moderateProduct(w, r, h.productsReject, false)
}

func (h *AdminHandlers) setCommissionRate(w http.ResponseWriter, r *http.Request) {
	h.moderateProduct(w, r, h.productsSetRate, true)
}

func (h *AdminHandlers) productsApprove(r *http.Request, cmd services.ModerateProductCommand) (services.Product, error) {
	return h.products.Approve(r.Context(), cmd)
}

func (h *AdminHandlers) productsReject(r *http.Request, cmd services.ModerateProductCommand) (services.Product, error) {
	return h.products.Reject(r.Context(), cmd)
}

func (h *AdminHandlers) productsSetRate(r *http.Request, cmd services.ModerateProductCommand) (services.Product, error) {
	return h.products.SetCommissionRate(r.Context(), cmd)
}

func (h *AdminHandlers) moderateProduct(w http.ResponseWriter, r *http.Request, apply func(*http.Request, services.ModerateProductCommand) (services.Product, error), bodyRequired bool) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req moderateProductRequest
	if bodyRequired || r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}
	}
	if bodyRequired && req.CommissionRate == nil {
		writeBadRequest(ctx, w, "commission_rate is required")
		return
	}

	product, err := apply(r, services.ModerateProductCommand{
		ProductID:      chi.URLParam(r, "productID"),
		ActorID:        actorID(identity),
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *AdminHandlers) listMaterials(w http.ResponseWriter, r *http.Request) {
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

func (h *AdminHandlers) createMaterial(w http.ResponseWriter, r *http.Request) {
	h.upsertMaterial(w, r, "")
}

func (h *AdminHandlers) updateMaterial(w http.ResponseWriter, r *http.Request) {
	materialID := strings.TrimSpace(chi.URLParam(r, "materialID"))
	if materialID == "" {
		writeBadRequest(r.Context(), w, "material id is required")
		return
	}
	h.upsertMaterial(w, r, materialID)
}

func (h *AdminHandlers) upsertMaterial(w http.ResponseWriter, r *http.Request, materialID string) {
	ctx := r.Context()
	if h.materials == nil {
		writeUnavailable(ctx, w, "material")
		return
	}
	var req upsertMaterialRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	cmd := services.UpsertMaterialCommand{ID: materialID, Name: req.Name, PricePerM2: req.PricePerM2}

	var (
		material services.Material
		err      error
		status   = http.StatusOK
	)
	if materialID == "" {
		material, err = h.materials.Create(ctx, cmd)
		status = http.StatusCreated
	} else {
		material, err = h.materials.Update(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildMaterialPayload(material))
}

func (h *AdminHandlers) deleteMaterial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.materials == nil {
		writeUnavailable(ctx, w, "material")
		return
	}
	if err := h.materials.Delete(ctx, chi.URLParam(r, "materialID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) sendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		writeUnavailable(ctx, w, "notification")
		return
	}
	var req sendNotificationRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	notification, err := h.notifications.Send(ctx, services.SendNotificationCommand{
		UserID:  strings.TrimSpace(req.UserID),
		Title:   req.Title,
		Message: req.Message,
		Type:    domain.NotificationType(strings.ToLower(strings.TrimSpace(req.Type))),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildNotificationPayload(notification))
}

func (h *AdminHandlers) saveSiteSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.site == nil {
		writeUnavailable(ctx, w, "site")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req saveSiteSettingsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	rendered, err := h.site.SaveSettings(ctx, services.SaveSiteSettingsCommand{
		ActorID: actorID(identity),
		Settings: domain.SiteSettings{
			HeroTitle:         req.HeroTitle,
			HeroSubtitle:      req.HeroSubtitle,
			VideoURL:          req.VideoURL,
			CTALink:           req.CTALink,
			DropshippingTitle: req.DropshippingTitle,
			DropshippingBody:  req.DropshippingBody,
			FooterLinks: domain.FooterLinks{
				Facebook:  req.FooterLinks.Facebook,
				Instagram: req.FooterLinks.Instagram,
				YouTube:   req.FooterLinks.YouTube,
				Terms:     req.FooterLinks.Terms,
				Privacy:   req.FooterLinks.Privacy,
				Support:   req.FooterLinks.Support,
			},
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSiteSettingsPayload(rendered))
}

func (h *AdminHandlers) addSiteAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.site == nil {
		writeUnavailable(ctx, w, "site")
		return
	}
	var req addSiteAssetRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	asset, err := h.site.AddAsset(ctx, services.AddSiteAssetCommand{Type: req.Type, URL: req.URL})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSiteAssetPayloads([]services.SiteAsset{asset})[0])
}

func (h *AdminHandlers) deleteSiteAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.site == nil {
		writeUnavailable(ctx, w, "site")
		return
	}
	if err := h.site.DeleteAsset(ctx, chi.URLParam(r, "assetID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
