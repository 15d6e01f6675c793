package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/services"
)

type footerLinksPayload struct {
	Facebook  string `json:"facebook,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
	Terms     string `json:"terms,omitempty"`
	Privacy   string `json:"privacy,omitempty"`
	Support   string `json:"support,omitempty"`
}

type siteSettingsPayload struct {
	HeroTitle         string             `json:"hero_title"`
	HeroSubtitle      string             `json:"hero_subtitle"`
	VideoURL          string             `json:"video_url,omitempty"`
	CTALink           string             `json:"cta_link,omitempty"`
	DropshippingTitle string             `json:"dropshipping_title,omitempty"`
	DropshippingBody  string             `json:"dropshipping_body,omitempty"`
	DropshippingHTML  string             `json:"dropshipping_html,omitempty"`
	FooterLinks       footerLinksPayload `json:"footer_links"`
	Meta              map[string]any     `json:"meta,omitempty"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
}

type siteAssetPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// PublicHandlers serves unauthenticated landing page and catalogue reads.
type PublicHandlers struct {
	site     services.SiteService
	products services.ProductService
}

// NewPublicHandlers constructs public handlers.
func NewPublicHandlers(site services.SiteService, products services.ProductService) *PublicHandlers {
	return &PublicHandlers{site: site, products: products}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/site", h.siteSettings)
	r.Get("/site/assets", h.siteAssets)
	r.Get("/products", h.listProducts)
}

func (h *PublicHandlers) siteSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.site == nil {
		writeUnavailable(ctx, w, "site")
		return
	}
	rendered, err := h.site.Settings(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, buildSiteSettingsPayload(rendered))
}

func (h *PublicHandlers) siteAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.site == nil {
		writeUnavailable(ctx, w, "site")
		return
	}
	assets, err := h.site.ListAssets(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if kind := strings.TrimSpace(r.URL.Query().Get("type")); kind != "" {
		filtered := assets[:0]
		for _, asset := range assets {
			if strings.EqualFold(asset.Type, kind) {
				filtered = append(filtered, asset)
			}
		}
		assets = filtered
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": buildSiteAssetPayloads(assets)})
}

func (h *PublicHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	pager, err := pageFromRequest(r)
	if err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	approved := domain.ProductStatusApproved
	page, err := h.products.List(ctx, services.ProductListFilter{Status: &approved, Pagination: pager})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductList(page, false))
}

func buildSiteSettingsPayload(rendered services.RenderedSiteSettings) siteSettingsPayload {
	s := rendered.Settings
	return siteSettingsPayload{
		HeroTitle:         s.HeroTitle,
		HeroSubtitle:      s.HeroSubtitle,
		VideoURL:          s.VideoURL,
		CTALink:           s.CTALink,
		DropshippingTitle: s.DropshippingTitle,
		DropshippingBody:  s.DropshippingBody,
		DropshippingHTML:  rendered.DropshippingHTML,
		FooterLinks: footerLinksPayload{
			Facebook:  s.FooterLinks.Facebook,
			Instagram: s.FooterLinks.Instagram,
			YouTube:   s.FooterLinks.YouTube,
			Terms:     s.FooterLinks.Terms,
			Privacy:   s.FooterLinks.Privacy,
			Support:   s.FooterLinks.Support,
		},
		Meta:      rendered.Meta,
		UpdatedAt: formatTime(s.UpdatedAt),
	}
}

func buildSiteAssetPayloads(assets []services.SiteAsset) []siteAssetPayload {
	out := make([]siteAssetPayload, 0, len(assets))
	for _, asset := range assets {
		out = append(out, siteAssetPayload{
			ID:        asset.ID,
			Type:      asset.Type,
			URL:       asset.URL,
			CreatedAt: formatTime(asset.CreatedAt),
		})
	}
	return out
}
