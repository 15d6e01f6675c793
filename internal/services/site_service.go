package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	siteAssetIDPrefix  = "ast_"
	defaultAssetType   = "gallery"
	maxSiteTitleLength = 200
	maxSiteBodyLength  = 20000
)

var (
	// ErrSiteInvalidInput signals the caller provided invalid data.
	ErrSiteInvalidInput = errors.New("site: invalid input")
	// ErrSiteNotFound indicates the asset could not be located.
	ErrSiteNotFound = errors.New("site: not found")
)

// SiteServiceDeps bundles collaborators for the landing page service.
type SiteServiceDeps struct {
	Site        repositories.SiteRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type siteService struct {
	site     repositories.SiteRepository
	audit    AuditLogService
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	clock    func() time.Time
	newID    func() string
}

// NewSiteService constructs the landing page content service.
func NewSiteService(deps SiteServiceDeps) (SiteService, error) {
	if deps.Site == nil {
		return nil, errors.New("site service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &siteService{
		site:     deps.Site,
		audit:    deps.Audit,
		markdown: goldmark.New(),
		policy:   newSiteHTMLPolicy(),
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
	}, nil
}

func newSiteHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Settings returns the landing page content. Unconfigured sites render empty.
func (s *siteService) Settings(ctx context.Context) (RenderedSiteSettings, error) {
	settings, err := s.site.GetSettings(ctx)
	if err != nil {
		if repositories.IsNotFound(err) {
			return RenderedSiteSettings{}, nil
		}
		return RenderedSiteSettings{}, fmt.Errorf("site: load settings: %w", err)
	}
	return s.render(settings)
}

func (s *siteService) SaveSettings(ctx context.Context, cmd SaveSiteSettingsCommand) (RenderedSiteSettings, error) {
	settings := cmd.Settings
	settings.HeroTitle = sanitizeText(settings.HeroTitle, maxSiteTitleLength)
	settings.HeroSubtitle = sanitizeText(settings.HeroSubtitle, maxSiteTitleLength)
	settings.DropshippingTitle = sanitizeText(settings.DropshippingTitle, maxSiteTitleLength)
	settings.DropshippingBody = strings.TrimSpace(settings.DropshippingBody)
	if len(settings.DropshippingBody) > maxSiteBodyLength {
		return RenderedSiteSettings{}, fmt.Errorf("%w: body exceeds %d bytes", ErrSiteInvalidInput, maxSiteBodyLength)
	}
	links := map[string]*string{
		"videoUrl":  &settings.VideoURL,
		"ctaLink":   &settings.CTALink,
		"facebook":  &settings.FooterLinks.Facebook,
		"instagram": &settings.FooterLinks.Instagram,
		"youtube":   &settings.FooterLinks.YouTube,
		"terms":     &settings.FooterLinks.Terms,
		"privacy":   &settings.FooterLinks.Privacy,
		"support":   &settings.FooterLinks.Support,
	}
	for field, value := range links {
		normalized, err := normalizeLink(*value)
		if err != nil {
			return RenderedSiteSettings{}, fmt.Errorf("%w: %s: %v", ErrSiteInvalidInput, field, err)
		}
		*value = normalized
	}

	rendered, err := s.render(settings)
	if err != nil {
		return RenderedSiteSettings{}, err
	}
	settings.UpdatedAt = s.clock()
	settings.UpdatedBy = strings.TrimSpace(cmd.ActorID)
	if err := s.site.SaveSettings(ctx, settings); err != nil {
		return RenderedSiteSettings{}, fmt.Errorf("site: save settings: %w", err)
	}
	rendered.Settings = settings
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    "site.settings.save",
			TargetRef: "site/settings",
		})
	}
	return rendered, nil
}

func (s *siteService) ListAssets(ctx context.Context) ([]SiteAsset, error) {
	assets, err := s.site.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("site: list assets: %w", err)
	}
	return assets, nil
}

func (s *siteService) AddAsset(ctx context.Context, cmd AddSiteAssetCommand) (SiteAsset, error) {
	link, err := normalizeLink(cmd.URL)
	if err != nil {
		return SiteAsset{}, fmt.Errorf("%w: url: %v", ErrSiteInvalidInput, err)
	}
	if link == "" {
		return SiteAsset{}, fmt.Errorf("%w: url is required", ErrSiteInvalidInput)
	}
	kind := strings.ToLower(strings.TrimSpace(cmd.Type))
	if kind == "" {
		kind = defaultAssetType
	}
	asset := SiteAsset{
		ID:        siteAssetIDPrefix + s.newID(),
		Type:      kind,
		URL:       link,
		CreatedAt: s.clock(),
	}
	if err := s.site.InsertAsset(ctx, asset); err != nil {
		return SiteAsset{}, fmt.Errorf("site: insert asset: %w", err)
	}
	return asset, nil
}

func (s *siteService) DeleteAsset(ctx context.Context, assetID string) error {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return fmt.Errorf("%w: asset id is required", ErrSiteInvalidInput)
	}
	if err := s.site.DeleteAsset(ctx, assetID); err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("%w: %v", ErrSiteNotFound, err)
		}
		return fmt.Errorf("site: delete asset: %w", err)
	}
	return nil
}

// render converts the markdown body into sanitized HTML. A leading YAML front
// matter block is parsed into Meta and stripped from the output.
func (s *siteService) render(settings SiteSettings) (RenderedSiteSettings, error) {
	out := RenderedSiteSettings{Settings: settings}
	front, body := splitFrontMatter(settings.DropshippingBody)
	if strings.TrimSpace(front) != "" {
		meta := map[string]any{}
		if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
			return RenderedSiteSettings{}, fmt.Errorf("%w: front matter: %v", ErrSiteInvalidInput, err)
		}
		out.Meta = meta
	}
	if strings.TrimSpace(body) == "" {
		return out, nil
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(body), &buf); err != nil {
		return RenderedSiteSettings{}, fmt.Errorf("%w: markdown: %v", ErrSiteInvalidInput, err)
	}
	out.DropshippingHTML = s.policy.Sanitize(buf.String())
	return out, nil
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n\r")
		}
	}
	return "", input
}

func normalizeLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("scheme %q not allowed", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("host is required")
	}
	return parsed.String(), nil
}
