package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	defaultDelegationTTL = 15 * time.Minute
	maxDelegationTTL     = time.Hour
)

var (
	// ErrImpersonationInvalidInput signals the caller provided invalid data.
	ErrImpersonationInvalidInput = errors.New("impersonation: invalid input")
	// ErrImpersonationNotFound indicates the target profile does not exist.
	ErrImpersonationNotFound = errors.New("impersonation: target not found")
	// ErrImpersonationForbidden indicates the target may not be impersonated.
	ErrImpersonationForbidden = errors.New("impersonation: forbidden target")
)

// DelegationIssuer signs delegation tokens.
type DelegationIssuer interface {
	IssueDelegation(actorID, subjectID string, scopes []string, ttl time.Duration) (string, time.Time, error)
}

// ImpersonationServiceDeps bundles collaborators for the impersonation service.
type ImpersonationServiceDeps struct {
	Profiles repositories.ProfileRepository
	Issuer   DelegationIssuer
	Audit    AuditLogService
	Logger   func(ctx context.Context, event string, fields map[string]any)
	// DefaultTTL applies when a request names no TTL; MaxTTL caps requested TTLs.
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type impersonationService struct {
	profiles   repositories.ProfileRepository
	issuer     DelegationIssuer
	audit      AuditLogService
	logger     func(context.Context, string, map[string]any)
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// NewImpersonationService constructs the delegation token service.
func NewImpersonationService(deps ImpersonationServiceDeps) (ImpersonationService, error) {
	if deps.Profiles == nil || deps.Issuer == nil {
		return nil, errors.New("impersonation service: profile repository and issuer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	defaultTTL := deps.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = defaultDelegationTTL
	}
	maxTTL := deps.MaxTTL
	if maxTTL <= 0 {
		maxTTL = maxDelegationTTL
	}
	if defaultTTL > maxTTL {
		return nil, errors.New("impersonation service: default ttl exceeds max ttl")
	}
	return &impersonationService{
		profiles:   deps.Profiles,
		issuer:     deps.Issuer,
		audit:      deps.Audit,
		logger:     logger,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
	}, nil
}

// Start issues a token letting the admin act as an affiliate within a reduced scope.
func (s *impersonationService) Start(ctx context.Context, cmd StartImpersonationCommand) (ImpersonationGrant, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	targetID := strings.TrimSpace(cmd.TargetID)
	if actorID == "" || targetID == "" {
		return ImpersonationGrant{}, fmt.Errorf("%w: actor and target are required", ErrImpersonationInvalidInput)
	}
	if actorID == targetID {
		return ImpersonationGrant{}, fmt.Errorf("%w: cannot impersonate yourself", ErrImpersonationForbidden)
	}
	scopes, err := normalizeScopes(cmd.Scopes)
	if err != nil {
		return ImpersonationGrant{}, err
	}
	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		return ImpersonationGrant{}, fmt.Errorf("%w: ttl exceeds %s", ErrImpersonationInvalidInput, s.maxTTL)
	}

	target, err := s.profiles.FindByID(ctx, targetID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ImpersonationGrant{}, fmt.Errorf("%w: %v", ErrImpersonationNotFound, err)
		}
		return ImpersonationGrant{}, err
	}
	if target.IsAdmin() {
		return ImpersonationGrant{}, fmt.Errorf("%w: admins cannot be impersonated", ErrImpersonationForbidden)
	}

	token, expiresAt, err := s.issuer.IssueDelegation(actorID, targetID, scopes, ttl)
	if err != nil {
		return ImpersonationGrant{}, fmt.Errorf("impersonation: issue token: %w", err)
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     actorID,
			ActorType: "admin",
			Action:    "impersonation.start",
			TargetRef: "profiles/" + targetID,
			Severity:  "warn",
			IPAddress: cmd.IP,
			Metadata:  map[string]any{"scopes": strings.Join(scopes, ","), "expiresAt": expiresAt},
		})
	}
	s.logger(ctx, "impersonation.started", map[string]any{"actorId": actorID, "targetId": targetID, "scopes": scopes})
	return ImpersonationGrant{
		Token:     token,
		TargetID:  targetID,
		ActorID:   actorID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, nil
}

func normalizeScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(domain.DelegationScopes), nil
	}
	out := make([]string, 0, len(requested))
	for _, raw := range requested {
		scope := strings.ToLower(strings.TrimSpace(raw))
		if !slices.Contains(domain.DelegationScopes, scope) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrImpersonationInvalidInput, raw)
		}
		if !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	return out, nil
}
