package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

var (
	// ErrAdminUserInvalidInput signals the caller provided invalid data.
	ErrAdminUserInvalidInput = errors.New("admin user: invalid input")
	// ErrAdminUserNotFound indicates the profile could not be located.
	ErrAdminUserNotFound = errors.New("admin user: not found")
	// ErrAdminUserInvalidState indicates the user cannot be changed in its current state.
	ErrAdminUserInvalidState = errors.New("admin user: invalid state")
)

// IdentityAdmin manages the authentication-side user record.
// *firebase.google.com/go/v4/auth.Client satisfies it.
type IdentityAdmin interface {
	DeleteUser(ctx context.Context, uid string) error
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
}

// AdminUserServiceDeps bundles collaborators for the admin user service.
type AdminUserServiceDeps struct {
	Profiles   repositories.ProfileRepository
	Products   repositories.ProductRepository
	Identities IdentityAdmin
	Audit      AuditLogService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type adminUserService struct {
	profiles   repositories.ProfileRepository
	products   repositories.ProductRepository
	identities IdentityAdmin
	audit      AuditLogService
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewAdminUserService constructs the admin user management service.
func NewAdminUserService(deps AdminUserServiceDeps) (AdminUserService, error) {
	if deps.Profiles == nil || deps.Products == nil {
		return nil, errors.New("admin user service: profile and product repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &adminUserService{
		profiles:   deps.Profiles,
		products:   deps.Products,
		identities: deps.Identities,
		audit:      deps.Audit,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (s *adminUserService) List(ctx context.Context, filter AdminUserFilter) (domain.CursorPage[Profile], error) {
	page, err := s.profiles.List(ctx, repositories.ProfileListFilter{Role: filter.Role, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[Profile]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *adminUserService) SetInvoiceLimit(ctx context.Context, cmd SetInvoiceLimitCommand) (Profile, error) {
	if cmd.Limit < 0 {
		return Profile{}, fmt.Errorf("%w: invoice limit cannot be negative", ErrAdminUserInvalidInput)
	}
	limit := cmd.Limit
	return s.update(ctx, cmd.UserID, cmd.ActorID, "profile.invoice_limit", repositories.ProfileSettingsUpdate{InvoiceLimit: &limit},
		func(before, after Profile) map[string]AuditLogDiff {
			return map[string]AuditLogDiff{"invoiceLimit": {Before: before.EffectiveInvoiceLimit(), After: after.EffectiveInvoiceLimit()}}
		})
}

func (s *adminUserService) SetInvoiceDueDay(ctx context.Context, cmd SetInvoiceDueDayCommand) (Profile, error) {
	if cmd.DueDay < 1 || cmd.DueDay > 31 {
		return Profile{}, fmt.Errorf("%w: due day must be between 1 and 31", ErrAdminUserInvalidInput)
	}
	day := cmd.DueDay
	return s.update(ctx, cmd.UserID, cmd.ActorID, "profile.invoice_due_day", repositories.ProfileSettingsUpdate{InvoiceDueDay: &day},
		func(before, after Profile) map[string]AuditLogDiff {
			return map[string]AuditLogDiff{"invoiceDueDay": {Before: before.EffectiveInvoiceDueDay(), After: after.EffectiveInvoiceDueDay()}}
		})
}

// SetRole stores the role on the profile and mirrors it into the identity's custom claims.
func (s *adminUserService) SetRole(ctx context.Context, cmd SetRoleCommand) (Profile, error) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(string(cmd.Role))))
	if role != domain.RoleAffiliate && role != domain.RoleAdmin {
		return Profile{}, fmt.Errorf("%w: role must be affiliate or admin", ErrAdminUserInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == strings.TrimSpace(cmd.ActorID) && role != domain.RoleAdmin {
		return Profile{}, fmt.Errorf("%w: admins cannot demote themselves", ErrAdminUserInvalidState)
	}
	profile, err := s.update(ctx, cmd.UserID, cmd.ActorID, "profile.role", repositories.ProfileSettingsUpdate{Role: &role},
		func(before, after Profile) map[string]AuditLogDiff {
			return map[string]AuditLogDiff{"role": {Before: string(before.Role), After: string(after.Role)}}
		})
	if err != nil {
		return Profile{}, err
	}
	if s.identities != nil {
		if err := s.identities.SetCustomUserClaims(ctx, profile.ID, map[string]interface{}{"role": string(role)}); err != nil {
			s.logger(ctx, "admin.user.claims.failed", map[string]any{"userId": profile.ID, "error": err.Error()})
		}
	}
	return profile, nil
}

// Delete removes the profile and its identity. Users that still own products are refused.
func (s *adminUserService) Delete(ctx context.Context, cmd DeleteUserCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrAdminUserInvalidInput)
	}
	if userID == strings.TrimSpace(cmd.ActorID) {
		return fmt.Errorf("%w: admins cannot delete themselves", ErrAdminUserInvalidState)
	}
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	owned, err := s.products.CountByOwner(ctx, userID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if owned > 0 {
		return fmt.Errorf("%w: user owns %d products", ErrAdminUserInvalidState, owned)
	}
	if err := s.profiles.Delete(ctx, userID); err != nil {
		return s.mapRepositoryError(err)
	}
	if s.identities != nil {
		if err := s.identities.DeleteUser(ctx, userID); err != nil {
			return fmt.Errorf("admin user: delete identity %s: %w", userID, err)
		}
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "admin",
			Action:    "profile.delete",
			TargetRef: "profiles/" + userID,
			Severity:  "warn",
			Metadata:  map[string]any{"email": profile.Email, "balance": profile.Balance},
		})
	}
	return nil
}

func (s *adminUserService) update(ctx context.Context, userID, actorID, action string, update repositories.ProfileSettingsUpdate, diff func(before, after Profile) map[string]AuditLogDiff) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrAdminUserInvalidInput)
	}
	before, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return Profile{}, s.mapRepositoryError(err)
	}
	update.UpdatedAt = s.clock()
	after, err := s.profiles.UpdateSettings(ctx, userID, update)
	if err != nil {
		return Profile{}, s.mapRepositoryError(err)
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     actorID,
			ActorType: "admin",
			Action:    action,
			TargetRef: "profiles/" + userID,
			Diff:      diff(before, after),
		})
	}
	return after, nil
}

func (s *adminUserService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrAdminUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAdminUserInvalidState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("admin user: repository unavailable: %w", err)
		}
	}
	return err
}
