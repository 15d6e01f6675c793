package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories/memory"
)

type stubIdentityAdmin struct {
	deleted   []string
	claims    map[string]map[string]interface{}
	deleteErr error
}

func (s *stubIdentityAdmin) DeleteUser(_ context.Context, uid string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, uid)
	return nil
}

func (s *stubIdentityAdmin) SetCustomUserClaims(_ context.Context, uid string, claims map[string]interface{}) error {
	if s.claims == nil {
		s.claims = map[string]map[string]interface{}{}
	}
	s.claims[uid] = claims
	return nil
}

type adminUserFixture struct {
	store      *memory.Store
	svc        AdminUserService
	identities *stubIdentityAdmin
	audit      *captureAudit
}

func newAdminUserFixture(t *testing.T) adminUserFixture {
	t.Helper()
	store := memory.NewStore()
	f := adminUserFixture{store: store, identities: &stubIdentityAdmin{}, audit: &captureAudit{}}
	svc, err := NewAdminUserService(AdminUserServiceDeps{
		Profiles:   store.Profiles(),
		Products:   store.Products(),
		Identities: f.identities,
		Audit:      f.audit,
		Clock:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new admin user service: %v", err)
	}
	f.svc = svc
	store.PutProfile(domain.Profile{ID: "admin_1", Role: domain.RoleAdmin})
	store.PutProfile(domain.Profile{ID: "aff_1", Role: domain.RoleAffiliate, Email: "aff@example.com"})
	return f
}

func TestAdminUserServiceInvoiceSettings(t *testing.T) {
	f := newAdminUserFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetInvoiceLimit(ctx, SetInvoiceLimitCommand{UserID: "aff_1", ActorID: "admin_1", Limit: -1}); !errors.Is(err, ErrAdminUserInvalidInput) {
		t.Fatalf("expected invalid input for negative limit, got %v", err)
	}
	profile, err := f.svc.SetInvoiceLimit(ctx, SetInvoiceLimitCommand{UserID: "aff_1", ActorID: "admin_1", Limit: 0})
	if err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if profile.EffectiveInvoiceLimit() != 0 {
		t.Fatalf("expected zero limit to be honoured, got %d", profile.EffectiveInvoiceLimit())
	}

	for _, day := range []int{0, 32} {
		if _, err := f.svc.SetInvoiceDueDay(ctx, SetInvoiceDueDayCommand{UserID: "aff_1", ActorID: "admin_1", DueDay: day}); !errors.Is(err, ErrAdminUserInvalidInput) {
			t.Fatalf("expected invalid input for day %d, got %v", day, err)
		}
	}
	profile, err = f.svc.SetInvoiceDueDay(ctx, SetInvoiceDueDayCommand{UserID: "aff_1", ActorID: "admin_1", DueDay: 31})
	if err != nil {
		t.Fatalf("set due day: %v", err)
	}
	if profile.EffectiveInvoiceDueDay() != 31 {
		t.Fatalf("expected due day 31, got %d", profile.EffectiveInvoiceDueDay())
	}

	if len(f.audit.records) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(f.audit.records))
	}
	limitDiff := f.audit.records[0].Diff["invoiceLimit"]
	if limitDiff.Before != domain.DefaultInvoiceLimit || limitDiff.After != int64(0) {
		t.Fatalf("unexpected limit diff %+v", limitDiff)
	}
}

func TestAdminUserServiceSetRoleMirrorsClaims(t *testing.T) {
	f := newAdminUserFixture(t)
	ctx := context.Background()

	profile, err := f.svc.SetRole(ctx, SetRoleCommand{UserID: "aff_1", ActorID: "admin_1", Role: "ADMIN"})
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if profile.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", profile.Role)
	}
	if got := f.identities.claims["aff_1"]["role"]; got != "admin" {
		t.Fatalf("expected role claim, got %v", got)
	}

	if _, err := f.svc.SetRole(ctx, SetRoleCommand{UserID: "admin_1", ActorID: "admin_1", Role: domain.RoleAffiliate}); !errors.Is(err, ErrAdminUserInvalidState) {
		t.Fatalf("expected self-demotion refusal, got %v", err)
	}
	if _, err := f.svc.SetRole(ctx, SetRoleCommand{UserID: "aff_1", ActorID: "admin_1", Role: "staff"}); !errors.Is(err, ErrAdminUserInvalidInput) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestAdminUserServiceDeleteRefusesProductOwners(t *testing.T) {
	f := newAdminUserFixture(t)
	ctx := context.Background()
	if err := f.store.Products().Insert(ctx, domain.Product{ID: "prd_1", OwnerID: "aff_1"}); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if err := f.svc.Delete(ctx, DeleteUserCommand{UserID: "aff_1", ActorID: "admin_1"}); !errors.Is(err, ErrAdminUserInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(f.identities.deleted) != 0 {
		t.Fatalf("identity must not be deleted, got %v", f.identities.deleted)
	}
}

func TestAdminUserServiceDeleteRemovesProfileAndIdentity(t *testing.T) {
	f := newAdminUserFixture(t)
	ctx := context.Background()

	if err := f.svc.Delete(ctx, DeleteUserCommand{UserID: "aff_1", ActorID: "admin_1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.Profiles().FindByID(ctx, "aff_1"); err == nil {
		t.Fatalf("expected profile to be removed")
	}
	if len(f.identities.deleted) != 1 || f.identities.deleted[0] != "aff_1" {
		t.Fatalf("expected identity deletion, got %v", f.identities.deleted)
	}
	if len(f.audit.records) != 1 || f.audit.records[0].Action != "profile.delete" {
		t.Fatalf("expected delete audit, got %+v", f.audit.records)
	}

	if err := f.svc.Delete(ctx, DeleteUserCommand{UserID: "aff_1", ActorID: "admin_1"}); !errors.Is(err, ErrAdminUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.svc.Delete(ctx, DeleteUserCommand{UserID: "admin_1", ActorID: "admin_1"}); !errors.Is(err, ErrAdminUserInvalidState) {
		t.Fatalf("expected self-delete refusal, got %v", err)
	}
}

func TestAdminUserServiceListByRole(t *testing.T) {
	f := newAdminUserFixture(t)
	role := domain.RoleAdmin

	page, err := f.svc.List(context.Background(), AdminUserFilter{Role: &role})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "admin_1" {
		t.Fatalf("unexpected admins %+v", page.Items)
	}
}
