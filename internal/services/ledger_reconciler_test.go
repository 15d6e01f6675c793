package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories/memory"
)

type stubJournalTotals struct {
	totals map[string]domain.LedgerTotals
	err    error
}

func (s *stubJournalTotals) Record(context.Context, []LedgerEntry) error { return nil }

func (s *stubJournalTotals) TotalsByProfile(context.Context) (map[string]domain.LedgerTotals, error) {
	return s.totals, s.err
}

func TestLedgerReconcilerCleanAfterLedgerOperations(t *testing.T) {
	f := newOrderFixture(t)
	f.seedReferral(t, ratePtr(20))
	ctx := context.Background()
	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusPaid, ActorID: "admin"}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	reconciler, err := NewLedgerReconciler(LedgerReconcilerDeps{
		Profiles: f.store.Profiles(),
		Entries:  f.store.LedgerEntries(),
		Journal:  &stubJournalTotals{totals: map[string]domain.LedgerTotals{"referrer": {Balance: 200_00, TotalEarnings: 200_00, Entries: 1}}},
		Clock:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.CheckedProfiles != 2 {
		t.Fatalf("expected 2 profiles checked, got %d", report.CheckedProfiles)
	}
	if len(report.Drifts) != 0 || len(report.JournalDrifts) != 0 {
		t.Fatalf("expected no drift, got %+v / %+v", report.Drifts, report.JournalDrifts)
	}
}

func TestLedgerReconcilerReportsDrift(t *testing.T) {
	store := memory.NewStore()
	store.PutProfile(domain.Profile{ID: "aff_1", Balance: 50_00, TotalEarnings: 50_00})
	logs := &captureLogger{}
	reconciler, err := NewLedgerReconciler(LedgerReconcilerDeps{
		Profiles: store.Profiles(),
		Entries:  store.LedgerEntries(),
		Journal:  &stubJournalTotals{totals: map[string]domain.LedgerTotals{"ghost": {Balance: 10}}},
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	report, err := reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Drifts) != 1 {
		t.Fatalf("expected one drift, got %+v", report.Drifts)
	}
	drift := report.Drifts[0]
	if drift.ProfileID != "aff_1" || drift.StoredBalance != 50_00 || drift.LedgerBalance != 0 {
		t.Fatalf("unexpected drift %+v", drift)
	}
	if len(report.JournalDrifts) != 1 || report.JournalDrifts[0].ProfileID != "ghost" || report.JournalDrifts[0].StoredBalance != 10 {
		t.Fatalf("unexpected journal drift %+v", report.JournalDrifts)
	}
	if logs.events[0] != "ledger.reconcile.drift" {
		t.Fatalf("expected drift log first, got %v", logs.events)
	}
}

func TestLedgerReconcilerJournalFailure(t *testing.T) {
	store := memory.NewStore()
	boom := errors.New("journal down")
	reconciler, err := NewLedgerReconciler(LedgerReconcilerDeps{
		Profiles: store.Profiles(),
		Entries:  store.LedgerEntries(),
		Journal:  &stubJournalTotals{err: boom},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	if _, err := reconciler.Reconcile(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected journal error, got %v", err)
	}
}
