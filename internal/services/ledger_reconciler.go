package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const reconcilePageSize = 200

// LedgerReconcilerDeps bundles collaborators for the ledger reconciler.
type LedgerReconcilerDeps struct {
	Profiles repositories.ProfileRepository
	Entries  repositories.LedgerEntryRepository
	// Journal is the optional secondary mirror compared against the primary entries.
	Journal LedgerJournal
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type ledgerReconciler struct {
	profiles repositories.ProfileRepository
	entries  repositories.LedgerEntryRepository
	journal  LedgerJournal
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewLedgerReconciler constructs the balance drift checker.
func NewLedgerReconciler(deps LedgerReconcilerDeps) (LedgerReconciler, error) {
	if deps.Profiles == nil || deps.Entries == nil {
		return nil, errors.New("ledger reconciler: profile and ledger entry repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &ledgerReconciler{
		profiles: deps.Profiles,
		entries:  deps.Entries,
		journal:  deps.Journal,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Reconcile compares every profile's stored balance and earnings with the fold
// of its ledger entries. It reports drift and never repairs it.
func (r *ledgerReconciler) Reconcile(ctx context.Context) (ReconciliationReport, error) {
	totals, err := r.entries.TotalsByProfile(ctx)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("ledger reconciler: fold entries: %w", err)
	}
	report := ReconciliationReport{GeneratedAt: r.clock()}

	token := ""
	for {
		page, err := r.profiles.List(ctx, repositories.ProfileListFilter{
			Pagination: Pagination{PageSize: reconcilePageSize, PageToken: token},
		})
		if err != nil {
			return ReconciliationReport{}, fmt.Errorf("ledger reconciler: list profiles: %w", err)
		}
		for _, profile := range page.Items {
			report.CheckedProfiles++
			folded := totals[profile.ID]
			if folded.Balance == profile.Balance && folded.TotalEarnings == profile.TotalEarnings {
				continue
			}
			drift := BalanceDrift{
				ProfileID:      profile.ID,
				StoredBalance:  profile.Balance,
				LedgerBalance:  folded.Balance,
				StoredEarnings: profile.TotalEarnings,
				LedgerEarnings: folded.TotalEarnings,
			}
			report.Drifts = append(report.Drifts, drift)
			r.logger(ctx, "ledger.reconcile.drift", map[string]any{
				"profileId":      drift.ProfileID,
				"storedBalance":  drift.StoredBalance,
				"ledgerBalance":  drift.LedgerBalance,
				"storedEarnings": drift.StoredEarnings,
				"ledgerEarnings": drift.LedgerEarnings,
			})
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if r.journal != nil {
		mirrored, err := r.journal.TotalsByProfile(ctx)
		if err != nil {
			return ReconciliationReport{}, fmt.Errorf("ledger reconciler: fold journal: %w", err)
		}
		report.JournalDrifts = compareTotals(totals, mirrored)
		for _, drift := range report.JournalDrifts {
			r.logger(ctx, "ledger.reconcile.journal_drift", map[string]any{
				"profileId":      drift.ProfileID,
				"ledgerBalance":  drift.LedgerBalance,
				"journalBalance": drift.StoredBalance,
			})
		}
	}

	r.logger(ctx, "ledger.reconcile.completed", map[string]any{
		"checked":       report.CheckedProfiles,
		"drifts":        len(report.Drifts),
		"journalDrifts": len(report.JournalDrifts),
	})
	return report, nil
}

// compareTotals lists profiles whose mirror totals differ from the primary
// fold. Stored fields carry the mirror values.
func compareTotals(primary, mirror map[string]domain.LedgerTotals) []BalanceDrift {
	ids := make(map[string]struct{}, len(primary)+len(mirror))
	for id := range primary {
		ids[id] = struct{}{}
	}
	for id := range mirror {
		ids[id] = struct{}{}
	}
	var drifts []BalanceDrift
	for id := range ids {
		want, got := primary[id], mirror[id]
		if want.Balance == got.Balance && want.TotalEarnings == got.TotalEarnings {
			continue
		}
		drifts = append(drifts, BalanceDrift{
			ProfileID:      id,
			StoredBalance:  got.Balance,
			LedgerBalance:  want.Balance,
			StoredEarnings: got.TotalEarnings,
			LedgerEarnings: want.TotalEarnings,
		})
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ProfileID < drifts[j].ProfileID })
	return drifts
}
