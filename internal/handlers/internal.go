package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rede-afiliados/api/internal/services"
)

type balanceDriftPayload struct {
	ProfileID      string `json:"profile_id"`
	StoredBalance  int64  `json:"stored_balance"`
	LedgerBalance  int64  `json:"ledger_balance"`
	StoredEarnings int64  `json:"stored_earnings"`
	LedgerEarnings int64  `json:"ledger_earnings"`
}

type reconciliationPayload struct {
	CheckedProfiles int                   `json:"checked_profiles"`
	Drifts          []balanceDriftPayload `json:"drifts"`
	JournalDrifts   []balanceDriftPayload `json:"journal_drifts"`
	GeneratedAt     string                `json:"generated_at"`
}

// InternalHandlers serves endpoints invoked by Cloud Scheduler and other service accounts.
type InternalHandlers struct {
	reconciler services.LedgerReconciler
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(reconciler services.LedgerReconciler) *InternalHandlers {
	return &InternalHandlers{reconciler: reconciler}
}

// Routes registers the /internal endpoints. Authentication is applied by the group middleware.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/ledger:reconcile", h.reconcile)
}

func (h *InternalHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeUnavailable(ctx, w, "ledger_reconciler")
		return
	}
	report, err := h.reconciler.Reconcile(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconciliationPayload{
		CheckedProfiles: report.CheckedProfiles,
		Drifts:          buildDriftPayloads(report.Drifts),
		JournalDrifts:   buildDriftPayloads(report.JournalDrifts),
		GeneratedAt:     formatTime(report.GeneratedAt),
	})
}

func buildDriftPayloads(drifts []services.BalanceDrift) []balanceDriftPayload {
	out := make([]balanceDriftPayload, 0, len(drifts))
	for _, d := range drifts {
		out = append(out, balanceDriftPayload{
			ProfileID:      d.ProfileID,
			StoredBalance:  d.StoredBalance,
			LedgerBalance:  d.LedgerBalance,
			StoredEarnings: d.StoredEarnings,
			LedgerEarnings: d.LedgerEarnings,
		})
	}
	return out
}
