package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

const withdrawalIDPrefix = "wdr_"

var (
	// ErrWithdrawalInvalidInput signals the caller provided invalid data.
	ErrWithdrawalInvalidInput = errors.New("withdrawal: invalid input")
	// ErrWithdrawalNotFound indicates the withdrawal could not be located.
	ErrWithdrawalNotFound = errors.New("withdrawal: not found")
	// ErrWithdrawalInvalidState indicates the withdrawal was already resolved.
	ErrWithdrawalInvalidState = errors.New("withdrawal: not pending")
	// ErrWithdrawalInsufficientBalance indicates the available balance is below the minimum.
	ErrWithdrawalInsufficientBalance = errors.New("withdrawal: available balance below minimum")
	// ErrWithdrawalConflict indicates concurrent modification.
	ErrWithdrawalConflict = errors.New("withdrawal: conflict")
)

// WithdrawalServiceDeps bundles collaborators for the withdrawal service.
type WithdrawalServiceDeps struct {
	Ledger      repositories.LedgerRepository
	Withdrawals repositories.WithdrawalRepository
	Notifier    WithdrawalNotifier
	Audit       AuditLogService
	Events      LedgerEventPublisher
	Journal     LedgerJournal
	Metrics     LedgerMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type withdrawalService struct {
	ledger      repositories.LedgerRepository
	withdrawals repositories.WithdrawalRepository
	notifier    WithdrawalNotifier
	audit       AuditLogService
	hooks       ledgerHooks
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewWithdrawalService constructs the payout request service.
func NewWithdrawalService(deps WithdrawalServiceDeps) (WithdrawalService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("withdrawal service: ledger repository is required")
	}
	if deps.Withdrawals == nil {
		return nil, errors.New("withdrawal service: withdrawal repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &withdrawalService{
		ledger:      deps.Ledger,
		withdrawals: deps.Withdrawals,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		hooks: ledgerHooks{
			events:  deps.Events,
			journal: deps.Journal,
			metrics: deps.Metrics,
			logger:  logger,
		},
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Request holds the caller's entire available balance for payout.
func (s *withdrawalService) Request(ctx context.Context, cmd RequestWithdrawalCommand) (Withdrawal, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Withdrawal{}, fmt.Errorf("%w: user id is required", ErrWithdrawalInvalidInput)
	}
	now := s.clock()
	withdrawalID := withdrawalIDPrefix + s.newID()

	var (
		created Withdrawal
		entry   LedgerEntry
	)
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		profile, err := tx.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		pixKey := strings.TrimSpace(cmd.PixKey)
		if pixKey == "" {
			pixKey = strings.TrimSpace(profile.PixKey)
		}
		if pixKey == "" {
			return fmt.Errorf("%w: pix key is required", ErrWithdrawalInvalidInput)
		}

		open, err := tx.ListOpenInvoiceOrders(ctx, userID)
		if err != nil {
			return err
		}
		available := domain.AvailableBalance(profile.Balance, domain.OpenInvoiceDebt(open))
		if available < domain.MinimumWithdrawal {
			return fmt.Errorf("%w: available %d, minimum %d", ErrWithdrawalInsufficientBalance, available, domain.MinimumWithdrawal)
		}

		created = Withdrawal{
			ID:        withdrawalID,
			UserID:    userID,
			Amount:    available,
			PixKey:    pixKey,
			Status:    domain.WithdrawalStatusPending,
			CreatedAt: now,
		}
		if err := tx.InsertWithdrawal(ctx, created); err != nil {
			return err
		}
		entry = LedgerEntry{
			ID:           domain.HoldEntryID(created.ID),
			ProfileID:    userID,
			Kind:         domain.LedgerEntryPayoutHold,
			BalanceDelta: -available,
			WithdrawalID: created.ID,
			ActorID:      userID,
			CreatedAt:    now,
		}
		return applyLedgerEntry(ctx, tx, &profile, entry)
	})
	if err != nil {
		return Withdrawal{}, s.mapRepositoryError(err)
	}

	s.hooks.committed(ctx, []LedgerEntry{entry})
	s.hooks.publish(ctx, LedgerEvent{
		Type:          ledgerEventWithdrawalCreated,
		WithdrawalID:  created.ID,
		ProfileID:     userID,
		ActorID:       userID,
		CurrentStatus: string(created.Status),
		Amount:        created.Amount,
		OccurredAt:    now,
	})
	return created, nil
}

// Approve marks a pending withdrawal as paid out. Funds were already held at request time.
func (s *withdrawalService) Approve(ctx context.Context, cmd ResolveWithdrawalCommand) (Withdrawal, error) {
	return s.resolve(ctx, cmd, domain.WithdrawalStatusApproved)
}

// Reject refunds a pending withdrawal onto the affiliate's current balance.
func (s *withdrawalService) Reject(ctx context.Context, cmd ResolveWithdrawalCommand) (Withdrawal, error) {
	return s.resolve(ctx, cmd, domain.WithdrawalStatusRejected)
}

func (s *withdrawalService) resolve(ctx context.Context, cmd ResolveWithdrawalCommand, target domain.WithdrawalStatus) (Withdrawal, error) {
	withdrawalID := strings.TrimSpace(cmd.WithdrawalID)
	if withdrawalID == "" {
		return Withdrawal{}, fmt.Errorf("%w: withdrawal id is required", ErrWithdrawalInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	now := s.clock()

	var (
		resolved Withdrawal
		entries  []LedgerEntry
	)
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		entries = nil
		withdrawal, err := tx.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if withdrawal.Status != domain.WithdrawalStatusPending {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrWithdrawalInvalidState, withdrawalID, withdrawal.Status)
		}

		var profile Profile
		if target == domain.WithdrawalStatusRejected {
			profile, err = tx.GetProfile(ctx, withdrawal.UserID)
			if err != nil {
				return err
			}
		}

		withdrawal.Status = target
		withdrawal.Reason = sanitizeText(cmd.Reason, maxRejectionReasonLength)
		withdrawal.ResolvedAt = &now
		withdrawal.ResolvedBy = actor
		if err := tx.UpdateWithdrawal(ctx, withdrawal); err != nil {
			return err
		}
		resolved = withdrawal

		if target != domain.WithdrawalStatusRejected {
			return nil
		}
		entry := LedgerEntry{
			ID:           domain.RefundEntryID(withdrawal.ID),
			ProfileID:    withdrawal.UserID,
			Kind:         domain.LedgerEntryPayoutRefund,
			BalanceDelta: withdrawal.Amount,
			WithdrawalID: withdrawal.ID,
			ActorID:      actor,
			CreatedAt:    now,
		}
		entries = append(entries, entry)
		return applyLedgerEntry(ctx, tx, &profile, entry)
	})
	if err != nil {
		return Withdrawal{}, s.mapRepositoryError(err)
	}

	s.hooks.committed(ctx, entries)
	s.hooks.publish(ctx, LedgerEvent{
		Type:           ledgerEventWithdrawalResolved,
		WithdrawalID:   resolved.ID,
		ProfileID:      resolved.UserID,
		ActorID:        actor,
		PreviousStatus: string(domain.WithdrawalStatusPending),
		CurrentStatus:  string(resolved.Status),
		Amount:         resolved.Amount,
		OccurredAt:     now,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyWithdrawal(ctx, resolved); err != nil {
			s.logger(ctx, "withdrawal.notify.failed", map[string]any{"withdrawalId": resolved.ID, "error": err.Error()})
		}
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     actor,
			ActorType: "staff",
			Action:    "withdrawal." + string(target),
			TargetRef: "/withdrawals/" + resolved.ID,
			Metadata: map[string]any{
				"userId": resolved.UserID,
				"amount": resolved.Amount,
			},
		})
	}
	return resolved, nil
}

func (s *withdrawalService) ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Withdrawal], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Withdrawal]{}, fmt.Errorf("%w: user id is required", ErrWithdrawalInvalidInput)
	}
	page, err := s.withdrawals.List(ctx, repositories.WithdrawalListFilter{UserID: userID, Pagination: pager})
	if err != nil {
		return domain.CursorPage[Withdrawal]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *withdrawalService) ListAll(ctx context.Context, filter WithdrawalListFilter) (domain.CursorPage[Withdrawal], error) {
	page, err := s.withdrawals.List(ctx, repositories.WithdrawalListFilter{Status: filter.Status, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[Withdrawal]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *withdrawalService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrWithdrawalNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrWithdrawalConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("withdrawal: repository unavailable: %w", err)
		}
	}
	return err
}
