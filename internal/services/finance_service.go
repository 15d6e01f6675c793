package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/rede-afiliados/api/internal/domain"
	"github.com/rede-afiliados/api/internal/repositories"
)

var (
	// ErrFinanceInvalidInput signals the caller provided invalid data.
	ErrFinanceInvalidInput = errors.New("finance: invalid input")
	// ErrFinanceNotFound indicates the profile or order could not be located.
	ErrFinanceNotFound = errors.New("finance: not found")
	// ErrFinanceForbidden indicates the order belongs to another user.
	ErrFinanceForbidden = errors.New("finance: order belongs to another user")
	// ErrFinanceInvalidState indicates the order is not an open, payable invoice.
	ErrFinanceInvalidState = errors.New("finance: invoice is not payable")
)

// FinanceServiceDeps bundles collaborators for the finance service.
type FinanceServiceDeps struct {
	Profiles    repositories.ProfileRepository
	Orders      repositories.OrderRepository
	Commissions repositories.CommissionRepository
	Status      orderTransitioner
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type financeService struct {
	profiles    repositories.ProfileRepository
	orders      repositories.OrderRepository
	commissions repositories.CommissionRepository
	status      orderTransitioner
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewFinanceService constructs the affiliate wallet service.
func NewFinanceService(deps FinanceServiceDeps) (FinanceService, error) {
	if deps.Profiles == nil || deps.Orders == nil {
		return nil, errors.New("finance service: profile and order repositories are required")
	}
	if deps.Status == nil {
		return nil, errors.New("finance service: order status service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &financeService{
		profiles:    deps.Profiles,
		orders:      deps.Orders,
		commissions: deps.Commissions,
		status:      deps.Status,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

func (s *financeService) Summary(ctx context.Context, userID string) (FinanceSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return FinanceSummary{}, fmt.Errorf("%w: user id is required", ErrFinanceInvalidInput)
	}
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return FinanceSummary{}, s.mapRepositoryError(err)
	}
	open, err := s.orders.ListOpenInvoices(ctx, userID)
	if err != nil {
		return FinanceSummary{}, s.mapRepositoryError(err)
	}

	debt := domain.OpenInvoiceDebt(open)
	limit := profile.EffectiveInvoiceLimit()
	dueDay := profile.EffectiveInvoiceDueDay()
	available := domain.AvailableBalance(profile.Balance, debt)
	now := s.clock()

	summary := FinanceSummary{
		Balance:          profile.Balance,
		TotalEarnings:    profile.TotalEarnings,
		OpenDebt:         debt,
		InvoiceLimit:     limit,
		AvailableLimit:   domain.AvailableLimit(limit, debt),
		AvailableBalance: available,
		CanWithdraw:      available >= domain.MinimumWithdrawal,
		InvoiceDueDay:    dueDay,
	}
	for _, order := range open {
		if !domain.IsOpenInvoice(order) {
			continue
		}
		due := domain.InvoiceDueDate(order.CreatedAt, dueDay)
		summary.OpenInvoices = append(summary.OpenInvoices, InvoiceOrder{
			Order:   order,
			DueDate: due,
			Overdue: now.After(due.AddDate(0, 0, 1)),
		})
	}
	sort.SliceStable(summary.OpenInvoices, func(i, j int) bool {
		return summary.OpenInvoices[i].DueDate.Before(summary.OpenInvoices[j].DueDate)
	})
	if len(summary.OpenInvoices) > 0 {
		next := summary.OpenInvoices[0].DueDate
		summary.NextDueDate = &next
	}
	return summary, nil
}

// PayInvoice settles an open invoice order by moving it to paid, so the usual
// commission rules apply.
func (s *financeService) PayInvoice(ctx context.Context, cmd PayInvoiceCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user and order are required", ErrFinanceInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrFinanceForbidden
	}
	if !domain.IsOpenInvoice(order) || !domain.CanTransition(order.Status, domain.OrderStatusPaid) {
		return Order{}, fmt.Errorf("%w: order %s is %s (%s)", ErrFinanceInvalidState, order.ID, order.Status, order.PaymentMethod)
	}

	expected := order.Status
	paid, err := s.status.TransitionStatus(ctx, TransitionOrderCommand{
		OrderID:        order.ID,
		TargetStatus:   domain.OrderStatusPaid,
		ActorID:        userID,
		ExpectedStatus: &expected,
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "finance.invoice.paid", map[string]any{"orderId": paid.ID, "amount": paid.Amount})
	return paid, nil
}

func (s *financeService) ListCommissions(ctx context.Context, affiliateID string, pager Pagination) (domain.CursorPage[Commission], error) {
	if s.commissions == nil {
		return domain.CursorPage[Commission]{}, nil
	}
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return domain.CursorPage[Commission]{}, fmt.Errorf("%w: affiliate id is required", ErrFinanceInvalidInput)
	}
	page, err := s.commissions.ListByAffiliate(ctx, affiliateID, pager)
	if err != nil {
		return domain.CursorPage[Commission]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// CommissionReport lists commissions across affiliates for the admin console.
// Lines whose affiliate or order has since been deleted keep blank join fields.
func (s *financeService) CommissionReport(ctx context.Context, filter CommissionReportFilter) (CommissionReport, error) {
	if s.commissions == nil {
		return CommissionReport{Items: []CommissionReportLine{}}, nil
	}
	affiliateID := strings.TrimSpace(filter.AffiliateID)
	page, err := s.commissions.List(ctx, repositories.CommissionListFilter{
		AffiliateID: affiliateID,
		Pagination:  filter.Pagination,
	})
	if err != nil {
		return CommissionReport{}, s.mapRepositoryError(err)
	}
	total, err := s.commissions.Sum(ctx, affiliateID)
	if err != nil {
		return CommissionReport{}, s.mapRepositoryError(err)
	}

	report := CommissionReport{
		Items:         make([]CommissionReportLine, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
		Total:         total,
	}
	profiles := make(map[string]Profile)
	for _, commission := range page.Items {
		line := CommissionReportLine{Commission: commission}
		profile, seen := profiles[commission.AffiliateID]
		if !seen {
			found, err := s.profiles.FindByID(ctx, commission.AffiliateID)
			if err != nil && !repositories.IsNotFound(err) {
				return CommissionReport{}, s.mapRepositoryError(err)
			}
			profile = found
			profiles[commission.AffiliateID] = profile
		}
		line.AffiliateName = profile.FullName
		line.AffiliateEmail = profile.Email

		order, err := s.orders.FindByID(ctx, commission.OrderID)
		switch {
		case err == nil:
			line.OrderAmount = order.Amount
			line.OrderStatus = order.Status
		case !repositories.IsNotFound(err):
			return CommissionReport{}, s.mapRepositoryError(err)
		}
		report.Items = append(report.Items, line)
	}
	return report, nil
}

func (s *financeService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrFinanceNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("finance: repository unavailable: %w", err)
		}
	}
	return err
}
