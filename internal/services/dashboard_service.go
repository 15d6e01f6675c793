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

const (
	dashboardTopN     = 5
	dashboardPageSize = 200
)

// DashboardServiceDeps bundles collaborators for the dashboard service.
type DashboardServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Profiles repositories.ProfileRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type dashboardService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	profiles repositories.ProfileRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewDashboardService constructs the admin dashboard aggregator.
func NewDashboardService(deps DashboardServiceDeps) (DashboardService, error) {
	if deps.Orders == nil || deps.Products == nil || deps.Profiles == nil {
		return nil, errors.New("dashboard service: order, product and profile repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &dashboardService{
		orders:   deps.Orders,
		products: deps.Products,
		profiles: deps.Profiles,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Overview computes revenue from realised orders only. Rejected orders are
// excluded from every figure.
func (s *dashboardService) Overview(ctx context.Context) (DashboardOverview, error) {
	orders, err := s.orders.ListByStatuses(ctx, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusApproved,
		domain.OrderStatusPaid,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	})
	if err != nil {
		return DashboardOverview{}, fmt.Errorf("dashboard: list orders: %w", err)
	}

	overview := DashboardOverview{OrderCount: len(orders), GeneratedAt: s.clock()}
	byProduct := make(map[string]*RankedProduct)
	revenueOrders := 0
	for _, order := range orders {
		if !domain.IsRevenue(order) {
			continue
		}
		revenueOrders++
		overview.Revenue += order.Amount
		ranked, ok := byProduct[order.ProductID]
		if !ok {
			ranked = &RankedProduct{ProductID: order.ProductID}
			byProduct[order.ProductID] = ranked
		}
		ranked.Orders++
		ranked.Revenue += order.Amount
	}
	if revenueOrders > 0 {
		overview.AverageTicket = overview.Revenue / int64(revenueOrders)
	}

	products := make([]RankedProduct, 0, len(byProduct))
	for _, ranked := range byProduct {
		products = append(products, *ranked)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Revenue != products[j].Revenue {
			return products[i].Revenue > products[j].Revenue
		}
		return products[i].ProductID < products[j].ProductID
	})
	if len(products) > dashboardTopN {
		products = products[:dashboardTopN]
	}
	for i := range products {
		product, err := s.products.FindByID(ctx, products[i].ProductID)
		if err != nil {
			if !repositories.IsNotFound(err) {
				return DashboardOverview{}, fmt.Errorf("dashboard: load product: %w", err)
			}
			continue
		}
		products[i].Name = product.Name
	}
	overview.TopProducts = products

	affiliates, err := s.affiliates(ctx)
	if err != nil {
		return DashboardOverview{}, err
	}
	overview.AffiliateCount = len(affiliates)
	sort.SliceStable(affiliates, func(i, j int) bool {
		return affiliates[i].TotalEarnings > affiliates[j].TotalEarnings
	})
	for _, profile := range affiliates {
		if len(overview.TopAffiliates) == dashboardTopN {
			break
		}
		if profile.TotalEarnings <= 0 {
			break
		}
		overview.TopAffiliates = append(overview.TopAffiliates, RankedAffiliate{
			ProfileID:     profile.ID,
			Name:          chooseFirstNonEmpty(profile.FullName, profile.Nickname, profile.Email),
			TotalEarnings: profile.TotalEarnings,
		})
	}
	return overview, nil
}

func (s *dashboardService) affiliates(ctx context.Context) ([]Profile, error) {
	role := domain.RoleAffiliate
	var out []Profile
	token := ""
	for {
		page, err := s.profiles.List(ctx, repositories.ProfileListFilter{
			Role:       &role,
			Pagination: Pagination{PageSize: dashboardPageSize, PageToken: token},
		})
		if err != nil {
			return nil, fmt.Errorf("dashboard: list affiliates: %w", err)
		}
		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}
