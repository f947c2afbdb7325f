package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"petshop/backend/internal/domain"
)

const topProductsLimit = 5

// SalesReport summarises the filtered aggregates. Reports are cached until the
// next write to sales or inventory.
func (s *Service) SalesReport(ctx context.Context, filter domain.SaleFilter) (report domain.SalesReport, err error) {
	started := time.Now()
	defer func() { s.observe("report", started, err) }()

	if _, err = requireAdmin(ctx); err != nil {
		return report, err
	}
	query, err := s.resolveFilter(filter)
	if err != nil {
		return report, err
	}

	// The generation is read before the data so a concurrent write's
	// Invalidate orphans whatever this call stores.
	key := reportCacheKey(query)
	gen, genErr := s.cache.Generation(ctx)
	if genErr != nil {
		s.log.Warn(s.log.WithField(ctx, "error", genErr.Error()), "report cache generation read failed")
	} else if cached, ok, cacheErr := s.cache.Get(ctx, gen, key); cacheErr == nil && ok {
		return *cached, nil
	} else if cacheErr != nil {
		s.log.Warn(s.log.WithField(ctx, "error", cacheErr.Error()), "report cache read failed")
	}

	sales, err := s.repo.QuerySales(ctx, query)
	if err != nil {
		return report, storeError(err, "failed to query sales")
	}
	items, err := s.repo.ListInventory(ctx)
	if err != nil {
		return report, storeError(err, "failed to list inventory")
	}

	report = buildReport(sales, items, s.lowStockThreshold)
	report.GeneratedAt = s.now().UTC()
	if query.From != nil {
		report.From = query.From.Format(domain.DayLayout)
	}
	if query.To != nil {
		report.To = query.To.Format(domain.DayLayout)
	}

	if genErr == nil {
		if err := s.cache.Set(ctx, gen, key, &report, s.reportCacheTTL); err != nil {
			s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "report cache write failed")
		}
	}
	return report, nil
}

func buildReport(sales []domain.SaleAggregate, items []domain.InventoryItem, lowStockThreshold int) domain.SalesReport {
	report := domain.SalesReport{
		TotalRevenue: decimal.Zero,
		TopProducts:  []domain.ProductSales{},
		LowStock:     []domain.StockAlert{},
		Sales:        sales,
	}

	byProduct := make(map[string]*domain.ProductSales)
	for _, sale := range sales {
		report.TotalQuantity += sale.QuantitySold
		report.TotalRevenue = report.TotalRevenue.Add(sale.Revenue)

		p, ok := byProduct[sale.PetFoodID]
		if !ok {
			p = &domain.ProductSales{
				PetFoodID:   sale.PetFoodID,
				ProductName: sale.ProductName,
				Brand:       sale.Brand,
				Revenue:     decimal.Zero,
			}
			byProduct[sale.PetFoodID] = p
		}
		p.QuantitySold += sale.QuantitySold
		p.Revenue = p.Revenue.Add(sale.Revenue)
	}

	for _, p := range byProduct {
		report.TopProducts = append(report.TopProducts, *p)
	}
	slices.SortFunc(report.TopProducts, func(a, b domain.ProductSales) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		if c := b.QuantitySold - a.QuantitySold; c != 0 {
			return c
		}
		return strings.Compare(a.PetFoodID, b.PetFoodID)
	})
	if len(report.TopProducts) > topProductsLimit {
		report.TopProducts = report.TopProducts[:topProductsLimit]
	}

	for _, item := range items {
		if item.StockQuantity <= lowStockThreshold {
			report.LowStock = append(report.LowStock, domain.StockAlert{
				ID:            item.ID,
				ProductName:   item.ProductName,
				Brand:         item.Brand,
				StockQuantity: item.StockQuantity,
			})
		}
	}
	slices.SortFunc(report.LowStock, func(a, b domain.StockAlert) int {
		if c := a.StockQuantity - b.StockQuantity; c != 0 {
			return c
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return report
}

func reportCacheKey(q domain.SaleQuery) string {
	day := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.Format(domain.DayLayout)
	}
	return strings.Join([]string{
		q.PetFoodID,
		day(q.From),
		day(q.To),
		strings.ToLower(q.Brand),
		strings.ToLower(q.Category),
		strings.ToLower(q.ProductName),
	}, "|")
}
