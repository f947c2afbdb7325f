package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

// RecordSales adds each entry to the aggregate for its (pet_food_id, sale_date)
// and takes the sold quantity out of stock, all in one store transaction.
func (s *Service) RecordSales(ctx context.Context, entries []domain.SaleEntry) (result domain.RecordSalesResult, err error) {
	started := time.Now()
	defer func() { s.observe("record", started, err) }()

	if _, err = requireActor(ctx); err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, apperr.Validation("at least one sale entry is required")
	}
	if err = validateBatch("entries", entries); err != nil {
		return result, err
	}

	increments, err := s.mergeEntries(entries)
	if err != nil {
		return result, err
	}

	itemIDs := make([]string, 0, len(increments))
	for _, inc := range increments {
		itemIDs = append(itemIDs, inc.PetFoodID)
	}
	itemIDs = store.UniqueIDs(itemIDs)

	var moved int
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		moved = 0
		items, err := tx.GetInventoryByIDs(ctx, itemIDs)
		if err != nil {
			return err
		}
		missing := make([]string, 0)
		for _, id := range itemIDs {
			if _, ok := items[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return apperr.NotFound("some referenced inventory items were not found", missing)
		}

		sold := make(map[string]int, len(itemIDs))
		for i := range increments {
			fillFromItem(&increments[i], items[increments[i].PetFoodID])
			sold[increments[i].PetFoodID] += increments[i].QuantitySold
		}
		if err := tx.UpsertSales(ctx, increments); err != nil {
			return err
		}

		adjustments := make([]domain.StockAdjustment, 0, len(sold))
		for _, id := range itemIDs {
			if sold[id] == 0 {
				continue
			}
			adjustments = append(adjustments, domain.StockAdjustment{ItemID: id, Delta: -sold[id]})
			moved -= sold[id]
		}
		return tx.AdjustStock(ctx, adjustments, s.floorCheck)
	})
	if err != nil {
		return result, storeError(err, "failed to record sales")
	}

	s.metrics.StockMoved(moved)
	s.invalidateReports(ctx)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"entries":    len(entries),
		"aggregates": len(increments),
		"stock_out":  -moved,
	}), "sales recorded")

	return domain.RecordSalesResult{
		Message:    "sales recorded",
		Entries:    len(entries),
		Aggregates: len(increments),
	}, nil
}

// mergeEntries parses dates and folds entries with the same key into one
// increment, keeping first-seen order.
func (s *Service) mergeEntries(entries []domain.SaleEntry) ([]domain.SaleIncrement, error) {
	increments := make([]domain.SaleIncrement, 0, len(entries))
	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		if entry.Revenue.IsNegative() {
			return nil, fieldError("entries", i, "revenue", "must be at least 0")
		}
		day, err := s.parseDay(strings.TrimSpace(entry.SaleDate))
		if err != nil {
			return nil, fieldError("entries", i, "sale_date", "must be a date (YYYY-MM-DD)")
		}

		petFoodID := strings.TrimSpace(entry.PetFoodID)
		if petFoodID == "" {
			return nil, fieldError("entries", i, "pet_food_id", "is required")
		}
		key := petFoodID + "|" + day.Format(domain.DayLayout)
		if at, ok := index[key]; ok {
			inc := &increments[at]
			inc.QuantitySold += *entry.QuantitySold
			inc.Revenue = inc.Revenue.Add(*entry.Revenue)
			inc.ProductName = firstNonEmpty(inc.ProductName, entry.ProductName)
			inc.Brand = firstNonEmpty(inc.Brand, entry.Brand)
			inc.Category = firstNonEmpty(inc.Category, entry.Category)
			inc.UnitOfMeasurement = firstNonEmpty(inc.UnitOfMeasurement, entry.UnitOfMeasurement)
			continue
		}

		index[key] = len(increments)
		increments = append(increments, domain.SaleIncrement{
			PetFoodID:         petFoodID,
			SaleDate:          day,
			QuantitySold:      *entry.QuantitySold,
			Revenue:           *entry.Revenue,
			ProductName:       strings.TrimSpace(entry.ProductName),
			Brand:             strings.TrimSpace(entry.Brand),
			Category:          strings.TrimSpace(entry.Category),
			UnitOfMeasurement: entry.UnitOfMeasurement,
		})
	}
	return increments, nil
}

func fillFromItem(inc *domain.SaleIncrement, item domain.InventoryItem) {
	inc.ProductName = firstNonEmpty(inc.ProductName, item.ProductName)
	inc.Brand = firstNonEmpty(inc.Brand, item.Brand)
	inc.Category = firstNonEmpty(inc.Category, item.Category)
	inc.UnitOfMeasurement = firstNonEmpty(inc.UnitOfMeasurement, item.UnitOfMeasurement)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ModifySales overwrites aggregates and moves stock by the difference between
// the new and old quantities. pet_food_id and sale_date are not editable.
func (s *Service) ModifySales(ctx context.Context, revisions []domain.SaleRevision) (result domain.ModifySalesResult, err error) {
	started := time.Now()
	defer func() { s.observe("modify", started, err) }()

	if _, err = requireActor(ctx); err != nil {
		return result, err
	}
	if len(revisions) == 0 {
		return result, apperr.Validation("at least one sale revision is required")
	}
	if err = validateBatch("revisions", revisions); err != nil {
		return result, err
	}

	ids := make([]string, 0, len(revisions))
	seen := make(map[string]struct{}, len(revisions))
	for i, rev := range revisions {
		id := strings.TrimSpace(rev.ID)
		if id == "" {
			return result, fieldError("revisions", i, "_id", "is required")
		}
		if _, dup := seen[id]; dup {
			return result, fieldError("revisions", i, "_id", "appears more than once")
		}
		if rev.Revenue.IsNegative() {
			return result, fieldError("revisions", i, "revenue", "must be at least 0")
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var moved int
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		moved = 0
		current, err := tx.GetSalesByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]domain.SaleAggregate, len(current))
		for _, sale := range current {
			byID[sale.ID] = sale
		}
		missing := make([]string, 0)
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return apperr.NotFound("some sale entries were not found", missing)
		}

		overwrites := make([]domain.SaleOverwrite, 0, len(revisions))
		deltas := make(map[string]int)
		products := make([]string, 0)
		for i, rev := range revisions {
			old := byID[ids[i]]
			overwrites = append(overwrites, domain.SaleOverwrite{
				ID:                old.ID,
				QuantitySold:      *rev.QuantitySold,
				Revenue:           *rev.Revenue,
				ProductName:       firstNonEmpty(rev.ProductName, old.ProductName),
				Brand:             firstNonEmpty(rev.Brand, old.Brand),
				Category:          firstNonEmpty(rev.Category, old.Category),
				UnitOfMeasurement: firstNonEmpty(rev.UnitOfMeasurement, old.UnitOfMeasurement),
			})
			if _, ok := deltas[old.PetFoodID]; !ok {
				products = append(products, old.PetFoodID)
			}
			deltas[old.PetFoodID] += *rev.QuantitySold - old.QuantitySold
		}
		if err := tx.OverwriteSales(ctx, overwrites); err != nil {
			return err
		}

		adjustments, err := s.existingAdjustments(ctx, tx, products, func(id string) int { return -deltas[id] })
		if err != nil {
			return err
		}
		for _, adj := range adjustments {
			moved += adj.Delta
		}
		return tx.AdjustStock(ctx, adjustments, s.floorCheck)
	})
	if err != nil {
		return result, storeError(err, "failed to modify sales")
	}

	s.metrics.StockMoved(moved)
	s.invalidateReports(ctx)
	s.log.Info(s.log.WithFields(ctx, map[string]any{"updated": len(revisions), "stock_delta": moved}), "sales modified")

	return domain.ModifySalesResult{Message: "sales updated", Updated: len(revisions)}, nil
}

// existingAdjustments builds one non-zero adjustment per product that still
// exists. Aggregates keep their pet_food_id after the item is gone; those
// products are skipped with a warning.
func (s *Service) existingAdjustments(ctx context.Context, tx store.Tx, products []string, delta func(id string) int) ([]domain.StockAdjustment, error) {
	items, err := tx.GetInventoryByIDs(ctx, products)
	if err != nil {
		return nil, err
	}
	adjustments := make([]domain.StockAdjustment, 0, len(products))
	for _, id := range products {
		d := delta(id)
		if d == 0 {
			continue
		}
		if _, ok := items[id]; !ok {
			s.log.Warn(s.log.WithFields(ctx, map[string]any{"pet_food_id": id, "delta": d}), "stock adjustment skipped, item no longer exists")
			continue
		}
		adjustments = append(adjustments, domain.StockAdjustment{ItemID: id, Delta: d})
	}
	return adjustments, nil
}

// DeleteSales removes aggregates and puts their quantities back into stock.
// Unknown ids are ignored.
func (s *Service) DeleteSales(ctx context.Context, ids []string) (result domain.DeleteSalesResult, err error) {
	started := time.Now()
	defer func() { s.observe("delete", started, err) }()

	if _, err = requireActor(ctx); err != nil {
		return result, err
	}
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return result, apperr.Validation("at least one sale id is required")
	}

	var deleted, moved int
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted, moved = 0, 0
		sales, err := tx.GetSalesByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(sales) == 0 {
			return nil
		}

		restore := make(map[string]int)
		products := make([]string, 0)
		matched := make([]string, 0, len(sales))
		for _, sale := range sales {
			if _, ok := restore[sale.PetFoodID]; !ok {
				products = append(products, sale.PetFoodID)
			}
			restore[sale.PetFoodID] += sale.QuantitySold
			matched = append(matched, sale.ID)
		}

		adjustments, err := s.existingAdjustments(ctx, tx, products, func(id string) int { return restore[id] })
		if err != nil {
			return err
		}
		if err := tx.AdjustStock(ctx, adjustments, false); err != nil {
			return err
		}
		for _, adj := range adjustments {
			moved += adj.Delta
		}

		deleted, err = tx.DeleteSales(ctx, matched)
		return err
	})
	if err != nil {
		return result, storeError(err, "failed to delete sales")
	}

	if deleted > 0 {
		s.metrics.StockMoved(moved)
		s.invalidateReports(ctx)
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"requested": len(ids), "deleted": deleted, "stock_in": moved}), "sales deleted")

	return domain.DeleteSalesResult{
		Message:      fmt.Sprintf("%d sale entries deleted", deleted),
		DeletedCount: deleted,
	}, nil
}

// DeleteAllSales wipes every aggregate without touching stock.
func (s *Service) DeleteAllSales(ctx context.Context) (result domain.DeleteSalesResult, err error) {
	started := time.Now()
	defer func() { s.observe("delete_all", started, err) }()

	if _, err = requireAdmin(ctx); err != nil {
		return result, err
	}

	deleted, err := s.repo.DeleteAllSales(ctx)
	if err != nil {
		return result, storeError(err, "failed to delete sales")
	}
	s.invalidateReports(ctx)
	s.log.Warn(s.log.WithField(ctx, "deleted", deleted), "all sales deleted, stock not restored")

	return domain.DeleteSalesResult{
		Message:      "all sales deleted",
		DeletedCount: deleted,
	}, nil
}

func (s *Service) QuerySales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleAggregate, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	query, err := s.resolveFilter(filter)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.QuerySales(ctx, query)
	if err != nil {
		return nil, storeError(err, "failed to query sales")
	}
	return sales, nil
}

// resolveFilter turns client filters into a store query. A filter with no
// criteria means today; All drops the default date bound.
func (s *Service) resolveFilter(filter domain.SaleFilter) (domain.SaleQuery, error) {
	if filter.IsEmpty() {
		today := s.today()
		return domain.SaleQuery{From: &today, To: &today}, nil
	}

	query := domain.SaleQuery{
		PetFoodID:   strings.TrimSpace(filter.ID),
		Brand:       strings.TrimSpace(filter.Brand),
		Category:    strings.TrimSpace(filter.Category),
		ProductName: strings.TrimSpace(filter.ProductName),
	}
	for _, bound := range []struct {
		raw  string
		name string
		dst  **time.Time
	}{
		{filter.From, "from", &query.From},
		{filter.To, "to", &query.To},
	} {
		raw := strings.TrimSpace(bound.raw)
		if raw == "" {
			continue
		}
		day, err := s.parseDay(raw)
		if err != nil {
			return domain.SaleQuery{}, apperr.Validation("invalid filter").WithDetails(map[string]string{bound.name: "must be a date (YYYY-MM-DD)"})
		}
		*bound.dst = &day
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return domain.SaleQuery{}, apperr.Validation("invalid filter").WithDetails(map[string]string{"from": "must not be after to"})
	}
	return query, nil
}
