package service

import (
	"context"
	"strings"
	"time"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	items, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list inventory")
	}
	return items, nil
}

func (s *Service) CreateInventoryItems(ctx context.Context, reqs []domain.InventoryItemCreateRequest) ([]domain.InventoryItem, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, apperr.Validation("at least one inventory item is required")
	}
	if err := validateBatch("items", reqs); err != nil {
		return nil, err
	}

	items := make([]domain.InventoryItem, 0, len(reqs))
	for i, req := range reqs {
		item := domain.InventoryItem{
			ProductName:       strings.TrimSpace(req.ProductName),
			Brand:             strings.TrimSpace(req.Brand),
			Category:          strings.TrimSpace(req.Category),
			Price:             *req.Price,
			UnitOfMeasurement: req.UnitOfMeasurement,
			StockQuantity:     *req.StockQuantity,
		}
		expiry, err := s.parseDay(strings.TrimSpace(req.ExpireDate))
		if err != nil {
			return nil, fieldError("items", i, "expireDate", "must be a date (YYYY-MM-DD)")
		}
		item.ExpireDate = expiry
		if err := checkItem(item, i); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	created, err := s.repo.CreateInventoryItems(ctx, items)
	if err != nil {
		return nil, storeError(err, "failed to create inventory items")
	}
	s.invalidateReports(ctx)
	s.log.Info(s.log.WithField(ctx, "items", len(created)), "inventory items created")
	return created, nil
}

// UpdateInventoryItems applies absolute field values by id. Every id must
// exist; the batch is written in one transaction.
func (s *Service) UpdateInventoryItems(ctx context.Context, updates []domain.InventoryItemUpdate) ([]domain.InventoryItem, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, apperr.Validation("at least one inventory update is required")
	}
	if err := validateBatch("items", updates); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(updates))
	seen := make(map[string]struct{}, len(updates))
	for i, u := range updates {
		id := strings.TrimSpace(u.ID)
		if _, dup := seen[id]; dup {
			return nil, fieldError("items", i, "_id", "appears more than once")
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var updated []domain.InventoryItem
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetInventoryByIDs(ctx, ids)
		if err != nil {
			return err
		}
		missing := make([]string, 0)
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return apperr.NotFound("some inventory items were not found", missing)
		}

		updated = make([]domain.InventoryItem, 0, len(updates))
		for i, u := range updates {
			item, err := s.applyUpdate(existing[ids[i]], u, i)
			if err != nil {
				return err
			}
			updated = append(updated, item)
		}
		return tx.UpdateInventoryItems(ctx, updated)
	})
	if err != nil {
		return nil, storeError(err, "failed to update inventory items")
	}

	now := s.now().UTC()
	for i := range updated {
		updated[i].UpdatedAt = now
	}
	s.invalidateReports(ctx)
	s.log.Info(s.log.WithField(ctx, "items", len(updated)), "inventory items updated")
	return updated, nil
}

func (s *Service) applyUpdate(item domain.InventoryItem, u domain.InventoryItemUpdate, index int) (domain.InventoryItem, error) {
	if u.ProductName != nil {
		item.ProductName = strings.TrimSpace(*u.ProductName)
	}
	if u.Brand != nil {
		item.Brand = strings.TrimSpace(*u.Brand)
	}
	if u.Category != nil {
		item.Category = strings.TrimSpace(*u.Category)
	}
	if u.Price != nil {
		item.Price = *u.Price
	}
	if u.UnitOfMeasurement != nil {
		item.UnitOfMeasurement = *u.UnitOfMeasurement
	}
	if u.StockQuantity != nil {
		item.StockQuantity = *u.StockQuantity
	}
	if u.ExpireDate != nil {
		expiry, err := s.parseDay(strings.TrimSpace(*u.ExpireDate))
		if err != nil {
			return item, fieldError("items", index, "expireDate", "must be a date (YYYY-MM-DD)")
		}
		item.ExpireDate = expiry
	}
	return item, checkItem(item, index)
}

func checkItem(item domain.InventoryItem, index int) error {
	switch {
	case item.ProductName == "":
		return fieldError("items", index, "productName", "is required")
	case item.Brand == "":
		return fieldError("items", index, "brand", "is required")
	case item.Category == "":
		return fieldError("items", index, "category", "is required")
	case item.Price.IsNegative():
		return fieldError("items", index, "price", "must be at least 0")
	case !domain.IsUnitOfMeasurement(item.UnitOfMeasurement):
		return fieldError("items", index, "unitOfMeasurement", "must be one of [kg l g ml pieces]")
	}
	return nil
}

// DeleteInventoryItem removes an item that has no recorded sales.
func (s *Service) DeleteInventoryItem(ctx context.Context, req domain.InventoryDeleteRequest) (err error) {
	started := time.Now()
	defer func() { s.observe("delete_item", started, err) }()

	if _, err = requireAdmin(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(req.ProductID)
	if id == "" {
		return apperr.Validation("validation failed").WithDetails(map[string]string{"productId": "is required"})
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		count, err := tx.CountSalesForItem(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return apperr.New(apperr.CodeConflict, "item has recorded sales").WithDetails(map[string]any{
				"productId": id,
				"sales":     count,
			})
		}
		return tx.DeleteInventoryItem(ctx, id)
	})
	if err != nil {
		if apperr.As(err) == nil && isNotFound(err) {
			return apperr.NotFound("inventory item not found", []string{id})
		}
		return storeError(err, "failed to delete inventory item")
	}

	s.invalidateReports(ctx)
	s.log.Info(s.log.WithField(ctx, "productId", id), "inventory item deleted")
	return nil
}
