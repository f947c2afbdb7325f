package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

const duplicateKeyCode = 11000

type mongoTx struct {
	s   *Store
	now time.Time

	// compensate records an undo step for every applied write.
	compensate bool
	undo       []func(ctx context.Context) error
}

func (tx *mongoTx) record(step func(ctx context.Context) error) {
	if tx.compensate {
		tx.undo = append(tx.undo, step)
	}
}

func (tx *mongoTx) rollback(ctx context.Context) error {
	var err error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		err = multierr.Append(err, tx.undo[i](ctx))
	}
	tx.undo = nil
	return err
}

func (tx *mongoTx) GetInventoryByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	oids := objectIDs(ids)
	found := make(map[string]domain.InventoryItem, len(oids))
	if len(oids) == 0 {
		return found, nil
	}

	cursor, err := tx.s.inventory.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	var docs []inventoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		item := doc.toDomain()
		found[item.ID] = item
	}
	return found, nil
}

func (tx *mongoTx) GetSalesByIDs(ctx context.Context, ids []string) ([]domain.SaleAggregate, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return []domain.SaleAggregate{}, nil
	}

	cursor, err := tx.s.sales.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sales := make([]domain.SaleAggregate, 0, len(docs))
	for _, doc := range docs {
		sales = append(sales, doc.toDomain())
	}
	return sales, nil
}

func (tx *mongoTx) CountSalesForItem(ctx context.Context, itemID string) (int, error) {
	count, err := tx.s.sales.CountDocuments(ctx, bson.M{"pet_food_id": itemID})
	return int(count), err
}

// UpsertSales sends one unordered bulk write of $inc upserts. Two writers
// creating the same key at once make one of them fail with a duplicate key;
// those entries are retried once, when the document exists and $inc applies.
func (tx *mongoTx) UpsertSales(ctx context.Context, increments []domain.SaleIncrement) error {
	pending := make([]int, len(increments))
	for i := range increments {
		pending[i] = i
	}

	for attempt := 0; attempt < 2 && len(pending) > 0; attempt++ {
		models := make([]mongo.WriteModel, 0, len(pending))
		for _, i := range pending {
			model, err := tx.upsertModel(increments[i])
			if err != nil {
				return err
			}
			models = append(models, model)
		}

		res, err := tx.s.sales.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

		failed := map[int]bool{}
		retry := make([]int, 0)
		var bulkErr mongo.BulkWriteException
		if err != nil {
			if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil {
				return fmt.Errorf("upsert sales: %w", err)
			}
			for _, we := range bulkErr.WriteErrors {
				failed[we.Index] = true
				if we.Code != duplicateKeyCode {
					return fmt.Errorf("upsert sales: %w", err)
				}
				retry = append(retry, pending[we.Index])
			}
		}

		for pos, i := range pending {
			if failed[pos] {
				continue
			}
			var upsertedID any
			if res != nil {
				upsertedID = res.UpsertedIDs[int64(pos)]
			}
			tx.recordUpsertUndo(increments[i], upsertedID)
		}
		pending = retry
	}

	if len(pending) > 0 {
		return fmt.Errorf("upsert sales: %d entries kept colliding", len(pending))
	}
	return nil
}

func (tx *mongoTx) upsertModel(inc domain.SaleIncrement) (mongo.WriteModel, error) {
	revenue, err := toDecimal128(inc.Revenue)
	if err != nil {
		return nil, fmt.Errorf("revenue %s: %w", inc.Revenue, err)
	}
	filter := bson.M{"pet_food_id": inc.PetFoodID, "sale_date": inc.SaleDate}
	update := bson.M{
		"$inc": bson.M{"quantity_sold": inc.QuantitySold, "revenue": revenue},
		"$set": bson.M{"updatedAt": tx.now},
		"$setOnInsert": bson.M{
			"productName":       inc.ProductName,
			"brand":             inc.Brand,
			"category":          inc.Category,
			"unitOfMeasurement": inc.UnitOfMeasurement,
			"createdAt":         tx.now,
		},
	}
	return mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true), nil
}

func (tx *mongoTx) recordUpsertUndo(inc domain.SaleIncrement, upsertedID any) {
	if upsertedID != nil {
		tx.record(func(ctx context.Context) error {
			_, err := tx.s.sales.DeleteOne(ctx, bson.M{"_id": upsertedID})
			return err
		})
		return
	}
	negRevenue, err := toDecimal128(inc.Revenue.Neg())
	if err != nil {
		return
	}
	tx.record(func(ctx context.Context) error {
		_, err := tx.s.sales.UpdateOne(ctx,
			bson.M{"pet_food_id": inc.PetFoodID, "sale_date": inc.SaleDate},
			bson.M{"$inc": bson.M{"quantity_sold": -inc.QuantitySold, "revenue": negRevenue}})
		return err
	})
}

func (tx *mongoTx) OverwriteSales(ctx context.Context, overwrites []domain.SaleOverwrite) error {
	for _, ow := range overwrites {
		oid, err := primitive.ObjectIDFromHex(ow.ID)
		if err != nil {
			return fmt.Errorf("sale %s: %w", ow.ID, store.ErrNotFound)
		}
		revenue, err := toDecimal128(ow.Revenue)
		if err != nil {
			return err
		}

		var before saleDoc
		err = tx.s.sales.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
			"quantity_sold":     ow.QuantitySold,
			"revenue":           revenue,
			"productName":       ow.ProductName,
			"brand":             ow.Brand,
			"category":          ow.Category,
			"unitOfMeasurement": ow.UnitOfMeasurement,
			"updatedAt":         tx.now,
		}}, options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("sale %s: %w", ow.ID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		tx.record(func(ctx context.Context) error {
			_, err := tx.s.sales.ReplaceOne(ctx, bson.M{"_id": before.ID}, before)
			return err
		})
	}
	return nil
}

func (tx *mongoTx) DeleteSales(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for _, oid := range objectIDs(ids) {
		var before saleDoc
		err := tx.s.sales.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&before)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted++
		tx.record(func(ctx context.Context) error {
			_, err := tx.s.sales.InsertOne(ctx, before)
			return err
		})
	}
	return deleted, nil
}

// AdjustStock applies each delta with $inc. The floor is part of the filter,
// so an update that would go below zero never happens.
func (tx *mongoTx) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment, enforceFloor bool) error {
	for _, adj := range adjustments {
		oid, err := primitive.ObjectIDFromHex(adj.ItemID)
		if err != nil {
			return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrNotFound)
		}

		filter := bson.M{"_id": oid}
		if enforceFloor && adj.Delta < 0 {
			filter["stockQuantity"] = bson.M{"$gte": -adj.Delta}
		}
		res, err := tx.s.inventory.UpdateOne(ctx, filter, bson.M{
			"$inc": bson.M{"stockQuantity": adj.Delta},
			"$set": bson.M{"updatedAt": tx.now},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			exists, err := tx.s.inventory.CountDocuments(ctx, bson.M{"_id": oid})
			if err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrNotFound)
			}
			return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrInsufficientStock)
		}

		delta := adj.Delta
		tx.record(func(ctx context.Context) error {
			_, err := tx.s.inventory.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{"stockQuantity": -delta}})
			return err
		})
	}
	return nil
}

func (tx *mongoTx) UpdateInventoryItems(ctx context.Context, items []domain.InventoryItem) error {
	for _, item := range items {
		oid, err := primitive.ObjectIDFromHex(item.ID)
		if err != nil {
			return fmt.Errorf("inventory item %s: %w", item.ID, store.ErrNotFound)
		}
		price, err := toDecimal128(item.Price)
		if err != nil {
			return err
		}

		var before inventoryDoc
		err = tx.s.inventory.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
			"productName":       item.ProductName,
			"brand":             item.Brand,
			"category":          item.Category,
			"price":             price,
			"unitOfMeasurement": item.UnitOfMeasurement,
			"stockQuantity":     item.StockQuantity,
			"expireDate":        item.ExpireDate,
			"updatedAt":         tx.now,
		}}, options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("inventory item %s: %w", item.ID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		tx.record(func(ctx context.Context) error {
			_, err := tx.s.inventory.ReplaceOne(ctx, bson.M{"_id": before.ID}, before)
			return err
		})
	}
	return nil
}

func (tx *mongoTx) DeleteInventoryItem(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("inventory item %s: %w", id, store.ErrNotFound)
	}

	var before inventoryDoc
	err = tx.s.inventory.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("inventory item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	tx.record(func(ctx context.Context) error {
		_, err := tx.s.inventory.InsertOne(ctx, before)
		return err
	})
	return nil
}
