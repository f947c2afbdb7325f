package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

type sqlTx struct {
	s   *Store
	q   *sql.Tx
	now time.Time
}

func (tx *sqlTx) GetInventoryByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	ids = store.UniqueIDs(ids)
	found := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := tx.q.QueryContext(ctx, tx.s.rebind(`
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE id IN (`+placeholders(len(ids))+`)
	`), anySlice(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		found[item.ID] = item
	}
	return found, rows.Err()
}

func (tx *sqlTx) GetSalesByIDs(ctx context.Context, ids []string) ([]domain.SaleAggregate, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return []domain.SaleAggregate{}, nil
	}

	stmt := `SELECT ` + saleColumns + ` FROM sale_aggregates WHERE id IN (` + placeholders(len(ids)) + `)`
	if tx.s.dialect == DialectPostgres {
		stmt += ` FOR UPDATE`
	}
	rows, err := tx.q.QueryContext(ctx, tx.s.rebind(stmt), anySlice(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make([]domain.SaleAggregate, 0, len(ids))
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, sale)
	}
	return found, rows.Err()
}

func (tx *sqlTx) CountSalesForItem(ctx context.Context, itemID string) (int, error) {
	var count int
	err := tx.q.QueryRowContext(ctx, tx.s.rebind(`SELECT COUNT(*) FROM sale_aggregates WHERE pet_food_id = ?`), itemID).Scan(&count)
	return count, err
}

func (tx *sqlTx) UpsertSales(ctx context.Context, increments []domain.SaleIncrement) error {
	if tx.s.dialect == DialectSQLite {
		return tx.upsertSalesText(ctx, increments)
	}
	stmt := tx.s.rebind(`
		INSERT INTO sale_aggregates (` + saleColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (pet_food_id, sale_date) DO UPDATE SET
			quantity_sold = sale_aggregates.quantity_sold + EXCLUDED.quantity_sold,
			revenue = sale_aggregates.revenue + EXCLUDED.revenue,
			updated_at = EXCLUDED.updated_at
	`)
	for _, inc := range increments {
		_, err := tx.q.ExecContext(ctx, stmt,
			uuid.NewString(), inc.PetFoodID, inc.ProductName, inc.Brand, inc.Category, inc.UnitOfMeasurement,
			inc.QuantitySold, inc.Revenue, dayArg(inc.SaleDate), tx.s.timeArg(tx.now), tx.s.timeArg(tx.now))
		if err != nil {
			return fmt.Errorf("upsert sale %s on %s: %w", inc.PetFoodID, dayArg(inc.SaleDate), err)
		}
	}
	return nil
}

// upsertSalesText adds increments in Go. SQLite keeps revenue as decimal text,
// and adding it in SQL would go through REAL. The transaction holds the only
// write lock, so the read-modify-write cannot interleave.
func (tx *sqlTx) upsertSalesText(ctx context.Context, increments []domain.SaleIncrement) error {
	for _, inc := range increments {
		var (
			id      string
			qty     int
			revenue decimal.Decimal
		)
		err := tx.q.QueryRowContext(ctx,
			`SELECT id, quantity_sold, revenue FROM sale_aggregates WHERE pet_food_id = ? AND sale_date = ?`,
			inc.PetFoodID, dayArg(inc.SaleDate)).Scan(&id, &qty, &revenue)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.q.ExecContext(ctx, `INSERT INTO sale_aggregates (`+saleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
				uuid.NewString(), inc.PetFoodID, inc.ProductName, inc.Brand, inc.Category, inc.UnitOfMeasurement,
				inc.QuantitySold, inc.Revenue.String(), dayArg(inc.SaleDate), tx.s.timeArg(tx.now), tx.s.timeArg(tx.now))
		case err == nil:
			_, err = tx.q.ExecContext(ctx, `UPDATE sale_aggregates SET quantity_sold = ?, revenue = ?, updated_at = ? WHERE id = ?`,
				qty+inc.QuantitySold, revenue.Add(inc.Revenue).String(), tx.s.timeArg(tx.now), id)
		}
		if err != nil {
			return fmt.Errorf("upsert sale %s on %s: %w", inc.PetFoodID, dayArg(inc.SaleDate), err)
		}
	}
	return nil
}

func (tx *sqlTx) OverwriteSales(ctx context.Context, overwrites []domain.SaleOverwrite) error {
	stmt := tx.s.rebind(`
		UPDATE sale_aggregates
		SET quantity_sold = ?, revenue = ?, product_name = ?, brand = ?, category = ?, unit_of_measurement = ?, updated_at = ?
		WHERE id = ?
	`)
	for _, ow := range overwrites {
		res, err := tx.q.ExecContext(ctx, stmt,
			ow.QuantitySold, ow.Revenue, ow.ProductName, ow.Brand, ow.Category, ow.UnitOfMeasurement, tx.s.timeArg(tx.now), ow.ID)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "sale "+ow.ID); err != nil {
			return err
		}
	}
	return nil
}

func (tx *sqlTx) DeleteSales(ctx context.Context, ids []string) (int, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.q.ExecContext(ctx, tx.s.rebind(`DELETE FROM sale_aggregates WHERE id IN (`+placeholders(len(ids))+`)`), anySlice(ids)...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (tx *sqlTx) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment, enforceFloor bool) error {
	stmt := tx.s.rebind(`
		UPDATE inventory_items
		SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE id = ?
		RETURNING stock_quantity
	`)
	for _, adj := range adjustments {
		var stock int
		err := tx.q.QueryRowContext(ctx, stmt, adj.Delta, tx.s.timeArg(tx.now), adj.ItemID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrNotFound)
			}
			return err
		}
		if enforceFloor && adj.Delta < 0 && stock < 0 {
			return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrInsufficientStock)
		}
	}
	return nil
}

func (tx *sqlTx) UpdateInventoryItems(ctx context.Context, items []domain.InventoryItem) error {
	stmt := tx.s.rebind(`
		UPDATE inventory_items
		SET product_name = ?, brand = ?, category = ?, price = ?, unit_of_measurement = ?,
			stock_quantity = ?, expire_date = ?, updated_at = ?
		WHERE id = ?
	`)
	for _, item := range items {
		res, err := tx.q.ExecContext(ctx, stmt,
			item.ProductName, item.Brand, item.Category, item.Price, item.UnitOfMeasurement,
			item.StockQuantity, dayArg(item.ExpireDate), tx.s.timeArg(tx.now), item.ID)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "inventory item "+item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (tx *sqlTx) DeleteInventoryItem(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, tx.s.rebind(`DELETE FROM inventory_items WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "inventory item "+id)
}

func requireAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
