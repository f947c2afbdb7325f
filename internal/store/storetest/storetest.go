// Package storetest holds the behaviour every store.Repository implementation
// must share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

// Factory returns an empty repository. Cleanup belongs on t.
type Factory func(t *testing.T) store.Repository

var errAbort = errors.New("abort")

func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	t.Run("UpsertCreatesThenIncrements", func(t *testing.T) { testUpsertIncrements(t, newRepo(t)) })
	t.Run("FractionalMoneyIsExact", func(t *testing.T) { testFractionalMoney(t, newRepo(t)) })
	t.Run("FailedTxLeavesNoTrace", func(t *testing.T) { testRollback(t, newRepo(t)) })
	t.Run("AdjustStockFloor", func(t *testing.T) { testAdjustStockFloor(t, newRepo(t)) })
	t.Run("AdjustStockMissingItem", func(t *testing.T) { testAdjustStockMissing(t, newRepo(t)) })
	t.Run("OverwriteAndDeleteSales", func(t *testing.T) { testOverwriteAndDelete(t, newRepo(t)) })
	t.Run("QuerySalesFiltersAndOrder", func(t *testing.T) { testQuerySales(t, newRepo(t)) })
	t.Run("DeleteAllSalesKeepsStock", func(t *testing.T) { testDeleteAll(t, newRepo(t)) })
	t.Run("InventoryLifecycle", func(t *testing.T) { testInventoryLifecycle(t, newRepo(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
}

func day(s string) time.Time {
	d, err := time.Parse(domain.DayLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedItem(t *testing.T, repo store.Repository, name string, stock int) domain.InventoryItem {
	t.Helper()
	created, err := repo.CreateInventoryItems(context.Background(), []domain.InventoryItem{{
		ProductName:       name,
		Brand:             "Acme",
		Category:          "dog food",
		Price:             decimal.NewFromInt(10),
		UnitOfMeasurement: "kg",
		StockQuantity:     stock,
		ExpireDate:        day("2030-01-31"),
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NotEmpty(t, created[0].ID)
	return created[0]
}

func stockOf(t *testing.T, repo store.Repository, id string) int {
	t.Helper()
	var stock int
	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		items, err := tx.GetInventoryByIDs(ctx, []string{id})
		if err != nil {
			return err
		}
		item, ok := items[id]
		if !ok {
			return store.ErrNotFound
		}
		stock = item.StockQuantity
		return nil
	})
	require.NoError(t, err)
	return stock
}

func upsert(t *testing.T, repo store.Repository, incs ...domain.SaleIncrement) {
	t.Helper()
	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.UpsertSales(ctx, incs)
	})
	require.NoError(t, err)
}

func allSales(t *testing.T, repo store.Repository) []domain.SaleAggregate {
	t.Helper()
	sales, err := repo.QuerySales(context.Background(), domain.SaleQuery{})
	require.NoError(t, err)
	return sales
}

func testUpsertIncrements(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 100)

	upsert(t, repo, domain.SaleIncrement{
		PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 10, Revenue: decimal.NewFromInt(100),
		ProductName: "Kibble", Brand: "Acme", Category: "dog food", UnitOfMeasurement: "kg",
	})
	upsert(t, repo, domain.SaleIncrement{
		PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 5, Revenue: decimal.NewFromInt(50),
		ProductName: "Kibble", Brand: "Acme", Category: "dog food", UnitOfMeasurement: "kg",
	})

	sales := allSales(t, repo)
	require.Len(t, sales, 1)
	assert.Equal(t, 15, sales[0].QuantitySold)
	assert.True(t, sales[0].Revenue.Equal(decimal.NewFromInt(150)), "revenue %s", sales[0].Revenue)
	assert.Equal(t, "2024-03-01", sales[0].SaleDate.Format(domain.DayLayout))
	assert.Equal(t, item.ID, sales[0].PetFoodID)
	assert.Equal(t, "Kibble", sales[0].ProductName)

	upsert(t, repo, domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-02"), QuantitySold: 1, Revenue: decimal.NewFromInt(10)})
	assert.Len(t, allSales(t, repo), 2)
}

func testFractionalMoney(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	created, err := repo.CreateInventoryItems(ctx, []domain.InventoryItem{{
		ProductName:       "Catnip Treats",
		Brand:             "Acme",
		Category:          "cat food",
		Price:             decimal.RequireFromString("95.55"),
		UnitOfMeasurement: "g",
		StockQuantity:     10,
		ExpireDate:        day("2030-01-31"),
	}})
	require.NoError(t, err)
	item := created[0]

	priceOf := func() decimal.Decimal {
		t.Helper()
		items, err := repo.ListInventory(ctx)
		require.NoError(t, err)
		for _, it := range items {
			if it.ID == item.ID {
				return it.Price
			}
		}
		t.Fatalf("item %s not listed", item.ID)
		return decimal.Zero
	}
	assert.True(t, priceOf().Equal(decimal.RequireFromString("95.55")), "price %s", priceOf())

	item.Price = decimal.RequireFromString("0.10")
	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateInventoryItems(ctx, []domain.InventoryItem{item})
	}))
	assert.True(t, priceOf().Equal(decimal.RequireFromString("0.10")), "price %s", priceOf())

	upsert(t, repo, domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 1, Revenue: decimal.RequireFromString("0.10")})
	upsert(t, repo, domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 1, Revenue: decimal.RequireFromString("0.20")})

	sales := allSales(t, repo)
	require.Len(t, sales, 1)
	assert.Equal(t, 2, sales[0].QuantitySold)
	assert.Equal(t, "0.3", sales[0].Revenue.String())

	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.OverwriteSales(ctx, []domain.SaleOverwrite{{ID: sales[0].ID, QuantitySold: 3, Revenue: decimal.RequireFromString("33.33")}})
	}))
	assert.Equal(t, "33.33", allSales(t, repo)[0].Revenue.String())
}

func testRollback(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 100)

	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.UpsertSales(ctx, []domain.SaleIncrement{{
			PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 10, Revenue: decimal.NewFromInt(100),
		}}); err != nil {
			return err
		}
		if err := tx.AdjustStock(ctx, []domain.StockAdjustment{{ItemID: item.ID, Delta: -10}}, false); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Empty(t, allSales(t, repo))
	assert.Equal(t, 100, stockOf(t, repo, item.ID))
}

func testAdjustStockFloor(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 3)

	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AdjustStock(ctx, []domain.StockAdjustment{{ItemID: item.ID, Delta: -5}}, true)
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 3, stockOf(t, repo, item.ID))

	err = repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AdjustStock(ctx, []domain.StockAdjustment{{ItemID: item.ID, Delta: -5}}, false)
	})
	require.NoError(t, err)
	assert.Equal(t, -2, stockOf(t, repo, item.ID))

	// Restocking a negative item is never blocked by the floor.
	err = repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AdjustStock(ctx, []domain.StockAdjustment{{ItemID: item.ID, Delta: 1}}, true)
	})
	require.NoError(t, err)
	assert.Equal(t, -1, stockOf(t, repo, item.ID))
}

func testAdjustStockMissing(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 10)

	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AdjustStock(ctx, []domain.StockAdjustment{
			{ItemID: item.ID, Delta: -4},
			{ItemID: "does-not-exist", Delta: -1},
		}, false)
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 10, stockOf(t, repo, item.ID))
}

func testOverwriteAndDelete(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 100)
	upsert(t, repo,
		domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 3, Revenue: decimal.NewFromInt(30), ProductName: "Kibble"},
		domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-02"), QuantitySold: 4, Revenue: decimal.NewFromInt(40), ProductName: "Kibble"},
	)
	sales := allSales(t, repo)
	require.Len(t, sales, 2)

	err := repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.OverwriteSales(ctx, []domain.SaleOverwrite{{
			ID: sales[0].ID, QuantitySold: 9, Revenue: decimal.NewFromInt(90), ProductName: "Kibble XL", Brand: "Acme",
		}})
	})
	require.NoError(t, err)

	var locked []domain.SaleAggregate
	err = repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		locked, err = tx.GetSalesByIDs(ctx, []string{sales[0].ID, "missing", sales[0].ID})
		return err
	})
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, 9, locked[0].QuantitySold)
	assert.Equal(t, "Kibble XL", locked[0].ProductName)
	assert.Equal(t, sales[0].SaleDate, locked[0].SaleDate)

	err = repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.OverwriteSales(ctx, []domain.SaleOverwrite{{ID: "missing", QuantitySold: 1, Revenue: decimal.Zero}})
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	var count, deleted int
	err = repo.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if count, err = tx.CountSalesForItem(ctx, item.ID); err != nil {
			return err
		}
		deleted, err = tx.DeleteSales(ctx, []string{sales[0].ID, sales[1].ID, "missing"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, allSales(t, repo))

	// The key is free again once its aggregate is gone.
	upsert(t, repo, domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 1, Revenue: decimal.NewFromInt(10)})
	sales = allSales(t, repo)
	require.Len(t, sales, 1)
	assert.Equal(t, 1, sales[0].QuantitySold)
}

func testQuerySales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	kibble := seedItem(t, repo, "Kibble", 100)
	tuna := seedItem(t, repo, "Tuna Pouch", 100)

	upsert(t, repo,
		domain.SaleIncrement{PetFoodID: kibble.ID, SaleDate: day("2024-03-01"), QuantitySold: 1, Revenue: decimal.NewFromInt(10), ProductName: "Kibble", Brand: "Acme", Category: "dog food"},
		domain.SaleIncrement{PetFoodID: tuna.ID, SaleDate: day("2024-03-01"), QuantitySold: 2, Revenue: decimal.NewFromInt(20), ProductName: "Tuna Pouch", Brand: "Whiskas", Category: "cat food"},
		domain.SaleIncrement{PetFoodID: kibble.ID, SaleDate: day("2024-03-03"), QuantitySold: 3, Revenue: decimal.NewFromInt(30), ProductName: "Kibble", Brand: "Acme", Category: "dog food"},
		domain.SaleIncrement{PetFoodID: tuna.ID, SaleDate: day("2024-02-20"), QuantitySold: 4, Revenue: decimal.NewFromInt(40), ProductName: "Tuna Pouch", Brand: "Whiskas", Category: "cat food"},
	)

	sales := allSales(t, repo)
	require.Len(t, sales, 4)
	got := make([]string, 0, len(sales))
	for _, s := range sales {
		got = append(got, s.SaleDate.Format(domain.DayLayout)+" "+s.ProductName)
	}
	assert.Equal(t, []string{
		"2024-03-03 Kibble",
		"2024-03-01 Kibble",
		"2024-03-01 Tuna Pouch",
		"2024-02-20 Tuna Pouch",
	}, got)

	from, to := day("2024-03-01"), day("2024-03-01")
	sales, err := repo.QuerySales(ctx, domain.SaleQuery{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	sales, err = repo.QuerySales(ctx, domain.SaleQuery{Brand: "whisk"})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	sales, err = repo.QuerySales(ctx, domain.SaleQuery{Category: "DOG", From: &from})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	sales, err = repo.QuerySales(ctx, domain.SaleQuery{PetFoodID: tuna.ID, ProductName: "pouch"})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	sales, err = repo.QuerySales(ctx, domain.SaleQuery{ProductName: "100%"})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func testDeleteAll(t *testing.T, repo store.Repository) {
	item := seedItem(t, repo, "Kibble", 50)
	upsert(t, repo,
		domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-01"), QuantitySold: 3, Revenue: decimal.NewFromInt(30)},
		domain.SaleIncrement{PetFoodID: item.ID, SaleDate: day("2024-03-02"), QuantitySold: 4, Revenue: decimal.NewFromInt(40)},
	)

	deleted, err := repo.DeleteAllSales(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, allSales(t, repo))
	assert.Equal(t, 50, stockOf(t, repo, item.ID))
}

func testInventoryLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	item := seedItem(t, repo, "Kibble", 7)
	assert.False(t, item.CreatedAt.IsZero())

	items, err := repo.ListInventory(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "2030-01-31", items[0].ExpireDate.Format(domain.DayLayout))
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(10)))

	item.ProductName = "Kibble Senior"
	item.Price = decimal.RequireFromString("12.5")
	err = repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateInventoryItems(ctx, []domain.InventoryItem{item})
	})
	require.NoError(t, err)

	items, err = repo.ListInventory(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Kibble Senior", items[0].ProductName)
	assert.True(t, items[0].Price.Equal(decimal.RequireFromString("12.5")), "price %s", items[0].Price)

	err = repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateInventoryItems(ctx, []domain.InventoryItem{{ID: "missing", ExpireDate: day("2030-01-01")}})
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	err = repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteInventoryItem(ctx, item.ID)
	})
	require.NoError(t, err)

	err = repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteInventoryItem(ctx, item.ID)
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	items, err = repo.ListInventory(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: "Alice", Name: "Alice", Role: domain.RoleAdmin, Password: "hash-a"}))
	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: "bob", Name: "Bob", Role: domain.RoleNormal, Password: "hash-b"}))
	require.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: "alice", Name: "Dup", Role: domain.RoleNormal, Password: "x"}), store.ErrDuplicate)

	user, err := repo.GetUser(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.Equal(t, "hash-a", user.Password)

	_, err = repo.GetUser(ctx, "carol")
	require.ErrorIs(t, err, store.ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)

	deleted, err := repo.DeleteUsers(ctx, []string{"BOB", "carol"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	users, err = repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
