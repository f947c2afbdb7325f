package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
	"petshop/backend/internal/store/memory"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return New(repo, opts), repo
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleNormal})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func addItem(t *testing.T, repo store.Repository, name string, stock int) domain.InventoryItem {
	t.Helper()
	created, err := repo.CreateInventoryItems(context.Background(), []domain.InventoryItem{{
		ProductName:       name,
		Brand:             "Pedigree",
		Category:          "dog food",
		Price:             decimal.NewFromInt(10),
		UnitOfMeasurement: "kg",
		StockQuantity:     stock,
		ExpireDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	return created[0]
}

func stock(t *testing.T, repo store.Repository, id string) int {
	t.Helper()
	items, err := repo.ListInventory(context.Background())
	require.NoError(t, err)
	for _, item := range items {
		if item.ID == id {
			return item.StockQuantity
		}
	}
	t.Fatalf("item %s not found", id)
	return 0
}

func entry(id string, day string, qty int, revenue int64) domain.SaleEntry {
	rev := decimal.NewFromInt(revenue)
	return domain.SaleEntry{PetFoodID: id, SaleDate: day, QuantitySold: &qty, Revenue: &rev}
}

func revision(id string, qty int, revenue int64) domain.SaleRevision {
	rev := decimal.NewFromInt(revenue)
	return domain.SaleRevision{ID: id, QuantitySold: &qty, Revenue: &rev}
}

func allSales(t *testing.T, svc *Service) []domain.SaleAggregate {
	t.Helper()
	sales, err := svc.QuerySales(staffCtx(), domain.SaleFilter{All: true})
	require.NoError(t, err)
	return sales
}

func TestRecordSalesDecrementsStock(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	res, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 15, 150)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)
	assert.Equal(t, 1, res.Aggregates)

	assert.Equal(t, 85, stock(t, repo, item.ID))
	sales := allSales(t, svc)
	require.Len(t, sales, 1)
	assert.Equal(t, 15, sales[0].QuantitySold)
	assert.True(t, sales[0].Revenue.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "Adult Chicken", sales[0].ProductName, "descriptive fields come from the item")
	assert.Equal(t, "kg", sales[0].UnitOfMeasurement)
}

func TestRecordSalesAccumulatesPerDay(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-01", 5, 50),
		entry(item.ID, "2024-03-01", 2, 20),
		entry(item.ID, "2024-03-02", 1, 10),
	})
	require.NoError(t, err)
	_, err = svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01T09:30:00Z", 3, 30)})
	require.NoError(t, err)

	sales := allSales(t, svc)
	require.Len(t, sales, 2)
	assert.Equal(t, "2024-03-02", sales[0].SaleDate.Format(domain.DayLayout))
	assert.Equal(t, 1, sales[0].QuantitySold)
	assert.Equal(t, 10, sales[1].QuantitySold)
	assert.True(t, sales[1].Revenue.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 89, stock(t, repo, item.ID))
}

func TestRecordSalesUnknownItemWritesNothing(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-01", 5, 50),
		entry("ghost", "2024-03-01", 1, 10),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	details, ok := apperr.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"ghost"}, details["missingIds"])

	assert.Empty(t, allSales(t, svc))
	assert.Equal(t, 100, stock(t, repo, item.ID))
}

func TestRecordSalesRejectsMalformedBatch(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	_, err := svc.RecordSales(staffCtx(), nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	bad := entry(item.ID, "2024-03-01", 1, 10)
	bad.QuantitySold = nil
	_, err = svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 1, 10), bad})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	details, ok := apperr.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["entries[1].quantity_sold"])

	_, err = svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "yesterday", 1, 10)})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 1, -10)})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	assert.Empty(t, allSales(t, svc))
	assert.Equal(t, 100, stock(t, repo, item.ID))
}

func TestRecordSalesRejectsBlankItemID(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-01", 1, 10),
		entry(" ", "2024-03-01", 5, 50),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	details, ok := apperr.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["entries[1].pet_food_id"])

	assert.Empty(t, allSales(t, svc))
	assert.Equal(t, 100, stock(t, repo, item.ID))
}

func TestRecordSalesRequiresActor(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)

	_, err := svc.RecordSales(context.Background(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 1, 10)})
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestStockFloorCheck(t *testing.T) {
	permissive, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Bird Seed", 4)
	_, err := permissive.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 6, 60)})
	require.NoError(t, err)
	assert.Equal(t, -2, stock(t, repo, item.ID))

	strict, repo := newTestService(t, Options{FloorCheck: true})
	item = addItem(t, repo, "Bird Seed", 4)
	_, err = strict.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 6, 60)})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.Equal(t, "insufficient stock", apperr.As(err).Message())
	assert.Equal(t, 4, stock(t, repo, item.ID))
	assert.Empty(t, allSales(t, strict))
}

func TestModifySalesMovesStockByDifference(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 10, 100)})
	require.NoError(t, err)
	sale := allSales(t, svc)[0]
	require.Equal(t, 90, stock(t, repo, item.ID))

	res, err := svc.ModifySales(staffCtx(), []domain.SaleRevision{revision(sale.ID, 13, 130)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 87, stock(t, repo, item.ID))

	_, err = svc.ModifySales(staffCtx(), []domain.SaleRevision{revision(sale.ID, 10, 100)})
	require.NoError(t, err)
	assert.Equal(t, 90, stock(t, repo, item.ID))

	updated := allSales(t, svc)[0]
	assert.Equal(t, 10, updated.QuantitySold)
	assert.Equal(t, "Adult Chicken", updated.ProductName)
	assert.Equal(t, sale.SaleDate, updated.SaleDate)
}

func TestModifySalesMissingIDRollsBack(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 10, 100)})
	require.NoError(t, err)
	sale := allSales(t, svc)[0]

	_, err = svc.ModifySales(staffCtx(), []domain.SaleRevision{revision(sale.ID, 20, 200), revision("missing", 1, 1)})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	assert.Equal(t, 10, allSales(t, svc)[0].QuantitySold)
	assert.Equal(t, 90, stock(t, repo, item.ID))

	_, err = svc.ModifySales(staffCtx(), []domain.SaleRevision{revision(sale.ID, 1, 1), revision(sale.ID, 2, 2)})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.ModifySales(staffCtx(), []domain.SaleRevision{revision(sale.ID, 1, 1), revision("  ", 2, 2)})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	details, ok := apperr.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["revisions[1]._id"])
	assert.Equal(t, 10, allSales(t, svc)[0].QuantitySold)
}

func TestDeleteSalesRestoresStock(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 50)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-01", 3, 30),
		entry(item.ID, "2024-03-02", 4, 40),
	})
	require.NoError(t, err)
	require.Equal(t, 43, stock(t, repo, item.ID))

	sales := allSales(t, svc)
	res, err := svc.DeleteSales(staffCtx(), []string{sales[0].ID, sales[1].ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedCount)
	assert.Equal(t, 50, stock(t, repo, item.ID))
	assert.Empty(t, allSales(t, svc))

	_, err = svc.DeleteSales(staffCtx(), []string{" "})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestDeleteAllSalesIsAdminOnlyAndKeepsStock(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 50)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 5, 50)})
	require.NoError(t, err)

	_, err = svc.DeleteAllSales(staffCtx())
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	res, err := svc.DeleteAllSales(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedCount)
	assert.Equal(t, 45, stock(t, repo, item.ID))
	assert.Empty(t, allSales(t, svc))
}

func TestQuerySalesFilters(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	item := addItem(t, repo, "Adult Chicken", 100)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-10", 1, 10),
		entry(item.ID, "2024-03-01", 2, 20),
	})
	require.NoError(t, err)

	today, err := svc.QuerySales(staffCtx(), domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "2024-03-10", today[0].SaleDate.Format(domain.DayLayout))

	ranged, err := svc.QuerySales(staffCtx(), domain.SaleFilter{From: "2024-03-01", To: "2024-03-05"})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 2, ranged[0].QuantitySold)

	byBrand, err := svc.QuerySales(staffCtx(), domain.SaleFilter{Brand: "pedi"})
	require.NoError(t, err)
	assert.Len(t, byBrand, 2)

	_, err = svc.QuerySales(staffCtx(), domain.SaleFilter{From: "2024-03-05", To: "2024-03-01"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = svc.QuerySales(staffCtx(), domain.SaleFilter{From: "March"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestQuerySalesTodayUsesShopTimezone(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	svc, repo := newTestService(t, Options{
		Location: jakarta,
		Now:      func() time.Time { return time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC) },
	})
	item := addItem(t, repo, "Adult Chicken", 100)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(item.ID, "2024-03-11", 1, 10),
		entry(item.ID, "2024-03-10", 1, 10),
	})
	require.NoError(t, err)

	sales, err := svc.QuerySales(staffCtx(), domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "2024-03-11", sales[0].SaleDate.Format(domain.DayLayout))
}

func TestInventoryCrudAndOrphanPolicy(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	price := decimal.RequireFromString("120.50")
	qty := 30

	created, err := svc.CreateInventoryItems(staffCtx(), []domain.InventoryItemCreateRequest{{
		ProductName: "Fish Flakes", Brand: "Tetra", Category: "fish food",
		Price: &price, UnitOfMeasurement: "g", StockQuantity: &qty, ExpireDate: "2025-06-30",
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	id := created[0].ID

	_, err = svc.CreateInventoryItems(staffCtx(), []domain.InventoryItemCreateRequest{{ProductName: "x"}})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	newStock := 25
	updated, err := svc.UpdateInventoryItems(staffCtx(), []domain.InventoryItemUpdate{{ID: id, StockQuantity: &newStock}})
	require.NoError(t, err)
	assert.Equal(t, 25, updated[0].StockQuantity)
	assert.Equal(t, "Fish Flakes", updated[0].ProductName)

	_, err = svc.UpdateInventoryItems(staffCtx(), []domain.InventoryItemUpdate{{ID: id, StockQuantity: &newStock}, {ID: "nope"}})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(id, "2024-03-01", 1, 120)})
	require.NoError(t, err)

	err = svc.DeleteInventoryItem(staffCtx(), domain.InventoryDeleteRequest{ProductID: id})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	err = svc.DeleteInventoryItem(adminCtx(), domain.InventoryDeleteRequest{ProductID: id})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.Equal(t, "item has recorded sales", apperr.As(err).Message())

	_, err = svc.DeleteAllSales(adminCtx())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInventoryItem(adminCtx(), domain.InventoryDeleteRequest{ProductID: id}))

	err = svc.DeleteInventoryItem(adminCtx(), domain.InventoryDeleteRequest{ProductID: id})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

type countingCache struct {
	mu          sync.Mutex
	gen         int64
	entries     map[string]domain.SalesReport
	invalidated int
	onMiss      func()
}

func (c *countingCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%d:%s", gen, key)
}

func (c *countingCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *countingCache) Get(_ context.Context, gen int64, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	r, ok := c.entries[c.entryKey(gen, key)]
	onMiss := c.onMiss
	c.mu.Unlock()
	if !ok {
		if onMiss != nil {
			onMiss()
		}
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *countingCache) Set(_ context.Context, gen int64, key string, value *domain.SalesReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.entryKey(gen, key)] = *value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = map[string]domain.SalesReport{}
	c.invalidated++
	return nil
}

func (c *countingCache) current(key string) (domain.SalesReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[c.entryKey(c.gen, key)]
	return r, ok
}

func TestSalesReportTotalsAndCache(t *testing.T) {
	reportCache := &countingCache{entries: map[string]domain.SalesReport{}}
	svc, repo := newTestService(t, Options{Cache: reportCache, LowStockThreshold: 5})
	chicken := addItem(t, repo, "Adult Chicken", 100)
	seed := addItem(t, repo, "Bird Seed", 6)

	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{
		entry(chicken.ID, "2024-03-01", 2, 200),
		entry(seed.ID, "2024-03-01", 3, 30),
		entry(chicken.ID, "2024-03-02", 1, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reportCache.invalidated)

	_, err = svc.SalesReport(staffCtx(), domain.SaleFilter{All: true})
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	report, err := svc.SalesReport(adminCtx(), domain.SaleFilter{All: true})
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalQuantity)
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(330)))
	require.Len(t, report.TopProducts, 2)
	assert.Equal(t, chicken.ID, report.TopProducts[0].PetFoodID)
	assert.Equal(t, 3, report.TopProducts[0].QuantitySold)
	require.Len(t, report.LowStock, 1)
	assert.Equal(t, seed.ID, report.LowStock[0].ID)
	assert.Equal(t, 3, report.LowStock[0].StockQuantity)
	assert.Len(t, reportCache.entries, 1)

	_, err = svc.DeleteSales(staffCtx(), []string{report.Sales[0].ID})
	require.NoError(t, err)
	assert.Empty(t, reportCache.entries)

	report, err = svc.SalesReport(adminCtx(), domain.SaleFilter{All: true})
	require.NoError(t, err)
	assert.Equal(t, 5, report.TotalQuantity)
}

func TestSalesReportBuiltAcrossInvalidateIsNotCached(t *testing.T) {
	reportCache := &countingCache{entries: map[string]domain.SalesReport{}}
	svc, repo := newTestService(t, Options{Cache: reportCache})
	item := addItem(t, repo, "Adult Chicken", 100)
	_, err := svc.RecordSales(staffCtx(), []domain.SaleEntry{entry(item.ID, "2024-03-01", 2, 20)})
	require.NoError(t, err)

	// A write lands between the cache lookup and the store write-back.
	reportCache.onMiss = func() {
		reportCache.onMiss = nil
		require.NoError(t, reportCache.Invalidate(context.Background()))
	}
	filter := domain.SaleFilter{All: true}
	_, err = svc.SalesReport(adminCtx(), filter)
	require.NoError(t, err)

	query, err := svc.resolveFilter(filter)
	require.NoError(t, err)
	_, ok := reportCache.current(reportCacheKey(query))
	assert.False(t, ok, "report built before the invalidation must not be served")

	_, err = svc.SalesReport(adminCtx(), filter)
	require.NoError(t, err)
	_, ok = reportCache.current(reportCacheKey(query))
	assert.True(t, ok)
}
