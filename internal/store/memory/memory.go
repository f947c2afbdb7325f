package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

// Store keeps everything in maps behind one RWMutex. InTx holds the write lock
// for the whole callback and works on copies, so a failed callback leaves the
// store untouched.
type Store struct {
	mu        sync.RWMutex
	inventory map[string]domain.InventoryItem
	sales     map[string]domain.SaleAggregate
	saleKeys  map[string]string
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		inventory: make(map[string]domain.InventoryItem),
		sales:     make(map[string]domain.SaleAggregate),
		saleKeys:  make(map[string]string),
		users:     make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev accounts. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_STAFF_PASSWORD, falling back to dev defaults.
func seedUsers() (map[string]domain.UserAccount, error) {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{envOr("SEED_ADMIN_USERNAME", "admin"), "Shop Owner", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"staff", "Shop Staff", envOr("SEED_STAFF_PASSWORD", "staff123"), domain.RoleNormal},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small pet food catalogue and the dev users.
func NewSeeded() (*Store, error) {
	s := New()
	users, err := seedUsers()
	if err != nil {
		return nil, err
	}
	s.users = users

	expiry := time.Now().UTC().AddDate(1, 0, 0).Truncate(24 * time.Hour)
	items := []domain.InventoryItem{
		{ProductName: "Adult Dry Food Chicken", Brand: "Pedigree", Category: "dog food", Price: decimal.NewFromInt(850), UnitOfMeasurement: "kg", StockQuantity: 40},
		{ProductName: "Puppy Dry Food Lamb", Brand: "Royal Canin", Category: "dog food", Price: decimal.NewFromInt(1450), UnitOfMeasurement: "kg", StockQuantity: 25},
		{ProductName: "Tuna Wet Food Pouch", Brand: "Whiskas", Category: "cat food", Price: decimal.NewFromInt(45), UnitOfMeasurement: "pieces", StockQuantity: 120},
		{ProductName: "Kitten Dry Food", Brand: "Me-O", Category: "cat food", Price: decimal.NewFromInt(390), UnitOfMeasurement: "kg", StockQuantity: 30},
		{ProductName: "Fish Flakes", Brand: "Tetra", Category: "fish food", Price: decimal.NewFromInt(120), UnitOfMeasurement: "g", StockQuantity: 60},
		{ProductName: "Bird Seed Mix", Brand: "Vitakraft", Category: "bird food", Price: decimal.NewFromInt(210), UnitOfMeasurement: "kg", StockQuantity: 4},
		{ProductName: "Milk Replacer", Brand: "Beaphar", Category: "supplements", Price: decimal.NewFromInt(560), UnitOfMeasurement: "ml", StockQuantity: 12},
	}
	for i := range items {
		items[i].ExpireDate = expiry
	}
	if _, err := s.CreateInventoryItems(context.Background(), items); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		inventory: maps.Clone(s.inventory),
		sales:     maps.Clone(s.sales),
		saleKeys:  maps.Clone(s.saleKeys),
		now:       time.Now().UTC(),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.inventory = tx.inventory
	s.sales = tx.sales
	s.saleKeys = tx.saleKeys
	return nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := slices.Collect(maps.Values(s.inventory))
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		if c := strings.Compare(a.ProductName, b.ProductName); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) CreateInventoryItems(_ context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	created := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, exists := s.inventory[item.ID]; exists {
			return nil, fmt.Errorf("inventory item %s: %w", item.ID, store.ErrDuplicate)
		}
		item.CreatedAt = now
		item.UpdatedAt = now
		created = append(created, item)
	}
	for _, item := range created {
		s.inventory[item.ID] = item
	}
	return created, nil
}

func (s *Store) QuerySales(_ context.Context, query domain.SaleQuery) ([]domain.SaleAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleAggregate, 0)
	for _, sale := range s.sales {
		if store.Matches(sale, query) {
			result = append(result, sale)
		}
	}
	store.SortSales(result)
	return result, nil
}

func (s *Store) DeleteAllSales(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.sales)
	s.sales = make(map[string]domain.SaleAggregate)
	s.saleKeys = make(map[string]string)
	return deleted, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.users[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := slices.Collect(maps.Values(s.users))
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) DeleteUsers(_ context.Context, usernames []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, username := range usernames {
		key := strings.ToLower(strings.TrimSpace(username))
		if _, ok := s.users[key]; ok {
			delete(s.users, key)
			deleted++
		}
	}
	return deleted, nil
}

type memTx struct {
	inventory map[string]domain.InventoryItem
	sales     map[string]domain.SaleAggregate
	saleKeys  map[string]string
	now       time.Time
}

func saleKey(petFoodID string, day time.Time) string {
	return petFoodID + "|" + day.Format(domain.DayLayout)
}

func (tx *memTx) GetInventoryByIDs(_ context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	found := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := tx.inventory[id]; ok {
			found[id] = item
		}
	}
	return found, nil
}

func (tx *memTx) GetSalesByIDs(_ context.Context, ids []string) ([]domain.SaleAggregate, error) {
	found := make([]domain.SaleAggregate, 0, len(ids))
	for _, id := range store.UniqueIDs(ids) {
		if sale, ok := tx.sales[id]; ok {
			found = append(found, sale)
		}
	}
	return found, nil
}

func (tx *memTx) CountSalesForItem(_ context.Context, itemID string) (int, error) {
	count := 0
	for _, sale := range tx.sales {
		if sale.PetFoodID == itemID {
			count++
		}
	}
	return count, nil
}

func (tx *memTx) UpsertSales(_ context.Context, increments []domain.SaleIncrement) error {
	for _, inc := range increments {
		key := saleKey(inc.PetFoodID, inc.SaleDate)
		if id, ok := tx.saleKeys[key]; ok {
			sale := tx.sales[id]
			sale.QuantitySold += inc.QuantitySold
			sale.Revenue = sale.Revenue.Add(inc.Revenue)
			sale.UpdatedAt = tx.now
			tx.sales[id] = sale
			continue
		}

		id := uuid.NewString()
		tx.sales[id] = domain.SaleAggregate{
			ID:                id,
			PetFoodID:         inc.PetFoodID,
			ProductName:       inc.ProductName,
			Brand:             inc.Brand,
			Category:          inc.Category,
			UnitOfMeasurement: inc.UnitOfMeasurement,
			QuantitySold:      inc.QuantitySold,
			Revenue:           inc.Revenue,
			SaleDate:          inc.SaleDate,
			CreatedAt:         tx.now,
			UpdatedAt:         tx.now,
		}
		tx.saleKeys[key] = id
	}
	return nil
}

func (tx *memTx) OverwriteSales(_ context.Context, overwrites []domain.SaleOverwrite) error {
	for _, ow := range overwrites {
		sale, ok := tx.sales[ow.ID]
		if !ok {
			return fmt.Errorf("sale %s: %w", ow.ID, store.ErrNotFound)
		}
		sale.QuantitySold = ow.QuantitySold
		sale.Revenue = ow.Revenue
		sale.ProductName = ow.ProductName
		sale.Brand = ow.Brand
		sale.Category = ow.Category
		sale.UnitOfMeasurement = ow.UnitOfMeasurement
		sale.UpdatedAt = tx.now
		tx.sales[ow.ID] = sale
	}
	return nil
}

func (tx *memTx) DeleteSales(_ context.Context, ids []string) (int, error) {
	deleted := 0
	for _, id := range store.UniqueIDs(ids) {
		sale, ok := tx.sales[id]
		if !ok {
			continue
		}
		delete(tx.sales, id)
		delete(tx.saleKeys, saleKey(sale.PetFoodID, sale.SaleDate))
		deleted++
	}
	return deleted, nil
}

func (tx *memTx) AdjustStock(_ context.Context, adjustments []domain.StockAdjustment, enforceFloor bool) error {
	for _, adj := range adjustments {
		item, ok := tx.inventory[adj.ItemID]
		if !ok {
			return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrNotFound)
		}
		item.StockQuantity += adj.Delta
		if enforceFloor && adj.Delta < 0 && item.StockQuantity < 0 {
			return fmt.Errorf("inventory item %s: %w", adj.ItemID, store.ErrInsufficientStock)
		}
		item.UpdatedAt = tx.now
		tx.inventory[adj.ItemID] = item
	}
	return nil
}

func (tx *memTx) UpdateInventoryItems(_ context.Context, items []domain.InventoryItem) error {
	for _, item := range items {
		existing, ok := tx.inventory[item.ID]
		if !ok {
			return fmt.Errorf("inventory item %s: %w", item.ID, store.ErrNotFound)
		}
		item.CreatedAt = existing.CreatedAt
		item.UpdatedAt = tx.now
		tx.inventory[item.ID] = item
	}
	return nil
}

func (tx *memTx) DeleteInventoryItem(_ context.Context, id string) error {
	if _, ok := tx.inventory[id]; !ok {
		return fmt.Errorf("inventory item %s: %w", id, store.ErrNotFound)
	}
	delete(tx.inventory, id)
	return nil
}
