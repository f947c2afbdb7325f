package store

import (
	"context"
	"errors"

	"petshop/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate")
)

// Tx is the transactional view of inventory and sale aggregates handed to
// InTx callbacks. All writes issued through one Tx commit or roll back together
// on stores that support it.
type Tx interface {
	// GetInventoryByIDs returns the items found, keyed by id. Unknown ids are absent.
	GetInventoryByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)
	// GetSalesByIDs returns the aggregates found. Stores that can lock rows do so
	// until the transaction ends.
	GetSalesByIDs(ctx context.Context, ids []string) ([]domain.SaleAggregate, error)
	CountSalesForItem(ctx context.Context, itemID string) (int, error)

	// UpsertSales creates the aggregate for each (PetFoodID, SaleDate) key or adds
	// the increment's quantity and revenue to the existing one.
	UpsertSales(ctx context.Context, increments []domain.SaleIncrement) error
	OverwriteSales(ctx context.Context, overwrites []domain.SaleOverwrite) error
	DeleteSales(ctx context.Context, ids []string) (int, error)

	// AdjustStock applies relative stock changes. With enforceFloor set, a
	// negative delta that leaves stock below zero fails with ErrInsufficientStock.
	// A missing item fails with ErrNotFound.
	AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment, enforceFloor bool) error
	UpdateInventoryItems(ctx context.Context, items []domain.InventoryItem) error
	DeleteInventoryItem(ctx context.Context, id string) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	CreateInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error)

	QuerySales(ctx context.Context, query domain.SaleQuery) ([]domain.SaleAggregate, error)
	DeleteAllSales(ctx context.Context) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	DeleteUsers(ctx context.Context, usernames []string) (int, error)
}
