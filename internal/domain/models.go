package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleNormal = "NORMAL"
	RoleAdmin  = "ADMIN"
)

// DayLayout is the wire format of calendar days.
const DayLayout = "2006-01-02"

var UnitsOfMeasurement = []string{"kg", "l", "g", "ml", "pieces"}

func IsUnitOfMeasurement(unit string) bool {
	for _, u := range UnitsOfMeasurement {
		if u == unit {
			return true
		}
	}
	return false
}

type InventoryItem struct {
	ID                string          `json:"_id"`
	ProductName       string          `json:"productName"`
	Brand             string          `json:"brand"`
	Category          string          `json:"category"`
	Price             decimal.Decimal `json:"price"`
	UnitOfMeasurement string          `json:"unitOfMeasurement"`
	StockQuantity     int             `json:"stockQuantity"`
	ExpireDate        time.Time       `json:"expireDate"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// SaleAggregate is the cumulative quantity and revenue of one product on one
// calendar day. SaleDate is midnight UTC of that day.
type SaleAggregate struct {
	ID                string          `json:"_id"`
	PetFoodID         string          `json:"pet_food_id"`
	ProductName       string          `json:"productName"`
	Brand             string          `json:"brand"`
	Category          string          `json:"category"`
	UnitOfMeasurement string          `json:"unitOfMeasurement"`
	QuantitySold      int             `json:"quantity_sold"`
	Revenue           decimal.Decimal `json:"revenue"`
	SaleDate          time.Time       `json:"sale_date"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SaleEntry is one line of a record-sales batch. Pointer fields distinguish
// "missing" from zero.
type SaleEntry struct {
	PetFoodID         string           `json:"pet_food_id" validate:"required"`
	SaleDate          string           `json:"sale_date" validate:"required"`
	QuantitySold      *int             `json:"quantity_sold" validate:"required,min=0"`
	Revenue           *decimal.Decimal `json:"revenue" validate:"required"`
	ProductName       string           `json:"productName"`
	Brand             string           `json:"brand"`
	Category          string           `json:"category"`
	UnitOfMeasurement string           `json:"unitOfMeasurement" validate:"omitempty,oneof=kg l g ml pieces"`
}

// SaleRevision replaces the mutable fields of an existing aggregate.
// Empty descriptive fields keep their stored value.
type SaleRevision struct {
	ID                string           `json:"_id" validate:"required"`
	PetFoodID         string           `json:"pet_food_id,omitempty"`
	SaleDate          string           `json:"sale_date,omitempty"`
	QuantitySold      *int             `json:"quantity_sold" validate:"required,min=0"`
	Revenue           *decimal.Decimal `json:"revenue" validate:"required"`
	ProductName       string           `json:"productName,omitempty"`
	Brand             string           `json:"brand,omitempty"`
	Category          string           `json:"category,omitempty"`
	UnitOfMeasurement string           `json:"unitOfMeasurement,omitempty" validate:"omitempty,oneof=kg l g ml pieces"`
	CreatedAt         string           `json:"createdAt,omitempty"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
}

// SaleIncrement is a normalised record-sales line: one per (PetFoodID, SaleDate).
type SaleIncrement struct {
	PetFoodID         string
	SaleDate          time.Time
	QuantitySold      int
	Revenue           decimal.Decimal
	ProductName       string
	Brand             string
	Category          string
	UnitOfMeasurement string
}

// SaleOverwrite is the absolute new state of an aggregate's mutable fields.
type SaleOverwrite struct {
	ID                string
	QuantitySold      int
	Revenue           decimal.Decimal
	ProductName       string
	Brand             string
	Category          string
	UnitOfMeasurement string
}

// StockAdjustment is a relative change: stock += Delta.
type StockAdjustment struct {
	ItemID string
	Delta  int
}

// SaleFilter is the raw filter set accepted from clients.
type SaleFilter struct {
	ID          string `json:"id,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Category    string `json:"category,omitempty"`
	ProductName string `json:"productName,omitempty"`
	All         bool   `json:"all,omitempty"`
}

func (f SaleFilter) IsEmpty() bool {
	return f.ID == "" && f.From == "" && f.To == "" && f.Brand == "" && f.Category == "" && f.ProductName == "" && !f.All
}

// SaleQuery is a resolved filter. From and To are inclusive calendar days.
type SaleQuery struct {
	PetFoodID   string
	From        *time.Time
	To          *time.Time
	Brand       string
	Category    string
	ProductName string
}

type RecordSalesResult struct {
	Message    string `json:"message"`
	Entries    int    `json:"entries"`
	Aggregates int    `json:"aggregates"`
}

type ModifySalesResult struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
}

type DeleteSalesResult struct {
	Message      string `json:"message"`
	DeletedCount int    `json:"deletedCount"`
}

type InventoryItemCreateRequest struct {
	ProductName       string           `json:"productName" validate:"required"`
	Brand             string           `json:"brand" validate:"required"`
	Category          string           `json:"category" validate:"required"`
	Price             *decimal.Decimal `json:"price" validate:"required"`
	UnitOfMeasurement string           `json:"unitOfMeasurement" validate:"required,oneof=kg l g ml pieces"`
	StockQuantity     *int             `json:"stockQuantity" validate:"required"`
	ExpireDate        string           `json:"expireDate" validate:"required"`
}

// InventoryItemUpdate sets the provided fields of an item absolutely.
type InventoryItemUpdate struct {
	ID                string           `json:"_id" validate:"required"`
	ProductName       *string          `json:"productName,omitempty"`
	Brand             *string          `json:"brand,omitempty"`
	Category          *string          `json:"category,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	UnitOfMeasurement *string          `json:"unitOfMeasurement,omitempty" validate:"omitempty,oneof=kg l g ml pieces"`
	StockQuantity     *int             `json:"stockQuantity,omitempty"`
	ExpireDate        *string          `json:"expireDate,omitempty"`
}

type InventoryDeleteRequest struct {
	ProductID string `json:"productId" validate:"required"`
}

type ProductSales struct {
	PetFoodID    string          `json:"pet_food_id"`
	ProductName  string          `json:"productName"`
	Brand        string          `json:"brand"`
	QuantitySold int             `json:"quantity_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

type StockAlert struct {
	ID            string `json:"_id"`
	ProductName   string `json:"productName"`
	Brand         string `json:"brand"`
	StockQuantity int    `json:"stockQuantity"`
}

type SalesReport struct {
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	TopProducts   []ProductSales  `json:"topProducts"`
	LowStock      []StockAlert    `json:"lowStock"`
	Sales         []SaleAggregate `json:"sales"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}
