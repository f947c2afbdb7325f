package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"petshop/backend/internal/domain"
)

type inventoryDoc struct {
	ID                primitive.ObjectID   `bson:"_id"`
	ProductName       string               `bson:"productName"`
	Brand             string               `bson:"brand"`
	Category          string               `bson:"category"`
	Price             primitive.Decimal128 `bson:"price"`
	UnitOfMeasurement string               `bson:"unitOfMeasurement"`
	StockQuantity     int                  `bson:"stockQuantity"`
	ExpireDate        time.Time            `bson:"expireDate"`
	CreatedAt         time.Time            `bson:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt"`
}

func inventoryDocFrom(item domain.InventoryItem) (inventoryDoc, error) {
	id, err := primitive.ObjectIDFromHex(item.ID)
	if err != nil {
		return inventoryDoc{}, err
	}
	price, err := toDecimal128(item.Price)
	if err != nil {
		return inventoryDoc{}, err
	}
	return inventoryDoc{
		ID:                id,
		ProductName:       item.ProductName,
		Brand:             item.Brand,
		Category:          item.Category,
		Price:             price,
		UnitOfMeasurement: item.UnitOfMeasurement,
		StockQuantity:     item.StockQuantity,
		ExpireDate:        item.ExpireDate,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}, nil
}

func (d inventoryDoc) toDomain() domain.InventoryItem {
	return domain.InventoryItem{
		ID:                d.ID.Hex(),
		ProductName:       d.ProductName,
		Brand:             d.Brand,
		Category:          d.Category,
		Price:             fromDecimal128(d.Price),
		UnitOfMeasurement: d.UnitOfMeasurement,
		StockQuantity:     d.StockQuantity,
		ExpireDate:        d.ExpireDate.UTC(),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

// saleDoc keeps pet_food_id as the item's hex id so the unique
// (pet_food_id, sale_date) index also covers ids written by other clients.
type saleDoc struct {
	ID                primitive.ObjectID   `bson:"_id"`
	PetFoodID         string               `bson:"pet_food_id"`
	ProductName       string               `bson:"productName"`
	Brand             string               `bson:"brand"`
	Category          string               `bson:"category"`
	UnitOfMeasurement string               `bson:"unitOfMeasurement"`
	QuantitySold      int                  `bson:"quantity_sold"`
	Revenue           primitive.Decimal128 `bson:"revenue"`
	SaleDate          time.Time            `bson:"sale_date"`
	CreatedAt         time.Time            `bson:"createdAt"`
	UpdatedAt         time.Time            `bson:"updatedAt"`
}

func (d saleDoc) toDomain() domain.SaleAggregate {
	return domain.SaleAggregate{
		ID:                d.ID.Hex(),
		PetFoodID:         d.PetFoodID,
		ProductName:       d.ProductName,
		Brand:             d.Brand,
		Category:          d.Category,
		UnitOfMeasurement: d.UnitOfMeasurement,
		QuantitySold:      d.QuantitySold,
		Revenue:           fromDecimal128(d.Revenue),
		SaleDate:          d.SaleDate.UTC(),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

type userDoc struct {
	Username  string    `bson:"username"`
	Name      string    `bson:"name"`
	Role      string    `bson:"role"`
	Password  string    `bson:"password"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d userDoc) toDomain() domain.UserAccount {
	return domain.UserAccount{
		Username:  d.Username,
		Name:      d.Name,
		Role:      d.Role,
		Password:  d.Password,
		CreatedAt: d.CreatedAt.UTC(),
	}
}
