// Package catalog is the read side of the product catalog used to validate cart changes.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Product is a point-in-time snapshot of price and stock.
type Product struct {
	ID            uuid.UUID
	Name          string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	Stock         int
}

// EffectivePrice is the discount price when present, otherwise the list price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// Reader is the catalog read capability.
type Reader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
}

// Repository reads products from the shared catalog tables.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog reader bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetProduct returns the current snapshot of an active product.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	var row models.Product
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Product{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return Product{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return Product{
		ID:            row.ID,
		Name:          row.Name,
		Price:         row.Price,
		DiscountPrice: row.DiscountPrice,
		Stock:         row.Stock,
	}, nil
}

// Upsert inserts or refreshes catalog rows keyed by id. Used by the seed
// command; the storefront itself never writes products.
func (r *Repository) Upsert(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	for i := range products {
		if products[i].ID == uuid.Nil {
			products[i].ID = uuid.New()
		}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "price", "discount_price", "stock", "is_active", "updated_at"}),
	}).Create(&products).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert products")
	}
	return nil
}
