package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// RepositoryStore keeps authenticated carts in the carts/cart_lines tables.
// Every Save replaces the full snapshot, so concurrent devices resolve last-writer-wins.
type RepositoryStore struct {
	db *gorm.DB
}

func NewRepositoryStore(db *gorm.DB) *RepositoryStore {
	return &RepositoryStore{db: db}
}

// WithTx binds the store to an existing transaction.
func (s *RepositoryStore) WithTx(tx *gorm.DB) *RepositoryStore {
	if tx == nil {
		return s
	}
	return &RepositoryStore{db: tx}
}

func (s *RepositoryStore) Load(ctx context.Context, owner identity.Owner) (Cart, error) {
	var row models.Cart
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("owner_key = ?", owner.Key).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyCart(owner), nil
		}
		return Cart{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	c := Cart{
		OwnerKey:     row.OwnerKey,
		Lines:        make([]Line, 0, len(row.Lines)),
		LastModified: row.LastModified.UTC(),
	}
	for _, line := range row.Lines {
		c.Lines = append(c.Lines, Line{
			ProductID:     line.ProductID,
			Name:          line.Name,
			UnitPrice:     line.UnitPrice,
			DiscountPrice: line.DiscountPrice,
			Quantity:      line.Quantity,
			StockAtRead:   line.StockAtRead,
		})
	}
	return c, nil
}

func (s *RepositoryStore) Save(ctx context.Context, owner identity.Owner, c Cart) error {
	modified := c.LastModified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Cart{OwnerKey: owner.Key, LastModified: modified}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_modified", "updated_at"}),
		}).Omit("Lines").Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_key = ?", owner.Key).Delete(&models.CartLine{}).Error; err != nil {
			return err
		}
		if len(c.Lines) == 0 {
			return nil
		}
		lines := make([]models.CartLine, 0, len(c.Lines))
		for i, line := range c.Lines {
			lines = append(lines, models.CartLine{
				ID:            uuid.New(),
				OwnerKey:      owner.Key,
				Position:      i,
				ProductID:     line.ProductID,
				Name:          line.Name,
				UnitPrice:     line.UnitPrice,
				DiscountPrice: line.DiscountPrice,
				Quantity:      line.Quantity,
				StockAtRead:   line.StockAtRead,
			})
		}
		return tx.Create(&lines).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	return nil
}

func (s *RepositoryStore) Delete(ctx context.Context, owner identity.Owner) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_key = ?", owner.Key).Delete(&models.CartLine{}).Error; err != nil {
			return err
		}
		return tx.Where("owner_key = ?", owner.Key).Delete(&models.Cart{}).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart")
	}
	return nil
}

// PurgeStale deletes carts whose last modification is older than cutoff and returns how many went.
func (s *RepositoryStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Cart{}).Select("owner_key").Where("last_modified < ?", cutoff)
		if err := tx.Where("owner_key IN (?)", stale).Delete(&models.CartLine{}).Error; err != nil {
			return err
		}
		res := tx.Where("last_modified < ?", cutoff).Delete(&models.Cart{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge stale carts")
	}
	return purged, nil
}
