package payment

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Repository persists payment ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.PaymentLedgerEntry) error
	FindByIntent(ctx context.Context, intentRef string) (*models.PaymentLedgerEntry, error)
	Transition(ctx context.Context, intentRef string, from []enums.LedgerStatus, updates map[string]any) (bool, error)
	ListForReconciliation(ctx context.Context, before time.Time, limit int) ([]models.PaymentLedgerEntry, error)
	ListPending(ctx context.Context, before time.Time, limit int) ([]models.PaymentLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.PaymentLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByIntent(ctx context.Context, intentRef string) (*models.PaymentLedgerEntry, error) {
	var entry models.PaymentLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("intent_ref = ?", intentRef).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Transition applies updates only while the entry is in one of the from states.
// It reports whether a row moved.
func (r *repository) Transition(ctx context.Context, intentRef string, from []enums.LedgerStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentLedgerEntry{}).
		Where("intent_ref = ? AND status IN ?", intentRef, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListForReconciliation returns captured or commit_failed entries untouched since before.
func (r *repository) ListForReconciliation(ctx context.Context, before time.Time, limit int) ([]models.PaymentLedgerEntry, error) {
	var entries []models.PaymentLedgerEntry
	q := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.LedgerStatus{enums.LedgerStatusCaptured, enums.LedgerStatusCommitFailed}, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListPending returns pending entries created before the cutoff, oldest first.
func (r *repository) ListPending(ctx context.Context, before time.Time, limit int) ([]models.PaymentLedgerEntry, error) {
	var entries []models.PaymentLedgerEntry
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.LedgerStatusPending, before).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
