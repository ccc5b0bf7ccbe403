package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// uniqueEventAlert is the index on (event_id, type) that makes in-app delivery
// idempotent under redelivery.
const uniqueEventAlert = "idx_notifications_event_type"

// markOutcome says what MarkRead found.
type markOutcome int

const (
	markMissing markOutcome = iota
	markAlreadyRead
	markUpdated
)

// Repository persists operator alerts.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	MarkAllRead(ctx context.Context, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type listNotificationsParams struct {
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &gormRepository{db: conn}
}

func (r *gormRepository) alerts(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{})
}

// Create reports false, without error, when an alert for the same event and
// type already exists.
func (r *gormRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Create(n).Error
	if err != nil && n.EventID != nil && db.IsUniqueViolation(err, uniqueEventAlert) {
		return false, nil
	}
	return err == nil, err
}

// List pages newest first.
func (r *gormRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	q := r.alerts(ctx)
	if params.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var rows []models.Notification
	if err := q.Scopes(pagination.Keyset(params.Cursor, params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, id uuid.UUID, now time.Time) (markOutcome, error) {
	var current models.Notification
	err := r.alerts(ctx).Select("id", "read_at").Where("id = ?", id).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return markMissing, nil
	case err != nil:
		return markMissing, err
	case current.ReadAt != nil:
		return markAlreadyRead, nil
	}

	res := r.alerts(ctx).Where("id = ? AND read_at IS NULL", id).UpdateColumn("read_at", now)
	if res.Error != nil {
		return markMissing, res.Error
	}
	if res.RowsAffected == 0 {
		// lost a race with another reader
		return markAlreadyRead, nil
	}
	return markUpdated, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, now time.Time) (int64, error) {
	res := r.alerts(ctx).Where("read_at IS NULL").UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore prunes alerts read before cutoff; unread alerts are kept.
func (r *gormRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
