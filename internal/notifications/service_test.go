package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	paginationpkg "github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type fakeRepository struct {
	listFn        func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn    func(ctx context.Context, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	markAllReadFn func(ctx context.Context, now time.Time) (int64, error)
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	return true, nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, notificationID, now)
	}
	return markMissing, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, now)
	}
	return 0, nil
}

func (f *fakeRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo)
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: first.CreatedAt, ID: first.ID}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if decoded.ID != first.ID {
		t.Fatalf("cursor mismatch: %s", decoded.ID)
	}
}

func TestService_ListRejectsBadCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{Cursor: "%%%"})
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
			if notificationID != id {
				t.Fatalf("unexpected id %s", notificationID)
			}
			return markUpdated, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), id); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(context.Background(), uuid.Nil); err == nil {
		t.Fatalf("expected validation error for nil id")
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	err := svc.MarkRead(context.Background(), uuid.New())
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_MarkAllReadWrapsErrors(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{
		markAllReadFn: func(ctx context.Context, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	})
	_, err := svc.MarkAllRead(context.Background())
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRepository_ListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t).DB())
	base := time.Now().UTC().Truncate(time.Second)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n := &models.Notification{
			Type:      enums.NotificationTypeOrderAlert,
			Title:     "New order",
			Message:   "order placed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		created, err := repo.Create(ctx, n)
		if err != nil || !created {
			t.Fatalf("create notification: %v", err)
		}
		ids = append(ids, n.ID)
	}

	page, next, err := repo.List(ctx, listNotificationsParams{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || next == nil {
		t.Fatalf("expected a full page with cursor, got %d rows", len(page))
	}
	if page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("expected newest first")
	}
	rest, next, err := repo.List(ctx, listNotificationsParams{Limit: 2, Cursor: next})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != ids[0] || next != nil {
		t.Fatalf("unexpected second page %+v", rest)
	}

	mark, err := repo.MarkRead(ctx, ids[0], base)
	if err != nil || mark != markUpdated {
		t.Fatalf("mark read: %v %v", mark, err)
	}
	again, err := repo.MarkRead(ctx, ids[0], base)
	if err != nil || again != markAlreadyRead {
		t.Fatalf("second mark read: %v %v", again, err)
	}
	missing, err := repo.MarkRead(ctx, uuid.New(), base)
	if err != nil || missing != markMissing {
		t.Fatalf("missing mark read: %v %v", missing, err)
	}

	count, err := repo.MarkAllRead(ctx, base)
	if err != nil || count != 2 {
		t.Fatalf("mark all read: %d %v", count, err)
	}
	unread, _, err := repo.List(ctx, listNotificationsParams{Limit: 10, UnreadOnly: true})
	if err != nil || len(unread) != 0 {
		t.Fatalf("expected no unread, got %d %v", len(unread), err)
	}

	pruned, err := repo.DeleteReadBefore(ctx, base.Add(time.Second))
	if err != nil || pruned != 3 {
		t.Fatalf("delete read: %d %v", pruned, err)
	}
}
