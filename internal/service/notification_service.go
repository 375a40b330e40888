package service

import (
	"context"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

type NotificationService struct {
	w storeWriter
}

func NewNotificationService(store remote.Store) *NotificationService {
	return &NotificationService{w: newStoreWriter(store, "notification_service")}
}

// MarkRead flips the listed notifications of viewerID to read in one update.
// Ids that are missing or already read are skipped, so repeating a call is a
// no-op.
func (s *NotificationService) MarkRead(ctx context.Context, viewerID string, ids []string) error {
	span, ctx := observability.StartServiceSpan(ctx, "NotificationService", "MarkRead")
	defer span.End()

	if viewerID == "" {
		return models.NewUnauthorizedError("Sign in required")
	}
	if len(ids) == 0 {
		return nil
	}
	unread, err := s.unread(ctx, viewerID)
	if err != nil {
		return err
	}
	var ops []remote.Op
	for _, id := range ids {
		if !unread[id] {
			continue
		}
		delete(unread, id)
		ops = append(ops, remote.Set(remote.At(models.NotificationsPath(viewerID), id).Child("read"), true))
	}
	if err := s.w.update(ctx, "mark notifications read", map[string]interface{}{"count": len(ops)}, ops...); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// MarkAllRead marks every unread notification of viewerID as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, viewerID string) error {
	if viewerID == "" {
		return models.NewUnauthorizedError("Sign in required")
	}
	unread, err := s.unread(ctx, viewerID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(unread))
	for id := range unread {
		ids = append(ids, id)
	}
	return s.MarkRead(ctx, viewerID, ids)
}

// List returns the newest limit notifications of viewerID, oldest first.
func (s *NotificationService) List(ctx context.Context, viewerID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return listRecords[models.Notification](ctx, s.w.store,
		remote.Latest(models.NotificationsPath(viewerID), models.FieldCreatedAt, limit))
}

func (s *NotificationService) unread(ctx context.Context, viewerID string) (map[string]bool, error) {
	all, err := listRecords[models.Notification](ctx, s.w.store, remote.Collection(models.NotificationsPath(viewerID)))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(all))
	for _, n := range all {
		if !n.Read {
			out[n.ID] = true
		}
	}
	return out, nil
}
