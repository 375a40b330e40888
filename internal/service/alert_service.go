package service

import (
	"context"
	"sync"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/repository"
)

// AlertService claims alert deliveries so an alert is shown at most once per
// viewer and notification, across sessions and instances.
type AlertService struct {
	repo repository.AlertRepository
}

func NewAlertService(repo repository.AlertRepository) *AlertService {
	return &AlertService{repo: repo}
}

// DeliverAlert implements session.AlertDeliverer.
func (s *AlertService) DeliverAlert(ctx context.Context, viewerID string, n models.Notification) (bool, error) {
	defer observability.TrackQuery("INSERT", "alert_deliveries")()
	return s.repo.Record(ctx, viewerID, n.ID)
}

// MemoryAlertLedger is an in-process AlertRepository for the memory backend
// and tests. Claims do not survive a restart.
type MemoryAlertLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryAlertLedger() *MemoryAlertLedger {
	return &MemoryAlertLedger{seen: make(map[string]bool)}
}

func (l *MemoryAlertLedger) Record(_ context.Context, viewerID, notificationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := viewerID + "/" + notificationID
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

func (l *MemoryAlertLedger) Delivered(_ context.Context, viewerID, notificationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[viewerID+"/"+notificationID], nil
}

var _ repository.AlertRepository = (*MemoryAlertLedger)(nil)

// SessionActions bundles the writes a session performs for its viewer.
type SessionActions struct {
	*NotificationService
	*ChatService
}
