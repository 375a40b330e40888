package projection

import (
	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

// DefaultNotificationWindow is the number of most recent notifications kept live.
const DefaultNotificationWindow = 50

// NotificationItem is a notification joined to its sender.
type NotificationItem struct {
	models.Notification
	Sender *models.User `json:"sender,omitempty"`
}

// NotificationsView is the rendered notification surface.
type NotificationsView struct {
	Items  []NotificationItem `json:"items"`
	Unread int                `json:"unread"`
}

// NotificationAggregator tracks one viewer's notification window. Alerts are
// driven by the difference against every id seen so far in the session, so
// a notification alerts at most once even if it leaves and re-enters the
// window.
type NotificationAggregator struct {
	viewerID string
	window   int
	seen     map[string]bool
	primed   bool
	items    []models.Notification
	unread   int
}

// NewNotificationAggregator creates an aggregator for viewerID.
func NewNotificationAggregator(viewerID string, window int) *NotificationAggregator {
	if window <= 0 {
		window = DefaultNotificationWindow
	}
	return &NotificationAggregator{viewerID: viewerID, window: window, seen: make(map[string]bool)}
}

// Query is the live subscription backing the aggregator.
func (a *NotificationAggregator) Query() remote.Query {
	return remote.Latest(models.NotificationsPath(a.viewerID), models.FieldCreatedAt, a.window)
}

// Apply replaces the notification window and returns the unread count plus
// the notifications that should raise an alert. The first snapshot only
// seeds the seen set. Later arrivals alert when they are unread, were sent
// by someone else and arrived while the session was in the background.
func (a *NotificationAggregator) Apply(items []models.Notification, foreground bool) (int, []models.Notification) {
	defer observability.TrackProjection("notifications")()

	a.items = items
	a.unread = 0
	var alerts []models.Notification
	for _, n := range items {
		if !n.Read {
			a.unread++
		}
		if a.seen[n.ID] {
			continue
		}
		a.seen[n.ID] = true
		if !a.primed || foreground || n.Read || n.SenderID == a.viewerID {
			continue
		}
		alerts = append(alerts, n)
	}
	a.primed = true
	return a.unread, alerts
}

// Unread returns the unread count of the last applied window.
func (a *NotificationAggregator) Unread() int { return a.unread }

// UnreadIDs lists the ids a mark-read should flip.
func (a *NotificationAggregator) UnreadIDs() []string {
	ids := make([]string, 0, a.unread)
	for _, n := range a.items {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// View renders the window newest first. Notifications from blocked or
// missing senders are not listed but still count as unread until marked.
func (a *NotificationAggregator) View(viewer models.Viewer, users Directory) NotificationsView {
	out := make([]NotificationItem, 0, len(a.items))
	for _, n := range a.items {
		if viewer.HasBlocked(n.SenderID) {
			continue
		}
		sender, ok := users.resolve(n.SenderID)
		if !ok {
			continue
		}
		out = append(out, NotificationItem{Notification: n, Sender: sender})
	}
	SortNewestFirst(out, func(n NotificationItem) (int64, string) { return n.CreatedAt, n.ID })
	return NotificationsView{Items: out, Unread: a.unread}
}
