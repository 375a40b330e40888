package projection

import (
	"testing"

	"vibesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(id, sender string, createdAt int64, read bool) models.Notification {
	return models.Notification{
		ID:          id,
		RecipientID: "me",
		SenderID:    sender,
		Kind:        models.NotificationLike,
		Read:        read,
		CreatedAt:   createdAt,
	}
}

func TestNotificationAggregator_FirstSnapshotPrimes(t *testing.T) {
	t.Parallel()
	a := NewNotificationAggregator("me", 0)
	assert.Equal(t, DefaultNotificationWindow, a.Query().LimitToLast)

	unread, alerts := a.Apply([]models.Notification{
		notification("n1", "bob", 1, false),
		notification("n2", "bob", 2, true),
	}, false)

	assert.Equal(t, 1, unread)
	assert.Empty(t, alerts)
	assert.Equal(t, []string{"n1"}, a.UnreadIDs())
}

func TestNotificationAggregator_AlertsOnlyNewBackgroundArrivals(t *testing.T) {
	t.Parallel()
	a := NewNotificationAggregator("me", 10)
	base := []models.Notification{notification("n1", "bob", 1, false)}
	a.Apply(base, false)

	next := append(base,
		notification("n2", "bob", 2, false),
		notification("n3", "me", 3, false),
		notification("n4", "bob", 4, true),
	)
	unread, alerts := a.Apply(next, false)
	assert.Equal(t, 3, unread)
	require.Len(t, alerts, 1)
	assert.Equal(t, "n2", alerts[0].ID)

	// Redelivery of the same window never alerts twice.
	_, alerts = a.Apply(next, false)
	assert.Empty(t, alerts)

	// A notification that left the window and came back is still seen.
	a.Apply(next[1:], false)
	_, alerts = a.Apply(next, false)
	assert.Empty(t, alerts)
}

func TestNotificationAggregator_ForegroundArrivalsNeverAlertLater(t *testing.T) {
	t.Parallel()
	a := NewNotificationAggregator("me", 10)
	a.Apply(nil, true)

	items := []models.Notification{notification("n1", "bob", 1, false)}
	_, alerts := a.Apply(items, true)
	assert.Empty(t, alerts)

	_, alerts = a.Apply(items, false)
	assert.Empty(t, alerts, "already seen while in the foreground")
	assert.Equal(t, 1, a.Unread())
}

func TestNotificationAggregator_View(t *testing.T) {
	t.Parallel()
	a := NewNotificationAggregator("me", 10)
	a.Apply([]models.Notification{
		notification("n1", "bob", 1, false),
		notification("n2", "blocked", 2, false),
		notification("n3", "gone", 3, true),
		notification("n4", "bob", 4, true),
	}, true)

	view := a.View(models.Viewer{ID: "me", Blocked: models.NewIDSet("blocked")}, directoryOf("bob", "blocked"))

	require.Len(t, view.Items, 2)
	assert.Equal(t, "n4", view.Items[0].ID)
	assert.Equal(t, "n1", view.Items[1].ID)
	assert.Equal(t, "bob", view.Items[1].Sender.ID)
	assert.Equal(t, 2, view.Unread)
}
