package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"vibesync/internal/observability"
	"vibesync/internal/projection"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix = "notifications:user:"
	broadcastChannel  = "notifications:broadcast"
	commentsChannel   = "notifications:comments"
)

// Events published on a viewer channel.
const (
	EventSignOut = "sign_out"
)

// UserEvent is a control message addressed to every connection of a viewer.
type UserEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Notifier provides helpers to publish gateway events into Redis channels.
// With a nil client every publish is a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events leave this instance.
func (n *Notifier) Enabled() bool { return n != nil && n.rdb != nil }

// PublishUser sends a raw payload to every connection of a viewer.
func (n *Notifier) PublishUser(ctx context.Context, userID, payload string) error {
	if !n.Enabled() {
		return nil
	}
	return n.publish(ctx, UserChannel(userID), payload)
}

// PublishSignOut asks every instance to end the viewer's sessions.
func (n *Notifier) PublishSignOut(ctx context.Context, userID, reason string) error {
	data, err := json.Marshal(UserEvent{Type: EventSignOut, Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.PublishUser(ctx, userID, string(data))
}

// PublishBroadcast sends a payload to all connected viewers.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload string) error {
	if !n.Enabled() {
		return nil
	}
	return n.publish(ctx, broadcastChannel, payload)
}

// PublishCommentMutation tells every instance that a comment thread changed.
func (n *Notifier) PublishCommentMutation(ctx context.Context, mut projection.CommentMutation) error {
	if !n.Enabled() {
		return nil
	}
	data, err := json.Marshal(mut)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.publish(ctx, commentsChannel, string(data))
}

func (n *Notifier) publish(ctx context.Context, channel, payload string) error {
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("PUBLISH").Inc()
		return err
	}
	return nil
}

// StartPatternSubscriber subscribes to viewer, broadcast and comment channels
// and calls onMessage for each incoming message until ctx ends.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPrefix+"*", broadcastChannel, commentsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.RedisErrorRate.WithLabelValues("PSUBSCRIBE").Inc()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in pattern subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a viewer.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// CommentFanout delivers comment mutations to every session that may have
// the thread open. Without Redis it delivers locally; with Redis the
// subscriber delivers, including back to this instance.
type CommentFanout struct {
	notifier *Notifier
	local    func(projection.CommentMutation)
}

func NewCommentFanout(n *Notifier, local func(projection.CommentMutation)) *CommentFanout {
	return &CommentFanout{notifier: n, local: local}
}

func (f *CommentFanout) Publish(ctx context.Context, mut projection.CommentMutation) {
	if mut.PostID == "" {
		return
	}
	if f.notifier.Enabled() {
		err := f.notifier.PublishCommentMutation(ctx, mut)
		if err == nil {
			return
		}
		observability.GlobalLogger.WarnContext(ctx, "comment fanout failed, delivering locally",
			slog.String("post_id", mut.PostID),
			slog.String("error", err.Error()),
		)
	}
	if f.local != nil {
		f.local(mut)
	}
}
