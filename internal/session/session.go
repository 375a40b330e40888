package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/projection"
	"vibesync/internal/realtime"
	"vibesync/internal/remote"
)

// Frame types pushed to the client.
const (
	FrameSession        = "session"
	FrameFeed           = "feed"
	FrameStories        = "stories"
	FrameConversations  = "conversations"
	FrameNotifications  = "notifications"
	FrameAlert          = "alert"
	FrameComments       = "comments"
	FrameFriendRequests = "friend_requests"
	FrameChatOpened     = "chat_opened"
	FrameError          = "error"
)

const defaultStoryTick = time.Minute

// Frame is one server-to-client message.
type Frame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// StatePayload is the payload of a session frame.
type StatePayload struct {
	State   State        `json:"state"`
	Profile *models.User `json:"profile,omitempty"`
}

// Sink receives frames on the session loop. Send must not block.
type Sink interface {
	Send(f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

func (f SinkFunc) Send(fr Frame) { f(fr) }

// Actions are the writes a session triggers on behalf of its viewer.
type Actions interface {
	MarkRead(ctx context.Context, viewerID string, ids []string) error
	GetOrCreateConversation(ctx context.Context, viewerID, friendID string) (models.Conversation, error)
}

// AlertDeliverer records an alert delivery. first is false when the alert
// for this notification was already delivered, here or on another instance.
type AlertDeliverer interface {
	DeliverAlert(ctx context.Context, viewerID string, n models.Notification) (first bool, err error)
}

// Config tunes a session.
type Config struct {
	FeedPageSize       int
	CommentPageSize    int
	NotificationWindow int
	StoryTick          time.Duration
	Now                func() int64
}

// Deps are the collaborators of a session. Actions and Alerts are optional.
type Deps struct {
	Store    remote.Store
	Identity Identity
	Sink     Sink
	Actions  Actions
	Alerts   AlertDeliverer
}

type view uint8

const (
	viewFeed view = 1 << iota
	viewStories
	viewConversations
	viewNotifications
	viewComments
	viewFriendRequests

	viewAll = viewFeed | viewStories | viewConversations | viewNotifications | viewComments | viewFriendRequests
)

// Session is one viewer's realtime session. Everything below the mutex-free
// fields is owned by the loop.
type Session struct {
	id        string
	cfg       Config
	deps      Deps
	loop      *realtime.Loop
	reg       *realtime.Registry
	projector *Projector
	logger    *observability.SessionLogger
	stopTick  chan struct{}
	closeOnce sync.Once

	viewerSubs  []*realtime.Subscription
	viewer      models.Viewer
	users       projection.Directory
	feed        *projection.FeedProjector
	stories     []models.Story
	convs       []models.Conversation
	presence    map[string]models.Presence
	requests    []models.FriendRequest
	notifs      *projection.NotificationAggregator
	sheet       *projection.CommentSheet
	sheetSub    *realtime.Subscription
	foreground  bool
	dirty       view
	flushQueued bool
}

// New creates a session. Call Start to begin following the identity.
func New(id string, cfg Config, deps Deps) *Session {
	if cfg.StoryTick <= 0 {
		cfg.StoryTick = defaultStoryTick
	}
	if cfg.Now == nil {
		cfg.Now = models.NowMillis
	}
	loop := realtime.NewLoop()
	s := &Session{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		loop:       loop,
		reg:        realtime.NewRegistry(deps.Store, loop),
		logger:     observability.NewSessionLogger(id),
		stopTick:   make(chan struct{}),
		foreground: true,
	}
	s.projector = NewProjector(s.reg, deps.Identity, s, s.logger)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Start follows the identity and starts the story clock.
func (s *Session) Start() {
	s.projector.Start()
	go s.tick()
}

// Close tears the session down synchronously.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stopTick)
		s.loop.Do(func() {
			s.projector.Stop()
		})
		s.loop.Close()
		s.logger.LogEvent("session_closed", nil)
	})
}

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.loop.Done() }

// State returns the current session state.
func (s *Session) State() State {
	st := Unauthenticated
	s.loop.Do(func() { st = s.projector.State() })
	return st
}

// ViewerID returns the signed-in uid.
func (s *Session) ViewerID() string {
	var uid string
	s.loop.Do(func() { uid = s.projector.UID() })
	return uid
}

// InvalidateComments re-fetches the levels of an open comment sheet that a
// comment write changed.
func (s *Session) InvalidateComments(m projection.CommentMutation) {
	s.loop.Post(func() {
		sheet := s.sheet
		if sheet == nil {
			return
		}
		for _, f := range sheet.Invalidate(m) {
			s.fetchLevel(sheet, f)
		}
	})
}

func (s *Session) tick() {
	t := time.NewTicker(s.cfg.StoryTick)
	defer t.Stop()
	for {
		select {
		case <-s.stopTick:
			return
		case <-t.C:
			s.loop.Post(func() { s.mark(viewStories) })
		}
	}
}

// SessionChanged opens the per-viewer subscriptions on entering Active and
// closes them on leaving it.
func (s *Session) SessionChanged(t Transition) {
	payload := StatePayload{State: t.To}
	if t.Profile.ID != "" {
		profile := t.Profile
		payload.Profile = &profile
	}
	s.send(Frame{Type: FrameSession, Payload: payload})

	switch {
	case t.To == Active && t.From != Active:
		s.openViewer(t.Profile)
	case t.To == Active:
		s.setViewer(t.Profile)
	case t.From == Active:
		s.closeViewer()
	}
}

// SessionTerminated reports a fatal session error to the client.
func (s *Session) SessionTerminated(err error) {
	s.sendError(err)
}

func (s *Session) openViewer(profile models.User) {
	uid := profile.ID
	s.feed = projection.NewFeedProjector(s.cfg.FeedPageSize)
	s.notifs = projection.NewNotificationAggregator(uid, s.cfg.NotificationWindow)
	s.presence = make(map[string]models.Presence)
	s.setViewer(profile)

	feed, notifs := s.feed, s.notifs
	opens := []func() (*realtime.Subscription, error){
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.User](s.reg, "users", remote.Collection(models.CollectionUsers),
				func(c realtime.Collection[models.User]) {
					s.users = projection.NewDirectory(c.Items)
					req, more := feed.SetUsers(s.users)
					s.mark(viewAll)
					if more {
						s.fetchPage(feed, req)
					}
				})
		},
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.Post](s.reg, "feed_head", feed.HeadQuery(),
				func(c realtime.Collection[models.Post]) {
					req, more := feed.SetHead(c.Items)
					s.mark(viewFeed)
					if more {
						s.fetchPage(feed, req)
					}
				})
		},
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.Story](s.reg, "stories", remote.Collection(models.CollectionStories),
				func(c realtime.Collection[models.Story]) {
					s.stories = c.Items
					s.mark(viewStories)
				})
		},
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.FriendRequest](s.reg, "friend_requests",
				remote.Collection(models.FriendRequestsPath(uid)),
				func(c realtime.Collection[models.FriendRequest]) {
					s.requests = c.Items
					s.mark(viewFriendRequests)
				})
		},
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.Notification](s.reg, "notifications", notifs.Query(),
				func(c realtime.Collection[models.Notification]) {
					_, alerts := notifs.Apply(c.Items, s.foreground)
					s.mark(viewNotifications)
					for _, n := range alerts {
						s.alert(n)
					}
				})
		},
		func() (*realtime.Subscription, error) {
			q := remote.Collection(models.CollectionConversations).WhereEqual("members."+uid, true)
			return realtime.Subscribe[models.Conversation](s.reg, "conversations", q,
				func(c realtime.Collection[models.Conversation]) {
					s.convs = c.Items
					s.mark(viewConversations)
				})
		},
		func() (*realtime.Subscription, error) {
			return realtime.Subscribe[models.Presence](s.reg, "presence", remote.Collection(models.CollectionPresence),
				func(c realtime.Collection[models.Presence]) {
					presence := make(map[string]models.Presence, c.Len())
					for _, p := range c.Items {
						presence[p.UserID] = p
					}
					s.presence = presence
					s.mark(viewConversations)
				})
		},
	}

	for _, open := range opens {
		sub, err := open()
		if err != nil {
			// Failing here means the store refused a read; end the session
			// once the current transition has been delivered.
			s.loop.Post(func() { s.projector.fail(err) })
			return
		}
		s.viewerSubs = append(s.viewerSubs, sub)
	}
	s.logger.LogEvent("viewer_subscriptions_opened", map[string]interface{}{
		"viewer_id":     uid,
		"subscriptions": len(s.viewerSubs),
	})
}

func (s *Session) setViewer(profile models.User) {
	s.viewer = models.NewViewer(profile)
	s.mark(viewAll)
	if s.feed == nil {
		return
	}
	if req, more := s.feed.SetViewer(s.viewer); more {
		s.fetchPage(s.feed, req)
	}
}

func (s *Session) closeViewer() {
	for _, sub := range s.viewerSubs {
		sub.Close()
	}
	s.viewerSubs = nil
	s.closeSheet()
	s.viewer = models.Viewer{}
	s.users = projection.Directory{}
	s.feed = nil
	s.notifs = nil
	s.stories, s.convs, s.requests, s.presence = nil, nil, nil, nil
	s.dirty = 0
}

func (s *Session) active() bool {
	return s.projector.State() == Active && s.feed != nil
}

func (s *Session) mark(v view) {
	s.dirty |= v
	if s.flushQueued {
		return
	}
	s.flushQueued = true
	s.loop.Post(s.flush)
}

// flush renders every view marked since the last flush, so a burst of
// snapshots produces one frame per view.
func (s *Session) flush() {
	s.flushQueued = false
	dirty := s.dirty
	s.dirty = 0
	if !s.active() {
		return
	}

	if dirty&viewFeed != 0 {
		s.send(Frame{Type: FrameFeed, Payload: s.feed.View()})
	}
	if dirty&viewStories != 0 {
		s.send(Frame{Type: FrameStories, Payload: projection.ProjectStories(s.viewer, s.stories, s.users, s.cfg.Now())})
	}
	if dirty&viewConversations != 0 {
		s.send(Frame{Type: FrameConversations, Payload: projection.ProjectConversations(s.viewer, s.convs, s.users, s.presence)})
	}
	if dirty&viewNotifications != 0 {
		s.send(Frame{Type: FrameNotifications, Payload: s.notifs.View(s.viewer, s.users)})
	}
	if dirty&viewFriendRequests != 0 {
		s.send(Frame{Type: FrameFriendRequests, Payload: projection.ProjectFriendRequests(s.viewer, s.requests, s.users)})
	}
	if dirty&viewComments != 0 && s.sheet != nil {
		s.send(Frame{Type: FrameComments, Payload: s.sheet.View(s.viewer, s.users)})
	}
}

func (s *Session) fetchPage(feed *projection.FeedProjector, req projection.PageRequest) {
	store := s.deps.Store
	realtime.Run(s.reg, "feed_page",
		func(ctx context.Context) ([]models.Post, error) {
			return projection.FetchPage(ctx, store, req)
		},
		func(posts []models.Post, err error) {
			if s.feed != feed {
				return
			}
			if err != nil {
				s.sendError(models.NewInternalError(fmt.Errorf("load feed page: %w", err)))
			}
			next, more := feed.ApplyPage(req, posts, err)
			s.mark(viewFeed)
			if more {
				s.fetchPage(feed, next)
			}
		})
}

func (s *Session) openComments(postID string) {
	s.closeSheet()
	sheet := projection.NewCommentSheet(postID, s.cfg.CommentPageSize)
	s.sheet = sheet

	// The post record changes on every comment write because of its
	// denormalized count, so it doubles as the refetch trigger.
	sub, err := realtime.SubscribeRecord[models.Post](s.reg, "comment_post",
		remote.RecordQuery(models.CollectionPosts, postID),
		func(post models.Post, exists bool) {
			if s.sheet != sheet {
				return
			}
			if !exists || !privacy.IsPostVisible(s.viewer, post) {
				s.closeSheet()
				s.sendError(models.NewNotFoundError("Post", postID))
				return
			}
			for _, f := range sheet.Refresh() {
				s.fetchLevel(sheet, f)
			}
		})
	if err != nil {
		s.sheet = nil
		s.sendError(models.NewInternalError(fmt.Errorf("open comments: %w", err)))
		return
	}
	s.sheetSub = sub
}

func (s *Session) closeSheet() {
	if s.sheetSub != nil {
		s.sheetSub.Close()
		s.sheetSub = nil
	}
	if s.sheet != nil {
		s.sheet = nil
		s.send(Frame{Type: FrameComments})
	}
}

// fetchLevel runs one comment-level fetch off the loop and applies it to
// sheet if the sheet is still open and no newer fetch of the level landed.
func (s *Session) fetchLevel(sheet *projection.CommentSheet, f projection.LevelFetch) {
	store := s.deps.Store
	realtime.Run(s.reg, "comments",
		func(ctx context.Context) ([]models.Comment, error) {
			snap, err := store.Get(ctx, f.Query)
			if err != nil {
				return nil, err
			}
			return projection.DecodeRecords[models.Comment]("comments", snap), nil
		},
		func(comments []models.Comment, err error) {
			if s.sheet != sheet {
				return
			}
			if err != nil {
				s.sendError(models.NewInternalError(fmt.Errorf("load comments: %w", err)))
				return
			}
			if !sheet.Apply(f, comments) {
				observability.StaleDeliveriesDropped.WithLabelValues("comments").Inc()
				return
			}
			s.mark(viewComments)
		})
}

func (s *Session) alert(n models.Notification) {
	if s.viewer.HasBlocked(n.SenderID) {
		observability.AlertsEmitted.WithLabelValues("blocked").Inc()
		return
	}
	deliver := func() {
		sender, _ := s.users.Lookup(n.SenderID)
		item := projection.NotificationItem{Notification: n}
		if sender.ID != "" {
			item.Sender = &sender
		}
		observability.AlertsEmitted.WithLabelValues("delivered").Inc()
		s.send(Frame{Type: FrameAlert, Payload: item})
	}
	if s.deps.Alerts == nil {
		deliver()
		return
	}

	uid := s.viewer.ID
	realtime.Run(s.reg, "alert",
		func(ctx context.Context) (bool, error) {
			return s.deps.Alerts.DeliverAlert(ctx, uid, n)
		},
		func(first bool, err error) {
			switch {
			case err != nil:
				observability.AlertsEmitted.WithLabelValues("error").Inc()
				observability.GlobalLogger.Error("alert delivery failed",
					slog.String("session_id", s.id),
					slog.String("notification_id", n.ID),
					slog.String("error", err.Error()),
				)
			case !first:
				observability.AlertsEmitted.WithLabelValues("duplicate").Inc()
			case s.active():
				deliver()
			}
		})
}

func (s *Session) send(f Frame) {
	if s.deps.Sink != nil {
		s.deps.Sink.Send(f)
	}
}

func (s *Session) sendError(err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.NewInternalError(err)
	}
	s.send(Frame{Type: FrameError, Code: appErr.Code, Message: appErr.Message})
}
