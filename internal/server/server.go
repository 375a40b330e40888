// Package server contains the HTTP API and the websocket session gateway.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vibesync/internal/cache"
	"vibesync/internal/config"
	"vibesync/internal/middleware"
	"vibesync/internal/models"
	"vibesync/internal/notifications"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
	"vibesync/internal/service"
	"vibesync/internal/session"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Services are the write and query paths exposed over HTTP.
type Services struct {
	Profiles      *service.ProfileService
	Posts         *service.PostService
	Comments      *service.CommentService
	Friends       *service.FriendService
	Chat          *service.ChatService
	Notifications *service.NotificationService
	Stories       *service.StoryService
	Moderation    *service.ModerationService
	Alerts        *service.AlertService
}

// Deps are the collaborators of a Server. Redis and DB may be nil.
type Deps struct {
	Config   *config.Config
	Store    remote.Store
	Verifier middleware.TokenVerifier
	Redis    *redis.Client
	DB       *gorm.DB
	Hub      *notifications.Hub
	Notifier *notifications.Notifier
	Sessions *session.Manager
	Services Services
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          remote.Store
	verifier       middleware.TokenVerifier
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	hub            *notifications.Hub
	notifier       *notifications.Notifier
	sessions       *session.Manager
	comments       *notifications.CommentFanout
	handles        *cache.HandleCache
	tickets        *ticketStore
	svc            Services
}

// NewServer creates a server and wires the gateway hub to the sessions
// running on this instance.
func NewServer(d Deps) *Server {
	if d.Sessions == nil {
		d.Sessions = session.NewManager()
	}
	if d.Hub == nil {
		d.Hub = notifications.NewHub(d.Redis, d.Store, notifications.PresenceConfig{
			Grace: d.Config.PresenceGrace(),
		})
	}
	if d.Notifier == nil {
		d.Notifier = notifications.NewNotifier(d.Redis)
	}

	s := &Server{
		config:         d.Config,
		store:          d.Store,
		verifier:       d.Verifier,
		db:             d.DB,
		redis:          d.Redis,
		promMiddleware: middleware.InitMetrics("vibesync-api"),
		hub:            d.Hub,
		notifier:       d.Notifier,
		sessions:       d.Sessions,
		handles:        cache.NewHandleCache(d.Redis),
		tickets:        newTicketStore(d.Redis),
		svc:            d.Services,
	}
	s.comments = notifications.NewCommentFanout(s.notifier, s.sessions.InvalidateComments)
	s.hub.OnCommentMutation(s.sessions.InvalidateComments)
	s.hub.OnSignOut(func(userID, reason string) {
		s.hub.CloseUser(userID, reason)
	})
	return s
}

// Hub returns the gateway hub, for wiring into the supervisor tree.
func (s *Server) Hub() *notifications.Hub { return s.hub }

// Notifier returns the cross-instance event publisher.
func (s *Server) Notifier() *notifications.Notifier { return s.notifier }

// Services returns the services the handlers call.
func (s *Server) Services() Services { return s.svc }

// App builds the fiber app on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "vibesync",
		BodyLimit: int(maxUploadBytes(s.config)) + 1<<20,
		// Params and body strings outlive the request as store keys.
		Immutable: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, errors.New(fe.Message))
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if s.config.StoreBackend != config.StoreFirestore && s.config.UploadDir != "" {
		app.Static("/media", s.config.UploadDir)
	}

	app.Get("/ws", middleware.AssignSessionID(models.NewID), s.wsAuth(), requireUpgrade, s.SessionGateway())

	api := app.Group("/api")
	protected := api.Group("", middleware.AuthRequired(s.verifier))

	protected.Post("/ws/ticket", s.IssueWSTicket)

	protected.Get("/profile", s.GetMyProfile)
	protected.Put("/profile", middleware.RateLimit(s.redis, 10, time.Minute, "complete_profile"), s.CompleteProfile)
	protected.Patch("/profile", s.UpdateProfile)
	protected.Get("/users/:id", s.GetUserProfile)
	protected.Get("/handles/:handle", s.LookupHandle)

	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(s.redis, 10, 5*time.Minute, "create_post"), s.CreatePost)
	posts.Post("/:id/reactions", s.ToggleReaction)
	posts.Post("/:id/bookmark", s.ToggleBookmark)
	posts.Post("/:id/comments", middleware.RateLimit(s.redis, 20, time.Minute, "create_comment"), s.CreateComment)
	posts.Patch("/:id/comments/:commentId", s.UpdateComment)
	posts.Delete("/:id/comments/:commentId", s.DeleteComment)
	posts.Get("/:id", s.GetPost)
	posts.Patch("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	friends := protected.Group("/friends")
	friends.Get("/requests", s.GetPendingRequests)
	friends.Post("/requests/:userId", middleware.RateLimit(s.redis, 5, 5*time.Minute, "friend_request"), s.SendFriendRequest)
	friends.Post("/requests/:userId/accept", s.AcceptFriendRequest)
	friends.Post("/requests/:userId/reject", s.RejectFriendRequest)
	friends.Delete("/requests/:userId", s.CancelFriendRequest)
	friends.Post("/:userId/block", s.BlockUser)
	friends.Delete("/:userId/block", s.UnblockUser)
	friends.Delete("/:userId", s.RemoveFriend)

	conversations := protected.Group("/conversations")
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(s.redis, 15, time.Minute, "send_chat"), s.SendMessage)
	conversations.Post("/:friendId", s.OpenConversation)

	notifs := protected.Group("/notifications")
	notifs.Get("/", s.GetNotifications)
	notifs.Post("/read", s.MarkNotificationsRead)
	notifs.Post("/read-all", s.MarkAllNotificationsRead)

	stories := protected.Group("/stories")
	stories.Post("/", middleware.RateLimit(s.redis, 10, 5*time.Minute, "create_story"), s.CreateStory)
	stories.Post("/:id/view", s.ViewStory)
	stories.Post("/:id/like", s.ToggleStoryLike)
	stories.Delete("/:id", s.DeleteStory)

	admin := protected.Group("/admin", s.AdminRequired())
	admin.Post("/users/:id/ban", s.BanUser)
	admin.Delete("/users/:id/ban", s.UnbanUser)
	admin.Delete("/posts/:id", s.AdminDeletePost)
	admin.Get("/audit", s.GetAudit)
}

// LivenessCheck handles liveness check requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports the database and Redis status. Redis is optional:
// without it the instance runs standalone.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "unavailable"
	if s.db != nil {
		dbStatus = "healthy"
		if sqlDB, err := s.db.DB(); err != nil {
			dbStatus = "unhealthy"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "unhealthy"
		}
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions":    s.sessions.Len(),
		"connections": s.hub.Connections(),
		"time":        time.Now(),
	})
}

// AdminRequired rejects non-admin viewers with 403. It must run after
// AuthRequired.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := middleware.UserID(c)
		profile, err := s.svc.Profiles.GetProfile(c.UserContext(), uid, uid)
		if err != nil && !models.IsCode(err, models.CodeNotFound) {
			return respondError(c, err)
		}
		if err != nil || !profile.IsAdmin() {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

// Serve runs the HTTP server until ctx ends. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	app := s.App()
	errCh := make(chan error, 1)
	go func() {
		observability.GlobalLogger.Info("server starting", slog.String("port", s.config.Port))
		errCh <- app.Listen(":" + s.config.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return ctx.Err()
}

// Shutdown stops accepting requests, then closes every session and socket.
func (s *Server) Shutdown(ctx context.Context) {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.GlobalLogger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}
	s.sessions.CloseAll()
	if err := s.hub.Shutdown(ctx); err != nil {
		observability.GlobalLogger.Error("error shutting down hub", slog.String("error", err.Error()))
	}
	observability.GlobalLogger.Info("server shutdown complete")
}

func (s *Server) String() string { return "http server" }
