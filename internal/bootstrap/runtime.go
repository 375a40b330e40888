// Package bootstrap assembles the process: backends, services, the HTTP
// gateway and the supervisor tree that runs them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vibesync/internal/cache"
	"vibesync/internal/config"
	"vibesync/internal/database"
	"vibesync/internal/middleware"
	"vibesync/internal/notifications"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
	"vibesync/internal/repository"
	"vibesync/internal/server"
	"vibesync/internal/service"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

// Runtime holds the assembled process.
type Runtime struct {
	Config   *config.Config
	Store    remote.Store
	Redis    *redis.Client
	DB       *gorm.DB
	Firebase *firebase.App
	Server   *server.Server

	tree    *Tree
	closers []func(context.Context) error
}

// Build connects every backend named by cfg and wires the services and the
// gateway. Nothing runs until Serve.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "vibesync",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplerRatio: cfg.TracingSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)

	// Redis is optional unless it is the store; without it the instance runs
	// standalone and rate limits fail open.
	cache.InitRedis(cfg.RedisURL)
	rt.Redis = cache.GetClient()

	if needsFirebase(cfg) {
		app, err := initFirebase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.Firebase = app
	}

	tree := NewTree(observability.GlobalLogger.Logger, DefaultTreeConfig())
	rt.tree = tree

	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	uploader, err := rt.openUploader(ctx)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.DB = db
	rt.closers = append(rt.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	verifier, err := middleware.NewVerifier(ctx, cfg, rt.Firebase)
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	media := service.NewMediaService(uploader, cfg)
	posts := service.NewPostService(store, media)
	svc := server.Services{
		Profiles:      service.NewProfileService(store, media),
		Posts:         posts,
		Comments:      service.NewCommentService(store),
		Friends:       service.NewFriendService(store),
		Chat:          service.NewChatService(store, media),
		Notifications: service.NewNotificationService(store),
		Stories:       service.NewStoryService(store, media),
		Moderation:    service.NewModerationService(store, posts, repository.NewAuditRepository(db)),
		Alerts:        service.NewAlertService(repository.NewAlertRepository(db)),
	}

	hub := notifications.NewHub(rt.Redis, store, notifications.PresenceConfig{
		Grace: cfg.PresenceGrace(),
	})
	notifier := notifications.NewNotifier(rt.Redis)

	rt.Server = server.NewServer(server.Deps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
		Redis:    rt.Redis,
		DB:       db,
		Hub:      hub,
		Notifier: notifier,
		Services: svc,
	})

	if notifier.Enabled() {
		tree.AddMessagingService(&hubWiring{hub: hub, notifier: notifier})
	}
	tree.AddAPIService(rt.Server)

	return rt, nil
}

// Serve runs the supervisor tree until ctx ends, then releases the backends.
func (rt *Runtime) Serve(ctx context.Context) error {
	err := rt.tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), rt.tree.config.ShutdownTimeout)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if cerr := rt.closers[i](closeCtx); cerr != nil {
			observability.GlobalLogger.Warn("shutdown step failed", slog.String("error", cerr.Error()))
		}
	}
	return err
}

func (rt *Runtime) openStore(ctx context.Context) (remote.Store, error) {
	cfg := rt.Config
	switch cfg.StoreBackend {
	case config.StoreRedis:
		if rt.Redis == nil {
			return nil, errors.New("the redis store needs a reachable REDIS_URL")
		}
		store := remote.NewRedisStore(rt.Redis, cfg.StorePrefix, observability.GlobalLogger.Logger)
		rt.tree.AddDataService(store)
		return store, nil
	case config.StoreFirestore:
		store, err := remote.NewFirestoreStore(ctx, rt.Firebase)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		if cfg.IsProduction() {
			return nil, errors.New("the memory store cannot be used in production")
		}
		observability.GlobalLogger.Warn("using the in-memory store; data is lost on restart")
		return remote.NewMemoryStore(), nil
	}
}

func (rt *Runtime) openUploader(ctx context.Context) (remote.Uploader, error) {
	cfg := rt.Config
	if rt.Firebase != nil && cfg.FirebaseStorageBucket != "" {
		up, err := remote.NewBucketUploader(ctx, rt.Firebase, cfg.FirebaseStorageBucket)
		if err != nil {
			return nil, fmt.Errorf("open storage bucket: %w", err)
		}
		return up, nil
	}
	up, err := remote.NewDiskUploader(cfg.UploadDir, cfg.MediaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("open upload dir: %w", err)
	}
	return up, nil
}

func needsFirebase(cfg *config.Config) bool {
	return cfg.AuthProvider == config.AuthFirebase ||
		cfg.StoreBackend == config.StoreFirestore ||
		cfg.FirebaseStorageBucket != ""
}

func initFirebase(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.FirebaseProjectID,
		StorageBucket: cfg.FirebaseStorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	return app, nil
}

// hubWiring subscribes the hub to cross-instance events for as long as it
// runs.
type hubWiring struct {
	hub      *notifications.Hub
	notifier *notifications.Notifier
}

func (w *hubWiring) Serve(ctx context.Context) error {
	if err := w.hub.StartWiring(ctx, w.notifier); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w *hubWiring) String() string { return "hub wiring" }

var _ suture.Service = (*hubWiring)(nil)
