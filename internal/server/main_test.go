package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vibesync/internal/config"
	"vibesync/internal/database"
	"vibesync/internal/middleware"
	"vibesync/internal/models"
	"vibesync/internal/remote"
	"vibesync/internal/repository"
	"vibesync/internal/service"
	"vibesync/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	srv      *Server
	app      *fiber.App
	store    *remote.MemoryStore
	verifier *middleware.JWTVerifier
	db       *gorm.DB
}

// newTestServer builds a server over an in-memory store with the real
// services and a migrated in-memory database.
func newTestServer(t *testing.T, rdb *redis.Client) *testServer {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Env:                "test",
		JWTSecret:          "test-secret",
		AllowedOrigins:     "http://localhost:5173",
		StoreBackend:       config.StoreMemory,
		FeedPageSize:       10,
		CommentPageSize:    10,
		NotificationWindow: 20,
	}
	store := remote.NewMemoryStore()
	media := service.NewMediaService(testutil.NewUploaderStub(), nil)
	posts := service.NewPostService(store, media)
	svc := Services{
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

	verifier := middleware.NewJWTVerifier(cfg.JWTSecret)
	srv := NewServer(Deps{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
		Redis:    rdb,
		DB:       db,
		Services: svc,
	})
	return &testServer{srv: srv, app: srv.App(), store: store, verifier: verifier, db: db}
}

func (ts *testServer) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := ts.verifier.IssueToken(uid, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) seedUser(t *testing.T, id string, mutate ...func(*models.User)) models.User {
	t.Helper()
	u := models.User{
		ID:          id,
		DisplayName: "User " + id,
		Handle:      id,
		CreatedAt:   models.NowMillis(),
	}
	for _, m := range mutate {
		m(&u)
	}
	require.NoError(t, ts.store.Update(context.Background(),
		remote.Set(remote.At(models.CollectionUsers, id), u)))
	return u
}

func (ts *testServer) user(t *testing.T, id string) models.User {
	t.Helper()
	snap, err := ts.store.Get(context.Background(), remote.RecordQuery(models.CollectionUsers, id))
	require.NoError(t, err)
	u, ok, err := remote.DecodeOne[models.User](snap)
	require.NoError(t, err)
	require.True(t, ok, "user %s missing", id)
	return u
}

// do sends a JSON request as uid; an empty uid sends no token.
func (ts *testServer) do(t *testing.T, method, path, uid string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, uid))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func asAdmin(u *models.User) { u.Role = models.RoleAdmin }
