package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vibesync/internal/config"

	"firebase.google.com/go/v4/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	v := NewJWTVerifier(testSecret)
	app := fiber.New()
	app.Get("/test", AuthRequired(v), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": UserID(c)})
	})

	issue := func(uid string, ttl time.Duration) string {
		tok, err := v.IssueToken(uid, ttl)
		require.NoError(t, err)
		return tok
	}
	foreign := func() string {
		tok, err := NewJWTVerifier("another-secret").IssueToken("u1", time.Hour)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID string
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + issue("01hx3k9", time.Hour),
			expectedStatus: http.StatusOK,
			expectedUserID: "01hx3k9",
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed Token",
			authHeader:     "Bearer malformed.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + issue("u1", -time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + foreign(),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUserID, body["userID"])
			}
		})
	}
}

func TestJWTVerifier_RejectsMissingSubject(t *testing.T) {
	t.Parallel()
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret).Verify(context.Background(), tok)
	assert.Error(t, err)
}

func TestWebSocketAuthRequired(t *testing.T) {
	t.Parallel()
	v := NewJWTVerifier(testSecret)
	app := fiber.New()
	app.Get("/ws-test", WebSocketAuthRequired(v), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})

	token, err := v.IssueToken("u1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		tokenParam     string
		authHeader     string
		expectedStatus int
	}{
		{name: "Token via Query Param", tokenParam: token, expectedStatus: http.StatusOK},
		{name: "Token via Header", authHeader: "Bearer " + token, expectedStatus: http.StatusOK},
		{name: "Missing Token", expectedStatus: http.StatusUnauthorized},
		{name: "Invalid Token", tokenParam: "invalid-token", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/ws-test"
			if tt.tokenParam != "" {
				path += "?token=" + tt.tokenParam
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

type stubIDTokens struct {
	uid string
	err error
}

func (s stubIDTokens) VerifyIDToken(context.Context, string) (*auth.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.Token{UID: s.uid}, nil
}

func TestFirebaseVerifier(t *testing.T) {
	t.Parallel()
	ok := &FirebaseVerifier{client: stubIDTokens{uid: "fb-user"}}
	uid, err := ok.Verify(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "fb-user", uid)

	bad := &FirebaseVerifier{client: stubIDTokens{err: errors.New("expired")}}
	_, err = bad.Verify(context.Background(), "id-token")
	assert.Error(t, err)

	empty := &FirebaseVerifier{client: stubIDTokens{}}
	_, err = empty.Verify(context.Background(), "id-token")
	assert.Error(t, err)
}

func TestNewVerifier(t *testing.T) {
	t.Parallel()
	v, err := NewVerifier(context.Background(), &config.Config{AuthProvider: config.AuthJWT, JWTSecret: testSecret}, nil)
	require.NoError(t, err)
	assert.IsType(t, &JWTVerifier{}, v)

	_, err = NewVerifier(context.Background(), &config.Config{AuthProvider: config.AuthFirebase}, nil)
	assert.Error(t, err)
}
