// Package middleware provides authentication, logging, tracing and rate
// limiting middleware for the HTTP and websocket surfaces.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vibesync/internal/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// userIDLocal is the fiber local holding the authenticated viewer id.
const userIDLocal = "userID"

var errInvalidToken = errors.New("invalid or expired token")

// TokenVerifier turns a bearer token into the viewer id it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (uid string, err error)
}

// JWTVerifier accepts HMAC-signed tokens whose subject is the viewer id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errors.New("invalid token structure - missing subject")
	}
	return sub, nil
}

// IssueToken signs a token for uid. It backs local development and seeding;
// production deployments normally use Firebase ID tokens.
func (v *JWTVerifier) IssueToken(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// idTokenVerifier is the part of the Firebase auth client we use.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil || t.UID == "" {
		return "", errInvalidToken
	}
	return t.UID, nil
}

// NewVerifier builds the verifier selected by cfg.AuthProvider. app is only
// used by the Firebase provider.
func NewVerifier(ctx context.Context, cfg *config.Config, app *firebase.App) (TokenVerifier, error) {
	switch cfg.AuthProvider {
	case config.AuthFirebase:
		if app == nil {
			return nil, errors.New("firebase auth requires a firebase app")
		}
		return NewFirebaseVerifier(ctx, app)
	default:
		return NewJWTVerifier(cfg.JWTSecret), nil
	}
}

// AuthRequired enforces a bearer token on protected routes.
func AuthRequired(v TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		return authenticate(c, v, token)
	}
}

// WebSocketAuthRequired validates the token from the query string, falling
// back to the Authorization header. Browsers cannot set headers on a
// websocket upgrade.
func WebSocketAuthRequired(v TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			var err error
			if token, err = bearerToken(c); err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token required"})
			}
		}
		return authenticate(c, v, token)
	}
}

// UserID returns the authenticated viewer id, or "" on public routes.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(userIDLocal).(string)
	return uid
}

// SetUserID marks the request as authenticated for uid.
func SetUserID(c *fiber.Ctx, uid string) {
	c.Locals(userIDLocal, uid)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, uid))
}

func authenticate(c *fiber.Ctx, v TokenVerifier, token string) error {
	uid, err := v.Verify(c.UserContext(), token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	SetUserID(c, uid)
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}
