// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// Identity providers.
const (
	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	AuthProvider string `mapstructure:"AUTH_PROVIDER"`

	StoreBackend string `mapstructure:"STORE_BACKEND"`
	StorePrefix  string `mapstructure:"STORE_PREFIX"`
	RedisURL     string `mapstructure:"REDIS_URL"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBPath                   string `mapstructure:"DB_PATH"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseStorageBucket   string `mapstructure:"FIREBASE_STORAGE_BUCKET"`

	UploadDir     string `mapstructure:"UPLOAD_DIR"`
	MediaBaseURL  string `mapstructure:"MEDIA_BASE_URL"`
	MaxImageBytes int64  `mapstructure:"MAX_IMAGE_BYTES"`
	MaxVideoBytes int64  `mapstructure:"MAX_VIDEO_BYTES"`

	FeedPageSize         int `mapstructure:"FEED_PAGE_SIZE"`
	CommentPageSize      int `mapstructure:"COMMENT_PAGE_SIZE"`
	NotificationWindow   int `mapstructure:"NOTIFICATION_WINDOW"`
	StoryTickSeconds     int `mapstructure:"STORY_TICK_SECONDS"`
	PresenceGraceSeconds int `mapstructure:"PRESENCE_GRACE_SECONDS"`

	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter   string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint   string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env and defaults cover a local run.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("AUTH_PROVIDER", AuthJWT)

	viper.SetDefault("STORE_BACKEND", StoreMemory)
	viper.SetDefault("STORE_PREFIX", "vibesync:")
	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_PATH", "vibesync.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "vibesync")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)

	viper.SetDefault("UPLOAD_DIR", "uploads")
	viper.SetDefault("MEDIA_BASE_URL", "http://localhost:8375/media")
	viper.SetDefault("MAX_IMAGE_BYTES", 10<<20)
	viper.SetDefault("MAX_VIDEO_BYTES", 100<<20)

	viper.SetDefault("FEED_PAGE_SIZE", 25)
	viper.SetDefault("COMMENT_PAGE_SIZE", 20)
	viper.SetDefault("NOTIFICATION_WINDOW", 50)
	viper.SetDefault("STORY_TICK_SECONDS", 60)
	viper.SetDefault("PRESENCE_GRACE_SECONDS", 30)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATE", 1.0)
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.AuthProvider = strings.ToLower(strings.TrimSpace(c.AuthProvider))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
}

// IsProduction reports whether the app runs with production checks.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// StoryTick is the interval at which story trays are re-evaluated.
func (c *Config) StoryTick() time.Duration {
	return time.Duration(c.StoryTickSeconds) * time.Second
}

// PresenceGrace is how long a user stays online after their last socket closes.
func (c *Config) PresenceGrace() time.Duration {
	return time.Duration(c.PresenceGraceSeconds) * time.Second
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch c.AuthProvider {
	case "", AuthJWT:
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required")
		}
	case AuthFirebase:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for the firebase auth provider")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}

	switch c.StoreBackend {
	case "", StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.DBDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.FeedPageSize < 0 || c.CommentPageSize < 0 || c.NotificationWindow < 0 {
		return errors.New("page sizes must not be negative")
	}
	if c.MaxImageBytes < 0 || c.MaxVideoBytes < 0 {
		return errors.New("upload limits must not be negative")
	}
	if c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must not be negative")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.AuthProvider != AuthFirebase {
			if c.JWTSecret == defaultJWTSecret {
				return errors.New("JWT_SECRET must be changed from the default value in production")
			}
			if len(c.JWTSecret) < 32 {
				return errors.New("JWT_SECRET must be at least 32 characters in production")
			}
		}
		if c.StoreBackend == "" || c.StoreBackend == StoreMemory {
			return errors.New("the memory store cannot be used in production")
		}
		if c.DBDriver == "postgres" {
			if c.DBPassword == "password" || c.DBPassword == "" {
				return errors.New("a strong DB_PASSWORD is required in production")
			}
			if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
				return errors.New("DB_SSLMODE must enable SSL in production")
			}
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if c.AuthProvider != AuthFirebase && len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
