package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/regdocs/regdocs/internal/storage"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Metadata  MetadataConfig
	MongoDB   MongoDBConfig
	Content   storage.Config
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	Environment    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
	// PresignDownloads redirects downloads to the content store when it can
	// issue presigned URLs.
	PresignDownloads bool
	PresignTTL       time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MetadataConfig struct {
	Backend    string // memory | sqlite | mongo
	SQLitePath string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host          string
	Port          string
	Password      string
	DB            int
	IndexQueueKey string
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

type ReconcileConfig struct {
	Cron        string
	GracePeriod time.Duration
	RequeueAge  time.Duration
	Parallelism int
	BatchSize   int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "60s")
	v.SetDefault("SERVER_MAX_UPLOAD_MB", 50)
	v.SetDefault("SERVER_PRESIGN_DOWNLOADS", false)
	v.SetDefault("SERVER_PRESIGN_TTL", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("METADATA_BACKEND", "sqlite")
	v.SetDefault("SQLITE_PATH", "data/regdocs.db")
	v.SetDefault("MONGODB_DATABASE", "regdocs")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("CONTENT_BACKEND", "fs")
	v.SetDefault("CONTENT_DIR", "data/blobs")
	v.SetDefault("MINIO_BUCKET", "regdocs")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("INDEX_QUEUE_KEY", "regdocs:index-jobs")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_WINDOW", "1s")
	v.SetDefault("RECONCILE_GRACE", "1h")
	v.SetDefault("RECONCILE_REQUEUE_AGE", "15m")
	v.SetDefault("RECONCILE_PARALLELISM", 8)
	v.SetDefault("RECONCILE_BATCH", 500)

	cfg := &Config{
		Server: ServerConfig{
			Port:             v.GetString("SERVER_PORT"),
			Host:             v.GetString("SERVER_HOST"),
			Environment:      v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:      v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:     v.GetDuration("SERVER_WRITE_TIMEOUT"),
			MaxUploadBytes:   v.GetInt64("SERVER_MAX_UPLOAD_MB") << 20,
			PresignDownloads: v.GetBool("SERVER_PRESIGN_DOWNLOADS"),
			PresignTTL:       v.GetDuration("SERVER_PRESIGN_TTL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Metadata: MetadataConfig{
			Backend:    strings.ToLower(v.GetString("METADATA_BACKEND")),
			SQLitePath: v.GetString("SQLITE_PATH"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Content: storage.Config{
			Backend: strings.ToLower(v.GetString("CONTENT_BACKEND")),
			Dir:     v.GetString("CONTENT_DIR"),
			MinIO: storage.MinIOConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
				Bucket:    v.GetString("MINIO_BUCKET"),
			},
		},
		Redis: RedisConfig{
			Host:          v.GetString("REDIS_HOST"),
			Port:          v.GetString("REDIS_PORT"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			IndexQueueKey: v.GetString("INDEX_QUEUE_KEY"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			UseRedis: v.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Reconcile: ReconcileConfig{
			Cron:        v.GetString("RECONCILE_CRON"),
			GracePeriod: v.GetDuration("RECONCILE_GRACE"),
			RequeueAge:  v.GetDuration("RECONCILE_REQUEUE_AGE"),
			Parallelism: v.GetInt("RECONCILE_PARALLELISM"),
			BatchSize:   v.GetInt("RECONCILE_BATCH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Metadata.Backend {
	case "memory":
	case "sqlite":
		if c.Metadata.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite metadata backend")
		}
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo metadata backend")
		}
	default:
		return fmt.Errorf("unknown METADATA_BACKEND %q", c.Metadata.Backend)
	}
	switch c.Content.Backend {
	case "memory":
	case "fs":
		if c.Content.Dir == "" {
			return fmt.Errorf("CONTENT_DIR is required for the fs content backend")
		}
	case "minio":
		if c.Content.MinIO.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required for the minio content backend")
		}
	default:
		return fmt.Errorf("unknown CONTENT_BACKEND %q", c.Content.Backend)
	}
	if c.RateLimit.UseRedis && c.Redis.Addr() == "" {
		return fmt.Errorf("RATE_LIMIT_USE_REDIS requires REDIS_HOST")
	}
	if c.Reconcile.GracePeriod <= 0 {
		return fmt.Errorf("RECONCILE_GRACE must be positive")
	}
	if c.Reconcile.Parallelism <= 0 {
		return fmt.Errorf("RECONCILE_PARALLELISM must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("SERVER_MAX_UPLOAD_MB must be positive")
	}
	return nil
}
