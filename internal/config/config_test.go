package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("METADATA_BACKEND", "")
	t.Setenv("CONTENT_BACKEND", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "5080", cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Metadata.Backend)
	require.Equal(t, "fs", cfg.Content.Backend)
	require.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)
	require.Equal(t, time.Hour, cfg.Reconcile.GracePeriod)
	require.Equal(t, 15*time.Minute, cfg.Reconcile.RequeueAge)
	require.Equal(t, "", cfg.Redis.Addr())
	require.True(t, cfg.RateLimit.Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("METADATA_BACKEND", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	t.Setenv("MONGODB_DATABASE", "regdocs_test")
	t.Setenv("CONTENT_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("RATE_LIMIT_USE_REDIS", "true")
	t.Setenv("RECONCILE_CRON", "*/10 * * * *")
	t.Setenv("RECONCILE_GRACE", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "regdocs_test", cfg.MongoDB.Database)
	require.Equal(t, 10*time.Second, cfg.MongoDB.Timeout)
	require.Equal(t, "localhost:9000", cfg.Content.MinIO.Endpoint)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "*/10 * * * *", cfg.Reconcile.Cron)
	require.Equal(t, 30*time.Minute, cfg.Reconcile.GracePeriod)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")

	t.Setenv("METADATA_BACKEND", "mongo")
	t.Setenv("MONGODB_URI", "")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "MONGODB_URI")

	t.Setenv("METADATA_BACKEND", "cassandra")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "METADATA_BACKEND")

	t.Setenv("METADATA_BACKEND", "memory")
	t.Setenv("CONTENT_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "MINIO_ENDPOINT")

	t.Setenv("CONTENT_BACKEND", "memory")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("RATE_LIMIT_USE_REDIS", "true")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "REDIS_HOST")
	t.Setenv("RATE_LIMIT_USE_REDIS", "false")

	for _, grace := range []string{"0s", "-5m"} {
		t.Setenv("RECONCILE_GRACE", grace)
		_, err = LoadConfig()
		require.ErrorContains(t, err, "RECONCILE_GRACE", grace)
	}
	t.Setenv("RECONCILE_GRACE", "1m")
	_, err = LoadConfig()
	require.NoError(t, err)
}
