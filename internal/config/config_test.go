package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Oracle.RPCURL = "https://rpc.example.com"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateOracleRequiredForResolverModes(t *testing.T) {
	for _, mode := range []string{"resolver", "full"} {
		cfg := Defaults()
		cfg.Mode = mode
		err := cfg.Validate()
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "oracle: rpc_url")
	}

	// Server mode works without a feed.
	cfg := Defaults()
	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestValidateS3OnlyWhenArchiveEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate())

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateRateLimitWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Server.RateLimit = 100
	cfg.Server.RateLimitWindow.Duration = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit_window")

	// Zero limit disables limiting and skips the window check.
	cfg.Server.RateLimit = 0
	require.NoError(t, cfg.Validate())
}

func TestValidateOperatorKeyPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.EncryptedKeyPath = "/secrets/key.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator: key_password")

	cfg.Operator.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestLoadTOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "server"
log_level = "debug"

[postgres]
host = "db.internal"
database = "betme_test"

[oracle]
rpc_url = "https://rpc.example.com"
cache_max_age = "45s"

[resolver]
interval = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BETME_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("BETME_SERVER_PORT", "9090")
	t.Setenv("BETME_NOTIFY_EVENTS", "bet_settled, error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "betme_test", cfg.Postgres.Database)
	assert.Equal(t, 45*time.Second, cfg.Oracle.CacheMaxAge.Duration)
	assert.Equal(t, time.Minute, cfg.Resolver.Interval.Duration)

	// Env wins over file and defaults.
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"bet_settled", "error"}, cfg.Notify.Events)

	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 100, cfg.Resolver.BatchSize)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.Operator.PrivateKey = "0xdeadbeef"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.TelegramToken = "tg-token"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Operator.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)

	// Originals are untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)

	// Empty secrets stay empty rather than being replaced.
	assert.Empty(t, out.Notify.DiscordWebhookURL)
}
