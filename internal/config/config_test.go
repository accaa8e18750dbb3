package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 0.05, cfg.Ledger.PlatformFeeRate)
	assert.Equal(t, 15*time.Minute, cfg.Orders.Timeout)
	assert.Equal(t, "@every 1m", cfg.Orders.ExpirySpec)
	assert.Equal(t, "@every 1h", cfg.Settlement.SweepSpec)
	assert.Equal(t, 60*time.Second, cfg.Settlement.LockTTL)
	assert.Equal(t, 24, cfg.RefundPolicy.NoRefundHours)
	assert.Len(t, cfg.RefundPolicy.Tiers, 3)
	assert.Equal(t, 7*24*time.Hour, cfg.Verification.MaxAge)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"log_level": "debug",
		"server_port": 9000,
		"mysql": {"host": "db", "port": "3307", "dbname": "pay", "username": "u"},
		"orders": {"timeout": "30m"},
		"ledger": {"platform_fee_rate": 0.03},
		"refund_policy": {"tiers": [{"hours_before_start": 48, "percent": 90}], "no_refund_hours": 12}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	t.Setenv("CLUBPAY_MYSQL_PASSWORD", "from-env")
	t.Setenv("CLUBPAY_VERIFICATION_SECRET", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Loglevel)
	assert.Equal(t, int32(9000), cfg.ServerPort)
	assert.Equal(t, "db", cfg.Mysql.Host)
	assert.Equal(t, "from-env", cfg.Mysql.Password)
	assert.Equal(t, "s3cret", cfg.Verification.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Orders.Timeout)
	assert.Equal(t, 0.03, cfg.Ledger.PlatformFeeRate)
	assert.Equal(t, []RefundTierConfig{{HoursBeforeStart: 48, Percent: 90}}, cfg.RefundPolicy.Tiers)
	assert.Equal(t, 12, cfg.RefundPolicy.NoRefundHours)

	// untouched blocks keep their defaults
	assert.Equal(t, "@every 1h", cfg.Settlement.SweepSpec)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Orders, cfg.Orders)
}
