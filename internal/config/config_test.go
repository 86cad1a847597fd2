package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-payroll/payrolld/internal/wallet"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, NetworkTestnet, cfg.Network)
	assert.Equal(t, TestnetWSURL, cfg.EndpointURL())
	assert.Equal(t, wallet.NetworkXahauTestnet, cfg.NetworkTag())
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.EqualValues(t, 86400, cfg.ChannelDefaultSettleDelaySeconds)
	assert.Equal(t, 8, cfg.MaxDailyHoursPerChannel)
	assert.Equal(t, time.Minute, cfg.ReconcileMinInterval())
	assert.Equal(t, 5*time.Minute, cfg.GatewayDeadline())
	assert.Equal(t, 10*time.Second, cfg.LedgerTimeout())
	assert.Equal(t,
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		cfg.ResolverSchedule())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payrolld.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
network = "mainnet"
ledger_ws_url = "wss://node.example.org"
max_daily_hours_per_channel = 6
resolver_retry_schedule = [1, 3, 9]

[database]
host = "db.internal"
name = "payroll_prod"
user = "payrolld"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, cfg.Network)
	assert.Equal(t, "wss://node.example.org", cfg.EndpointURL())
	assert.Equal(t, wallet.NetworkXahauMainnet, cfg.NetworkTag())
	assert.Equal(t, 6, cfg.MaxDailyHoursPerChannel)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}, cfg.ResolverSchedule())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port, "file values merge over defaults")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAYROLLD_NETWORK", "mainnet")
	t.Setenv("PAYROLLD_DATABASE_PASSWORD", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, cfg.Network)
	assert.Equal(t, MainnetWSURL, cfg.EndpointURL())
	assert.Equal(t, "hunter2", cfg.Database.Password)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown network", func(c *Config) { c.Network = "devnet" }},
		{"unknown wallet provider", func(c *Config) { c.WalletProvider = "carrier_pigeon" }},
		{"zero settle delay", func(c *Config) { c.ChannelDefaultSettleDelaySeconds = 0 }},
		{"daily cap over 24h", func(c *Config) { c.MaxDailyHoursPerChannel = 25 }},
		{"empty retry schedule", func(c *Config) { c.ResolverRetryScheduleSeconds = nil }},
		{"negative retry entry", func(c *Config) { c.ResolverRetryScheduleSeconds = []int{1, -2} }},
		{"missing database name", func(c *Config) { c.Database.Name = "" }},
		{"database port out of range", func(c *Config) { c.Database.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
