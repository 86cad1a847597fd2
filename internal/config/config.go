// Package config defines the payrolld configuration: one typed record
// enumerating every recognized option, loaded from defaults, an optional TOML
// file, and PAYROLLD_-prefixed environment variables.
package config

import (
	"time"

	"github.com/xrpl-payroll/payrolld/internal/store/postgres"
	"github.com/xrpl-payroll/payrolld/internal/wallet"
)

// Network names accepted by the "network" option.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// Default WebSocket endpoints per network, overridable via ledger_ws_url.
const (
	MainnetWSURL = "wss://xahau.network"
	TestnetWSURL = "wss://xahau-test.net"
)

// Config is the complete payrolld configuration.
type Config struct {
	Network        string `toml:"network" mapstructure:"network"`
	LedgerWSURL    string `toml:"ledger_ws_url" mapstructure:"ledger_ws_url"`
	HTTPListenAddr string `toml:"http_listen_addr" mapstructure:"http_listen_addr"`
	WalletProvider string `toml:"wallet_provider" mapstructure:"wallet_provider"`

	ChannelDefaultSettleDelaySeconds uint32 `toml:"channel_default_settle_delay_seconds" mapstructure:"channel_default_settle_delay_seconds"`
	ChannelDefaultCancelAfterSeconds uint32 `toml:"channel_default_cancel_after_seconds" mapstructure:"channel_default_cancel_after_seconds"`
	MaxDailyHoursPerChannel          int    `toml:"max_daily_hours_per_channel" mapstructure:"max_daily_hours_per_channel"`

	ReconcileMinIntervalSeconds    int `toml:"reconcile_min_interval_seconds" mapstructure:"reconcile_min_interval_seconds"`
	ReconcileDaemonIntervalSeconds int `toml:"reconcile_daemon_interval_seconds" mapstructure:"reconcile_daemon_interval_seconds"`
	ReconcileParallelism           int `toml:"reconcile_parallelism" mapstructure:"reconcile_parallelism"`

	ResolverRetryScheduleSeconds  []int `toml:"resolver_retry_schedule" mapstructure:"resolver_retry_schedule"`
	SigningGatewayDeadlineSeconds int   `toml:"signing_gateway_deadline_seconds" mapstructure:"signing_gateway_deadline_seconds"`
	LedgerCallTimeoutSeconds      int   `toml:"ledger_call_timeout_seconds" mapstructure:"ledger_call_timeout_seconds"`

	Database postgres.Config `toml:"database" mapstructure:"database"`
}

// EndpointURL returns the WebSocket endpoint for the configured network.
func (c *Config) EndpointURL() string {
	if c.LedgerWSURL != "" {
		return c.LedgerWSURL
	}
	if c.Network == NetworkMainnet {
		return MainnetWSURL
	}
	return TestnetWSURL
}

// NetworkTag maps the configured network onto the wallet provider's tag.
func (c *Config) NetworkTag() wallet.NetworkTag {
	if c.Network == NetworkMainnet {
		return wallet.NetworkXahauMainnet
	}
	return wallet.NetworkXahauTestnet
}

// ResolverSchedule returns the retry schedule as durations.
func (c *Config) ResolverSchedule() []time.Duration {
	schedule := make([]time.Duration, 0, len(c.ResolverRetryScheduleSeconds))
	for _, s := range c.ResolverRetryScheduleSeconds {
		schedule = append(schedule, time.Duration(s)*time.Second)
	}
	return schedule
}

// GatewayDeadline returns the signing gateway deadline.
func (c *Config) GatewayDeadline() time.Duration {
	return time.Duration(c.SigningGatewayDeadlineSeconds) * time.Second
}

// LedgerTimeout returns the per-call ledger deadline.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerCallTimeoutSeconds) * time.Second
}

// ReconcileMinInterval returns the per-channel sync rate window.
func (c *Config) ReconcileMinInterval() time.Duration {
	return time.Duration(c.ReconcileMinIntervalSeconds) * time.Second
}

// ReconcileDaemonInterval returns the background sync period.
func (c *Config) ReconcileDaemonInterval() time.Duration {
	return time.Duration(c.ReconcileDaemonIntervalSeconds) * time.Second
}

// DefaultCancelAfter returns the channel CancelAfter horizon.
func (c *Config) DefaultCancelAfter() time.Duration {
	return time.Duration(c.ChannelDefaultCancelAfterSeconds) * time.Second
}
