package config

import (
	"fmt"

	"github.com/xrpl-payroll/payrolld/internal/wallet"
)

// Validate checks the complete configuration for consistency.
func Validate(cfg *Config) error {
	if cfg.Network != NetworkMainnet && cfg.Network != NetworkTestnet {
		return fmt.Errorf("network must be %q or %q, got %q", NetworkMainnet, NetworkTestnet, cfg.Network)
	}
	if !wallet.Provider(cfg.WalletProvider).Valid() {
		return fmt.Errorf("unknown wallet_provider %q", cfg.WalletProvider)
	}
	if cfg.HTTPListenAddr == "" {
		return fmt.Errorf("http_listen_addr must not be empty")
	}
	if cfg.ChannelDefaultSettleDelaySeconds == 0 {
		return fmt.Errorf("channel_default_settle_delay_seconds must be positive")
	}
	if cfg.MaxDailyHoursPerChannel <= 0 || cfg.MaxDailyHoursPerChannel > 24 {
		return fmt.Errorf("max_daily_hours_per_channel must be in (0, 24], got %d", cfg.MaxDailyHoursPerChannel)
	}
	if cfg.ReconcileMinIntervalSeconds <= 0 {
		return fmt.Errorf("reconcile_min_interval_seconds must be positive")
	}
	if cfg.ReconcileParallelism <= 0 {
		return fmt.Errorf("reconcile_parallelism must be positive")
	}
	if len(cfg.ResolverRetryScheduleSeconds) == 0 {
		return fmt.Errorf("resolver_retry_schedule must not be empty")
	}
	for _, s := range cfg.ResolverRetryScheduleSeconds {
		if s <= 0 {
			return fmt.Errorf("resolver_retry_schedule entries must be positive, got %d", s)
		}
	}
	if cfg.SigningGatewayDeadlineSeconds <= 0 {
		return fmt.Errorf("signing_gateway_deadline_seconds must be positive")
	}
	if cfg.LedgerCallTimeoutSeconds <= 0 {
		return fmt.Errorf("ledger_call_timeout_seconds must be positive")
	}

	db := cfg.Database
	if db.Host == "" || db.Name == "" || db.User == "" {
		return fmt.Errorf("database host, name and user must be set")
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("database port %d out of range", db.Port)
	}
	return nil
}
