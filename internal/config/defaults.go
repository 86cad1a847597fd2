package config

import "github.com/spf13/viper"

// setDefaults registers every option's default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", NetworkTestnet)
	v.SetDefault("ledger_ws_url", "")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("wallet_provider", "mobile_qr")

	v.SetDefault("channel_default_settle_delay_seconds", 86400)
	v.SetDefault("channel_default_cancel_after_seconds", 86400)
	v.SetDefault("max_daily_hours_per_channel", 8)

	v.SetDefault("reconcile_min_interval_seconds", 60)
	v.SetDefault("reconcile_daemon_interval_seconds", 300)
	v.SetDefault("reconcile_parallelism", 8)

	v.SetDefault("resolver_retry_schedule", []int{1, 2, 4, 8, 16})
	v.SetDefault("signing_gateway_deadline_seconds", 300)
	v.SetDefault("ledger_call_timeout_seconds", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "payroll")
	v.SetDefault("database.user", "payroll")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "5s")
}
