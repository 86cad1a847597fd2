// Package postgres implements the store interfaces on PostgreSQL via
// database/sql and lib/pq. Row-level locking (SELECT ... FOR UPDATE) is the
// mechanism that serializes channel transitions, which is why this layer is
// PostgreSQL-only.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/xrpl-payroll/payrolld/internal/store"
)

// Config holds the connection settings for the payroll database.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// ConnectionString renders the lib/pq DSN.
func (c Config) ConnectionString() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, ssl)
}

// Open connects, configures the pool, and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, store.NewQueryError("open", "cannot open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, store.NewQueryError("open", "cannot reach database", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the relational layout if it does not exist. Monetary
// columns are NUMERIC(20,8): 20 integer digits, 8 fractional.
func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			escrow_wallet TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS employees (
			id BIGSERIAL PRIMARY KEY,
			organization_id BIGINT NOT NULL REFERENCES organizations(id),
			wallet TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (organization_id, wallet)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_channels (
			id BIGSERIAL PRIMARY KEY,
			organization_id BIGINT NOT NULL REFERENCES organizations(id),
			employee_id BIGINT NOT NULL REFERENCES employees(id),
			channel_id TEXT UNIQUE,
			job_name TEXT NOT NULL DEFAULT '',
			hourly_rate NUMERIC(20,8) NOT NULL DEFAULT 0,
			escrow_funded_amount NUMERIC(20,8) NOT NULL DEFAULT 0,
			off_chain_accumulated_balance NUMERIC(20,8) NOT NULL DEFAULT 0,
			on_chain_balance NUMERIC(20,8) NOT NULL DEFAULT 0,
			legacy_accumulated_balance NUMERIC(20,8) NOT NULL DEFAULT 0,
			settle_delay_seconds BIGINT NOT NULL DEFAULT 0,
			cancel_after_ripple_time BIGINT,
			expiration_ripple_time BIGINT,
			public_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			closure_tx_hash TEXT NOT NULL DEFAULT '',
			close_reason TEXT NOT NULL DEFAULT '',
			imported BOOLEAN NOT NULL DEFAULT FALSE,
			last_ledger_sync TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS work_sessions (
			id BIGSERIAL PRIMARY KEY,
			employee_id BIGINT NOT NULL REFERENCES employees(id),
			channel_id BIGINT NOT NULL REFERENCES payment_channels(id),
			clock_in TIMESTAMPTZ NOT NULL,
			clock_out TIMESTAMPTZ,
			hours NUMERIC(20,8) NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			close_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS work_sessions_one_active
			ON work_sessions (employee_id, channel_id) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			channel_id BIGINT NOT NULL REFERENCES payment_channels(id),
			tx_hash TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			amount_drops NUMERIC(20,0) NOT NULL DEFAULT 0,
			result_code TEXT NOT NULL DEFAULT '',
			ledger_index BIGINT NOT NULL DEFAULT 0,
			observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			recipient TEXT NOT NULL,
			organization_id BIGINT NOT NULL REFERENCES organizations(id),
			employee_id BIGINT,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return store.NewQueryError("init_schema", "schema statement failed", err)
		}
	}
	return nil
}
