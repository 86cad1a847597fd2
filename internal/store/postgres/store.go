package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

// executor lets repositories run on either the pool or a transaction.
type executor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	db *sql.DB
}

// storeTx is the transactional view handed to WithTx callbacks.
type storeTx struct {
	tx *sql.Tx
}

// WithTx runs fn in a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewQueryError("with_tx", "cannot begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&storeTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.NewQueryError("with_tx", "commit failed", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Organizations() store.OrganizationRepository { return &organizationRepo{e: s.db} }
func (s *Store) Employees() store.EmployeeRepository         { return &employeeRepo{e: s.db} }
func (s *Store) Channels() store.ChannelRepository           { return &channelRepo{e: s.db} }
func (s *Store) Sessions() store.SessionRepository           { return &sessionRepo{e: s.db} }
func (s *Store) Payments() store.PaymentRepository           { return &paymentRepo{e: s.db} }
func (s *Store) Notifications() store.NotificationRepository { return &notificationRepo{e: s.db} }

func (t *storeTx) Organizations() store.OrganizationRepository { return &organizationRepo{e: t.tx} }
func (t *storeTx) Employees() store.EmployeeRepository         { return &employeeRepo{e: t.tx} }
func (t *storeTx) Channels() store.ChannelRepository           { return &channelRepo{e: t.tx} }
func (t *storeTx) Sessions() store.SessionRepository           { return &sessionRepo{e: t.tx} }
func (t *storeTx) Payments() store.PaymentRepository           { return &paymentRepo{e: t.tx} }
func (t *storeTx) Notifications() store.NotificationRepository { return &notificationRepo{e: t.tx} }

// ChannelForUpdate takes the row lock serializing transitions on a channel.
// NOWAIT maps lock contention onto ErrRowLocked so callers retry instead of
// queueing behind a long transition.
func (t *storeTx) ChannelForUpdate(ctx context.Context, id store.ID) (*store.PaymentChannel, error) {
	row := t.tx.QueryRowContext(ctx, selectChannel+" WHERE id = $1 FOR UPDATE NOWAIT", id)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, mapError("channel_for_update", err)
	}
	return ch, nil
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*storeTx)(nil)
)

// mapError translates driver errors into the store's error vocabulary.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505": // unique_violation
			return store.ErrDuplicate
		case "55P03": // lock_not_available
			return store.ErrRowLocked
		}
	}
	return store.NewQueryError(op, "database operation failed", err)
}
