package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

const selectChannel = `SELECT id, organization_id, employee_id, channel_id, job_name,
	hourly_rate, escrow_funded_amount, off_chain_accumulated_balance, on_chain_balance,
	legacy_accumulated_balance, settle_delay_seconds, cancel_after_ripple_time,
	expiration_ripple_time, public_key, status, closure_tx_hash, close_reason, imported,
	last_ledger_sync, created_at, updated_at, closed_at
	FROM payment_channels`

type channelRepo struct {
	e executor
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*store.PaymentChannel, error) {
	var (
		ch          store.PaymentChannel
		channelID   sql.NullString
		rate        string
		escrow      string
		offChain    string
		onChain     string
		legacy      string
		cancelAfter sql.NullInt64
		expiration  sql.NullInt64
		lastSync    sql.NullTime
		closedAt    sql.NullTime
	)
	err := row.Scan(&ch.ID, &ch.OrganizationID, &ch.EmployeeID, &channelID, &ch.JobName,
		&rate, &escrow, &offChain, &onChain, &legacy, &ch.SettleDelaySeconds,
		&cancelAfter, &expiration, &ch.PublicKey, &ch.Status, &ch.ClosureTxHash,
		&ch.CloseReason, &ch.Imported, &lastSync, &ch.CreatedAt, &ch.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if channelID.Valid {
		ch.ChannelID = channelID.String
	}
	if ch.HourlyRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if ch.EscrowFunded, err = decimal.NewFromString(escrow); err != nil {
		return nil, err
	}
	if ch.OffChainBalance, err = decimal.NewFromString(offChain); err != nil {
		return nil, err
	}
	if ch.OnChainBalance, err = decimal.NewFromString(onChain); err != nil {
		return nil, err
	}
	if ch.LegacyBalance, err = decimal.NewFromString(legacy); err != nil {
		return nil, err
	}
	if cancelAfter.Valid {
		v := uint32(cancelAfter.Int64)
		ch.CancelAfterRipple = &v
	}
	if expiration.Valid {
		v := uint32(expiration.Int64)
		ch.ExpirationRipple = &v
	}
	if lastSync.Valid {
		t := lastSync.Time
		ch.LastLedgerSync = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		ch.ClosedAt = &t
	}
	return &ch, nil
}

func nullChannelID(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUint32(v *uint32) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *channelRepo) Create(ctx context.Context, ch *store.PaymentChannel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	err := r.e.QueryRowContext(ctx, `INSERT INTO payment_channels
		(organization_id, employee_id, channel_id, job_name, hourly_rate,
		 escrow_funded_amount, off_chain_accumulated_balance, on_chain_balance,
		 legacy_accumulated_balance, settle_delay_seconds, cancel_after_ripple_time,
		 expiration_ripple_time, public_key, status, closure_tx_hash, close_reason,
		 imported, last_ledger_sync, created_at, updated_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`,
		ch.OrganizationID, ch.EmployeeID, nullChannelID(ch.ChannelID), ch.JobName,
		ch.HourlyRate.String(), ch.EscrowFunded.String(), ch.OffChainBalance.String(),
		ch.OnChainBalance.String(), ch.LegacyBalance.String(), int64(ch.SettleDelaySeconds),
		nullUint32(ch.CancelAfterRipple), nullUint32(ch.ExpirationRipple), ch.PublicKey,
		ch.Status, ch.ClosureTxHash, ch.CloseReason, ch.Imported,
		nullTime(ch.LastLedgerSync), ch.CreatedAt, ch.UpdatedAt, nullTime(ch.ClosedAt),
	).Scan(&ch.ID)
	return mapError("channel_create", err)
}

func (r *channelRepo) GetByID(ctx context.Context, id store.ID) (*store.PaymentChannel, error) {
	ch, err := scanChannel(r.e.QueryRowContext(ctx, selectChannel+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("channel_get", err)
	}
	return ch, nil
}

func (r *channelRepo) GetByChannelID(ctx context.Context, channelID string) (*store.PaymentChannel, error) {
	ch, err := scanChannel(r.e.QueryRowContext(ctx, selectChannel+" WHERE channel_id = $1", channelID))
	if err != nil {
		return nil, mapError("channel_get_by_ledger_id", err)
	}
	return ch, nil
}

func (r *channelRepo) ListByOrganization(ctx context.Context, orgID store.ID) ([]store.PaymentChannel, error) {
	rows, err := r.e.QueryContext(ctx, selectChannel+" WHERE organization_id = $1 ORDER BY id", orgID)
	if err != nil {
		return nil, mapError("channel_list", err)
	}
	defer rows.Close()

	var channels []store.PaymentChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, mapError("channel_list", err)
		}
		channels = append(channels, *ch)
	}
	return channels, mapError("channel_list", rows.Err())
}

func (r *channelRepo) Update(ctx context.Context, ch *store.PaymentChannel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	// I4: an assigned channel_id never changes.
	var existing sql.NullString
	err := r.e.QueryRowContext(ctx, "SELECT channel_id FROM payment_channels WHERE id = $1", ch.ID).Scan(&existing)
	if err != nil {
		return mapError("channel_update", err)
	}
	if existing.Valid && existing.String != ch.ChannelID {
		return store.ErrImmutableChannelID
	}

	ch.UpdatedAt = time.Now().UTC()
	res, err := r.e.ExecContext(ctx, `UPDATE payment_channels SET
		channel_id = $2, job_name = $3, hourly_rate = $4, escrow_funded_amount = $5,
		off_chain_accumulated_balance = $6, on_chain_balance = $7,
		legacy_accumulated_balance = $8, settle_delay_seconds = $9,
		cancel_after_ripple_time = $10, expiration_ripple_time = $11, public_key = $12,
		status = $13, closure_tx_hash = $14, close_reason = $15, imported = $16,
		last_ledger_sync = $17, updated_at = $18, closed_at = $19
		WHERE id = $1`,
		ch.ID, nullChannelID(ch.ChannelID), ch.JobName, ch.HourlyRate.String(),
		ch.EscrowFunded.String(), ch.OffChainBalance.String(), ch.OnChainBalance.String(),
		ch.LegacyBalance.String(), int64(ch.SettleDelaySeconds),
		nullUint32(ch.CancelAfterRipple), nullUint32(ch.ExpirationRipple), ch.PublicKey,
		ch.Status, ch.ClosureTxHash, ch.CloseReason, ch.Imported,
		nullTime(ch.LastLedgerSync), ch.UpdatedAt, nullTime(ch.ClosedAt))
	if err != nil {
		return mapError("channel_update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
