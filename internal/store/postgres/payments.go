package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

type paymentRepo struct {
	e executor
}

func (r *paymentRepo) Append(ctx context.Context, ev *store.PaymentEvent) error {
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}
	err := r.e.QueryRowContext(ctx,
		`INSERT INTO payments (channel_id, tx_hash, kind, amount_drops, result_code, ledger_index, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ev.ChannelID, ev.TxHash, ev.Kind, strconv.FormatUint(ev.AmountDrops, 10),
		ev.ResultCode, int64(ev.LedgerIndex), ev.ObservedAt).Scan(&ev.ID)
	return mapError("payment_append", err)
}

func (r *paymentRepo) ListByChannel(ctx context.Context, channelID store.ID) ([]store.PaymentEvent, error) {
	rows, err := r.e.QueryContext(ctx,
		`SELECT id, channel_id, tx_hash, kind, amount_drops, result_code, ledger_index, observed_at
		 FROM payments WHERE channel_id = $1 ORDER BY id`, channelID)
	if err != nil {
		return nil, mapError("payment_list", err)
	}
	defer rows.Close()

	var events []store.PaymentEvent
	for rows.Next() {
		var (
			ev          store.PaymentEvent
			drops       string
			ledgerIndex int64
		)
		if err := rows.Scan(&ev.ID, &ev.ChannelID, &ev.TxHash, &ev.Kind, &drops,
			&ev.ResultCode, &ledgerIndex, &ev.ObservedAt); err != nil {
			return nil, mapError("payment_list", err)
		}
		if ev.AmountDrops, err = strconv.ParseUint(drops, 10, 64); err != nil {
			return nil, store.NewQueryError("payment_list", "bad drops value from database", err)
		}
		ev.LedgerIndex = uint32(ledgerIndex)
		events = append(events, ev)
	}
	return events, mapError("payment_list", rows.Err())
}
