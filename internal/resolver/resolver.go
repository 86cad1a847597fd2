// Package resolver recovers the ledger-assigned channel identifier of a
// validated PaymentChannelCreate. The ID is a deterministic function of the
// create transaction but only observable after validation, so the resolver
// inspects transaction metadata first and falls back to filtered
// account_channels queries with strict matching. It never fabricates an ID.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/store"
)

// DefaultSchedule is the fallback retry schedule: five attempts, total ~31s.
var DefaultSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
}

// Request identifies the create transaction and the expected channel shape
// used to disambiguate among the source's channels.
type Request struct {
	TxHash              string
	Source              string
	Destination         string
	ExpectedAmountDrops uint64
	ExpectedSettleDelay uint32
}

// Resolved is a successfully recovered channel identity.
type Resolved struct {
	ChannelID string
	PublicKey string // channel public key captured from the ledger, may be empty
}

// UnresolvedError means the full retry schedule was spent without a validated
// match. The caller must not persist any placeholder identifier.
type UnresolvedError struct {
	TxHash string
}

// Error implements the error interface.
func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("ChannelIdUnresolved(%s)", e.TxHash)
}

// IsUnresolved reports whether err is an UnresolvedError.
func IsUnresolved(err error) bool {
	var ue *UnresolvedError
	return errors.As(err, &ue)
}

// Resolver recovers channel IDs from the ledger.
type Resolver struct {
	client   ledger.Client
	schedule []time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Resolver. A nil or empty schedule uses DefaultSchedule.
func New(client ledger.Client, schedule []time.Duration) *Resolver {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Resolver{client: client, schedule: schedule, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Resolve returns the canonical 64-hex channel ID for the create transaction.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolved, error) {
	if resolved := r.fromTxMeta(ctx, req); resolved != nil {
		return resolved, nil
	}

	for _, wait := range r.schedule {
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
		resolved, err := r.fromAccountChannels(ctx, req)
		if err != nil {
			// Transient or unsupported: keep burning the schedule, it
			// bounds the total wait.
			log.Printf("resolver: account_channels attempt failed for %s: %v", req.TxHash, err)
			continue
		}
		if resolved != nil {
			return resolved, nil
		}
	}
	return nil, &UnresolvedError{TxHash: req.TxHash}
}

// fromTxMeta extracts the created PayChannel's LedgerIndex from validated
// transaction metadata.
func (r *Resolver) fromTxMeta(ctx context.Context, req Request) *Resolved {
	tx, err := r.client.Tx(ctx, req.TxHash)
	if err != nil || !tx.Validated {
		return nil
	}
	created := tx.CreatedPayChannel()
	if created == nil || !store.ValidChannelID(created.LedgerIndex) {
		return nil
	}
	resolved := &Resolved{ChannelID: created.LedgerIndex}
	if len(created.NewFields) > 0 {
		var fields ledger.PayChannelFields
		if err := json.Unmarshal(created.NewFields, &fields); err == nil {
			resolved.PublicKey = fields.PublicKey
		}
	}
	return resolved
}

// fromAccountChannels selects the unique channel between source and
// destination whose amount and settle delay match the create transaction.
// Zero or multiple matches resolve nothing.
func (r *Resolver) fromAccountChannels(ctx context.Context, req Request) (*Resolved, error) {
	channels, err := r.client.AccountChannels(ctx, req.Source, req.Destination)
	if err != nil {
		return nil, err
	}
	var match *ledger.AccountChannel
	for i := range channels {
		ch := &channels[i]
		amount, err := ledger.ParseDrops(ch.Amount)
		if err != nil || amount != req.ExpectedAmountDrops || ch.SettleDelay != req.ExpectedSettleDelay {
			continue
		}
		if !store.ValidChannelID(ch.ChannelID) {
			continue
		}
		if match != nil {
			return nil, nil // ambiguous, try again later
		}
		match = ch
	}
	if match == nil {
		return nil, nil
	}
	return &Resolved{ChannelID: match.ChannelID, PublicKey: match.PublicKey}, nil
}
