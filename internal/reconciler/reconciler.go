// Package reconciler aligns the database's view of payment channels with the
// validated ledger. It is the only writer of on_chain_balance; the off-chain
// accumulated balance is never derived from ledger data.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xrpl-payroll/payrolld/internal/clock"
	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/store"
	"github.com/xrpl-payroll/payrolld/internal/xrpltime"
)

const (
	// DefaultMinInterval is the minimum spacing between syncs of one channel.
	DefaultMinInterval = 60 * time.Second
	// DefaultParallelism bounds concurrent per-channel syncs in a batch.
	DefaultParallelism = 8
	// ImportedJobName is the placeholder on channels adopted from the ledger
	// until the operator fills in the real job.
	ImportedJobName = "(imported)"
)

// ErrUnresolvedChannel is returned when syncing a channel that has no ledger
// identifier yet.
var ErrUnresolvedChannel = errors.New("reconciler: channel has no ledger identifier")

// RecentlySyncedError is the soft refusal of a sync inside the rate window.
type RecentlySyncedError struct {
	Since time.Duration
}

// Error implements the error interface.
func (e *RecentlySyncedError) Error() string {
	return fmt.Sprintf("RecentlySynced(%ds)", int(e.Since.Seconds()))
}

// IsRecentlySynced reports whether err is a RecentlySyncedError.
func IsRecentlySynced(err error) bool {
	var rs *RecentlySyncedError
	return errors.As(err, &rs)
}

// Reconciler syncs channels against the ledger.
type Reconciler struct {
	store       store.Store
	client      ledger.Client
	clock       clock.Clock
	minInterval time.Duration
	parallelism int
}

// New builds a Reconciler. Non-positive minInterval and parallelism fall back
// to the defaults.
func New(st store.Store, client ledger.Client, clk clock.Clock, minInterval time.Duration, parallelism int) *Reconciler {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Reconciler{
		store:       st,
		client:      client,
		clock:       clk,
		minInterval: minInterval,
		parallelism: parallelism,
	}
}

// SyncChannel refreshes one channel from its ledger entry. A vanished entry
// closes the channel, adopting the recorded closure transaction when it
// validated successfully and flagging the channel for the operator otherwise.
// Syncing again inside the rate window returns RecentlySynced.
func (r *Reconciler) SyncChannel(ctx context.Context, channelID store.ID) (*store.PaymentChannel, error) {
	ch, err := r.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status.Terminal() {
		return ch, nil
	}
	if ch.ChannelID == "" {
		return nil, ErrUnresolvedChannel
	}
	now := r.clock.Now().UTC()
	if ch.LastLedgerSync != nil {
		if since := now.Sub(*ch.LastLedgerSync); since < r.minInterval {
			return nil, &RecentlySyncedError{Since: since}
		}
	}

	entry, err := r.client.ChannelEntry(ctx, ch.ChannelID)
	switch {
	case err != nil && ledger.IsNotFound(err):
		return r.applyVanished(ctx, channelID)
	case err != nil:
		return nil, err
	}
	return r.applyEntry(ctx, channelID, entry)
}

// applyEntry commits a sync for a channel that still exists on the ledger.
// The off-chain balance is untouched; only the ledger-derived columns move.
func (r *Reconciler) applyEntry(ctx context.Context, channelID store.ID, entry *ledger.ChannelEntry) (*store.PaymentChannel, error) {
	balanceDrops, err := entry.BalanceDrops()
	if err != nil {
		return nil, err
	}
	var ch *store.PaymentChannel
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err = tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status.Terminal() {
			return nil
		}
		now := r.clock.Now().UTC()
		ch.OnChainBalance = xrpltime.DropsToDecimal(balanceDrops)
		ch.LastLedgerSync = &now

		if ch.Status == store.ChannelClosing && entry.Expiration != nil &&
			!xrpltime.FromRippleTime(*entry.Expiration).After(now) {
			ch.Status = store.ChannelClosed
			ch.ClosedAt = &now
			if err := tx.Notifications().Create(ctx, &store.Notification{
				Recipient:      store.RecipientOrganization,
				OrganizationID: ch.OrganizationID,
				EmployeeID:     ch.EmployeeID,
				Kind:           store.NotifyClosureCompleted,
				Payload: map[string]any{
					"channel_id": ch.ChannelID,
					"tx_hash":    ch.ClosureTxHash,
				},
			}); err != nil {
				return err
			}
		}
		return tx.Channels().Update(ctx, ch)
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// applyVanished handles a channel whose ledger entry no longer exists.
func (r *Reconciler) applyVanished(ctx context.Context, channelID store.ID) (*store.PaymentChannel, error) {
	ch, err := r.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	// A recorded close that validated successfully explains the removal.
	closedByClaim := false
	if ch.ClosureTxHash != "" {
		tx, err := r.client.Tx(ctx, ch.ClosureTxHash)
		if err == nil && tx.Validated && tx.Meta != nil && tx.Meta.TransactionResult == "tesSUCCESS" {
			closedByClaim = true
		}
	}

	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err = tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status.Terminal() {
			return nil
		}
		now := r.clock.Now().UTC()
		ch.LastLedgerSync = &now
		ch.ClosedAt = &now
		ch.Status = store.ChannelClosed
		ch.OnChainBalance = decimal.Zero

		if closedByClaim {
			ch.OffChainBalance = decimal.Zero
			if err := tx.Channels().Update(ctx, ch); err != nil {
				return err
			}
			return tx.Notifications().Create(ctx, &store.Notification{
				Recipient:      store.RecipientOrganization,
				OrganizationID: ch.OrganizationID,
				EmployeeID:     ch.EmployeeID,
				Kind:           store.NotifyClosureCompleted,
				Payload: map[string]any{
					"channel_id": ch.ChannelID,
					"tx_hash":    ch.ClosureTxHash,
				},
			})
		}

		// No validated claim explains the removal. The off-chain balance is
		// preserved; the operator has to settle it out of band.
		ch.CloseReason = store.CloseReasonVanished
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		return tx.Notifications().Create(ctx, &store.Notification{
			Recipient:      store.RecipientOrganization,
			OrganizationID: ch.OrganizationID,
			EmployeeID:     ch.EmployeeID,
			Kind:           store.NotifyChannelVanished,
			Payload: map[string]any{
				"channel_id":        ch.ChannelID,
				"off_chain_balance": ch.OffChainBalance.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ChannelOutcome is one channel's result inside a batch sync.
type ChannelOutcome struct {
	ChannelID string
	Imported  bool
	Skipped   bool
	Err       error
}

// SyncReport aggregates a batch sync.
type SyncReport struct {
	mu       sync.Mutex
	Outcomes []ChannelOutcome
}

func (r *SyncReport) add(o ChannelOutcome) {
	r.mu.Lock()
	r.Outcomes = append(r.Outcomes, o)
	r.mu.Unlock()
}

// Counts returns how many channels synced, were imported, were skipped inside
// the rate window, and failed.
func (r *SyncReport) Counts() (synced, imported, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.Imported:
			imported++
		case o.Skipped:
			skipped++
		default:
			synced++
		}
	}
	return
}

// SyncOrganization enumerates the organization's channels on the ledger,
// syncing the known ones with bounded parallelism and importing the unknown
// ones as flagged placeholder records.
func (r *Reconciler) SyncOrganization(ctx context.Context, escrowWallet string) (*SyncReport, error) {
	org, err := r.store.Organizations().GetByWallet(ctx, escrowWallet)
	if err != nil {
		return nil, err
	}
	onLedger, err := r.client.AccountChannels(ctx, org.EscrowWallet, "")
	if err != nil {
		return nil, err
	}
	existing, err := r.store.Channels().ListByOrganization(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]store.ID, len(existing))
	for i := range existing {
		if existing[i].ChannelID != "" {
			known[existing[i].ChannelID] = existing[i].ID
		}
	}

	report := &SyncReport{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i := range onLedger {
		entry := onLedger[i]
		g.Go(func() error {
			if id, ok := known[entry.ChannelID]; ok {
				_, err := r.SyncChannel(gctx, id)
				report.add(ChannelOutcome{
					ChannelID: entry.ChannelID,
					Skipped:   IsRecentlySynced(err),
					Err:       ignoreRecentlySynced(err),
				})
				return nil
			}
			err := r.importOrphan(gctx, org, &entry)
			report.add(ChannelOutcome{ChannelID: entry.ChannelID, Imported: err == nil, Err: err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func ignoreRecentlySynced(err error) error {
	if IsRecentlySynced(err) {
		return nil
	}
	return err
}

// importOrphan adopts a ledger channel the database has never seen. The
// hourly rate is unknown, so the record is flagged for the operator to edit;
// the off-chain balance starts at zero and is never taken from the ledger.
func (r *Reconciler) importOrphan(ctx context.Context, org *store.Organization, entry *ledger.AccountChannel) error {
	amountDrops, err := ledger.ParseDrops(entry.Amount)
	if err != nil {
		return err
	}
	balanceDrops, err := ledger.ParseDrops(entry.Balance)
	if err != nil {
		return err
	}

	return r.store.WithTx(ctx, func(tx store.Tx) error {
		emp, err := tx.Employees().GetByWallet(ctx, org.ID, entry.DestinationAccount)
		if errors.Is(err, store.ErrNotFound) {
			emp = &store.Employee{
				OrganizationID: org.ID,
				Wallet:         entry.DestinationAccount,
				Status:         store.EmploymentActive,
			}
			err = tx.Employees().Create(ctx, emp)
		}
		if err != nil {
			return err
		}

		now := r.clock.Now().UTC()
		ch := &store.PaymentChannel{
			OrganizationID:     org.ID,
			EmployeeID:         emp.ID,
			ChannelID:          entry.ChannelID,
			JobName:            ImportedJobName,
			HourlyRate:         decimal.Zero,
			EscrowFunded:       xrpltime.DropsToDecimal(amountDrops),
			OffChainBalance:    decimal.Zero,
			OnChainBalance:     xrpltime.DropsToDecimal(balanceDrops),
			SettleDelaySeconds: entry.SettleDelay,
			CancelAfterRipple:  entry.CancelAfter,
			ExpirationRipple:   entry.Expiration,
			PublicKey:          entry.PublicKey,
			Status:             store.ChannelActive,
			Imported:           true,
			LastLedgerSync:     &now,
		}
		if err := tx.Channels().Create(ctx, ch); err != nil {
			return err
		}
		return tx.Notifications().Create(ctx, &store.Notification{
			Recipient:      store.RecipientOrganization,
			OrganizationID: org.ID,
			EmployeeID:     emp.ID,
			Kind:           store.NotifyOrphanImported,
			Payload: map[string]any{
				"channel_id":    ch.ChannelID,
				"worker_wallet": entry.DestinationAccount,
			},
		})
	})
}

// Run periodically syncs every organization until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.minInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orgs, err := r.store.Organizations().List(ctx)
			if err != nil {
				log.Printf("reconciler: listing organizations: %v", err)
				continue
			}
			for i := range orgs {
				report, err := r.SyncOrganization(ctx, orgs[i].EscrowWallet)
				if err != nil {
					log.Printf("reconciler: sync of %s: %v", orgs[i].EscrowWallet, err)
					continue
				}
				synced, imported, skipped, failed := report.Counts()
				if imported > 0 || failed > 0 {
					log.Printf("reconciler: %s synced=%d imported=%d skipped=%d failed=%d",
						orgs[i].EscrowWallet, synced, imported, skipped, failed)
				}
			}
		}
	}
}
