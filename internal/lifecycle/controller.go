// Package lifecycle drives payment channels through their state machine:
// creation against the ledger, wage-claim closure in either direction, escrow
// top-ups, and the rollbacks that keep the database honest when a transaction
// fails. All transitions run under the channel's row lock; ledger reads happen
// outside the transaction and the precondition is re-verified before commit.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/clock"
	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/resolver"
	"github.com/xrpl-payroll/payrolld/internal/store"
	"github.com/xrpl-payroll/payrolld/internal/tracker"
	"github.com/xrpl-payroll/payrolld/internal/wallet"
	"github.com/xrpl-payroll/payrolld/internal/xrpltime"
)

// CallerKind identifies which side of the channel initiates an operation.
type CallerKind string

const (
	// CallerSource is the organization operating the escrow wallet.
	CallerSource CallerKind = "source"
	// CallerDestination is the worker receiving claims.
	CallerDestination CallerKind = "destination"
)

// Valid reports whether k is a known caller kind.
func (k CallerKind) Valid() bool {
	return k == CallerSource || k == CallerDestination
}

// Params wires a Controller.
type Params struct {
	Store     store.Store
	Ledger    ledger.Client
	Signer    wallet.Signer
	Resolver  *resolver.Resolver
	Validator *Validator
	Tracker   *tracker.Tracker
	Clock     clock.Clock
	Network   wallet.NetworkTag

	// DefaultSettleDelay applies when a create request carries none.
	DefaultSettleDelay uint32
	// DefaultCancelAfter bounds a new channel's lifetime from creation.
	// Zero disables CancelAfter.
	DefaultCancelAfter time.Duration
}

// Controller owns channel state transitions.
type Controller struct {
	store     store.Store
	ledger    ledger.Client
	signer    wallet.Signer
	resolver  *resolver.Resolver
	validator *Validator
	tracker   *tracker.Tracker
	clock     clock.Clock
	network   wallet.NetworkTag

	defaultSettleDelay uint32
	defaultCancelAfter time.Duration
}

// New builds a Controller.
func New(p Params) *Controller {
	if p.DefaultSettleDelay == 0 {
		p.DefaultSettleDelay = 86400
	}
	return &Controller{
		store:              p.Store,
		ledger:             p.Ledger,
		signer:             p.Signer,
		resolver:           p.Resolver,
		validator:          p.Validator,
		tracker:            p.Tracker,
		clock:              p.Clock,
		network:            p.Network,
		defaultSettleDelay: p.DefaultSettleDelay,
		defaultCancelAfter: p.DefaultCancelAfter,
	}
}

// SignRequest is an unsigned transaction handed to the wallet, plus the
// payload reference the caller confirms with later.
type SignRequest struct {
	Channel    *store.PaymentChannel
	UnsignedTx map[string]any
	PayloadRef string
	Provider   wallet.Provider
}

// CreateParams describes a requested channel.
type CreateParams struct {
	OrganizationWallet string
	WorkerWallet       string
	WorkerName         string
	JobName            string
	HourlyRate         decimal.Decimal
	EscrowAmount       decimal.Decimal
	SettleDelaySeconds uint32
	CancelAfterSeconds uint32
}

// CreateChannel opens the create ceremony: it verifies the worker wallet is
// active on the ledger, persists the channel in its pre-signature state and
// hands the unsigned PaymentChannelCreate to the wallet.
func (c *Controller) CreateChannel(ctx context.Context, p CreateParams) (*SignRequest, error) {
	if p.HourlyRate.IsNegative() {
		return nil, &ValidationError{Field: "hourly_rate", Reason: "must not be negative"}
	}
	if p.EscrowAmount.IsNegative() {
		return nil, &ValidationError{Field: "escrow_amount", Reason: "must not be negative"}
	}
	if p.OrganizationWallet == p.WorkerWallet {
		return nil, &ValidationError{Field: "worker_wallet", Reason: "must differ from the organization wallet"}
	}
	escrowDrops, err := xrpltime.DecimalToDrops(p.EscrowAmount)
	if err != nil {
		return nil, &ValidationError{Field: "escrow_amount", Reason: err.Error()}
	}
	settleDelay := p.SettleDelaySeconds
	if settleDelay == 0 {
		settleDelay = c.defaultSettleDelay
	}

	org, err := c.store.Organizations().GetByWallet(ctx, p.OrganizationWallet)
	if err != nil {
		return nil, err
	}

	if _, err := c.ledger.AccountInfo(ctx, p.WorkerWallet); err != nil {
		if ledger.IsNotFound(err) {
			return nil, ErrDestinationInactive
		}
		return nil, err
	}

	var cancelAfter *uint32
	cancelSeconds := p.CancelAfterSeconds
	if cancelSeconds == 0 && c.defaultCancelAfter > 0 {
		cancelSeconds = uint32(c.defaultCancelAfter / time.Second)
	}
	if cancelSeconds > 0 {
		at, err := xrpltime.ToRippleTime(c.clock.Now().Add(time.Duration(cancelSeconds) * time.Second))
		if err != nil {
			return nil, err
		}
		cancelAfter = &at
	}

	var ch *store.PaymentChannel
	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		emp, err := tx.Employees().GetByWallet(ctx, org.ID, p.WorkerWallet)
		if errors.Is(err, store.ErrNotFound) {
			emp = &store.Employee{
				OrganizationID: org.ID,
				Wallet:         p.WorkerWallet,
				Name:           p.WorkerName,
				Status:         store.EmploymentActive,
			}
			err = tx.Employees().Create(ctx, emp)
		}
		if err != nil {
			return err
		}

		ch = &store.PaymentChannel{
			OrganizationID:     org.ID,
			EmployeeID:         emp.ID,
			JobName:            p.JobName,
			HourlyRate:         p.HourlyRate,
			EscrowFunded:       p.EscrowAmount,
			OffChainBalance:    decimal.Zero,
			OnChainBalance:     decimal.Zero,
			SettleDelaySeconds: settleDelay,
			CancelAfterRipple:  cancelAfter,
			Status:             store.ChannelAwaitingCreateSignature,
		}
		return tx.Channels().Create(ctx, ch)
	})
	if err != nil {
		return nil, err
	}

	unsigned := buildCreateTx(org.EscrowWallet, p.WorkerWallet, escrowDrops, settleDelay, cancelAfter)
	pending, err := c.signer.PrepareSign(ctx, unsigned, org.EscrowWallet, c.network)
	if err != nil {
		c.transition(ch.ID, store.ChannelAwaitingCreateSignature, store.ChannelFailedCreate)
		return nil, err
	}
	go c.watchSigning(ch.ID, pending.PayloadRef, store.ChannelAwaitingCreateSignature, store.ChannelFailedCreate)

	return &SignRequest{
		Channel:    ch,
		UnsignedTx: unsigned,
		PayloadRef: pending.PayloadRef,
		Provider:   pending.Provider,
	}, nil
}

// ConfirmCreate resolves the ledger-assigned channel ID for the signed create
// transaction and activates the channel. Resolver exhaustion marks the
// channel failed; no placeholder identifier is ever persisted.
func (c *Controller) ConfirmCreate(ctx context.Context, channelID store.ID, txHash string) (*store.PaymentChannel, error) {
	ch, err := c.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Status == store.ChannelActive && ch.ChannelID != "" {
		return ch, nil
	}
	if ch.Status != store.ChannelAwaitingCreateSignature && ch.Status != store.ChannelAwaitingCreateValidation {
		return nil, &ChannelStateError{Op: "confirm create", Detail: "channel is " + string(ch.Status)}
	}

	org, err := c.store.Organizations().GetByID(ctx, ch.OrganizationID)
	if err != nil {
		return nil, err
	}
	emp, err := c.store.Employees().GetByID(ctx, ch.EmployeeID)
	if err != nil {
		return nil, err
	}
	escrowDrops, err := xrpltime.DecimalToDrops(ch.EscrowFunded)
	if err != nil {
		return nil, err
	}

	if ch.Status == store.ChannelAwaitingCreateSignature {
		if err := c.transition(ch.ID, store.ChannelAwaitingCreateSignature, store.ChannelAwaitingCreateValidation); err != nil {
			return nil, err
		}
	}

	resolved, err := c.resolver.Resolve(ctx, resolver.Request{
		TxHash:              txHash,
		Source:              org.EscrowWallet,
		Destination:         emp.Wallet,
		ExpectedAmountDrops: escrowDrops,
		ExpectedSettleDelay: ch.SettleDelaySeconds,
	})
	if err != nil {
		if resolver.IsUnresolved(err) {
			if terr := c.transition(ch.ID, store.ChannelAwaitingCreateValidation, store.ChannelFailedCreate); terr != nil {
				log.Printf("lifecycle: marking channel %d failed: %v", ch.ID, terr)
			}
		}
		return nil, err
	}

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err = tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != store.ChannelAwaitingCreateValidation {
			return &ChannelStateError{Op: "confirm create", Detail: "channel is " + string(ch.Status)}
		}
		ch.ChannelID = resolved.ChannelID
		ch.PublicKey = resolved.PublicKey
		ch.Status = store.ChannelActive
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		return tx.Payments().Append(ctx, &store.PaymentEvent{
			ChannelID:   ch.ID,
			TxHash:      txHash,
			Kind:        store.EventCreate,
			AmountDrops: escrowDrops,
			ResultCode:  "tesSUCCESS",
			ObservedAt:  c.clock.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RequestClosure records the organization's wish that the worker close the
// channel. The channel stays operational; the worker is notified.
func (c *Controller) RequestClosure(ctx context.Context, channelID store.ID) (*store.Notification, error) {
	var note *store.Notification
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err := tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != store.ChannelActive {
			return &ChannelStateError{Op: "request closure", Detail: "channel is " + string(ch.Status)}
		}
		ch.Status = store.ChannelClosureRequested
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		note = &store.Notification{
			Recipient:      store.RecipientWorker,
			OrganizationID: ch.OrganizationID,
			EmployeeID:     ch.EmployeeID,
			Kind:           store.NotifyClosureRequest,
			Payload: map[string]any{
				"channel_id":        ch.ChannelID,
				"off_chain_balance": ch.OffChainBalance.String(),
			},
		}
		return tx.Notifications().Create(ctx, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// CloseParams describes a close request.
type CloseParams struct {
	CallerKind CallerKind
	// ForceClose bypasses the unclaimed-balance guard on a source close.
	ForceClose bool
}

// Close opens the closure ceremony: it force-completes any running work
// session, composes the close claim and hands it to the wallet. A source
// close while the worker is still owed wages is refused unless forced; the
// forced claim pays the worker's balance. Channels already closing or closed
// return their recorded state without a new submission.
func (c *Controller) Close(ctx context.Context, channelID store.ID, p CloseParams) (*SignRequest, error) {
	if !p.CallerKind.Valid() {
		return nil, &ValidationError{Field: "caller_kind", Reason: "must be source or destination"}
	}

	var (
		ch           *store.PaymentChannel
		account      string
		balanceDrops uint64
		prior        store.ChannelStatus
	)
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ch, err = tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status == store.ChannelClosing || ch.Status == store.ChannelClosed {
			return nil
		}
		if !ch.Status.Operational() {
			return &ChannelStateError{Op: "close", Detail: "channel is " + string(ch.Status)}
		}
		if ch.ChannelID == "" {
			return &ChannelStateError{Op: "close", Detail: "channel has no ledger identifier yet"}
		}
		if p.CallerKind == CallerSource && ch.OffChainBalance.IsPositive() && !p.ForceClose {
			return &UnclaimedBalanceError{Amount: ch.OffChainBalance, CallerKind: p.CallerKind}
		}

		if err := c.tracker.CompleteActiveSessions(ctx, tx, ch); err != nil {
			return err
		}
		balanceDrops, err = xrpltime.DecimalToDrops(ch.OffChainBalance)
		if err != nil {
			return err
		}

		org, err := tx.Organizations().GetByID(ctx, ch.OrganizationID)
		if err != nil {
			return err
		}
		emp, err := tx.Employees().GetByID(ctx, ch.EmployeeID)
		if err != nil {
			return err
		}
		if p.CallerKind == CallerSource {
			account = org.EscrowWallet
		} else {
			account = emp.Wallet
		}

		prior = ch.Status
		ch.Status = store.ChannelAwaitingCloseSignature
		return tx.Channels().Update(ctx, ch)
	})
	if err != nil {
		return nil, err
	}
	if ch.Status == store.ChannelClosing || ch.Status == store.ChannelClosed {
		return &SignRequest{Channel: ch}, nil
	}

	unsigned := buildCloseClaimTx(ch, account, balanceDrops)
	pending, err := c.signer.PrepareSign(ctx, unsigned, account, c.network)
	if err != nil {
		c.transition(ch.ID, store.ChannelAwaitingCloseSignature, prior)
		return nil, err
	}
	go c.watchSigning(ch.ID, pending.PayloadRef, store.ChannelAwaitingCloseSignature, prior)

	return &SignRequest{
		Channel:    ch,
		UnsignedTx: unsigned,
		PayloadRef: pending.PayloadRef,
		Provider:   pending.Provider,
	}, nil
}

// CloseOutcome reports a confirmed (or already-recorded) closure.
type CloseOutcome struct {
	Channel    *store.PaymentChannel
	Validation *Validation
	// Recorded is true when the call was an idempotent replay and no ledger
	// verification ran.
	Recorded bool
}

// ConfirmClose verifies the signed close claim against the validated ledger
// and commits the matching transition. A validated failure rolls the channel
// back to active with its off-chain balance intact. Replays on a closing or
// closed channel return the recorded outcome.
func (c *Controller) ConfirmClose(ctx context.Context, channelID store.ID, txHash string, caller CallerKind) (*CloseOutcome, error) {
	if !caller.Valid() {
		return nil, &ValidationError{Field: "caller_kind", Reason: "must be source or destination"}
	}
	ch, err := c.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	switch ch.Status {
	case store.ChannelClosed:
		return &CloseOutcome{Channel: ch, Recorded: true}, nil
	case store.ChannelClosing:
		if ch.ClosureTxHash == txHash && ch.ExpirationRipple != nil {
			return &CloseOutcome{Channel: ch, Recorded: true}, nil
		}
	case store.ChannelAwaitingCloseSignature:
		err = c.store.WithTx(ctx, func(tx store.Tx) error {
			ch, err = tx.ChannelForUpdate(ctx, channelID)
			if err != nil {
				return err
			}
			if ch.Status != store.ChannelAwaitingCloseSignature {
				return nil
			}
			ch.Status = store.ChannelClosing
			ch.ClosureTxHash = txHash
			return tx.Channels().Update(ctx, ch)
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, &ChannelStateError{Op: "confirm close", Detail: "channel is " + string(ch.Status)}
	}
	if ch.Status != store.ChannelClosing {
		return nil, &ChannelStateError{Op: "confirm close", Detail: "channel is " + string(ch.Status)}
	}

	expected := expectedClosureKind(ch, caller)
	validation, err := c.validator.Validate(ctx, ch.ChannelID, txHash, expected)
	if err != nil {
		var failed *TransactionFailedError
		if errors.As(err, &failed) {
			if rbErr := c.rollbackFailedClose(ctx, channelID, txHash, failed.Code); rbErr != nil {
				log.Printf("lifecycle: rollback of channel %d after %s: %v", channelID, failed.Code, rbErr)
			}
		}
		return nil, err
	}

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err = tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != store.ChannelClosing || ch.ClosureTxHash != txHash {
			return &ChannelStateError{Op: "confirm close", Detail: "channel changed while validating"}
		}

		paidDrops, err := xrpltime.DecimalToDrops(ch.OffChainBalance)
		if err != nil {
			return err
		}
		// The validated claim has already paid the worker, so the off-chain
		// balance settles now even when closure itself waits out SettleDelay.
		ch.OffChainBalance = decimal.Zero

		note := &store.Notification{
			Recipient:      store.RecipientWorker,
			OrganizationID: ch.OrganizationID,
			EmployeeID:     ch.EmployeeID,
			Payload: map[string]any{
				"channel_id": ch.ChannelID,
				"tx_hash":    txHash,
			},
		}
		if validation.EntryRemoved {
			now := c.clock.Now().UTC()
			ch.Status = store.ChannelClosed
			ch.ClosedAt = &now
			note.Kind = store.NotifyClosureCompleted
		} else {
			ch.ExpirationRipple = validation.ExpirationRipple
			note.Kind = store.NotifyClosureScheduled
			note.Payload["expires_at"] = validation.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		if err := tx.Payments().Append(ctx, &store.PaymentEvent{
			ChannelID:   ch.ID,
			TxHash:      txHash,
			Kind:        store.EventClaimClose,
			AmountDrops: paidDrops,
			ResultCode:  validation.EngineResult,
			LedgerIndex: validation.LedgerIndex,
			ObservedAt:  c.clock.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.Notifications().Create(ctx, note)
	})
	if err != nil {
		return nil, err
	}
	return &CloseOutcome{Channel: ch, Validation: validation}, nil
}

// Fund opens a top-up ceremony adding escrow to an active channel.
func (c *Controller) Fund(ctx context.Context, channelID store.ID, amount decimal.Decimal) (*SignRequest, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	amountDrops, err := xrpltime.DecimalToDrops(amount)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}

	ch, err := c.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.Status.Operational() || ch.ChannelID == "" {
		return nil, &ChannelStateError{Op: "fund", Detail: "channel is " + string(ch.Status)}
	}
	org, err := c.store.Organizations().GetByID(ctx, ch.OrganizationID)
	if err != nil {
		return nil, err
	}

	unsigned := buildFundTx(ch, org.EscrowWallet, amountDrops)
	pending, err := c.signer.PrepareSign(ctx, unsigned, org.EscrowWallet, c.network)
	if err != nil {
		return nil, err
	}
	return &SignRequest{
		Channel:    ch,
		UnsignedTx: unsigned,
		PayloadRef: pending.PayloadRef,
		Provider:   pending.Provider,
	}, nil
}

// ConfirmFund verifies a validated top-up and raises the recorded escrow to
// the channel entry's new amount. Replaying the same hash is a no-op once the
// escrow already reflects it.
func (c *Controller) ConfirmFund(ctx context.Context, channelID store.ID, txHash string) (*store.PaymentChannel, error) {
	ch, err := c.store.Channels().GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	tx, err := c.ledger.Tx(ctx, txHash)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, ErrTransactionNotFinal
		}
		return nil, err
	}
	if !tx.Validated || tx.Meta == nil {
		return nil, ErrTransactionNotFinal
	}
	if tx.Meta.TransactionResult != "tesSUCCESS" {
		return nil, &TransactionFailedError{Code: tx.Meta.TransactionResult}
	}

	entry, err := c.ledger.ChannelEntry(ctx, ch.ChannelID)
	if err != nil {
		return nil, err
	}
	entryDrops, err := entry.AmountDrops()
	if err != nil {
		return nil, err
	}
	funded := xrpltime.DropsToDecimal(entryDrops)

	err = c.store.WithTx(ctx, func(stx store.Tx) error {
		ch, err = stx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		delta := funded.Sub(ch.EscrowFunded)
		if !delta.IsPositive() {
			return nil
		}
		deltaDrops, err := xrpltime.DecimalToDrops(delta)
		if err != nil {
			return err
		}
		ch.EscrowFunded = funded
		if err := stx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		return stx.Payments().Append(ctx, &store.PaymentEvent{
			ChannelID:   ch.ID,
			TxHash:      txHash,
			Kind:        store.EventFund,
			AmountDrops: deltaDrops,
			ResultCode:  tx.Meta.TransactionResult,
			LedgerIndex: tx.LedgerIndex,
			ObservedAt:  c.clock.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// expectedClosureKind derives the validator's expectation from who signed and
// whether escrow remains after the claim pays the off-chain balance.
func expectedClosureKind(ch *store.PaymentChannel, caller CallerKind) ClosureKind {
	if caller == CallerDestination {
		return ClosureDestinationImmediate
	}
	if ch.RemainingEscrow().IsPositive() {
		return ClosureSourceScheduled
	}
	return ClosureSourceImmediate
}

// rollbackFailedClose returns a closing channel to active after a validated
// failure, preserving the off-chain balance, and records the engine result.
func (c *Controller) rollbackFailedClose(ctx context.Context, channelID store.ID, txHash, code string) error {
	return c.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err := tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != store.ChannelClosing || ch.ClosureTxHash != txHash {
			return nil
		}
		ch.Status = store.ChannelActive
		ch.ClosureTxHash = ""
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		return tx.Payments().Append(ctx, &store.PaymentEvent{
			ChannelID:  ch.ID,
			TxHash:     txHash,
			Kind:       store.EventClaimClose,
			ResultCode: code,
			ObservedAt: c.clock.Now().UTC(),
		})
	})
}

// transition moves a channel from one status to another under the row lock,
// doing nothing if the channel is no longer in the expected status.
func (c *Controller) transition(channelID store.ID, from, to store.ChannelStatus) error {
	ctx := context.Background()
	return c.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err := tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if ch.Status != from {
			return nil
		}
		ch.Status = to
		return tx.Channels().Update(ctx, ch)
	})
}

// watchSigning waits for the wallet's terminal outcome and unwinds the
// awaiting state when the user cancelled, the request expired, or the wallet
// rejected it. A signed outcome is left for the confirm endpoints to commit.
func (c *Controller) watchSigning(channelID store.ID, payloadRef string, awaiting, onAbort store.ChannelStatus) {
	out, err := c.signer.AwaitResult(context.Background(), payloadRef)
	if err != nil {
		log.Printf("lifecycle: awaiting signature for channel %d: %v", channelID, err)
		return
	}
	if out.Status == wallet.StatusSigned {
		return
	}
	if err := c.transition(channelID, awaiting, onAbort); err != nil {
		log.Printf("lifecycle: unwinding %s for channel %d after %s: %v", awaiting, channelID, out.Status, err)
	}
}
