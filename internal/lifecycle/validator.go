package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/xrpltime"
)

// ClosureKind identifies the expected on-ledger effect of a close claim.
type ClosureKind string

const (
	// ClosureSourceScheduled is a source close on a channel with remaining
	// escrow: the entry persists with Expiration set.
	ClosureSourceScheduled ClosureKind = "source_scheduled"
	// ClosureDestinationImmediate is a destination close: the entry is
	// removed as soon as the claim validates.
	ClosureDestinationImmediate ClosureKind = "destination_immediate"
	// ClosureSourceImmediate is a source close on a channel with no
	// remaining escrow: the entry is removed immediately.
	ClosureSourceImmediate ClosureKind = "source_immediate"
)

// Validation is the validator's verdict on a closure transaction. Kind is the
// path actually observed, which for a source close may differ from the
// expectation when the remaining escrow was already drained.
type Validation struct {
	Kind         ClosureKind
	TxHash       string
	EngineResult string
	LedgerIndex  uint32
	EntryRemoved bool
	// ExpiresAt is set when the entry persists with a scheduled expiration.
	ExpirationRipple *uint32
	ExpiresAt        *time.Time
}

// Validator checks a submitted close claim against the validated ledger. It
// holds no database state; the controller commits transitions based on the
// returned record.
type Validator struct {
	client ledger.Client
}

// NewValidator builds a Validator over client.
func NewValidator(client ledger.Client) *Validator {
	return &Validator{client: client}
}

// Validate confirms that txHash validated successfully and that the channel
// entry reached the state the expected closure kind implies.
func (v *Validator) Validate(ctx context.Context, channelID, txHash string, expected ClosureKind) (*Validation, error) {
	tx, err := v.client.Tx(ctx, txHash)
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

	record := &Validation{
		Kind:         expected,
		TxHash:       txHash,
		EngineResult: tx.Meta.TransactionResult,
		LedgerIndex:  tx.LedgerIndex,
	}

	entry, err := v.client.ChannelEntry(ctx, channelID)
	switch {
	case err != nil && ledger.IsNotFound(err):
		entry = nil
	case err != nil:
		return nil, err
	}

	switch expected {
	case ClosureDestinationImmediate:
		if entry != nil {
			return nil, &ChannelStateError{Op: "confirm close", Detail: "channel entry still exists after destination close"}
		}
		record.EntryRemoved = true
	case ClosureSourceScheduled:
		if entry == nil {
			return nil, &ChannelStateError{Op: "confirm close", Detail: "channel entry vanished before its scheduled expiration"}
		}
		if entry.Expiration == nil {
			return nil, &ChannelStateError{Op: "confirm close", Detail: "source close validated but no expiration was set"}
		}
		record.setExpiration(*entry.Expiration)
	case ClosureSourceImmediate:
		// Either outcome is legitimate here: removal when the escrow was
		// fully drained, a scheduled close otherwise.
		if entry == nil {
			record.EntryRemoved = true
		} else if entry.Expiration != nil {
			record.Kind = ClosureSourceScheduled
			record.setExpiration(*entry.Expiration)
		} else {
			return nil, &ChannelStateError{Op: "confirm close", Detail: "source close validated but the channel remains open"}
		}
	default:
		return nil, fmt.Errorf("lifecycle: unknown closure kind %q", expected)
	}
	return record, nil
}

func (r *Validation) setExpiration(ripple uint32) {
	at := xrpltime.FromRippleTime(ripple)
	r.ExpirationRipple = &ripple
	r.ExpiresAt = &at
}
