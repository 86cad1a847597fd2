package lifecycle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrDestinationInactive is returned when the worker wallet is not
	// activated on the ledger. No create transaction is submitted.
	ErrDestinationInactive = errors.New("lifecycle: destination wallet is not active on the ledger")
	// ErrTransactionNotFinal is returned when a closure transaction has not
	// reached a validated ledger yet. The caller may retry confirmation.
	ErrTransactionNotFinal = errors.New("lifecycle: transaction is not in a validated ledger")
)

// ValidationError reports a rejected request parameter. It never reaches the
// database.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("lifecycle: invalid %s: %s", e.Field, e.Reason)
}

// UnclaimedBalanceError is the soft refusal of a source-initiated close while
// the worker still has an unpaid off-chain balance. Retrying with force close
// proceeds and pays the balance in the claim.
type UnclaimedBalanceError struct {
	Amount     decimal.Decimal
	CallerKind CallerKind
}

// Error implements the error interface.
func (e *UnclaimedBalanceError) Error() string {
	return fmt.Sprintf("UnclaimedBalance(%s, %s)", e.Amount, e.CallerKind)
}

// IsUnclaimedBalance reports whether err is an UnclaimedBalanceError.
func IsUnclaimedBalance(err error) bool {
	var ub *UnclaimedBalanceError
	return errors.As(err, &ub)
}

// TransactionFailedError means the ledger validated the transaction with a
// non-success engine result.
type TransactionFailedError struct {
	Code string
}

// Error implements the error interface.
func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("TransactionFailed(%s)", e.Code)
}

// ChannelStateError reports a channel whose persisted or on-ledger state does
// not admit the requested operation.
type ChannelStateError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *ChannelStateError) Error() string {
	return fmt.Sprintf("lifecycle: %s: %s", e.Op, e.Detail)
}

// SigningAbortedError means the wallet reported a non-signed terminal outcome
// (cancelled, expired or rejected) for a pending signature.
type SigningAbortedError struct {
	Status string
}

// Error implements the error interface.
func (e *SigningAbortedError) Error() string {
	return fmt.Sprintf("lifecycle: signing aborted (%s)", e.Status)
}
