package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes ledger client failures so callers can decide
// whether to retry, degrade, or give up.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindUnreachable means the node could not be reached or the
	// connection dropped mid-request.
	KindUnreachable
	// KindNotFound means the requested object does not exist on the ledger.
	KindNotFound
	// KindMethodUnsupported means the node does not implement the command.
	// Callers must not abort on this kind; higher layers degrade instead.
	KindMethodUnsupported
	// KindLedger is any other error reported by the node, with its code.
	KindLedger
)

// String returns a stable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "LedgerUnreachable"
	case KindNotFound:
		return "NotFound"
	case KindMethodUnsupported:
		return "MethodUnsupported"
	case KindLedger:
		return "LedgerError"
	default:
		return "Unknown"
	}
}

// ClientError is the error type returned by all ledger client operations.
type ClientError struct {
	Kind    ErrorKind
	Op      string // command that failed, e.g. "tx"
	Code    string // node error code, e.g. "txnNotFound"
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger %s: %s (%s): %s", e.Op, e.Kind, e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("ledger %s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ClientError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a ledger NotFound error.
func IsNotFound(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == KindNotFound
}

// IsUnreachable reports whether err is a transient connectivity error.
func IsUnreachable(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == KindUnreachable
}

// IsMethodUnsupported reports whether err means the node lacks the command.
func IsMethodUnsupported(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == KindMethodUnsupported
}

func newError(kind ErrorKind, op, code, message string, cause error) *ClientError {
	return &ClientError{Kind: kind, Op: op, Code: code, Message: message, Cause: cause}
}

// classifyNodeError maps a node error code to an ErrorKind.
func classifyNodeError(code string) ErrorKind {
	switch code {
	case "txnNotFound", "entryNotFound", "actNotFound", "objectNotFound", "channelNotFound", "ledgerNotFound":
		return KindNotFound
	case "unknownCmd", "unknownCommand", "noSuchMethod":
		return KindMethodUnsupported
	default:
		return KindLedger
	}
}
