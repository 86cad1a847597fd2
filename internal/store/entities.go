// Package store defines the persisted domain model of the payroll engine and
// the repository interfaces every write path goes through.
package store

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// ID is the internal surrogate key of a persisted entity.
type ID int64

// Organization owns employees and payment channels. It is identified by its
// escrow wallet address, which is unique.
type Organization struct {
	ID           ID
	Name         string
	EscrowWallet string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmploymentStatus is the employment state of an employee.
type EmploymentStatus string

const (
	// EmploymentActive marks an employee as currently employed.
	EmploymentActive EmploymentStatus = "active"
	// EmploymentInactive marks an employee as no longer employed.
	EmploymentInactive EmploymentStatus = "inactive"
)

// Employee is a worker wallet under one organization. The same wallet may
// appear under multiple organizations as distinct employees.
type Employee struct {
	ID             ID
	OrganizationID ID
	Wallet         string
	Name           string
	Status         EmploymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChannelStatus is the lifecycle state of a payment channel. The stable
// subset is active/closing/closed; the rest are transitional states between
// an operation and its ledger confirmation.
type ChannelStatus string

const (
	ChannelDraft                    ChannelStatus = "draft"
	ChannelAwaitingCreateSignature  ChannelStatus = "awaiting_create_signature"
	ChannelAwaitingCreateValidation ChannelStatus = "awaiting_create_validation"
	ChannelActive                   ChannelStatus = "active"
	ChannelClosureRequested         ChannelStatus = "closure_requested"
	ChannelAwaitingCloseSignature   ChannelStatus = "awaiting_close_signature"
	ChannelClosing                  ChannelStatus = "closing"
	ChannelClosed                   ChannelStatus = "closed"
	ChannelFailedCreate             ChannelStatus = "failed_create"
)

// Terminal reports whether the status admits no further transitions.
func (s ChannelStatus) Terminal() bool {
	return s == ChannelClosed || s == ChannelFailedCreate
}

// Operational reports whether work can accrue on a channel in this status.
func (s ChannelStatus) Operational() bool {
	return s == ChannelActive || s == ChannelClosureRequested
}

// CloseReasonVanished marks a channel closed because its ledger entry
// disappeared without a recorded successful claim. The off-chain balance is
// preserved and operator action is required.
const CloseReasonVanished = "vanished"

// PaymentChannel is the central entity: one escrow-backed channel between an
// organization's wallet (source) and a worker wallet (destination).
type PaymentChannel struct {
	ID             ID
	OrganizationID ID
	EmployeeID     ID

	// ChannelID is the 64-hex ledger identifier. Empty only in the window
	// between PaymentChannelCreate submission and resolver success; once
	// assigned it is immutable.
	ChannelID string
	JobName   string

	HourlyRate      decimal.Decimal
	EscrowFunded    decimal.Decimal
	OffChainBalance decimal.Decimal
	OnChainBalance  decimal.Decimal
	LegacyBalance   decimal.Decimal // historical single-balance column; read-only

	SettleDelaySeconds uint32
	CancelAfterRipple  *uint32
	ExpirationRipple   *uint32 // set only when a source-initiated close is scheduled

	PublicKey     string // the channel's key captured from the ledger entry
	Status        ChannelStatus
	ClosureTxHash string
	CloseReason   string
	Imported      bool

	LastLedgerSync *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

var channelIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{64}$`)

// ValidChannelID reports whether s is a canonical 64-hex channel identifier.
func ValidChannelID(s string) bool { return channelIDPattern.MatchString(s) }

// Validate enforces the cross-field invariants that must hold on every write.
func (c *PaymentChannel) Validate() error {
	if c.HourlyRate.IsNegative() {
		return NewInvariantError("I1", "hourly_rate must not be negative")
	}
	if c.EscrowFunded.IsNegative() || c.OffChainBalance.IsNegative() || c.OnChainBalance.IsNegative() {
		return NewInvariantError("I1", "balances must not be negative")
	}
	if c.OffChainBalance.GreaterThan(c.EscrowFunded) {
		return NewInvariantError("I1", "off-chain balance exceeds funded escrow")
	}
	if c.ChannelID != "" && !ValidChannelID(c.ChannelID) {
		return NewInvariantError("I4", "channel_id is not a 64-hex ledger identifier")
	}
	if c.Status == ChannelClosed {
		if c.ClosureTxHash == "" && c.CloseReason != CloseReasonVanished {
			return NewInvariantError("I5", "closed channel lacks closure_tx_hash")
		}
		if !c.OffChainBalance.IsZero() && c.CloseReason != CloseReasonVanished {
			return NewInvariantError("I5", "closed channel retains off-chain balance")
		}
	}
	if c.Status != ChannelDraft && c.Status != ChannelFailedCreate && c.SettleDelaySeconds == 0 {
		return NewInvariantError("I1", "settle_delay must be positive")
	}
	return nil
}

// RemainingEscrow is the escrow not yet earmarked for the worker.
func (c *PaymentChannel) RemainingEscrow() decimal.Decimal {
	return c.EscrowFunded.Sub(c.OffChainBalance)
}

// SessionStatus is the state of a work session.
type SessionStatus string

const (
	// SessionActive means the worker is clocked in.
	SessionActive SessionStatus = "active"
	// SessionCompleted means the session has been clocked out and accrued.
	SessionCompleted SessionStatus = "completed"
)

// Session close reasons surfaced to callers.
const (
	// SessionReasonEscrowCap marks a clock-out whose accrual was clamped to
	// the remaining escrow.
	SessionReasonEscrowCap = "escrow_cap_reached"
	// SessionReasonChannelClosing marks a session force-completed because
	// its channel is closing.
	SessionReasonChannelClosing = "channel_closing"
)

// WorkSession is one clock-in/clock-out span on a channel.
type WorkSession struct {
	ID          ID
	EmployeeID  ID
	ChannelID   ID
	ClockIn     time.Time
	ClockOut    *time.Time
	Hours       decimal.Decimal // fractional hours, 6 decimals
	Status      SessionStatus
	CloseReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentEventKind classifies an audit event.
type PaymentEventKind string

const (
	EventCreate     PaymentEventKind = "create"
	EventFund       PaymentEventKind = "fund"
	EventClaimClose PaymentEventKind = "claim_close"
	EventClaimOnly  PaymentEventKind = "claim_only"
	// EventSessionEnd records a work-session accrual; tx_hash is empty.
	EventSessionEnd PaymentEventKind = "session_end"
)

// PaymentEvent is an append-only audit record of ledger-facing activity.
type PaymentEvent struct {
	ID          ID
	ChannelID   ID
	TxHash      string
	Kind        PaymentEventKind
	AmountDrops uint64
	ResultCode  string
	LedgerIndex uint32
	ObservedAt  time.Time
}

// RecipientParty identifies who a notification is addressed to.
type RecipientParty string

const (
	// RecipientOrganization targets the NGO operating the escrow wallet.
	RecipientOrganization RecipientParty = "organization"
	// RecipientWorker targets the channel's destination wallet holder.
	RecipientWorker RecipientParty = "worker"
)

// NotificationKind classifies a notification.
type NotificationKind string

const (
	NotifyClosureRequest   NotificationKind = "closure_request"
	NotifyClosureScheduled NotificationKind = "closure_scheduled"
	NotifyClosureCompleted NotificationKind = "closure_completed"
	NotifyOrphanImported   NotificationKind = "orphan_imported"
	NotifyChannelVanished  NotificationKind = "channel_vanished"
)

// Notification is an asynchronously delivered message; never on the critical
// path of a transition.
type Notification struct {
	ID             ID
	Recipient      RecipientParty
	OrganizationID ID
	EmployeeID     ID // zero when not employee-specific
	Kind           NotificationKind
	Payload        map[string]any
	Read           bool
	CreatedAt      time.Time
}
