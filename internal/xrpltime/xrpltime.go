// Package xrpltime converts between wall-clock time and the Ripple epoch,
// and between drops and decimal native-currency amounts.
package xrpltime

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RippleEpochOffset is the number of seconds between the Unix epoch and the
// Ripple epoch (2000-01-01T00:00:00 UTC).
const RippleEpochOffset int64 = 946684800

// DropsPerUnit is the number of drops in one native currency unit.
const DropsPerUnit int64 = 1_000_000

var (
	// ErrTooPrecise is returned when a decimal amount carries more than six
	// fractional digits and therefore cannot be represented in drops.
	ErrTooPrecise = errors.New("amount has more than 6 fractional digits")
	// ErrNegativeAmount is returned when a negative amount is converted to drops.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrBeforeRippleEpoch is returned when a time predates the Ripple epoch.
	ErrBeforeRippleEpoch = errors.New("time is before the Ripple epoch")
)

// ToRippleTime converts a wall-clock time to seconds since the Ripple epoch.
func ToRippleTime(t time.Time) (uint32, error) {
	secs := t.Unix() - RippleEpochOffset
	if secs < 0 {
		return 0, ErrBeforeRippleEpoch
	}
	return uint32(secs), nil
}

// FromRippleTime converts seconds since the Ripple epoch to a UTC wall-clock time.
func FromRippleTime(rt uint32) time.Time {
	return time.Unix(int64(rt)+RippleEpochOffset, 0).UTC()
}

// DropsToDecimal converts an integer drops amount to a decimal amount of
// native currency units.
func DropsToDecimal(drops uint64) decimal.Decimal {
	return decimal.New(int64(drops), 0).Shift(-6)
}

// DecimalToDrops converts a decimal amount of native currency units to drops.
// Amounts with more than six fractional digits cannot be represented on the
// ledger and are rejected rather than rounded.
func DecimalToDrops(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	shifted := amount.Shift(6)
	if !shifted.IsInteger() {
		return 0, ErrTooPrecise
	}
	return uint64(shifted.IntPart()), nil
}
