// Package tracker implements clock-in/clock-out and the accrual of earned
// wages into a channel's off-chain balance. Accrual is serialized per channel
// through the same row lock the lifecycle controller uses.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/clock"
	"github.com/xrpl-payroll/payrolld/internal/store"
)

// DefaultMaxDailyHours caps accrued hours per channel per calendar day.
const DefaultMaxDailyHours = 8

var (
	// ErrChannelNotActive is returned when clocking in on a channel that is
	// not operational.
	ErrChannelNotActive = errors.New("tracker: channel is not active")
	// ErrAlreadyClockedIn guards I6: one active session per (employee, channel).
	ErrAlreadyClockedIn = errors.New("tracker: an active session already exists")
)

// DailyCapError is returned when today's hours on the channel have reached
// the configured cap.
type DailyCapError struct {
	Worked decimal.Decimal
	Cap    decimal.Decimal
}

// Error implements the error interface.
func (e *DailyCapError) Error() string {
	return fmt.Sprintf("tracker: daily cap reached (%s of %s hours)", e.Worked, e.Cap)
}

// ClockOutResult reports the outcome of a clock-out.
type ClockOutResult struct {
	Session *store.WorkSession
	// Earned is the amount accrued by this call; zero when the call was an
	// idempotent replay of an already-completed session.
	Earned decimal.Decimal
	// CapReached is true when the accrual was clamped to the remaining escrow.
	CapReached bool
	// AlreadyCompleted is true on an idempotent replay.
	AlreadyCompleted bool
}

// Tracker manages work sessions.
type Tracker struct {
	store    store.Store
	clock    clock.Clock
	maxDaily decimal.Decimal
}

// New builds a Tracker. A non-positive maxDailyHours uses the default of 8.
func New(st store.Store, clk clock.Clock, maxDailyHours decimal.Decimal) *Tracker {
	if maxDailyHours.LessThanOrEqual(decimal.Zero) {
		maxDailyHours = decimal.NewFromInt(DefaultMaxDailyHours)
	}
	return &Tracker{store: st, clock: clk, maxDaily: maxDailyHours}
}

// ClockIn opens a session for (employee, channel).
func (t *Tracker) ClockIn(ctx context.Context, employeeID, channelID store.ID) (*store.WorkSession, error) {
	var session *store.WorkSession
	err := t.store.WithTx(ctx, func(tx store.Tx) error {
		ch, err := tx.ChannelForUpdate(ctx, channelID)
		if err != nil {
			return err
		}
		if !ch.Status.Operational() {
			return ErrChannelNotActive
		}
		if _, err := tx.Sessions().Active(ctx, employeeID, channelID); err == nil {
			return ErrAlreadyClockedIn
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := t.clock.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		worked, err := tx.Sessions().HoursBetween(ctx, channelID, dayStart, dayStart.Add(24*time.Hour))
		if err != nil {
			return err
		}
		if worked.GreaterThanOrEqual(t.maxDaily) {
			return &DailyCapError{Worked: worked, Cap: t.maxDaily}
		}

		session = &store.WorkSession{
			EmployeeID: employeeID,
			ChannelID:  channelID,
			ClockIn:    now,
			Hours:      decimal.Zero,
			Status:     store.SessionActive,
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ClockOut completes a session and accrues its wages. Calling it again on a
// completed session returns the recorded values without double-accrual.
func (t *Tracker) ClockOut(ctx context.Context, sessionID store.ID) (*ClockOutResult, error) {
	var result *ClockOutResult
	err := t.store.WithTx(ctx, func(tx store.Tx) error {
		session, err := tx.Sessions().GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == store.SessionCompleted {
			result = replayResult(session)
			return nil
		}

		ch, err := tx.ChannelForUpdate(ctx, session.ChannelID)
		if err != nil {
			return err
		}

		// Re-read under the channel lock: a concurrent clock-out may have
		// completed the session between the first read and the lock.
		session, err = tx.Sessions().GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == store.SessionCompleted {
			result = replayResult(session)
			return nil
		}

		now := t.clock.Now().UTC()
		earned, capReached, err := accrue(tx, ctx, ch, session, now)
		if err != nil {
			return err
		}
		if err := tx.Channels().Update(ctx, ch); err != nil {
			return err
		}
		result = &ClockOutResult{Session: session, Earned: earned, CapReached: capReached}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replayResult renders a completed session's clock-out without re-accruing.
func replayResult(session *store.WorkSession) *ClockOutResult {
	return &ClockOutResult{
		Session:          session,
		Earned:           decimal.Zero,
		CapReached:       session.CloseReason == store.SessionReasonEscrowCap,
		AlreadyCompleted: true,
	}
}

// CompleteActiveSessions force-completes every active session on a locked
// channel, applying their final hours. The caller holds the row lock, runs
// inside the same transaction, and persists the updated channel. Used when a
// channel is being closed.
func (t *Tracker) CompleteActiveSessions(ctx context.Context, tx store.Tx, ch *store.PaymentChannel) error {
	sessions, err := tx.Sessions().ActiveByChannel(ctx, ch.ID)
	if err != nil {
		return err
	}
	now := t.clock.Now().UTC()
	for i := range sessions {
		session := &sessions[i]
		if _, _, err := accrue(tx, ctx, ch, session, now); err != nil {
			return err
		}
		if session.CloseReason == "" {
			session.CloseReason = store.SessionReasonChannelClosing
			if err := tx.Sessions().Update(ctx, session); err != nil {
				return err
			}
		}
	}
	return nil
}

// accrue completes one session at now and adds its clamped earnings to the
// channel's off-chain balance. The channel row is already locked; the caller
// persists the channel.
func accrue(tx store.Tx, ctx context.Context, ch *store.PaymentChannel, session *store.WorkSession, now time.Time) (decimal.Decimal, bool, error) {
	hours := decimal.NewFromFloat(now.Sub(session.ClockIn).Seconds()).
		Div(decimal.NewFromInt(3600)).Round(6)
	if hours.IsNegative() {
		hours = decimal.Zero
	}

	// Drops are the smallest payable unit: the close claim converts the
	// off-chain balance to drops, so accrual truncates sub-drop remainders.
	earned := hours.Mul(ch.HourlyRate).RoundDown(6)
	capReached := false
	if remaining := ch.RemainingEscrow(); earned.GreaterThan(remaining) {
		earned = remaining
		capReached = true
	}

	session.ClockOut = &now
	session.Hours = hours
	session.Status = store.SessionCompleted
	if capReached {
		session.CloseReason = store.SessionReasonEscrowCap
	}
	if err := tx.Sessions().Update(ctx, session); err != nil {
		return decimal.Zero, false, err
	}

	ch.OffChainBalance = ch.OffChainBalance.Add(earned)

	event := &store.PaymentEvent{
		ChannelID:   ch.ID,
		Kind:        store.EventSessionEnd,
		AmountDrops: uint64(earned.Shift(6).IntPart()),
		ObservedAt:  now,
	}
	if err := tx.Payments().Append(ctx, event); err != nil {
		return decimal.Zero, false, err
	}
	return earned, capReached, nil
}
