package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

const selectSession = `SELECT id, employee_id, channel_id, clock_in, clock_out, hours,
	status, close_reason, created_at, updated_at FROM work_sessions`

type sessionRepo struct {
	e executor
}

func scanSession(row rowScanner) (*store.WorkSession, error) {
	var (
		s        store.WorkSession
		clockOut sql.NullTime
		hours    string
	)
	err := row.Scan(&s.ID, &s.EmployeeID, &s.ChannelID, &s.ClockIn, &clockOut, &hours,
		&s.Status, &s.CloseReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if clockOut.Valid {
		t := clockOut.Time
		s.ClockOut = &t
	}
	if s.Hours, err = decimal.NewFromString(hours); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, s *store.WorkSession) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	err := r.e.QueryRowContext(ctx,
		`INSERT INTO work_sessions (employee_id, channel_id, clock_in, clock_out, hours,
			status, close_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		s.EmployeeID, s.ChannelID, s.ClockIn, nullTime(s.ClockOut), s.Hours.String(),
		s.Status, s.CloseReason, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	return mapError("session_create", err)
}

func (r *sessionRepo) GetByID(ctx context.Context, id store.ID) (*store.WorkSession, error) {
	s, err := scanSession(r.e.QueryRowContext(ctx, selectSession+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("session_get", err)
	}
	return s, nil
}

func (r *sessionRepo) Active(ctx context.Context, employeeID, channelID store.ID) (*store.WorkSession, error) {
	s, err := scanSession(r.e.QueryRowContext(ctx,
		selectSession+" WHERE employee_id = $1 AND channel_id = $2 AND status = 'active'",
		employeeID, channelID))
	if err != nil {
		return nil, mapError("session_active", err)
	}
	return s, nil
}

func (r *sessionRepo) ActiveByChannel(ctx context.Context, channelID store.ID) ([]store.WorkSession, error) {
	rows, err := r.e.QueryContext(ctx,
		selectSession+" WHERE channel_id = $1 AND status = 'active' ORDER BY id", channelID)
	if err != nil {
		return nil, mapError("session_active_by_channel", err)
	}
	defer rows.Close()

	var sessions []store.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, mapError("session_active_by_channel", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, mapError("session_active_by_channel", rows.Err())
}

func (r *sessionRepo) HoursBetween(ctx context.Context, channelID store.ID, from, to time.Time) (decimal.Decimal, error) {
	var sum string
	err := r.e.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(hours), 0) FROM work_sessions
		 WHERE channel_id = $1 AND status = 'completed' AND clock_in >= $2 AND clock_in < $3`,
		channelID, from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, mapError("session_hours_between", err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, store.NewQueryError("session_hours_between", "bad numeric from database", err)
	}
	return d, nil
}

func (r *sessionRepo) Update(ctx context.Context, s *store.WorkSession) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.e.ExecContext(ctx,
		`UPDATE work_sessions SET clock_out = $2, hours = $3, status = $4,
			close_reason = $5, updated_at = $6 WHERE id = $1`,
		s.ID, nullTime(s.ClockOut), s.Hours.String(), s.Status, s.CloseReason, s.UpdatedAt)
	if err != nil {
		return mapError("session_update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
