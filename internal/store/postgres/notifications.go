package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

type notificationRepo struct {
	e executor
}

func (r *notificationRepo) Create(ctx context.Context, n *store.Notification) error {
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return store.NewQueryError("notification_create", "cannot encode payload", err)
	}
	n.CreatedAt = time.Now().UTC()
	var employeeID any
	if n.EmployeeID != 0 {
		employeeID = n.EmployeeID
	}
	err = r.e.QueryRowContext(ctx,
		`INSERT INTO notifications (recipient, organization_id, employee_id, kind, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		n.Recipient, n.OrganizationID, employeeID, n.Kind, payload, n.Read, n.CreatedAt).Scan(&n.ID)
	return mapError("notification_create", err)
}

func (r *notificationRepo) ListUnread(ctx context.Context, recipient store.RecipientParty, orgID store.ID) ([]store.Notification, error) {
	rows, err := r.e.QueryContext(ctx,
		`SELECT id, recipient, organization_id, COALESCE(employee_id, 0), kind, payload, read, created_at
		 FROM notifications WHERE recipient = $1 AND organization_id = $2 AND read = FALSE ORDER BY id`,
		recipient, orgID)
	if err != nil {
		return nil, mapError("notification_list", err)
	}
	defer rows.Close()

	var out []store.Notification
	for rows.Next() {
		var (
			n       store.Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &n.OrganizationID, &n.EmployeeID,
			&n.Kind, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, mapError("notification_list", err)
		}
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, store.NewQueryError("notification_list", "cannot decode payload", err)
		}
		out = append(out, n)
	}
	return out, mapError("notification_list", rows.Err())
}

func (r *notificationRepo) MarkRead(ctx context.Context, id store.ID) error {
	res, err := r.e.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return mapError("notification_mark_read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
