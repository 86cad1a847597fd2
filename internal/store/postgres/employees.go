package postgres

import (
	"context"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

const selectEmployee = `SELECT id, organization_id, wallet, name, status, created_at, updated_at FROM employees`

type employeeRepo struct {
	e executor
}

func scanEmployee(row rowScanner) (*store.Employee, error) {
	var emp store.Employee
	if err := row.Scan(&emp.ID, &emp.OrganizationID, &emp.Wallet, &emp.Name, &emp.Status,
		&emp.CreatedAt, &emp.UpdatedAt); err != nil {
		return nil, err
	}
	return &emp, nil
}

func (r *employeeRepo) Create(ctx context.Context, emp *store.Employee) error {
	if emp.Status == "" {
		emp.Status = store.EmploymentActive
	}
	now := time.Now().UTC()
	emp.CreatedAt = now
	emp.UpdatedAt = now
	err := r.e.QueryRowContext(ctx,
		`INSERT INTO employees (organization_id, wallet, name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		emp.OrganizationID, emp.Wallet, emp.Name, emp.Status, emp.CreatedAt, emp.UpdatedAt).Scan(&emp.ID)
	return mapError("employee_create", err)
}

func (r *employeeRepo) GetByID(ctx context.Context, id store.ID) (*store.Employee, error) {
	emp, err := scanEmployee(r.e.QueryRowContext(ctx, selectEmployee+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("employee_get", err)
	}
	return emp, nil
}

func (r *employeeRepo) GetByWallet(ctx context.Context, orgID store.ID, wallet string) (*store.Employee, error) {
	emp, err := scanEmployee(r.e.QueryRowContext(ctx,
		selectEmployee+" WHERE organization_id = $1 AND wallet = $2", orgID, wallet))
	if err != nil {
		return nil, mapError("employee_get_by_wallet", err)
	}
	return emp, nil
}

func (r *employeeRepo) ListByOrganization(ctx context.Context, orgID store.ID) ([]store.Employee, error) {
	rows, err := r.e.QueryContext(ctx, selectEmployee+" WHERE organization_id = $1 ORDER BY id", orgID)
	if err != nil {
		return nil, mapError("employee_list", err)
	}
	defer rows.Close()

	var emps []store.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, mapError("employee_list", err)
		}
		emps = append(emps, *emp)
	}
	return emps, mapError("employee_list", rows.Err())
}
