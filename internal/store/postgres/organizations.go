package postgres

import (
	"context"
	"time"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

const selectOrganization = `SELECT id, name, escrow_wallet, created_at, updated_at FROM organizations`

type organizationRepo struct {
	e executor
}

func scanOrganization(row rowScanner) (*store.Organization, error) {
	var org store.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.EscrowWallet, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepo) Create(ctx context.Context, org *store.Organization) error {
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	err := r.e.QueryRowContext(ctx,
		`INSERT INTO organizations (name, escrow_wallet, created_at, updated_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		org.Name, org.EscrowWallet, org.CreatedAt, org.UpdatedAt).Scan(&org.ID)
	return mapError("organization_create", err)
}

func (r *organizationRepo) GetByID(ctx context.Context, id store.ID) (*store.Organization, error) {
	org, err := scanOrganization(r.e.QueryRowContext(ctx, selectOrganization+" WHERE id = $1", id))
	if err != nil {
		return nil, mapError("organization_get", err)
	}
	return org, nil
}

func (r *organizationRepo) GetByWallet(ctx context.Context, escrowWallet string) (*store.Organization, error) {
	org, err := scanOrganization(r.e.QueryRowContext(ctx, selectOrganization+" WHERE escrow_wallet = $1", escrowWallet))
	if err != nil {
		return nil, mapError("organization_get_by_wallet", err)
	}
	return org, nil
}

func (r *organizationRepo) List(ctx context.Context) ([]store.Organization, error) {
	rows, err := r.e.QueryContext(ctx, selectOrganization+" ORDER BY id")
	if err != nil {
		return nil, mapError("organization_list", err)
	}
	defer rows.Close()

	var orgs []store.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, mapError("organization_list", err)
		}
		orgs = append(orgs, *org)
	}
	return orgs, mapError("organization_list", rows.Err())
}
