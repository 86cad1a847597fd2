package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repositories groups the per-entity repositories. Store and Tx both expose
// it; within a Tx every repository runs on the transaction's connection.
type Repositories interface {
	Organizations() OrganizationRepository
	Employees() EmployeeRepository
	Channels() ChannelRepository
	Sessions() SessionRepository
	Payments() PaymentRepository
	Notifications() NotificationRepository
}

// Store is the engine's persistence boundary. All state-changing operations
// run inside WithTx; reads outside a transaction may observe pre-transition
// state.
type Store interface {
	Repositories
	// WithTx runs fn inside a database transaction, committing on nil and
	// rolling back on error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// Close releases the underlying connections.
	Close() error
}

// Tx is the transactional view of the store.
type Tx interface {
	Repositories
	// ChannelForUpdate reads the channel row under a row lock held for the
	// remainder of the transaction, serializing transitions on the channel.
	ChannelForUpdate(ctx context.Context, id ID) (*PaymentChannel, error)
}

// OrganizationRepository persists organizations.
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id ID) (*Organization, error)
	GetByWallet(ctx context.Context, escrowWallet string) (*Organization, error)
	List(ctx context.Context) ([]Organization, error)
}

// EmployeeRepository persists employees.
type EmployeeRepository interface {
	Create(ctx context.Context, emp *Employee) error
	GetByID(ctx context.Context, id ID) (*Employee, error)
	GetByWallet(ctx context.Context, orgID ID, wallet string) (*Employee, error)
	ListByOrganization(ctx context.Context, orgID ID) ([]Employee, error)
}

// ChannelRepository persists payment channels. Create and Update run the
// entity's Validate before touching the database.
type ChannelRepository interface {
	Create(ctx context.Context, ch *PaymentChannel) error
	GetByID(ctx context.Context, id ID) (*PaymentChannel, error)
	GetByChannelID(ctx context.Context, channelID string) (*PaymentChannel, error)
	ListByOrganization(ctx context.Context, orgID ID) ([]PaymentChannel, error)
	// Update writes the full row. Changing an already-assigned ChannelID
	// fails with ErrImmutableChannelID.
	Update(ctx context.Context, ch *PaymentChannel) error
}

// SessionRepository persists work sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *WorkSession) error
	GetByID(ctx context.Context, id ID) (*WorkSession, error)
	// Active returns the single active session for (employee, channel), or
	// ErrNotFound.
	Active(ctx context.Context, employeeID, channelID ID) (*WorkSession, error)
	// ActiveByChannel returns every active session on a channel.
	ActiveByChannel(ctx context.Context, channelID ID) ([]WorkSession, error)
	// HoursBetween sums completed-session hours on a channel whose clock-in
	// falls in [from, to).
	HoursBetween(ctx context.Context, channelID ID, from, to time.Time) (decimal.Decimal, error)
	Update(ctx context.Context, s *WorkSession) error
}

// PaymentRepository is the append-only audit log.
type PaymentRepository interface {
	Append(ctx context.Context, ev *PaymentEvent) error
	ListByChannel(ctx context.Context, channelID ID) ([]PaymentEvent, error)
}

// NotificationRepository persists notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListUnread(ctx context.Context, recipient RecipientParty, orgID ID) ([]Notification, error)
	MarkRead(ctx context.Context, id ID) error
}
