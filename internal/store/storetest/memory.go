// Package storetest provides an in-memory store.Store used by unit tests of
// the tracker, lifecycle controller, and reconciler. Transactions are
// snapshot-based: an error restores the pre-transaction state.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

// Mem is an in-memory store.Store.
type Mem struct {
	mu            sync.Mutex
	nextID        store.ID
	orgs          map[store.ID]*store.Organization
	employees     map[store.ID]*store.Employee
	channels      map[store.ID]*store.PaymentChannel
	sessions      map[store.ID]*store.WorkSession
	payments      []store.PaymentEvent
	notifications []store.Notification
}

// New creates an empty in-memory store.
func New() *Mem {
	return &Mem{
		orgs:      make(map[store.ID]*store.Organization),
		employees: make(map[store.ID]*store.Employee),
		channels:  make(map[store.ID]*store.PaymentChannel),
		sessions:  make(map[store.ID]*store.WorkSession),
	}
}

func (m *Mem) id() store.ID {
	m.nextID++
	return m.nextID
}

type snapshot struct {
	orgs          map[store.ID]*store.Organization
	employees     map[store.ID]*store.Employee
	channels      map[store.ID]*store.PaymentChannel
	sessions      map[store.ID]*store.WorkSession
	payments      []store.PaymentEvent
	notifications []store.Notification
	nextID        store.ID
}

func (m *Mem) snapshot() snapshot {
	s := snapshot{
		orgs:          make(map[store.ID]*store.Organization, len(m.orgs)),
		employees:     make(map[store.ID]*store.Employee, len(m.employees)),
		channels:      make(map[store.ID]*store.PaymentChannel, len(m.channels)),
		sessions:      make(map[store.ID]*store.WorkSession, len(m.sessions)),
		payments:      append([]store.PaymentEvent(nil), m.payments...),
		notifications: append([]store.Notification(nil), m.notifications...),
		nextID:        m.nextID,
	}
	for id, v := range m.orgs {
		cp := *v
		s.orgs[id] = &cp
	}
	for id, v := range m.employees {
		cp := *v
		s.employees[id] = &cp
	}
	for id, v := range m.channels {
		s.channels[id] = cloneChannel(v)
	}
	for id, v := range m.sessions {
		s.sessions[id] = cloneSession(v)
	}
	return s
}

func (m *Mem) restore(s snapshot) {
	m.orgs = s.orgs
	m.employees = s.employees
	m.channels = s.channels
	m.sessions = s.sessions
	m.payments = s.payments
	m.notifications = s.notifications
	m.nextID = s.nextID
}

// WithTx runs fn under the store lock, restoring the snapshot on error.
func (m *Mem) WithTx(_ context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Close is a no-op.
func (m *Mem) Close() error { return nil }

func (m *Mem) Organizations() store.OrganizationRepository { return &orgRepo{m, false} }
func (m *Mem) Employees() store.EmployeeRepository         { return &employeeRepo{m, false} }
func (m *Mem) Channels() store.ChannelRepository           { return &channelRepo{m, false} }
func (m *Mem) Sessions() store.SessionRepository           { return &sessionRepo{m, false} }
func (m *Mem) Payments() store.PaymentRepository           { return &paymentRepo{m, false} }
func (m *Mem) Notifications() store.NotificationRepository { return &notificationRepo{m, false} }

type memTx struct {
	m *Mem
}

func (t *memTx) Organizations() store.OrganizationRepository { return &orgRepo{t.m, true} }
func (t *memTx) Employees() store.EmployeeRepository         { return &employeeRepo{t.m, true} }
func (t *memTx) Channels() store.ChannelRepository           { return &channelRepo{t.m, true} }
func (t *memTx) Sessions() store.SessionRepository           { return &sessionRepo{t.m, true} }
func (t *memTx) Payments() store.PaymentRepository           { return &paymentRepo{t.m, true} }
func (t *memTx) Notifications() store.NotificationRepository { return &notificationRepo{t.m, true} }

func (t *memTx) ChannelForUpdate(_ context.Context, id store.ID) (*store.PaymentChannel, error) {
	ch, ok := t.m.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneChannel(ch), nil
}

func cloneChannel(c *store.PaymentChannel) *store.PaymentChannel {
	cp := *c
	if c.CancelAfterRipple != nil {
		v := *c.CancelAfterRipple
		cp.CancelAfterRipple = &v
	}
	if c.ExpirationRipple != nil {
		v := *c.ExpirationRipple
		cp.ExpirationRipple = &v
	}
	if c.LastLedgerSync != nil {
		v := *c.LastLedgerSync
		cp.LastLedgerSync = &v
	}
	if c.ClosedAt != nil {
		v := *c.ClosedAt
		cp.ClosedAt = &v
	}
	return &cp
}

func cloneSession(s *store.WorkSession) *store.WorkSession {
	cp := *s
	if s.ClockOut != nil {
		v := *s.ClockOut
		cp.ClockOut = &v
	}
	return &cp
}

// lock acquires the store mutex unless the caller is already inside WithTx.
func (m *Mem) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

type orgRepo struct {
	m    *Mem
	inTx bool
}

func (r *orgRepo) Create(_ context.Context, org *store.Organization) error {
	defer r.m.lock(r.inTx)()
	for _, existing := range r.m.orgs {
		if existing.EscrowWallet == org.EscrowWallet {
			return store.ErrDuplicate
		}
	}
	org.ID = r.m.id()
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	cp := *org
	r.m.orgs[org.ID] = &cp
	return nil
}

func (r *orgRepo) GetByID(_ context.Context, id store.ID) (*store.Organization, error) {
	defer r.m.lock(r.inTx)()
	org, ok := r.m.orgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (r *orgRepo) GetByWallet(_ context.Context, wallet string) (*store.Organization, error) {
	defer r.m.lock(r.inTx)()
	for _, org := range r.m.orgs {
		if org.EscrowWallet == wallet {
			cp := *org
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *orgRepo) List(_ context.Context) ([]store.Organization, error) {
	defer r.m.lock(r.inTx)()
	var out []store.Organization
	for _, org := range r.m.orgs {
		out = append(out, *org)
	}
	return out, nil
}

type employeeRepo struct {
	m    *Mem
	inTx bool
}

func (r *employeeRepo) Create(_ context.Context, emp *store.Employee) error {
	defer r.m.lock(r.inTx)()
	for _, existing := range r.m.employees {
		if existing.OrganizationID == emp.OrganizationID && existing.Wallet == emp.Wallet {
			return store.ErrDuplicate
		}
	}
	if emp.Status == "" {
		emp.Status = store.EmploymentActive
	}
	emp.ID = r.m.id()
	cp := *emp
	r.m.employees[emp.ID] = &cp
	return nil
}

func (r *employeeRepo) GetByID(_ context.Context, id store.ID) (*store.Employee, error) {
	defer r.m.lock(r.inTx)()
	emp, ok := r.m.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *emp
	return &cp, nil
}

func (r *employeeRepo) GetByWallet(_ context.Context, orgID store.ID, wallet string) (*store.Employee, error) {
	defer r.m.lock(r.inTx)()
	for _, emp := range r.m.employees {
		if emp.OrganizationID == orgID && emp.Wallet == wallet {
			cp := *emp
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *employeeRepo) ListByOrganization(_ context.Context, orgID store.ID) ([]store.Employee, error) {
	defer r.m.lock(r.inTx)()
	var out []store.Employee
	for _, emp := range r.m.employees {
		if emp.OrganizationID == orgID {
			out = append(out, *emp)
		}
	}
	return out, nil
}

type channelRepo struct {
	m    *Mem
	inTx bool
}

func (r *channelRepo) Create(_ context.Context, ch *store.PaymentChannel) error {
	defer r.m.lock(r.inTx)()
	if err := ch.Validate(); err != nil {
		return err
	}
	if ch.ChannelID != "" {
		for _, existing := range r.m.channels {
			if existing.ChannelID == ch.ChannelID {
				return store.ErrDuplicate
			}
		}
	}
	ch.ID = r.m.id()
	now := time.Now().UTC()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	r.m.channels[ch.ID] = cloneChannel(ch)
	return nil
}

func (r *channelRepo) GetByID(_ context.Context, id store.ID) (*store.PaymentChannel, error) {
	defer r.m.lock(r.inTx)()
	ch, ok := r.m.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneChannel(ch), nil
}

func (r *channelRepo) GetByChannelID(_ context.Context, channelID string) (*store.PaymentChannel, error) {
	defer r.m.lock(r.inTx)()
	for _, ch := range r.m.channels {
		if ch.ChannelID == channelID {
			return cloneChannel(ch), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *channelRepo) ListByOrganization(_ context.Context, orgID store.ID) ([]store.PaymentChannel, error) {
	defer r.m.lock(r.inTx)()
	var out []store.PaymentChannel
	for _, ch := range r.m.channels {
		if ch.OrganizationID == orgID {
			out = append(out, *cloneChannel(ch))
		}
	}
	return out, nil
}

func (r *channelRepo) Update(_ context.Context, ch *store.PaymentChannel) error {
	defer r.m.lock(r.inTx)()
	if err := ch.Validate(); err != nil {
		return err
	}
	existing, ok := r.m.channels[ch.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.ChannelID != "" && existing.ChannelID != ch.ChannelID {
		return store.ErrImmutableChannelID
	}
	ch.UpdatedAt = time.Now().UTC()
	r.m.channels[ch.ID] = cloneChannel(ch)
	return nil
}

type sessionRepo struct {
	m    *Mem
	inTx bool
}

func (r *sessionRepo) Create(_ context.Context, s *store.WorkSession) error {
	defer r.m.lock(r.inTx)()
	if s.Status == store.SessionActive {
		for _, existing := range r.m.sessions {
			if existing.EmployeeID == s.EmployeeID && existing.ChannelID == s.ChannelID &&
				existing.Status == store.SessionActive {
				return store.ErrDuplicate
			}
		}
	}
	s.ID = r.m.id()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	r.m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *sessionRepo) GetByID(_ context.Context, id store.ID) (*store.WorkSession, error) {
	defer r.m.lock(r.inTx)()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *sessionRepo) Active(_ context.Context, employeeID, channelID store.ID) (*store.WorkSession, error) {
	defer r.m.lock(r.inTx)()
	for _, s := range r.m.sessions {
		if s.EmployeeID == employeeID && s.ChannelID == channelID && s.Status == store.SessionActive {
			return cloneSession(s), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *sessionRepo) ActiveByChannel(_ context.Context, channelID store.ID) ([]store.WorkSession, error) {
	defer r.m.lock(r.inTx)()
	var out []store.WorkSession
	for _, s := range r.m.sessions {
		if s.ChannelID == channelID && s.Status == store.SessionActive {
			out = append(out, *cloneSession(s))
		}
	}
	return out, nil
}

func (r *sessionRepo) HoursBetween(_ context.Context, channelID store.ID, from, to time.Time) (decimal.Decimal, error) {
	defer r.m.lock(r.inTx)()
	sum := decimal.Zero
	for _, s := range r.m.sessions {
		if s.ChannelID == channelID && s.Status == store.SessionCompleted &&
			!s.ClockIn.Before(from) && s.ClockIn.Before(to) {
			sum = sum.Add(s.Hours)
		}
	}
	return sum, nil
}

func (r *sessionRepo) Update(_ context.Context, s *store.WorkSession) error {
	defer r.m.lock(r.inTx)()
	if _, ok := r.m.sessions[s.ID]; !ok {
		return store.ErrNotFound
	}
	r.m.sessions[s.ID] = cloneSession(s)
	return nil
}

type paymentRepo struct {
	m    *Mem
	inTx bool
}

func (r *paymentRepo) Append(_ context.Context, ev *store.PaymentEvent) error {
	defer r.m.lock(r.inTx)()
	ev.ID = r.m.id()
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}
	r.m.payments = append(r.m.payments, *ev)
	return nil
}

func (r *paymentRepo) ListByChannel(_ context.Context, channelID store.ID) ([]store.PaymentEvent, error) {
	defer r.m.lock(r.inTx)()
	var out []store.PaymentEvent
	for _, ev := range r.m.payments {
		if ev.ChannelID == channelID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type notificationRepo struct {
	m    *Mem
	inTx bool
}

func (r *notificationRepo) Create(_ context.Context, n *store.Notification) error {
	defer r.m.lock(r.inTx)()
	n.ID = r.m.id()
	n.CreatedAt = time.Now().UTC()
	r.m.notifications = append(r.m.notifications, *n)
	return nil
}

func (r *notificationRepo) ListUnread(_ context.Context, recipient store.RecipientParty, orgID store.ID) ([]store.Notification, error) {
	defer r.m.lock(r.inTx)()
	var out []store.Notification
	for _, n := range r.m.notifications {
		if n.Recipient == recipient && n.OrganizationID == orgID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *notificationRepo) MarkRead(_ context.Context, id store.ID) error {
	defer r.m.lock(r.inTx)()
	for i := range r.m.notifications {
		if r.m.notifications[i].ID == id {
			r.m.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

// Notifications returns all notifications of a kind, for test assertions.
func (m *Mem) NotificationsOfKind(kind store.NotificationKind) []store.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Notification
	for _, n := range m.notifications {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

var _ store.Store = (*Mem)(nil)
