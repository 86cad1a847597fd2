package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-payroll/payrolld/internal/lifecycle"
	"github.com/xrpl-payroll/payrolld/internal/reconciler"
	"github.com/xrpl-payroll/payrolld/internal/resolver"
	"github.com/xrpl-payroll/payrolld/internal/store"
	"github.com/xrpl-payroll/payrolld/internal/store/storetest"
	"github.com/xrpl-payroll/payrolld/internal/tracker"
)

type fakeLifecycle struct {
	createFn       func(lifecycle.CreateParams) (*lifecycle.SignRequest, error)
	confirmCreate  func(store.ID, string) (*store.PaymentChannel, error)
	closeFn        func(store.ID, lifecycle.CloseParams) (*lifecycle.SignRequest, error)
	confirmCloseFn func(store.ID, string, lifecycle.CallerKind) (*lifecycle.CloseOutcome, error)
}

func (f *fakeLifecycle) CreateChannel(_ context.Context, p lifecycle.CreateParams) (*lifecycle.SignRequest, error) {
	return f.createFn(p)
}

func (f *fakeLifecycle) ConfirmCreate(_ context.Context, id store.ID, hash string) (*store.PaymentChannel, error) {
	return f.confirmCreate(id, hash)
}

func (f *fakeLifecycle) RequestClosure(context.Context, store.ID) (*store.Notification, error) {
	return &store.Notification{Kind: store.NotifyClosureRequest, Recipient: store.RecipientWorker}, nil
}

func (f *fakeLifecycle) Close(_ context.Context, id store.ID, p lifecycle.CloseParams) (*lifecycle.SignRequest, error) {
	return f.closeFn(id, p)
}

func (f *fakeLifecycle) ConfirmClose(_ context.Context, id store.ID, hash string, caller lifecycle.CallerKind) (*lifecycle.CloseOutcome, error) {
	return f.confirmCloseFn(id, hash, caller)
}

func (f *fakeLifecycle) Fund(context.Context, store.ID, decimal.Decimal) (*lifecycle.SignRequest, error) {
	panic("not used")
}

func (f *fakeLifecycle) ConfirmFund(context.Context, store.ID, string) (*store.PaymentChannel, error) {
	panic("not used")
}

type fakeTracker struct {
	clockIn  func(employeeID, channelID store.ID) (*store.WorkSession, error)
	clockOut func(sessionID store.ID) (*tracker.ClockOutResult, error)
}

func (f *fakeTracker) ClockIn(_ context.Context, employeeID, channelID store.ID) (*store.WorkSession, error) {
	return f.clockIn(employeeID, channelID)
}

func (f *fakeTracker) ClockOut(_ context.Context, sessionID store.ID) (*tracker.ClockOutResult, error) {
	return f.clockOut(sessionID)
}

type fakeReconciler struct {
	syncChannel func(store.ID) (*store.PaymentChannel, error)
	syncAll     func(string) (*reconciler.SyncReport, error)
}

func (f *fakeReconciler) SyncChannel(_ context.Context, id store.ID) (*store.PaymentChannel, error) {
	return f.syncChannel(id)
}

func (f *fakeReconciler) SyncOrganization(_ context.Context, wallet string) (*reconciler.SyncReport, error) {
	return f.syncAll(wallet)
}

func sampleChannel() *store.PaymentChannel {
	return &store.PaymentChannel{
		ID:                 7,
		OrganizationID:     1,
		EmployeeID:         2,
		ChannelID:          strings.Repeat("AB", 32),
		JobName:            "water distribution",
		HourlyRate:         decimal.RequireFromString("15"),
		EscrowFunded:       decimal.RequireFromString("240"),
		OffChainBalance:    decimal.RequireFromString("3"),
		OnChainBalance:     decimal.Zero,
		SettleDelaySeconds: 3600,
		Status:             store.ChannelActive,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestCreateChannelEndpoint(t *testing.T) {
	lc := &fakeLifecycle{
		createFn: func(p lifecycle.CreateParams) (*lifecycle.SignRequest, error) {
			assert.Equal(t, "rOrg", p.OrganizationWallet)
			assert.True(t, p.EscrowAmount.Equal(decimal.RequireFromString("240")))
			return &lifecycle.SignRequest{
				Channel:    sampleChannel(),
				UnsignedTx: map[string]any{"TransactionType": "PaymentChannelCreate"},
				PayloadRef: "payload-1",
			}, nil
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels",
		`{"organization_wallet":"rOrg","worker_wallet":"rWorker","hourly_rate":"15","escrow_amount":"240","settle_delay":3600}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "payload-1", body["payload_ref"])
	assert.NotNil(t, body["unsigned_tx"])
}

func TestCreateChannelDestinationInactive(t *testing.T) {
	lc := &fakeLifecycle{
		createFn: func(lifecycle.CreateParams) (*lifecycle.SignRequest, error) {
			return nil, lifecycle.ErrDestinationInactive
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels",
		`{"organization_wallet":"rOrg","worker_wallet":"rGhost","hourly_rate":"15","escrow_amount":"240"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DestinationInactive", body["error"])
}

func TestCreateChannelBadAmount(t *testing.T) {
	s := New(storetest.New(), &fakeLifecycle{}, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels",
		`{"organization_wallet":"rOrg","worker_wallet":"rWorker","hourly_rate":"fifteen","escrow_amount":"240"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidParameters", body["error"])
}

func TestConfirmCreateUnresolved(t *testing.T) {
	lc := &fakeLifecycle{
		confirmCreate: func(store.ID, string) (*store.PaymentChannel, error) {
			return nil, &resolver.UnresolvedError{TxHash: "CREATE123"}
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels/7/confirm-create", `{"tx_hash":"CREATE123"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "ChannelIdUnresolved", body["error"])
	assert.Equal(t, "ChannelIdUnresolved(CREATE123)", body["message"])
}

func TestCloseUnclaimedBalance(t *testing.T) {
	lc := &fakeLifecycle{
		closeFn: func(_ store.ID, p lifecycle.CloseParams) (*lifecycle.SignRequest, error) {
			require.False(t, p.ForceClose)
			return nil, &lifecycle.UnclaimedBalanceError{
				Amount:     decimal.RequireFromString("1.5"),
				CallerKind: lifecycle.CallerSource,
			}
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels/7/close", `{"caller_kind":"source"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UnclaimedBalance", body["error"])
	assert.Equal(t, "1.5", body["unpaid_balance"])
	assert.Equal(t, "source", body["caller_kind"])
}

func TestConfirmCloseTransactionFailed(t *testing.T) {
	lc := &fakeLifecycle{
		confirmCloseFn: func(store.ID, string, lifecycle.CallerKind) (*lifecycle.CloseOutcome, error) {
			return nil, &lifecycle.TransactionFailedError{Code: "tecNO_PERMISSION"}
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels/7/confirm-close",
		`{"tx_hash":"CLOSE123","caller_kind":"destination"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "TransactionFailed", body["error"])
	assert.Equal(t, "tecNO_PERMISSION", body["engine_result"])
}

func TestConfirmCloseScheduled(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lc := &fakeLifecycle{
		confirmCloseFn: func(store.ID, string, lifecycle.CallerKind) (*lifecycle.CloseOutcome, error) {
			ch := sampleChannel()
			ch.Status = store.ChannelClosing
			return &lifecycle.CloseOutcome{
				Channel: ch,
				Validation: &lifecycle.Validation{
					Kind:      lifecycle.ClosureSourceScheduled,
					ExpiresAt: &expires,
				},
			}, nil
		},
	}
	s := New(storetest.New(), lc, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels/7/confirm-close",
		`{"tx_hash":"CLOSE456","caller_kind":"source"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "source_scheduled", body["closure_kind"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["expires_at"])
}

func TestSyncRecentlySynced(t *testing.T) {
	rec := &fakeReconciler{
		syncChannel: func(store.ID) (*store.PaymentChannel, error) {
			return nil, &reconciler.RecentlySyncedError{Since: 42 * time.Second}
		},
	}
	s := New(storetest.New(), &fakeLifecycle{}, &fakeTracker{}, rec)

	w, body := doJSON(t, s, http.MethodPost, "/channels/7/sync", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RecentlySynced", body["error"])
	assert.EqualValues(t, 42, body["seconds_since"])
}

func TestSyncAllReport(t *testing.T) {
	rec := &fakeReconciler{
		syncAll: func(wallet string) (*reconciler.SyncReport, error) {
			require.Equal(t, "rOrg", wallet)
			report := &reconciler.SyncReport{}
			report.Outcomes = []reconciler.ChannelOutcome{
				{ChannelID: strings.Repeat("AB", 32)},
				{ChannelID: strings.Repeat("CD", 32), Imported: true},
			}
			return report, nil
		},
	}
	s := New(storetest.New(), &fakeLifecycle{}, &fakeTracker{}, rec)

	w, body := doJSON(t, s, http.MethodPost, "/organizations/rOrg/sync-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["synced"])
	assert.EqualValues(t, 1, body["imported"])
}

func TestClockInValidation(t *testing.T) {
	trk := &fakeTracker{
		clockIn: func(employeeID, channelID store.ID) (*store.WorkSession, error) {
			return &store.WorkSession{ID: 11, EmployeeID: employeeID, ChannelID: channelID, Status: store.SessionActive}, nil
		},
	}
	s := New(storetest.New(), &fakeLifecycle{}, trk, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/channels/7/sessions/clock-in", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidParameters", body["error"])

	rec, body = doJSON(t, s, http.MethodPost, "/channels/7/sessions/clock-in", `{"employee_id":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 11, body["id"])
	assert.Equal(t, "active", body["status"])
}

func TestClockOutDailyCapRendered(t *testing.T) {
	trk := &fakeTracker{
		clockOut: func(store.ID) (*tracker.ClockOutResult, error) {
			return nil, &tracker.DailyCapError{
				Worked: decimal.NewFromInt(8),
				Cap:    decimal.NewFromInt(8),
			}
		},
	}
	s := New(storetest.New(), &fakeLifecycle{}, trk, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodPost, "/sessions/11/clock-out", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "DailyCapReached", body["error"])
	assert.Equal(t, "8", body["worked_hours"])
}

func TestGetChannelNotFound(t *testing.T) {
	s := New(storetest.New(), &fakeLifecycle{}, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodGet, "/channels/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", body["error"])
}

func TestNotificationsListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	org := &store.Organization{Name: "Relief Works", EscrowWallet: "rOrg"}
	require.NoError(t, mem.Organizations().Create(ctx, org))
	note := &store.Notification{
		Recipient:      store.RecipientOrganization,
		OrganizationID: org.ID,
		Kind:           store.NotifyOrphanImported,
		Payload:        map[string]any{"channel_id": strings.Repeat("CD", 32)},
	}
	require.NoError(t, mem.Notifications().Create(ctx, note))

	s := New(mem, &fakeLifecycle{}, &fakeTracker{}, &fakeReconciler{})

	rec, body := doJSON(t, s, http.MethodGet, "/organizations/rOrg/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	notes := body["notifications"].([]any)
	require.Len(t, notes, 1)
	assert.Equal(t, "orphan_imported", notes[0].(map[string]any)["kind"])

	rec, _ = doJSON(t, s, http.MethodPost, "/notifications/"+strconv.FormatInt(int64(note.ID), 10)+"/read", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = doJSON(t, s, http.MethodGet, "/organizations/rOrg/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["notifications"].([]any))
}
