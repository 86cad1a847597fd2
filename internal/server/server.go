// Package server exposes the payroll engine over HTTP. Authentication is an
// external concern; every handler decodes a JSON body, calls one engine
// operation and renders either its result or a typed error.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrpl-payroll/payrolld/internal/lifecycle"
	"github.com/xrpl-payroll/payrolld/internal/reconciler"
	"github.com/xrpl-payroll/payrolld/internal/resolver"
	"github.com/xrpl-payroll/payrolld/internal/store"
	"github.com/xrpl-payroll/payrolld/internal/tracker"
)

// Lifecycle is the channel state machine surface the server uses.
type Lifecycle interface {
	CreateChannel(ctx context.Context, p lifecycle.CreateParams) (*lifecycle.SignRequest, error)
	ConfirmCreate(ctx context.Context, channelID store.ID, txHash string) (*store.PaymentChannel, error)
	RequestClosure(ctx context.Context, channelID store.ID) (*store.Notification, error)
	Close(ctx context.Context, channelID store.ID, p lifecycle.CloseParams) (*lifecycle.SignRequest, error)
	ConfirmClose(ctx context.Context, channelID store.ID, txHash string, caller lifecycle.CallerKind) (*lifecycle.CloseOutcome, error)
	Fund(ctx context.Context, channelID store.ID, amount decimal.Decimal) (*lifecycle.SignRequest, error)
	ConfirmFund(ctx context.Context, channelID store.ID, txHash string) (*store.PaymentChannel, error)
}

// Tracker is the work-session surface the server uses.
type Tracker interface {
	ClockIn(ctx context.Context, employeeID, channelID store.ID) (*store.WorkSession, error)
	ClockOut(ctx context.Context, sessionID store.ID) (*tracker.ClockOutResult, error)
}

// Reconciler is the ledger-sync surface the server uses.
type Reconciler interface {
	SyncChannel(ctx context.Context, channelID store.ID) (*store.PaymentChannel, error)
	SyncOrganization(ctx context.Context, escrowWallet string) (*reconciler.SyncReport, error)
}

// Server routes HTTP requests to the engine.
type Server struct {
	mux        *http.ServeMux
	store      store.Store
	lifecycle  Lifecycle
	tracker    Tracker
	reconciler Reconciler
}

// New wires the routes.
func New(st store.Store, lc Lifecycle, trk Tracker, rec Reconciler) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		store:      st,
		lifecycle:  lc,
		tracker:    trk,
		reconciler: rec,
	}

	s.mux.HandleFunc("POST /channels", s.handleCreateChannel)
	s.mux.HandleFunc("GET /channels/{id}", s.handleGetChannel)
	s.mux.HandleFunc("POST /channels/{id}/confirm-create", s.handleConfirmCreate)
	s.mux.HandleFunc("POST /channels/{id}/close", s.handleClose)
	s.mux.HandleFunc("POST /channels/{id}/confirm-close", s.handleConfirmClose)
	s.mux.HandleFunc("POST /channels/{id}/fund", s.handleFund)
	s.mux.HandleFunc("POST /channels/{id}/confirm-fund", s.handleConfirmFund)
	s.mux.HandleFunc("POST /channels/{id}/closure-request", s.handleClosureRequest)
	s.mux.HandleFunc("POST /channels/{id}/sync", s.handleSyncChannel)
	s.mux.HandleFunc("POST /channels/{id}/sessions/clock-in", s.handleClockIn)
	s.mux.HandleFunc("POST /sessions/{id}/clock-out", s.handleClockOut)
	s.mux.HandleFunc("POST /organizations/{wallet}/sync-all", s.handleSyncAll)
	s.mux.HandleFunc("GET /organizations/{wallet}/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /organizations/{wallet}/notifications", s.handleListNotifications)
	s.mux.HandleFunc("POST /notifications/{id}/read", s.handleMarkNotificationRead)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func pathID(r *http.Request) (store.ID, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &lifecycle.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return store.ID(id), nil
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &lifecycle.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &lifecycle.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return d, nil
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizationWallet string `json:"organization_wallet"`
		WorkerWallet       string `json:"worker_wallet"`
		WorkerName         string `json:"worker_name"`
		JobName            string `json:"job_name"`
		HourlyRate         string `json:"hourly_rate"`
		EscrowAmount       string `json:"escrow_amount"`
		SettleDelay        uint32 `json:"settle_delay"`
		CancelAfter        uint32 `json:"cancel_after"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	rate, err := parseAmount("hourly_rate", body.HourlyRate)
	if err != nil {
		writeError(w, err)
		return
	}
	escrow, err := parseAmount("escrow_amount", body.EscrowAmount)
	if err != nil {
		writeError(w, err)
		return
	}

	req, err := s.lifecycle.CreateChannel(r.Context(), lifecycle.CreateParams{
		OrganizationWallet: body.OrganizationWallet,
		WorkerWallet:       body.WorkerWallet,
		WorkerName:         body.WorkerName,
		JobName:            body.JobName,
		HourlyRate:         rate,
		EscrowAmount:       escrow,
		SettleDelaySeconds: body.SettleDelay,
		CancelAfterSeconds: body.CancelAfter,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signRequestJSON(req))
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.store.Channels().GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelJSON(ch))
}

func (s *Server) handleConfirmCreate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		TxHash string `json:"tx_hash"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.TxHash == "" {
		writeError(w, &lifecycle.ValidationError{Field: "tx_hash", Reason: "required"})
		return
	}
	ch, err := s.lifecycle.ConfirmCreate(r.Context(), id, body.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelJSON(ch))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		CallerKind string `json:"caller_kind"`
		ForceClose bool   `json:"force_close"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := s.lifecycle.Close(r.Context(), id, lifecycle.CloseParams{
		CallerKind: lifecycle.CallerKind(body.CallerKind),
		ForceClose: body.ForceClose,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.PayloadRef == "" {
		// Already closing or closed; nothing new to sign.
		writeJSON(w, http.StatusOK, channelJSON(req.Channel))
		return
	}
	writeJSON(w, http.StatusOK, signRequestJSON(req))
}

func (s *Server) handleConfirmClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		TxHash     string `json:"tx_hash"`
		CallerKind string `json:"caller_kind"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.TxHash == "" {
		writeError(w, &lifecycle.ValidationError{Field: "tx_hash", Reason: "required"})
		return
	}
	out, err := s.lifecycle.ConfirmClose(r.Context(), id, body.TxHash, lifecycle.CallerKind(body.CallerKind))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{
		"channel":  channelJSON(out.Channel),
		"recorded": out.Recorded,
	}
	if out.Validation != nil {
		resp["closure_kind"] = out.Validation.Kind
		if out.Validation.ExpiresAt != nil {
			resp["expires_at"] = out.Validation.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.lifecycle.Fund(r.Context(), id, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signRequestJSON(req))
}

func (s *Server) handleConfirmFund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		TxHash string `json:"tx_hash"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.lifecycle.ConfirmFund(r.Context(), id, body.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelJSON(ch))
}

func (s *Server) handleClosureRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	note, err := s.lifecycle.RequestClosure(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, notificationJSON(note))
}

func (s *Server) handleSyncChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.reconciler.SyncChannel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelJSON(ch))
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.SyncOrganization(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	synced, imported, skipped, failed := report.Counts()
	outcomes := make([]map[string]any, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		entry := map[string]any{"channel_id": o.ChannelID}
		switch {
		case o.Err != nil:
			entry["error"] = o.Err.Error()
		case o.Imported:
			entry["imported"] = true
		case o.Skipped:
			entry["recently_synced"] = true
		}
		outcomes = append(outcomes, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced":   synced,
		"imported": imported,
		"skipped":  skipped,
		"failed":   failed,
		"outcomes": outcomes,
	})
}

func (s *Server) handleClockIn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		EmployeeID int64 `json:"employee_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.EmployeeID <= 0 {
		writeError(w, &lifecycle.ValidationError{Field: "employee_id", Reason: "required"})
		return
	}
	session, err := s.tracker.ClockIn(r.Context(), store.ID(body.EmployeeID), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *Server) handleClockOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.tracker.ClockOut(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":           sessionJSON(result.Session),
		"earned":            result.Earned.String(),
		"cap_reached":       result.CapReached,
		"already_completed": result.AlreadyCompleted,
	})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	org, err := s.store.Organizations().GetByWallet(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	channels, err := s.store.Channels().ListByOrganization(r.Context(), org.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(channels))
	for i := range channels {
		out = append(out, channelJSON(&channels[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	org, err := s.store.Organizations().GetByWallet(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	recipient := store.RecipientParty(r.URL.Query().Get("recipient"))
	if recipient == "" {
		recipient = store.RecipientOrganization
	}
	notes, err := s.store.Notifications().ListUnread(r.Context(), recipient, org.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(notes))
	for i := range notes {
		out = append(out, notificationJSON(&notes[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Notifications().MarkRead(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func signRequestJSON(req *lifecycle.SignRequest) map[string]any {
	return map[string]any{
		"channel":     channelJSON(req.Channel),
		"unsigned_tx": req.UnsignedTx,
		"payload_ref": req.PayloadRef,
		"provider":    req.Provider,
	}
}

func channelJSON(ch *store.PaymentChannel) map[string]any {
	out := map[string]any{
		"id":                ch.ID,
		"organization_id":   ch.OrganizationID,
		"employee_id":       ch.EmployeeID,
		"channel_id":        ch.ChannelID,
		"job_name":          ch.JobName,
		"hourly_rate":       ch.HourlyRate.String(),
		"escrow_funded":     ch.EscrowFunded.String(),
		"off_chain_balance": ch.OffChainBalance.String(),
		"on_chain_balance":  ch.OnChainBalance.String(),
		"settle_delay":      ch.SettleDelaySeconds,
		"status":            ch.Status,
		"imported":          ch.Imported,
	}
	if ch.PublicKey != "" {
		out["public_key"] = ch.PublicKey
	}
	if ch.ClosureTxHash != "" {
		out["closure_tx_hash"] = ch.ClosureTxHash
	}
	if ch.CloseReason != "" {
		out["close_reason"] = ch.CloseReason
	}
	if ch.ExpirationRipple != nil {
		out["expiration"] = *ch.ExpirationRipple
	}
	if ch.LastLedgerSync != nil {
		out["last_ledger_sync"] = ch.LastLedgerSync.UTC().Format(time.RFC3339)
	}
	if ch.ClosedAt != nil {
		out["closed_at"] = ch.ClosedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func sessionJSON(s *store.WorkSession) map[string]any {
	out := map[string]any{
		"id":          s.ID,
		"employee_id": s.EmployeeID,
		"channel_id":  s.ChannelID,
		"clock_in":    s.ClockIn.UTC().Format(time.RFC3339),
		"hours":       s.Hours.String(),
		"status":      s.Status,
	}
	if s.ClockOut != nil {
		out["clock_out"] = s.ClockOut.UTC().Format(time.RFC3339)
	}
	if s.CloseReason != "" {
		out["close_reason"] = s.CloseReason
	}
	return out
}

func notificationJSON(n *store.Notification) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"recipient": n.Recipient,
		"kind":      n.Kind,
		"payload":   n.Payload,
		"read":      n.Read,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

// writeError renders a typed engine error as a stable machine-readable kind
// plus human text.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	writeJSON(w, status, body)
}

func errorBody(err error) (int, map[string]any) {
	var (
		validation *lifecycle.ValidationError
		unclaimed  *lifecycle.UnclaimedBalanceError
		txFailed   *lifecycle.TransactionFailedError
		state      *lifecycle.ChannelStateError
		recently   *reconciler.RecentlySyncedError
		dailyCap   *tracker.DailyCapError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errJSON("InvalidParameters", err)
	case errors.As(err, &unclaimed):
		return http.StatusConflict, map[string]any{
			"error":          "UnclaimedBalance",
			"message":        err.Error(),
			"unpaid_balance": unclaimed.Amount.String(),
			"caller_kind":    unclaimed.CallerKind,
		}
	case errors.Is(err, lifecycle.ErrDestinationInactive):
		return http.StatusUnprocessableEntity, errJSON("DestinationInactive", err)
	case errors.Is(err, lifecycle.ErrTransactionNotFinal):
		return http.StatusConflict, errJSON("TransactionNotFinal", err)
	case errors.As(err, &txFailed):
		body := errJSON("TransactionFailed", err)
		body["engine_result"] = txFailed.Code
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &state):
		return http.StatusConflict, errJSON("ChannelStateUnexpected", err)
	case resolver.IsUnresolved(err):
		return http.StatusBadGateway, errJSON("ChannelIdUnresolved", err)
	case errors.As(err, &recently):
		body := errJSON("RecentlySynced", err)
		body["seconds_since"] = int(recently.Since.Seconds())
		return http.StatusTooManyRequests, body
	case errors.Is(err, reconciler.ErrUnresolvedChannel):
		return http.StatusConflict, errJSON("ChannelStateUnexpected", err)
	case errors.As(err, &dailyCap):
		body := errJSON("DailyCapReached", err)
		body["worked_hours"] = dailyCap.Worked.String()
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, tracker.ErrAlreadyClockedIn),
		errors.Is(err, tracker.ErrChannelNotActive):
		return http.StatusConflict, errJSON("SessionStateUnexpected", err)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, errJSON("NotFound", err)
	case errors.Is(err, store.ErrRowLocked):
		return http.StatusConflict, errJSON("RowLocked", err)
	case store.IsInvariantViolation(err):
		log.Printf("server: invariant violation: %v", err)
		return http.StatusInternalServerError, errJSON("InvariantViolation", err)
	default:
		log.Printf("server: internal error: %v", err)
		return http.StatusInternalServerError, errJSON("Internal", err)
	}
}

func errJSON(kind string, err error) map[string]any {
	return map[string]any{"error": kind, "message": err.Error()}
}
