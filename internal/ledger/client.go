// Package ledger implements a JSON-over-WebSocket client for an XRPL/Xahau
// node. A single connection is shared by all callers: one writer at a time,
// one reader goroutine demultiplexing responses by request id.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	submitMaxAttempts = 3
	submitBackoffBase = 500 * time.Millisecond
	dialTimeout       = 10 * time.Second
)

// WSClient is the websocket implementation of Client.
type WSClient struct {
	url         string
	callTimeout time.Duration

	writeMu sync.Mutex // serializes writes and (re)dials
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan *rpcResponse
	nextID    uint64

	closeOnce sync.Once
	closed    chan struct{}
}

type rpcResponse struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Result       json.RawMessage `json:"result"`
	ErrorCode    string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// Dial connects to the node at url. callTimeout bounds each individual
// request; zero means 10 seconds.
func Dial(url string, callTimeout time.Duration) (*WSClient, error) {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	c := &WSClient{
		url:         url,
		callTimeout: callTimeout,
		pending:     make(map[uint64]chan *rpcResponse),
		closed:      make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials the node and starts a reader for the new connection.
// Callers must hold writeMu or be the constructor.
func (c *WSClient) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return newError(KindUnreachable, "dial", "", "cannot reach ledger node", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// readLoop dispatches responses to waiting callers until the connection
// breaks, then fails every pending request so callers can retry.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.failPending()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("ledger: discarding unparseable frame: %v", err)
			continue
		}
		if resp.Type != "" && resp.Type != "response" {
			// Subscription stream noise; this client never subscribes.
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *WSClient) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// call performs one request/response exchange. A dropped connection is
// redialed once before the request is written.
func (c *WSClient) call(ctx context.Context, command string, params map[string]any, out any) error {
	select {
	case <-c.closed:
		return newError(KindUnreachable, command, "", "client is closed", nil)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := map[string]any{"id": id, "command": command}
	for k, v := range params {
		req[k] = v
	}

	c.writeMu.Lock()
	if c.conn == nil {
		if err := c.connect(); err != nil {
			c.writeMu.Unlock()
			c.drop(id)
			return err
		}
	}
	err := c.conn.WriteJSON(req)
	if err != nil {
		// One reconnect attempt per call; the retry policy above this
		// layer decides whether to try again.
		c.conn.Close()
		c.conn = nil
		if rerr := c.connect(); rerr == nil {
			err = c.conn.WriteJSON(req)
		}
	}
	c.writeMu.Unlock()
	if err != nil {
		c.drop(id)
		return newError(KindUnreachable, command, "", "write failed", err)
	}

	select {
	case <-ctx.Done():
		c.drop(id)
		return newError(KindUnreachable, command, "", "request timed out", ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return newError(KindUnreachable, command, "", "connection lost", nil)
		}
		if resp.Status != "success" {
			kind := classifyNodeError(resp.ErrorCode)
			return newError(kind, command, resp.ErrorCode, resp.ErrorMessage, nil)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return newError(KindUnknown, command, "", "cannot decode result", err)
			}
		}
		return nil
	}
}

func (c *WSClient) drop(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Submit sends a signed transaction blob. Transient connectivity failures
// are retried up to three times with exponential backoff.
func (c *WSClient) Submit(ctx context.Context, txBlob string) (*SubmitResult, error) {
	var lastErr error
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := submitBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, newError(KindUnreachable, "submit", "", "cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}
		var raw struct {
			EngineResult string `json:"engine_result"`
			Validated    bool   `json:"validated"`
			TxJSON       struct {
				Hash string `json:"hash"`
			} `json:"tx_json"`
		}
		err := c.call(ctx, "submit", map[string]any{"tx_blob": txBlob}, &raw)
		if err == nil {
			return &SubmitResult{
				Hash:         raw.TxJSON.Hash,
				EngineResult: raw.EngineResult,
				Validated:    raw.Validated,
			}, nil
		}
		lastErr = err
		if !IsUnreachable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Tx fetches a transaction by hash.
func (c *WSClient) Tx(ctx context.Context, hash string) (*TxResult, error) {
	var res TxResult
	err := c.call(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ChannelEntry fetches the PayChannel entry for channelID from the latest
// validated ledger.
func (c *WSClient) ChannelEntry(ctx context.Context, channelID string) (*ChannelEntry, error) {
	var raw struct {
		Node ChannelEntry `json:"node"`
	}
	err := c.call(ctx, "ledger_entry", map[string]any{
		"payment_channel": channelID,
		"ledger_index":    "validated",
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &raw.Node, nil
}

// AccountChannels lists channels where account is the source, optionally
// restricted to a destination account.
func (c *WSClient) AccountChannels(ctx context.Context, account, destination string) ([]AccountChannel, error) {
	params := map[string]any{
		"account":      account,
		"ledger_index": "validated",
	}
	if destination != "" {
		params["destination_account"] = destination
	}
	var raw struct {
		Channels []AccountChannel `json:"channels"`
	}
	if err := c.call(ctx, "account_channels", params, &raw); err != nil {
		return nil, err
	}
	return raw.Channels, nil
}

// AccountInfo fetches account data from the latest validated ledger.
// A NotFound error means the account is not activated.
func (c *WSClient) AccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	var raw struct {
		AccountData AccountInfo `json:"account_data"`
	}
	err := c.call(ctx, "account_info", map[string]any{
		"account":      account,
		"ledger_index": "validated",
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &raw.AccountData, nil
}

// Close shuts the connection down and fails any in-flight requests.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.failPending()
	})
	return err
}

var _ Client = (*WSClient)(nil)

// String renders the endpoint for logs.
func (c *WSClient) String() string { return fmt.Sprintf("ledger[%s]", c.url) }
