package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNode is an in-process websocket node answering each command from a
// canned response table.
type testNode struct {
	t       *testing.T
	server  *httptest.Server
	handler func(command string, req map[string]any) (status, errCode string, result map[string]any)
}

func newTestNode(t *testing.T, handler func(command string, req map[string]any) (string, string, map[string]any)) *testNode {
	n := &testNode{t: t, handler: handler}
	upgrader := websocket.Upgrader{}
	n.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			command, _ := req["command"].(string)
			status, errCode, result := n.handler(command, req)
			resp := map[string]any{
				"id":     req["id"],
				"type":   "response",
				"status": status,
			}
			if status == "success" {
				resp["result"] = result
			} else {
				resp["error"] = errCode
				resp["error_message"] = "from test node"
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(n.server.Close)
	return n
}

func (n *testNode) wsURL() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

func dialTest(t *testing.T, n *testNode) *WSClient {
	c, err := Dial(n.wsURL(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubmit(t *testing.T) {
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		require.Equal(t, "submit", command)
		require.Equal(t, "DEADBEEF", req["tx_blob"])
		return "success", "", map[string]any{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]any{"hash": "ABC123"},
		}
	})
	c := dialTest(t, node)

	res, err := c.Submit(context.Background(), "DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", res.Hash)
	assert.Equal(t, "tesSUCCESS", res.EngineResult)
	assert.False(t, res.Validated)
}

func TestTxWithCreatedPayChannel(t *testing.T) {
	channelID := strings.Repeat("AB", 32)
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		return "success", "", map[string]any{
			"hash":      "ABC123",
			"validated": true,
			"meta": map[string]any{
				"TransactionResult": "tesSUCCESS",
				"AffectedNodes": []any{
					map[string]any{"ModifiedNode": map[string]any{"LedgerEntryType": "AccountRoot"}},
					map[string]any{"CreatedNode": map[string]any{
						"LedgerEntryType": "PayChannel",
						"LedgerIndex":     channelID,
						"NewFields": map[string]any{
							"Account":     "rSource",
							"Destination": "rWorker",
							"Amount":      "240000000",
							"PublicKey":   "ED" + strings.Repeat("00", 31),
							"SettleDelay": 3600,
						},
					}},
				},
			},
		}
	})
	c := dialTest(t, node)

	res, err := c.Tx(context.Background(), "ABC123")
	require.NoError(t, err)
	require.True(t, res.Validated)
	require.Equal(t, "tesSUCCESS", res.Meta.TransactionResult)

	created := res.CreatedPayChannel()
	require.NotNil(t, created)
	assert.Equal(t, channelID, created.LedgerIndex)

	var fields PayChannelFields
	require.NoError(t, json.Unmarshal(created.NewFields, &fields))
	assert.Equal(t, "240000000", fields.Amount)
	assert.Equal(t, uint32(3600), fields.SettleDelay)
}

func TestTxNotFound(t *testing.T) {
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		return "error", "txnNotFound", nil
	})
	c := dialTest(t, node)

	_, err := c.Tx(context.Background(), "MISSING")
	assert.True(t, IsNotFound(err))
}

func TestChannelEntry(t *testing.T) {
	exp := uint32(781000000)
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		require.Equal(t, "ledger_entry", command)
		return "success", "", map[string]any{
			"node": map[string]any{
				"Account":     "rSource",
				"Destination": "rWorker",
				"Amount":      "240000000",
				"Balance":     "3000000",
				"PublicKey":   "EDAA",
				"SettleDelay": 3600,
				"Expiration":  exp,
			},
		}
	})
	c := dialTest(t, node)

	entry, err := c.ChannelEntry(context.Background(), strings.Repeat("AB", 32))
	require.NoError(t, err)
	assert.Equal(t, "rSource", entry.Account)

	amt, err := entry.AmountDrops()
	require.NoError(t, err)
	assert.Equal(t, uint64(240000000), amt)

	bal, err := entry.BalanceDrops()
	require.NoError(t, err)
	assert.Equal(t, uint64(3000000), bal)

	require.NotNil(t, entry.Expiration)
	assert.Equal(t, exp, *entry.Expiration)
}

func TestAccountChannelsDestinationFilter(t *testing.T) {
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		require.Equal(t, "account_channels", command)
		require.Equal(t, "rWorker", req["destination_account"])
		return "success", "", map[string]any{
			"channels": []any{
				map[string]any{
					"channel_id":          strings.Repeat("CD", 32),
					"account":             "rSource",
					"destination_account": "rWorker",
					"amount":              "240000000",
					"balance":             "0",
					"public_key":          "EDAA",
					"settle_delay":        3600,
				},
			},
		}
	})
	c := dialTest(t, node)

	channels, err := c.AccountChannels(context.Background(), "rSource", "rWorker")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, strings.Repeat("CD", 32), channels[0].ChannelID)
	assert.Equal(t, uint32(3600), channels[0].SettleDelay)
}

func TestAccountInfoInactive(t *testing.T) {
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		return "error", "actNotFound", nil
	})
	c := dialTest(t, node)

	_, err := c.AccountInfo(context.Background(), "rUnfunded")
	assert.True(t, IsNotFound(err))
}

func TestMethodUnsupported(t *testing.T) {
	node := newTestNode(t, func(command string, req map[string]any) (string, string, map[string]any) {
		return "error", "unknownCmd", nil
	})
	c := dialTest(t, node)

	_, err := c.AccountChannels(context.Background(), "rSource", "")
	assert.True(t, IsMethodUnsupported(err))
}

func TestParseDrops(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"3000000", 3000000, false},
		{"abc", 0, true},
		{"-5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDrops(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
