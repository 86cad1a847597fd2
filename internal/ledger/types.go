package ledger

import (
	"context"
	"encoding/json"
	"strconv"
)

// Client is the ledger node surface the engine depends on. All operations
// honor the context deadline and return *ClientError on failure.
type Client interface {
	// Submit sends a signed transaction blob to the node. The transaction
	// is accepted, not necessarily validated, when Submit returns.
	Submit(ctx context.Context, txBlob string) (*SubmitResult, error)
	// Tx fetches a transaction by hash, including validation state and metadata.
	Tx(ctx context.Context, hash string) (*TxResult, error)
	// ChannelEntry fetches the PayChannel ledger entry for a channel ID.
	ChannelEntry(ctx context.Context, channelID string) (*ChannelEntry, error)
	// AccountChannels lists channels owned by account, optionally filtered
	// by destination (empty string means no filter).
	AccountChannels(ctx context.Context, account, destination string) ([]AccountChannel, error)
	// AccountInfo fetches basic account data; NotFound means the account
	// is not activated on the ledger.
	AccountInfo(ctx context.Context, account string) (*AccountInfo, error)
	// Close tears down the connection. No calls may be made afterwards.
	Close() error
}

// SubmitResult is the node's response to a submit command.
type SubmitResult struct {
	Hash         string
	EngineResult string
	Validated    bool
}

// TxMeta is transaction metadata as reported by the tx command.
type TxMeta struct {
	TransactionResult string         `json:"TransactionResult"`
	AffectedNodes     []AffectedNode `json:"AffectedNodes"`
}

// AffectedNode is one entry of meta.AffectedNodes. Exactly one of the three
// fields is set.
type AffectedNode struct {
	CreatedNode  *NodeInfo `json:"CreatedNode,omitempty"`
	ModifiedNode *NodeInfo `json:"ModifiedNode,omitempty"`
	DeletedNode  *NodeInfo `json:"DeletedNode,omitempty"`
}

// NodeInfo describes a ledger entry touched by a transaction.
type NodeInfo struct {
	LedgerEntryType string          `json:"LedgerEntryType"`
	LedgerIndex     string          `json:"LedgerIndex"`
	NewFields       json.RawMessage `json:"NewFields,omitempty"`
	FinalFields     json.RawMessage `json:"FinalFields,omitempty"`
}

// PayChannelFields are the PayChannel entry fields carried in node metadata.
type PayChannelFields struct {
	Account     string `json:"Account"`
	Destination string `json:"Destination"`
	Amount      string `json:"Amount"`
	Balance     string `json:"Balance,omitempty"`
	PublicKey   string `json:"PublicKey"`
	SettleDelay uint32 `json:"SettleDelay"`
}

// TxResult is the response to a tx command.
type TxResult struct {
	Hash        string          `json:"hash"`
	Validated   bool            `json:"validated"`
	LedgerIndex uint32          `json:"ledger_index"`
	Meta        *TxMeta         `json:"meta"`
	TxJSON      json.RawMessage `json:"tx_json,omitempty"`
}

// CreatedPayChannel returns the CreatedNode of type PayChannel from the
// transaction metadata, or nil if none exists.
func (t *TxResult) CreatedPayChannel() *NodeInfo {
	if t.Meta == nil {
		return nil
	}
	for i := range t.Meta.AffectedNodes {
		n := t.Meta.AffectedNodes[i].CreatedNode
		if n != nil && n.LedgerEntryType == "PayChannel" {
			return n
		}
	}
	return nil
}

// ChannelEntry is the PayChannel ledger entry returned by ledger_entry.
type ChannelEntry struct {
	Account     string  `json:"Account"`
	Destination string  `json:"Destination"`
	Amount      string  `json:"Amount"`
	Balance     string  `json:"Balance"`
	PublicKey   string  `json:"PublicKey"`
	SettleDelay uint32  `json:"SettleDelay"`
	Expiration  *uint32 `json:"Expiration,omitempty"`
	CancelAfter *uint32 `json:"CancelAfter,omitempty"`
}

// AmountDrops returns the Amount field as integer drops.
func (c *ChannelEntry) AmountDrops() (uint64, error) { return ParseDrops(c.Amount) }

// BalanceDrops returns the Balance field as integer drops.
func (c *ChannelEntry) BalanceDrops() (uint64, error) { return ParseDrops(c.Balance) }

// AccountChannel is one element of an account_channels response.
type AccountChannel struct {
	ChannelID          string  `json:"channel_id"`
	Account            string  `json:"account"`
	DestinationAccount string  `json:"destination_account"`
	Amount             string  `json:"amount"`
	Balance            string  `json:"balance"`
	PublicKey          string  `json:"public_key"`
	SettleDelay        uint32  `json:"settle_delay"`
	Expiration         *uint32 `json:"expiration,omitempty"`
	CancelAfter        *uint32 `json:"cancel_after,omitempty"`
}

// AccountInfo is the subset of account_info data the engine consumes.
type AccountInfo struct {
	Account  string `json:"Account"`
	Balance  string `json:"Balance"`
	Sequence uint32 `json:"Sequence"`
}

// ParseDrops parses an integer drops string. An empty string parses to zero,
// matching the ledger's omission of zero Balance fields.
func ParseDrops(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
