package resolver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-payroll/payrolld/internal/ledger"
)

var (
	wantChannelID = strings.Repeat("AB", 32)
	wantPublicKey = "ED" + strings.Repeat("11", 31)
)

// fakeLedger scripts Tx and AccountChannels responses.
type fakeLedger struct {
	tx          *ledger.TxResult
	txErr       error
	channels    [][]ledger.AccountChannel // one element per AccountChannels call
	channelsErr error
	calls       int
}

func (f *fakeLedger) Submit(context.Context, string) (*ledger.SubmitResult, error) {
	panic("not used")
}

func (f *fakeLedger) Tx(context.Context, string) (*ledger.TxResult, error) {
	return f.tx, f.txErr
}

func (f *fakeLedger) ChannelEntry(context.Context, string) (*ledger.ChannelEntry, error) {
	panic("not used")
}

func (f *fakeLedger) AccountChannels(_ context.Context, account, destination string) ([]ledger.AccountChannel, error) {
	if f.channelsErr != nil {
		return nil, f.channelsErr
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.channels) {
		return nil, nil
	}
	return f.channels[idx], nil
}

func (f *fakeLedger) AccountInfo(context.Context, string) (*ledger.AccountInfo, error) {
	panic("not used")
}

func (f *fakeLedger) Close() error { return nil }

func newResolver(f *fakeLedger, attempts int) (*Resolver, *[]time.Duration) {
	schedule := make([]time.Duration, attempts)
	for i := range schedule {
		schedule[i] = time.Duration(1<<i) * time.Second
	}
	r := New(f, schedule)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func request() Request {
	return Request{
		TxHash:              "CREATE123",
		Source:              "rSource",
		Destination:         "rWorker",
		ExpectedAmountDrops: 240_000_000,
		ExpectedSettleDelay: 3600,
	}
}

func createdMeta(channelID string) *ledger.TxResult {
	fields, _ := json.Marshal(ledger.PayChannelFields{
		Account:     "rSource",
		Destination: "rWorker",
		Amount:      "240000000",
		PublicKey:   wantPublicKey,
		SettleDelay: 3600,
	})
	return &ledger.TxResult{
		Validated: true,
		Meta: &ledger.TxMeta{
			TransactionResult: "tesSUCCESS",
			AffectedNodes: []ledger.AffectedNode{
				{CreatedNode: &ledger.NodeInfo{
					LedgerEntryType: "PayChannel",
					LedgerIndex:     channelID,
					NewFields:       fields,
				}},
			},
		},
	}
}

func TestResolveFromTxMeta(t *testing.T) {
	f := &fakeLedger{tx: createdMeta(wantChannelID)}
	r, slept := newResolver(f, 5)

	resolved, err := r.Resolve(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, wantChannelID, resolved.ChannelID)
	assert.Equal(t, wantPublicKey, resolved.PublicKey)
	assert.Empty(t, *slept, "meta path must not sleep")
}

func TestResolveFallbackDisambiguation(t *testing.T) {
	mkChan := func(id, amount string, delay uint32) ledger.AccountChannel {
		return ledger.AccountChannel{
			ChannelID:   id,
			Account:     "rSource",
			Amount:      amount,
			SettleDelay: delay,
			PublicKey:   wantPublicKey,
		}
	}
	f := &fakeLedger{
		txErr: &ledger.ClientError{Kind: ledger.KindNotFound, Op: "tx", Code: "txnNotFound"},
		channels: [][]ledger.AccountChannel{
			nil, // not indexed yet on the first fallback attempt
			{
				mkChan(strings.Repeat("CD", 32), "999000000", 3600), // wrong amount
				mkChan(strings.Repeat("EF", 32), "240000000", 60),   // wrong delay
				mkChan(wantChannelID, "240000000", 3600),
			},
		},
	}
	r, slept := newResolver(f, 5)

	resolved, err := r.Resolve(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, wantChannelID, resolved.ChannelID)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
}

func TestResolveAmbiguousKeepsRetrying(t *testing.T) {
	dup := ledger.AccountChannel{
		ChannelID:   wantChannelID,
		Amount:      "240000000",
		SettleDelay: 3600,
	}
	other := dup
	other.ChannelID = strings.Repeat("CD", 32)

	f := &fakeLedger{
		txErr:    &ledger.ClientError{Kind: ledger.KindNotFound, Op: "tx"},
		channels: [][]ledger.AccountChannel{{dup, other}, {dup, other}, {dup, other}, {dup, other}, {dup, other}},
	}
	r, _ := newResolver(f, 5)

	_, err := r.Resolve(context.Background(), request())
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))
	assert.Equal(t, 5, f.calls)
}

func TestResolveExhaustion(t *testing.T) {
	f := &fakeLedger{
		txErr:       &ledger.ClientError{Kind: ledger.KindNotFound, Op: "tx"},
		channelsErr: &ledger.ClientError{Kind: ledger.KindUnreachable, Op: "account_channels"},
	}
	r, slept := newResolver(f, 5)

	_, err := r.Resolve(context.Background(), request())
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))
	assert.EqualError(t, err, "ChannelIdUnresolved(CREATE123)")
	assert.Len(t, *slept, 5)
}

func TestResolveRejectsPlaceholderFromMeta(t *testing.T) {
	f := &fakeLedger{
		tx:    createdMeta("TEMP-" + strings.Repeat("A", 59)),
		txErr: nil,
	}
	r, _ := newResolver(f, 1)

	_, err := r.Resolve(context.Background(), request())
	assert.True(t, IsUnresolved(err))
}

func TestResolveUnvalidatedMetaIgnored(t *testing.T) {
	tx := createdMeta(wantChannelID)
	tx.Validated = false
	f := &fakeLedger{
		tx: tx,
		channels: [][]ledger.AccountChannel{{{
			ChannelID:   wantChannelID,
			Amount:      "240000000",
			SettleDelay: 3600,
			PublicKey:   wantPublicKey,
		}}},
	}
	r, _ := newResolver(f, 5)

	resolved, err := r.Resolve(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, wantChannelID, resolved.ChannelID)
}
