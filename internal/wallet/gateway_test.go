package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, deadline time.Duration) *Gateway {
	g, err := NewGateway(&StaticProvider{Tag: ProviderManualSeed, Network: NetworkXahauTestnet}, deadline)
	require.NoError(t, err)
	return g
}

func prepare(t *testing.T, g *Gateway) *PendingSignature {
	pending, err := g.PrepareSign(context.Background(), map[string]any{"TransactionType": "PaymentChannelCreate"}, "rSource", NetworkXahauTestnet)
	require.NoError(t, err)
	require.NotEmpty(t, pending.PayloadRef)
	return pending
}

func TestAwaitSigned(t *testing.T) {
	g := newTestGateway(t, time.Minute)
	pending := prepare(t, g)

	go func() {
		_ = g.Resolve(pending.PayloadRef, Outcome{Status: StatusSigned, TxHash: "ABC123", EngineResult: "tesSUCCESS"})
	}()

	out, err := g.AwaitResult(context.Background(), pending.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, out.Status)
	assert.Equal(t, "ABC123", out.TxHash)

	// Re-awaiting a terminal payload returns the recorded outcome.
	again, err := g.AwaitResult(context.Background(), pending.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAwaitDeadlineExpires(t *testing.T) {
	g := newTestGateway(t, 20*time.Millisecond)
	pending := prepare(t, g)

	out, err := g.AwaitResult(context.Background(), pending.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, out.Status)

	// A late resolution does not overwrite the expired outcome.
	assert.NoError(t, g.Resolve(pending.PayloadRef, Outcome{Status: StatusSigned, TxHash: "LATE"}))
	again, err := g.AwaitResult(context.Background(), pending.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, again.Status)
}

func TestAwaitContextCancelled(t *testing.T) {
	g := newTestGateway(t, time.Minute)
	pending := prepare(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := g.AwaitResult(ctx, pending.PayloadRef)
	assert.ErrorIs(t, err, ErrAwaitCancelled)
}

func TestAwaitUnknownPayload(t *testing.T) {
	g := newTestGateway(t, time.Minute)
	_, err := g.AwaitResult(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrUnknownPayload)

	assert.ErrorIs(t, g.Resolve("never-issued", Outcome{Status: StatusSigned}), ErrUnknownPayload)
}

func TestPrepareSignNetworkMismatch(t *testing.T) {
	g := newTestGateway(t, time.Minute)
	_, err := g.PrepareSign(context.Background(), map[string]any{}, "rSource", NetworkXahauMainnet)
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}

func TestAwaitRejected(t *testing.T) {
	g := newTestGateway(t, time.Minute)
	pending := prepare(t, g)

	require.NoError(t, g.Resolve(pending.PayloadRef, Outcome{Status: StatusRejected}))
	out, err := g.AwaitResult(context.Background(), pending.PayloadRef)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
}
