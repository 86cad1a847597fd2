package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpl-payroll/payrolld/internal/ledger"
)

func TestValidateNotFinal(t *testing.T) {
	tests := []struct {
		name string
		fl   *fakeLedger
	}{
		{"transaction unknown", &fakeLedger{txErr: notFound("tx")}},
		{"transaction not validated", &fakeLedger{tx: &ledger.TxResult{Validated: false}}},
		{"validated without metadata", &fakeLedger{tx: &ledger.TxResult{Validated: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.fl)
			_, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureDestinationImmediate)
			assert.ErrorIs(t, err, ErrTransactionNotFinal)
		})
	}
}

func TestValidateEngineFailure(t *testing.T) {
	fl := &fakeLedger{tx: &ledger.TxResult{
		Validated: true,
		Meta:      &ledger.TxMeta{TransactionResult: "tecUNFUNDED_PAYMENT"},
	}}
	v := NewValidator(fl)

	_, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureDestinationImmediate)
	var failed *TransactionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "tecUNFUNDED_PAYMENT", failed.Code)
}

func TestValidateDestinationImmediate(t *testing.T) {
	fl := &fakeLedger{tx: validatedSuccess(), entryErr: notFound("ledger_entry")}
	v := NewValidator(fl)

	record, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureDestinationImmediate)
	require.NoError(t, err)
	assert.True(t, record.EntryRemoved)
	assert.Equal(t, ClosureDestinationImmediate, record.Kind)
	assert.Nil(t, record.ExpiresAt)
}

func TestValidateDestinationImmediateEntrySurvives(t *testing.T) {
	fl := &fakeLedger{tx: validatedSuccess(), entry: &ledger.ChannelEntry{Amount: "240000000"}}
	v := NewValidator(fl)

	_, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureDestinationImmediate)
	var state *ChannelStateError
	assert.ErrorAs(t, err, &state)
}

func TestValidateSourceScheduled(t *testing.T) {
	expiration := uint32(700000000)
	fl := &fakeLedger{tx: validatedSuccess(), entry: &ledger.ChannelEntry{
		Amount:     "240000000",
		Expiration: &expiration,
	}}
	v := NewValidator(fl)

	record, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureSourceScheduled)
	require.NoError(t, err)
	assert.False(t, record.EntryRemoved)
	require.NotNil(t, record.ExpirationRipple)
	assert.Equal(t, expiration, *record.ExpirationRipple)
	require.NotNil(t, record.ExpiresAt)
}

func TestValidateSourceScheduledWithoutExpiration(t *testing.T) {
	fl := &fakeLedger{tx: validatedSuccess(), entry: &ledger.ChannelEntry{Amount: "240000000"}}
	v := NewValidator(fl)

	_, err := v.Validate(context.Background(), testChannelID, "HASH", ClosureSourceScheduled)
	var state *ChannelStateError
	assert.ErrorAs(t, err, &state)
}

func TestValidateSourceImmediatePaths(t *testing.T) {
	t.Run("entry removed when escrow was drained", func(t *testing.T) {
		fl := &fakeLedger{tx: validatedSuccess(), entryErr: notFound("ledger_entry")}
		record, err := NewValidator(fl).Validate(context.Background(), testChannelID, "HASH", ClosureSourceImmediate)
		require.NoError(t, err)
		assert.True(t, record.EntryRemoved)
		assert.Equal(t, ClosureSourceImmediate, record.Kind)
	})

	t.Run("falls back to scheduled when escrow remains", func(t *testing.T) {
		expiration := uint32(700000000)
		fl := &fakeLedger{tx: validatedSuccess(), entry: &ledger.ChannelEntry{
			Amount:     "240000000",
			Expiration: &expiration,
		}}
		record, err := NewValidator(fl).Validate(context.Background(), testChannelID, "HASH", ClosureSourceImmediate)
		require.NoError(t, err)
		assert.False(t, record.EntryRemoved)
		assert.Equal(t, ClosureSourceScheduled, record.Kind, "the observed path is reported back")
	})
}
