package lifecycle

import (
	"github.com/Peersyst/xrpl-go/xrpl/transaction"
	txtypes "github.com/Peersyst/xrpl-go/xrpl/transaction/types"

	"github.com/xrpl-payroll/payrolld/internal/store"
)

// buildCreateTx assembles an unsigned PaymentChannelCreate template. The
// signing wallet fills PublicKey, Sequence and Fee.
func buildCreateTx(source, destination string, amountDrops uint64, settleDelay uint32, cancelAfter *uint32) map[string]any {
	tx := &transaction.PaymentChannelCreate{
		BaseTx: transaction.BaseTx{
			Account:         txtypes.Address(source),
			TransactionType: transaction.PaymentChannelCreateTx,
		},
		Amount:      txtypes.XRPCurrencyAmount(amountDrops),
		Destination: txtypes.Address(destination),
		SettleDelay: settleDelay,
	}
	if cancelAfter != nil {
		tx.CancelAfter = *cancelAfter
	}
	flat := tx.Flatten()
	// The channel key pair is the wallet's to choose.
	if pk, ok := flat["PublicKey"]; ok && pk == "" {
		delete(flat, "PublicKey")
	}
	return flat
}

// buildCloseClaimTx assembles an unsigned PaymentChannelClaim that closes the
// channel. Balance is present only when the worker is owed a payout; a zero
// Balance together with the close flag is rejected by the ledger. Amount is
// never set, the escrow refund on close is automatic. PublicKey is the
// channel's key from its ledger entry, not the signer's account key.
func buildCloseClaimTx(ch *store.PaymentChannel, account string, balanceDrops uint64) map[string]any {
	tx := &transaction.PaymentChannelClaim{
		BaseTx: transaction.BaseTx{
			Account:         txtypes.Address(account),
			TransactionType: transaction.PaymentChannelClaimTx,
		},
		Channel:   txtypes.Hash256(ch.ChannelID),
		Balance:   txtypes.XRPCurrencyAmount(balanceDrops),
		PublicKey: ch.PublicKey,
	}
	tx.SetCloseFlag()
	return tx.Flatten()
}

// buildFundTx assembles an unsigned PaymentChannelFund adding amountDrops of
// escrow to an open channel.
func buildFundTx(ch *store.PaymentChannel, account string, amountDrops uint64) map[string]any {
	tx := &transaction.PaymentChannelFund{
		BaseTx: transaction.BaseTx{
			Account:         txtypes.Address(account),
			TransactionType: transaction.PaymentChannelFundTx,
		},
		Channel: txtypes.Hash256(ch.ChannelID),
		Amount:  txtypes.XRPCurrencyAmount(amountDrops),
	}
	return tx.Flatten()
}
