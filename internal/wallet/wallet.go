// Package wallet abstracts the external signing ceremony. The engine hands a
// provider an unsigned transaction template, receives an opaque payload
// reference, and later awaits the terminal outcome (signed, cancelled,
// expired, rejected) that the wallet reports back.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Provider identifies a wallet integration.
type Provider string

const (
	// ProviderMobileQR signs via a QR / deep-link flow on a mobile wallet.
	ProviderMobileQR Provider = "mobile_qr"
	// ProviderManualSeed signs with a locally supplied seed.
	ProviderManualSeed Provider = "manual_seed"
	// ProviderBrowserExtension signs via a browser extension wallet.
	ProviderBrowserExtension Provider = "browser_extension"
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderMobileQR, ProviderManualSeed, ProviderBrowserExtension:
		return true
	}
	return false
}

// NetworkTag selects the network the user's wallet must be on.
type NetworkTag string

const (
	// NetworkXahauMainnet is the Xahau production network.
	NetworkXahauMainnet NetworkTag = "xahau_mainnet"
	// NetworkXahauTestnet is the Xahau test network.
	NetworkXahauTestnet NetworkTag = "xahau_testnet"
)

// OutcomeStatus is the terminal state of a signing request.
type OutcomeStatus string

const (
	// StatusSigned means the user approved and the transaction was submitted.
	StatusSigned OutcomeStatus = "signed"
	// StatusCancelled means the user dismissed the request.
	StatusCancelled OutcomeStatus = "cancelled"
	// StatusExpired means the request outlived its deadline unanswered.
	StatusExpired OutcomeStatus = "expired"
	// StatusRejected means the wallet refused the request (wrong network,
	// malformed template).
	StatusRejected OutcomeStatus = "rejected"
)

// Outcome is the terminal result of a signing request.
type Outcome struct {
	Status       OutcomeStatus
	TxHash       string // set when Status is signed
	EngineResult string // engine result reported by the wallet, if any
}

// PendingSignature is the handle returned by PrepareSign.
type PendingSignature struct {
	PayloadRef string
	Provider   Provider
}

// Signer is the contract the lifecycle controller consumes.
type Signer interface {
	// PrepareSign registers the unsigned transaction with the wallet
	// provider and returns an opaque payload reference.
	PrepareSign(ctx context.Context, tx map[string]any, account string, network NetworkTag) (*PendingSignature, error)
	// AwaitResult blocks until the payload reaches a terminal outcome, the
	// configured deadline passes (outcome expired), or ctx is cancelled.
	// Awaiting an already-terminal payload returns the recorded outcome.
	AwaitResult(ctx context.Context, payloadRef string) (*Outcome, error)
}

// ProviderClient is the narrow interface an actual wallet backend implements.
type ProviderClient interface {
	Provider() Provider
	// CreatePayload submits the template to the wallet service and returns
	// its payload reference. It must reject a network mismatch.
	CreatePayload(ctx context.Context, tx map[string]any, account string, network NetworkTag) (string, error)
}

var (
	// ErrUnknownPayload is returned when awaiting a payload reference the
	// gateway never issued.
	ErrUnknownPayload = errors.New("wallet: unknown payload reference")
	// ErrAwaitCancelled is returned when the caller's context ends before a
	// terminal outcome arrives.
	ErrAwaitCancelled = errors.New("wallet: await cancelled")
	// ErrNetworkMismatch is returned when the wallet is on a different
	// network than the engine.
	ErrNetworkMismatch = errors.New("wallet: network mismatch")
)

// StaticProvider is an in-process provider used for tests and the manual-seed
// flow: it issues random payload references and leaves resolution to an
// external call into the gateway.
type StaticProvider struct {
	Tag     Provider
	Network NetworkTag
}

// Provider returns the provider tag.
func (s *StaticProvider) Provider() Provider { return s.Tag }

// CreatePayload issues a random payload reference after checking the network.
func (s *StaticProvider) CreatePayload(_ context.Context, _ map[string]any, account string, network NetworkTag) (string, error) {
	if s.Network != "" && network != s.Network {
		return "", fmt.Errorf("%w: wallet on %s, request for %s", ErrNetworkMismatch, s.Network, network)
	}
	if account == "" {
		return "", errors.New("wallet: account is required")
	}
	return newPayloadRef()
}

func newPayloadRef() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
