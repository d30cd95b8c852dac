// Package chain abstracts the Solana RPC surface the relayer needs: health,
// transaction submission for the three transfer shapes, and signature status
// lookups. Provider-specific behavior (priority fees, private bundles, DAS)
// is selected by strategy based on the RPC URL.
package chain

import (
	"context"
	"time"

	"github.com/shieldpay/relayer/types"
)

// StatusState is the coarse on-chain state of a submitted signature.
type StatusState int

const (
	// StatusNotFound means the cluster has no record of the signature,
	// including transaction history. Past the blockhash validity window
	// this means the transaction will never land.
	StatusNotFound StatusState = iota
	// StatusPending means the signature is known but not yet at the
	// confirmed commitment.
	StatusPending
	StatusConfirmed
	// StatusFailed means the transaction landed and errored.
	StatusFailed
)

func (s StatusState) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Status is the result of a signature lookup.
type Status struct {
	State StatusState
	// FailureReason is set when State is StatusFailed.
	FailureReason string
}

// Client is the blockchain dependency of the worker pool, the crank and the
// submit handler. Implementations hold the custodial signing key; nothing
// else in the process touches it.
type Client interface {
	// HealthCheck verifies RPC connectivity.
	HealthCheck(ctx context.Context) error

	// Submit builds, signs and sends the transaction for a transfer
	// request, dispatching on its shape. Returns the transaction
	// signature accepted by the RPC node.
	Submit(ctx context.Context, req *types.TransferRequest) (string, error)

	// GetStatus looks up a signature, searching transaction history so
	// confirmations older than the status cache are still found.
	GetStatus(ctx context.Context, signature string) (*Status, error)

	// WaitForConfirmation polls until the signature confirms, fails, or
	// the timeout elapses.
	WaitForConfirmation(ctx context.Context, signature string, timeout time.Duration) (*Status, error)

	// SupportsConfidential reports whether confidential transfers can be
	// constructed against this endpoint.
	SupportsConfidential() bool

	// SignerAddress returns the Base58 public key of the custodial signer.
	SignerAddress() string
}
