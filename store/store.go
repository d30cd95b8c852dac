// Package store owns the durable truth of the relayer: transfer requests,
// the deny-list and cached wallet risk profiles. The Postgres implementation
// is the production backend; the memory implementation backs tests and dev
// mode. All mutations of a transfer row past creation go through narrow,
// state-conditional methods so that concurrent writers (worker pool, webhook
// ingest, stale crank) serialize per row at the database.
package store

import (
	"context"
	"time"

	"github.com/shieldpay/relayer/types"
)

// MaxRetries bounds blockchain_retry_count; a row reaching it is failed.
const MaxRetries = 10

// Store is the persistence interface the rest of the relayer depends on.
type Store interface {
	// HealthCheck verifies connectivity with a trivial query.
	HealthCheck(ctx context.Context) error
	Close() error

	// CreateTransferRequest inserts a new row. A (from_address, nonce)
	// conflict returns a KindDuplicate error.
	CreateTransferRequest(ctx context.Context, req *types.TransferRequest) error

	// GetTransferRequest returns the row, or (nil, nil) when absent.
	GetTransferRequest(ctx context.Context, id string) (*types.TransferRequest, error)

	// GetTransferByNonce resolves the idempotency key, (nil, nil) when absent.
	GetTransferByNonce(ctx context.Context, fromAddress, nonce string) (*types.TransferRequest, error)

	// GetTransferBySignature resolves a webhook event's signature to its
	// row, (nil, nil) when absent.
	GetTransferBySignature(ctx context.Context, signature string) (*types.TransferRequest, error)

	// ListTransferRequests pages newest-first by (created_at, id) keyset.
	// The cursor is the id of the last row of the previous page; an unknown
	// cursor id yields a KindValidation error.
	ListTransferRequests(ctx context.Context, limit int64, cursor *string) (*types.PaginatedResponse, error)

	// UpdateComplianceStatus records the compliance screen outcome.
	UpdateComplianceStatus(ctx context.Context, id string, status types.ComplianceStatus) error

	// MarkSubmitted moves a row to submitted with its on-chain signature,
	// clearing retry bookkeeping.
	MarkSubmitted(ctx context.Context, id, signature string) error

	// MarkFailed moves a row to failed terminally, clearing next_retry_at.
	MarkFailed(ctx context.Context, id, lastError string) error

	// ScheduleRetry re-queues a row as pending_submission with the next
	// retry time and last error recorded.
	ScheduleRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time) error

	// RequeueForRetry resets retry bookkeeping and re-queues the row; used
	// by the operator-facing retry endpoint.
	RequeueForRetry(ctx context.Context, id string) error

	// IncrementRetryCount bumps the counter and returns the new value.
	IncrementRetryCount(ctx context.Context, id string) (int, error)

	// ClaimPendingSubmissions atomically claims up to batch approved
	// pending_submission rows whose retry time has elapsed and whose retry
	// count is below MaxRetries, marking them processing in the same
	// statement. No two callers ever receive the same row.
	ClaimPendingSubmissions(ctx context.Context, batch int) ([]*types.TransferRequest, error)

	// ReleaseClaim returns a processing row to pending_submission; used by
	// workers checkpointing on shutdown.
	ReleaseClaim(ctx context.Context, id string) error

	// ListStaleSubmitted returns up to batch submitted rows not updated
	// since staleBefore, oldest first.
	ListStaleSubmitted(ctx context.Context, staleBefore time.Time, batch int) ([]*types.TransferRequest, error)

	// TransitionSubmitted conditionally moves a submitted row to the given
	// terminal status. Returns false without error when the row was not in
	// submitted, which makes webhook/crank races no-ops for the loser.
	TransitionSubmitted(ctx context.Context, id string, to types.BlockchainStatus, lastError *string) (bool, error)

	// ResurrectStale conditionally moves a submitted row back to
	// pending_submission with an incremented retry count and a fresh retry
	// time; the blockhash expired and the transaction never landed.
	ResurrectStale(ctx context.Context, id string, nextRetryAt time.Time) (bool, error)

	// TouchSubmitted bumps updated_at of a submitted row so the crank does
	// not immediately re-poll it.
	TouchSubmitted(ctx context.Context, id string) error

	// UpsertBlocklistEntry inserts or updates a deny-list row.
	UpsertBlocklistEntry(ctx context.Context, address, reason string) error

	// DeleteBlocklistEntry removes a deny-list row, reporting whether one
	// existed.
	DeleteBlocklistEntry(ctx context.Context, address string) (bool, error)

	// ListBlocklist returns every deny-list row.
	ListBlocklist(ctx context.Context) ([]*types.BlocklistEntry, error)

	// GetRiskProfile returns the cached profile, (nil, nil) when absent.
	GetRiskProfile(ctx context.Context, address string) (*types.WalletRiskProfile, error)

	// UpsertRiskProfile inserts or refreshes a profile, updating updated_at.
	UpsertRiskProfile(ctx context.Context, profile *types.WalletRiskProfile) error
}
