// Package relay implements the transfer lifecycle: the synchronous submit
// path, the background submission workers, the stale-transaction crank and
// webhook event application. All state transitions go through the store's
// conditional updates so the three writers never trample each other.
package relay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/compliance"
	"github.com/shieldpay/relayer/metrics"
	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

// submitWriteTimeout bounds the status writes of the submit path that run
// detached from the request context.
const submitWriteTimeout = 10 * time.Second

// Service is the transfer-request application core shared by the HTTP
// handlers and the background loops.
type Service struct {
	store    store.Store
	chain    chain.Client
	screener *compliance.Service
	version  string
	log      log.Logger
}

func NewService(s store.Store, c chain.Client, screener *compliance.Service, version string) *Service {
	return &Service{
		store:    s,
		chain:    c,
		screener: screener,
		version:  version,
		log:      log.New("component", "relay"),
	}
}

// Submit runs the synchronous path: validate, verify the client signature,
// dedupe on (from, nonce), persist, screen, and make one inline submission
// attempt when approved. The returned row reflects committed state; callers
// poll for terminal outcomes.
func (s *Service) Submit(ctx context.Context, req *types.SubmitTransferRequest) (*types.TransferRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.VerifySignature(); err != nil {
		return nil, err
	}
	if req.Details.IsConfidential() {
		if req.TokenMint == nil {
			return nil, types.NewError(types.KindValidation, "confidential transfers require token_mint")
		}
		if !s.chain.SupportsConfidential() {
			return nil, types.NewError(types.KindNotSupported, "confidential transfers are not supported")
		}
	}

	if existing, err := s.store.GetTransferByNonce(ctx, req.FromAddress, req.Nonce); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	row := &types.TransferRequest{
		ID:               uuid.NewString(),
		FromAddress:      req.FromAddress,
		ToAddress:        req.ToAddress,
		Details:          req.Details,
		TokenMint:        req.TokenMint,
		ClientSignature:  req.Signature,
		Nonce:            req.Nonce,
		ComplianceStatus: types.CompliancePending,
		BlockchainStatus: types.BlockchainPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateTransferRequest(ctx, row); err != nil {
		// Concurrent duplicate: the other submission won the insert.
		if types.IsKind(err, types.KindDuplicate) {
			existing, lookupErr := s.store.GetTransferByNonce(ctx, req.FromAddress, req.Nonce)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	metrics.TransfersReceived.WithLabelValues(string(req.Details.Type)).Inc()

	// The row is committed now. Every status write below runs detached from
	// the request context: a client that disconnects mid-screen or
	// mid-submission must not strand the row in a state neither the workers
	// nor the crank can see. The screen and the chain call keep the request
	// context so in-flight provider and RPC work is still cancelled.
	writeCtx, cancelWrites := context.WithTimeout(context.WithoutCancel(ctx), submitWriteTimeout)
	defer cancelWrites()

	decision, err := s.screener.Screen(ctx, req.FromAddress, req.ToAddress)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		s.log.Warn("Transfer rejected by compliance screen",
			"id", row.ID, "to", row.ToAddress, "reason", decision.Reason)
		metrics.ScreeningDecisions.WithLabelValues("rejected", decision.Reason).Inc()
		if err := s.store.UpdateComplianceStatus(writeCtx, row.ID, types.ComplianceRejected); err != nil {
			return nil, err
		}
		row.ComplianceStatus = types.ComplianceRejected
		row.UpdatedAt = time.Now().UTC()
		return row, nil
	}

	metrics.ScreeningDecisions.WithLabelValues("approved", "").Inc()
	if err := s.store.UpdateComplianceStatus(writeCtx, row.ID, types.ComplianceApproved); err != nil {
		return nil, err
	}
	row.ComplianceStatus = types.ComplianceApproved

	signature, submitErr := s.chain.Submit(ctx, row)
	if submitErr != nil {
		s.log.Info("Inline submission failed, queued for retry", "id", row.ID, "err", submitErr)
		metrics.ChainSubmissions.WithLabelValues("queued").Inc()
		nextRetry := time.Now().UTC().Add(time.Second)
		if err := s.store.ScheduleRetry(writeCtx, row.ID, submitErr.Error(), nextRetry); err != nil {
			return nil, err
		}
		row.BlockchainStatus = types.BlockchainPendingSubmission
		lastErr := submitErr.Error()
		row.BlockchainLastError = &lastErr
		row.BlockchainNextRetryAt = &nextRetry
		row.UpdatedAt = time.Now().UTC()
		return row, nil
	}

	metrics.ChainSubmissions.WithLabelValues("submitted").Inc()
	if err := s.store.MarkSubmitted(writeCtx, row.ID, signature); err != nil {
		return nil, err
	}
	s.log.Info("Transfer submitted", "id", row.ID, "signature", signature)
	row.BlockchainStatus = types.BlockchainSubmitted
	row.BlockchainSignature = &signature
	row.UpdatedAt = time.Now().UTC()
	return row, nil
}

// Get fetches one transfer request.
func (s *Service) Get(ctx context.Context, id string) (*types.TransferRequest, error) {
	row, err := s.store.GetTransferRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, types.NewError(types.KindNotFound, "transfer request %s not found", id)
	}
	return row, nil
}

// List pages transfer requests newest first.
func (s *Service) List(ctx context.Context, limit int64, cursor *string) (*types.PaginatedResponse, error) {
	return s.store.ListTransferRequests(ctx, types.ClampLimit(limit), cursor)
}

// Retry re-queues a transfer for submission. Only approved rows sitting in
// pending_submission or failed are eligible; re-queuing resets the retry
// budget so the workers actually pick the row up again.
func (s *Service) Retry(ctx context.Context, id string) (*types.TransferRequest, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.ComplianceStatus != types.ComplianceApproved {
		return nil, types.NewError(types.KindValidation,
			"transfer %s is not approved (compliance status %s)", id, row.ComplianceStatus)
	}
	switch row.BlockchainStatus {
	case types.BlockchainPendingSubmission, types.BlockchainFailed:
	default:
		return nil, types.NewError(types.KindValidation,
			"transfer %s is not retryable in status %s", id, row.BlockchainStatus)
	}
	if err := s.store.RequeueForRetry(ctx, id); err != nil {
		return nil, err
	}
	s.log.Warn("Transfer re-queued by operator", "id", id, "previousStatus", row.BlockchainStatus)
	return s.Get(ctx, id)
}

// ChainEvent is a provider-neutral confirmation event extracted from a
// webhook payload.
type ChainEvent struct {
	Signature     string
	Success       bool
	FailureReason string
}

// WebhookOutcome summarizes one webhook delivery.
type WebhookOutcome struct {
	Processed int `json:"processed"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Unknown   int `json:"unknown"`
}

// ApplyChainEvents applies confirmation events to their rows. Unknown
// signatures are counted, not errors; rows no longer in submitted are
// skipped, which makes redelivery and the crank race harmless.
func (s *Service) ApplyChainEvents(ctx context.Context, provider string, events []ChainEvent) (*WebhookOutcome, error) {
	outcome := &WebhookOutcome{}
	for _, event := range events {
		if event.Signature == "" {
			continue
		}
		outcome.Processed++
		row, err := s.store.GetTransferBySignature(ctx, event.Signature)
		if err != nil {
			return nil, err
		}
		if row == nil {
			outcome.Unknown++
			metrics.WebhookEvents.WithLabelValues(provider, "unknown").Inc()
			continue
		}
		if event.Success {
			applied, err := s.store.TransitionSubmitted(ctx, row.ID, types.BlockchainConfirmed, nil)
			if err != nil {
				return nil, err
			}
			if applied {
				outcome.Confirmed++
				metrics.TransferConfirmations.WithLabelValues("confirmed", "webhook").Inc()
				s.log.Info("Transfer confirmed via webhook", "id", row.ID, "signature", event.Signature)
			}
			continue
		}
		reason := event.FailureReason
		if reason == "" {
			reason = "transaction failed on chain"
		}
		applied, err := s.store.TransitionSubmitted(ctx, row.ID, types.BlockchainFailed, &reason)
		if err != nil {
			return nil, err
		}
		if applied {
			outcome.Failed++
			metrics.TransferConfirmations.WithLabelValues("failed", "webhook").Inc()
			s.log.Warn("Transfer failed on chain", "id", row.ID, "signature", event.Signature, "reason", reason)
		}
	}
	return outcome, nil
}

// HealthCheck probes both dependencies and aggregates.
func (s *Service) HealthCheck(ctx context.Context) *types.HealthResponse {
	database := types.Healthy
	if err := s.store.HealthCheck(ctx); err != nil {
		s.log.Warn("Database health probe failed", "err", err)
		database = types.Unhealthy
	}
	// A chain outage only degrades: submissions keep queueing and the
	// workers catch up once the RPC node returns.
	blockchain := types.Healthy
	if err := s.chain.HealthCheck(ctx); err != nil {
		s.log.Warn("Blockchain health probe failed", "err", err)
		blockchain = types.Degraded
	}
	return types.NewHealthResponse(database, blockchain, s.version)
}

// RiskCheck runs the tiered risk lookup without the screening side effects.
func (s *Service) RiskCheck(ctx context.Context, address string) (*types.RiskCheckResult, error) {
	return s.screener.Check(ctx, address)
}
