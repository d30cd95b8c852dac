package relay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/shieldpay/relayer/metrics"
	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

// WorkerConfig tunes the submission worker pool.
type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	// SubmitTimeout bounds one chain submission attempt.
	SubmitTimeout time.Duration
}

const (
	submittedWriteAttempts = 3
	submittedWriteBackoff  = 250 * time.Millisecond
)

// DefaultWorkerConfig holds the pool settings used unless overridden.
var DefaultWorkerConfig = WorkerConfig{
	Workers:       4,
	PollInterval:  time.Second,
	BatchSize:     10,
	SubmitTimeout: 45 * time.Second,
}

// WorkerPool drains the pending_submission queue. Each worker claims a batch
// atomically, so no two workers ever process the same row; claims not yet
// processed at shutdown are released back to the queue.
type WorkerPool struct {
	service *Service
	cfg     WorkerConfig
	log     log.Logger

	quit  chan struct{}
	group *errgroup.Group
}

func NewWorkerPool(service *Service, cfg WorkerConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerConfig.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerConfig.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig.BatchSize
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultWorkerConfig.SubmitTimeout
	}
	return &WorkerPool{
		service: service,
		cfg:     cfg,
		log:     log.New("component", "worker"),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	p.group = &errgroup.Group{}
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.group.Go(func() error {
			p.run(id)
			return nil
		})
	}
	p.log.Info("Submission workers started", "workers", p.cfg.Workers, "pollInterval", p.cfg.PollInterval)
}

// Stop signals the workers and waits for in-flight submissions to finish.
func (p *WorkerPool) Stop() {
	close(p.quit)
	if p.group != nil {
		p.group.Wait()
	}
	p.log.Info("Submission workers stopped")
}

func (p *WorkerPool) run(id int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
		}
		p.cycle(id)
	}
}

func (p *WorkerPool) cycle(id int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollInterval*2+p.cfg.SubmitTimeout)
	defer cancel()

	claimed, err := p.service.store.ClaimPendingSubmissions(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Warn("Claim query failed", "worker", id, "err", err)
		return
	}
	metrics.WorkerClaims.Observe(float64(len(claimed)))
	if len(claimed) == 0 {
		return
	}
	p.log.Debug("Claimed pending submissions", "worker", id, "count", len(claimed))

	for i, row := range claimed {
		select {
		case <-p.quit:
			// Shutting down: put the rest of the batch back.
			p.release(claimed[i:])
			return
		default:
		}
		p.process(row)
	}
}

// process makes one submission attempt for a claimed row and records the
// outcome: submitted, re-queued with backoff, or terminally failed.
func (p *WorkerPool) process(row *types.TransferRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SubmitTimeout)
	defer cancel()

	signature, err := p.service.chain.Submit(ctx, row)
	if err == nil {
		metrics.ChainSubmissions.WithLabelValues("submitted").Inc()
		if err := p.markSubmitted(row.ID, signature); err != nil {
			p.log.Error("Failed to record submission", "id", row.ID, "signature", signature, "err", err)
			return
		}
		p.log.Info("Transfer submitted", "id", row.ID, "signature", signature, "attempt", row.BlockchainRetryCount)
		return
	}

	if types.IsKind(err, types.KindInsufficientFunds) {
		metrics.ChainSubmissions.WithLabelValues("failed").Inc()
		p.log.Error("Submission failed, funds insufficient", "id", row.ID, "err", err)
		if markErr := p.service.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			p.log.Error("Failed to record terminal failure", "id", row.ID, "err", markErr)
		}
		return
	}

	count, incErr := p.service.store.IncrementRetryCount(ctx, row.ID)
	if incErr != nil {
		p.log.Error("Failed to bump retry count", "id", row.ID, "err", incErr)
		return
	}
	if count >= store.MaxRetries {
		metrics.ChainSubmissions.WithLabelValues("exhausted").Inc()
		p.log.Error("Submission retries exhausted", "id", row.ID, "retries", count, "err", err)
		if markErr := p.service.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			p.log.Error("Failed to record terminal failure", "id", row.ID, "err", markErr)
		}
		return
	}

	delay := Backoff(count)
	metrics.ChainSubmissions.WithLabelValues("retry").Inc()
	p.log.Warn("Submission failed, backing off", "id", row.ID, "retries", count, "backoff", delay, "err", err)
	if schedErr := p.service.store.ScheduleRetry(ctx, row.ID, err.Error(), time.Now().UTC().Add(delay)); schedErr != nil {
		p.log.Error("Failed to schedule retry", "id", row.ID, "err", schedErr)
	}
}

// markSubmitted records a submission with a few write attempts of its own:
// the transfer is live on chain at this point, and losing the write would
// leave the row stuck in processing with nothing tracking the signature.
func (p *WorkerPool) markSubmitted(id, signature string) error {
	var err error
	for attempt := 0; attempt < submittedWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(submittedWriteBackoff)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.service.store.MarkSubmitted(ctx, id, signature)
		cancel()
		if err == nil {
			return nil
		}
		p.log.Warn("Submission write failed, retrying", "id", id, "attempt", attempt+1, "err", err)
	}
	return err
}

func (p *WorkerPool) release(rows []*types.TransferRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, row := range rows {
		if err := p.service.store.ReleaseClaim(ctx, row.ID); err != nil {
			p.log.Error("Failed to release claim on shutdown", "id", row.ID, "err", err)
		}
	}
}
