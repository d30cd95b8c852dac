package relay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/metrics"
	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

// CrankConfig tunes the stale-transaction crank.
type CrankConfig struct {
	PollInterval time.Duration
	// StaleAfter must exceed the chain's blockhash validity window so a
	// not-found verdict means the transaction can never land.
	StaleAfter time.Duration
	BatchSize  int
}

// DefaultCrankConfig holds the crank settings used unless overridden.
var DefaultCrankConfig = CrankConfig{
	PollInterval: 60 * time.Second,
	StaleAfter:   90 * time.Second,
	BatchSize:    20,
}

// Crank reconciles submitted rows whose webhooks never arrived. It is the
// only writer allowed to move a submitted row back to pending_submission,
// and only when the chain reports the signature as unknown past the stale
// window.
type Crank struct {
	service *Service
	cfg     CrankConfig
	log     log.Logger

	quit chan struct{}
	done chan struct{}
}

func NewCrank(service *Service, cfg CrankConfig) *Crank {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultCrankConfig.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultCrankConfig.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultCrankConfig.BatchSize
	}
	return &Crank{
		service: service,
		cfg:     cfg,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.New("component", "crank"),
	}
}

func (c *Crank) Start() {
	go c.loop()
	c.log.Info("Stale-transaction crank started",
		"pollInterval", c.cfg.PollInterval, "staleAfter", c.cfg.StaleAfter, "batchSize", c.cfg.BatchSize)
}

func (c *Crank) Stop() {
	close(c.quit)
	<-c.done
	c.log.Info("Stale-transaction crank stopped")
}

func (c *Crank) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.Cycle(context.Background())
		}
	}
}

// Cycle runs one reconciliation pass.
func (c *Crank) Cycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
	defer cancel()

	staleBefore := time.Now().UTC().Add(-c.cfg.StaleAfter)
	rows, err := c.service.store.ListStaleSubmitted(ctx, staleBefore, c.cfg.BatchSize)
	if err != nil {
		c.log.Warn("Stale query failed", "err", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	c.log.Debug("Checking stale submissions", "count", len(rows))

	for _, row := range rows {
		select {
		case <-c.quit:
			return
		default:
		}
		c.reconcile(ctx, row)
	}
}

func (c *Crank) reconcile(ctx context.Context, row *types.TransferRequest) {
	if row.BlockchainSignature == nil {
		c.log.Error("Submitted row has no signature", "id", row.ID)
		return
	}
	signature := *row.BlockchainSignature

	status, err := c.service.chain.GetStatus(ctx, signature)
	if err != nil {
		c.log.Warn("Status lookup failed", "id", row.ID, "signature", signature, "err", err)
		return
	}

	switch status.State {
	case chain.StatusConfirmed:
		applied, err := c.service.store.TransitionSubmitted(ctx, row.ID, types.BlockchainConfirmed, nil)
		if err != nil {
			c.log.Error("Failed to confirm transfer", "id", row.ID, "err", err)
			return
		}
		if applied {
			metrics.TransferConfirmations.WithLabelValues("confirmed", "crank").Inc()
			c.log.Info("Transfer confirmed via crank", "id", row.ID, "signature", signature)
		}

	case chain.StatusFailed:
		reason := status.FailureReason
		applied, err := c.service.store.TransitionSubmitted(ctx, row.ID, types.BlockchainFailed, &reason)
		if err != nil {
			c.log.Error("Failed to record on-chain failure", "id", row.ID, "err", err)
			return
		}
		if applied {
			metrics.TransferConfirmations.WithLabelValues("failed", "crank").Inc()
			c.log.Warn("Transfer failed on chain", "id", row.ID, "signature", signature, "reason", reason)
		}

	case chain.StatusNotFound:
		// Past the stale window the blockhash has expired and the
		// transaction can never land; re-queue for a fresh submission
		// unless the retry budget is gone.
		if row.BlockchainRetryCount+1 >= store.MaxRetries {
			reason := "retries exhausted after blockhash expiry"
			if _, err := c.service.store.TransitionSubmitted(ctx, row.ID, types.BlockchainFailed, &reason); err != nil {
				c.log.Error("Failed to fail exhausted transfer", "id", row.ID, "err", err)
			}
			return
		}
		applied, err := c.service.store.ResurrectStale(ctx, row.ID, time.Now().UTC().Add(time.Second))
		if err != nil {
			c.log.Error("Failed to resurrect stale transfer", "id", row.ID, "err", err)
			return
		}
		if applied {
			metrics.CrankResurrections.Inc()
			c.log.Warn("Stale submission re-queued", "id", row.ID,
				"signature", signature, "retries", row.BlockchainRetryCount+1)
		}

	case chain.StatusPending:
		// Still in flight; push updated_at forward so the next cycles
		// skip it until it goes stale again.
		if err := c.service.store.TouchSubmitted(ctx, row.ID); err != nil {
			c.log.Warn("Failed to touch pending submission", "id", row.ID, "err", err)
		}
	}
}
