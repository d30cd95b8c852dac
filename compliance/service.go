package compliance

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/shieldpay/relayer/blocklist"
	"github.com/shieldpay/relayer/metrics"
	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

// Config tunes the aggregator.
type Config struct {
	// CacheTTL bounds how old a persisted risk profile may be before the
	// external providers are consulted again.
	CacheTTL time.Duration
	// RiskThreshold is the lowest risk score that rejects a transfer.
	RiskThreshold int
	// StrictOnFailure rejects transfers when the risk provider cannot be
	// reached, instead of approving with degraded data.
	StrictOnFailure bool
	// ProviderTimeout bounds each external call of the slow path.
	ProviderTimeout time.Duration
	// HotCacheSize bounds the in-process profile cache in front of the
	// database one.
	HotCacheSize int
}

// DefaultConfig are the aggregator settings used unless overridden.
var DefaultConfig = Config{
	CacheTTL:        3600 * time.Second,
	RiskThreshold:   6,
	StrictOnFailure: false,
	ProviderTimeout: 10 * time.Second,
	HotCacheSize:    4096,
}

// Decision is the compliance screen outcome for one transfer.
type Decision struct {
	Approved bool
	Reason   string
}

// Service is the risk aggregator. Both the synchronous compliance screen at
// submit time and the pre-flight risk-check endpoint run through the same
// tiered lookup; only the screen applies the tier policy on top.
type Service struct {
	store    store.Store
	denylist *blocklist.Manager
	risk     RiskProvider
	assets   AssetChecker
	hot      *lru.Cache
	cfg      Config
	log      log.Logger
}

// New builds the aggregator. denylist may be nil when no deny-list is
// configured; the fast path is skipped then.
func New(s store.Store, denylist *blocklist.Manager, risk RiskProvider, assets AssetChecker, cfg Config) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig.CacheTTL
	}
	if cfg.RiskThreshold == 0 {
		cfg.RiskThreshold = DefaultConfig.RiskThreshold
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = DefaultConfig.ProviderTimeout
	}
	if cfg.HotCacheSize == 0 {
		cfg.HotCacheSize = DefaultConfig.HotCacheSize
	}
	hot, _ := lru.New(cfg.HotCacheSize)
	return &Service{
		store:    s,
		denylist: denylist,
		risk:     risk,
		assets:   assets,
		hot:      hot,
		cfg:      cfg,
		log:      log.New("component", "compliance"),
	}
}

// HasDenylist reports whether a deny-list is configured.
func (s *Service) HasDenylist() bool { return s.denylist != nil }

// Check runs the tiered lookup for one address and shapes it for the
// pre-flight risk-check endpoint.
func (s *Service) Check(ctx context.Context, address string) (*types.RiskCheckResult, error) {
	if address == "" {
		return nil, types.NewError(types.KindValidation, "address is required")
	}
	if s.denylist != nil {
		if reason, blocked := s.denylist.Lookup(address); blocked {
			return types.BlockedResult(address, reason), nil
		}
	}
	profile, fromCache := s.profileFor(ctx, address)
	return types.AnalyzedResult(profile, fromCache, profile.UpdatedAt), nil
}

// profileFor returns a current risk profile for the address, consulting the
// hot cache, the persisted profile, and finally the provider fan-out.
func (s *Service) profileFor(ctx context.Context, address string) (*types.WalletRiskProfile, bool) {
	now := time.Now().UTC()

	if cached, ok := s.hot.Get(address); ok {
		profile := cached.(*types.WalletRiskProfile)
		if !profile.Stale(s.cfg.CacheTTL, now) {
			metrics.RiskCacheHits.WithLabelValues("hot").Inc()
			return profile, true
		}
		s.hot.Remove(address)
	}
	if profile, err := s.store.GetRiskProfile(ctx, address); err != nil {
		s.log.Warn("Risk profile lookup failed", "address", address, "err", err)
	} else if profile != nil && !profile.Stale(s.cfg.CacheTTL, now) {
		metrics.RiskCacheHits.WithLabelValues("store").Inc()
		s.hot.Add(address, profile)
		return profile, true
	}

	metrics.RiskCacheHits.WithLabelValues("miss").Inc()
	profile := s.fanOut(ctx, address, now)
	// Upsert failure degrades caching only, never the response.
	if err := s.store.UpsertRiskProfile(ctx, profile); err != nil {
		s.log.Warn("Risk profile upsert failed", "address", address, "err", err)
	} else {
		s.hot.Add(address, profile)
	}
	return profile, false
}

// fanOut calls the risk and asset providers concurrently, each under its own
// timeout, and aggregates whatever succeeded.
func (s *Service) fanOut(ctx context.Context, address string, now time.Time) *types.WalletRiskProfile {
	profile := &types.WalletRiskProfile{
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var (
		wg         sync.WaitGroup
		assessment *RiskAssessment
		riskErr    error
		sanctioned bool
		assetErr   error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
		assessment, riskErr = s.risk.CheckAddress(callCtx, address)
	}()

	if s.assets.SupportsAssetCheck() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			defer cancel()
			sanctioned, assetErr = s.assets.HasSanctionedAssets(callCtx, address)
		}()
	}
	wg.Wait()

	if riskErr != nil {
		s.log.Warn("Risk provider failed", "provider", s.risk.Name(), "address", address, "err", riskErr)
	} else {
		score := assessment.RiskScore
		level := assessment.RiskLevel
		reasoning := assessment.Reasoning
		profile.RiskScore = &score
		profile.RiskLevel = &level
		profile.Reasoning = &reasoning
	}

	if s.assets.SupportsAssetCheck() {
		if assetErr != nil {
			s.log.Warn("Asset check failed", "address", address, "err", assetErr)
		} else {
			profile.HasSanctionedAssets = sanctioned
			profile.HeliusAssetsChecked = true
		}
	}
	return profile
}

// Screen applies the tier policy to a transfer intent. Both endpoints of the
// transfer are checked against the deny-list; the destination is risk-scored.
func (s *Service) Screen(ctx context.Context, fromAddress, toAddress string) (*Decision, error) {
	if s.denylist != nil {
		if address, reason, blocked := s.denylist.LookupAny(toAddress, fromAddress); blocked {
			s.log.Warn("Transfer rejected by deny-list", "address", address, "reason", reason)
			return &Decision{Reason: "address " + address + " is deny-listed: " + reason}, nil
		}
	}

	profile, _ := s.profileFor(ctx, toAddress)

	if profile.HasSanctionedAssets {
		return &Decision{Reason: "destination wallet holds sanctioned assets"}, nil
	}
	switch {
	case profile.RiskScore != nil:
		if *profile.RiskScore >= s.cfg.RiskThreshold {
			s.log.Warn("Transfer rejected by risk score",
				"address", toAddress, "score", *profile.RiskScore, "threshold", s.cfg.RiskThreshold)
			return &Decision{Reason: "destination risk score exceeds threshold"}, nil
		}
	case s.cfg.StrictOnFailure:
		return &Decision{Reason: "risk provider unavailable and strict screening is enabled"}, nil
	}

	return &Decision{Approved: true}, nil
}
