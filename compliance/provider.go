// Package compliance aggregates screening signals: the deny-list fast path,
// the cached per-wallet risk profile, and the fan-out to the external risk
// and sanctioned-asset providers. It owns the tier policy that decides
// whether a transfer may be relayed.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shieldpay/relayer/types"
)

// RiskAssessment is one provider verdict for a wallet.
type RiskAssessment struct {
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`
	Reasoning string `json:"reasoning"`
}

// RiskProvider scores a wallet address. Implementations must be safe for
// concurrent use.
type RiskProvider interface {
	CheckAddress(ctx context.Context, address string) (*RiskAssessment, error)
	Name() string
}

// AssetChecker detects sanctioned asset holdings. SupportsAssetCheck lets
// the aggregator record whether has_sanctioned_assets reflects a real check
// or a skipped one.
type AssetChecker interface {
	SupportsAssetCheck() bool
	HasSanctionedAssets(ctx context.Context, address string) (bool, error)
}

const defaultRangeBaseURL = "https://api.range.org/v1"

// RangeProvider queries the Range risk API. Without an API key it runs in
// mock mode: addresses with the "hack" prefix score critical, everything
// else scores low. Mock mode keeps devnet deployments working end to end.
type RangeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     log.Logger
}

// NewRange builds the provider. Empty apiKey selects mock mode; empty
// baseURL selects the production endpoint.
func NewRange(apiKey, baseURL string, timeout time.Duration) *RangeProvider {
	if baseURL == "" {
		baseURL = defaultRangeBaseURL
	}
	p := &RangeProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.New("component", "range"),
	}
	if apiKey == "" {
		p.log.Warn("No Range API key configured, running in mock mode")
	}
	return p
}

func (p *RangeProvider) Name() string { return "range" }

type rangeRiskResponse struct {
	RiskScore int    `json:"riskScore"`
	RiskLevel string `json:"riskLevel"`
	Reasoning string `json:"reasoning"`
}

func (p *RangeProvider) CheckAddress(ctx context.Context, address string) (*RiskAssessment, error) {
	if p.apiKey == "" {
		return p.mockAssessment(address), nil
	}

	endpoint := fmt.Sprintf("%s/risk/address?address=%s&network=solana", p.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.WrapError(types.KindServiceUnavailable, err, "build risk request")
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.KindServiceTimeout, err, "risk request timed out")
		}
		return nil, types.WrapError(types.KindServiceUnavailable, err, "risk request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, types.NewError(types.KindServiceRateLimited, "risk provider rate limited")
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewError(types.KindServiceUnavailable, "risk provider returned status %d", resp.StatusCode)
	}

	var body rangeRiskResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.WrapError(types.KindServiceParse, err, "decode risk response")
	}
	return &RiskAssessment{
		RiskScore: body.RiskScore,
		RiskLevel: body.RiskLevel,
		Reasoning: body.Reasoning,
	}, nil
}

func (p *RangeProvider) mockAssessment(address string) *RiskAssessment {
	if strings.HasPrefix(strings.ToLower(address), "hack") {
		return &RiskAssessment{
			RiskScore: 10,
			RiskLevel: "Critical",
			Reasoning: "mock mode: address matches known-bad prefix",
		}
	}
	return &RiskAssessment{
		RiskScore: 1,
		RiskLevel: "Low",
		Reasoning: "mock mode: no signals",
	}
}

// NoAssetChecker is the checker for providers without an asset API; the
// aggregator records the check as skipped.
type NoAssetChecker struct{}

func (NoAssetChecker) SupportsAssetCheck() bool { return false }

func (NoAssetChecker) HasSanctionedAssets(ctx context.Context, address string) (bool, error) {
	return false, nil
}
