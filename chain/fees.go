package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultPriorityFee is the static fallback in micro-lamports per compute
// unit when no vendor estimate is available.
const DefaultPriorityFee uint64 = 100

// FeeStrategy estimates the priority fee for the next transaction. A
// strategy never fails; it falls back to the static default instead.
type FeeStrategy interface {
	PriorityFee(ctx context.Context) uint64
	Name() string
}

// NewFeeStrategy picks the vendor-specific estimator for the endpoint.
func NewFeeStrategy(provider ProviderType, rpcURL string, timeout time.Duration) FeeStrategy {
	switch provider {
	case ProviderHelius:
		return &heliusFeeStrategy{
			rpcURL: rpcURL,
			client: &http.Client{Timeout: timeout},
			log:    log.New("component", "fees", "strategy", "helius"),
		}
	case ProviderQuickNode:
		return &quicknodeFeeStrategy{
			rpcURL: rpcURL,
			client: &http.Client{Timeout: timeout},
			log:    log.New("component", "fees", "strategy", "quicknode"),
		}
	}
	return staticFeeStrategy{}
}

// staticFeeStrategy is the fallback for endpoints without a fee API.
type staticFeeStrategy struct{}

func (staticFeeStrategy) PriorityFee(ctx context.Context) uint64 { return DefaultPriorityFee }
func (staticFeeStrategy) Name() string                           { return "static" }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

func postRPC(ctx context.Context, client *http.Client, url string, req rpcRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(result)
}

// heliusFeeStrategy queries getPriorityFeeEstimate, preferring the direct
// estimate, then the high level, then medium.
type heliusFeeStrategy struct {
	rpcURL string
	client *http.Client
	log    log.Logger
}

func (s *heliusFeeStrategy) Name() string { return "helius" }

func (s *heliusFeeStrategy) PriorityFee(ctx context.Context) uint64 {
	var response struct {
		Result *struct {
			PriorityFeeEstimate *float64 `json:"priorityFeeEstimate"`
			PriorityFeeLevels   *struct {
				Medium *float64 `json:"medium"`
				High   *float64 `json:"high"`
			} `json:"priorityFeeLevels"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := postRPC(ctx, s.client, s.rpcURL, rpcRequest{
		JSONRPC: "2.0",
		ID:      "fee-estimate",
		Method:  "getPriorityFeeEstimate",
		Params: []interface{}{map[string]interface{}{
			"options": map[string]interface{}{"includeAllPriorityFeeLevels": true},
		}},
	}, &response)
	if err != nil || response.Error != nil || response.Result == nil {
		s.log.Debug("Fee estimate unavailable, using default", "err", err)
		return DefaultPriorityFee
	}

	result := response.Result
	switch {
	case result.PriorityFeeEstimate != nil:
		return uint64(*result.PriorityFeeEstimate)
	case result.PriorityFeeLevels != nil && result.PriorityFeeLevels.High != nil:
		return uint64(*result.PriorityFeeLevels.High)
	case result.PriorityFeeLevels != nil && result.PriorityFeeLevels.Medium != nil:
		return uint64(*result.PriorityFeeLevels.Medium)
	}
	return DefaultPriorityFee
}

// quicknodeFeeStrategy queries qn_estimatePriorityFees and uses the high
// per-compute-unit estimate.
type quicknodeFeeStrategy struct {
	rpcURL string
	client *http.Client
	log    log.Logger
}

func (s *quicknodeFeeStrategy) Name() string { return "quicknode" }

func (s *quicknodeFeeStrategy) PriorityFee(ctx context.Context) uint64 {
	var response struct {
		Result *struct {
			PerComputeUnit *struct {
				High *uint64 `json:"high"`
			} `json:"per_compute_unit"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := postRPC(ctx, s.client, s.rpcURL, rpcRequest{
		JSONRPC: "2.0",
		ID:      "fee-estimate",
		Method:  "qn_estimatePriorityFees",
		Params:  []interface{}{map[string]interface{}{"last_n_blocks": 100}},
	}, &response)
	if err != nil || response.Error != nil || response.Result == nil ||
		response.Result.PerComputeUnit == nil || response.Result.PerComputeUnit.High == nil {
		s.log.Debug("Fee estimate unavailable, using default", "err", err)
		return DefaultPriorityFee
	}
	return *response.Result.PerComputeUnit.High
}
