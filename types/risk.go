package types

import "time"

// WalletRiskProfile is the cached per-address aggregate of external
// screening signals. A nil RiskScore means the risk provider was not
// reachable when the profile was built.
type WalletRiskProfile struct {
	Address             string    `json:"address"`
	RiskScore           *int      `json:"risk_score"`
	RiskLevel           *string   `json:"risk_level"`
	Reasoning           *string   `json:"reasoning"`
	HasSanctionedAssets bool      `json:"has_sanctioned_assets"`
	HeliusAssetsChecked bool      `json:"helius_assets_checked"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Stale reports whether the profile is older than the given TTL.
func (p *WalletRiskProfile) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(p.UpdatedAt) > ttl
}

// Risk check result statuses.
const (
	RiskStatusBlocked  = "blocked"
	RiskStatusAnalyzed = "analyzed"
)

// RiskCheckRequest is the pre-flight screening payload.
type RiskCheckRequest struct {
	Address string `json:"address"`
}

// RiskCheckResult is the tagged outcome of a risk check. Blocked results
// carry only the deny-list reason; no external calls were made. Analyzed
// results carry the aggregated profile fields.
type RiskCheckResult struct {
	Status  string `json:"status"`
	Address string `json:"address"`

	// Blocked.
	Reason string `json:"reason,omitempty"`

	// Analyzed.
	RiskScore           int        `json:"risk_score,omitempty"`
	RiskLevel           string     `json:"risk_level,omitempty"`
	Reasoning           string     `json:"reasoning,omitempty"`
	HasSanctionedAssets bool       `json:"has_sanctioned_assets,omitempty"`
	HeliusAssetsChecked bool       `json:"helius_assets_checked,omitempty"`
	FromCache           bool       `json:"from_cache,omitempty"`
	CheckedAt           *time.Time `json:"checked_at,omitempty"`
}

// BlockedResult builds a deny-list hit result.
func BlockedResult(address, reason string) *RiskCheckResult {
	return &RiskCheckResult{Status: RiskStatusBlocked, Address: address, Reason: reason}
}

// AnalyzedResult builds an analyzed result from a profile.
func AnalyzedResult(p *WalletRiskProfile, fromCache bool, checkedAt time.Time) *RiskCheckResult {
	r := &RiskCheckResult{
		Status:              RiskStatusAnalyzed,
		Address:             p.Address,
		HasSanctionedAssets: p.HasSanctionedAssets,
		HeliusAssetsChecked: p.HeliusAssetsChecked,
		FromCache:           fromCache,
		CheckedAt:           &checkedAt,
	}
	if p.RiskScore != nil {
		r.RiskScore = *p.RiskScore
	}
	if p.RiskLevel != nil {
		r.RiskLevel = *p.RiskLevel
	}
	if p.Reasoning != nil {
		r.Reasoning = *p.Reasoning
	}
	return r
}

// BlocklistEntry is one operator-curated deny-list row.
type BlocklistEntry struct {
	Address   string    `json:"address"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
