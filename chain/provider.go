package chain

import "strings"

// ProviderType identifies the RPC vendor behind the configured endpoint.
// Vendor-specific capabilities (fee estimation, DAS, private bundles) hang
// off this.
type ProviderType int

const (
	ProviderStandard ProviderType = iota
	ProviderHelius
	ProviderQuickNode
)

func (p ProviderType) String() string {
	switch p {
	case ProviderHelius:
		return "helius"
	case ProviderQuickNode:
		return "quicknode"
	}
	return "standard"
}

// SupportsDAS reports whether the provider exposes the Digital Asset
// Standard API used for sanctioned-asset checks.
func (p ProviderType) SupportsDAS() bool {
	return p == ProviderHelius
}

// DetectProvider classifies an RPC URL by vendor.
func DetectProvider(rpcURL string) ProviderType {
	u := strings.ToLower(rpcURL)
	switch {
	case strings.Contains(u, "helius-rpc.com") || strings.Contains(u, "helius.xyz"):
		return ProviderHelius
	case strings.Contains(u, "quiknode.pro") || strings.Contains(u, "quicknode.com"):
		return ProviderQuickNode
	}
	return ProviderStandard
}
