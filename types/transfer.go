package types

import (
	"encoding/json"
	"time"
)

// Transfer detail discriminators.
const (
	TransferPublic       = "public"
	TransferConfidential = "confidential"
)

// TransferDetails is the tagged variant describing what moves on chain.
// Public transfers carry an atomic-unit amount; confidential transfers carry
// the client-generated zero-knowledge proof components, forwarded opaquely.
type TransferDetails struct {
	Type string `json:"type"`

	// Public.
	Amount uint64 `json:"amount,omitempty"`

	// Confidential. All four are Base64 strings produced client-side.
	NewDecryptableAvailableBalance string `json:"new_decryptable_available_balance,omitempty"`
	EqualityProof                  string `json:"equality_proof,omitempty"`
	CiphertextValidityProof        string `json:"ciphertext_validity_proof,omitempty"`
	RangeProof                     string `json:"range_proof,omitempty"`
}

// PublicTransfer builds the public variant.
func PublicTransfer(amount uint64) TransferDetails {
	return TransferDetails{Type: TransferPublic, Amount: amount}
}

// IsConfidential reports whether the details carry proof components.
func (d TransferDetails) IsConfidential() bool {
	return d.Type == TransferConfidential
}

// Validate checks the variant-specific required fields.
func (d TransferDetails) Validate() error {
	switch d.Type {
	case TransferPublic:
		if d.Amount == 0 {
			return NewError(KindValidation, "amount must be greater than 0")
		}
	case TransferConfidential:
		if d.NewDecryptableAvailableBalance == "" {
			return NewError(KindValidation, "new_decryptable_available_balance is required for confidential transfers")
		}
		if d.EqualityProof == "" {
			return NewError(KindValidation, "equality_proof is required for confidential transfers")
		}
		if d.CiphertextValidityProof == "" {
			return NewError(KindValidation, "ciphertext_validity_proof is required for confidential transfers")
		}
		if d.RangeProof == "" {
			return NewError(KindValidation, "range_proof is required for confidential transfers")
		}
	default:
		return NewError(KindValidation, "unknown transfer type %q", d.Type)
	}
	return nil
}

// TransferRequest is the central entity, one row per client intent. It is
// created by the submit handler and then mutated only by the worker pool,
// the webhook ingest and the stale crank.
type TransferRequest struct {
	ID          string `json:"id"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`

	Details TransferDetails `json:"transfer_details"`

	// TokenMint selects an SPL token transfer; nil means native SOL.
	TokenMint *string `json:"token_mint,omitempty"`

	ClientSignature string `json:"client_signature"`
	Nonce           string `json:"nonce"`

	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	BlockchainStatus BlockchainStatus `json:"blockchain_status"`

	BlockchainSignature   *string    `json:"blockchain_signature"`
	BlockchainRetryCount  int        `json:"blockchain_retry_count"`
	BlockchainLastError   *string    `json:"blockchain_last_error"`
	BlockchainNextRetryAt *time.Time `json:"blockchain_next_retry_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTokenTransfer reports whether the request moves an SPL token.
func (r *TransferRequest) IsTokenTransfer() bool {
	return r.TokenMint != nil && *r.TokenMint != ""
}

// Clone returns a deep copy, detaching pointer fields from the original.
func (r *TransferRequest) Clone() *TransferRequest {
	c := *r
	if r.TokenMint != nil {
		v := *r.TokenMint
		c.TokenMint = &v
	}
	if r.BlockchainSignature != nil {
		v := *r.BlockchainSignature
		c.BlockchainSignature = &v
	}
	if r.BlockchainLastError != nil {
		v := *r.BlockchainLastError
		c.BlockchainLastError = &v
	}
	if r.BlockchainNextRetryAt != nil {
		v := *r.BlockchainNextRetryAt
		c.BlockchainNextRetryAt = &v
	}
	return &c
}

// MarshalDetails serializes the transfer details for storage.
func (r *TransferRequest) MarshalDetails() ([]byte, error) {
	b, err := json.Marshal(r.Details)
	if err != nil {
		return nil, WrapError(KindSerialization, err, "encode transfer details")
	}
	return b, nil
}

// UnmarshalDetails restores the transfer details from storage.
func (r *TransferRequest) UnmarshalDetails(b []byte) error {
	if err := json.Unmarshal(b, &r.Details); err != nil {
		return WrapError(KindDeserialization, err, "decode transfer details")
	}
	return nil
}
