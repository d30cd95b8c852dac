package types

import (
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// SubmitTransferRequest is the client-facing submission payload.
type SubmitTransferRequest struct {
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Details     TransferDetails `json:"transfer_details"`
	TokenMint   *string         `json:"token_mint,omitempty"`

	// Signature is a Base58 Ed25519 signature by the from_address key over
	// the canonical signing message.
	Signature string `json:"signature"`

	// Nonce is the client idempotency token, unique per from_address.
	Nonce string `json:"nonce"`
}

// Validate checks structural requirements before any I/O happens.
func (r *SubmitTransferRequest) Validate() error {
	if r.FromAddress == "" {
		return NewError(KindValidation, "from_address is required")
	}
	if r.ToAddress == "" {
		return NewError(KindValidation, "to_address is required")
	}
	if err := r.Details.Validate(); err != nil {
		return err
	}
	if r.Signature == "" {
		return NewError(KindValidation, "signature is required")
	}
	u, err := uuid.Parse(r.Nonce)
	if err != nil {
		return NewError(KindValidation, "nonce must be a UUID: %v", err)
	}
	if u.Version() != 7 {
		return NewError(KindValidation, "nonce must be a version 7 UUID, got version %d", u.Version())
	}
	return nil
}

// SigningMessage builds the canonical message the client signs:
// "{from}:{to}:{amount|confidential}:{mint|SOL}".
func (r *SubmitTransferRequest) SigningMessage() []byte {
	amountPart := "confidential"
	if !r.Details.IsConfidential() {
		amountPart = fmt.Sprintf("%d", r.Details.Amount)
	}
	mintPart := "SOL"
	if r.TokenMint != nil && *r.TokenMint != "" {
		mintPart = *r.TokenMint
	}
	return []byte(fmt.Sprintf("%s:%s:%s:%s", r.FromAddress, r.ToAddress, amountPart, mintPart))
}

// VerifySignature checks the client signature against the canonical message,
// treating from_address as the Base58 Ed25519 public key.
func (r *SubmitTransferRequest) VerifySignature() error {
	pubkey, err := base58.Decode(r.FromAddress)
	if err != nil {
		return NewError(KindValidation, "invalid from_address encoding: %v", err)
	}
	if len(pubkey) != ed25519.PublicKeySize {
		return NewError(KindValidation, "invalid from_address length: expected 32 bytes, got %d", len(pubkey))
	}
	sig, err := base58.Decode(r.Signature)
	if err != nil {
		return NewError(KindValidation, "invalid signature encoding: %v", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return NewError(KindValidation, "invalid signature length: expected 64 bytes, got %d", len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), r.SigningMessage(), sig) {
		return NewError(KindValidation, "signature verification failed")
	}
	return nil
}
