package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNonce = "019470a4-7e7c-7d3e-8f1a-2b3c4d5e6001"

// signedRequest builds a request whose signature genuinely verifies against
// a fresh keypair, with from_address set to the public key.
func signedRequest(t *testing.T, mutate func(*SubmitTransferRequest)) *SubmitTransferRequest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := &SubmitTransferRequest{
		FromAddress: base58.Encode(pub),
		ToAddress:   "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
		Details:     PublicTransfer(1_000_000_000),
		Nonce:       testNonce,
	}
	if mutate != nil {
		mutate(req)
	}
	req.Signature = base58.Encode(ed25519.Sign(priv, req.SigningMessage()))
	return req
}

func TestSigningMessage(t *testing.T) {
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	tests := []struct {
		name string
		req  SubmitTransferRequest
		want string
	}{
		{
			name: "native public",
			req: SubmitTransferRequest{
				FromAddress: "A", ToAddress: "B",
				Details: PublicTransfer(1000),
			},
			want: "A:B:1000:SOL",
		},
		{
			name: "token public",
			req: SubmitTransferRequest{
				FromAddress: "A", ToAddress: "B",
				Details:   PublicTransfer(5),
				TokenMint: &mint,
			},
			want: "A:B:5:" + mint,
		},
		{
			name: "confidential",
			req: SubmitTransferRequest{
				FromAddress: "A", ToAddress: "B",
				Details: TransferDetails{Type: TransferConfidential},
			},
			want: "A:B:confidential:SOL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.req.SigningMessage()))
		})
	}
}

func TestVerifySignature(t *testing.T) {
	req := signedRequest(t, nil)
	require.NoError(t, req.VerifySignature())

	// Tampering with any signed field invalidates the signature.
	tampered := *req
	tampered.ToAddress = "4oS78GPe66RqBduuAeiMFANf27FpmgXNwokZ3ocN4z1B"
	err := tampered.VerifySignature()
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestVerifySignatureBadEncoding(t *testing.T) {
	req := signedRequest(t, nil)

	short := *req
	short.FromAddress = "abc"
	assert.Error(t, short.VerifySignature(), "pubkey too short")

	badSig := *req
	badSig.Signature = "deadbeef"
	assert.Error(t, badSig.VerifySignature(), "signature too short")
}

func TestValidate(t *testing.T) {
	valid := func() SubmitTransferRequest {
		return SubmitTransferRequest{
			FromAddress: "HvwC9QSAzwEXkUkwqNNGhfNHoVqXJYfPvPZfQvJmHWcF",
			ToAddress:   "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
			Details:     PublicTransfer(1000),
			Signature:   "sig",
			Nonce:       testNonce,
		}
	}

	req := valid()
	require.NoError(t, req.Validate())

	tests := []struct {
		name   string
		mutate func(*SubmitTransferRequest)
	}{
		{"empty from", func(r *SubmitTransferRequest) { r.FromAddress = "" }},
		{"empty to", func(r *SubmitTransferRequest) { r.ToAddress = "" }},
		{"zero amount", func(r *SubmitTransferRequest) { r.Details.Amount = 0 }},
		{"unknown transfer type", func(r *SubmitTransferRequest) { r.Details.Type = "secret" }},
		{"empty signature", func(r *SubmitTransferRequest) { r.Signature = "" }},
		{"garbage nonce", func(r *SubmitTransferRequest) { r.Nonce = "not-a-uuid" }},
		{"wrong uuid version", func(r *SubmitTransferRequest) {
			r.Nonce = "6fa459ea-ee8a-3ca4-894e-db77e160355e" // v3
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestValidateConfidential(t *testing.T) {
	details := TransferDetails{
		Type:                           TransferConfidential,
		NewDecryptableAvailableBalance: "SGVsbG8=",
		EqualityProof:                  "cHJvb2Yx",
		CiphertextValidityProof:        "cHJvb2Yy",
		RangeProof:                     "cHJvb2Yz",
	}
	require.NoError(t, details.Validate())

	missing := details
	missing.RangeProof = ""
	require.Error(t, missing.Validate())
}
