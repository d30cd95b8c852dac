package chain

import (
	"context"
	"encoding/base64"

	"github.com/blocto/solana-go-sdk/common"
	sdktypes "github.com/blocto/solana-go-sdk/types"

	"github.com/shieldpay/relayer/types"
)

// Confidential transfers only exist on Token-2022. The proofs arrive from
// the client as opaque base64 blobs and are forwarded to the program
// unchanged; the chain verifies them, not the relayer.

const (
	confidentialTransferExtension = 27
	confidentialTransferIx        = 7
)

func (c *SolanaClient) transferConfidential(ctx context.Context, req *types.TransferRequest) (string, error) {
	if !c.SupportsConfidential() {
		return "", types.NewError(types.KindNotSupported, "confidential transfers are not supported on this endpoint")
	}
	to, err := parseAddress(req.ToAddress)
	if err != nil {
		return "", err
	}
	mint, err := parseAddress(*req.TokenMint)
	if err != nil {
		return "", err
	}

	mintInfo, err := c.mintInfo(ctx, mint)
	if err != nil {
		return "", err
	}
	if mintInfo.program != token2022ProgramID {
		return "", types.NewError(types.KindValidation,
			"mint %s is not a Token-2022 mint; confidential transfers require the confidential extension", mint.ToBase58())
	}

	sourceATA, err := deriveAssociatedTokenAddress(c.signer.PublicKey, mint, mintInfo.program)
	if err != nil {
		return "", err
	}
	destATA, err := deriveAssociatedTokenAddress(to, mint, mintInfo.program)
	if err != nil {
		return "", err
	}

	ix, err := confidentialTransferInstruction(sourceATA, mint, destATA, c.signer.PublicKey, req.Details)
	if err != nil {
		return "", err
	}
	return c.sendInstructions(ctx, []sdktypes.Instruction{ix})
}

// confidentialTransferInstruction assembles the extension instruction:
// extension and sub-instruction discriminators, the new decryptable
// available balance, then the three proofs in order.
func confidentialTransferInstruction(source, mint, dest, owner common.PublicKey, details types.TransferDetails) (sdktypes.Instruction, error) {
	balance, err := decodeProofField("new_decryptable_available_balance", details.NewDecryptableAvailableBalance)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	equality, err := decodeProofField("equality_proof", details.EqualityProof)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	validity, err := decodeProofField("ciphertext_validity_proof", details.CiphertextValidityProof)
	if err != nil {
		return sdktypes.Instruction{}, err
	}
	rangeProof, err := decodeProofField("range_proof", details.RangeProof)
	if err != nil {
		return sdktypes.Instruction{}, err
	}

	data := make([]byte, 0, 2+len(balance)+len(equality)+len(validity)+len(rangeProof))
	data = append(data, confidentialTransferExtension, confidentialTransferIx)
	data = append(data, balance...)
	data = append(data, equality...)
	data = append(data, validity...)
	data = append(data, rangeProof...)

	return sdktypes.Instruction{
		ProgramID: token2022ProgramID,
		Accounts: []sdktypes.AccountMeta{
			{PubKey: source, IsSigner: false, IsWritable: true},
			{PubKey: mint, IsSigner: false, IsWritable: false},
			{PubKey: dest, IsSigner: false, IsWritable: true},
			{PubKey: owner, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}, nil
}

func decodeProofField(name, encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, types.NewError(types.KindValidation, "confidential transfer field %s is empty", name)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.NewError(types.KindValidation, "confidential transfer field %s is not valid base64", name)
	}
	return raw, nil
}
