package main

import (
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/internal/flags"
	"github.com/shieldpay/relayer/types"
	"github.com/urfave/cli/v2"
)

var (
	toFlag = &cli.StringFlag{
		Name:  "to",
		Usage: "Base58 destination address",
	}
	amountFlag = &cli.Uint64Flag{
		Name:  "amount",
		Usage: "transfer amount in base units (lamports for SOL)",
	}
	mintFlag = &cli.StringFlag{
		Name:  "mint",
		Usage: "token mint address; omit for a native transfer",
	}
	nonceFlag = &cli.StringFlag{
		Name:  "nonce",
		Usage: "idempotency nonce (UUIDv7); generated when omitted",
	}
)

var commandSign = &cli.Command{
	Name:  "sign",
	Usage: "sign a transfer intent and print the submission payload",
	Description: `
Build and sign the canonical transfer message with the given key and print
a ready-to-POST /transfer-requests body.
`,
	Flags: []cli.Flag{
		keyFlag,
		toFlag,
		amountFlag,
		mintFlag,
		nonceFlag,
		jsonFlag,
	},
	Action: func(ctx *cli.Context) error {
		signer, err := chain.SignerFromBase58(ctx.String(keyFlag.Name))
		if err != nil {
			flags.Fatalf("Invalid key: %v", err)
		}
		to := ctx.String(toFlag.Name)
		if to == "" {
			flags.Fatalf("Missing --to address")
		}
		amount := ctx.Uint64(amountFlag.Name)
		if amount == 0 {
			flags.Fatalf("Missing or zero --amount")
		}
		nonce := ctx.String(nonceFlag.Name)
		if nonce == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				flags.Fatalf("Failed to generate nonce: %v", err)
			}
			nonce = generated.String()
		}

		req := &types.SubmitTransferRequest{
			FromAddress: signer.PublicKey.ToBase58(),
			ToAddress:   to,
			Details:     types.PublicTransfer(amount),
			Nonce:       nonce,
		}
		if mint := ctx.String(mintFlag.Name); mint != "" {
			req.TokenMint = &mint
		}
		req.Signature = base58.Encode(ed25519.Sign(signer.PrivateKey, req.SigningMessage()))

		if err := req.Validate(); err != nil {
			flags.Fatalf("Invalid payload: %v", err)
		}
		if err := req.VerifySignature(); err != nil {
			flags.Fatalf("Signature self-check failed: %v", err)
		}

		if ctx.Bool(jsonFlag.Name) {
			mustPrintJSON(req)
		} else {
			fmt.Println("Message:  ", string(req.SigningMessage()))
			fmt.Println("Signature:", req.Signature)
			fmt.Println()
			mustPrintJSON(req)
		}
		return nil
	},
}
