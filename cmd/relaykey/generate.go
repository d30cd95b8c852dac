package main

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shieldpay/relayer/internal/flags"
	"github.com/urfave/cli/v2"
)

type outputGenerate struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Seed       string `json:"seed"`
}

var commandGenerate = &cli.Command{
	Name:  "generate",
	Usage: "generate a new Ed25519 keypair",
	Description: `
Generate a new Ed25519 keypair for the relayer's custodial signer.

The address is the Base58 public key. Either the 64-byte private key or the
32-byte seed can be supplied to the relayer via ISSUER_PRIVATE_KEY.
`,
	Flags: []cli.Flag{
		jsonFlag,
	},
	Action: func(ctx *cli.Context) error {
		pub, priv, err := ed25519.GenerateKey(crand.Reader)
		if err != nil {
			flags.Fatalf("Failed to generate keypair: %v", err)
		}
		out := outputGenerate{
			Address:    base58.Encode(pub),
			PrivateKey: base58.Encode(priv),
			Seed:       base58.Encode(priv.Seed()),
		}
		if ctx.Bool(jsonFlag.Name) {
			mustPrintJSON(out)
		} else {
			fmt.Println("Address:    ", out.Address)
			fmt.Println("Private key:", out.PrivateKey)
			fmt.Println("Seed:       ", out.Seed)
		}
		return nil
	},
}
