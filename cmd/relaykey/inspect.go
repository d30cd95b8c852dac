package main

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/internal/flags"
	"github.com/urfave/cli/v2"
)

type outputInspect struct {
	Address string `json:"address"`
	Seed    string `json:"seed,omitempty"`
}

var privateFlag = &cli.BoolFlag{
	Name:  "private",
	Usage: "include the seed in the output",
}

var commandInspect = &cli.Command{
	Name:      "inspect",
	Usage:     "inspect a Base58 private key",
	ArgsUsage: "<base58-key>",
	Description: `
Print the address derived from a Base58 private key. Both the 32-byte seed
and the 64-byte keypair encoding are accepted.
`,
	Flags: []cli.Flag{
		jsonFlag,
		privateFlag,
	},
	Action: func(ctx *cli.Context) error {
		encoded := ctx.Args().First()
		if encoded == "" {
			flags.Fatalf("No key given; usage: relaykey inspect <base58-key>")
		}
		signer, err := chain.SignerFromBase58(encoded)
		if err != nil {
			flags.Fatalf("Invalid key: %v", err)
		}
		out := outputInspect{Address: signer.PublicKey.ToBase58()}
		if ctx.Bool(privateFlag.Name) {
			out.Seed = base58.Encode(signer.PrivateKey.Seed())
		}
		if ctx.Bool(jsonFlag.Name) {
			mustPrintJSON(out)
		} else {
			fmt.Println("Address:", out.Address)
			if out.Seed != "" {
				fmt.Println("Seed:   ", out.Seed)
			}
		}
		return nil
	},
}
