// relaykey manages the relayer's custodial Ed25519 key and produces signed
// demo submissions for the transfer API.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shieldpay/relayer/internal/flags"
	"github.com/urfave/cli/v2"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var app *cli.App

func init() {
	app = flags.NewApp(gitCommit, gitDate, "a relayer key manager")
	app.Commands = []*cli.Command{
		commandGenerate,
		commandInspect,
		commandSign,
	}
}

// Commonly used command line flags.
var (
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}
	keyFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "Base58 private key (32-byte seed or 64-byte keypair)",
	}
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mustPrintJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		flags.Fatalf("Failed to marshal JSON output: %v", err)
	}
	fmt.Println(string(out))
}
