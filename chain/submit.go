package chain

import (
	"context"
	"math/rand"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Jito tip accounts. The tip transfer may go to any of them; one is picked
// at random per transaction to spread writes.
var jitoTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// SubmissionStrategy decides how a fully built transaction reaches the
// cluster and whether it carries a tip.
type SubmissionStrategy interface {
	// Send submits the signed transaction and returns its signature.
	Send(ctx context.Context, rpc *client.Client, txn sdktypes.Transaction) (string, error)

	// TipInstruction returns the tip transfer to append last, or nil when
	// the strategy does not tip.
	TipInstruction(feePayer common.PublicKey) *sdktypes.Instruction

	Name() string
}

// publicSubmission is the default path through the open mempool.
type publicSubmission struct{}

func (publicSubmission) Name() string { return "public" }

func (publicSubmission) TipInstruction(common.PublicKey) *sdktypes.Instruction { return nil }

func (publicSubmission) Send(ctx context.Context, rpc *client.Client, txn sdktypes.Transaction) (string, error) {
	return rpc.SendTransaction(ctx, txn)
}

// privateSubmission routes through the provider's private relay with a tip
// so the transaction skips the public mempool. Preflight is skipped; the
// status poll is the authority on the outcome.
type privateSubmission struct {
	tipLamports uint64
}

func (privateSubmission) Name() string { return "private" }

func (s privateSubmission) TipInstruction(feePayer common.PublicKey) *sdktypes.Instruction {
	tipAccount := jitoTipAccounts[rand.Intn(len(jitoTipAccounts))]
	ix := system.Transfer(system.TransferParam{
		From:   feePayer,
		To:     common.PublicKeyFromString(tipAccount),
		Amount: s.tipLamports,
	})
	return &ix
}

func (privateSubmission) Send(ctx context.Context, rpc *client.Client, txn sdktypes.Transaction) (string, error) {
	return rpc.SendTransactionWithConfig(ctx, txn, client.SendTransactionConfig{
		SkipPreflight: true,
	})
}

// NewSubmissionStrategy selects the submission path.
func NewSubmissionStrategy(usePrivate bool, tipLamports uint64) SubmissionStrategy {
	if usePrivate {
		return privateSubmission{tipLamports: tipLamports}
	}
	return publicSubmission{}
}
