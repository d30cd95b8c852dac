package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mr-tron/base58"

	"github.com/shieldpay/relayer/types"
)

var (
	token2022ProgramID = common.PublicKeyFromString("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	computeBudgetID    = common.PublicKeyFromString("ComputeBudget111111111111111111111111111111")
)

// Config tunes the Solana client.
type Config struct {
	RPCURL string
	// RequestTimeout bounds individual RPC calls.
	RequestTimeout time.Duration
	// ConfirmationTimeout bounds WaitForConfirmation.
	ConfirmationTimeout time.Duration
	// UsePrivateSubmission routes transactions through the provider's
	// private relay with a tip.
	UsePrivateSubmission bool
	// PrivateSubmissionTip is the tip in lamports for private submission.
	PrivateSubmissionTip uint64
}

// DefaultConfig holds the client settings used unless overridden.
var DefaultConfig = Config{
	RPCURL:               "https://api.devnet.solana.com",
	RequestTimeout:       30 * time.Second,
	ConfirmationTimeout:  60 * time.Second,
	PrivateSubmissionTip: 10_000,
}

// SignerFromBase58 parses the custodial key. Both a 32-byte seed and a
// 64-byte keypair encoding are accepted.
func SignerFromBase58(encoded string) (sdktypes.Account, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return sdktypes.Account{}, types.NewError(types.KindConfiguration, "invalid signing key encoding: %v", err)
	}
	switch len(raw) {
	case 32:
		acct, err := sdktypes.AccountFromSeed(raw)
		if err != nil {
			return sdktypes.Account{}, types.WrapError(types.KindConfiguration, err, "derive signing key from seed")
		}
		return acct, nil
	case 64:
		acct, err := sdktypes.AccountFromBytes(raw)
		if err != nil {
			return sdktypes.Account{}, types.WrapError(types.KindConfiguration, err, "parse signing keypair")
		}
		return acct, nil
	}
	return sdktypes.Account{}, types.NewError(types.KindConfiguration,
		"invalid signing key length: expected 32 or 64 bytes, got %d", len(raw))
}

// SolanaClient implements Client over a Solana JSON-RPC endpoint.
type SolanaClient struct {
	cfg       Config
	rpc       *client.Client
	http      *http.Client
	signer    sdktypes.Account
	provider  ProviderType
	fees      FeeStrategy
	submitter SubmissionStrategy
	log       log.Logger
}

// New builds the client, detecting the RPC vendor and selecting fee and
// submission strategies accordingly.
func New(cfg Config, signer sdktypes.Account) *SolanaClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = DefaultConfig.ConfirmationTimeout
	}
	provider := DetectProvider(cfg.RPCURL)
	c := &SolanaClient{
		cfg:       cfg,
		rpc:       client.NewClient(cfg.RPCURL),
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		signer:    signer,
		provider:  provider,
		fees:      NewFeeStrategy(provider, cfg.RPCURL, cfg.RequestTimeout),
		submitter: NewSubmissionStrategy(cfg.UsePrivateSubmission, cfg.PrivateSubmissionTip),
		log:       log.New("component", "chain", "provider", provider.String()),
	}
	c.log.Info("Solana client ready",
		"endpoint", cfg.RPCURL, "fees", c.fees.Name(), "submission", c.submitter.Name(),
		"signer", signer.PublicKey.ToBase58())
	return c
}

// Provider returns the detected RPC vendor.
func (c *SolanaClient) Provider() ProviderType { return c.provider }

func (c *SolanaClient) SignerAddress() string { return c.signer.PublicKey.ToBase58() }

func (c *SolanaClient) SupportsConfidential() bool { return true }

func (c *SolanaClient) HealthCheck(ctx context.Context) error {
	var response struct {
		Result *string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := postRPC(ctx, c.http, c.cfg.RPCURL, rpcRequest{
		JSONRPC: "2.0", ID: "health", Method: "getHealth", Params: []interface{}{},
	}, &response)
	if err != nil {
		return c.classify(err, "health check")
	}
	if response.Error != nil {
		return types.NewError(types.KindChainRPC, "node unhealthy: %s", response.Error.Message)
	}
	return nil
}

// Submit dispatches on the transfer shape and returns the signature the RPC
// node accepted.
func (c *SolanaClient) Submit(ctx context.Context, req *types.TransferRequest) (string, error) {
	switch {
	case req.Details.IsConfidential():
		return c.transferConfidential(ctx, req)
	case req.IsTokenTransfer():
		return c.transferToken(ctx, req)
	default:
		return c.transferNative(ctx, req)
	}
}

func (c *SolanaClient) transferNative(ctx context.Context, req *types.TransferRequest) (string, error) {
	to, err := parseAddress(req.ToAddress)
	if err != nil {
		return "", err
	}
	ix := system.Transfer(system.TransferParam{
		From:   c.signer.PublicKey,
		To:     to,
		Amount: req.Details.Amount,
	})
	return c.sendInstructions(ctx, []sdktypes.Instruction{ix})
}

func (c *SolanaClient) transferToken(ctx context.Context, req *types.TransferRequest) (string, error) {
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

	sourceATA, err := deriveAssociatedTokenAddress(c.signer.PublicKey, mint, mintInfo.program)
	if err != nil {
		return "", err
	}
	destATA, err := deriveAssociatedTokenAddress(to, mint, mintInfo.program)
	if err != nil {
		return "", err
	}

	balance, err := c.tokenAccountBalance(ctx, sourceATA)
	if err != nil {
		return "", err
	}
	if balance < req.Details.Amount {
		return "", types.NewError(types.KindInsufficientFunds,
			"source token balance %d is below transfer amount %d", balance, req.Details.Amount)
	}

	instructions := []sdktypes.Instruction{
		// Idempotent: a no-op when the destination account already exists.
		createAssociatedTokenAccountIdempotent(c.signer.PublicKey, to, mint, destATA, mintInfo.program),
		transferCheckedInstruction(mintInfo.program, sourceATA, mint, destATA,
			c.signer.PublicKey, req.Details.Amount, mintInfo.decimals),
	}
	return c.sendInstructions(ctx, instructions)
}

// sendInstructions wraps the transfer instructions with the priority fee
// first and the optional tip last, signs and submits.
func (c *SolanaClient) sendInstructions(ctx context.Context, instructions []sdktypes.Instruction) (string, error) {
	fee := c.fees.PriorityFee(ctx)
	all := make([]sdktypes.Instruction, 0, len(instructions)+2)
	all = append(all, setComputeUnitPrice(fee))
	all = append(all, instructions...)
	if tip := c.submitter.TipInstruction(c.signer.PublicKey); tip != nil {
		all = append(all, *tip)
	}

	blockhash, err := c.rpc.GetLatestBlockhashAndContext(ctx)
	if err != nil {
		return "", c.classify(err, "get latest blockhash")
	}

	txn, err := sdktypes.NewTransaction(sdktypes.NewTransactionParam{
		Message: sdktypes.NewMessage(sdktypes.NewMessageParam{
			FeePayer:        c.signer.PublicKey,
			RecentBlockhash: blockhash.Value.Blockhash,
			Instructions:    all,
		}),
		Signers: []sdktypes.Account{c.signer},
	})
	if err != nil {
		return "", types.WrapError(types.KindChainRPC, err, "build transaction")
	}

	signature, err := c.submitter.Send(ctx, c.rpc, txn)
	if err != nil {
		return "", c.classify(err, "send transaction")
	}
	c.log.Debug("Transaction sent", "signature", signature, "priorityFee", fee)
	return signature, nil
}

func (c *SolanaClient) GetStatus(ctx context.Context, signature string) (*Status, error) {
	var response struct {
		Result *struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	err := postRPC(ctx, c.http, c.cfg.RPCURL, rpcRequest{
		JSONRPC: "2.0", ID: "status", Method: "getSignatureStatuses",
		Params: []interface{}{
			[]string{signature},
			map[string]bool{"searchTransactionHistory": true},
		},
	}, &response)
	if err != nil {
		return nil, c.classify(err, "get signature status")
	}
	if response.Error != nil {
		return nil, types.NewError(types.KindChainRPC, "getSignatureStatuses: %s", response.Error.Message)
	}
	if response.Result == nil || len(response.Result.Value) == 0 || response.Result.Value[0] == nil {
		return &Status{State: StatusNotFound}, nil
	}

	value := response.Result.Value[0]
	if len(value.Err) > 0 && string(value.Err) != "null" {
		return &Status{State: StatusFailed, FailureReason: string(value.Err)}, nil
	}
	switch value.ConfirmationStatus {
	case "confirmed", "finalized":
		return &Status{State: StatusConfirmed}, nil
	}
	return &Status{State: StatusPending}, nil
}

func (c *SolanaClient) WaitForConfirmation(ctx context.Context, signature string, timeout time.Duration) (*Status, error) {
	if timeout == 0 {
		timeout = c.cfg.ConfirmationTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(ctx, signature)
		if err == nil && (status.State == StatusConfirmed || status.State == StatusFailed) {
			return status, nil
		}
		if time.Now().After(deadline) {
			return nil, types.NewError(types.KindChainTimeout,
				"transaction %s not confirmed within %s", signature, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, types.WrapError(types.KindChainTimeout, ctx.Err(), "confirmation wait cancelled")
		case <-ticker.C:
		}
	}
}

// mintInfo reads a mint account to learn its owner program and decimals.
type mintAccountInfo struct {
	program  common.PublicKey
	decimals uint8
}

// Mint account layout: mint_authority option (36), supply (8), decimals (1).
const mintDecimalsOffset = 44

func (c *SolanaClient) mintInfo(ctx context.Context, mint common.PublicKey) (*mintAccountInfo, error) {
	info, err := c.rpc.GetAccountInfo(ctx, mint.ToBase58())
	if err != nil {
		return nil, c.classify(err, "read mint account")
	}
	if info.Owner == (common.PublicKey{}) {
		return nil, types.NewError(types.KindValidation, "mint account %s does not exist", mint.ToBase58())
	}
	if info.Owner != common.TokenProgramID && info.Owner != token2022ProgramID {
		return nil, types.NewError(types.KindValidation,
			"account %s is not a token mint (owner %s)", mint.ToBase58(), info.Owner.ToBase58())
	}
	if len(info.Data) <= mintDecimalsOffset {
		return nil, types.NewError(types.KindChainRPC, "mint account data truncated: %d bytes", len(info.Data))
	}
	return &mintAccountInfo{
		program:  info.Owner,
		decimals: info.Data[mintDecimalsOffset],
	}, nil
}

// Token account layout: mint (32), owner (32), amount (8).
const tokenAmountOffset = 64

func (c *SolanaClient) tokenAccountBalance(ctx context.Context, account common.PublicKey) (uint64, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account.ToBase58())
	if err != nil {
		return 0, c.classify(err, "read token account")
	}
	if info.Owner == (common.PublicKey{}) {
		return 0, types.NewError(types.KindInsufficientFunds,
			"source token account %s does not exist", account.ToBase58())
	}
	if len(info.Data) < tokenAmountOffset+8 {
		return 0, types.NewError(types.KindChainRPC, "token account data truncated: %d bytes", len(info.Data))
	}
	return binary.LittleEndian.Uint64(info.Data[tokenAmountOffset : tokenAmountOffset+8]), nil
}

// classify maps transport failures onto the error taxonomy so the worker can
// decide between backoff retry and terminal failure.
func (c *SolanaClient) classify(err error, op string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return types.WrapError(types.KindInsufficientFunds, err, "%s", op)
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "timeout"):
		return types.WrapError(types.KindChainTimeout, err, "%s", op)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe"):
		return types.WrapError(types.KindChainConnection, err, "%s", op)
	case strings.Contains(msg, "blockhash not found"):
		return types.WrapError(types.KindTransactionFailed, err, "%s", op)
	}
	return types.WrapError(types.KindChainRPC, err, "%s", op)
}

func parseAddress(address string) (common.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return common.PublicKey{}, types.NewError(types.KindValidation, "invalid address %q", address)
	}
	return common.PublicKeyFromString(address), nil
}

// deriveAssociatedTokenAddress derives the ATA for any token program, not
// just the classic one.
func deriveAssociatedTokenAddress(owner, mint, tokenProgram common.PublicKey) (common.PublicKey, error) {
	ata, _, err := common.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		common.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return common.PublicKey{}, types.WrapError(types.KindChainRPC, err, "derive associated token address")
	}
	return ata, nil
}

// setComputeUnitPrice builds the compute-budget instruction carrying the
// priority fee; it must be the first instruction of the transaction.
func setComputeUnitPrice(microLamports uint64) sdktypes.Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return sdktypes.Instruction{
		ProgramID: computeBudgetID,
		Accounts:  []sdktypes.AccountMeta{},
		Data:      data,
	}
}

// createAssociatedTokenAccountIdempotent builds the CreateIdempotent
// variant, which succeeds whether or not the account already exists.
func createAssociatedTokenAccountIdempotent(funder, owner, mint, ata, tokenProgram common.PublicKey) sdktypes.Instruction {
	return sdktypes.Instruction{
		ProgramID: common.SPLAssociatedTokenAccountProgramID,
		Accounts: []sdktypes.AccountMeta{
			{PubKey: funder, IsSigner: true, IsWritable: true},
			{PubKey: ata, IsSigner: false, IsWritable: true},
			{PubKey: owner, IsSigner: false, IsWritable: false},
			{PubKey: mint, IsSigner: false, IsWritable: false},
			{PubKey: common.SystemProgramID, IsSigner: false, IsWritable: false},
			{PubKey: tokenProgram, IsSigner: false, IsWritable: false},
		},
		Data: []byte{1}, // CreateIdempotent
	}
}

// transferCheckedInstruction builds a TransferChecked against either token
// program; amount and decimals are validated on chain against the mint.
func transferCheckedInstruction(program, source, mint, dest, owner common.PublicKey, amount uint64, decimals uint8) sdktypes.Instruction {
	data := make([]byte, 10)
	data[0] = 12 // TransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return sdktypes.Instruction{
		ProgramID: program,
		Accounts: []sdktypes.AccountMeta{
			{PubKey: source, IsSigner: false, IsWritable: true},
			{PubKey: mint, IsSigner: false, IsWritable: false},
			{PubKey: dest, IsSigner: false, IsWritable: true},
			{PubKey: owner, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}

var _ Client = (*SolanaClient)(nil)
