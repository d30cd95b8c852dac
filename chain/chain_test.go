package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldpay/relayer/types"
)

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		url  string
		want ProviderType
	}{
		{"https://mainnet.helius-rpc.com/?api-key=abc", ProviderHelius},
		{"https://devnet.helius.xyz/v0", ProviderHelius},
		{"https://example.solana-mainnet.quiknode.pro/token/", ProviderQuickNode},
		{"https://endpoints.quicknode.com/abc", ProviderQuickNode},
		{"https://api.mainnet-beta.solana.com", ProviderStandard},
		{"http://localhost:8899", ProviderStandard},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectProvider(tc.url), tc.url)
	}
	assert.True(t, ProviderHelius.SupportsDAS())
	assert.False(t, ProviderQuickNode.SupportsDAS())
	assert.False(t, ProviderStandard.SupportsDAS())
}

func TestSignerFromBase58(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	seed := priv.Seed()
	fromSeed, err := SignerFromBase58(base58.Encode(seed))
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(pub), fromSeed.PublicKey.ToBase58())

	fromPair, err := SignerFromBase58(base58.Encode(priv))
	require.NoError(t, err)
	assert.Equal(t, fromSeed.PublicKey, fromPair.PublicKey)

	_, err = SignerFromBase58(base58.Encode(seed[:16]))
	assert.True(t, types.IsKind(err, types.KindConfiguration))

	_, err = SignerFromBase58("not-base58-0OIl")
	assert.True(t, types.IsKind(err, types.KindConfiguration))
}

func TestHeliusFeeStrategy(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer server.Close()

	strategy := NewFeeStrategy(ProviderHelius, server.URL, time.Second)
	require.Equal(t, "helius", strategy.Name())

	body = `{"jsonrpc":"2.0","id":"1","result":{"priorityFeeEstimate":1234.7}}`
	assert.Equal(t, uint64(1234), strategy.PriorityFee(context.Background()))

	body = `{"jsonrpc":"2.0","id":"1","result":{"priorityFeeLevels":{"medium":50,"high":900}}}`
	assert.Equal(t, uint64(900), strategy.PriorityFee(context.Background()))

	body = `{"jsonrpc":"2.0","id":"1","result":{"priorityFeeLevels":{"medium":50}}}`
	assert.Equal(t, uint64(50), strategy.PriorityFee(context.Background()))

	body = `{"jsonrpc":"2.0","id":"1","error":{"code":-32600,"message":"bad request"}}`
	assert.Equal(t, DefaultPriorityFee, strategy.PriorityFee(context.Background()))
}

func TestQuickNodeFeeStrategy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"per_compute_unit":{"high":777}}}`))
	}))
	defer server.Close()

	strategy := NewFeeStrategy(ProviderQuickNode, server.URL, time.Second)
	require.Equal(t, "quicknode", strategy.Name())
	assert.Equal(t, uint64(777), strategy.PriorityFee(context.Background()))
}

func TestStaticFeeStrategy(t *testing.T) {
	strategy := NewFeeStrategy(ProviderStandard, "http://localhost:8899", time.Second)
	assert.Equal(t, "static", strategy.Name())
	assert.Equal(t, DefaultPriorityFee, strategy.PriorityFee(context.Background()))
}

func TestSubmissionStrategies(t *testing.T) {
	public := NewSubmissionStrategy(false, 0)
	assert.Equal(t, "public", public.Name())
	assert.Nil(t, public.TipInstruction(common.PublicKey{}))

	private := NewSubmissionStrategy(true, 5000)
	assert.Equal(t, "private", private.Name())
	tip := private.TipInstruction(common.PublicKeyFromString("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"))
	require.NotNil(t, tip)
	assert.Equal(t, common.SystemProgramID, tip.ProgramID)

	tipAccounts := make(map[string]bool)
	for _, a := range jitoTipAccounts {
		tipAccounts[a] = true
	}
	assert.True(t, tipAccounts[tip.Accounts[1].PubKey.ToBase58()])
}

func TestSetComputeUnitPrice(t *testing.T) {
	ix := setComputeUnitPrice(12345)
	assert.Equal(t, computeBudgetID, ix.ProgramID)
	require.Len(t, ix.Data, 9)
	assert.Equal(t, byte(3), ix.Data[0])
	assert.Equal(t, uint64(12345), binary.LittleEndian.Uint64(ix.Data[1:]))
}

func TestTransferCheckedInstruction(t *testing.T) {
	source := sdktypes.NewAccount().PublicKey
	mint := sdktypes.NewAccount().PublicKey
	dest := sdktypes.NewAccount().PublicKey
	owner := sdktypes.NewAccount().PublicKey

	ix := transferCheckedInstruction(common.TokenProgramID, source, mint, dest, owner, 1_000_000, 6)
	assert.Equal(t, common.TokenProgramID, ix.ProgramID)
	require.Len(t, ix.Data, 10)
	assert.Equal(t, byte(12), ix.Data[0])
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(ix.Data[1:9]))
	assert.Equal(t, byte(6), ix.Data[9])

	require.Len(t, ix.Accounts, 4)
	assert.True(t, ix.Accounts[0].IsWritable)
	assert.False(t, ix.Accounts[1].IsWritable)
	assert.True(t, ix.Accounts[2].IsWritable)
	assert.True(t, ix.Accounts[3].IsSigner)
}

func TestCreateATAIdempotent(t *testing.T) {
	funder := sdktypes.NewAccount().PublicKey
	owner := sdktypes.NewAccount().PublicKey
	mint := sdktypes.NewAccount().PublicKey

	ata, err := deriveAssociatedTokenAddress(owner, mint, common.TokenProgramID)
	require.NoError(t, err)

	ix := createAssociatedTokenAccountIdempotent(funder, owner, mint, ata, common.TokenProgramID)
	assert.Equal(t, common.SPLAssociatedTokenAccountProgramID, ix.ProgramID)
	assert.Equal(t, []byte{1}, ix.Data)
	require.Len(t, ix.Accounts, 6)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, ata, ix.Accounts[1].PubKey)
}

func TestConfidentialInstruction(t *testing.T) {
	source := sdktypes.NewAccount().PublicKey
	mint := sdktypes.NewAccount().PublicKey
	dest := sdktypes.NewAccount().PublicKey
	owner := sdktypes.NewAccount().PublicKey

	details := types.TransferDetails{
		Type:                           types.TransferConfidential,
		NewDecryptableAvailableBalance: "YmFsYW5jZQ==",
		EqualityProof:                  "ZXE=",
		CiphertextValidityProof:        "Y3Q=",
		RangeProof:                     "cmFuZ2U=",
	}
	ix, err := confidentialTransferInstruction(source, mint, dest, owner, details)
	require.NoError(t, err)
	assert.Equal(t, token2022ProgramID, ix.ProgramID)
	assert.Equal(t, byte(confidentialTransferExtension), ix.Data[0])
	assert.Equal(t, byte(confidentialTransferIx), ix.Data[1])
	assert.Equal(t, "balance", string(ix.Data[2:9]))

	details.RangeProof = "%%%not-base64%%%"
	_, err = confidentialTransferInstruction(source, mint, dest, owner, details)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func statusServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(result))
	}))
}

func TestGetStatus(t *testing.T) {
	signer := sdktypes.NewAccount()

	cases := []struct {
		name   string
		body   string
		state  StatusState
		reason string
	}{
		{
			name:  "not found",
			body:  `{"jsonrpc":"2.0","id":"1","result":{"value":[null]}}`,
			state: StatusNotFound,
		},
		{
			name:  "pending",
			body:  `{"jsonrpc":"2.0","id":"1","result":{"value":[{"confirmationStatus":"processed","err":null}]}}`,
			state: StatusPending,
		},
		{
			name:  "confirmed",
			body:  `{"jsonrpc":"2.0","id":"1","result":{"value":[{"confirmationStatus":"confirmed","err":null}]}}`,
			state: StatusConfirmed,
		},
		{
			name:  "finalized",
			body:  `{"jsonrpc":"2.0","id":"1","result":{"value":[{"confirmationStatus":"finalized","err":null}]}}`,
			state: StatusConfirmed,
		},
		{
			name:   "failed",
			body:   `{"jsonrpc":"2.0","id":"1","result":{"value":[{"confirmationStatus":"confirmed","err":{"InstructionError":[0,"Custom"]}}]}}`,
			state:  StatusFailed,
			reason: `{"InstructionError":[0,"Custom"]}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := statusServer(t, tc.body)
			defer server.Close()

			c := New(Config{RPCURL: server.URL}, signer)
			status, err := c.GetStatus(context.Background(), "sig")
			require.NoError(t, err)
			assert.Equal(t, tc.state, status.State)
			if tc.reason != "" {
				assert.JSONEq(t, tc.reason, status.FailureReason)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	server := statusServer(t, `{"jsonrpc":"2.0","id":"1","result":"ok"}`)
	defer server.Close()

	c := New(Config{RPCURL: server.URL}, sdktypes.NewAccount())
	assert.NoError(t, c.HealthCheck(context.Background()))

	down := statusServer(t, `{"jsonrpc":"2.0","id":"1","error":{"code":-32005,"message":"node is behind"}}`)
	defer down.Close()

	c = New(Config{RPCURL: down.URL}, sdktypes.NewAccount())
	err := c.HealthCheck(context.Background())
	assert.True(t, types.IsKind(err, types.KindChainRPC))
}

func TestClassifyErrors(t *testing.T) {
	c := &SolanaClient{}
	cases := []struct {
		msg  string
		kind types.Kind
	}{
		{"rpc: insufficient funds for fee", types.KindInsufficientFunds},
		{"context deadline exceeded", types.KindChainTimeout},
		{"dial tcp: connection refused", types.KindChainConnection},
		{"Blockhash not found", types.KindTransactionFailed},
		{"something else entirely", types.KindChainRPC},
	}
	for _, tc := range cases {
		err := c.classify(errString(tc.msg), "op")
		assert.True(t, types.IsKind(err, tc.kind), tc.msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
