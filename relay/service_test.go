package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldpay/relayer/blocklist"
	"github.com/shieldpay/relayer/chain"
	"github.com/shieldpay/relayer/compliance"
	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

const testNonce = "019470a4-7e7c-7d3e-8f1a-2b3c4d5e6001"

// fakeChain is a scriptable chain client: errs[i] is the outcome of the
// i-th Submit call, the last entry sticking for later calls. Successful
// submissions return sig-1, sig-2, ...
type fakeChain struct {
	mu        sync.Mutex
	errs      []error
	submits   int
	status    chain.Status
	statusErr error
	healthErr error
}

func (f *fakeChain) Submit(ctx context.Context, req *types.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.submits
	f.submits++
	if len(f.errs) > 0 {
		i := n
		if i >= len(f.errs) {
			i = len(f.errs) - 1
		}
		if f.errs[i] != nil {
			return "", f.errs[i]
		}
	}
	return fmt.Sprintf("sig-%d", n+1), nil
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeChain) GetStatus(ctx context.Context, signature string) (*chain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := f.status
	return &status, nil
}

func (f *fakeChain) WaitForConfirmation(ctx context.Context, signature string, timeout time.Duration) (*chain.Status, error) {
	return f.GetStatus(ctx, signature)
}

func (f *fakeChain) HealthCheck(ctx context.Context) error { return f.healthErr }
func (f *fakeChain) SupportsConfidential() bool            { return true }
func (f *fakeChain) SignerAddress() string                 { return "re1ayer111111111111111111111111111111111111" }

// stubRisk always scores 1 and counts its calls.
type stubRisk struct {
	mu    sync.Mutex
	calls int
}

func (r *stubRisk) CheckAddress(ctx context.Context, address string) (*compliance.RiskAssessment, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return &compliance.RiskAssessment{RiskScore: 1, RiskLevel: "Low", Reasoning: "stub"}, nil
}

func (r *stubRisk) Name() string { return "stub" }

func (r *stubRisk) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type relayFixture struct {
	svc   *Service
	store *store.MemoryStore
	chain *fakeChain
	deny  *blocklist.Manager
	risk  *stubRisk
}

func newFixture(t *testing.T, chainErrs ...error) *relayFixture {
	t.Helper()
	mem := store.NewMemory()
	deny := blocklist.New(mem)
	require.NoError(t, deny.Load(context.Background()))
	risk := &stubRisk{}
	screener := compliance.New(mem, deny, risk, compliance.NoAssetChecker{}, compliance.Config{})
	fc := &fakeChain{errs: chainErrs}
	return &relayFixture{
		svc:   NewService(mem, fc, screener, "test"),
		store: mem,
		chain: fc,
		deny:  deny,
		risk:  risk,
	}
}

func signedSubmit(t *testing.T, mutate func(*types.SubmitTransferRequest)) *types.SubmitTransferRequest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := &types.SubmitTransferRequest{
		FromAddress: base58.Encode(pub),
		ToAddress:   "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
		Details:     types.PublicTransfer(1_000_000_000),
		Nonce:       testNonce,
	}
	if mutate != nil {
		mutate(req)
	}
	req.Signature = base58.Encode(ed25519.Sign(priv, req.SigningMessage()))
	return req
}

// seedQueued inserts an approved row sitting in pending_submission with an
// elapsed retry time, ready for the workers.
func seedQueued(t *testing.T, s store.Store) *types.TransferRequest {
	t.Helper()
	ctx := context.Background()
	row := &types.TransferRequest{
		ID:               uuid.NewString(),
		FromAddress:      "HvwC9QSAzwEXkUkwqNNGhfNHoVqXJYfPvPZfQvJmHWcF",
		ToAddress:        "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
		Details:          types.PublicTransfer(500),
		ClientSignature:  "sig",
		Nonce:            uuid.NewString(),
		ComplianceStatus: types.CompliancePending,
		BlockchainStatus: types.BlockchainPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateTransferRequest(ctx, row))
	require.NoError(t, s.UpdateComplianceStatus(ctx, row.ID, types.ComplianceApproved))
	require.NoError(t, s.ScheduleRetry(ctx, row.ID, "seed", time.Now().UTC().Add(-time.Second)))
	return row
}

func TestBackoffTable(t *testing.T) {
	want := map[int]time.Duration{
		0: 1 * time.Second, 1: 2 * time.Second, 2: 4 * time.Second,
		3: 8 * time.Second, 4: 16 * time.Second, 5: 32 * time.Second,
		6: 64 * time.Second, 7: 128 * time.Second, 8: 256 * time.Second,
		9: 256 * time.Second, 10: 256 * time.Second,
	}
	for n, d := range want {
		assert.Equal(t, d, Backoff(n), "n=%d", n)
		assert.LessOrEqual(t, Backoff(n), 300*time.Second)
	}
}

func TestSubmitHappyPath(t *testing.T) {
	fx := newFixture(t)
	row, err := fx.svc.Submit(context.Background(), signedSubmit(t, nil))
	require.NoError(t, err)

	assert.Equal(t, types.ComplianceApproved, row.ComplianceStatus)
	assert.Equal(t, types.BlockchainSubmitted, row.BlockchainStatus)
	require.NotNil(t, row.BlockchainSignature)
	assert.Equal(t, "sig-1", *row.BlockchainSignature)

	stored, err := fx.store.GetTransferRequest(context.Background(), row.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.BlockchainSubmitted, stored.BlockchainStatus)
}

func TestSubmitDenyListedDestination(t *testing.T) {
	fx := newFixture(t)
	req := signedSubmit(t, nil)
	require.NoError(t, fx.deny.Add(context.Background(), req.ToAddress, "ofac"))

	row, err := fx.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.ComplianceRejected, row.ComplianceStatus)
	assert.Equal(t, types.BlockchainPending, row.BlockchainStatus)
	assert.Nil(t, row.BlockchainSignature)
	assert.Zero(t, fx.chain.submitCount(), "no submission for rejected transfers")
	assert.Zero(t, fx.risk.callCount(), "deny-list hit must skip external providers")
}

func TestSubmitIdempotent(t *testing.T) {
	fx := newFixture(t)
	req := signedSubmit(t, nil)

	first, err := fx.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := fx.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.chain.submitCount(), "only one on-chain attempt")

	page, err := fx.svc.List(context.Background(), 100, nil)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestSubmitValidationFailures(t *testing.T) {
	fx := newFixture(t)

	empty := signedSubmit(t, func(r *types.SubmitTransferRequest) { r.FromAddress = "" })
	_, err := fx.svc.Submit(context.Background(), empty)
	assert.True(t, types.IsKind(err, types.KindValidation))

	tampered := signedSubmit(t, nil)
	tampered.ToAddress = "4oS78GPe66RqBduuAeiMFANf27FpmgXNwokZ3ocN4z1B"
	_, err = fx.svc.Submit(context.Background(), tampered)
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.Zero(t, fx.chain.submitCount())
}

func TestSubmitInlineFailureQueues(t *testing.T) {
	fx := newFixture(t, types.NewError(types.KindChainRPC, "rpc exploded"), nil)

	row, err := fx.svc.Submit(context.Background(), signedSubmit(t, nil))
	require.NoError(t, err)

	assert.Equal(t, types.BlockchainPendingSubmission, row.BlockchainStatus)
	assert.Equal(t, 0, row.BlockchainRetryCount)
	require.NotNil(t, row.BlockchainLastError)
	require.NotNil(t, row.BlockchainNextRetryAt)

	// Make the row immediately eligible and run one worker cycle.
	require.NoError(t, fx.store.ScheduleRetry(context.Background(), row.ID, *row.BlockchainLastError,
		time.Now().UTC().Add(-time.Second)))
	pool := NewWorkerPool(fx.svc, WorkerConfig{Workers: 1})
	pool.cycle(0)

	stored, err := fx.store.GetTransferRequest(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainSubmitted, stored.BlockchainStatus)
	require.NotNil(t, stored.BlockchainSignature)
	assert.Equal(t, "sig-2", *stored.BlockchainSignature)
}

func TestWorkerRetryExhaustion(t *testing.T) {
	fx := newFixture(t, types.NewError(types.KindChainRPC, "rpc always fails"))
	row := seedQueued(t, fx.store)
	pool := NewWorkerPool(fx.svc, WorkerConfig{Workers: 1})

	ctx := context.Background()
	for i := 0; i < store.MaxRetries+2; i++ {
		pool.cycle(0)
		stored, err := fx.store.GetTransferRequest(ctx, row.ID)
		require.NoError(t, err)
		if stored.BlockchainStatus == types.BlockchainFailed {
			break
		}
		require.NoError(t, fx.store.ScheduleRetry(ctx, row.ID, "boom", time.Now().UTC().Add(-time.Second)))
	}

	stored, err := fx.store.GetTransferRequest(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainFailed, stored.BlockchainStatus)
	assert.Equal(t, store.MaxRetries, stored.BlockchainRetryCount)
	assert.Nil(t, stored.BlockchainNextRetryAt)
	require.NotNil(t, stored.BlockchainLastError)
}

func TestWorkerInsufficientFundsIsTerminal(t *testing.T) {
	fx := newFixture(t, types.NewError(types.KindInsufficientFunds, "fee payer is broke"))
	row := seedQueued(t, fx.store)
	pool := NewWorkerPool(fx.svc, WorkerConfig{Workers: 1})
	pool.cycle(0)

	stored, err := fx.store.GetTransferRequest(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainFailed, stored.BlockchainStatus)
	assert.Equal(t, 0, stored.BlockchainRetryCount, "no retry budget spent on terminal errors")
}

func TestApplyChainEvents(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	confirmed := seedQueued(t, fx.store)
	require.NoError(t, fx.store.MarkSubmitted(ctx, confirmed.ID, "SIG-OK"))
	failed := seedQueued(t, fx.store)
	require.NoError(t, fx.store.MarkSubmitted(ctx, failed.ID, "SIG-BAD"))

	outcome, err := fx.svc.ApplyChainEvents(ctx, "helius", []ChainEvent{
		{Signature: "SIG-OK", Success: true},
		{Signature: "SIG-BAD", Success: false, FailureReason: "custom program error"},
		{Signature: "SIG-UNKNOWN", Success: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Processed)
	assert.Equal(t, 1, outcome.Confirmed)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 1, outcome.Unknown)

	okRow, err := fx.store.GetTransferRequest(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainConfirmed, okRow.BlockchainStatus)

	badRow, err := fx.store.GetTransferRequest(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainFailed, badRow.BlockchainStatus)
	require.NotNil(t, badRow.BlockchainLastError)
	assert.Equal(t, "custom program error", *badRow.BlockchainLastError)

	// Redelivery is a no-op.
	again, err := fx.svc.ApplyChainEvents(ctx, "helius", []ChainEvent{{Signature: "SIG-OK", Success: true}})
	require.NoError(t, err)
	assert.Zero(t, again.Confirmed)
	assert.Equal(t, types.BlockchainConfirmed, okRow.BlockchainStatus)
}

func TestRetryEndpointSemantics(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Retry(ctx, uuid.NewString())
	assert.True(t, types.IsKind(err, types.KindNotFound))

	failed := seedQueued(t, fx.store)
	for i := 0; i < 10; i++ {
		_, err := fx.store.IncrementRetryCount(ctx, failed.ID)
		require.NoError(t, err)
	}
	require.NoError(t, fx.store.MarkFailed(ctx, failed.ID, "gave up"))

	row, err := fx.svc.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainPendingSubmission, row.BlockchainStatus)
	assert.Zero(t, row.BlockchainRetryCount, "operator retry resets the budget")

	submitted := seedQueued(t, fx.store)
	require.NoError(t, fx.store.MarkSubmitted(ctx, submitted.ID, "SIG"))
	_, err = fx.svc.Retry(ctx, submitted.ID)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestHealthAggregation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	health := fx.svc.HealthCheck(ctx)
	assert.Equal(t, types.Healthy, health.Status)

	fx.chain.healthErr = types.NewError(types.KindChainConnection, "node down")
	health = fx.svc.HealthCheck(ctx)
	assert.Equal(t, types.Degraded, health.Status)
}

// ctxStore refuses writes once the context is done, the way database/sql
// drivers surface a dropped connection.
type ctxStore struct {
	*store.MemoryStore
}

func (c *ctxStore) CreateTransferRequest(ctx context.Context, req *types.TransferRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.CreateTransferRequest(ctx, req)
}

func (c *ctxStore) UpdateComplianceStatus(ctx context.Context, id string, status types.ComplianceStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.UpdateComplianceStatus(ctx, id, status)
}

func (c *ctxStore) ScheduleRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.ScheduleRetry(ctx, id, lastError, nextRetryAt)
}

func (c *ctxStore) MarkSubmitted(ctx context.Context, id, signature string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.MarkSubmitted(ctx, id, signature)
}

// disconnectChain cancels the request context from inside Submit, standing in
// for a client that drops the connection while the RPC call is in flight.
type disconnectChain struct {
	fakeChain
	cancel context.CancelFunc
}

func (d *disconnectChain) Submit(ctx context.Context, req *types.TransferRequest) (string, error) {
	d.cancel()
	return d.fakeChain.Submit(ctx, req)
}

// A disconnect after the row is inserted must never strand it: the status
// writes run detached from the request context, so the row always lands in a
// state the workers or the crank can pick up.
func TestSubmitSurvivesClientDisconnect(t *testing.T) {
	newDisconnectFixture := func(t *testing.T, cancel context.CancelFunc, chainErrs ...error) (*Service, *ctxStore) {
		t.Helper()
		st := &ctxStore{MemoryStore: store.NewMemory()}
		deny := blocklist.New(st)
		require.NoError(t, deny.Load(context.Background()))
		screener := compliance.New(st, deny, &stubRisk{}, compliance.NoAssetChecker{}, compliance.Config{})
		fc := &disconnectChain{fakeChain: fakeChain{errs: chainErrs}, cancel: cancel}
		return NewService(st, fc, screener, "test"), st
	}

	t.Run("during failed submission", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		svc, st := newDisconnectFixture(t, cancel, types.NewError(types.KindChainConnection, "connection reset"))

		row, err := svc.Submit(ctx, signedSubmit(t, nil))
		require.NoError(t, err)
		assert.Equal(t, types.ComplianceApproved, row.ComplianceStatus)
		assert.Equal(t, types.BlockchainPendingSubmission, row.BlockchainStatus)

		stored, err := st.GetTransferRequest(context.Background(), row.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, types.BlockchainPendingSubmission, stored.BlockchainStatus)
		require.NotNil(t, stored.BlockchainNextRetryAt, "row must stay claimable by the workers")
	})

	t.Run("during successful submission", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		svc, st := newDisconnectFixture(t, cancel)

		row, err := svc.Submit(ctx, signedSubmit(t, nil))
		require.NoError(t, err)
		assert.Equal(t, types.BlockchainSubmitted, row.BlockchainStatus)

		stored, err := st.GetTransferRequest(context.Background(), row.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, types.BlockchainSubmitted, stored.BlockchainStatus)
		require.NotNil(t, stored.BlockchainSignature)
	})

	t.Run("during the screen", func(t *testing.T) {
		st := &ctxStore{MemoryStore: store.NewMemory()}
		deny := blocklist.New(st)
		require.NoError(t, deny.Load(context.Background()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		risk := &cancellingRisk{cancel: cancel}
		screener := compliance.New(st, deny, risk, compliance.NoAssetChecker{}, compliance.Config{})
		svc := NewService(st, &fakeChain{}, screener, "test")

		row, err := svc.Submit(ctx, signedSubmit(t, nil))
		require.NoError(t, err)
		assert.Equal(t, types.ComplianceApproved, row.ComplianceStatus)

		stored, err := st.GetTransferRequest(context.Background(), row.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, types.ComplianceApproved, stored.ComplianceStatus)
	})
}

// cancellingRisk drops the client connection from inside the provider call.
type cancellingRisk struct {
	stubRisk
	cancel context.CancelFunc
}

func (r *cancellingRisk) CheckAddress(ctx context.Context, address string) (*compliance.RiskAssessment, error) {
	r.cancel()
	return r.stubRisk.CheckAddress(ctx, address)
}

// flakyMarkStore fails the first MarkSubmitted writes, standing in for a
// transient database outage right after a successful chain send.
type flakyMarkStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyMarkStore) MarkSubmitted(ctx context.Context, id, signature string) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return types.NewError(types.KindDBConnection, "connection reset by peer")
	}
	return f.MemoryStore.MarkSubmitted(ctx, id, signature)
}

func TestWorkerRetriesSubmissionWrite(t *testing.T) {
	st := &flakyMarkStore{MemoryStore: store.NewMemory(), failures: 2}
	deny := blocklist.New(st)
	require.NoError(t, deny.Load(context.Background()))
	screener := compliance.New(st, deny, &stubRisk{}, compliance.NoAssetChecker{}, compliance.Config{})
	svc := NewService(st, &fakeChain{}, screener, "test")

	row := seedQueued(t, st)
	pool := NewWorkerPool(svc, WorkerConfig{Workers: 1})
	pool.cycle(0)

	stored, err := st.GetTransferRequest(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainSubmitted, stored.BlockchainStatus)
	require.NotNil(t, stored.BlockchainSignature)
	assert.Equal(t, 3, st.calls)
}
