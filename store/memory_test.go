package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldpay/relayer/types"
)

func newRequest(id string, created time.Time) *types.TransferRequest {
	return &types.TransferRequest{
		ID:               id,
		FromAddress:      "HvwC9QSAzwEXkUkwqNNGhfNHoVqXJYfPvPZfQvJmHWcF",
		ToAddress:        "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
		Details:          types.PublicTransfer(1000),
		ClientSignature:  "sig",
		Nonce:            "nonce-" + id,
		ComplianceStatus: types.CompliancePending,
		BlockchainStatus: types.BlockchainPending,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestCreateDuplicateNonce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first := newRequest("a", time.Now())
	require.NoError(t, s.CreateTransferRequest(ctx, first))

	dup := newRequest("b", time.Now())
	dup.Nonce = first.Nonce
	err := s.CreateTransferRequest(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, types.KindDuplicate, types.KindOf(err))

	got, err := s.GetTransferByNonce(ctx, first.FromAddress, first.Nonce)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
}

func TestGetAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	got, err := s.GetTransferRequest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListKeysetPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		req := newRequest(fmt.Sprintf("id-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateTransferRequest(ctx, req))
	}

	page, err := s.ListTransferRequests(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "id-4", page.Items[0].ID)
	assert.Equal(t, "id-3", page.Items[1].ID)
	require.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	page2, err := s.ListTransferRequests(ctx, 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Equal(t, "id-2", page2.Items[0].ID)

	page3, err := s.ListTransferRequests(ctx, 2, page2.NextCursor)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	assert.False(t, page3.HasMore)
	assert.Nil(t, page3.NextCursor)
}

func TestListInvalidCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	bad := "nope"
	_, err := s.ListTransferRequests(ctx, 10, &bad)
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func queueRequest(t *testing.T, s *MemoryStore, id string) *types.TransferRequest {
	t.Helper()
	ctx := context.Background()
	req := newRequest(id, time.Now().Add(-time.Minute))
	req.ComplianceStatus = types.ComplianceApproved
	req.BlockchainStatus = types.BlockchainPendingSubmission
	require.NoError(t, s.CreateTransferRequest(ctx, req))
	return req
}

func TestClaimPendingSubmissions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	queueRequest(t, s, "ready")

	// Not yet due.
	future := newRequest("future", time.Now())
	future.ComplianceStatus = types.ComplianceApproved
	future.BlockchainStatus = types.BlockchainPendingSubmission
	at := time.Now().Add(time.Hour)
	future.BlockchainNextRetryAt = &at
	require.NoError(t, s.CreateTransferRequest(ctx, future))

	// Not approved.
	pending := newRequest("unscreened", time.Now())
	pending.BlockchainStatus = types.BlockchainPendingSubmission
	require.NoError(t, s.CreateTransferRequest(ctx, pending))

	// Retries exhausted.
	spent := newRequest("spent", time.Now())
	spent.ComplianceStatus = types.ComplianceApproved
	spent.BlockchainStatus = types.BlockchainPendingSubmission
	spent.BlockchainRetryCount = MaxRetries
	require.NoError(t, s.CreateTransferRequest(ctx, spent))

	claimed, err := s.ClaimPendingSubmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "ready", claimed[0].ID)
	assert.Equal(t, types.BlockchainProcessing, claimed[0].BlockchainStatus)

	// A second claim must not return the same row.
	again, err := s.ClaimPendingSubmissions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimExclusivity(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 0; i < 20; i++ {
		queueRequest(t, s, fmt.Sprintf("row-%d", i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimPendingSubmissions(ctx, 3)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, req := range claimed {
					seen[req.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, count := range seen {
		assert.Equal(t, 1, count, "row %s claimed more than once", id)
	}
}

func TestSubmittedTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	req := queueRequest(t, s, "a")
	_, err := s.ClaimPendingSubmissions(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkSubmitted(ctx, req.ID, "sig123"))

	// Webhook wins the race.
	applied, err := s.TransitionSubmitted(ctx, req.ID, types.BlockchainConfirmed, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// The crank loses: no-op, no error.
	reason := "late failure"
	applied, err = s.TransitionSubmitted(ctx, req.ID, types.BlockchainFailed, &reason)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetTransferRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainConfirmed, got.BlockchainStatus)
}

func TestResurrectStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	req := queueRequest(t, s, "a")
	_, err := s.ClaimPendingSubmissions(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkSubmitted(ctx, req.ID, "sig123"))

	retryAt := time.Now().Add(2 * time.Second)
	applied, err := s.ResurrectStale(ctx, req.ID, retryAt)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetTransferRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainPendingSubmission, got.BlockchainStatus)
	assert.Equal(t, 1, got.BlockchainRetryCount)
	require.NotNil(t, got.BlockchainNextRetryAt)

	// Only submitted rows are resurrected.
	applied, err = s.ResurrectStale(ctx, req.ID, retryAt)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRequeueForRetryResetsCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	req := queueRequest(t, s, "a")
	for i := 0; i < MaxRetries; i++ {
		_, err := s.IncrementRetryCount(ctx, req.ID)
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkFailed(ctx, req.ID, "rpc error"))

	require.NoError(t, s.RequeueForRetry(ctx, req.ID))
	got, err := s.GetTransferRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockchainPendingSubmission, got.BlockchainStatus)
	assert.Equal(t, 0, got.BlockchainRetryCount)
	assert.Nil(t, got.BlockchainLastError)
	assert.Nil(t, got.BlockchainNextRetryAt)
}

func TestBlocklistRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.UpsertBlocklistEntry(ctx, "addr1", "ofac"))
	require.NoError(t, s.UpsertBlocklistEntry(ctx, "addr1", "ofac sdn list"))

	entries, err := s.ListBlocklist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ofac sdn list", entries[0].Reason)

	removed, err := s.DeleteBlocklistEntry(ctx, "addr1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteBlocklistEntry(ctx, "addr1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRiskProfileUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	score := 3
	profile := &types.WalletRiskProfile{Address: "wallet", RiskScore: &score}
	require.NoError(t, s.UpsertRiskProfile(ctx, profile))

	got, err := s.GetRiskProfile(ctx, "wallet")
	require.NoError(t, err)
	require.NotNil(t, got)
	created := got.CreatedAt

	score2 := 8
	profile.RiskScore = &score2
	require.NoError(t, s.UpsertRiskProfile(ctx, profile))

	got, err = s.GetRiskProfile(ctx, "wallet")
	require.NoError(t, err)
	assert.Equal(t, 8, *got.RiskScore)
	assert.Equal(t, created, got.CreatedAt)
	assert.False(t, got.Stale(time.Hour, time.Now()))
	assert.True(t, got.Stale(time.Hour, time.Now().Add(2*time.Hour)))
}
