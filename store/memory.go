package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shieldpay/relayer/types"
)

// MemoryStore is a Store kept entirely in process memory. It backs dev mode
// and the test suites; it implements the same state-conditional semantics as
// the Postgres store, including the atomic claim.
type MemoryStore struct {
	mu        sync.Mutex
	transfers map[string]*types.TransferRequest
	blocklist map[string]*types.BlocklistEntry
	profiles  map[string]*types.WalletRiskProfile
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		transfers: make(map[string]*types.TransferRequest),
		blocklist: make(map[string]*types.BlocklistEntry),
		profiles:  make(map[string]*types.WalletRiskProfile),
	}
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                          { return nil }

func (s *MemoryStore) CreateTransferRequest(ctx context.Context, req *types.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transfers {
		if existing.FromAddress == req.FromAddress && existing.Nonce == req.Nonce {
			return types.NewError(types.KindDuplicate, "transfer request already exists for nonce %s", req.Nonce)
		}
	}
	s.transfers[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetTransferRequest(ctx context.Context, id string) (*types.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.transfers[id]; ok {
		return req.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) GetTransferByNonce(ctx context.Context, fromAddress, nonce string) (*types.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.transfers {
		if req.FromAddress == fromAddress && req.Nonce == nonce {
			return req.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetTransferBySignature(ctx context.Context, signature string) (*types.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.transfers {
		if req.BlockchainSignature != nil && *req.BlockchainSignature == signature {
			return req.Clone(), nil
		}
	}
	return nil, nil
}

// sorted returns all rows newest first by (created_at, id).
func (s *MemoryStore) sorted() []*types.TransferRequest {
	all := make([]*types.TransferRequest, 0, len(s.transfers))
	for _, req := range s.transfers {
		all = append(all, req)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return all
}

func (s *MemoryStore) ListTransferRequests(ctx context.Context, limit int64, cursor *string) (*types.PaginatedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sorted()
	start := 0
	if cursor != nil {
		found := false
		for i, req := range all {
			if req.ID == *cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, types.NewError(types.KindValidation, "invalid cursor %q", *cursor)
		}
	}

	page := types.EmptyPage()
	for i := start; i < len(all); i++ {
		if int64(len(page.Items)) == limit {
			page.HasMore = true
			next := page.Items[len(page.Items)-1].ID
			page.NextCursor = &next
			break
		}
		page.Items = append(page.Items, all[i].Clone())
	}
	return page, nil
}

// mutate applies fn under lock, returning NotFound when the row is absent.
func (s *MemoryStore) mutate(id string, fn func(*types.TransferRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[id]
	if !ok {
		return types.NewError(types.KindNotFound, "transfer request %s not found", id)
	}
	fn(req)
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateComplianceStatus(ctx context.Context, id string, status types.ComplianceStatus) error {
	return s.mutate(id, func(req *types.TransferRequest) {
		req.ComplianceStatus = status
	})
}

func (s *MemoryStore) MarkSubmitted(ctx context.Context, id, signature string) error {
	return s.mutate(id, func(req *types.TransferRequest) {
		sig := signature
		req.BlockchainStatus = types.BlockchainSubmitted
		req.BlockchainSignature = &sig
		req.BlockchainLastError = nil
		req.BlockchainNextRetryAt = nil
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, lastError string) error {
	return s.mutate(id, func(req *types.TransferRequest) {
		msg := lastError
		req.BlockchainStatus = types.BlockchainFailed
		req.BlockchainLastError = &msg
		req.BlockchainNextRetryAt = nil
	})
}

func (s *MemoryStore) ScheduleRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time) error {
	return s.mutate(id, func(req *types.TransferRequest) {
		msg := lastError
		at := nextRetryAt
		req.BlockchainStatus = types.BlockchainPendingSubmission
		req.BlockchainLastError = &msg
		req.BlockchainNextRetryAt = &at
	})
}

func (s *MemoryStore) RequeueForRetry(ctx context.Context, id string) error {
	return s.mutate(id, func(req *types.TransferRequest) {
		req.BlockchainStatus = types.BlockchainPendingSubmission
		req.BlockchainRetryCount = 0
		req.BlockchainLastError = nil
		req.BlockchainNextRetryAt = nil
	})
}

func (s *MemoryStore) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.mutate(id, func(req *types.TransferRequest) {
		req.BlockchainRetryCount++
		count = req.BlockchainRetryCount
	})
	return count, err
}

func (s *MemoryStore) ClaimPendingSubmissions(ctx context.Context, batch int) ([]*types.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	eligible := make([]*types.TransferRequest, 0, batch)
	for _, req := range s.transfers {
		if req.ComplianceStatus != types.ComplianceApproved {
			continue
		}
		if req.BlockchainStatus != types.BlockchainPendingSubmission {
			continue
		}
		if req.BlockchainNextRetryAt != nil && req.BlockchainNextRetryAt.After(now) {
			continue
		}
		if req.BlockchainRetryCount >= MaxRetries {
			continue
		}
		eligible = append(eligible, req)
	}
	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i], eligible[j]
		switch {
		case ri.BlockchainNextRetryAt == nil && rj.BlockchainNextRetryAt != nil:
			return true
		case ri.BlockchainNextRetryAt != nil && rj.BlockchainNextRetryAt == nil:
			return false
		case ri.BlockchainNextRetryAt != nil && rj.BlockchainNextRetryAt != nil &&
			!ri.BlockchainNextRetryAt.Equal(*rj.BlockchainNextRetryAt):
			return ri.BlockchainNextRetryAt.Before(*rj.BlockchainNextRetryAt)
		}
		return ri.CreatedAt.Before(rj.CreatedAt)
	})
	if len(eligible) > batch {
		eligible = eligible[:batch]
	}

	claimed := make([]*types.TransferRequest, 0, len(eligible))
	for _, req := range eligible {
		req.BlockchainStatus = types.BlockchainProcessing
		req.UpdatedAt = now.UTC()
		claimed = append(claimed, req.Clone())
	}
	return claimed, nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[id]
	if !ok || req.BlockchainStatus != types.BlockchainProcessing {
		return types.NewError(types.KindNotFound, "release claim: transfer request not found")
	}
	req.BlockchainStatus = types.BlockchainPendingSubmission
	req.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListStaleSubmitted(ctx context.Context, staleBefore time.Time, batch int) ([]*types.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*types.TransferRequest
	for _, req := range s.transfers {
		if req.BlockchainStatus == types.BlockchainSubmitted && req.UpdatedAt.Before(staleBefore) {
			stale = append(stale, req.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if len(stale) > batch {
		stale = stale[:batch]
	}
	return stale, nil
}

func (s *MemoryStore) TransitionSubmitted(ctx context.Context, id string, to types.BlockchainStatus, lastError *string) (bool, error) {
	if !to.Terminal() {
		return false, types.NewError(types.KindInternal, "transition from submitted must be terminal, got %s", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[id]
	if !ok || req.BlockchainStatus != types.BlockchainSubmitted {
		return false, nil
	}
	req.BlockchainStatus = to
	if lastError != nil {
		msg := *lastError
		req.BlockchainLastError = &msg
	}
	req.BlockchainNextRetryAt = nil
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ResurrectStale(ctx context.Context, id string, nextRetryAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[id]
	if !ok || req.BlockchainStatus != types.BlockchainSubmitted {
		return false, nil
	}
	msg := "blockhash expired before inclusion"
	at := nextRetryAt
	req.BlockchainStatus = types.BlockchainPendingSubmission
	req.BlockchainRetryCount++
	req.BlockchainLastError = &msg
	req.BlockchainNextRetryAt = &at
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) TouchSubmitted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.transfers[id]; ok && req.BlockchainStatus == types.BlockchainSubmitted {
		req.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) UpsertBlocklistEntry(ctx context.Context, address, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if e, ok := s.blocklist[address]; ok {
		e.Reason = reason
		e.UpdatedAt = now
		return nil
	}
	s.blocklist[address] = &types.BlocklistEntry{
		Address: address, Reason: reason, CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) DeleteBlocklistEntry(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocklist[address]; !ok {
		return false, nil
	}
	delete(s.blocklist, address)
	return true, nil
}

func (s *MemoryStore) ListBlocklist(ctx context.Context) ([]*types.BlocklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*types.BlocklistEntry, 0, len(s.blocklist))
	for _, e := range s.blocklist {
		entry := *e
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *MemoryStore) GetRiskProfile(ctx context.Context, address string) (*types.WalletRiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[address]; ok {
		snapshot := *p
		return &snapshot, nil
	}
	return nil, nil
}

func (s *MemoryStore) UpsertRiskProfile(ctx context.Context, profile *types.WalletRiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	stored := *profile
	stored.UpdatedAt = now
	if existing, ok := s.profiles[profile.Address]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.profiles[profile.Address] = &stored
	return nil
}

var _ Store = (*MemoryStore)(nil)
