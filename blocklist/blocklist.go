// Package blocklist maintains the operator-curated deny-list. The hot set
// lives in process memory for lock-cheap reads on every submission; mutations
// are write-through, database first, so a failed write never leaves the two
// views disagreeing.
package blocklist

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/shieldpay/relayer/store"
	"github.com/shieldpay/relayer/types"
)

// Manager is the deny-list authority. Reads take the shared lock; only the
// admin endpoints write.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]string // address -> reason
	store   store.Store
	log     log.Logger
}

// New creates a manager over the given store. Call Load before serving.
func New(s store.Store) *Manager {
	return &Manager{
		entries: make(map[string]string),
		store:   s,
		log:     log.New("component", "blocklist"),
	}
}

// Load replaces the in-memory set with the database contents. Called once at
// startup before the HTTP server accepts traffic.
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.store.ListBlocklist(ctx)
	if err != nil {
		return err
	}
	entries := make(map[string]string, len(rows))
	for _, row := range rows {
		entries[row.Address] = row.Reason
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	m.log.Info("Loaded deny-list", "entries", len(entries))
	return nil
}

// Add blocks an address. The database write happens first; the memory set is
// only touched after it succeeds.
func (m *Manager) Add(ctx context.Context, address, reason string) error {
	if address == "" {
		return types.NewError(types.KindValidation, "address is required")
	}
	if reason == "" {
		return types.NewError(types.KindValidation, "reason is required")
	}
	if err := m.store.UpsertBlocklistEntry(ctx, address, reason); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[address] = reason
	m.mu.Unlock()
	m.log.Warn("Address added to deny-list", "address", address, "reason", reason)
	return nil
}

// Remove unblocks an address. Returns a NotFound error when neither the
// database nor the memory set had it.
func (m *Manager) Remove(ctx context.Context, address string) error {
	if address == "" {
		return types.NewError(types.KindValidation, "address is required")
	}
	deleted, err := m.store.DeleteBlocklistEntry(ctx, address)
	if err != nil {
		return err
	}
	m.mu.Lock()
	_, hadInMemory := m.entries[address]
	delete(m.entries, address)
	m.mu.Unlock()
	if !deleted && !hadInMemory {
		return types.NewError(types.KindNotFound, "address %s is not on the deny-list", address)
	}
	m.log.Warn("Address removed from deny-list", "address", address)
	return nil
}

// Lookup returns the block reason for an address, if any.
func (m *Manager) Lookup(address string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reason, ok := m.entries[address]
	return reason, ok
}

// LookupAny returns the first blocked address among the given ones.
func (m *Manager) LookupAny(addresses ...string) (string, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, address := range addresses {
		if reason, ok := m.entries[address]; ok {
			return address, reason, true
		}
	}
	return "", "", false
}

// Snapshot returns the in-memory entries sorted by address.
func (m *Manager) Snapshot() []types.BlocklistEntry {
	m.mu.RLock()
	entries := make([]types.BlocklistEntry, 0, len(m.entries))
	for address, reason := range m.entries {
		entries = append(entries, types.BlocklistEntry{Address: address, Reason: reason})
	}
	m.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})
	return entries
}

// Len returns the number of blocked addresses.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
