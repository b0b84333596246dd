package vault

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/covault/vaultrfq/internal/domain"
)

// Book is the registry of live vault accounts, keyed by asset ID. The book's
// lock protects only the map; each account locks itself, so operations on
// independent vaults never contend.
type Book struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	logger   *slog.Logger
}

// NewBook creates an empty registry.
func NewBook(logger *slog.Logger) *Book {
	return &Book{
		accounts: make(map[string]*Account),
		logger:   logger,
	}
}

// Add registers a vault snapshot and returns its account. Re-adding an
// existing asset replaces the mirrored state.
func (b *Book) Add(v domain.Vault) *Account {
	b.mu.Lock()
	defer b.mu.Unlock()

	acct := NewAccount(v, b.logger)
	b.accounts[v.AssetID] = acct
	return acct
}

// Get returns the account for an asset ID.
func (b *Book) Get(assetID string) (*Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	acct, ok := b.accounts[assetID]
	if !ok {
		return nil, fmt.Errorf("vault: asset %s: %w", assetID, domain.ErrNotFound)
	}
	return acct, nil
}

// List returns snapshots of every registered vault, sorted by asset ID.
func (b *Book) List() []domain.Vault {
	b.mu.RLock()
	accounts := make([]*Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		accounts = append(accounts, a)
	}
	b.mu.RUnlock()

	out := make([]domain.Vault, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
