package repository

import (
	"context"
	"sort"
	"sync"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
)

var _ sectionsense.AccountStore = &MemoryRepository{}

// MemoryRepository keeps accounts in process, for development and tests.
// Accounts are copied on the way in and out so callers never share snapshots with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]sectionsense.Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]sectionsense.Account)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (sectionsense.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return sectionsense.Account{}, sectionsense.ErrAccountNotFound
	}
	return account.Clone(), nil
}

func (m *MemoryRepository) Put(ctx context.Context, account sectionsense.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.ID] = account.Clone()
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return false, nil
	}
	delete(m.accounts, id)
	return true, nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]sectionsense.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]sectionsense.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account.Clone())
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	return accounts, nil
}
