package state

import (
	"errors"
	"fmt"
	"sync"

	"p2plend/crypto"
	"p2plend/native/escrow"
	"p2plend/storage"
)

// Manager serialises state transitions over a storage backend. Every Update
// commits all of its writes in one batch or none of them.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager binds a manager to db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn against a staging transaction and commits the staged writes
// only when fn returns nil.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	batch := tx.batch()
	if batch.Len() == 0 {
		return nil
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// View runs fn against a read-only transaction.
func (m *Manager) View(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m.db, true))
}

// Allocation credits an initial balance at first start.
type Allocation struct {
	Address crypto.Address
	Asset   string
	Amount  uint64
}

// ApplyGenesis credits allocs exactly once per database. It reports whether
// the allocations were applied by this call.
func (m *Manager) ApplyGenesis(allocs []Allocation) (bool, error) {
	applied := false
	err := m.Update(func(tx *Tx) error {
		if _, ok, err := tx.get(genesisKey); err != nil {
			return err
		} else if ok {
			return nil
		}
		for _, alloc := range allocs {
			asset, err := escrow.NormalizeAsset(alloc.Asset)
			if err != nil {
				return fmt.Errorf("genesis %s: %w", alloc.Address, err)
			}
			account, err := tx.GetAccount(alloc.Address)
			if err != nil {
				return err
			}
			if !account.Credit(asset, alloc.Amount) {
				return fmt.Errorf("genesis %s: %s balance overflow", alloc.Address, asset)
			}
			if err := tx.PutAccount(alloc.Address, account); err != nil {
				return err
			}
		}
		applied = true
		return tx.put(genesisKey, []byte{1})
	})
	return applied, err
}
