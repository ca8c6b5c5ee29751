package shielded

import (
	"context"
	"sync"
)

// InitialNonce is the first nonce a fresh pool accepts.
const InitialNonce uint64 = 1

// State is the entire durable state of a pool. Version increases on every write.
type State struct {
	Version   uint64
	Balance   uint64
	NextNonce uint64
	Pending   *PendingPayout
}

// PendingPayout is a debit already applied to the pool whose base ledger transfer is not confirmed.
type PendingPayout struct {
	Recipient Address
	Amount    uint64
	Nonce     uint64 // nonce consumed by the payout
}

// InitialState returns the state of a freshly deployed pool.
func InitialState() State {
	return State{NextNonce: InitialNonce}
}

func (s State) clone() State {
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	return s
}

// StateStore persists pool state. Save must replace the stored state atomically.
type StateStore interface {
	Load() (State, bool, error)
	Save(State) error
}

// BaseLedger is the account ledger the pool pays out through. Send transfers from the
// pool's custody account; a definitive refusal must wrap ErrInsufficientFunds.
type BaseLedger interface {
	Send(ctx context.Context, to Address, amount uint64) error
	AccountBalance(ctx context.Context, addr Address) (uint64, error)
}

// MemoryStore is a StateStore that keeps state in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}, false, nil
	}
	return m.state.clone(), true, nil
}

func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.clone()
	m.state = &c
	return nil
}
