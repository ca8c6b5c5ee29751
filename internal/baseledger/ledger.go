// Package baseledger is an in-memory account ledger standing in for the public chain the
// pool pays out through. Balances are uint256; the pool side only ever sees uint64 amounts.
package baseledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shieldpool/internal/shielded"
)

var ErrZeroAmount = errors.New("zero amount")

// Account is a base ledger account.
type Account struct {
	Address shielded.Address
	Balance *uint256.Int
	Nonce   uint64
}

// Ledger holds account balances keyed by address.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	logger   *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		accounts: make(map[string]*Account),
		logger:   logger,
	}
}

// getOrCreate returns the account of addr, creating an empty one. Callers hold l.mu.
func (l *Ledger) getOrCreate(addr shielded.Address) *Account {
	key := addr.String()
	acc, ok := l.accounts[key]
	if !ok {
		acc = &Account{Address: addr, Balance: uint256.NewInt(0)}
		l.accounts[key] = acc
	}
	return acc
}

// Fund credits addr with amount out of thin air. Used for genesis allocations and tests.
func (l *Ledger) Fund(addr shielded.Address, amount *uint256.Int) error {
	if addr.IsZero() {
		return shielded.ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getOrCreate(addr)
	sum, overflow := new(uint256.Int).AddOverflow(acc.Balance, amount)
	if overflow {
		return shielded.ErrOverflow
	}
	acc.Balance = sum
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to shielded.Address, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return shielded.ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sender := l.getOrCreate(from)
	if sender.Balance.Cmp(amount) < 0 {
		return errors.Wrap(shielded.ErrInsufficientFunds, fmt.Sprintf("balance %s < %s", sender.Balance, amount))
	}
	recipient := l.getOrCreate(to)
	if _, overflow := new(uint256.Int).AddOverflow(recipient.Balance, amount); overflow {
		return shielded.ErrOverflow
	}

	sender.Balance = new(uint256.Int).Sub(sender.Balance, amount)
	recipient.Balance = new(uint256.Int).Add(recipient.Balance, amount)
	sender.Nonce++
	l.logger.Debug("transfer applied",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("amount", amount),
	)
	return nil
}

// Balance returns the balance of addr. Unknown accounts have a zero balance.
func (l *Ledger) Balance(addr shielded.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[addr.String()]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(acc.Balance)
}

// Nonce returns the number of outgoing transfers made by addr.
func (l *Ledger) Nonce(addr shielded.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[addr.String()]; ok {
		return acc.Nonce
	}
	return 0
}

// Custody returns the shielded.BaseLedger adapter paying out of addr.
func (l *Ledger) Custody(addr shielded.Address) *Custody {
	return &Custody{ledger: l, account: addr}
}

// Custody is the pool's view of the base ledger: transfers out of a single custody account.
type Custody struct {
	ledger  *Ledger
	account shielded.Address
}

// Address returns the custody account.
func (c *Custody) Address() shielded.Address {
	return c.account
}

// Send pays amount from the custody account to to.
func (c *Custody) Send(ctx context.Context, to shielded.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ledger.Transfer(c.account, to, uint256.NewInt(amount))
}

// AccountBalance reports the balance of addr, saturating at math.MaxUint64.
func (c *Custody) AccountBalance(ctx context.Context, addr shielded.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bal := c.ledger.Balance(addr)
	if !bal.IsUint64() {
		return ^uint64(0), nil
	}
	return bal.Uint64(), nil
}
