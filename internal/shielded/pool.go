// pool.go - The pool ledger state machine.
//
// The Pool holds the pool balance and the next expected nonce. It is mutated only through
// Deposit, Withdraw, Claim and ResolvePending. A single writer lock serializes transitions;
// every check runs before the first write, so a rejected operation leaves the state as it was.
//
// Exits follow a debit-then-send sequence. The debit is persisted together with a pending
// payout marker before the base ledger is asked to pay. A definitive refusal from the base
// ledger rolls the debit back; any other failure leaves the marker in place and halts the
// pool until an operator resolves it, since retrying blindly could pay twice. A payout that
// went through but whose settlement could not be saved returns ErrPayoutUnsettled and also
// halts the pool. A caller's context is honoured up to the debit and not after it.

package shielded

import (
	"context"
	"math"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Pool is a shielded value pool bound to one custody account on a base ledger.
type Pool struct {
	mu       sync.Mutex
	state    State
	store    StateStore
	verifier Verifier
	ledger   BaseLedger
	notifier Notifier
	logger   *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithNotifier sets the receiver of pool events.
func WithNotifier(n Notifier) Option {
	return func(p *Pool) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// OpenPool loads the pool state from store, initializing it on first use.
// A nil store keeps state in memory.
func OpenPool(store StateStore, verifier Verifier, ledger BaseLedger, opts ...Option) (*Pool, error) {
	if verifier == nil {
		return nil, errors.New("pool requires a verifier")
	}
	if ledger == nil {
		return nil, errors.New("pool requires a base ledger")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	p := &Pool{
		store:    store,
		verifier: verifier,
		ledger:   ledger,
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	state, found, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load pool state")
	}
	if !found {
		state = InitialState()
		if err := store.Save(state); err != nil {
			return nil, errors.Wrap(err, "save initial pool state")
		}
		p.logger.Info("pool initialized", zap.Uint64("next_nonce", state.NextNonce))
	} else {
		p.logger.Info(
			"pool loaded",
			zap.Uint64("version", state.Version),
			zap.Uint64("balance", state.Balance),
			zap.Uint64("next_nonce", state.NextNonce),
		)
	}
	if state.Pending != nil {
		p.logger.Error(
			"pool halted: unresolved payout",
			zap.Stringer("recipient", state.Pending.Recipient),
			zap.Uint64("amount", state.Pending.Amount),
			zap.Uint64("nonce", state.Pending.Nonce),
		)
	}
	p.state = state
	return p, nil
}

// PoolBalance returns the current pool balance.
func (p *Pool) PoolBalance() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Balance
}

// NextNonce returns the nonce the next exit must carry.
func (p *Pool) NextNonce() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.NextNonce
}

// Snapshot returns a copy of the full pool state.
func (p *Pool) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// CustodyBalance reports the base ledger balance of addr. It is informational only;
// the pool never uses it for its own invariants.
func (p *Pool) CustodyBalance(ctx context.Context, addr Address) (uint64, error) {
	return p.ledger.AccountBalance(ctx, addr)
}

// Deposit accounts for amount moved into pool custody by sender. The signature must
// authorize (hash, amount) under sender.
func (p *Pool) Deposit(ctx context.Context, sender Address, hash fr.Element, amount uint64, sig []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if err := VerifyDepositSignature(sender, hash, amount, sig); err != nil {
		return err
	}

	p.mu.Lock()
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.state.Pending != nil {
		p.mu.Unlock()
		return ErrPayoutPending
	}
	if amount > math.MaxUint64-p.state.Balance {
		p.mu.Unlock()
		return ErrOverflow
	}
	next := p.state.clone()
	next.Version++
	next.Balance += amount
	if err := p.store.Save(next); err != nil {
		p.mu.Unlock()
		return errors.Wrap(err, "persist deposit")
	}
	p.state = next
	p.mu.Unlock()

	p.logger.Info("deposit accepted", zap.Stringer("sender", sender), zap.Uint64("amount", amount), zap.Uint64("balance", next.Balance))
	p.notifier.Notify(Event{Kind: EventDeposited, Address: sender, Amount: amount, Balance: next.Balance, NextNonce: next.NextNonce})
	return nil
}

// Withdraw pays amount to recipient from a verified transaction. Both parameters must
// match the verified record.
func (p *Pool) Withdraw(ctx context.Context, vt *VerifiedTransaction, recipient Address, amount uint64) error {
	if vt == nil {
		return errors.Wrap(ErrProofInvalid, "missing verified transaction")
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if !recipient.Equal(vt.Record.Recipient) || amount != vt.Record.Amount {
		return ErrRecordMismatch
	}
	return p.exit(ctx, vt)
}

// Claim pays the recipient and amount named by the verified record.
func (p *Pool) Claim(ctx context.Context, vt *VerifiedTransaction) error {
	if vt == nil {
		return errors.Wrap(ErrProofInvalid, "missing verified transaction")
	}
	return p.exit(ctx, vt)
}

func (p *Pool) exit(ctx context.Context, vt *VerifiedTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Pending != nil {
		return ErrPayoutPending
	}
	if err := p.verifier.VerifyTransaction(vt); err != nil {
		if errors.Is(err, ErrProofInvalid) {
			return err
		}
		return errors.Wrap(ErrProofInvalid, err.Error())
	}

	rec := vt.Record
	if rec.Amount == 0 {
		return ErrInvalidAmount
	}
	if err := p.checkNonce(rec); err != nil {
		return err
	}
	if rec.Amount > p.state.Balance {
		return ErrInsufficientPoolBalance
	}
	if p.state.NextNonce == math.MaxUint64 {
		return errors.Wrap(ErrOverflow, "nonce space exhausted")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	prev := p.state.clone()
	debited := prev.clone()
	debited.Version++
	debited.Balance -= rec.Amount
	debited.NextNonce++
	debited.Pending = &PendingPayout{Recipient: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce}
	if err := p.store.Save(debited); err != nil {
		return errors.Wrap(err, "persist debit")
	}
	p.state = debited

	// The payout runs to an outcome even if the caller goes away.
	sendErr := p.ledger.Send(context.WithoutCancel(ctx), rec.Recipient, rec.Amount)
	switch {
	case sendErr == nil:
		settled := debited.clone()
		settled.Version++
		settled.Pending = nil
		if err := p.store.Save(settled); err != nil {
			// The payout went through; only the marker is stale.
			p.logger.Error(
				"payout delivered but pending marker not cleared",
				zap.Stringer("recipient", rec.Recipient),
				zap.Uint64("amount", rec.Amount),
				zap.Error(err),
			)
			p.notifier.Notify(Event{Kind: EventPayoutPending, Address: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce, Balance: debited.Balance, NextNonce: debited.NextNonce})
			return errors.Wrap(ErrPayoutUnsettled, err.Error())
		}
		p.state = settled
		p.logger.Info(
			"exit paid",
			zap.Stringer("recipient", rec.Recipient),
			zap.Uint64("amount", rec.Amount),
			zap.Uint64("nonce", prev.NextNonce),
			zap.Uint64("balance", settled.Balance),
		)
		p.notifier.Notify(Event{Kind: EventWithdrawn, Address: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce, Balance: settled.Balance, NextNonce: settled.NextNonce})
		return nil

	case errors.Is(sendErr, ErrInsufficientFunds):
		rolled := prev.clone()
		rolled.Version = debited.Version + 1
		if err := p.store.Save(rolled); err != nil {
			p.logger.Error("payout refused and rollback failed; pool halted", zap.Error(sendErr), zap.NamedError("store_error", err))
			p.notifier.Notify(Event{Kind: EventPayoutPending, Address: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce, Balance: debited.Balance, NextNonce: debited.NextNonce})
			return errors.Wrap(ErrBaseLedgerFailure, sendErr.Error())
		}
		p.state = rolled
		p.logger.Warn("payout refused by base ledger; debit rolled back", zap.Stringer("recipient", rec.Recipient), zap.Error(sendErr))
		p.notifier.Notify(Event{Kind: EventPayoutFailed, Address: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce, Balance: rolled.Balance, NextNonce: rolled.NextNonce})
		return errors.Wrap(ErrBaseLedgerFailure, sendErr.Error())

	default:
		p.logger.Error(
			"payout outcome unknown; pool halted until resolved",
			zap.Stringer("recipient", rec.Recipient),
			zap.Uint64("amount", rec.Amount),
			zap.Uint64("nonce", prev.NextNonce),
			zap.Error(sendErr),
		)
		p.notifier.Notify(Event{Kind: EventPayoutPending, Address: rec.Recipient, Amount: rec.Amount, Nonce: prev.NextNonce, Balance: debited.Balance, NextNonce: debited.NextNonce})
		return errors.Wrap(ErrBaseLedgerFailure, sendErr.Error())
	}
}

// checkNonce enforces that the record carries exactly the current NextNonce.
func (p *Pool) checkNonce(rec TransactionRecord) error {
	n, ok := rec.NonceUint64()
	if !ok {
		return ErrNonceMismatch
	}
	switch {
	case n < p.state.NextNonce:
		return ErrNonceConsumed
	case n > p.state.NextNonce:
		return ErrNonceMismatch
	}
	return nil
}

// ResolvePending settles a payout whose outcome was unknown. delivered reports whether
// the recipient was actually paid on the base ledger; if not, the debit is reversed and
// the nonce becomes available again.
func (p *Pool) ResolvePending(ctx context.Context, delivered bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.state.Pending
	if pending == nil {
		return ErrNoPendingPayout
	}
	next := p.state.clone()
	next.Version++
	next.Pending = nil
	if !delivered {
		next.Balance += pending.Amount
		next.NextNonce = pending.Nonce
	}
	if err := p.store.Save(next); err != nil {
		return errors.Wrap(err, "persist resolution")
	}
	p.state = next
	p.logger.Warn(
		"pending payout resolved",
		zap.Bool("delivered", delivered),
		zap.Stringer("recipient", pending.Recipient),
		zap.Uint64("amount", pending.Amount),
	)
	p.notifier.Notify(Event{Kind: EventResolved, Address: pending.Recipient, Amount: pending.Amount, Nonce: pending.Nonce, Balance: next.Balance, NextNonce: next.NextNonce})
	return nil
}
