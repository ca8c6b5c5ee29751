package shielded

// EventKind names a pool notification.
type EventKind string

const (
	EventDeposited     EventKind = "deposited"
	EventWithdrawn     EventKind = "withdrawn"
	EventPayoutFailed  EventKind = "payout_failed"
	EventPayoutPending EventKind = "payout_pending"
	EventResolved      EventKind = "payout_resolved"
)

// Event is emitted after a committed state change.
type Event struct {
	Kind    EventKind
	Address Address // depositor or recipient
	Amount  uint64
	Nonce     uint64 // consumed nonce, zero for deposits
	Balance   uint64 // pool balance after the change
	NextNonce uint64 // pool next nonce after the change
}

// Notifier receives pool events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}
