package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shieldpool/internal/shielded"
)

const subscriberBuffer = 64

type SubscriberID string

// Envelope is a pool event as delivered to subscribers.
type Envelope struct {
	ID    string
	At    time.Time
	Event shielded.Event
}

type Subscriber struct {
	ID      SubscriberID
	Channel chan Envelope
}

// EventBus fans pool events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type EventBus struct {
	subscribers map[SubscriberID]*Subscriber
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[SubscriberID]*Subscriber),
		logger:      logger,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (eb *EventBus) Subscribe() (SubscriberID, <-chan Envelope) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := SubscriberID(newID())
	ch := make(chan Envelope, subscriberBuffer)
	eb.subscribers[id] = &Subscriber{ID: id, Channel: ch}

	eb.logger.Info("subscriber added", zap.String("subscriber_id", string(id)), zap.Int("total", len(eb.subscribers)))
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subscribers[id]
	if !ok {
		eb.logger.Warn("unsubscribe of unknown subscriber", zap.String("subscriber_id", string(id)))
		return false
	}
	delete(eb.subscribers, id)
	close(sub.Channel)
	return true
}

// Publish delivers e to every subscriber.
func (eb *EventBus) Publish(e shielded.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	env := Envelope{ID: newID(), At: time.Now().UTC(), Event: e}
	for id, sub := range eb.subscribers {
		select {
		case sub.Channel <- env:
		default:
			eb.logger.Warn("subscriber channel full", zap.String("subscriber_id", string(id)), zap.String("kind", string(e.Kind)))
		}
	}
}

// Notify implements shielded.Notifier.
func (eb *EventBus) Notify(e shielded.Event) {
	eb.Publish(e)
}

func (eb *EventBus) Subscribers() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close unsubscribes everyone.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for id, sub := range eb.subscribers {
		close(sub.Channel)
		delete(eb.subscribers, id)
	}
}

// AuditLog drains ch into logger until the channel is closed.
func AuditLog(ch <-chan Envelope, logger *zap.Logger) {
	for env := range ch {
		e := env.Event
		fields := []zap.Field{
			zap.String("event_id", env.ID),
			zap.String("kind", string(e.Kind)),
			zap.Stringer("address", e.Address),
			zap.Uint64("amount", e.Amount),
			zap.Uint64("balance", e.Balance),
			zap.Uint64("next_nonce", e.NextNonce),
		}
		if e.Nonce != 0 {
			fields = append(fields, zap.Uint64("nonce", e.Nonce))
		}
		switch e.Kind {
		case shielded.EventPayoutPending, shielded.EventPayoutFailed:
			logger.Warn("pool event", fields...)
		default:
			logger.Info("pool event", fields...)
		}
	}
}

var _ shielded.Notifier = (*EventBus)(nil)
