package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"shieldpool/internal/shielded"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	id1, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.Subscribers())

	_, err := uuid.Parse(string(id1))
	require.NoError(t, err)

	bus.Notify(shielded.Event{Kind: shielded.EventDeposited, Amount: 5, Balance: 5})

	for _, ch := range []<-chan Envelope{ch1, ch2} {
		env := <-ch
		assert.Equal(t, shielded.EventDeposited, env.Event.Kind)
		assert.Equal(t, uint64(5), env.Event.Amount)
		assert.NotEmpty(t, env.ID)
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewEventBus(zap.New(core))
	_, ch := bus.Subscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		bus.Publish(shielded.Event{Kind: shielded.EventWithdrawn, Amount: uint64(i)})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, 3, logs.FilterMessage("subscriber channel full").Len())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(nil)
	id, ch := bus.Subscribe()
	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	_, open := <-ch
	assert.False(t, open)
}

func TestAuditLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewEventBus(nil)
	_, ch := bus.Subscribe()

	bus.Publish(shielded.Event{Kind: shielded.EventDeposited, Amount: 10, Balance: 10})
	bus.Publish(shielded.Event{Kind: shielded.EventPayoutPending, Amount: 4, Nonce: 1, Balance: 6})
	bus.Close()
	AuditLog(ch, zap.New(core))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "payout_pending", entries[1].ContextMap()["kind"])
}
