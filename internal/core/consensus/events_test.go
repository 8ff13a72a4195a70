package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) OnEvent(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEventBusDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus(8)
	a, b := &collector{}, &collector{}
	bus.Subscribe(a)
	bus.Subscribe(b)
	bus.Start()
	defer bus.Stop()

	bus.Publish(&RoundStartedEvent{Round: RoundID{Seq: 2}})
	bus.Publish(&PhaseChangedEvent{OldPhase: PhaseOpen, NewPhase: PhaseEstablish})

	require.Eventually(t, func() bool { return a.count() == 2 && b.count() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, EventRoundStarted, a.events[0].Type())
	assert.Equal(t, EventPhaseChanged, a.events[1].Type())
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	bus.Publish(&RoundAbandonedEvent{})
	bus.Publish(&RoundAbandonedEvent{})
	bus.Publish(&RoundAbandonedEvent{})
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestEventSubscriberFunc(t *testing.T) {
	var got EventType = -1
	EventSubscriberFunc(func(e Event) { got = e.Type() }).OnEvent(&LedgerAcceptedEvent{})
	assert.Equal(t, EventLedgerAccepted, got)
	assert.Equal(t, "LedgerAccepted", got.String())
	assert.Equal(t, "Unknown", EventType(99).String())
}
