package consensus

import (
	"sync"
	"time"
)

// Event represents a consensus event that can be emitted.
type Event interface {
	// Type returns the event type identifier.
	Type() EventType
}

// EventType identifies the type of consensus event.
type EventType int

const (
	// EventRoundStarted fires when a new consensus round begins.
	EventRoundStarted EventType = iota

	// EventModeChanged fires when the consensus mode changes.
	EventModeChanged

	// EventPhaseChanged fires when the consensus phase changes.
	EventPhaseChanged

	// EventPositionChanged fires when we take a new position.
	EventPositionChanged

	// EventDisputeCreated fires when a new disputed transaction is found.
	EventDisputeCreated

	// EventVoteChanged fires when our vote on a dispute flips.
	EventVoteChanged

	// EventConsensusReached fires when a round produced a result.
	EventConsensusReached

	// EventLedgerAccepted fires after the adaptor built the new ledger.
	EventLedgerAccepted

	// EventRoundAbandoned fires when a fork made the round moot.
	EventRoundAbandoned

	// EventValidationReceived fires when a trusted validation is recorded.
	EventValidationReceived
)

// String returns the string representation.
func (t EventType) String() string {
	names := map[EventType]string{
		EventRoundStarted:       "RoundStarted",
		EventModeChanged:        "ModeChanged",
		EventPhaseChanged:       "PhaseChanged",
		EventPositionChanged:    "PositionChanged",
		EventDisputeCreated:     "DisputeCreated",
		EventVoteChanged:        "VoteChanged",
		EventConsensusReached:   "ConsensusReached",
		EventLedgerAccepted:     "LedgerAccepted",
		EventRoundAbandoned:     "RoundAbandoned",
		EventValidationReceived: "ValidationReceived",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return "Unknown"
}

// RoundStartedEvent is emitted when a new consensus round begins.
type RoundStartedEvent struct {
	Round      RoundID
	Mode       Mode
	Resolution time.Duration
	Timestamp  time.Time
}

func (e *RoundStartedEvent) Type() EventType { return EventRoundStarted }

// ModeChangedEvent is emitted when the consensus mode changes.
type ModeChangedEvent struct {
	OldMode   Mode
	NewMode   Mode
	Timestamp time.Time
}

func (e *ModeChangedEvent) Type() EventType { return EventModeChanged }

// PhaseChangedEvent is emitted when the consensus phase changes.
type PhaseChangedEvent struct {
	Round     RoundID
	OldPhase  Phase
	NewPhase  Phase
	Timestamp time.Time
}

func (e *PhaseChangedEvent) Type() EventType { return EventPhaseChanged }

// PositionChangedEvent is emitted when we change our position.
type PositionChangedEvent struct {
	Round     RoundID
	Position  Position
	Timestamp time.Time
}

func (e *PositionChangedEvent) Type() EventType { return EventPositionChanged }

// DisputeCreatedEvent is emitted when a disputed transaction is found.
type DisputeCreatedEvent struct {
	Round     RoundID
	TxID      TxID
	OurVote   bool
	Timestamp time.Time
}

func (e *DisputeCreatedEvent) Type() EventType { return EventDisputeCreated }

// VoteChangedEvent is emitted when our vote on a dispute flips.
type VoteChangedEvent struct {
	Round     RoundID
	TxID      TxID
	Vote      bool
	Yays      int
	Nays      int
	Threshold int
	Timestamp time.Time
}

func (e *VoteChangedEvent) Type() EventType { return EventVoteChanged }

// ConsensusReachedEvent is emitted when a round produced a result.
type ConsensusReachedEvent struct {
	Round           RoundID
	TxSet           TxSetID
	CloseTime       time.Time
	CloseTimeAgreed bool
	Resolution      time.Duration
	Stats           RoundStats
	Timestamp       time.Time
}

func (e *ConsensusReachedEvent) Type() EventType { return EventConsensusReached }

// LedgerAcceptedEvent is emitted when the adaptor built the new ledger.
type LedgerAcceptedEvent struct {
	LedgerID  LedgerID
	LedgerSeq uint32
	TxCount   int
	CloseTime time.Time
	Timestamp time.Time
}

func (e *LedgerAcceptedEvent) Type() EventType { return EventLedgerAccepted }

// RoundAbandonedEvent is emitted when the round was dropped for a fork.
type RoundAbandonedEvent struct {
	Round     RoundID
	Branch    LedgerID
	Support   int
	Timestamp time.Time
}

func (e *RoundAbandonedEvent) Type() EventType { return EventRoundAbandoned }

// ValidationReceivedEvent is emitted when a validation is recorded.
type ValidationReceivedEvent struct {
	Validation Validation
	Timestamp  time.Time
}

func (e *ValidationReceivedEvent) Type() EventType { return EventValidationReceived }

// EventSubscriber receives consensus events.
type EventSubscriber interface {
	// OnEvent is called when an event occurs.
	OnEvent(event Event)
}

// EventSubscriberFunc adapts a function to EventSubscriber.
type EventSubscriberFunc func(event Event)

func (f EventSubscriberFunc) OnEvent(event Event) { f(event) }

// EventBus manages event subscriptions and delivery. Publish never
// blocks; events are dropped when the buffer is full.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []EventSubscriber
	eventCh     chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     uint64
}

// NewEventBus creates a new event bus.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make([]EventSubscriber, 0),
		eventCh:     make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe adds a subscriber to receive events.
func (eb *EventBus) Subscribe(sub EventSubscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, sub)
}

// Publish sends an event to all subscribers.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventCh <- event:
	default:
		eb.mu.Lock()
		eb.dropped++
		eb.mu.Unlock()
	}
}

// Dropped returns the number of events lost to a full buffer.
func (eb *EventBus) Dropped() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.dropped
}

// Start begins processing events.
func (eb *EventBus) Start() {
	go eb.run()
}

// Stop stops the event bus.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
}

// Events returns the event channel for direct consumption.
func (eb *EventBus) Events() <-chan Event {
	return eb.eventCh
}

func (eb *EventBus) run() {
	for {
		select {
		case <-eb.stopCh:
			return
		case event := <-eb.eventCh:
			eb.mu.RLock()
			subs := eb.subscribers
			eb.mu.RUnlock()
			for _, sub := range subs {
				sub.OnEvent(event)
			}
		}
	}
}
