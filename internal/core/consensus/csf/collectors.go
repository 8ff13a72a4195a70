package csf

import (
	"sync"
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// Event is something a simulated peer did that collectors may observe.
type Event interface {
	isEvent()
}

// StartRoundEvent fires when a peer starts a consensus round on Ledger.
type StartRoundEvent struct {
	Ledger   *Ledger
	Proposer bool
}

// CloseLedgerEvent fires when a peer's engine closes the open ledger.
type CloseLedgerEvent struct {
	Ledger    *Ledger
	Proposers int
}

// AcceptLedgerEvent fires when a peer builds the ledger a round agreed on.
type AcceptLedgerEvent struct {
	Ledger *Ledger
	Prior  *Ledger
	Result consensus.ConsensusResult
}

// FullyValidateLedgerEvent fires when a quorum of a peer's UNL validated
// Ledger.
type FullyValidateLedgerEvent struct {
	Ledger *Ledger
	Prior  *Ledger
}

// ReceivePositionEvent fires when a peer receives a position.
type ReceivePositionEvent struct {
	Position consensus.Position
}

// ReceiveValidationEvent fires when a peer receives a validation.
type ReceiveValidationEvent struct {
	Validation consensus.Validation
}

// WrongPrevLedgerEvent fires when a peer learns the network validated a
// branch without its last closed ledger.
type WrongPrevLedgerEvent struct {
	Wrong LedgerID
	Right LedgerID
}

// SubmitTxEvent fires when a transaction is submitted to a peer.
type SubmitTxEvent struct {
	Tx Tx
}

func (StartRoundEvent) isEvent()          {}
func (CloseLedgerEvent) isEvent()         {}
func (AcceptLedgerEvent) isEvent()        {}
func (FullyValidateLedgerEvent) isEvent() {}
func (ReceivePositionEvent) isEvent()     {}
func (ReceiveValidationEvent) isEvent()   {}
func (WrongPrevLedgerEvent) isEvent()     {}
func (SubmitTxEvent) isEvent()            {}

// Collector observes simulation events.
type Collector interface {
	On(peer PeerID, when SimTime, event Event)
}

// CollectorFunc is a function adapter for Collector.
type CollectorFunc func(peer PeerID, when SimTime, event Event)

func (f CollectorFunc) On(peer PeerID, when SimTime, event Event) {
	f(peer, when, event)
}

// Collectors fans events out to a set of collectors.
type Collectors struct {
	mu         sync.RWMutex
	collectors []Collector
}

// NewCollectors creates an empty collector set.
func NewCollectors() *Collectors {
	return &Collectors{}
}

// Add adds a collector.
func (c *Collectors) Add(collector Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors = append(c.collectors, collector)
}

// On dispatches an event to all collectors.
func (c *Collectors) On(peer PeerID, when SimTime, event Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, collector := range c.collectors {
		collector.On(peer, when, event)
	}
}

// SimDurationCollector tracks the span of simulated time events cover.
type SimDurationCollector struct {
	init  bool
	Start SimTime
	Stop  SimTime
}

func (c *SimDurationCollector) On(peer PeerID, when SimTime, event Event) {
	if !c.init || when < c.Start {
		c.Start = when
		c.init = true
	}
	if when > c.Stop {
		c.Stop = when
	}
}

// Duration returns the span between the first and last event.
func (c *SimDurationCollector) Duration() SimDuration {
	return SimDuration(c.Stop - c.Start)
}

// Jump is a change of ledger that did not extend the previous one.
type Jump struct {
	Peer PeerID
	When SimTime
	From *Ledger
	To   *Ledger
}

// JumpCollector records when a peer's last closed or fully validated
// ledger moved to another branch instead of a child.
type JumpCollector struct {
	lastClosed map[PeerID]*Ledger

	CloseJumps          []Jump
	FullyValidatedJumps []Jump
}

// NewJumpCollector creates a jump collector.
func NewJumpCollector() *JumpCollector {
	return &JumpCollector{lastClosed: make(map[PeerID]*Ledger)}
}

func (c *JumpCollector) On(peer PeerID, when SimTime, event Event) {
	switch e := event.(type) {
	case StartRoundEvent:
		if prev, ok := c.lastClosed[peer]; ok && prev.ID() != e.Ledger.ID() && !e.Ledger.IsAncestor(prev) {
			c.CloseJumps = append(c.CloseJumps, Jump{Peer: peer, When: when, From: prev, To: e.Ledger})
		}
		c.lastClosed[peer] = e.Ledger
	case FullyValidateLedgerEvent:
		if e.Prior != nil && !e.Ledger.IsAncestor(e.Prior) {
			c.FullyValidatedJumps = append(c.FullyValidatedJumps, Jump{Peer: peer, When: when, From: e.Prior, To: e.Ledger})
		}
	}
}

// ByNodeCollector keeps one collector per peer.
type ByNodeCollector[T Collector] struct {
	collectors map[PeerID]T
	factory    func() T
}

// NewByNodeCollector creates a collector that maintains per-node collectors.
func NewByNodeCollector[T Collector](factory func() T) *ByNodeCollector[T] {
	return &ByNodeCollector[T]{
		collectors: make(map[PeerID]T),
		factory:    factory,
	}
}

func (c *ByNodeCollector[T]) On(peer PeerID, when SimTime, event Event) {
	collector, ok := c.collectors[peer]
	if !ok {
		collector = c.factory()
		c.collectors[peer] = collector
	}
	collector.On(peer, when, event)
}

// Get returns the collector for a specific peer.
func (c *ByNodeCollector[T]) Get(peer PeerID) (T, bool) {
	col, ok := c.collectors[peer]
	return col, ok
}

// LedgerCollector tracks every ledger peers accepted or fully validated.
type LedgerCollector struct {
	Ledgers map[LedgerID]*Ledger
}

// NewLedgerCollector creates a new ledger collector.
func NewLedgerCollector() *LedgerCollector {
	return &LedgerCollector{Ledgers: make(map[LedgerID]*Ledger)}
}

func (c *LedgerCollector) On(peer PeerID, when SimTime, event Event) {
	switch e := event.(type) {
	case AcceptLedgerEvent:
		c.Ledgers[e.Ledger.ID()] = e.Ledger
	case FullyValidateLedgerEvent:
		c.Ledgers[e.Ledger.ID()] = e.Ledger
	}
}

// TxCollector tracks the time from a transaction's first submission to
// its first appearance in a fully validated ledger.
type TxCollector struct {
	Submitted map[consensus.TxID]SimTime
	Validated map[consensus.TxID]SimTime
}

// NewTxCollector creates a transaction latency collector.
func NewTxCollector() *TxCollector {
	return &TxCollector{
		Submitted: make(map[consensus.TxID]SimTime),
		Validated: make(map[consensus.TxID]SimTime),
	}
}

func (c *TxCollector) On(peer PeerID, when SimTime, event Event) {
	switch e := event.(type) {
	case SubmitTxEvent:
		id := e.Tx.TxID()
		if _, ok := c.Submitted[id]; !ok {
			c.Submitted[id] = when
		}
	case FullyValidateLedgerEvent:
		for _, id := range e.Ledger.Txs().IDs() {
			if _, ok := c.Validated[id]; !ok {
				c.Validated[id] = when
			}
		}
	}
}

// Latency returns how long tx took to be fully validated.
func (c *TxCollector) Latency(tx Tx) (SimDuration, bool) {
	id := tx.TxID()
	submit, ok := c.Submitted[id]
	if !ok {
		return 0, false
	}
	validated, ok := c.Validated[id]
	if !ok {
		return 0, false
	}
	return SimDuration(validated - submit), true
}

// MeanLatency returns the mean latency over validated submissions.
func (c *TxCollector) MeanLatency() (SimDuration, int) {
	var total SimDuration
	n := 0
	for id, submit := range c.Submitted {
		if validated, ok := c.Validated[id]; ok {
			total += SimDuration(validated - submit)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return total / SimDuration(n), n
}

// RoundCollector aggregates round outcomes across peers.
type RoundCollector struct {
	Accepted       int
	ByResult       map[consensus.Result]int
	CloseAgreed    int
	FullyValidated int
	Wrong          int
	MaxSeq         uint32

	establish time.Duration
	open      time.Duration
}

// NewRoundCollector creates a round collector.
func NewRoundCollector() *RoundCollector {
	return &RoundCollector{ByResult: make(map[consensus.Result]int)}
}

func (c *RoundCollector) On(peer PeerID, when SimTime, event Event) {
	switch e := event.(type) {
	case AcceptLedgerEvent:
		c.Accepted++
		c.ByResult[e.Result.Stats.Result]++
		if e.Result.CloseTimeAgreed {
			c.CloseAgreed++
		}
		c.establish += e.Result.Stats.Duration
		c.open += e.Result.Stats.OpenDuration
		if e.Ledger.Seq() > c.MaxSeq {
			c.MaxSeq = e.Ledger.Seq()
		}
	case FullyValidateLedgerEvent:
		c.FullyValidated++
	case WrongPrevLedgerEvent:
		c.Wrong++
	}
}

// MeanEstablish returns the mean time rounds spent in establish.
func (c *RoundCollector) MeanEstablish() time.Duration {
	if c.Accepted == 0 {
		return 0
	}
	return c.establish / time.Duration(c.Accepted)
}

// MeanOpen returns the mean time ledgers stayed open.
func (c *RoundCollector) MeanOpen() time.Duration {
	if c.Accepted == 0 {
		return 0
	}
	return c.open / time.Duration(c.Accepted)
}
