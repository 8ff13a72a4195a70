// Package rcl implements the Ripple Consensus Ledger algorithm.
// This is the default consensus algorithm used by the XRP Ledger.
//
// The Engine is a synchronous state machine. A driver calls StartRound
// once per ledger and TimerEntry on a short fixed cadence; peer input is
// pushed through PeerProposal and OnValidation or pulled from the Adaptor
// on every tick. No lock is held while the Engine calls into the Adaptor.
package rcl

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

var (
	// ErrWrongLedger is returned by StartRound when a quorum of trusted
	// validators has moved to a branch that doesn't contain the ledger.
	ErrWrongLedger = errors.New("previous ledger is not on the validated branch")

	// ErrAcceptFailed wraps the error returned by Adaptor.OnAccept.
	ErrAcceptFailed = errors.New("ledger commit failed")

	// ErrNoRound is returned when a round is started without inputs.
	ErrNoRound = errors.New("round needs a previous ledger and an initial transaction set")
)

// recentPerNode bounds how many positions for other ledgers we keep per
// peer for playback.
const recentPerNode = 10

// Config holds RCL engine configuration.
type Config struct {
	Params consensus.Params

	// Events receives engine events. May be nil.
	Events *consensus.EventBus

	// Logger is used for engine logs. A standard logger is used if nil.
	Logger *logrus.Entry

	// LedgerCacheSize bounds the ledgers kept for branch lookups.
	LedgerCacheSize int
}

// DefaultConfig returns the default RCL configuration.
func DefaultConfig() Config {
	return Config{
		Params:          consensus.DefaultParams(),
		LedgerCacheSize: 256,
	}
}

// acceptance is a result waiting to be committed outside the lock.
type acceptance struct {
	result   consensus.ConsensusResult
	prev     consensus.Ledger
	closedAt time.Time
}

// Engine implements the RCL consensus algorithm.
type Engine struct {
	// drive serializes StartRound and TimerEntry so that adaptor calls
	// made outside mu stay in order.
	drive sync.Mutex
	mu    sync.Mutex

	params  consensus.Params
	adaptor consensus.Adaptor
	events  *consensus.EventBus
	log     *logrus.Entry

	self    consensus.NodeID
	trusted map[consensus.NodeID]struct{}

	// Current round
	round           consensus.RoundID
	prevLedger      consensus.Ledger
	mode            consensus.Mode
	phase           consensus.Phase
	proposing       bool
	openedAt        time.Time
	closedAt        time.Time
	positionAt      time.Time
	openSet         consensus.TxSet
	ourSet          consensus.TxSet
	position        consensus.Position
	closeTimeAgreed bool
	committed       bool
	positionChanges int
	discards        consensus.Discards

	acquired      map[consensus.TxSetID]consensus.TxSet
	compared      map[consensus.TxSetID]struct{}
	staleExcluded map[consensus.NodeID]struct{}
	peers         *PositionStore
	disputes      *DisputeTracker

	// Side effects queued under mu and run after it is released
	outbox  []func()
	pending *acceptance

	// Carried across rounds
	validations     *ValidationTracker
	ledgers         *lru.Cache[consensus.LedgerID, consensus.Ledger]
	recent          map[consensus.NodeID][]consensus.Position
	accepted        consensus.Ledger
	resolution      time.Duration
	resolutionSeq   uint32
	prevCloseAgreed bool
	prevProposers   int
	prevRoundTime   time.Duration
	lastCloseLedger consensus.LedgerID
	lastCloseAt     time.Time
	rounds          uint64
}

// NewEngine creates a new RCL consensus engine.
func NewEngine(adaptor consensus.Adaptor, config Config) (*Engine, error) {
	if err := config.Params.Validate(); err != nil {
		return nil, err
	}
	size := config.LedgerCacheSize
	if size <= 0 {
		size = 256
	}
	ledgers, err := lru.New[consensus.LedgerID, consensus.Ledger](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger cache: %w", err)
	}
	log := config.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Engine{
		params:        config.Params,
		adaptor:       adaptor,
		events:        config.Events,
		log:           log.WithField("component", "rcl"),
		trusted:       make(map[consensus.NodeID]struct{}),
		mode:          consensus.ModeObserving,
		phase:         consensus.PhaseAccepted,
		acquired:      make(map[consensus.TxSetID]consensus.TxSet),
		compared:      make(map[consensus.TxSetID]struct{}),
		staleExcluded: make(map[consensus.NodeID]struct{}),
		peers:         NewPositionStore(config.Params.StaleProposalTimeout),
		disputes:      NewDisputeTracker(),
		validations:   NewValidationTracker(config.Params.ValidationFreshness),
		ledgers:       ledgers,
		recent:        make(map[consensus.NodeID][]consensus.Position),
	}, nil
}

// StartRound begins a new consensus round building on prev with initial
// as our open transaction set. If trusted validators have moved to a
// branch that doesn't contain prev the call changes nothing, asks the
// Adaptor to resync and returns ErrWrongLedger.
func (e *Engine) StartRound(prev consensus.Ledger, initial consensus.TxSet) error {
	if prev == nil || initial == nil {
		return ErrNoRound
	}

	e.drive.Lock()
	defer e.drive.Unlock()

	self := e.adaptor.NodeID()
	trusted := e.adaptor.TrustedNodes()
	wantPropose := e.adaptor.Proposing()
	validations := e.adaptor.Validations()

	e.mu.Lock()
	now := e.adaptor.Now()
	e.self = self
	e.setTrusted(trusted)
	e.ledgers.Add(prev.ID(), prev)
	for _, v := range validations {
		e.addValidation(v, now)
	}
	e.validations.Expire(now.Add(-e.params.ValidationFreshness))

	if fork, ok := e.competing(prev); ok {
		e.setMode(consensus.ModeWrongLedger, now)
		tip := fork.Tip
		e.queue(func() { e.adaptor.Resync(tip) })
		e.log.WithFields(logrus.Fields{
			"ledger":  prev.ID().Short(),
			"seq":     prev.Seq(),
			"branch":  fork.Branch.Short(),
			"support": fork.Support,
		}).Warn("Not starting round on a ledger the network left")
		outbox := e.takeOutbox()
		e.mu.Unlock()
		run(outbox)
		return fmt.Errorf("%w: %s at seq %d", ErrWrongLedger, prev.ID().Short(), prev.Seq())
	}

	prevMode := e.mode
	e.prevLedger = prev
	e.round = consensus.RoundID{Seq: prev.Seq() + 1, Parent: prev.ID()}
	e.rounds++

	// Determine mode
	e.proposing = wantPropose && prevMode != consensus.ModeWrongLedger
	mode := consensus.ModeObserving
	switch {
	case prevMode == consensus.ModeWrongLedger:
		mode = consensus.ModeSwitchedLedger
	case e.proposing:
		mode = consensus.ModeProposing
	}
	e.setMode(mode, now)

	// The resolution moves at most once per ledger sequence
	switch {
	case e.resolution == 0:
		e.resolution = e.params.InitialCloseResolution
	case e.resolutionSeq != e.round.Seq:
		e.resolution = nextResolution(e.params, e.resolution, e.prevCloseAgreed, e.round.Seq)
	}
	e.resolutionSeq = e.round.Seq

	// Reset round state
	e.openedAt = now
	e.closedAt = time.Time{}
	e.positionAt = time.Time{}
	e.openSet = initial
	e.ourSet = nil
	e.position = consensus.Position{
		PreviousLedger: prev.ID(),
		TxSet:          initial.ID(),
		NodeID:         self,
	}
	e.closeTimeAgreed = false
	e.committed = false
	e.positionChanges = 0
	e.discards = consensus.Discards{}
	e.acquired = map[consensus.TxSetID]consensus.TxSet{initial.ID(): initial}
	e.compared = make(map[consensus.TxSetID]struct{})
	e.staleExcluded = make(map[consensus.NodeID]struct{})
	e.peers.Reset(prev.ID())
	e.disputes.Reset()
	e.pending = nil
	e.accepted = nil
	e.setPhase(consensus.PhaseOpen, now)

	e.publish(&consensus.RoundStartedEvent{
		Round:      e.round,
		Mode:       e.mode,
		Resolution: e.resolution,
		Timestamp:  now,
	})
	e.log.WithFields(logrus.Fields{
		"seq":        e.round.Seq,
		"parent":     prev.ID().Short(),
		"mode":       e.mode,
		"resolution": e.resolution,
		"txs":        initial.Len(),
	}).Info("Round started")

	e.playback(now)

	outbox := e.takeOutbox()
	e.mu.Unlock()
	run(outbox)
	return nil
}

// UpdateOpenSet replaces the transaction set we will propose when the
// ledger closes. Ignored once the ledger closed.
func (e *Engine) UpdateOpenSet(set consensus.TxSet) {
	if set == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != consensus.PhaseOpen {
		return
	}
	e.openSet = set
	e.acquired[set.ID()] = set
	e.position.TxSet = set.ID()
}

// PeerProposal feeds a peer position to the engine. Returns false if the
// position was discarded.
func (e *Engine) PeerProposal(p consensus.Position) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.prevLedger == nil {
		return false
	}
	return e.addPosition(p, e.adaptor.Now())
}

// OnValidation feeds a validation to the engine. Returns false if the
// validation was discarded.
func (e *Engine) OnValidation(v consensus.Validation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addValidation(v, e.adaptor.Now())
}

// TimerEntry advances the round. It ingests pending peer input, polls for
// missing transaction sets and ledgers, then runs the current phase. The
// only error it returns wraps a failed Adaptor.OnAccept.
func (e *Engine) TimerEntry() error {
	e.drive.Lock()
	defer e.drive.Unlock()

	proposals := e.adaptor.Proposals()
	validations := e.adaptor.Validations()

	e.mu.Lock()
	if e.prevLedger == nil {
		e.mu.Unlock()
		return nil
	}
	now := e.adaptor.Now()
	for _, v := range validations {
		e.addValidation(v, now)
	}
	for _, p := range proposals {
		e.addPosition(p, now)
	}
	wantSets, wantLedgers := e.missing()
	e.mu.Unlock()

	// Poll outside the lock
	var sets []consensus.TxSet
	for _, id := range wantSets {
		if set, ok := e.adaptor.AcquireTxSet(id); ok && set != nil && set.ID() == id {
			sets = append(sets, set)
		}
	}
	var ledgers []consensus.Ledger
	for _, id := range wantLedgers {
		if l, ok := e.adaptor.AcquireLedger(id); ok && l != nil {
			ledgers = append(ledgers, l)
		}
	}

	e.mu.Lock()
	now = e.adaptor.Now()
	for _, l := range ledgers {
		e.ledgers.Add(l.ID(), l)
	}
	for _, set := range sets {
		e.gotTxSet(set, now)
	}
	e.timerEntry(now)
	outbox := e.takeOutbox()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	run(outbox)
	if pending == nil {
		return nil
	}
	return e.commit(pending)
}

// State returns a snapshot of the current round.
func (e *Engine) State() consensus.RoundState {
	e.mu.Lock()
	defer e.mu.Unlock()

	peers := 0
	if e.prevLedger != nil {
		peers = e.peers.ActiveCount(e.adaptor.Now())
	}
	return consensus.RoundState{
		Round:      e.round,
		Mode:       e.mode,
		Phase:      e.phase,
		Position:   e.position,
		Peers:      peers,
		Disputes:   e.disputes.Len(),
		Resolution: e.resolution,
		OpenedAt:   e.openedAt,
		ClosedAt:   e.closedAt,
		Committed:  e.committed,
	}
}

// Accepted returns the ledger built by the current round, once committed.
func (e *Engine) Accepted() (consensus.Ledger, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted, e.accepted != nil
}

// Positions returns the peer positions of the current round.
func (e *Engine) Positions() []consensus.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers.All()
}

// Disputes returns the disputed transactions of the current round.
func (e *Engine) Disputes() []consensus.DisputeOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disputes.Outcomes()
}

// TxSet returns a transaction set the current round holds, including the
// sets derived from our own position.
func (e *Engine) TxSet(id consensus.TxSetID) (consensus.TxSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.acquired[id]
	return s, ok
}

// Validations returns the validation tracker.
func (e *Engine) Validations() *ValidationTracker {
	return e.validations
}

// Discards returns the inputs dropped during the current round.
func (e *Engine) Discards() consensus.Discards {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discards
}

// timerEntry runs the current phase. Caller holds mu.
func (e *Engine) timerEntry(now time.Time) {
	switch e.phase {
	case consensus.PhaseOpen:
		if e.checkFork(now) {
			return
		}
		e.phaseOpen(now)
	case consensus.PhaseEstablish:
		if e.checkFork(now) {
			return
		}
		e.phaseEstablish(now)
	}
}

func (e *Engine) phaseOpen(now time.Time) {
	sincePrevClose := now.Sub(e.prevLedger.CloseTime())
	if e.lastCloseLedger == e.prevLedger.ID() && !e.lastCloseAt.IsZero() {
		sincePrevClose = now.Sub(e.lastCloseAt)
	}

	in := closeInputs{
		anyTransactions:    e.openSet.Len() > 0,
		prevProposers:      e.prevProposers,
		proposersClosed:    e.peers.ActiveCount(now),
		proposersValidated: e.validations.NodesAfter(e.prevLedger, e.lookup),
		prevRoundTime:      e.prevRoundTime,
		sincePrevClose:     sincePrevClose,
		openTime:           now.Sub(e.openedAt),
	}
	if !shouldClose(e.params, in) {
		return
	}
	e.closeLedger(now)

	// a unanimous round may finish on the tick that closed it
	e.phaseEstablish(now)
}

// closeLedger takes our open set as our initial position and enters
// establish.
func (e *Engine) closeLedger(now time.Time) {
	e.closedAt = now
	e.ourSet = e.openSet
	id := e.ourSet.ID()
	e.acquired[id] = e.ourSet
	e.compared[id] = struct{}{}

	e.position = consensus.Position{
		PreviousLedger: e.prevLedger.ID(),
		TxSet:          id,
		CloseTime:      now,
		ProposeSeq:     consensus.SeqJoin,
		NodeID:         e.self,
	}
	e.positionAt = now
	e.setPhase(consensus.PhaseEstablish, now)
	e.sharePosition()

	e.log.WithFields(logrus.Fields{
		"seq":   e.round.Seq,
		"txset": id.Short(),
		"txs":   e.ourSet.Len(),
		"open":  now.Sub(e.openedAt),
		"peers": e.peers.ActiveCount(now),
	}).Debug("Ledger closed")

	for _, setID := range e.peers.Distinct(now) {
		if set, ok := e.acquired[setID]; ok {
			e.createDisputes(set, now)
		}
	}
}

func (e *Engine) phaseEstablish(now time.Time) {
	elapsed := now.Sub(e.closedAt)
	if elapsed >= e.params.EstablishTimeout {
		e.setPhase(consensus.PhaseExpired, now)
		e.log.WithFields(logrus.Fields{
			"seq":      e.round.Seq,
			"elapsed":  elapsed,
			"disputes": e.disputes.Len(),
		}).Warn("Establish timed out, accepting our position")
		e.accept(consensus.ResultExpired, now)
		return
	}

	// votes must hold still for a full tick before we check for agreement
	if e.updatePosition(now, elapsed) {
		return
	}

	ourClose := roundCloseTime(e.position.CloseTime, e.resolution)
	active := e.peers.Active(now)
	agree := 0
	for _, p := range active {
		if p.TxSet == e.position.TxSet && roundCloseTime(p.CloseTime, e.resolution).Equal(ourClose) {
			agree++
		}
	}

	state := checkConsensus(e.params, convergeInputs{
		prevProposers: e.prevProposers,
		proposers:     len(active),
		agree:         agree,
		participants:  e.peers.Participants(),
		trusted:       e.trustedPeers(),
		finished:      e.validations.NodesAfter(e.prevLedger, e.lookup),
		prevRoundTime: e.prevRoundTime,
		elapsed:       elapsed,
		proposing:     e.proposing,
	})

	leading, leadCount, _ := e.peers.Plurality(now)
	e.log.WithFields(logrus.Fields{
		"seq":      e.round.Seq,
		"agree":    agree,
		"peers":    len(active),
		"leading":  leading.Short(),
		"leadBy":   leadCount,
		"state":    state,
		"elapsed":  elapsed,
		"disputes": e.disputes.Len(),
	}).Trace("Checked consensus")

	switch state {
	case stateYes:
		e.accept(consensus.ResultSuccess, now)
	case stateMovedOn:
		e.accept(consensus.ResultMovedOn, now)
	}
}

// updatePosition re-evaluates every dispute and the close time vote.
// Returns true if our position changed.
func (e *Engine) updatePosition(now time.Time, elapsed time.Duration) bool {
	// Peers that stopped updating no longer vote
	for _, id := range e.peers.Stale(now) {
		if _, ok := e.staleExcluded[id]; ok {
			continue
		}
		e.staleExcluded[id] = struct{}{}
		e.disputes.UnVote(id)
		e.log.WithField("peer", id.Short()).Debug("Excluding stale peer")
	}

	threshold := e.params.ThresholdFor(elapsed)
	var changes []consensus.TxChange
	for _, d := range e.disputes.All() {
		if !d.UpdateVote(threshold, e.proposing) {
			continue
		}
		changes = append(changes, consensus.TxChange{ID: d.ID(), Tx: d.Tx(), Include: d.OurVote()})

		yays, nays := d.Tally()
		e.publish(&consensus.VoteChangedEvent{
			Round:     e.round,
			TxID:      d.ID(),
			Vote:      d.OurVote(),
			Yays:      yays,
			Nays:      nays,
			Threshold: threshold,
			Timestamp: now,
		})
		if e.params.ShareDisputes && e.proposing {
			vote := consensus.DisputeVote{
				PreviousLedger: e.prevLedger.ID(),
				TxID:           d.ID(),
				NodeID:         e.self,
				Vote:           d.OurVote(),
			}
			e.queue(func() { e.adaptor.ShareDispute(vote) })
		}
	}

	changed := false
	if len(changes) > 0 {
		set := e.ourSet.Apply(changes)
		e.ourSet = set
		e.acquired[set.ID()] = set
		e.compared[set.ID()] = struct{}{}
		if set.ID() != e.position.TxSet {
			e.position.TxSet = set.ID()
			changed = true
		}
	}

	closeTime, agreed := e.closeTimeVote(now, threshold)
	e.closeTimeAgreed = agreed
	if !closeTime.Equal(roundCloseTime(e.position.CloseTime, e.resolution)) {
		e.position.CloseTime = closeTime
		changed = true
	}

	if changed {
		e.position.ProposeSeq++
		e.positionAt = now
		e.positionChanges++
		e.sharePosition()
		e.publish(&consensus.PositionChangedEvent{
			Round:     e.round,
			Position:  e.position,
			Timestamp: now,
		})
		e.log.WithFields(logrus.Fields{
			"seq":       e.round.Seq,
			"txset":     e.position.TxSet.Short(),
			"closeTime": e.position.CloseTime.Unix(),
			"changes":   len(changes),
			"threshold": threshold,
		}).Debug("Position changed")
		return true
	}

	// keep peers from treating us as stale
	if e.proposing && now.Sub(e.positionAt) >= e.params.ProposeInterval {
		e.position.ProposeSeq++
		e.positionAt = now
		e.sharePosition()
	}
	return false
}

// closeTimeVote tallies rounded close times. It returns the time with the
// most votes among those reaching threshold percent, ties going to the
// earliest, and whether it reached the close time consensus percent. Our
// own close time stands when nothing reaches threshold.
func (e *Engine) closeTimeVote(now time.Time, threshold int) (time.Time, bool) {
	ours := roundCloseTime(e.position.CloseTime, e.resolution)

	votes := make(map[int64]int)
	participants := 0
	for _, p := range e.peers.Active(now) {
		votes[roundCloseTime(p.CloseTime, e.resolution).UnixNano()]++
		participants++
	}
	if e.proposing {
		votes[ours.UnixNano()]++
		participants++
	}
	if participants == 0 {
		return ours, true
	}

	needed := participantsNeeded(participants, threshold)
	agreeAt := participantsNeeded(participants, e.params.CloseTimeConsensusPercent)

	keys := make([]int64, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best, bestCount := ours, 0
	for _, k := range keys {
		if n := votes[k]; n >= needed && n > bestCount {
			best, bestCount = time.Unix(0, k).UTC(), n
		}
	}
	return best, bestCount >= agreeAt
}

// accept produces the round's result. The commit itself happens in
// TimerEntry once mu is released.
func (e *Engine) accept(result consensus.Result, now time.Time) {
	prevClose := e.prevLedger.CloseTime()
	closeTime := prevClose.Add(time.Second)
	if e.closeTimeAgreed {
		closeTime = effCloseTime(e.position.CloseTime, e.resolution, prevClose)
	}

	proposers := e.peers.ActiveCount(now)
	stats := consensus.RoundStats{
		Result:          result,
		Proposers:       proposers,
		OpenDuration:    e.closedAt.Sub(e.openedAt),
		Duration:        now.Sub(e.closedAt),
		Expired:         result == consensus.ResultExpired,
		Disputes:        e.disputes.Len(),
		PositionChanges: e.positionChanges,
		Discarded:       e.discards,
	}

	res := consensus.ConsensusResult{
		Round:           e.round,
		TxSet:           e.ourSet,
		TxSetID:         e.ourSet.ID(),
		CloseTime:       closeTime,
		CloseTimeAgreed: e.closeTimeAgreed,
		CloseResolution: e.resolution,
		Disputes:        e.disputes.Outcomes(),
		Position:        e.position,
		Proposing:       e.proposing,
		Stats:           stats,
	}

	e.prevProposers = proposers
	e.prevRoundTime = stats.Duration
	e.prevCloseAgreed = e.closeTimeAgreed
	e.committed = true
	e.setPhase(consensus.PhaseAccepted, now)

	e.publish(&consensus.ConsensusReachedEvent{
		Round:           e.round,
		TxSet:           res.TxSetID,
		CloseTime:       closeTime,
		CloseTimeAgreed: e.closeTimeAgreed,
		Resolution:      e.resolution,
		Stats:           stats,
		Timestamp:       now,
	})
	e.log.WithFields(logrus.Fields{
		"seq":       e.round.Seq,
		"result":    result,
		"txset":     res.TxSetID.Short(),
		"txs":       e.ourSet.Len(),
		"proposers": proposers,
		"disputes":  stats.Disputes,
		"duration":  stats.Duration,
		"closeTime": closeTime.Unix(),
		"agreed":    e.closeTimeAgreed,
	}).Info("Consensus reached")

	e.pending = &acceptance{result: res, prev: e.prevLedger, closedAt: e.closedAt}
}

// commit hands a result to the Adaptor. Called without mu held and at
// most once per round.
func (e *Engine) commit(a *acceptance) error {
	next, err := e.adaptor.OnAccept(a.result, a.prev)
	if err != nil {
		e.log.WithError(err).WithField("seq", a.result.Round.Seq).Error("Adaptor rejected consensus result")
		return fmt.Errorf("%w: seq %d: %w", ErrAcceptFailed, a.result.Round.Seq, err)
	}
	if next == nil {
		return nil
	}

	e.mu.Lock()
	e.accepted = next
	e.ledgers.Add(next.ID(), next)
	e.lastCloseLedger = next.ID()
	e.lastCloseAt = a.closedAt
	now := e.adaptor.Now()
	e.mu.Unlock()

	e.publish(&consensus.LedgerAcceptedEvent{
		LedgerID:  next.ID(),
		LedgerSeq: next.Seq(),
		TxCount:   a.result.TxSet.Len(),
		CloseTime: next.CloseTime(),
		Timestamp: now,
	})
	return nil
}

// checkFork abandons the round if a quorum of trusted validators built on
// a branch without our previous ledger.
func (e *Engine) checkFork(now time.Time) bool {
	fork, ok := e.competing(e.prevLedger)
	if !ok {
		return false
	}

	if e.proposing {
		bow := e.position
		bow.BowOut = true
		bow.ProposeSeq = consensus.SeqLeave
		bow.ReceivedAt = time.Time{}
		e.queue(func() { e.adaptor.Share(bow) })
	}
	e.proposing = false
	e.setMode(consensus.ModeWrongLedger, now)
	e.setPhase(consensus.PhaseAbandoned, now)

	e.publish(&consensus.RoundAbandonedEvent{
		Round:     e.round,
		Branch:    fork.Branch,
		Support:   fork.Support,
		Timestamp: now,
	})
	e.log.WithFields(logrus.Fields{
		"seq":     e.round.Seq,
		"branch":  fork.Branch.Short(),
		"tip":     fork.Tip.Short(),
		"support": fork.Support,
	}).Warn("Network validated another branch, abandoning round")

	tip := fork.Tip
	e.queue(func() { e.adaptor.Resync(tip) })
	return true
}

// competing returns the best competing branch if it has quorum.
func (e *Engine) competing(prev consensus.Ledger) (Fork, bool) {
	trusted := e.validations.TrustedCount()
	if trusted == 0 {
		return Fork{}, false
	}
	fork, ok := e.validations.Competing(prev, e.lookup)
	if !ok || fork.Support*100 < e.params.MinConsensusPercent*trusted {
		return Fork{}, false
	}
	return fork, true
}

// addPosition stores a peer position. Caller holds mu.
func (e *Engine) addPosition(p consensus.Position, now time.Time) bool {
	if p.NodeID == e.self {
		return false
	}
	if _, ok := e.trusted[p.NodeID]; !ok {
		e.discards.Untrusted++
		return false
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = now
	}
	if p.PreviousLedger != e.prevLedger.ID() {
		e.remember(p)
		e.discards.WrongLedger++
		return false
	}
	if e.phase.Finished() || e.phase == consensus.PhaseExpired {
		e.discards.Late++
		return false
	}

	switch e.peers.Add(p) {
	case positionStaleSeq:
		e.discards.StaleSeq++
		return false
	case positionDeadPeer:
		e.discards.BowedOut++
		return false
	case positionWrongLedger:
		e.discards.WrongLedger++
		return false
	case positionLeft:
		e.disputes.UnVote(p.NodeID)
		delete(e.staleExcluded, p.NodeID)
		e.log.WithField("peer", p.NodeID.Short()).Debug("Peer bowed out")
		return true
	}

	delete(e.staleExcluded, p.NodeID)
	set, ok := e.acquired[p.TxSet]
	if !ok {
		// votes come back once we have the set
		e.disputes.UnVote(p.NodeID)
		return true
	}
	if e.phase == consensus.PhaseEstablish {
		e.createDisputes(set, now)
		e.disputes.SetVotes(p.NodeID, set)
	}
	return true
}

// gotTxSet records a transaction set fetched by the Adaptor.
func (e *Engine) gotTxSet(set consensus.TxSet, now time.Time) {
	id := set.ID()
	if _, ok := e.acquired[id]; ok {
		return
	}
	e.acquired[id] = set
	if e.phase != consensus.PhaseEstablish {
		return
	}

	e.createDisputes(set, now)
	for _, p := range e.peers.Active(now) {
		if p.TxSet == id {
			e.disputes.SetVotes(p.NodeID, set)
		}
	}
}

// createDisputes compares other with our set and tracks every
// transaction they disagree on.
func (e *Engine) createDisputes(other consensus.TxSet, now time.Time) {
	id := other.ID()
	if _, done := e.compared[id]; done {
		return
	}
	e.compared[id] = struct{}{}
	if e.ourSet == nil || e.ourSet.ID() == id {
		return
	}

	diff := e.ourSet.Compare(other)
	txIDs := make([]consensus.TxID, 0, len(diff))
	for txID := range diff {
		txIDs = append(txIDs, txID)
	}
	sort.Slice(txIDs, func(i, j int) bool { return txIDs[i].Less(txIDs[j]) })

	active := e.peers.Active(now)
	for _, txID := range txIDs {
		inOurs := diff[txID]
		var blob []byte
		if inOurs {
			blob, _ = e.ourSet.Tx(txID)
		} else {
			blob, _ = other.Tx(txID)
		}

		d, created := e.disputes.Create(txID, blob, inOurs)
		if !created {
			continue
		}
		for _, p := range active {
			if set, ok := e.acquired[p.TxSet]; ok {
				d.SetVote(p.NodeID, set.Contains(txID))
			}
		}

		e.publish(&consensus.DisputeCreatedEvent{
			Round:     e.round,
			TxID:      txID,
			OurVote:   inOurs,
			Timestamp: now,
		})
	}
}

// addValidation records a validation. Caller holds mu.
func (e *Engine) addValidation(v consensus.Validation, now time.Time) bool {
	switch e.validations.Add(v, now) {
	case validationAdded:
		e.publish(&consensus.ValidationReceivedEvent{Validation: v, Timestamp: now})
		return true
	case validationUntrusted:
		e.discards.Untrusted++
	default:
		e.discards.OldValidated++
	}
	return false
}

// remember keeps a position for another ledger so it can be played back
// if we start a round on that ledger.
func (e *Engine) remember(p consensus.Position) {
	list := append(e.recent[p.NodeID], p)
	if len(list) > recentPerNode {
		list = list[len(list)-recentPerNode:]
	}
	e.recent[p.NodeID] = list
}

// playback feeds remembered positions for the new round's ledger and
// forgets those that are too old to matter.
func (e *Engine) playback(now time.Time) {
	cutoff := now.Add(-e.params.StaleProposalTimeout)
	prev := e.prevLedger.ID()

	nodes := make([]consensus.NodeID, 0, len(e.recent))
	for n := range e.recent {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })

	for _, n := range nodes {
		var keep []consensus.Position
		for _, p := range e.recent[n] {
			switch {
			case p.PreviousLedger == prev:
				e.addPosition(p, now)
			case !p.IsStale(cutoff):
				keep = append(keep, p)
			}
		}
		if len(keep) == 0 {
			delete(e.recent, n)
		} else {
			e.recent[n] = keep
		}
	}
}

// missing lists the transaction sets and ledgers worth polling for.
func (e *Engine) missing() ([]consensus.TxSetID, []consensus.LedgerID) {
	var sets []consensus.TxSetID
	seen := make(map[consensus.TxSetID]struct{})
	for _, p := range e.peers.All() {
		if _, ok := e.acquired[p.TxSet]; ok {
			continue
		}
		if _, ok := seen[p.TxSet]; ok {
			continue
		}
		seen[p.TxSet] = struct{}{}
		sets = append(sets, p.TxSet)
	}

	var ledgers []consensus.LedgerID
	for _, id := range e.validations.LedgersAfter(e.prevLedger.Seq()) {
		if !e.ledgers.Contains(id) {
			ledgers = append(ledgers, id)
		}
	}
	return sets, ledgers
}

func (e *Engine) lookup(id consensus.LedgerID) (consensus.Ledger, bool) {
	return e.ledgers.Get(id)
}

// trustedPeers is the size of our UNL without ourselves. Caller holds mu.
func (e *Engine) trustedPeers() int {
	n := len(e.trusted)
	if _, ok := e.trusted[e.self]; ok {
		n--
	}
	return n
}

func (e *Engine) setTrusted(nodes []consensus.NodeID) {
	e.trusted = make(map[consensus.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		e.trusted[n] = struct{}{}
	}
	e.validations.SetTrusted(nodes)
}

func (e *Engine) sharePosition() {
	if !e.proposing {
		return
	}
	pos := e.position
	e.queue(func() { e.adaptor.Share(pos) })
}

func (e *Engine) setMode(mode consensus.Mode, now time.Time) {
	if e.mode == mode {
		return
	}
	old := e.mode
	e.mode = mode
	e.publish(&consensus.ModeChangedEvent{OldMode: old, NewMode: mode, Timestamp: now})
	e.log.WithFields(logrus.Fields{"from": old, "to": mode}).Debug("Mode changed")
}

func (e *Engine) setPhase(phase consensus.Phase, now time.Time) {
	if e.phase == phase {
		return
	}
	old := e.phase
	e.phase = phase
	e.publish(&consensus.PhaseChangedEvent{Round: e.round, OldPhase: old, NewPhase: phase, Timestamp: now})
}

func (e *Engine) publish(ev consensus.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

func (e *Engine) queue(f func()) {
	e.outbox = append(e.outbox, f)
}

func (e *Engine) takeOutbox() []func() {
	out := e.outbox
	e.outbox = nil
	return out
}

func run(fs []func()) {
	for _, f := range fs {
		f()
	}
}
