package csf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/consensus/rcl"
)

// acquireRetry is how long a peer waits on a fetch before asking again.
const acquireRetry = 2 * time.Second

// Router drops flooded messages a peer has already handled. Every message
// is tagged by its origin with a sequence number.
type Router struct {
	mu      sync.Mutex
	nextSeq uint64
	seen    map[routeKey]struct{}
}

type routeKey struct {
	origin PeerID
	seq    uint64
}

// NewRouter creates a new message router.
func NewRouter() *Router {
	return &Router{nextSeq: 1, seen: make(map[routeKey]struct{})}
}

// NextSeq returns the tag for the next message we originate.
func (r *Router) NextSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.nextSeq
	r.nextSeq++
	return seq
}

// ShouldProcess reports whether this is the first time we see the message.
func (r *Router) ShouldProcess(origin PeerID, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := routeKey{origin, seq}
	if _, ok := r.seen[k]; ok {
		return false
	}
	r.seen[k] = struct{}{}
	return true
}

// envelope is a message flooded across the network.
type envelope struct {
	origin PeerID
	seq    uint64
	msg    interface{}
}

// Peer is a simulated node. It runs an RCL engine and implements the
// engine's Adaptor on top of the simulated network, clock and ledger
// oracle.
type Peer struct {
	mu sync.Mutex

	ID PeerID

	oracle     *LedgerOracle
	scheduler  *Scheduler
	net        *BasicNetwork
	trustGraph *TrustGraph
	collectors *Collectors
	log        *logrus.Entry

	engine      *rcl.Engine
	params      consensus.Params
	granularity time.Duration
	router      *Router

	lastClosed     *Ledger
	fullyValidated *Ledger
	ledgers        map[LedgerID]*Ledger
	txSets         map[consensus.TxSetID]consensus.TxSet
	openTxs        map[consensus.TxID]Tx
	txInjections   map[uint32]Tx
	inbox          []consensus.Position

	acquiringSets    map[consensus.TxSetID]SimTime
	acquiringLedgers map[LedgerID]SimTime
	resyncTo         LedgerID
	lastPhase        consensus.Phase

	clockSkew      time.Duration
	runAsValidator bool
	targetLedgers  int
	completed      int
	acceptErrors   int
	started        bool
	ticking        bool
}

var _ consensus.Adaptor = (*Peer)(nil)

// NewPeer creates a peer that starts from the oracle's genesis ledger and
// trusts itself.
func NewPeer(
	id PeerID,
	scheduler *Scheduler,
	oracle *LedgerOracle,
	net *BasicNetwork,
	trustGraph *TrustGraph,
	collectors *Collectors,
	log *logrus.Entry,
) *Peer {
	genesis := oracle.Genesis()
	p := &Peer{
		ID:               id,
		oracle:           oracle,
		scheduler:        scheduler,
		net:              net,
		trustGraph:       trustGraph,
		collectors:       collectors,
		log:              log.WithField("peer", uint32(id)),
		params:           DefaultSimParams(),
		granularity:      time.Second,
		router:           NewRouter(),
		lastClosed:       genesis,
		fullyValidated:   genesis,
		ledgers:          map[LedgerID]*Ledger{genesis.ID(): genesis},
		txSets:           make(map[consensus.TxSetID]consensus.TxSet),
		openTxs:          make(map[consensus.TxID]Tx),
		txInjections:     make(map[uint32]Tx),
		acquiringSets:    make(map[consensus.TxSetID]SimTime),
		acquiringLedgers: make(map[LedgerID]SimTime),
		lastPhase:        consensus.PhaseAccepted,
		runAsValidator:   true,
		targetLedgers:    1<<31 - 1,
	}
	trustGraph.Trust(id, id)
	net.Attach(p)
	return p
}

// DefaultSimParams returns consensus parameters for simulation. They
// follow the defaults but keep peers in establish long enough for
// positions to cross the network.
func DefaultSimParams() consensus.Params {
	p := consensus.DefaultParams()
	p.MinEstablishTime = 2 * time.Second
	return p
}

// -----------------------------------------------------------------------------
// Configuration

// SetParams sets the consensus parameters. Must be called before Start.
func (p *Peer) SetParams(params consensus.Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
}

// SetGranularity sets the heartbeat interval.
func (p *Peer) SetGranularity(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granularity = d
}

// SetClockSkew offsets the peer's clock from simulated time.
func (p *Peer) SetClockSkew(skew time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clockSkew = skew
}

// SetRunAsValidator sets whether the peer proposes and validates.
func (p *Peer) SetRunAsValidator(val bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runAsValidator = val
}

// SetTargetLedgers stops the heartbeat once n ledgers were accepted.
func (p *Peer) SetTargetLedgers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targetLedgers = n
}

// TargetLedgers returns the number of ledgers the peer runs to.
func (p *Peer) TargetLedgers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetLedgers
}

// Trust extends trust to another peer.
func (p *Peer) Trust(other *Peer) { p.trustGraph.Trust(p.ID, other.ID) }

// Untrust revokes trust from another peer.
func (p *Peer) Untrust(other *Peer) { p.trustGraph.Untrust(p.ID, other.ID) }

// Trusts checks whether we trust another peer.
func (p *Peer) Trusts(other *Peer) bool { return p.trustGraph.Trusts(p.ID, other.ID) }

// Connect creates a network link to another peer.
func (p *Peer) Connect(other *Peer, delay SimDuration) bool {
	return p.net.Connect(p.ID, other.ID, delay)
}

// Disconnect removes the network link to another peer.
func (p *Peer) Disconnect(other *Peer) bool {
	return p.net.Disconnect(p.ID, other.ID)
}

// -----------------------------------------------------------------------------
// consensus.Adaptor

// AcquireTxSet returns a set we hold or asks our neighbours for it.
func (p *Peer) AcquireTxSet(id consensus.TxSetID) (consensus.TxSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.txSets[id]; ok {
		return s, true
	}
	now := p.scheduler.Now()
	if at, ok := p.acquiringSets[id]; ok && now-at < SimTime(acquireRetry) {
		return nil, false
	}
	p.acquiringSets[id] = now
	from := p.ID
	p.net.Broadcast(p.ID, p.ID, func(target *Peer) { target.serveTxSet(id, from) })
	return nil, false
}

// AcquireLedger returns a ledger we hold or asks our neighbours for it.
func (p *Peer) AcquireLedger(id consensus.LedgerID) (consensus.Ledger, bool) {
	l, ok := p.acquireLedger(id)
	if !ok {
		return nil, false
	}
	return l, true
}

func (p *Peer) acquireLedger(id LedgerID) (*Ledger, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.ledgers[id]; ok {
		return l, true
	}
	now := p.scheduler.Now()
	if at, ok := p.acquiringLedgers[id]; ok && now-at < SimTime(acquireRetry) {
		return nil, false
	}
	p.acquiringLedgers[id] = now
	from := p.ID
	p.net.Broadcast(p.ID, p.ID, func(target *Peer) { target.serveLedger(id, from) })
	return nil, false
}

// Share floods our position.
func (p *Peer) Share(pos consensus.Position) {
	p.originate(pos)
}

// ShareDispute floods a dispute vote.
func (p *Peer) ShareDispute(vote consensus.DisputeVote) {
	p.originate(vote)
}

// OnAccept builds the agreed ledger, validates it and schedules the next
// round.
func (p *Peer) OnAccept(res consensus.ConsensusResult, prev consensus.Ledger) (consensus.Ledger, error) {
	parent, ok := prev.(*Ledger)
	if !ok {
		if parent, ok = p.oracle.Get(prev.ID()); !ok {
			return nil, fmt.Errorf("unknown parent ledger %s", prev.ID().Short())
		}
	}
	l := p.oracle.Accept(parent, res.TxSet, res.CloseTime, res.CloseTimeAgreed, res.CloseResolution)

	p.mu.Lock()
	p.ledgers[l.ID()] = l
	prior := p.lastClosed
	p.lastClosed = l
	p.completed++
	for _, id := range res.TxSet.IDs() {
		delete(p.openTxs, id)
	}
	delete(p.txInjections, l.Seq())
	validate := p.runAsValidator && res.Proposing
	p.mu.Unlock()

	p.Issue(AcceptLedgerEvent{Ledger: l, Prior: prior, Result: res})

	if validate {
		v := consensus.Validation{
			LedgerID:  l.ID(),
			LedgerSeq: l.Seq(),
			SignTime:  p.Now(),
			NodeID:    p.ID.NodeID(),
			Full:      true,
		}
		p.engine.OnValidation(v)
		p.originate(v)
	}
	p.checkFullyValidated(l)

	p.scheduler.In(0, func() {
		p.mu.Lock()
		current := p.lastClosed
		p.mu.Unlock()
		if current == l {
			p.startRound(l)
		}
	})
	return l, nil
}

// Resync records the ledger to switch to. The heartbeat fetches it and
// restarts the round there.
func (p *Peer) Resync(id consensus.LedgerID) {
	p.mu.Lock()
	p.resyncTo = id
	wrong := p.lastClosed.ID()
	p.mu.Unlock()

	p.Issue(WrongPrevLedgerEvent{Wrong: wrong, Right: id})
}

// Proposals drains the positions received since the last call.
func (p *Peer) Proposals() []consensus.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.inbox
	p.inbox = nil
	return out
}

// Validations returns nothing: peers push validations to the engine as
// they arrive.
func (p *Peer) Validations() []consensus.Validation { return nil }

// TrustedNodes returns the node IDs of our UNL.
func (p *Peer) TrustedNodes() []consensus.NodeID {
	peers := p.trustGraph.TrustedPeers(p.ID)
	out := make([]consensus.NodeID, len(peers))
	for i, id := range peers {
		out[i] = id.NodeID()
	}
	return out
}

// NodeID returns our node ID.
func (p *Peer) NodeID() consensus.NodeID { return p.ID.NodeID() }

// Proposing reports whether we run as a validator.
func (p *Peer) Proposing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runAsValidator
}

// Now returns the peer's clock: simulated time plus its skew.
func (p *Peer) Now() time.Time {
	p.mu.Lock()
	skew := p.clockSkew
	p.mu.Unlock()
	return p.scheduler.NowTime().Add(skew)
}

// -----------------------------------------------------------------------------
// Network handlers

func (p *Peer) originate(msg interface{}) {
	env := envelope{origin: p.ID, seq: p.router.NextSeq(), msg: msg}
	p.router.ShouldProcess(env.origin, env.seq)
	p.flood(env, p.ID)
}

func (p *Peer) flood(env envelope, skip PeerID) {
	from := p.ID
	p.net.Broadcast(p.ID, skip, func(target *Peer) { target.receive(env, from) })
}

func (p *Peer) receive(env envelope, from PeerID) {
	if !p.router.ShouldProcess(env.origin, env.seq) {
		return
	}
	relay := false
	switch m := env.msg.(type) {
	case consensus.Position:
		relay = p.onPosition(m)
	case consensus.Validation:
		relay = p.onValidation(m)
	case consensus.DisputeVote:
		relay = p.trustsNode(m.NodeID)
	case Tx:
		relay = p.onTx(m)
	}
	if relay {
		p.flood(env, from)
	}
}

func (p *Peer) onPosition(pos consensus.Position) bool {
	p.Issue(ReceivePositionEvent{Position: pos})

	if !p.trustsNode(pos.NodeID) {
		p.mu.Lock()
		same := pos.PreviousLedger == p.lastClosed.ID()
		p.mu.Unlock()
		return same
	}
	pos.ReceivedAt = p.Now()

	p.mu.Lock()
	p.inbox = append(p.inbox, pos)
	p.mu.Unlock()
	return true
}

func (p *Peer) onValidation(v consensus.Validation) bool {
	p.Issue(ReceiveValidationEvent{Validation: v})

	if !p.trustsNode(v.NodeID) {
		return false
	}
	v.SeenTime = p.Now()

	p.mu.Lock()
	engine := p.engine
	l, known := p.ledgers[v.LedgerID]
	p.mu.Unlock()

	if engine == nil || !engine.OnValidation(v) {
		return false
	}
	if known {
		p.checkFullyValidated(l)
	}
	return true
}

func (p *Peer) onTx(tx Tx) bool {
	id := tx.TxID()

	p.mu.Lock()
	if p.lastClosed.Txs().Contains(id) {
		p.mu.Unlock()
		return false
	}
	if _, ok := p.openTxs[id]; ok {
		p.mu.Unlock()
		return false
	}
	p.openTxs[id] = tx
	set := p.openSetLocked(p.lastClosed.Seq() + 1)
	engine := p.engine
	p.mu.Unlock()

	if engine != nil {
		engine.UpdateOpenSet(set)
	}
	return true
}

func (p *Peer) serveTxSet(id consensus.TxSetID, to PeerID) {
	p.mu.Lock()
	set, ok := p.txSets[id]
	engine := p.engine
	p.mu.Unlock()

	if !ok && engine != nil {
		set, ok = engine.TxSet(id)
	}
	if !ok {
		return
	}
	p.net.Send(p.ID, to, func(target *Peer) { target.gotTxSet(set) })
}

func (p *Peer) gotTxSet(set consensus.TxSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txSets[set.ID()] = set
	delete(p.acquiringSets, set.ID())
}

func (p *Peer) serveLedger(id LedgerID, to PeerID) {
	p.mu.Lock()
	l, ok := p.ledgers[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.net.Send(p.ID, to, func(target *Peer) { target.gotLedger(l) })
}

func (p *Peer) gotLedger(l *Ledger) {
	p.mu.Lock()
	p.ledgers[l.ID()] = l
	delete(p.acquiringLedgers, l.ID())
	p.mu.Unlock()

	p.checkFullyValidated(l)
}

// checkFullyValidated marks l fully validated once a quorum of our UNL
// validated it.
func (p *Peer) checkFullyValidated(l *Ledger) {
	p.mu.Lock()
	engine := p.engine
	behind := l.Seq() <= p.fullyValidated.Seq()
	p.mu.Unlock()
	if engine == nil || behind {
		return
	}

	if engine.Validations().CountFor(l.ID()) < p.Quorum() {
		return
	}

	p.mu.Lock()
	if l.Seq() <= p.fullyValidated.Seq() {
		p.mu.Unlock()
		return
	}
	prior := p.fullyValidated
	p.fullyValidated = l
	p.mu.Unlock()

	p.Issue(FullyValidateLedgerEvent{Ledger: l, Prior: prior})
}

// Quorum is the number of UNL validations that make a ledger fully
// validated.
func (p *Peer) Quorum() int {
	p.mu.Lock()
	pct := p.params.MinConsensusPercent
	p.mu.Unlock()

	q := (p.trustGraph.UNLSize(p.ID)*pct + 99) / 100
	if q < 1 {
		q = 1
	}
	return q
}

func (p *Peer) trustsNode(n consensus.NodeID) bool {
	return p.trustGraph.Trusts(p.ID, peerIDOf(n))
}

func peerIDOf(n consensus.NodeID) PeerID {
	return PeerID(binary.BigEndian.Uint32(n[1:5]))
}

// -----------------------------------------------------------------------------
// Driver

// Issue dispatches an event to the collectors.
func (p *Peer) Issue(event Event) {
	p.collectors.On(p.ID, p.scheduler.Now(), event)
}

// Submit hands a transaction to the peer, which floods it.
func (p *Peer) Submit(tx Tx) {
	p.Issue(SubmitTxEvent{Tx: tx})
	if p.onTx(tx) {
		p.originate(tx)
	}
}

// InjectTx adds tx to whatever set the peer proposes for ledger seq,
// whether or not anyone else has it.
func (p *Peer) InjectTx(seq uint32, tx Tx) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txInjections[seq] = tx
}

// Start creates the engine and begins the heartbeat. Calling it again
// after the peer reached its target resumes the heartbeat.
func (p *Peer) Start() error {
	p.mu.Lock()
	if p.engine == nil {
		engine, err := rcl.NewEngine(p, rcl.Config{Params: p.params, Logger: p.log})
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("peer %d: %w", p.ID, err)
		}
		p.engine = engine
	}
	first := !p.started
	p.started = true
	resume := !p.ticking
	p.ticking = true
	prev := p.lastClosed
	interval := p.granularity
	p.mu.Unlock()

	if resume {
		p.scheduler.In(interval, p.timer)
	}
	if first {
		p.startRound(prev)
	}
	return nil
}

// timer is the heartbeat. It stops once the peer accepted its target
// number of ledgers.
func (p *Peer) timer() {
	p.mu.Lock()
	if p.completed >= p.targetLedgers {
		p.ticking = false
		p.mu.Unlock()
		return
	}
	resync := p.resyncTo
	interval := p.granularity
	p.mu.Unlock()

	if !resync.IsZero() {
		p.tryResync(resync)
	} else if err := p.engine.TimerEntry(); err != nil {
		p.mu.Lock()
		p.acceptErrors++
		p.mu.Unlock()
		p.log.WithError(err).Error("Round failed")
	}
	p.observePhase()

	p.scheduler.In(interval, p.timer)
}

func (p *Peer) startRound(prev *Ledger) {
	p.mu.Lock()
	set := p.openSetLocked(prev.Seq() + 1)
	proposer := p.runAsValidator
	p.mu.Unlock()

	err := p.engine.StartRound(prev, set)
	if errors.Is(err, rcl.ErrWrongLedger) {
		p.log.WithField("seq", prev.Seq()).Debug("Waiting for the network branch")
		return
	}
	if err != nil {
		p.log.WithError(err).Error("Failed to start round")
		return
	}

	p.mu.Lock()
	p.lastPhase = consensus.PhaseOpen
	p.mu.Unlock()
	p.Issue(StartRoundEvent{Ledger: prev, Proposer: proposer})
}

func (p *Peer) tryResync(id LedgerID) {
	l, ok := p.acquireLedger(id)
	if !ok {
		return
	}

	p.mu.Lock()
	p.resyncTo = LedgerID{}
	prior := p.lastClosed
	p.lastClosed = l
	for _, txID := range l.Txs().IDs() {
		delete(p.openTxs, txID)
	}
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"from": prior.ID().Short(),
		"to":   l.ID().Short(),
		"seq":  l.Seq(),
	}).Info("Switched to network branch")
	p.startRound(l)
}

// observePhase reports the engine closing a ledger.
func (p *Peer) observePhase() {
	st := p.engine.State()

	p.mu.Lock()
	last := p.lastPhase
	p.lastPhase = st.Phase
	closed := p.ledgers[st.Round.Parent]
	p.mu.Unlock()

	if last == consensus.PhaseOpen && st.Phase != consensus.PhaseOpen && st.Phase != consensus.PhaseAbandoned && closed != nil {
		p.Issue(CloseLedgerEvent{Ledger: closed, Proposers: st.Peers})
	}
}

// openSetLocked builds the set we would propose for ledger seq. Caller
// holds mu.
func (p *Peer) openSetLocked(seq uint32) consensus.TxSet {
	txs := make([]Tx, 0, len(p.openTxs)+1)
	for _, tx := range p.openTxs {
		txs = append(txs, tx)
	}
	if tx, ok := p.txInjections[seq]; ok {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	set := TxSetOf(txs...)
	p.txSets[set.ID()] = set
	return set
}

// -----------------------------------------------------------------------------
// Inspection

// Engine returns the peer's consensus engine, nil before Start.
func (p *Peer) Engine() *rcl.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// LastClosedLedger returns the last ledger the peer built or switched to.
func (p *Peer) LastClosedLedger() *Ledger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastClosed
}

// FullyValidatedLedger returns the latest ledger a quorum validated.
func (p *Peer) FullyValidatedLedger() *Ledger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullyValidated
}

// CompletedLedgers returns the number of ledgers the peer accepted.
func (p *Peer) CompletedLedgers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// AcceptErrors returns the number of rounds whose commit failed.
func (p *Peer) AcceptErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acceptErrors
}

// Validator reports whether the peer runs as a validator.
func (p *Peer) Validator() bool {
	return p.Proposing()
}
