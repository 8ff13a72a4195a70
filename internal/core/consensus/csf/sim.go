package csf

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// ErrStalled is returned when peers fail to reach their target ledger
// within the simulated time budget.
var ErrStalled = errors.New("simulation stalled")

// Config holds simulation settings shared by every peer.
type Config struct {
	// Params are the consensus parameters of every peer.
	Params consensus.Params

	// Granularity is the peers' heartbeat interval.
	Granularity time.Duration

	// Epoch is the wall clock time of simulated time zero and the close
	// time of genesis.
	Epoch time.Time

	// Seed seeds the simulation's random source.
	Seed int64

	// Logger receives peer and engine logs. Discarded if nil.
	Logger *logrus.Entry
}

// DefaultConfig returns the simulation defaults.
func DefaultConfig() Config {
	return Config{
		Params:      DefaultSimParams(),
		Granularity: time.Second,
		Epoch:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Sim wires a scheduler, network, trust graph and ledger oracle to a set
// of peers and drives them.
type Sim struct {
	Scheduler  *Scheduler
	Oracle     *LedgerOracle
	Net        *BasicNetwork
	TrustGraph *TrustGraph
	Collectors *Collectors
	Rng        *rand.Rand

	config Config
	log    *logrus.Entry

	rounds *RoundCollector
	txs    *TxCollector
	jumps  *JumpCollector
	span   *SimDurationCollector

	all    *PeerGroup
	nextID PeerID
}

// NewSim creates a simulation with the default configuration.
func NewSim() *Sim {
	return NewSimWithConfig(DefaultConfig())
}

// NewSimWithConfig creates a simulation with no peers, trust or links.
func NewSimWithConfig(config Config) *Sim {
	if config.Granularity <= 0 {
		config.Granularity = time.Second
	}
	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	scheduler := NewScheduler(config.Epoch)
	s := &Sim{
		Scheduler:  scheduler,
		Oracle:     NewLedgerOracle(config.Epoch),
		Net:        NewBasicNetwork(scheduler),
		TrustGraph: NewTrustGraph(),
		Collectors: NewCollectors(),
		Rng:        rand.New(rand.NewSource(config.Seed)),
		config:     config,
		log:        log.WithField("component", "csf"),
		rounds:     NewRoundCollector(),
		txs:        NewTxCollector(),
		jumps:      NewJumpCollector(),
		span:       &SimDurationCollector{},
		all:        NewPeerGroup(),
	}
	for _, c := range []Collector{s.rounds, s.txs, s.jumps, s.span} {
		s.Collectors.Add(c)
	}
	return s
}

// CreateGroup adds n peers with no trust or links.
func (s *Sim) CreateGroup(n int) *PeerGroup {
	peers := make([]*Peer, n)
	for i := range peers {
		p := NewPeer(s.nextID, s.Scheduler, s.Oracle, s.Net, s.TrustGraph, s.Collectors, s.log)
		p.SetParams(s.config.Params)
		p.SetGranularity(s.config.Granularity)
		peers[i] = p
		s.nextID++
	}
	group := NewPeerGroup(peers...)
	s.all = s.all.Union(group)
	return group
}

// Size returns the number of peers.
func (s *Sim) Size() int { return s.all.Size() }

// Peers returns every peer in ID order.
func (s *Sim) Peers() []*Peer { return s.all.Peers() }

// AllPeers returns a group of every peer.
func (s *Sim) AllPeers() *PeerGroup { return s.all }

// Peer returns the peer with the given ID.
func (s *Sim) Peer(id PeerID) (*Peer, bool) {
	return s.Net.Node(id)
}

// Now returns the current simulated time.
func (s *Sim) Now() SimTime { return s.Scheduler.Now() }

// AddCollector adds a collector for peer events.
func (s *Sim) AddCollector(c Collector) { s.Collectors.Add(c) }

// Run runs until every peer accepted n more ledgers. It returns
// ErrStalled if that takes longer than n rounds can reasonably last.
func (s *Sim) Run(n int) error {
	for _, p := range s.Peers() {
		p.SetTargetLedgers(p.CompletedLedgers() + n)
		if err := p.Start(); err != nil {
			return err
		}
	}

	perRound := s.config.Params.IdleInterval + 2*s.config.Params.EstablishTimeout
	deadline := s.Now() + SimTime(time.Duration(n+1)*perRound)
	s.Scheduler.StepWhile(func() bool {
		return s.Now() <= deadline && !s.reachedTargets()
	})
	if !s.reachedTargets() {
		return fmt.Errorf("%w: %d ledgers not accepted by %s", ErrStalled, n, time.Duration(s.Now()))
	}
	return nil
}

// RunFor runs every peer for d of simulated time.
func (s *Sim) RunFor(d SimDuration) error {
	for _, p := range s.Peers() {
		p.SetTargetLedgers(1<<31 - 1)
		if err := p.Start(); err != nil {
			return err
		}
	}
	s.Scheduler.StepFor(d)
	return nil
}

func (s *Sim) reachedTargets() bool {
	for _, p := range s.Peers() {
		if p.CompletedLedgers() < p.TargetLedgers() {
			return false
		}
	}
	return true
}

// Synchronized reports whether every peer in the group has the same last
// closed ledger.
func (s *Sim) Synchronized(group *PeerGroup) bool {
	if group.Size() == 0 {
		return true
	}
	ref := group.Get(0).LastClosedLedger().ID()
	for _, p := range group.Peers() {
		if p.LastClosedLedger().ID() != ref {
			return false
		}
	}
	return true
}

// Branches counts the branches among the group's last closed ledgers.
func (s *Sim) Branches(group *PeerGroup) int {
	ledgers := make([]*Ledger, 0, group.Size())
	for _, p := range group.Peers() {
		ledgers = append(ledgers, p.LastClosedLedger())
	}
	return s.Oracle.Branches(ledgers)
}

// ValidatedBranches counts the branches among the group's fully
// validated ledgers.
func (s *Sim) ValidatedBranches(group *PeerGroup) int {
	ledgers := make([]*Ledger, 0, group.Size())
	for _, p := range group.Peers() {
		ledgers = append(ledgers, p.FullyValidatedLedger())
	}
	return s.Oracle.Branches(ledgers)
}

// -----------------------------------------------------------------------------
// Topologies

// SetupFullyConnected creates n peers that all trust and link to each
// other.
func (s *Sim) SetupFullyConnected(n int, delay SimDuration) *PeerGroup {
	group := s.CreateGroup(n)
	group.TrustAndConnect(group, delay)
	return group
}

// SetupHubAndSpokes creates a hub linked to every spoke, with no links
// between spokes. Everybody trusts everybody, so spokes only hear each
// other through the hub.
func (s *Sim) SetupHubAndSpokes(spokes int, delay SimDuration) (*Peer, *PeerGroup) {
	hub := s.CreateGroup(1)
	rest := s.CreateGroup(spokes)
	everyone := hub.Union(rest)
	everyone.Trust(everyone)
	hub.Connect(rest, delay)
	return hub.Get(0), rest
}

// SetupRanked creates n peers whose UNLs of size unl are drawn from
// groups favouring low IDs, then links peers to the peers they trust.
func (s *Sim) SetupRanked(n, unl int, delay SimDuration) *PeerGroup {
	group := s.CreateGroup(n)
	RandomRankedTrust(group, ZipfRanks(n), n/2+1, func() int { return unl }, s.Rng)
	group.ConnectFromTrust(delay)
	return group
}

// Partition cuts every link between a and b.
func (s *Sim) Partition(a, b *PeerGroup) {
	a.Disconnect(b)
}

// Heal relinks every peer of a with every peer of b.
func (s *Sim) Heal(a, b *PeerGroup, delay SimDuration) {
	a.Connect(b, delay)
}

// SubmitTx submits tx to a peer.
func (s *Sim) SubmitTx(p *Peer, tx Tx) {
	p.Submit(tx)
}

// SubmitEvery submits a fresh transaction to p every interval until the
// simulated time stop, numbering them from first.
func (s *Sim) SubmitEvery(p *Peer, interval SimDuration, stop SimTime, first uint32) {
	id := first
	var submit func()
	submit = func() {
		if s.Now() > stop {
			return
		}
		p.Submit(Tx{ID: id})
		id++
		s.Scheduler.In(interval, submit)
	}
	s.Scheduler.In(0, submit)
}

// -----------------------------------------------------------------------------
// Reporting

// Report summarizes a simulation.
type Report struct {
	Peers          int
	SimTime        time.Duration
	Accepted       int
	Expired        int
	MovedOn        int
	CloseAgreed    int
	FullyValidated int
	WrongLedger    int
	CloseJumps     int
	MaxSeq         uint32
	Branches       int
	MeanOpen       time.Duration
	MeanEstablish  time.Duration
	TxsValidated   int
	MeanTxLatency  time.Duration
	Messages       uint64
	Dropped        uint64
	AcceptErrors   int
}

// Report summarizes what happened so far.
func (s *Sim) Report() Report {
	latency, validated := s.txs.MeanLatency()
	sent, dropped := s.Net.Stats()
	errs := 0
	for _, p := range s.Peers() {
		errs += p.AcceptErrors()
	}
	return Report{
		Peers:          s.Size(),
		SimTime:        time.Duration(s.Now()),
		Accepted:       s.rounds.Accepted,
		Expired:        s.rounds.ByResult[consensus.ResultExpired],
		MovedOn:        s.rounds.ByResult[consensus.ResultMovedOn],
		CloseAgreed:    s.rounds.CloseAgreed,
		FullyValidated: s.rounds.FullyValidated,
		WrongLedger:    s.rounds.Wrong,
		CloseJumps:     len(s.jumps.CloseJumps),
		MaxSeq:         s.rounds.MaxSeq,
		Branches:       s.Branches(s.all),
		MeanOpen:       s.rounds.MeanOpen(),
		MeanEstablish:  s.rounds.MeanEstablish(),
		TxsValidated:   validated,
		MeanTxLatency:  latency,
		Messages:       sent,
		Dropped:        dropped,
		AcceptErrors:   errs,
	}
}

// Fields renders the report for structured logging.
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"peers":          r.Peers,
		"simTime":        r.SimTime,
		"accepted":       r.Accepted,
		"expired":        r.Expired,
		"movedOn":        r.MovedOn,
		"closeAgreed":    r.CloseAgreed,
		"fullyValidated": r.FullyValidated,
		"wrongLedger":    r.WrongLedger,
		"closeJumps":     r.CloseJumps,
		"maxSeq":         r.MaxSeq,
		"branches":       r.Branches,
		"meanOpen":       r.MeanOpen,
		"meanEstablish":  r.MeanEstablish,
		"txsValidated":   r.TxsValidated,
		"meanTxLatency":  r.MeanTxLatency,
		"messages":       r.Messages,
		"dropped":        r.Dropped,
		"acceptErrors":   r.AcceptErrors,
	}
}
