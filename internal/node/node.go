// Package node runs a consensus validator: an RCL engine wired to a signing
// key, the node store, round history and a network.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/consensus/rcl"
	"github.com/LeJamon/rcld/internal/core/ledger"
	"github.com/LeJamon/rcld/internal/core/txset"
	"github.com/LeJamon/rcld/internal/crypto/validator"
	"github.com/LeJamon/rcld/internal/storage/nodestore"
	"github.com/LeJamon/rcld/internal/storage/relationaldb"
)

// GenesisTime is the close time of ledger 1 on every network.
var GenesisTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// acquireRetry is how long the node waits before asking for a missing
// ledger or transaction set again.
const acquireRetry = 2 * time.Second

var (
	// ErrQueueFull is returned when inbound messages arrive faster than
	// the node handles them.
	ErrQueueFull = errors.New("inbound queue full")

	// ErrBadSignature is returned for messages whose signature does not
	// verify.
	ErrBadSignature = errors.New("bad signature")
)

// Config holds node settings.
type Config struct {
	Params consensus.Params

	// Trusted is the UNL. The node's own key is always trusted.
	Trusted []consensus.NodeID

	// Quorum is the number of trusted validations that fully validate a
	// ledger. Zero derives it from the UNL and MinConsensusPercent.
	Quorum int

	// Proposing makes the node send positions and validations.
	Proposing bool

	TickInterval   time.Duration
	QueueSize      int
	TxSetCacheSize int
	EventBuffer    int

	// Ledgers stops Run after this many accepted ledgers. Zero runs until
	// the context ends.
	Ledgers int
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() Config {
	return Config{
		Params:         consensus.DefaultParams(),
		Proposing:      true,
		TickInterval:   time.Second,
		QueueSize:      1024,
		TxSetCacheSize: 256,
		EventBuffer:    256,
	}
}

// Deps are the services a node runs on.
type Deps struct {
	Signer *validator.Signer
	Store  *nodestore.Store

	// History records rounds and validations. May be nil.
	History relationaldb.HistoryDB

	// Network carries outbound messages. Nil keeps the node to itself.
	Network Network

	Logger *logrus.Entry

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Stats counts node activity.
type Stats struct {
	Accepted       int
	LastClosedSeq  uint32
	ValidatedSeq   uint32
	QueueDropped   uint64
	BadSignatures  uint64
	DisputeVotes   uint64
	EventsDropped  uint64
	TxSetCacheHits uint64
}

// Node is a consensus validator.
type Node struct {
	config  Config
	signer  *validator.Signer
	store   *nodestore.Store
	network Network
	events  *consensus.EventBus
	txsets  *txset.Provider
	engine  *rcl.Engine
	log     *logrus.Entry
	clock   func() time.Time

	recorder *relationaldb.Recorder
	inbound  chan message

	mu          sync.Mutex
	ledgers     *lru.Cache[consensus.LedgerID, *ledger.Ledger]
	lastClosed  *ledger.Ledger
	validated   *ledger.Ledger
	trusted     []consensus.NodeID
	openTxs     map[consensus.TxID][]byte
	proposals   []consensus.Position
	validations []consensus.Validation
	requested   map[consensus.LedgerID]time.Time
	lastRefetch time.Time
	resyncTo    consensus.LedgerID
	startNext   *ledger.Ledger
	accepted    int
	acceptedCh  chan *ledger.Ledger

	dropped       atomic.Uint64
	badSignatures atomic.Uint64
	disputeVotes  atomic.Uint64
}

var _ consensus.Adaptor = (*Node)(nil)

// New creates a node. It resumes from the store's latest ledger, or from
// genesis on an empty store.
func New(config Config, deps Deps) (*Node, error) {
	if deps.Signer == nil || deps.Store == nil {
		return nil, errors.New("node needs a signer and a store")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	network := deps.Network
	if network == nil {
		network = NopNetwork{}
	}

	cache, err := lru.New[consensus.LedgerID, *ledger.Ledger](256)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:     config,
		signer:     deps.Signer,
		store:      deps.Store,
		network:    network,
		events:     consensus.NewEventBus(config.EventBuffer),
		log:        log.WithField("node", deps.Signer.ShortID().String()[:8]),
		clock:      clock,
		inbound:    make(chan message, config.QueueSize),
		ledgers:    cache,
		openTxs:    make(map[consensus.TxID][]byte),
		requested:  make(map[consensus.LedgerID]time.Time),
		acceptedCh: make(chan *ledger.Ledger, 16),
	}
	n.trusted = trustedSet(deps.Signer.NodeID(), config.Trusted)

	n.txsets, err = txset.NewProvider(txset.ProviderConfig{CacheSize: config.TxSetCacheSize}, deps.Store,
		func(id consensus.TxSetID) { n.network.RequestTxSet(id) }, n.log)
	if err != nil {
		return nil, err
	}

	if deps.History != nil {
		n.recorder = relationaldb.NewRecorder(deps.History, n.log)
		n.events.Subscribe(n.recorder)
	}

	lcl, err := n.loadLastClosed()
	if err != nil {
		return nil, err
	}
	n.lastClosed = lcl
	n.validated = lcl
	n.ledgers.Add(lcl.ID(), lcl)

	n.engine, err = rcl.NewEngine(n, rcl.Config{Params: config.Params, Events: n.events, Logger: n.log})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func trustedSet(self consensus.NodeID, unl []consensus.NodeID) []consensus.NodeID {
	out := []consensus.NodeID{self}
	for _, id := range unl {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func (n *Node) loadLastClosed() (*ledger.Ledger, error) {
	ctx := context.Background()
	id, err := n.store.Latest(ctx)
	switch {
	case err == nil:
		l, err := n.store.LoadLedger(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load last closed ledger %s: %w", id.Short(), err)
		}
		n.log.WithFields(logrus.Fields{"seq": l.Seq(), "ledger": l.ID().Short()}).Info("Resuming from stored ledger")
		return l, nil
	case errors.Is(err, nodestore.ErrNotFound):
		g := ledger.Genesis(GenesisTime, n.config.Params.InitialCloseResolution)
		if err := n.store.SaveLedger(ctx, g); err != nil {
			return nil, fmt.Errorf("store genesis: %w", err)
		}
		if err := n.store.SetLatest(ctx, g.ID()); err != nil {
			return nil, fmt.Errorf("store genesis: %w", err)
		}
		n.log.WithField("ledger", g.ID().Short()).Info("Starting from genesis")
		return g, nil
	default:
		return nil, err
	}
}

// NodeID returns the node's validator key.
func (n *Node) NodeID() consensus.NodeID { return n.signer.NodeID() }

// Events returns the engine event bus.
func (n *Node) Events() *consensus.EventBus { return n.events }

// Engine returns the consensus engine.
func (n *Node) Engine() *rcl.Engine { return n.engine }

// LastClosed returns the last closed ledger.
func (n *Node) LastClosed() *ledger.Ledger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastClosed
}

// Validated returns the last fully validated ledger.
func (n *Node) Validated() *ledger.Ledger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.validated
}

// AcceptedLedgers delivers every ledger the node builds. Ledgers are
// dropped when nobody reads.
func (n *Node) AcceptedLedgers() <-chan *ledger.Ledger { return n.acceptedCh }

// Stats returns the node's counters.
func (n *Node) Stats() Stats {
	hits, _ := n.txsets.Stats()
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{
		Accepted:       n.accepted,
		LastClosedSeq:  n.lastClosed.Seq(),
		ValidatedSeq:   n.validated.Seq(),
		QueueDropped:   n.dropped.Load(),
		BadSignatures:  n.badSignatures.Load(),
		DisputeVotes:   n.disputeVotes.Load(),
		EventsDropped:  n.events.Dropped(),
		TxSetCacheHits: hits,
	}
}

// Quorum is the number of trusted validations that fully validate a ledger.
func (n *Node) Quorum() int {
	if n.config.Quorum > 0 {
		return n.config.Quorum
	}
	q := (len(n.trusted)*n.config.Params.MinConsensusPercent + 99) / 100
	if q < 1 {
		q = 1
	}
	return q
}

// RoundState returns a snapshot of the current consensus round.
func (n *Node) RoundState() consensus.RoundState { return n.engine.State() }
