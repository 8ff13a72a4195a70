package rcl

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/txset"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// testLedger implements consensus.Ledger with an explicit ancestry.
type testLedger struct {
	id        consensus.LedgerID
	seq       uint32
	parent    consensus.LedgerID
	closeTime time.Time
	ancestors map[uint32]consensus.LedgerID
}

func newGenesis(tag byte, seq uint32, closeTime time.Time) *testLedger {
	id := consensus.LedgerID{tag, byte(seq)}
	return &testLedger{
		id:        id,
		seq:       seq,
		closeTime: closeTime,
		ancestors: map[uint32]consensus.LedgerID{seq: id},
	}
}

func (l *testLedger) child(tag byte, closeTime time.Time) *testLedger {
	id := consensus.LedgerID{tag, byte(l.seq + 1), l.id[0], l.id[1]}
	anc := make(map[uint32]consensus.LedgerID, len(l.ancestors)+1)
	for s, a := range l.ancestors {
		anc[s] = a
	}
	anc[l.seq+1] = id
	return &testLedger{id: id, seq: l.seq + 1, parent: l.id, closeTime: closeTime, ancestors: anc}
}

func (l *testLedger) ID() consensus.LedgerID       { return l.id }
func (l *testLedger) Seq() uint32                  { return l.seq }
func (l *testLedger) ParentID() consensus.LedgerID { return l.parent }
func (l *testLedger) CloseTime() time.Time         { return l.closeTime }

func (l *testLedger) Ancestor(seq uint32) (consensus.LedgerID, bool) {
	id, ok := l.ancestors[seq]
	return id, ok
}

// fakeAdaptor records every call the engine makes and serves inputs the
// test queued. Time only moves when the test advances it.
type fakeAdaptor struct {
	mu sync.Mutex

	now       time.Time
	self      consensus.NodeID
	trusted   []consensus.NodeID
	proposing bool

	sets    map[consensus.TxSetID]consensus.TxSet
	ledgers map[consensus.LedgerID]consensus.Ledger

	inbox []consensus.Position
	vals  []consensus.Validation

	shared    []consensus.Position
	votes     []consensus.DisputeVote
	results   []consensus.ConsensusResult
	resyncs   []consensus.LedgerID
	acceptErr error
}

func newFakeAdaptor(self consensus.NodeID, peers ...consensus.NodeID) *fakeAdaptor {
	return &fakeAdaptor{
		now:       epoch,
		self:      self,
		trusted:   append([]consensus.NodeID{self}, peers...),
		proposing: true,
		sets:      make(map[consensus.TxSetID]consensus.TxSet),
		ledgers:   make(map[consensus.LedgerID]consensus.Ledger),
	}
}

func (a *fakeAdaptor) advance(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = a.now.Add(d)
}

func (a *fakeAdaptor) addSet(s consensus.TxSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sets[s.ID()] = s
}

func (a *fakeAdaptor) addLedger(l consensus.Ledger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ledgers[l.ID()] = l
}

func (a *fakeAdaptor) deliver(ps ...consensus.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inbox = append(a.inbox, ps...)
}

func (a *fakeAdaptor) deliverValidations(vs ...consensus.Validation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vals = append(a.vals, vs...)
}

func (a *fakeAdaptor) sharedPositions() []consensus.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]consensus.Position(nil), a.shared...)
}

func (a *fakeAdaptor) accepted() []consensus.ConsensusResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]consensus.ConsensusResult(nil), a.results...)
}

func (a *fakeAdaptor) AcquireTxSet(id consensus.TxSetID) (consensus.TxSet, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sets[id]
	return s, ok
}

func (a *fakeAdaptor) AcquireLedger(id consensus.LedgerID) (consensus.Ledger, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.ledgers[id]
	return l, ok
}

func (a *fakeAdaptor) Share(p consensus.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shared = append(a.shared, p)
}

func (a *fakeAdaptor) ShareDispute(v consensus.DisputeVote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.votes = append(a.votes, v)
}

func (a *fakeAdaptor) OnAccept(res consensus.ConsensusResult, prev consensus.Ledger) (consensus.Ledger, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	if a.acceptErr != nil {
		return nil, a.acceptErr
	}
	parent, ok := prev.(*testLedger)
	if !ok {
		return nil, nil
	}
	next := parent.child(res.TxSetID[0], res.CloseTime)
	a.ledgers[next.ID()] = next
	return next, nil
}

func (a *fakeAdaptor) Resync(id consensus.LedgerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resyncs = append(a.resyncs, id)
}

func (a *fakeAdaptor) Proposals() []consensus.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.inbox
	a.inbox = nil
	return out
}

func (a *fakeAdaptor) Validations() []consensus.Validation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.vals
	a.vals = nil
	return out
}

func (a *fakeAdaptor) TrustedNodes() []consensus.NodeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]consensus.NodeID(nil), a.trusted...)
}

func (a *fakeAdaptor) NodeID() consensus.NodeID { return a.self }

func (a *fakeAdaptor) Proposing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.proposing
}

func (a *fakeAdaptor) Now() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func node(b byte) consensus.NodeID {
	return consensus.NodeID{0x02, b}
}

func tx(name string) []byte {
	return []byte("tx-" + name)
}

func txIDOf(name string) consensus.TxID {
	return txset.TxIDFor(tx(name))
}

func set(names ...string) *txset.Set {
	blobs := make([][]byte, len(names))
	for i, n := range names {
		blobs[i] = tx(n)
	}
	return txset.FromBlobs(blobs)
}

func position(from consensus.NodeID, prev consensus.LedgerID, s consensus.TxSet, closeTime time.Time, seq uint32) consensus.Position {
	return consensus.Position{
		PreviousLedger: prev,
		TxSet:          s.ID(),
		CloseTime:      closeTime,
		ProposeSeq:     seq,
		NodeID:         from,
	}
}
