package rcl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

func TestPositionStore_Add(t *testing.T) {
	prev := consensus.LedgerID{1}
	s := NewPositionStore(20 * time.Second)
	s.Reset(prev)

	p := position(node(2), prev, set("A"), epoch, 0)
	p.ReceivedAt = epoch
	assert.Equal(t, positionStored, s.Add(p))

	p.ProposeSeq = 0
	assert.Equal(t, positionStaleSeq, s.Add(p), "same sequence is not newer")

	p.ProposeSeq = 2
	p.TxSet = set("B").ID()
	assert.Equal(t, positionStored, s.Add(p))

	older := p
	older.ProposeSeq = 1
	older.TxSet = set("C").ID()
	assert.Equal(t, positionStaleSeq, s.Add(older))

	got, ok := s.Get(node(2))
	require.True(t, ok)
	assert.Equal(t, set("B").ID(), got.TxSet)

	wrong := p
	wrong.PreviousLedger = consensus.LedgerID{9}
	wrong.ProposeSeq = 5
	assert.Equal(t, positionWrongLedger, s.Add(wrong))
	assert.Equal(t, 1, s.Len())
}

func TestPositionStore_BowOut(t *testing.T) {
	prev := consensus.LedgerID{1}
	s := NewPositionStore(20 * time.Second)
	s.Reset(prev)

	p := position(node(2), prev, set("A"), epoch, 0)
	p.ReceivedAt = epoch
	s.Add(p)

	bow := p
	bow.ProposeSeq = consensus.SeqLeave
	bow.BowOut = true
	assert.Equal(t, positionLeft, s.Add(bow))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []consensus.NodeID{node(2)}, s.Dead())
	assert.Equal(t, 1, s.Participants(), "a peer that left still took part")

	p.ProposeSeq = 7
	assert.Equal(t, positionDeadPeer, s.Add(p), "bowing out is final for the round")

	s.Reset(prev)
	assert.Empty(t, s.Dead())
	assert.Equal(t, positionStored, s.Add(p))
}

func TestPositionStore_StaleExclusion(t *testing.T) {
	prev := consensus.LedgerID{1}
	s := NewPositionStore(10 * time.Second)
	s.Reset(prev)

	fresh := position(node(2), prev, set("A"), epoch, 0)
	fresh.ReceivedAt = epoch.Add(8 * time.Second)
	old := position(node(3), prev, set("B"), epoch, 0)
	old.ReceivedAt = epoch
	s.Add(fresh)
	s.Add(old)

	now := epoch.Add(15 * time.Second)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.ActiveCount(now))
	assert.Equal(t, []consensus.NodeID{node(3)}, s.Stale(now))
	assert.True(t, s.IsStale(node(3), now))
	assert.False(t, s.IsStale(node(2), now))

	id, n, ok := s.Plurality(now)
	require.True(t, ok)
	assert.Equal(t, set("A").ID(), id)
	assert.Equal(t, 1, n)

	// an update brings the peer back
	old.ProposeSeq = 1
	old.ReceivedAt = now
	s.Add(old)
	assert.Equal(t, 2, s.ActiveCount(now))
}

func TestPositionStore_PluralityTieBreak(t *testing.T) {
	prev := consensus.LedgerID{1}
	s := NewPositionStore(time.Minute)
	s.Reset(prev)

	a, b := set("A"), set("B")
	small, large := a.ID(), b.ID()
	if large.Less(small) {
		small, large = large, small
	}

	for i, id := range []consensus.TxSetID{large, small, large, small} {
		p := consensus.Position{PreviousLedger: prev, TxSet: id, NodeID: node(byte(i + 2)), ReceivedAt: epoch}
		s.Add(p)
	}

	id, n, ok := s.Plurality(epoch)
	require.True(t, ok)
	assert.Equal(t, small, id)
	assert.Equal(t, 2, n)
	assert.Equal(t, []consensus.TxSetID{small, large}, s.Distinct(epoch))

	s.Reset(prev)
	_, _, ok = s.Plurality(epoch)
	assert.False(t, ok)
}
