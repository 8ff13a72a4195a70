package txset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

func txid(b byte) consensus.TxID {
	return consensus.TxID{b}
}

func TestSet_IDIsContentAddressed(t *testing.T) {
	a := FromIDs(txid(1), txid(2), txid(3))
	b := FromIDs(txid(3), txid(1), txid(2))
	c := FromIDs(txid(1), txid(2))

	assert.Equal(t, a.ID(), b.ID(), "order of insertion must not matter")
	assert.NotEqual(t, a.ID(), c.ID())
	assert.NotEqual(t, Empty().ID(), c.ID())
	assert.Equal(t, []consensus.TxID{txid(1), txid(2), txid(3)}, b.IDs())
}

func TestSet_Compare(t *testing.T) {
	ours := FromIDs(txid(1), txid(2), txid(4))
	theirs := FromIDs(txid(2), txid(3), txid(4), txid(5))

	diff := ours.Compare(theirs)
	require.Len(t, diff, 3)
	assert.True(t, diff[txid(1)])
	assert.False(t, diff[txid(3)])
	assert.False(t, diff[txid(5)])

	assert.Empty(t, ours.Compare(FromIDs(txid(4), txid(2), txid(1))))
}

func TestSet_ApplyLeavesReceiverUnchanged(t *testing.T) {
	base := FromBlobs([][]byte{[]byte("a"), []byte("b")})
	idA := TxIDFor([]byte("a"))
	idC := TxIDFor([]byte("c"))

	next := base.Apply([]consensus.TxChange{
		{ID: idA, Include: false},
		{ID: idC, Tx: []byte("c"), Include: true},
	})

	assert.True(t, base.Contains(idA))
	assert.False(t, base.Contains(idC))
	assert.False(t, next.Contains(idA))
	assert.True(t, next.Contains(idC))

	blob, ok := next.Tx(idC)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), blob)

	assert.Equal(t, FromBlobs([][]byte{[]byte("b"), []byte("c")}).ID(), next.ID())
	assert.Same(t, base, base.Apply(nil))
}

type memBacking struct {
	sets   map[consensus.TxSetID]*Set
	stored int
}

func (m *memBacking) LoadTxSet(id consensus.TxSetID) (*Set, error) {
	if s, ok := m.sets[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memBacking) StoreTxSet(set *Set) error {
	m.sets[set.ID()] = set
	m.stored++
	return nil
}

func TestProvider_FetchOnMissOnce(t *testing.T) {
	var fetched []consensus.TxSetID
	p, err := NewProvider(ProviderConfig{CacheSize: 4}, nil, func(id consensus.TxSetID) {
		fetched = append(fetched, id)
	}, nil)
	require.NoError(t, err)

	want := FromIDs(txid(9))
	_, ok := p.Get(want.ID())
	assert.False(t, ok)
	_, ok = p.Get(want.ID())
	assert.False(t, ok)
	assert.Equal(t, []consensus.TxSetID{want.ID()}, fetched)
	assert.Equal(t, []consensus.TxSetID{want.ID()}, p.Pending())

	p.Add(want)
	got, ok := p.Acquire(want.ID())
	require.True(t, ok)
	assert.Equal(t, want.ID(), got.ID())
	assert.Empty(t, p.Pending())
}

func TestProvider_WritesThroughAndReloads(t *testing.T) {
	backing := &memBacking{sets: make(map[consensus.TxSetID]*Set)}
	p, err := NewProvider(ProviderConfig{CacheSize: 1}, backing, nil, nil)
	require.NoError(t, err)

	first := p.Build([][]byte{[]byte("x")})
	p.Add(first)
	assert.Equal(t, 1, backing.stored)

	// evict first from the single-entry cache, then read it back
	p.Build([][]byte{[]byte("y")})
	assert.Equal(t, 2, backing.stored)
	got, ok := p.Get(first.ID())
	require.True(t, ok)
	assert.Equal(t, first.ID(), got.ID())
}

type failingBacking struct{}

func (failingBacking) LoadTxSet(consensus.TxSetID) (*Set, error) { return nil, errors.New("disk on fire") }
func (failingBacking) StoreTxSet(*Set) error                    { return errors.New("disk on fire") }

func TestProvider_BackingErrorsAreNotFatal(t *testing.T) {
	p, err := NewProvider(ProviderConfig{}, failingBacking{}, nil, nil)
	require.NoError(t, err)

	set := p.Build([][]byte{[]byte("x")})
	got, ok := p.Get(set.ID())
	require.True(t, ok)
	assert.Equal(t, set.ID(), got.ID())

	_, ok = p.Get(consensus.TxSetID{1})
	assert.False(t, ok)
}

func TestProvider_PeekNeverFetches(t *testing.T) {
	fetches := 0
	p, err := NewProvider(ProviderConfig{}, nil, func(consensus.TxSetID) { fetches++ }, nil)
	require.NoError(t, err)

	_, ok := p.Peek(consensus.TxSetID{7})
	assert.False(t, ok)
	assert.Zero(t, fetches)
	assert.Empty(t, p.Pending())

	set := p.Build([][]byte{[]byte("x")})
	got, ok := p.Peek(set.ID())
	require.True(t, ok)
	assert.Same(t, set, got)
}
