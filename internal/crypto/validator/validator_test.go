package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/crypto"
)

func newSigner(t *testing.T, seed string) *Signer {
	t.Helper()
	key, err := crypto.KeyPairFromSeed([]byte(seed))
	require.NoError(t, err)
	return NewSigner(key)
}

func TestPositionSignature(t *testing.T) {
	s := newSigner(t, "alice")
	p := consensus.Position{
		PreviousLedger: consensus.LedgerID{1},
		TxSet:          consensus.TxSetID{2},
		CloseTime:      time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC),
		ProposeSeq:     3,
	}
	s.SignPosition(&p)
	assert.Equal(t, s.NodeID(), p.NodeID)
	require.NoError(t, VerifyPosition(p))

	// receive time is local and not signed
	p.ReceivedAt = time.Now()
	require.NoError(t, VerifyPosition(p))

	changed := p
	changed.ProposeSeq = 4
	assert.ErrorIs(t, VerifyPosition(changed), crypto.ErrInvalidSignature)

	bowOut := p
	bowOut.BowOut = true
	assert.ErrorIs(t, VerifyPosition(bowOut), crypto.ErrInvalidSignature)

	// a position relabelled with someone else's ID fails
	forged := p
	forged.NodeID = newSigner(t, "mallory").NodeID()
	assert.Error(t, VerifyPosition(forged))
}

func TestValidationSignature(t *testing.T) {
	s := newSigner(t, "bob")
	v := consensus.Validation{
		LedgerID:  consensus.LedgerID{9},
		LedgerSeq: 12,
		SignTime:  time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC),
		Full:      true,
	}
	s.SignValidation(&v)
	require.NoError(t, VerifyValidation(v))

	v.SeenTime = time.Now()
	require.NoError(t, VerifyValidation(v))

	v.LedgerSeq = 13
	assert.ErrorIs(t, VerifyValidation(v), crypto.ErrInvalidSignature)
}

func TestDisputeSignature(t *testing.T) {
	s := newSigner(t, "carol")
	d := consensus.DisputeVote{
		PreviousLedger: consensus.LedgerID{1},
		TxID:           consensus.TxID{5},
		NodeID:         s.NodeID(),
		Vote:           true,
	}
	sig := s.SignDispute(d)
	require.NoError(t, VerifyDispute(d, sig))

	d.Vote = false
	assert.Error(t, VerifyDispute(d, sig))
}
