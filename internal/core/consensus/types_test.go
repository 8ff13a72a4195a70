package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationSupersedes(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Validation{LedgerSeq: 5, SignTime: now}

	assert.True(t, Validation{LedgerSeq: 6, SignTime: now.Add(-time.Minute)}.Supersedes(base))
	assert.False(t, Validation{LedgerSeq: 4, SignTime: now.Add(time.Minute)}.Supersedes(base))
	assert.True(t, Validation{LedgerSeq: 5, SignTime: now.Add(time.Second)}.Supersedes(base))
	assert.False(t, base.Supersedes(base))
}

func TestPhaseFinished(t *testing.T) {
	assert.True(t, PhaseAccepted.Finished())
	assert.True(t, PhaseAbandoned.Finished())
	assert.False(t, PhaseOpen.Finished())
	assert.False(t, PhaseEstablish.Finished())
}

func TestIDOrdering(t *testing.T) {
	a := TxSetID{0x01}
	b := TxSetID{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
	assert.Len(t, a.Short(), 8)
	assert.True(t, LedgerID{}.IsZero())
}

func TestDiscardsTotal(t *testing.T) {
	d := Discards{WrongLedger: 1, StaleSeq: 2, Late: 3, OldValidated: 4}
	assert.Equal(t, 10, d.Total())
}

func TestResultStrings(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "movedOn", ResultMovedOn.String())
	assert.Equal(t, "expired", ResultExpired.String())
}
