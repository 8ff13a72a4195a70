package rcl

import (
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// roundCloseTime rounds t to the nearest multiple of resolution since the
// Unix epoch, halves rounding up. The zero time stays zero.
func roundCloseTime(t time.Time, resolution time.Duration) time.Time {
	if t.IsZero() || resolution <= 0 {
		return t
	}
	ns := t.UnixNano() + int64(resolution/2)
	ns -= ns % int64(resolution)
	return time.Unix(0, ns).UTC()
}

// effCloseTime is the close time a ledger records: the rounded close time,
// but always at least one second after its parent.
func effCloseTime(t time.Time, resolution time.Duration, priorClose time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	rounded := roundCloseTime(t, resolution)
	floor := priorClose.Add(time.Second)
	if rounded.Before(floor) {
		return floor.UTC()
	}
	return rounded
}

// nextResolution returns the close time resolution for ledger seq given the
// resolution of its parent and whether the parent's close time was agreed.
// Without agreement the resolution gets coarser, with agreement it gets
// finer, each at its own cadence.
func nextResolution(p consensus.Params, parent time.Duration, prevAgreed bool, seq uint32) time.Duration {
	ladder := p.CloseResolutions
	idx := -1
	for i, r := range ladder {
		if r == parent {
			idx = i
			break
		}
	}
	if idx < 0 {
		return p.InitialCloseResolution
	}

	if !prevAgreed && seq%p.ResolutionDecreaseEvery == 0 {
		if idx+1 < len(ladder) && ladder[idx+1] <= p.MaxCloseResolution {
			return ladder[idx+1]
		}
		return parent
	}
	if prevAgreed && seq%p.ResolutionIncreaseEvery == 0 {
		if idx > 0 {
			return ladder[idx-1]
		}
	}
	return parent
}

// participantsNeeded is how many of participants make up percent, rounded
// to nearest and never less than one.
func participantsNeeded(participants, percent int) int {
	n := (participants*percent + percent/2) / 100
	if n == 0 {
		return 1
	}
	return n
}

// closeInputs carries what shouldClose looks at.
type closeInputs struct {
	anyTransactions    bool
	prevProposers      int
	proposersClosed    int
	proposersValidated int
	prevRoundTime      time.Duration
	sincePrevClose     time.Duration
	openTime           time.Duration
}

// shouldClose decides whether the open ledger should close now. Nothing
// closes the ledger before it has been open for MinOpenTime.
func shouldClose(p consensus.Params, in closeInputs) bool {
	if in.openTime < p.MinOpenTime {
		return false
	}

	if in.prevRoundTime < -time.Second || in.prevRoundTime > 10*time.Minute ||
		in.sincePrevClose > 10*time.Minute {
		// clocks are off, don't wait on them
		return true
	}

	// more than half of the previous proposers have closed or moved on
	if in.proposersClosed+in.proposersValidated > in.prevProposers/2 {
		return true
	}

	if !in.anyTransactions {
		return in.sincePrevClose >= p.IdleInterval
	}

	// don't close more than twice as fast as the last round agreed, so
	// slower validators can hold the pace down
	if in.openTime < in.prevRoundTime/2 {
		return false
	}
	return true
}

// consensusState is the outcome of a convergence check.
type consensusState int

const (
	stateNo consensusState = iota
	stateMovedOn
	stateYes
)

func (s consensusState) String() string {
	switch s {
	case stateYes:
		return "yes"
	case stateMovedOn:
		return "movedOn"
	default:
		return "no"
	}
}

// consensusReached reports whether agreeing out of total reaches percent.
// A node with nobody to agree with has consensus.
func consensusReached(agreeing, total int, countSelf bool, percent int) bool {
	if total == 0 {
		return true
	}
	if countSelf {
		agreeing++
		total++
	}
	return agreeing*100 >= percent*total
}

// convergeInputs carries what checkConsensus looks at.
type convergeInputs struct {
	prevProposers int
	proposers     int
	agree         int

	// participants counts trusted peers that proposed at any point this
	// round, trusted the rest of our UNL. Zero trusted skips the check.
	participants int
	trusted      int

	finished      int
	prevRoundTime time.Duration
	elapsed       time.Duration
	proposing     bool
}

// checkConsensus decides whether the round has converged.
func checkConsensus(p consensus.Params, in convergeInputs) consensusState {
	if in.elapsed < p.MinEstablishTime {
		return stateNo
	}

	// fewer than 3/4 of last round's proposers are here; give the rest
	// as long as the last round took
	if in.proposers < in.prevProposers*3/4 {
		if in.elapsed < in.prevRoundTime+p.MinEstablishTime {
			return stateNo
		}
	}

	// too few of the UNL ever showed up; only the timeout accepts
	quorate := in.trusted == 0 ||
		consensusReached(in.participants, in.trusted, in.proposing, p.MinConsensusPercent)

	if quorate && consensusReached(in.agree, in.proposers, in.proposing, p.MinConsensusPercent) {
		return stateYes
	}

	if in.proposers > 0 && consensusReached(in.finished, in.proposers, false, p.MinConsensusPercent) {
		return stateMovedOn
	}
	return stateNo
}
