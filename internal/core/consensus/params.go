package consensus

import (
	"errors"
	"fmt"
	"time"
)

// ThresholdBand is one row of the dispute threshold table: until the
// establish phase has used Until of the establish timeout, a disputed
// transaction needs strictly more than Percent of the votes.
type ThresholdBand struct {
	Until   float64
	Percent int
}

// DefaultThresholds returns the escalating dispute thresholds.
func DefaultThresholds() []ThresholdBand {
	return []ThresholdBand{
		{Until: 0.50, Percent: 50},
		{Until: 0.85, Percent: 65},
		{Until: 0.95, Percent: 70},
		{Until: 1.00, Percent: 75},
	}
}

// DefaultCloseResolutions are the close time resolutions a network may
// step through, finest first.
func DefaultCloseResolutions() []time.Duration {
	return []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		60 * time.Second,
		90 * time.Second,
		120 * time.Second,
	}
}

// Params holds the tunables of a consensus instance. They must match
// across all honest participants.
type Params struct {
	// MinOpenTime is the minimum time a ledger stays open.
	MinOpenTime time.Duration

	// IdleInterval is how long an empty ledger stays open.
	IdleInterval time.Duration

	// MinEstablishTime is the minimum time spent in establish before
	// declaring consensus. Zero lets a unanimous round finish on the tick
	// that closes the ledger.
	MinEstablishTime time.Duration

	// EstablishTimeout forces acceptance of our position.
	EstablishTimeout time.Duration

	// StaleProposalTimeout excludes peers that stopped updating.
	StaleProposalTimeout time.Duration

	// ProposeInterval is how often we refresh an unchanged position.
	ProposeInterval time.Duration

	// ValidationFreshness bounds how old a validation may be.
	ValidationFreshness time.Duration

	// MinConsensusPercent is the agreement needed to accept, and the
	// validation support that marks a competing branch.
	MinConsensusPercent int

	// CloseTimeConsensusPercent is the agreement needed on a close time.
	CloseTimeConsensusPercent int

	// Thresholds is the dispute escalation table, ordered by Until.
	Thresholds []ThresholdBand

	// CloseResolutions is the ladder of close time resolutions.
	CloseResolutions []time.Duration

	// InitialCloseResolution is used for the first round.
	InitialCloseResolution time.Duration

	// MaxCloseResolution caps escalation.
	MaxCloseResolution time.Duration

	// ResolutionIncreaseEvery refines the resolution every n ledgers while
	// peers agree on close times.
	ResolutionIncreaseEvery uint32

	// ResolutionDecreaseEvery coarsens the resolution every n ledgers
	// while they don't.
	ResolutionDecreaseEvery uint32

	// ShareDisputes broadcasts our dispute votes when they change.
	ShareDisputes bool
}

// DefaultParams returns the default consensus parameters.
func DefaultParams() Params {
	return Params{
		MinOpenTime:               2 * time.Second,
		IdleInterval:              15 * time.Second,
		EstablishTimeout:          15 * time.Second,
		StaleProposalTimeout:      20 * time.Second,
		ProposeInterval:           12 * time.Second,
		ValidationFreshness:       5 * time.Minute,
		MinConsensusPercent:       80,
		CloseTimeConsensusPercent: 75,
		Thresholds:                DefaultThresholds(),
		CloseResolutions:          DefaultCloseResolutions(),
		InitialCloseResolution:    30 * time.Second,
		MaxCloseResolution:        120 * time.Second,
		ResolutionIncreaseEvery:   8,
		ResolutionDecreaseEvery:   1,
	}
}

var (
	// ErrInvalidParams is wrapped by every Validate failure.
	ErrInvalidParams = errors.New("invalid consensus parameters")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.MinOpenTime <= 0 {
		return invalid("min open time must be positive")
	}
	if p.IdleInterval < p.MinOpenTime {
		return invalid("idle interval %s is shorter than min open time %s", p.IdleInterval, p.MinOpenTime)
	}
	if p.EstablishTimeout <= p.MinEstablishTime {
		return invalid("establish timeout %s must exceed min establish time %s", p.EstablishTimeout, p.MinEstablishTime)
	}
	if p.StaleProposalTimeout <= 0 || p.ProposeInterval <= 0 {
		return invalid("proposal timeouts must be positive")
	}
	if p.ProposeInterval >= p.StaleProposalTimeout {
		return invalid("propose interval %s must be below stale timeout %s", p.ProposeInterval, p.StaleProposalTimeout)
	}
	if p.ValidationFreshness <= 0 {
		return invalid("validation freshness must be positive")
	}
	if p.MinConsensusPercent <= 50 || p.MinConsensusPercent > 100 {
		return invalid("min consensus percent %d out of range (50,100]", p.MinConsensusPercent)
	}
	if p.CloseTimeConsensusPercent <= 50 || p.CloseTimeConsensusPercent > 100 {
		return invalid("close time consensus percent %d out of range (50,100]", p.CloseTimeConsensusPercent)
	}
	if len(p.Thresholds) == 0 {
		return invalid("threshold table is empty")
	}
	prev := ThresholdBand{}
	for i, b := range p.Thresholds {
		if b.Until <= prev.Until {
			return invalid("threshold band %d does not extend past %.2f", i, prev.Until)
		}
		if b.Percent < prev.Percent || b.Percent < 50 || b.Percent >= 100 {
			return invalid("threshold band %d percent %d must be in [50,100) and not decrease", i, b.Percent)
		}
		prev = b
	}
	if len(p.CloseResolutions) == 0 {
		return invalid("close resolution ladder is empty")
	}
	found := false
	for i, r := range p.CloseResolutions {
		if r <= 0 || (i > 0 && r <= p.CloseResolutions[i-1]) {
			return invalid("close resolutions must be positive and ascending")
		}
		if r == p.InitialCloseResolution {
			found = true
		}
	}
	if !found {
		return invalid("initial close resolution %s is not on the ladder", p.InitialCloseResolution)
	}
	if p.MaxCloseResolution < p.InitialCloseResolution {
		return invalid("max close resolution %s is below the initial %s", p.MaxCloseResolution, p.InitialCloseResolution)
	}
	if p.ResolutionIncreaseEvery == 0 || p.ResolutionDecreaseEvery == 0 {
		return invalid("resolution step intervals must be positive")
	}
	return nil
}

// ThresholdFor returns the percentage a disputed transaction must exceed
// after elapsed time in establish.
func (p Params) ThresholdFor(elapsed time.Duration) int {
	frac := 1.0
	if p.EstablishTimeout > 0 {
		frac = float64(elapsed) / float64(p.EstablishTimeout)
	}
	for _, b := range p.Thresholds {
		if frac < b.Until {
			return b.Percent
		}
	}
	return p.Thresholds[len(p.Thresholds)-1].Percent
}
