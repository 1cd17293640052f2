// Package cc implements DELTA, the delay-gradient congestion
// controller: a three-state machine that steers target bitrate, frame
// rate, and FEC ratio from RTT, loss, and jitter samples.
package cc

import (
	"math"
	"time"
)

// State is one of DELTA's three operating states.
type State uint8

const (
	StateStable State = iota
	StateRising
	StateCongested
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateRising:
		return "rising"
	case StateCongested:
		return "congested"
	default:
		return "unknown"
	}
}

// fpsTiers lists the frame-rate step-down ladder from SPEC_FULL.md §4.8.
var fpsTiers = []int{144, 120, 90, 60, 45, 30}

// Config holds DELTA's tunable constants, all config-overridable.
type Config struct {
	TargetDelayUs   float64 // T_limit, default 20_000
	StepKbps        float64 // default 500
	MinBitrateKbps  float64 // R_min, default 2_000
	MaxBitrateKbps  float64 // R_max, default 50_000
	KPersistence    int     // default 5
	EpsilonConfigUs float64 // default 100
	Beta            float64 // multiplicative decrease factor, default 0.85
}

// DefaultConfig returns SPEC_FULL.md §4.8's defaults.
func DefaultConfig() Config {
	return Config{
		TargetDelayUs:   20_000,
		StepKbps:        500,
		MinBitrateKbps:  2_000,
		MaxBitrateKbps:  50_000,
		KPersistence:    5,
		EpsilonConfigUs: 100,
		Beta:            0.85,
	}
}

type rttSample struct {
	at    time.Time
	rttUs float64
}

// Controller is DELTA's mutable state for a single session. It is
// serialized on the peer that owns the session (SPEC_FULL.md §5); no
// cross-peer coupling exists.
type Controller struct {
	cfg Config
	now func() time.Time

	samples []rttSample

	srttUs   float64
	haveSRTT bool
	prevDq   float64
	haveDq   bool

	state        State
	risingCount  int
	stableCount  int
	congestedAt  time.Time
	haveCongested bool
	lastFPSStep  time.Time

	bitrateKbps float64
	fpsTierIdx  int
	fecRatio    float64
}

// New returns a Controller with the given config, starting in Stable
// at the minimum configured bitrate, full frame rate, and the 5% FEC
// floor.
func New(cfg Config) *Controller {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock allows tests to inject a deterministic clock.
func NewWithClock(cfg Config, now func() time.Time) *Controller {
	return &Controller{
		cfg:         cfg,
		now:         now,
		state:       StateStable,
		bitrateKbps: cfg.MinBitrateKbps,
		fpsTierIdx:  0,
		fecRatio:    0.05,
	}
}

// State returns the current DELTA state.
func (c *Controller) State() State { return c.state }

// BitrateKbps returns the current target bitrate.
func (c *Controller) BitrateKbps() float64 { return c.bitrateKbps }

// FPS returns the current frame-rate tier.
func (c *Controller) FPS() int { return fpsTiers[c.fpsTierIdx] }

// FECRatio returns the current FEC ratio (0 to 0.5).
func (c *Controller) FECRatio() float64 { return c.fecRatio }

const rttWindow = 10 * time.Second

// rttMin returns the minimum RTT sample within the trailing 10s window.
func (c *Controller) rttMin(now time.Time) float64 {
	min := math.Inf(1)
	kept := c.samples[:0]
	for _, s := range c.samples {
		if now.Sub(s.at) > rttWindow {
			continue
		}
		kept = append(kept, s)
		if s.rttUs < min {
			min = s.rttUs
		}
	}
	c.samples = kept
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// OnSample folds a fresh (rtt, loss, jitter) observation into DELTA and
// runs one full state-transition + action step.
//
// rttUs: latest RTT sample in microseconds.
// lossRatio: observed loss in [0,1] over the current reporting period.
// jitterUs: current arrival jitter estimate in microseconds.
func (c *Controller) OnSample(rttUs, lossRatio, jitterUs float64) {
	now := c.now()
	c.samples = append(c.samples, rttSample{at: now, rttUs: rttUs})

	if !c.haveSRTT {
		c.srttUs = rttUs
		c.haveSRTT = true
	} else {
		c.srttUs = 0.875*c.srttUs + 0.125*rttUs
	}

	rttMin := c.rttMin(now)
	dq := math.Max(c.srttUs-rttMin, 0)

	var deltaDq float64
	if c.haveDq {
		deltaDq = dq - c.prevDq
	}
	c.prevDq = dq
	c.haveDq = true

	epsilon := math.Max(c.srttUs*0.05, c.cfg.EpsilonConfigUs)

	c.transition(now, dq, deltaDq, epsilon)
	c.act(now, dq, lossRatio, jitterUs)
	c.preemptiveFEC(jitterUs)
}

func (c *Controller) transition(now time.Time, dq, deltaDq, epsilon float64) {
	switch {
	case dq > c.cfg.TargetDelayUs:
		if c.state != StateCongested {
			c.congestedAt = now
			c.haveCongested = true
			c.lastFPSStep = now
		}
		c.state = StateCongested
		c.risingCount = 0
		c.stableCount = 0

	case deltaDq > epsilon:
		c.stableCount = 0
		c.risingCount++
		if c.state == StateStable && c.risingCount >= c.cfg.KPersistence {
			c.state = StateRising
		}

	case deltaDq <= 0:
		c.risingCount = 0
		c.stableCount++
		if c.state != StateStable && c.stableCount >= c.cfg.KPersistence {
			c.state = StateStable
			c.haveCongested = false
		}
	}
}

func (c *Controller) act(now time.Time, dq, lossRatio, jitterUs float64) {
	switch c.state {
	case StateStable:
		increase := c.cfg.StepKbps * (1 - dq/c.cfg.TargetDelayUs)
		c.bitrateKbps = math.Min(c.bitrateKbps+increase, c.cfg.MaxBitrateKbps)
		if jitterUs < 5000 {
			c.fecRatio = math.Max(c.fecRatio-0.001, 0.05)
		}

	case StateRising:
		// hold bitrate

	case StateCongested:
		c.bitrateKbps = math.Max(c.bitrateKbps*c.cfg.Beta, c.cfg.MinBitrateKbps)

		if c.haveCongested && now.Sub(c.congestedAt) > time.Second {
			if c.fpsTierIdx < len(fpsTiers)-1 {
				c.fpsTierIdx++
			}
			c.congestedAt = now
		}

		if lossRatio > 0.01 {
			c.fecRatio = math.Min(c.fecRatio*1.5, 0.5)
		}
	}
}

func (c *Controller) preemptiveFEC(jitterUs float64) {
	switch {
	case jitterUs > 10000:
		c.fecRatio = math.Min(c.fecRatio+0.02, 0.25)
	case jitterUs > 5000:
		c.fecRatio = math.Min(c.fecRatio+0.01, 0.20)
	}
}
