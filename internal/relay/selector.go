package relay

import (
	"math/rand"
	"sort"
	"time"
)

// State is a relay candidate's lifecycle stage, reported by the relay
// itself via heartbeat and adjusted by the selector's own observations.
type State int

const (
	StateNew State = iota
	StateProbation
	StateActive
	StateDegraded
	StateDraining
	StateQuarantined
	StateBanned
)

// Metrics are the inputs to calculateScore, each pre-normalized by the
// caller (health-check loop or heartbeat ingest) to the ranges noted.
type Metrics struct {
	SuccessRate         float64 // 0.0-1.0
	HandshakeTimeoutRate float64 // 0.0-1.0
	AvgDurationScore    float64 // 0.0-1.0
	FeedbackScore       float64 // 0.0-100.0
	ProbeRTTScore       float64 // 0.0-100.0
	ProbeLossScore      float64 // 0.0-1.0
	CapacityScore       float64 // 0.0-1.0
}

// DefaultMetrics mirrors an untested relay's optimistic starting point.
func DefaultMetrics() Metrics {
	return Metrics{
		SuccessRate:      1.0,
		AvgDurationScore: 1.0,
		FeedbackScore:    50.0,
		ProbeRTTScore:    100.0,
		ProbeLossScore:   1.0,
		CapacityScore:    1.0,
	}
}

// Candidate is one relay the selector may hand out to a bonding pair.
type Candidate struct {
	ID       string
	Endpoints []string
	State    State
	Metrics  Metrics
	Region   string // empty means unknown
	ASN      uint32 // 0 means unknown
	LoadPct  float64
	LastSeen time.Time
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func freshnessMultiplier(age time.Duration) float64 {
	switch s := age.Seconds(); {
	case s <= 30:
		return 1.0
	case s <= 90:
		return 0.9
	case s <= 180:
		return 0.65
	case s <= 300:
		return 0.4
	default:
		return 0.2
	}
}

func stateMultiplier(s State) float64 {
	switch s {
	case StateNew:
		return 0.25
	case StateProbation:
		return 0.65
	case StateActive:
		return 1.0
	case StateDegraded:
		return 0.4
	default: // Draining, Quarantined, Banned
		return 0.0
	}
}

// calculateScore implements the weighted blend: 0.25 success + 0.15
// handshake reliability + 0.10 duration + 0.20 feedback + 0.15 rtt +
// 0.10 loss + 0.05 capacity, scaled by freshness and state.
func calculateScore(c Candidate, now time.Time) float64 {
	m := c.Metrics

	successScore := m.SuccessRate * 100.0
	handshakeScore := (1.0 - m.HandshakeTimeoutRate) * 100.0
	durationScore := m.AvgDurationScore * 100.0
	feedbackScore := m.FeedbackScore
	rttScore := m.ProbeRTTScore
	lossScore := m.ProbeLossScore * 100.0

	loadCapacity := (1.0 - clamp01(c.LoadPct/100.0)) * 100.0
	metricCapacity := clamp01(m.CapacityScore) * 100.0
	capacityScore := loadCapacity*0.7 + metricCapacity*0.3

	raw := successScore*0.25 +
		handshakeScore*0.15 +
		durationScore*0.10 +
		feedbackScore*0.20 +
		rttScore*0.15 +
		lossScore*0.10 +
		capacityScore*0.05

	if !c.LastSeen.IsZero() {
		age := now.Sub(c.LastSeen)
		if age < 0 {
			age = 0
		}
		raw *= freshnessMultiplier(age)
	}

	return raw * stateMultiplier(c.State)
}

// Score reports a candidate's current selection weight as of now.
func Score(c Candidate, now time.Time) float64 {
	return calculateScore(c, now)
}

// Selector picks a relay candidate via weighted random choice among
// positive-scoring candidates, falling back to the first Active,
// Probation or Degraded candidate when every candidate scores zero.
type Selector struct {
	now  func() time.Time
	rand *rand.Rand
}

// NewSelector returns a selector using the real clock and a
// process-global random source.
func NewSelector() *Selector {
	return NewSelectorWithSource(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSelectorWithSource allows tests to inject a deterministic clock
// and RNG.
func NewSelectorWithSource(now func() time.Time, r *rand.Rand) *Selector {
	return &Selector{now: now, rand: r}
}

type scored struct {
	candidate Candidate
	score     float64
}

// Select returns the chosen candidate, or false if candidates is empty.
func (s *Selector) Select(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	now := s.now()
	var positive []scored
	for _, c := range candidates {
		sc := calculateScore(c, now)
		if sc > 0 {
			positive = append(positive, scored{c, sc})
		}
	}

	if len(positive) == 0 {
		for _, c := range candidates {
			switch c.State {
			case StateActive, StateProbation, StateDegraded:
				return c, true
			}
		}
		return Candidate{}, false
	}

	minScore := positive[0].score
	for _, p := range positive {
		if p.score < minScore {
			minScore = p.score
		}
	}

	weights := make([]float64, len(positive))
	var total float64
	for i, p := range positive {
		w := p.score - minScore + 10.0
		if p.candidate.State == StateProbation {
			w *= 1.2
		}
		weights[i] = w
		total += w
	}

	if total <= 0 {
		return positive[0].candidate, true
	}

	r := s.rand.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return positive[i].candidate, true
		}
	}
	return positive[len(positive)-1].candidate, true
}

func regionDistance(a, b string) int {
	if a == b {
		return 0
	}
	pa := firstSegment(a)
	pb := firstSegment(b)
	if pa == pb {
		return 1
	}
	return 5
}

func firstSegment(region string) string {
	for i := 0; i < len(region); i++ {
		if region[i] == '-' {
			return region[:i]
		}
	}
	return region
}

// FilterByGeography orders candidates by combined distance to the
// client and server regions (unknown region on either side costs 2),
// then caps the result at maxCandidates while enforcing at most two
// relays per ASN for provider diversity. With no region hints it
// returns candidates unchanged.
func FilterByGeography(candidates []Candidate, clientRegion, serverRegion string, maxCandidates int) []Candidate {
	if clientRegion == "" && serverRegion == "" {
		return candidates
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return geoKey(sorted[i], clientRegion, serverRegion) < geoKey(sorted[j], clientRegion, serverRegion)
	})

	result := make([]Candidate, 0, len(sorted))
	seenASN := make(map[uint32]int)
	for _, c := range sorted {
		if len(result) >= maxCandidates {
			break
		}
		count := seenASN[c.ASN]
		if count < 2 {
			result = append(result, c)
			seenASN[c.ASN] = count + 1
		}
	}
	return result
}

func geoKey(c Candidate, clientRegion, serverRegion string) int {
	region := c.Region
	if region == "" {
		region = "unknown"
	}
	d1, d2 := 2, 2
	if clientRegion != "" {
		d1 = regionDistance(region, clientRegion)
	}
	if serverRegion != "" {
		d2 = regionDistance(region, serverRegion)
	}
	return d1 + d2
}
