package matching

import (
	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/pkg/geodist"
)

// Weights are the composite score coefficients. They are configuration so
// operators can retune without a deploy; DefaultWeights reproduces the
// documented 40/30/30 proximity/capacity/reputation split.
type Weights struct {
	Proximity  float64
	Capacity   float64
	Reputation float64
}

// DefaultWeights returns the stock 40/30/30 split
func DefaultWeights() Weights {
	return Weights{Proximity: 0.4, Capacity: 0.3, Reputation: 0.3}
}

// SubScores holds the normalized sub-scores and weighted composite for one
// agent against one product. All scores lie in [0,1].
type SubScores struct {
	DistanceKm float64 `json:"distance_km"`
	Proximity  float64 `json:"proximity"`
	Capacity   float64 `json:"capacity"`
	Reputation float64 `json:"reputation"`
	Composite  float64 `json:"composite"`
}

// Scorer computes match scores from snapshot inputs. It is a pure function
// over its inputs: no lookups, no side effects.
type Scorer struct {
	MaxRadiusKm float64
	Weights     Weights
}

// NewScorer creates a scorer with the given matching horizon and weights
func NewScorer(maxRadiusKm float64, weights Weights) Scorer {
	return Scorer{MaxRadiusKm: maxRadiusKm, Weights: weights}
}

// Score computes the sub-scores and weighted composite for one agent.
// Eligibility (radius cutoff, zero capacity) is decided separately by the
// ranker filter; Score only maps inputs to [0,1].
func (s Scorer) Score(productCoord geodist.Point, agent agents.Snapshot) SubScores {
	distance := geodist.DistanceKm(productCoord, agent.Coord)

	proximity := 0.0
	if s.MaxRadiusKm > 0 {
		proximity = clamp01(1 - distance/s.MaxRadiusKm)
	}

	capacity := 0.0
	if agent.CapacityTotalTons > 0 {
		capacity = clamp01(agent.AvailableCapacityTons() / agent.CapacityTotalTons)
	}

	reputation := clamp01(agent.Reputation)

	composite := s.Weights.Proximity*proximity +
		s.Weights.Capacity*capacity +
		s.Weights.Reputation*reputation

	return SubScores{
		DistanceKm: distance,
		Proximity:  proximity,
		Capacity:   capacity,
		Reputation: reputation,
		Composite:  composite,
	}
}

// WithinRadius reports whether the agent sits inside the matching horizon.
// Agents past the horizon are excluded from the pool entirely, not scored 0.
func (s Scorer) WithinRadius(productCoord geodist.Point, agent agents.Snapshot) bool {
	return geodist.DistanceKm(productCoord, agent.Coord) <= s.MaxRadiusKm
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
