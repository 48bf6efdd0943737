package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"gudam/marketplace/verification-backend/internal/agents"
)

// ErrNoEligibleAgents is returned when the filtered candidate pool is empty.
// It is surfaced to the caller, never silently retried.
var ErrNoEligibleAgents = errors.New("no eligible agents in candidate pool")

// Ranker turns a candidate pool into a deterministic ranked list
type Ranker struct {
	scorer Scorer
}

// NewRanker creates a ranker over the given scorer
func NewRanker(scorer Scorer) *Ranker {
	return &Ranker{scorer: scorer}
}

// Rank filters, scores and orders the candidate pool for a product. Agents in
// exclude are skipped for this cycle (used on re-match to bar the prior
// agent). topN <= 0 selects nobody but still returns the full ranked list.
//
// Ordering is fully deterministic: composite descending, then reputation
// descending, then agent id ascending.
func (r *Ranker) Rank(product ProductSpec, pool []agents.Snapshot, topN int, exclude map[uuid.UUID]bool) (*MatchResult, error) {
	candidates := make([]ScoredAgent, 0, len(pool))

	for _, agent := range pool {
		if !agent.Active {
			continue
		}
		if exclude[agent.ID] {
			continue
		}
		if !r.scorer.WithinRadius(product.Coord, agent) {
			continue
		}
		available := agent.AvailableCapacityTons()
		if available <= 0 {
			continue
		}
		if product.QuantityTons > 0 && available < product.QuantityTons {
			continue
		}

		scores := r.scorer.Score(product.Coord, agent)
		candidates = append(candidates, ScoredAgent{
			AgentID:               agent.ID,
			Name:                  agent.Name,
			GudamName:             agent.GudamName,
			Phone:                 agent.Phone,
			StorageType:           agent.StorageType,
			DistanceKm:            scores.DistanceKm,
			AvailableCapacityTons: available,
			AverageRating:         agent.Reputation * 5,
			Scores:                scores,
		})
	}

	if len(candidates) == 0 {
		return nil, ErrNoEligibleAgents
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Scores.Composite != b.Scores.Composite {
			return a.Scores.Composite > b.Scores.Composite
		}
		if a.Scores.Reputation != b.Scores.Reputation {
			return a.Scores.Reputation > b.Scores.Reputation
		}
		return a.AgentID.String() < b.AgentID.String()
	})

	result := &MatchResult{
		ProductID:   product.ID,
		GeneratedAt: time.Now(),
		Candidates:  candidates,
	}
	if topN > 0 {
		n := topN
		if n > len(candidates) {
			n = len(candidates)
		}
		result.Selected = candidates[:n]
	}
	return result, nil
}

// RankAndReserve ranks the pool, then walks the ranked list strictly in order
// attempting to reserve capacity for the request. A candidate that lost a
// capacity race is skipped and the next one tried, so rank order stays the
// tie-break for contested capacity. At most one agent ends up reserved.
//
// Returns ErrCapacityExceeded when every ranked candidate lost its race.
func (r *Ranker) RankAndReserve(ctx context.Context, ledger agents.Ledger, product ProductSpec, pool []agents.Snapshot, topN int, exclude map[uuid.UUID]bool, requestID uuid.UUID) (*MatchResult, *ScoredAgent, error) {
	result, err := r.Rank(product, pool, topN, exclude)
	if err != nil {
		return nil, nil, err
	}

	for i := range result.Candidates {
		candidate := &result.Candidates[i]
		_, err := ledger.Reserve(ctx, candidate.AgentID, product.QuantityTons, requestID)
		if errors.Is(err, agents.ErrCapacityExceeded) || errors.Is(err, agents.ErrAgentNotFound) {
			continue
		}
		if err != nil {
			return result, nil, fmt.Errorf("reservation failed for agent %s: %w", candidate.AgentID, err)
		}
		return result, candidate, nil
	}

	return result, nil, fmt.Errorf("all %d ranked candidates lost their capacity race: %w",
		len(result.Candidates), agents.ErrCapacityExceeded)
}
