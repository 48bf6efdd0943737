package matching

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/internal/metrics"
	"gudam/marketplace/verification-backend/pkg/geodist"
)

// Service exposes read-only matching queries. It never reserves capacity;
// reservation is owned by the verification lifecycle.
type Service struct {
	directory agents.Directory
	ledger    agents.Ledger
	scorer    Scorer
	ranker    *Ranker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewService(directory agents.Directory, ledger agents.Ledger, scorer Scorer, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		directory: directory,
		ledger:    ledger,
		scorer:    scorer,
		ranker:    NewRanker(scorer),
		metrics:   m,
		logger:    logger,
	}
}

// MatchQuery is an ad-hoc ranking request against a raw coordinate
type MatchQuery struct {
	Lat           float64 `json:"lat" binding:"required"`
	Lon           float64 `json:"lon" binding:"required"`
	QuantityTons  float64 `json:"quantity"`
	MaxDistanceKm float64 `json:"max_distance_km"`
	TopN          int     `json:"top_n"`
}

// MatchAgents ranks the active agent pool against the query coordinate
// without touching any request or reservation
func (s *Service) MatchAgents(ctx context.Context, query MatchQuery) (*MatchResult, error) {
	pool, err := s.directory.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}

	ranker := s.ranker
	if query.MaxDistanceKm > 0 {
		ranker = NewRanker(NewScorer(query.MaxDistanceKm, s.scorer.Weights))
	}
	topN := query.TopN
	if topN <= 0 {
		topN = 5
	}

	spec := ProductSpec{
		Coord:        geodist.Point{Lat: query.Lat, Lon: query.Lon},
		QuantityTons: query.QuantityTons,
	}
	result, err := ranker.Rank(spec, pool, topN, nil)
	if err != nil {
		s.metrics.ObserveMatch("no_eligible_agents", len(pool))
		return nil, err
	}
	s.metrics.ObserveMatch("query", len(result.Candidates))
	return result, nil
}

// NearbyAgent pairs an agent with its distance from a query point
type NearbyAgent struct {
	agents.Snapshot
	DistanceKm float64 `json:"distance_km"`
}

// NearbyAgents lists active agents within radiusKm of the point, nearest
// first. minCapacityTons > 0 drops agents with less free capacity than that.
func (s *Service) NearbyAgents(ctx context.Context, point geodist.Point, radiusKm, minCapacityTons float64) ([]NearbyAgent, error) {
	if radiusKm <= 0 {
		radiusKm = s.scorer.MaxRadiusKm
	}
	pool, err := s.directory.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}

	nearby := make([]NearbyAgent, 0, len(pool))
	for _, agent := range pool {
		distance := geodist.DistanceKm(point, agent.Coord)
		if distance > radiusKm {
			continue
		}
		if minCapacityTons > 0 && agent.AvailableCapacityTons() < minCapacityTons {
			continue
		}
		nearby = append(nearby, NearbyAgent{Snapshot: agent, DistanceKm: distance})
	}
	sort.Slice(nearby, func(i, j int) bool {
		if nearby[i].DistanceKm != nearby[j].DistanceKm {
			return nearby[i].DistanceKm < nearby[j].DistanceKm
		}
		return nearby[i].ID.String() < nearby[j].ID.String()
	})
	return nearby, nil
}

// TopRankedAgents lists active agents by reputation, free capacity breaking
// ties
func (s *Service) TopRankedAgents(ctx context.Context, limit int) ([]agents.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	pool, err := s.directory.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Reputation != pool[j].Reputation {
			return pool[i].Reputation > pool[j].Reputation
		}
		ai, aj := pool[i].AvailableCapacityTons(), pool[j].AvailableCapacityTons()
		if ai != aj {
			return ai > aj
		}
		return pool[i].ID.String() < pool[j].ID.String()
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

// CapacityView is the live capacity summary for one agent
type CapacityView struct {
	AgentID        uuid.UUID `json:"agent_id"`
	TotalTons      float64   `json:"total_tons"`
	AvailableTons  float64   `json:"available_tons"`
	ReservedTons   float64   `json:"reserved_tons"`
	UtilizationPct float64   `json:"utilization_pct"`
	IsAcceptingNew bool      `json:"is_accepting_new"`
}

// AgentCapacity reads one agent's ledger position
func (s *Service) AgentCapacity(ctx context.Context, agentID uuid.UUID) (*CapacityView, error) {
	snapshot, err := s.directory.AgentSnapshot(ctx, agentID)
	if err != nil {
		return nil, err
	}
	available, err := s.ledger.AvailableCapacity(ctx, agentID)
	if err != nil {
		return nil, err
	}

	view := &CapacityView{
		AgentID:        agentID,
		TotalTons:      snapshot.CapacityTotalTons,
		AvailableTons:  available,
		ReservedTons:   snapshot.CapacityTotalTons - available,
		IsAcceptingNew: snapshot.Active && available > 0,
	}
	if view.TotalTons > 0 {
		view.UtilizationPct = view.ReservedTons / view.TotalTons * 100
	}
	return view, nil
}
