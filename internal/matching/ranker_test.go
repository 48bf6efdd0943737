package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/pkg/geodist"
)

func namedSnapshot(name string, lat, lon, total, reserved, reputation float64) agents.Snapshot {
	s := snapshot(lat, lon, total, reserved, reputation)
	s.Name = name
	return s
}

func TestRankOrdersByCompositeDescending(t *testing.T) {
	ranker := NewRanker(NewScorer(150, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}}

	// Close, part-used, reputable vs far, empty, mediocre.
	agentA := namedSnapshot("A", 23.82, 90.41, 10, 2, 0.9)
	agentB := namedSnapshot("B", 24.11, 90.41, 10, 0, 0.5)

	result, err := ranker.Rank(product, []agents.Snapshot{agentB, agentA}, 1, nil)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)

	assert.Equal(t, "A", result.Candidates[0].Name)
	assert.Equal(t, "B", result.Candidates[1].Name)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, agentA.ID, result.Selected[0].AgentID)
	assert.Greater(t, result.Candidates[0].Scores.Composite, result.Candidates[1].Scores.Composite)
}

func TestRankIsDeterministicAcrossInputOrder(t *testing.T) {
	ranker := NewRanker(NewScorer(150, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}}

	pool := []agents.Snapshot{
		namedSnapshot("A", 23.82, 90.41, 10, 2, 0.9),
		namedSnapshot("B", 24.11, 90.41, 10, 0, 0.5),
		namedSnapshot("C", 23.90, 90.50, 15, 3, 0.7),
		namedSnapshot("D", 23.70, 90.30, 8, 1, 0.8),
	}
	reversed := []agents.Snapshot{pool[3], pool[2], pool[1], pool[0]}

	first, err := ranker.Rank(product, pool, 5, nil)
	require.NoError(t, err)
	second, err := ranker.Rank(product, reversed, 5, nil)
	require.NoError(t, err)

	require.Len(t, second.Candidates, len(first.Candidates))
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].AgentID, second.Candidates[i].AgentID, "position %d", i)
		assert.Equal(t, first.Candidates[i].Scores, second.Candidates[i].Scores, "position %d", i)
	}
}

func TestRankTieBreaksOnReputationThenID(t *testing.T) {
	// Proximity-only weights make colocated agents perfect ties on composite
	// unless reputation separates them.
	ranker := NewRanker(NewScorer(100, Weights{Proximity: 1}))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}}

	high := snapshot(23.81, 90.41, 10, 0, 0.9)
	low := snapshot(23.81, 90.41, 10, 0, 0.2)

	result, err := ranker.Rank(product, []agents.Snapshot{low, high}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, high.ID, result.Candidates[0].AgentID)
	assert.Equal(t, low.ID, result.Candidates[1].AgentID)

	// Full tie falls back to agent id ascending.
	twinA := snapshot(23.81, 90.41, 10, 0, 0.5)
	twinB := snapshot(23.81, 90.41, 10, 0, 0.5)
	result, err = ranker.Rank(product, []agents.Snapshot{twinB, twinA}, 2, nil)
	require.NoError(t, err)

	wantFirst, wantSecond := twinA.ID, twinB.ID
	if wantSecond.String() < wantFirst.String() {
		wantFirst, wantSecond = wantSecond, wantFirst
	}
	assert.Equal(t, wantFirst, result.Candidates[0].AgentID)
	assert.Equal(t, wantSecond, result.Candidates[1].AgentID)
}

func TestRankFiltersPool(t *testing.T) {
	ranker := NewRanker(NewScorer(100, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}, QuantityTons: 4}

	eligible := namedSnapshot("eligible", 23.82, 90.41, 10, 0, 0.5)
	inactive := namedSnapshot("inactive", 23.82, 90.41, 10, 0, 0.9)
	inactive.Active = false
	outOfRange := namedSnapshot("far", 25.50, 90.41, 10, 0, 0.9)
	full := namedSnapshot("full", 23.82, 90.41, 10, 10, 0.9)
	tooSmall := namedSnapshot("small", 23.82, 90.41, 10, 7, 0.9) // 3 free < 4 needed
	excluded := namedSnapshot("excluded", 23.82, 90.41, 10, 0, 0.9)

	pool := []agents.Snapshot{eligible, inactive, outOfRange, full, tooSmall, excluded}
	result, err := ranker.Rank(product, pool, 5, map[uuid.UUID]bool{excluded.ID: true})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, eligible.ID, result.Candidates[0].AgentID)
}

func TestRankEmptyPoolReturnsError(t *testing.T) {
	ranker := NewRanker(NewScorer(100, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}}

	_, err := ranker.Rank(product, nil, 5, nil)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)

	farOnly := []agents.Snapshot{snapshot(30.0, 95.0, 10, 0, 0.9)}
	_, err = ranker.Rank(product, farOnly, 5, nil)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)
}

func TestRankAndReserveWinnerIsTopCandidate(t *testing.T) {
	ranker := NewRanker(NewScorer(150, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}, QuantityTons: 3}

	agentA := namedSnapshot("A", 23.82, 90.41, 10, 2, 0.9)
	agentB := namedSnapshot("B", 24.11, 90.41, 10, 0, 0.5)

	ledger := agents.NewMemoryLedger()
	ledger.SetAgent(agentA.ID, 10, 2)
	ledger.SetAgent(agentB.ID, 10, 0)

	requestID := uuid.New()
	result, winner, err := ranker.RankAndReserve(context.Background(), ledger, product,
		[]agents.Snapshot{agentB, agentA}, 1, nil, requestID)
	require.NoError(t, err)
	require.NotNil(t, winner)

	assert.Equal(t, agentA.ID, winner.AgentID)
	assert.Equal(t, []uuid.UUID{agentA.ID, agentB.ID},
		[]uuid.UUID{result.Candidates[0].AgentID, result.Candidates[1].AgentID})

	available, err := ledger.AvailableCapacity(context.Background(), agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, available)
}

func TestRankAndReserveAdvancesPastLostRace(t *testing.T) {
	ranker := NewRanker(NewScorer(150, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}, QuantityTons: 3}

	agentA := namedSnapshot("A", 23.82, 90.41, 10, 2, 0.9)
	agentB := namedSnapshot("B", 24.11, 90.41, 10, 0, 0.5)

	// The ledger already saw agent A filled up after the snapshot was taken.
	ledger := agents.NewMemoryLedger()
	ledger.SetAgent(agentA.ID, 10, 9)
	ledger.SetAgent(agentB.ID, 10, 0)

	result, winner, err := ranker.RankAndReserve(context.Background(), ledger, product,
		[]agents.Snapshot{agentA, agentB}, 2, nil, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, winner)

	assert.Equal(t, agentA.ID, result.Candidates[0].AgentID, "ranking still reflects the snapshot")
	assert.Equal(t, agentB.ID, winner.AgentID, "reservation walked past the lost race")
}

func TestRankAndReserveAllRacesLost(t *testing.T) {
	ranker := NewRanker(NewScorer(150, DefaultWeights()))
	product := ProductSpec{ID: uuid.New(), Coord: geodist.Point{Lat: 23.81, Lon: 90.41}, QuantityTons: 3}

	agentA := namedSnapshot("A", 23.82, 90.41, 10, 2, 0.9)

	ledger := agents.NewMemoryLedger()
	ledger.SetAgent(agentA.ID, 10, 9)

	result, winner, err := ranker.RankAndReserve(context.Background(), ledger, product,
		[]agents.Snapshot{agentA}, 1, nil, uuid.New())
	require.ErrorIs(t, err, agents.ErrCapacityExceeded)
	assert.Nil(t, winner)
	require.NotNil(t, result)
	assert.Len(t, result.Candidates, 1)
}
