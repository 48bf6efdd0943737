package matching

import (
	"time"

	"github.com/google/uuid"

	"gudam/marketplace/verification-backend/pkg/geodist"
)

// ProductSpec is the slice of a product the ranker needs: where it is and how
// much storage it will take up.
type ProductSpec struct {
	ID           uuid.UUID
	Coord        geodist.Point
	QuantityTons float64
}

// ScoredAgent is one ranked candidate with its sub-scores
type ScoredAgent struct {
	AgentID               uuid.UUID `json:"agent_id"`
	Name                  string    `json:"name"`
	GudamName             string    `json:"gudam_name"`
	Phone                 string    `json:"phone"`
	StorageType           string    `json:"storage_type"`
	DistanceKm            float64   `json:"distance_km"`
	AvailableCapacityTons float64   `json:"available_capacity_tons"`
	AverageRating         float64   `json:"average_rating"` // 0..5 display scale
	Scores                SubScores `json:"scores"`
}

// MatchResult is the ordered outcome of one matching invocation. It is
// ephemeral: logged for audit, never persisted.
type MatchResult struct {
	ProductID   uuid.UUID     `json:"product_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Candidates  []ScoredAgent `json:"candidates"` // full ranked list
	Selected    []ScoredAgent `json:"selected"`   // top-N chosen for notification
}

// Best returns the top-ranked candidate, or nil for an empty result
func (r *MatchResult) Best() *ScoredAgent {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}
