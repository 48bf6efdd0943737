package agents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gudam/marketplace/verification-backend/pkg/geodist"
)

// User roles
const (
	RoleFarmer = "farmer"
	RoleAgent  = "agent"
	RoleBuyer  = "buyer"
	RoleAdmin  = "admin"
)

// User represents a platform user. Agents are users with role "agent" and a
// gudam (warehouse) attached; capacity columns are only meaningful for them.
type User struct {
	ID                   uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name                 string         `gorm:"not null" json:"name"`
	Phone                string         `gorm:"not null" json:"phone"`
	Role                 string         `gorm:"not null;index" json:"role"`
	Location             datatypes.JSON `json:"location"` // {"lat": .., "lon": ..}
	GudamName            string         `json:"gudam_name"`
	StorageType          string         `json:"storage_type"`
	StorageCapacityTons  float64        `json:"storage_capacity_tons"`
	ReservedCapacityTons float64        `json:"reserved_capacity_tons"`
	AverageRating        float64        `json:"average_rating"` // 0..5, refreshed by the reputation service
	IsActive             bool           `gorm:"default:true" json:"is_active"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

// Snapshot is a point-in-time read of an agent used as scoring input.
// Reputation is pre-normalized to [0,1] (average rating / 5); coordinates and
// reputation may be stale relative to the live row.
type Snapshot struct {
	ID                   uuid.UUID     `json:"agent_id"`
	Name                 string        `json:"name"`
	GudamName            string        `json:"gudam_name"`
	Phone                string        `json:"phone"`
	StorageType          string        `json:"storage_type"`
	Coord                geodist.Point `json:"location"`
	CapacityTotalTons    float64       `json:"capacity_total_tons"`
	CapacityReservedTons float64       `json:"capacity_reserved_tons"`
	Reputation           float64       `json:"reputation"` // [0,1]
	Active               bool          `json:"active"`
}

// AvailableCapacityTons returns total minus reserved, floored at zero.
func (s Snapshot) AvailableCapacityTons() float64 {
	available := s.CapacityTotalTons - s.CapacityReservedTons
	if available < 0 {
		return 0
	}
	return available
}

// CapacityReservation is a provisional hold on an agent's storage capacity
// tied to one verification request. A released reservation keeps its row for
// audit with ReleasedAt set.
type CapacityReservation struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AgentID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"agent_id"`
	RequestID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"request_id"`
	AmountTons float64    `gorm:"not null" json:"amount_tons"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}
