package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gudam/marketplace/verification-backend/pkg/geodist"
)

// ErrAgentNotFound is returned when an agent id does not resolve to an
// active agent user.
var ErrAgentNotFound = errors.New("agent not found")

// Directory provides read access to the user directory. User rows are owned
// by the user-management service; this side only reads snapshots.
type Directory interface {
	AgentSnapshot(ctx context.Context, agentID uuid.UUID) (*Snapshot, error)
	ListActiveAgents(ctx context.Context) ([]Snapshot, error)
	Contact(ctx context.Context, userID uuid.UUID) (name, phone string, err error)
}

// GormDirectory reads user rows through gorm
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory creates a directory backed by the shared database
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// AgentSnapshot returns a point-in-time snapshot of one agent
func (d *GormDirectory) AgentSnapshot(ctx context.Context, agentID uuid.UUID) (*Snapshot, error) {
	var user User
	err := d.db.WithContext(ctx).
		Where("id = ? AND role = ?", agentID, RoleAgent).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	snapshot, ok := snapshotFromUser(&user)
	if !ok {
		// Agent without a usable coordinate; still return the snapshot so
		// capacity projections work, but it is never matchable.
		snapshot = Snapshot{
			ID:                   user.ID,
			Name:                 user.Name,
			GudamName:            user.GudamName,
			Phone:                user.Phone,
			StorageType:          user.StorageType,
			CapacityTotalTons:    user.StorageCapacityTons,
			CapacityReservedTons: user.ReservedCapacityTons,
			Reputation:           normalizeRating(user.AverageRating),
			Active:               false,
		}
	}
	return &snapshot, nil
}

// ListActiveAgents returns snapshots for every active agent with a usable
// coordinate. Agents missing lat/lon are skipped, not scored.
func (d *GormDirectory) ListActiveAgents(ctx context.Context) ([]Snapshot, error) {
	var users []User
	err := d.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", RoleAgent, true).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(users))
	for i := range users {
		if snapshot, ok := snapshotFromUser(&users[i]); ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}

// Contact returns the name and phone number for any user
func (d *GormDirectory) Contact(ctx context.Context, userID uuid.UUID) (string, string, error) {
	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", fmt.Errorf("user %s: %w", userID, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return user.Name, user.Phone, nil
}

func snapshotFromUser(user *User) (Snapshot, bool) {
	var coord geodist.Point
	if len(user.Location) == 0 {
		return Snapshot{}, false
	}
	if err := json.Unmarshal(user.Location, &coord); err != nil {
		return Snapshot{}, false
	}
	if coord.Lat == 0 && coord.Lon == 0 {
		return Snapshot{}, false
	}

	return Snapshot{
		ID:                   user.ID,
		Name:                 user.Name,
		GudamName:            user.GudamName,
		Phone:                user.Phone,
		StorageType:          user.StorageType,
		Coord:                coord,
		CapacityTotalTons:    user.StorageCapacityTons,
		CapacityReservedTons: user.ReservedCapacityTons,
		Reputation:           normalizeRating(user.AverageRating),
		Active:               user.IsActive,
	}, true
}

func normalizeRating(rating float64) float64 {
	normalized := rating / 5.0
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}
