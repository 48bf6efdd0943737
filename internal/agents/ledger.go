package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCapacityExceeded is returned when a reservation would push an agent's
// reserved capacity past its total.
var ErrCapacityExceeded = errors.New("insufficient available capacity")

// Ledger is the single authority over agent capacity reservations. The
// check-and-commit in Reserve is atomic per agent: two concurrent
// reservations can never jointly exceed availability.
type Ledger interface {
	Reserve(ctx context.Context, agentID uuid.UUID, amountTons float64, requestID uuid.UUID) (*CapacityReservation, error)
	Release(ctx context.Context, requestID uuid.UUID) error
	AvailableCapacity(ctx context.Context, agentID uuid.UUID) (float64, error)
}

// GormLedger implements Ledger with a single conditional UPDATE on the agent
// row, so the storage engine serializes contended reservations.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a database-backed capacity ledger
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// Reserve places a hold of amountTons on the agent for the given verification
// request. Returns the existing reservation if the request already holds one.
func (l *GormLedger) Reserve(ctx context.Context, agentID uuid.UUID, amountTons float64, requestID uuid.UUID) (*CapacityReservation, error) {
	if amountTons < 0 {
		return nil, fmt.Errorf("reservation amount must be non-negative, got %f", amountTons)
	}

	var reservation *CapacityReservation
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A request holds at most one live reservation.
		var existing CapacityReservation
		err := tx.Where("request_id = ? AND released_at IS NULL", requestID).
			First(&existing).Error
		if err == nil {
			reservation = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check reservations for request %s: %w", requestID, err)
		}

		result := tx.Model(&User{}).
			Where("id = ? AND role = ? AND is_active = ? AND storage_capacity_tons - reserved_capacity_tons >= ?",
				agentID, RoleAgent, true, amountTons).
			Update("reserved_capacity_tons", gorm.Expr("reserved_capacity_tons + ?", amountTons))
		if result.Error != nil {
			return fmt.Errorf("failed to reserve capacity for agent %s: %w", agentID, result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&User{}).
				Where("id = ? AND role = ?", agentID, RoleAgent).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
			}
			if count == 0 {
				return ErrAgentNotFound
			}
			return ErrCapacityExceeded
		}

		reservation = &CapacityReservation{
			AgentID:    agentID,
			RequestID:  requestID,
			AmountTons: amountTons,
			CreatedAt:  time.Now(),
		}
		if err := tx.Create(reservation).Error; err != nil {
			return fmt.Errorf("failed to record reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release frees the reservation held by the given request. Releasing an
// unknown or already-released reservation is a no-op.
func (l *GormLedger) Release(ctx context.Context, requestID uuid.UUID) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reservation CapacityReservation
		err := tx.Where("request_id = ? AND released_at IS NULL", requestID).
			First(&reservation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load reservation for request %s: %w", requestID, err)
		}

		now := time.Now()
		result := tx.Model(&CapacityReservation{}).
			Where("id = ? AND released_at IS NULL", reservation.ID).
			Update("released_at", now)
		if result.Error != nil {
			return fmt.Errorf("failed to release reservation %s: %w", reservation.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race with another release; nothing left to undo.
			return nil
		}

		return tx.Model(&User{}).
			Where("id = ?", reservation.AgentID).
			Update("reserved_capacity_tons", gorm.Expr("GREATEST(reserved_capacity_tons - ?, 0)", reservation.AmountTons)).
			Error
	})
}

// AvailableCapacity returns total minus reserved for one agent
func (l *GormLedger) AvailableCapacity(ctx context.Context, agentID uuid.UUID) (float64, error) {
	var user User
	err := l.db.WithContext(ctx).
		Where("id = ? AND role = ?", agentID, RoleAgent).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrAgentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	available := user.StorageCapacityTons - user.ReservedCapacityTons
	if available < 0 {
		available = 0
	}
	return available, nil
}
