package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRequestNotFound is returned when a verification id does not resolve
var ErrRequestNotFound = errors.New("verification request not found")

// ErrVersionConflict is returned when a transition lost an optimistic-lock
// race with a concurrent writer. State is unchanged; the caller retries or
// surfaces a conflict.
var ErrVersionConflict = errors.New("verification request was modified concurrently")

// ListFilter narrows the listing queries
type ListFilter struct {
	Status   string
	AgentID  *uuid.UUID
	Page     int
	PageSize int
}

// Repository persists verification requests and their audit trail.
// Transition is the only write path for status: it applies the mutation under
// a version check and appends the history row in the same transaction.
type Repository interface {
	Create(ctx context.Context, request *VerificationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error)
	ActiveByProduct(ctx context.Context, productID uuid.UUID) (*VerificationRequest, error)
	Transition(ctx context.Context, request *VerificationRequest, to, actor string, mutate func(*VerificationRequest)) error
	List(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error)
	ListStale(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]VerificationRequest, error)
	History(ctx context.Context, requestID uuid.UUID) ([]StatusHistory, error)
}

// GormRepository implements Repository on the shared database
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a database-backed verification repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Create inserts a fresh request and its creation audit row
func (r *GormRepository) Create(ctx context.Context, request *VerificationRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create verification request: %w", err)
		}
		history := &StatusHistory{
			RequestID: request.ID,
			ToStatus:  request.Status,
			Actor:     "system",
			ChangedAt: time.Now(),
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("failed to record creation history: %w", err)
		}
		return nil
	})
}

// GetByID loads one request
func (r *GormRepository) GetByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	var request VerificationRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification request %s: %w", id, err)
	}
	return &request, nil
}

// ActiveByProduct returns the product's live request, or nil when none exists
func (r *GormRepository) ActiveByProduct(ctx context.Context, productID uuid.UUID) (*VerificationRequest, error) {
	var request VerificationRequest
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND status IN ?", productID, ActiveStatuses).
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check active requests for product %s: %w", productID, err)
	}
	return &request, nil
}

// Transition applies mutate and the status change under an optimistic
// version check, and appends the audit row atomically. The in-memory request
// reflects the new state on success.
func (r *GormRepository) Transition(ctx context.Context, request *VerificationRequest, to, actor string, mutate func(*VerificationRequest)) error {
	from := request.Status
	currentVersion := request.Version

	updated := *request
	if mutate != nil {
		mutate(&updated)
	}
	updated.Status = to
	updated.Version = currentVersion + 1
	updated.UpdatedAt = time.Now()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&VerificationRequest{}).
			Where("id = ? AND version = ?", request.ID, currentVersion).
			Select("*").Omit("id", "created_at").
			Updates(&updated)
		if result.Error != nil {
			return fmt.Errorf("failed to transition request %s: %w", request.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("request %s (%s -> %s): %w", request.ID, from, to, ErrVersionConflict)
		}

		history := &StatusHistory{
			RequestID:  request.ID,
			FromStatus: from,
			ToStatus:   to,
			Actor:      actor,
			ChangedAt:  time.Now(),
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("failed to record transition history: %w", err)
		}

		*request = updated
		return nil
	})
}

// List returns a page of requests matching the filter
func (r *GormRepository) List(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&VerificationRequest{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AgentID != nil {
		query = query.Where("agent_id = ?", *filter.AgentID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count verification requests: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var items []VerificationRequest
	err := query.Order("requested_at DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list verification requests: %w", err)
	}
	return items, total, nil
}

// ListStale returns requests sitting in the given statuses with no update
// since olderThan, oldest first.
func (r *GormRepository) ListStale(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]VerificationRequest, error) {
	var items []VerificationRequest
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale verification requests: %w", err)
	}
	return items, nil
}

// History returns the full audit trail for a request, oldest first
func (r *GormRepository) History(ctx context.Context, requestID uuid.UUID) ([]StatusHistory, error) {
	var items []StatusHistory
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("changed_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for request %s: %w", requestID, err)
	}
	return items, nil
}
