package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotificationNotFound is returned when a notification id does not resolve
var ErrNotificationNotFound = errors.New("notification not found")

// Store persists notification records. Insert must be idempotent over the
// (user, related, type) dedupe key: a second insert reports created=false
// instead of creating a duplicate row.
type Store interface {
	Insert(ctx context.Context, notification *Notification) (created bool, err error)
	ListForUser(ctx context.Context, userID uuid.UUID, isRead *bool, limit, offset int) ([]Notification, int64, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

// GormStore implements Store on the shared database. Dedupe rides on the
// idx_notifications_dedupe unique index via INSERT ... ON CONFLICT DO NOTHING.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a database-backed notification store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Insert creates the notification unless the dedupe key already exists
func (s *GormStore) Insert(ctx context.Context, notification *Notification) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(notification)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert notification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListForUser returns a page of a user's notifications, newest first
func (s *GormStore) ListForUser(ctx context.Context, userID uuid.UUID, isRead *bool, limit, offset int) ([]Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID)
	if isRead != nil {
		query = query.Where("is_read = ?", *isRead)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	var items []Notification
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead marks one notification as read
func (s *GormStore) MarkRead(ctx context.Context, notificationID uuid.UUID) (*Notification, error) {
	var notification Notification
	err := s.db.WithContext(ctx).Where("id = ?", notificationID).First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification %s: %w", notificationID, err)
	}

	if !notification.IsRead {
		notification.IsRead = true
		if err := s.db.WithContext(ctx).Model(&notification).Update("is_read", true).Error; err != nil {
			return nil, fmt.Errorf("failed to mark notification %s read: %w", notificationID, err)
		}
	}
	return &notification, nil
}

// MarkAllRead marks every unread notification for the user as read
func (s *GormStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark notifications read for user %s: %w", userID, err)
	}
	return nil
}

// UnreadCount returns the user's unread notification count
func (s *GormStore) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications for user %s: %w", userID, err)
	}
	return count, nil
}

// MemoryStore is an in-memory Store for tests
type MemoryStore struct {
	mu    sync.Mutex
	items []Notification
}

// NewMemoryStore creates an empty in-memory notification store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) dedupeKey(n *Notification) string {
	related := ""
	if n.RelatedID != nil {
		related = n.RelatedID.String()
	}
	return n.UserID.String() + "|" + related + "|" + n.Type
}

// Insert creates the notification unless the dedupe key already exists
func (s *MemoryStore) Insert(ctx context.Context, notification *Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.dedupeKey(notification)
	for i := range s.items {
		if s.dedupeKey(&s.items[i]) == key {
			return false, nil
		}
	}

	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	s.items = append(s.items, *notification)
	return true, nil
}

// ListForUser returns a page of a user's notifications, newest first
func (s *MemoryStore) ListForUser(ctx context.Context, userID uuid.UUID, isRead *bool, limit, offset int) ([]Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Notification
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		if isRead != nil && n.IsRead != *isRead {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// MarkRead marks one notification as read
func (s *MemoryStore) MarkRead(ctx context.Context, notificationID uuid.UUID) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == notificationID {
			s.items[i].IsRead = true
			copied := s.items[i]
			return &copied, nil
		}
	}
	return nil, ErrNotificationNotFound
}

// MarkAllRead marks every unread notification for the user as read
func (s *MemoryStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].UserID == userID {
			s.items[i].IsRead = true
		}
	}
	return nil
}

// UnreadCount returns the user's unread notification count
func (s *MemoryStore) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}
