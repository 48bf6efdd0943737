package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	TypeAgentMatchRequest    = "agent_match_request"
	TypeListingAssigned      = "listing_assigned"
	TypeVerificationComplete = "verification_complete"
	TypeAdjustmentProposed   = "adjustment_proposed"
)

// Per-channel dispatch statuses
const (
	StatusDelivered = "DELIVERED"
	StatusDuplicate = "DUPLICATE"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// Notification is the authoritative in-app notification record. The unique
// index over (user_id, related_id, type) is what makes dispatch exactly-once
// per (request, agent) pair.
type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_notifications_dedupe" json:"user_id"`
	Type      string     `gorm:"not null;uniqueIndex:idx_notifications_dedupe" json:"type"`
	Title     string     `gorm:"not null" json:"title"`
	TitleBn   string     `json:"title_bn"`
	Message   string     `gorm:"not null" json:"message"`
	MessageBn string     `json:"message_bn"`
	RelatedID *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_notifications_dedupe" json:"related_id,omitempty"`
	IsRead    bool       `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
}

// Payload is the bilingual message body attached to a dispatch. Translation
// is the caller's concern; this package treats both languages as opaque text.
type Payload struct {
	Type      string
	Title     string
	TitleBn   string
	Message   string
	MessageBn string
	SMS       bool
}

// Recipient is one dispatch target
type Recipient struct {
	UserID uuid.UUID
	Phone  string
}

// RecipientDispatch is the per-recipient outcome inside a DispatchReport
type RecipientDispatch struct {
	UserID         uuid.UUID  `json:"user_id"`
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
	InAppStatus    string     `json:"in_app_status"`
	SMSStatus      string     `json:"sms_status"`
	Error          string     `json:"error,omitempty"`
}

// DispatchReport summarizes one Notify call. SMS failures are recorded here
// and never roll back the in-app records.
type DispatchReport struct {
	RequestID  uuid.UUID           `json:"request_id"`
	Attempted  int                 `json:"attempted"`
	Delivered  int                 `json:"delivered"`
	Duplicates int                 `json:"duplicates"`
	SMSSent    int                 `json:"sms_sent"`
	SMSFailed  int                 `json:"sms_failed"`
	Recipients []RecipientDispatch `json:"recipients"`
}
