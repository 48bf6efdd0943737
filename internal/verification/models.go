package verification

import (
	"time"

	"github.com/google/uuid"
)

// Verification request statuses. verified and rejected are terminal; a
// rejected product re-enters pending_verification and may spawn a fresh
// request later.
const (
	StatusRequested          = "requested"
	StatusAssigned           = "assigned"
	StatusInProgress         = "in_progress"
	StatusVerified           = "verified"
	StatusRejected           = "rejected"
	StatusAdjustmentProposed = "adjustment_proposed"
)

// ActiveStatuses are the states that count as a live request for the
// one-live-request-per-product invariant.
var ActiveStatuses = []string{StatusRequested, StatusAssigned, StatusInProgress, StatusAdjustmentProposed}

// VerificationRequest tracks one product's inspection lifecycle from
// assignment to a terminal outcome. Version backs the optimistic
// compare-and-swap that serializes transitions per row.
type VerificationRequest struct {
	ID                   uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID            uuid.UUID  `gorm:"type:uuid;not null;index" json:"product_id"`
	AgentID              *uuid.UUID `gorm:"type:uuid;index" json:"agent_id,omitempty"`
	Status               string     `gorm:"not null;default:'requested';index" json:"status"`
	OriginalGrade        string     `json:"original_grade"`
	VerifiedGrade        *string    `json:"verified_grade,omitempty"`
	VerifiedQuantityTons *float64   `json:"verified_quantity_tons,omitempty"`
	AdjustedPrice        *float64   `json:"adjusted_price,omitempty"`
	Notes                string     `json:"notes"`
	NotesBn              string     `json:"notes_bn"`
	RequestedAt          time.Time  `json:"requested_at"`
	AssignedAt           *time.Time `json:"assigned_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	Version              int64      `gorm:"not null;default:1" json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the request has reached a final outcome
func (r *VerificationRequest) IsTerminal() bool {
	return r.Status == StatusVerified || r.Status == StatusRejected
}

// StatusHistory is the audit trail: one row per transition, including the
// system-driven ones (assignment, reconciliation revocations).
type StatusHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `gorm:"not null" json:"to_status"`
	Actor      string    `json:"actor"`
	ChangedAt  time.Time `json:"changed_at"`
}

// EnrichedRequest decorates a request with product and farmer display fields
// for the listing endpoints.
type EnrichedRequest struct {
	VerificationRequest
	ProductNameBn string    `json:"product_name_bn"`
	ProductNameEn string    `json:"product_name_en"`
	ProductUnit   string    `json:"product_unit"`
	FarmerID      uuid.UUID `json:"farmer_id"`
	FarmerName    string    `json:"farmer_name"`
}
