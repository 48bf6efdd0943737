package products

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"gudam/marketplace/verification-backend/pkg/geodist"
)

// Product visibility statuses. A product is visible in marketplace search if
// and only if its status is StatusVerified.
const (
	StatusPendingVerification = "pending_verification"
	StatusInProgress          = "in_progress"
	StatusVerified            = "verified"
	StatusRejected            = "rejected"
	StatusAdjustmentProposed  = "adjustment_proposed"
)

// Product represents a farmer's marketplace listing. Rows are created by the
// product-catalog service in pending_verification; status is mutated
// exclusively through the verification lifecycle.
type Product struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	FarmerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"farmer_id"`
	NameBn           string         `gorm:"not null" json:"name_bn"`
	NameEn           string         `json:"name_en"`
	Category         string         `json:"category"`
	QuantityTons     float64        `json:"quantity_tons"`
	Unit             string         `json:"unit"`
	QualityGrade     string         `gorm:"default:'A'" json:"quality_grade"`
	PricePerUnit     float64        `json:"price_per_unit"`
	Currency         string         `gorm:"default:'BDT'" json:"currency"`
	Location         datatypes.JSON `json:"location"` // {"lat": .., "lon": ..}
	Status           string         `gorm:"not null;default:'pending_verification';index" json:"status"`
	VerifiedBy       *uuid.UUID     `gorm:"type:uuid" json:"verified_by,omitempty"`
	VerificationDate *time.Time     `json:"verification_date,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Listing is the read-side projection the matching and verification flows
// work with.
type Listing struct {
	ID           uuid.UUID     `json:"id"`
	FarmerID     uuid.UUID     `json:"farmer_id"`
	NameBn       string        `json:"name_bn"`
	NameEn       string        `json:"name_en"`
	Unit         string        `json:"unit"`
	QuantityTons float64       `json:"quantity_tons"`
	QualityGrade string        `json:"quality_grade"`
	Status       string        `json:"status"`
	Coord        geodist.Point `json:"location"`
	HasCoord     bool          `json:"-"`
}

// VerifiedUpdate carries the product mutations applied when a verification
// completes successfully.
type VerifiedUpdate struct {
	AgentID          uuid.UUID
	QualityGrade     *string
	QuantityTons     *float64
	PricePerUnit     *float64
	VerificationDate time.Time
}
