package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrProductNotFound is returned when a product id does not resolve
var ErrProductNotFound = errors.New("product not found")

// Catalog is the narrow contract the verification core holds on the product
// catalog. Raw listing CRUD lives with the catalog service.
type Catalog interface {
	GetListing(ctx context.Context, productID uuid.UUID) (*Listing, error)
	SetStatus(ctx context.Context, productID uuid.UUID, status string) error
	ApplyVerified(ctx context.Context, productID uuid.UUID, update VerifiedUpdate) error
}

// GormCatalog implements Catalog over the shared database
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog creates a catalog backed by the shared database
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// GetListing loads the verification-facing projection of one product
func (c *GormCatalog) GetListing(ctx context.Context, productID uuid.UUID) (*Listing, error) {
	var product Product
	err := c.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	listing := &Listing{
		ID:           product.ID,
		FarmerID:     product.FarmerID,
		NameBn:       product.NameBn,
		NameEn:       product.NameEn,
		Unit:         product.Unit,
		QuantityTons: product.QuantityTons,
		QualityGrade: product.QualityGrade,
		Status:       product.Status,
	}
	if len(product.Location) > 0 {
		if err := json.Unmarshal(product.Location, &listing.Coord); err == nil {
			listing.HasCoord = listing.Coord.Lat != 0 || listing.Coord.Lon != 0
		}
	}
	return listing, nil
}

// SetStatus moves a product to the given visibility status
func (c *GormCatalog) SetStatus(ctx context.Context, productID uuid.UUID, status string) error {
	result := c.db.WithContext(ctx).Model(&Product{}).
		Where("id = ?", productID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update product %s status: %w", productID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ApplyVerified marks the product verified and applies any grade, quantity or
// price adjustments confirmed during inspection.
func (c *GormCatalog) ApplyVerified(ctx context.Context, productID uuid.UUID, update VerifiedUpdate) error {
	fields := map[string]interface{}{
		"status":            StatusVerified,
		"verified_by":       update.AgentID,
		"verification_date": update.VerificationDate,
	}
	if update.QualityGrade != nil {
		fields["quality_grade"] = *update.QualityGrade
	}
	if update.QuantityTons != nil {
		fields["quantity_tons"] = *update.QuantityTons
	}
	if update.PricePerUnit != nil {
		fields["price_per_unit"] = *update.PricePerUnit
	}

	result := c.db.WithContext(ctx).Model(&Product{}).
		Where("id = ?", productID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to apply verification to product %s: %w", productID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}
