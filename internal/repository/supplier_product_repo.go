package repository

import (
	"context"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SupplierProductRepository handles supplier catalog rows.
type SupplierProductRepository struct {
	db *gorm.DB
}

// NewSupplierProductRepository creates a new SupplierProductRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *SupplierProductRepository: repository instance bound to db.
func NewSupplierProductRepository(db *gorm.DB) *SupplierProductRepository {
	return &SupplierProductRepository{db: db}
}

// UpsertBatch creates or updates catalog rows keyed by
// (supplier_id, supplier_reference). Duplicates within the batch collapse to
// last-write-wins through the conflict clause.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - products: rows to create or update.
// Returns:
//   - error: non-nil if the upsert fails; partial per-row success is not attempted.
func (r *SupplierProductRepository) UpsertBatch(ctx context.Context, products []domain.SupplierProduct) error {
	if len(products) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "supplier_id"}, {Name: "supplier_reference"}},
		UpdateAll: true,
	}).Create(&products).Error
}

// GetByID retrieves a supplier product by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: product ID.
// Returns:
//   - *domain.SupplierProduct: product record if found.
//   - error: non-nil if lookup fails.
func (r *SupplierProductRepository) GetByID(ctx context.Context, id string) (*domain.SupplierProduct, error) {
	var product domain.SupplierProduct
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetByReference retrieves a supplier product by its upsert key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: owning supplier.
//   - reference: supplier reference.
// Returns:
//   - *domain.SupplierProduct: product record if found.
//   - error: non-nil if lookup fails.
func (r *SupplierProductRepository) GetByReference(ctx context.Context, supplierID, reference string) (*domain.SupplierProduct, error) {
	var product domain.SupplierProduct
	if err := r.db.WithContext(ctx).
		First(&product, "supplier_id = ? AND supplier_reference = ?", supplierID, reference).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// CountBySupplier counts catalog rows for a supplier.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: owning supplier.
// Returns:
//   - int64: number of rows.
//   - error: non-nil if the query fails.
func (r *SupplierProductRepository) CountBySupplier(ctx context.Context, supplierID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.SupplierProduct{}).
		Where("supplier_id = ?", supplierID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
