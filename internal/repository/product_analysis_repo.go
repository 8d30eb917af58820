package repository

import (
	"context"
	"errors"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// ProductAnalysisRepository handles enrichment target rows.
type ProductAnalysisRepository struct {
	db *gorm.DB
}

// NewProductAnalysisRepository creates a new ProductAnalysisRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ProductAnalysisRepository: repository instance bound to db.
func NewProductAnalysisRepository(db *gorm.DB) *ProductAnalysisRepository {
	return &ProductAnalysisRepository{db: db}
}

// Create inserts a new analysis row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - analysis: analysis record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ProductAnalysisRepository) Create(ctx context.Context, analysis *domain.ProductAnalysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

// CreateBatch inserts analysis rows in one statement.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - analyses: rows to insert.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ProductAnalysisRepository) CreateBatch(ctx context.Context, analyses []domain.ProductAnalysis) error {
	if len(analyses) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&analyses).Error
}

// Update saves the full analysis row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - analysis: analysis record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *ProductAnalysisRepository) Update(ctx context.Context, analysis *domain.ProductAnalysis) error {
	return r.db.WithContext(ctx).Save(analysis).Error
}

// GetByUserEAN retrieves the analysis for a (user, ean) pair.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - ean: product EAN.
// Returns:
//   - *domain.ProductAnalysis: analysis record, nil when absent.
//   - error: non-nil only on query failure, not on a missing row.
func (r *ProductAnalysisRepository) GetByUserEAN(ctx context.Context, userID, ean string) (*domain.ProductAnalysis, error) {
	var analysis domain.ProductAnalysis
	err := r.db.WithContext(ctx).
		First(&analysis, "user_id = ? AND ean = ?", userID, ean).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// GetByID retrieves an analysis by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: analysis ID.
// Returns:
//   - *domain.ProductAnalysis: analysis record if found.
//   - error: non-nil if lookup fails.
func (r *ProductAnalysisRepository) GetByID(ctx context.Context, id string) (*domain.ProductAnalysis, error) {
	var analysis domain.ProductAnalysis
	if err := r.db.WithContext(ctx).First(&analysis, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &analysis, nil
}

// UpdatePrice overwrites the purchase price of an analysis row. Callers only
// invoke this when the incoming price differs from the stored one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: analysis ID.
//   - price: new purchase price.
// Returns:
//   - error: non-nil if the update fails.
func (r *ProductAnalysisRepository) UpdatePrice(ctx context.Context, id string, price float64) error {
	return r.db.WithContext(ctx).Model(&domain.ProductAnalysis{}).
		Where("id = ?", id).
		Update("purchase_price", price).Error
}

// CreateLink inserts a supplier-product-to-analysis link.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - link: link record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ProductAnalysisRepository) CreateLink(ctx context.Context, link *domain.ProductAnalysisLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}
