package repository

import (
	"context"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// PriceRepository persists price monitoring rows and promotional alerts.
type PriceRepository struct {
	db *gorm.DB
}

// NewPriceRepository creates a new PriceRepository.
func NewPriceRepository(db *gorm.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// CreateMonitoringBatch inserts a batch of price monitoring rows, one per
// merged offer of a search run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rows: monitoring rows to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *PriceRepository) CreateMonitoringBatch(ctx context.Context, rows []domain.PriceMonitoring) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// CreateAlert inserts a promotional price alert.
func (r *PriceRepository) CreateAlert(ctx context.Context, alert *domain.PriceAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// ListMonitoringByProduct retrieves monitoring rows for a product, cheapest first.
func (r *PriceRepository) ListMonitoringByProduct(ctx context.Context, userID, productName string) ([]domain.PriceMonitoring, error) {
	var rows []domain.PriceMonitoring
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_name = ?", userID, productName).
		Order("price ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
