package repository

import (
	"context"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// ImportInboxRepository tracks supplier files received ahead of import.
type ImportInboxRepository struct {
	db *gorm.DB
}

// NewImportInboxRepository creates a new ImportInboxRepository.
func NewImportInboxRepository(db *gorm.DB) *ImportInboxRepository {
	return &ImportInboxRepository{db: db}
}

// Create inserts a new inbox entry.
func (r *ImportInboxRepository) Create(ctx context.Context, entry *domain.ImportInbox) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Update saves the full inbox row.
func (r *ImportInboxRepository) Update(ctx context.Context, entry *domain.ImportInbox) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

// GetByID retrieves an inbox entry by its ID.
func (r *ImportInboxRepository) GetByID(ctx context.Context, id string) (*domain.ImportInbox, error) {
	var entry domain.ImportInbox
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUser retrieves inbox entries for a user, newest first.
func (r *ImportInboxRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ImportInbox, error) {
	var entries []domain.ImportInbox
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// LinkJob ties an inbox entry to its import job and marks it processing.
func (r *ImportInboxRepository) LinkJob(ctx context.Context, inboxID, jobID string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportInbox{}).
		Where("id = ?", inboxID).
		Updates(map[string]interface{}{
			"job_id": jobID,
			"status": domain.InboxStatusProcessing,
		}).Error
}

// SetStatusByJob updates the status of the inbox entry linked to a job.
// Used when an import finishes so the inbox reflects the outcome.
func (r *ImportInboxRepository) SetStatusByJob(ctx context.Context, jobID string, status domain.InboxStatus) error {
	return r.db.WithContext(ctx).Model(&domain.ImportInbox{}).
		Where("job_id = ?", jobID).
		Update("status", status).Error
}
