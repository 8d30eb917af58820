package repository

import (
	"context"
	"time"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// ImportJobRepository handles import job persistence.
type ImportJobRepository struct {
	db *gorm.DB
}

// NewImportJobRepository creates a new ImportJobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ImportJobRepository: repository instance bound to db.
func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Create inserts a new import job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ImportJobRepository) Create(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get retrieves an import job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.ImportJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *ImportJobRepository) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Update saves the full job row. Progress counters are read-modify-write by
// design: the chunk chain guarantees at most one writer per job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *ImportJobRepository) Update(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// ListByUser retrieves jobs for a user, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.ImportJob: matching jobs.
//   - error: non-nil if the query fails.
func (r *ImportJobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListStalled retrieves running jobs whose last update is older than the
// cutoff. These are chains whose dispatcher died mid-flight; the worker
// resumes them from the persisted cursor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: staleness cutoff on updated_at.
// Returns:
//   - []domain.ImportJob: stalled running jobs.
//   - error: non-nil if the query fails.
func (r *ImportJobRepository) ListStalled(ctx context.Context, olderThan time.Time) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.ImportStatusRunning, olderThan).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
