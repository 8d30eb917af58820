package repository

import (
	"context"
	"time"

	"github.com/davet/prodsync/internal/domain"
	"gorm.io/gorm"
)

// EnrichmentTaskRepository handles the durable enrichment work queue.
type EnrichmentTaskRepository struct {
	db *gorm.DB
}

// NewEnrichmentTaskRepository creates a new EnrichmentTaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *EnrichmentTaskRepository: repository instance bound to db.
func NewEnrichmentTaskRepository(db *gorm.DB) *EnrichmentTaskRepository {
	return &EnrichmentTaskRepository{db: db}
}

// Create inserts a new enrichment task.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *EnrichmentTaskRepository) Create(ctx context.Context, task *domain.EnrichmentTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// Update saves the full task row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *EnrichmentTaskRepository) Update(ctx context.Context, task *domain.EnrichmentTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

// GetByID retrieves a task by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: task ID.
// Returns:
//   - *domain.EnrichmentTask: task record if found.
//   - error: non-nil if lookup fails.
func (r *EnrichmentTaskRepository) GetByID(ctx context.Context, id string) (*domain.EnrichmentTask, error) {
	var task domain.EnrichmentTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListPending retrieves up to limit pending tasks ordered by priority
// descending, then creation time ascending.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of tasks to return.
// Returns:
//   - []domain.EnrichmentTask: claimable tasks.
//   - error: non-nil if the query fails.
func (r *EnrichmentTaskRepository) ListPending(ctx context.Context, limit int) ([]domain.EnrichmentTask, error) {
	var tasks []domain.EnrichmentTask
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusPending).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTimedOut retrieves processing tasks whose deadline has passed. These
// belong to crashed or abandoned workers and must be requeued or failed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: current time used as the deadline cutoff.
// Returns:
//   - []domain.EnrichmentTask: stuck tasks.
//   - error: non-nil if the query fails.
func (r *EnrichmentTaskRepository) ListTimedOut(ctx context.Context, now time.Time) ([]domain.EnrichmentTask, error) {
	var tasks []domain.EnrichmentTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND timeout_at IS NOT NULL AND timeout_at < ?", domain.TaskStatusProcessing, now).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountByStatus counts tasks by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: task status to count.
// Returns:
//   - int64: number of matching tasks.
//   - error: non-nil if the query fails.
func (r *EnrichmentTaskRepository) CountByStatus(ctx context.Context, status domain.TaskStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.EnrichmentTask{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
