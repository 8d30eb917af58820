package domain

import (
	"fmt"
	"time"
)

// TaskStatus represents the status of an enrichment task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// DefaultMaxRetries is the retry budget for a whole enrichment task.
const DefaultMaxRetries = 2

// EnrichmentTask is one durable work item of the enrichment queue.
//
// State machine: pending → processing → {completed | pending (retry) | failed}.
// A processing task whose TimeoutAt has passed belongs to a crashed worker and
// is treated as an implicit failure by the next scheduling pass.
type EnrichmentTask struct {
	ID                string      `gorm:"type:text;primaryKey" json:"id"`
	UserID            string      `gorm:"type:text;not null;index" json:"user_id"`
	SupplierProductID string      `gorm:"type:text;not null;index" json:"supplier_product_id"`
	AnalysisID        string      `gorm:"type:text" json:"analysis_id,omitempty"`
	Status            TaskStatus  `gorm:"type:text;index;default:pending" json:"status"`
	Priority          int         `gorm:"default:0;index" json:"priority"`
	EnrichmentTypes   StringArray `gorm:"type:text" json:"enrichment_types"`

	RetryCount int    `gorm:"default:0" json:"retry_count"`
	MaxRetries int    `gorm:"default:2" json:"max_retries"`
	LastError  string `gorm:"type:text" json:"last_error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	TimeoutAt   *time.Time `gorm:"index" json:"timeout_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for EnrichmentTask.
func (EnrichmentTask) TableName() string {
	return "enrichment_tasks"
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusPending, TaskStatusFailed},
}

// TransitionTo moves the task to the next status, rejecting illegal moves.
// processing → pending is the retry path and resets the worker stamps.
func (t *EnrichmentTask) TransitionTo(next TaskStatus) error {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == next {
			t.Status = next
			if next == TaskStatusPending {
				t.StartedAt = nil
				t.TimeoutAt = nil
			}
			return nil
		}
	}
	return fmt.Errorf("%w: enrichment task %s → %s", ErrInvalidTransition, t.Status, next)
}

// TimedOut reports whether a processing task has exceeded its deadline.
func (t *EnrichmentTask) TimedOut(now time.Time) bool {
	return t.Status == TaskStatusProcessing && t.TimeoutAt != nil && now.After(*t.TimeoutAt)
}

// Notification is a user-facing event emitted when a task settles.
type Notification struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	UserID    string    `gorm:"type:text;not null;index" json:"user_id"`
	TaskID    string    `gorm:"type:text" json:"task_id,omitempty"`
	Kind      string    `gorm:"type:text" json:"kind"`
	Title     string    `gorm:"type:text" json:"title"`
	Body      string    `gorm:"type:text" json:"body,omitempty"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string {
	return "notifications"
}
