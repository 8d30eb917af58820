package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
)

// QueueStats aggregates one scheduling pass.
type QueueStats struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Errors    int `json:"errors"`
	Requeued  int `json:"requeued"`
	Recovered int `json:"recovered"`
}

// QueueService is the enrichment queue scheduler. It claims pending tasks in
// priority order, processes them in bounded parallel batches and drives the
// per-task retry state machine.
type QueueService struct {
	tasks         taskStore
	products      productStore
	notifications notificationStore
	orch          *Orchestrator
	taskTimeout   time.Duration

	// now is swappable for timeout tests.
	now func() time.Time
}

// NewQueueService creates a new QueueService.
func NewQueueService(tasks taskStore, products productStore, notifications notificationStore, orch *Orchestrator, taskTimeout time.Duration) *QueueService {
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	return &QueueService{
		tasks:         tasks,
		products:      products,
		notifications: notifications,
		orch:          orch,
		taskTimeout:   taskTimeout,
		now:           time.Now,
	}
}

// EnqueueTask creates a pending enrichment task for a supplier product.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: task owner.
//   - supplierProductID: the product to enrich.
//   - priority: scheduling priority, higher first.
//   - enrichmentTypes: stage names to run after the analysis stage.
// Returns:
//   - *domain.EnrichmentTask: the created task.
//   - error: non-nil when the product is unknown or the insert fails.
func (s *QueueService) EnqueueTask(ctx context.Context, userID, supplierProductID string, priority int, enrichmentTypes []string) (*domain.EnrichmentTask, error) {
	if _, err := s.products.GetByID(ctx, supplierProductID); err != nil {
		return nil, fmt.Errorf("unknown supplier product %s: %w", supplierProductID, err)
	}
	task := &domain.EnrichmentTask{
		ID:                uuid.New().String(),
		UserID:            userID,
		SupplierProductID: supplierProductID,
		Status:            domain.TaskStatusPending,
		Priority:          priority,
		EnrichmentTypes:   domain.StringArray(enrichmentTypes),
		MaxRetries:        domain.DefaultMaxRetries,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task, nil
}

// ProcessQueue runs one scheduling pass: recover timed-out tasks, claim up
// to maxItems pending tasks ordered by (priority desc, created_at asc) and
// process them in fixed-size parallel batches. Batch i+1 starts only after
// every task of batch i has settled.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxItems: claim limit for this pass.
//   - parallelism: tasks processed concurrently within one batch.
// Returns:
//   - *QueueStats: aggregate counts for the pass.
//   - error: non-nil when claiming fails; per-task failures are counted,
//     not returned.
func (s *QueueService) ProcessQueue(ctx context.Context, maxItems, parallelism int) (*QueueStats, error) {
	if maxItems <= 0 {
		maxItems = 20
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	stats := &QueueStats{}
	if err := s.recoverTimedOut(ctx, stats); err != nil {
		return nil, err
	}

	tasks, err := s.tasks.ListPending(ctx, maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		return stats, nil
	}
	logger.CtxInfo(ctx, "processing %d enrichment tasks (parallelism %d)", len(tasks), parallelism)

	var mu sync.Mutex
	for start := 0; start < len(tasks); start += parallelism {
		end := start + parallelism
		if end > len(tasks) {
			end = len(tasks)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(task domain.EnrichmentTask) {
				defer wg.Done()
				taskCtx := logger.SetTaskID(ctx, task.ID)
				outcome := s.processTask(taskCtx, &task)
				mu.Lock()
				stats.Processed++
				switch outcome {
				case taskSucceeded:
					stats.Success++
				case taskRequeued:
					stats.Requeued++
				default:
					stats.Errors++
				}
				mu.Unlock()
			}(tasks[i])
		}
		wg.Wait()
	}
	return stats, nil
}

type taskOutcome int

const (
	taskSucceeded taskOutcome = iota
	taskRequeued
	taskFailed
)

// processTask runs one task end to end. Whole-task failures feed the retry
// state machine; stage failures inside the orchestrator never surface here.
func (s *QueueService) processTask(ctx context.Context, task *domain.EnrichmentTask) taskOutcome {
	if err := s.claimTask(ctx, task); err != nil {
		logger.CtxWarn(ctx, "failed to claim task: %v", err)
		return taskFailed
	}

	product, err := s.products.GetByID(ctx, task.SupplierProductID)
	if err != nil {
		return s.settleFailure(ctx, task, fmt.Errorf("supplier product not found: %w", err))
	}

	analysis, err := s.orch.Analyze(ctx, product)
	if err != nil {
		return s.settleFailure(ctx, task, err)
	}
	task.AnalysisID = analysis.ID

	// Stage failures are isolated inside RunStages; the task still completes.
	if len(task.EnrichmentTypes) > 0 {
		results := s.orch.RunStages(ctx, product, analysis, task.EnrichmentTypes)
		logger.CtxInfo(ctx, "enrichment settled at %d%%", OverallProgress(results))
	}

	if err := task.TransitionTo(domain.TaskStatusCompleted); err != nil {
		return s.settleFailure(ctx, task, err)
	}
	now := s.now()
	task.CompletedAt = &now
	if err := s.tasks.Update(ctx, task); err != nil {
		logger.CtxError(ctx, "failed to persist completed task: %v", err)
		return taskFailed
	}

	s.notify(ctx, task, product)
	return taskSucceeded
}

// claimTask marks the task processing and stamps its deadline. The claim is
// list-then-update and assumes a single scheduler instance; running several
// schedulers concurrently requires a conditional
// UPDATE ... WHERE status = 'pending' claim instead.
func (s *QueueService) claimTask(ctx context.Context, task *domain.EnrichmentTask) error {
	if err := task.TransitionTo(domain.TaskStatusProcessing); err != nil {
		return err
	}
	now := s.now()
	deadline := now.Add(s.taskTimeout)
	task.StartedAt = &now
	task.TimeoutAt = &deadline
	return s.tasks.Update(ctx, task)
}

// settleFailure applies the retry branch: back to pending while the retry
// budget lasts, failed permanently once it is spent.
func (s *QueueService) settleFailure(ctx context.Context, task *domain.EnrichmentTask, cause error) taskOutcome {
	logger.CtxWarn(ctx, "task failed (retry %d/%d): %v", task.RetryCount, task.MaxRetries, cause)
	task.LastError = cause.Error()

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		if err := task.TransitionTo(domain.TaskStatusPending); err != nil {
			logger.CtxError(ctx, "failed to requeue task: %v", err)
			return taskFailed
		}
		if err := s.tasks.Update(ctx, task); err != nil {
			logger.CtxError(ctx, "failed to persist requeued task: %v", err)
		}
		return taskRequeued
	}

	if err := task.TransitionTo(domain.TaskStatusFailed); err != nil {
		logger.CtxError(ctx, "failed to fail task: %v", err)
		return taskFailed
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		logger.CtxError(ctx, "failed to persist failed task: %v", err)
	}
	return taskFailed
}

// recoverTimedOut requeues or fails processing tasks whose deadline passed.
// These rows belong to crashed workers and would otherwise be stuck forever.
func (s *QueueService) recoverTimedOut(ctx context.Context, stats *QueueStats) error {
	stuck, err := s.tasks.ListTimedOut(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to list timed-out tasks: %w", err)
	}
	for i := range stuck {
		task := stuck[i]
		logger.CtxWarn(ctx, "recovering timed-out task %s", task.ID)
		s.settleFailure(logger.SetTaskID(ctx, task.ID), &task, fmt.Errorf("task exceeded its processing deadline"))
		stats.Recovered++
	}
	return nil
}

// notify records a user-facing completion notification.
func (s *QueueService) notify(ctx context.Context, task *domain.EnrichmentTask, product *domain.SupplierProduct) {
	n := &domain.Notification{
		ID:     uuid.New().String(),
		UserID: task.UserID,
		TaskID: task.ID,
		Kind:   "enrichment_completed",
		Title:  "Product enrichment completed",
		Body:   fmt.Sprintf("Enrichment for %q finished.", product.Name),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		logger.CtxWarn(ctx, "failed to record notification: %v", err)
	}
}
