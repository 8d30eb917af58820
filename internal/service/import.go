package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
)

// StartImportRequest is everything needed to start one supplier import.
type StartImportRequest struct {
	UserID     string
	SupplierID string

	Source     io.Reader
	SourceFile string
	InboxID    string // optional upstream inbox record

	Mapping      domain.ColumnMapping
	Delimiter    string
	SkipRows     int
	HasHeaderRow bool
}

// StartImportResult acknowledges an accepted import. Work continues
// asynchronously; the job is the pollable resource.
type StartImportResult struct {
	JobID          string `json:"job_id"`
	ProductsQueued int    `json:"products_queued"`
	Skipped        int    `json:"skipped"`
}

// ImportService owns the import job lifecycle: it creates the job, streams
// the file into checkpoints and starts the chunk chain.
type ImportService struct {
	jobs    jobStore
	inbox   inboxStore
	stream  *StreamImporter
	invoker ChunkInvoker

	chunkLimit      int
	defaultCurrency string
}

// NewImportService creates a new ImportService.
func NewImportService(jobs jobStore, inbox inboxStore, stream *StreamImporter, invoker ChunkInvoker, chunkLimit int, defaultCurrency string) *ImportService {
	if chunkLimit <= 0 {
		chunkLimit = 1000
	}
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}
	return &ImportService{
		jobs:            jobs,
		inbox:           inbox,
		stream:          stream,
		invoker:         invoker,
		chunkLimit:      chunkLimit,
		defaultCurrency: defaultCurrency,
	}
}

// StartImport creates the job, streams the source into checkpoint blobs and
// dispatches the first chunk. The call returns as soon as the chain is
// started; progress is polled via GetJob.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: import parameters and the source stream.
// Returns:
//   - *StartImportResult: job id and row accounting.
//   - error: non-nil when streaming or persistence fails; the job is then
//     marked failed.
func (s *ImportService) StartImport(ctx context.Context, req StartImportRequest) (*StartImportResult, error) {
	job := &domain.ImportJob{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		SupplierID:    req.SupplierID,
		Status:        domain.ImportStatusPending,
		SourceFile:    req.SourceFile,
		ColumnMapping: req.Mapping,
		Delimiter:     req.Delimiter,
		SkipRows:      req.SkipRows,
		HasHeaderRow:  req.HasHeaderRow,
		CorrelationID: uuid.New().String(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:         job.ID,
		logger.FieldCorrelationID: job.CorrelationID,
		logger.FieldSupplierID:    job.SupplierID,
	})

	streamRes, err := s.stream.Run(ctx, req.Source, StreamOptions{
		UserID:          req.UserID,
		JobID:           job.ID,
		Mapping:         req.Mapping,
		Delimiter:       req.Delimiter,
		SkipRows:        req.SkipRows,
		HasHeaderRow:    req.HasHeaderRow,
		DefaultCurrency: s.defaultCurrency,
	})
	if err != nil {
		s.failJob(ctx, job, err)
		return nil, fmt.Errorf("import aborted: %w", err)
	}

	job.Checkpoints = domain.StringArray(streamRes.Checkpoints)
	job.ProgressTotal = streamRes.Accepted
	job.SkippedRows = streamRes.Skipped
	now := time.Now()
	job.StartedAt = &now
	if err := job.TransitionTo(domain.ImportStatusRunning); err != nil {
		return nil, err
	}

	if len(streamRes.Checkpoints) == 0 {
		// Nothing survived row validation; the job completes immediately.
		if err := job.TransitionTo(domain.ImportStatusCompleted); err != nil {
			return nil, err
		}
		job.CompletedAt = &now
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job checkpoints: %w", err)
	}

	if req.InboxID != "" {
		s.linkInbox(ctx, req.InboxID, job.ID)
	}

	if len(streamRes.Checkpoints) > 0 {
		s.invoker.Invoke(ChunkRequest{
			JobID:         job.ID,
			Checkpoint:    streamRes.Checkpoints[0],
			Offset:        0,
			Limit:         s.chunkLimit,
			CorrelationID: job.CorrelationID,
		})
	}

	return &StartImportResult{
		JobID:          job.ID,
		ProductsQueued: streamRes.Accepted,
		Skipped:        streamRes.Skipped,
	}, nil
}

// GetJob returns the job as the pollable progress resource.
func (s *ImportService) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	return s.jobs.Get(ctx, id)
}

// ResumeStalled re-dispatches the chunk chain of running jobs whose rows
// have not been touched for olderThan. A worker crash leaves the durable
// cursor on the job; resuming replays at most one chunk (at-least-once, made
// idempotent by the upsert keys).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: minimum idle time before a running job counts as stalled.
// Returns:
//   - int: number of chains resumed.
//   - error: non-nil when listing fails.
func (s *ImportService) ResumeStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.jobs.ListStalled(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	resumed := 0
	for i := range jobs {
		job := jobs[i]
		// A job row that lost its checkpoint list is rebuilt from the store:
		// every checkpoint of a job shares the same key prefix.
		if len(job.Checkpoints) == 0 {
			keys, err := s.stream.ListCheckpoints(ctx, job.UserID, job.ID)
			if err != nil {
				logger.CtxWarn(ctx, "cannot reconstruct checkpoints for job %s: %v", job.ID, err)
				continue
			}
			job.Checkpoints = domain.StringArray(keys)
			if err := s.jobs.Update(ctx, &job); err != nil {
				logger.CtxWarn(ctx, "failed to persist reconstructed checkpoints for job %s: %v", job.ID, err)
				continue
			}
		}
		if job.CurrentCheckpoint >= len(job.Checkpoints) {
			continue
		}
		logger.CtxWarn(ctx, "resuming stalled import %s at checkpoint %d offset %d",
			job.ID, job.CurrentCheckpoint, job.NextOffset)
		s.invoker.Invoke(ChunkRequest{
			JobID:         job.ID,
			Checkpoint:    job.Checkpoints[job.CurrentCheckpoint],
			Offset:        job.NextOffset,
			Limit:         s.chunkLimit,
			CorrelationID: job.CorrelationID,
			RetryCount:    job.ChunkRetryCount,
		})
		resumed++
	}
	return resumed, nil
}

// failJob settles a job that never got its chain started.
func (s *ImportService) failJob(ctx context.Context, job *domain.ImportJob, cause error) {
	if err := job.TransitionTo(domain.ImportStatusFailed); err != nil {
		logger.CtxError(ctx, "cannot fail job: %v", err)
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.ErrorMessage = cause.Error()
	if err := s.jobs.Update(ctx, job); err != nil {
		logger.CtxError(ctx, "failed to persist failed job: %v", err)
	}
}

// linkInbox ties the inbox record to its job and marks it processing.
func (s *ImportService) linkInbox(ctx context.Context, inboxID, jobID string) {
	if err := s.inbox.LinkJob(ctx, inboxID, jobID); err != nil {
		logger.CtxWarn(ctx, "failed to update inbox record: %v", err)
	}
}
