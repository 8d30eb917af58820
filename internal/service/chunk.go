package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
	"github.com/davet/prodsync/internal/storage"
)

// ChunkRequest identifies one bounded slice of a checkpoint. Every request
// in a chain carries the same correlation id for cross-invocation tracing.
type ChunkRequest struct {
	JobID         string `json:"job_id"`
	Checkpoint    string `json:"checkpoint"`
	Offset        int    `json:"offset"`
	Limit         int    `json:"limit"`
	CorrelationID string `json:"correlation_id"`
	RetryCount    int    `json:"retry_count"`
}

// ChunkResult reports one chunk invocation.
type ChunkResult struct {
	Processed      int  `json:"processed"`
	SuccessCount   int  `json:"success_count"`
	ErrorCount     int  `json:"error_count"`
	SkippedCount   int  `json:"skipped_count"`
	MatchedCount   int  `json:"matched_count"`
	RetryScheduled bool `json:"retry_scheduled"`
	Completed      bool `json:"completed"`
}

// ChunkInvoker dispatches a chunk invocation asynchronously. The processor
// uses it to chain the next slice and to re-dispatch a failed one.
type ChunkInvoker interface {
	Invoke(req ChunkRequest)
}

// ChunkProcessor processes one checkpoint slice per invocation: upserts
// catalog rows, maintains analysis rows, advances job progress and either
// chains the next slice or finalizes the job.
//
// At most one chunk is in flight per job: a new invocation is only
// dispatched by the previous one's completion, which is what makes the
// read-modify-write progress update safe.
type ChunkProcessor struct {
	jobs     jobStore
	products productStore
	analyses analysisStore
	inbox    inboxStore
	store    storage.ObjectStorage
	invoker  ChunkInvoker

	maxChunkRetries  int
	maxDownloadTries int
	retryDelay       time.Duration
}

// ChunkProcessorOptions bounds the processor's retry behavior.
type ChunkProcessorOptions struct {
	MaxChunkRetries  int
	MaxDownloadTries int
	RetryDelay       time.Duration
}

// NewChunkProcessor creates a new ChunkProcessor. The invoker is attached
// afterwards via SetInvoker because the dispatcher wraps the processor.
func NewChunkProcessor(jobs jobStore, products productStore, analyses analysisStore, inbox inboxStore, store storage.ObjectStorage, opts ChunkProcessorOptions) *ChunkProcessor {
	if opts.MaxChunkRetries <= 0 {
		opts.MaxChunkRetries = 3
	}
	if opts.MaxDownloadTries <= 0 {
		opts.MaxDownloadTries = 3
	}
	return &ChunkProcessor{
		jobs:             jobs,
		products:         products,
		analyses:         analyses,
		inbox:            inbox,
		store:            store,
		maxChunkRetries:  opts.MaxChunkRetries,
		maxDownloadTries: opts.MaxDownloadTries,
		retryDelay:       opts.RetryDelay,
	}
}

// SetInvoker attaches the chain dispatcher.
func (p *ChunkProcessor) SetInvoker(invoker ChunkInvoker) {
	p.invoker = invoker
}

// ProcessChunk processes the [offset, offset+limit) slice of one checkpoint.
// Any failure inside the chunk re-dispatches the same slice while the retry
// budget lasts; once it is spent the job fails permanently and the chain
// stops.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: the slice to process.
// Returns:
//   - *ChunkResult: row tallies, or a retry-scheduled acknowledgment.
//   - error: non-nil only on permanent failure.
func (p *ChunkProcessor) ProcessChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:         req.JobID,
		logger.FieldCorrelationID: req.CorrelationID,
	})

	job, err := p.jobs.Get(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", req.JobID, err)
	}
	// A terminal job stops the chain; this doubles as the cancellation check.
	if job.IsTerminal() {
		logger.CtxInfo(ctx, "job already %s, chain stops", job.Status)
		return &ChunkResult{Completed: job.Status == domain.ImportStatusCompleted}, nil
	}

	// runChunk mutates a scratch copy: a chunk that fails after tallying has
	// already touched the counters, and the retry must not persist them.
	work := *job
	result, procErr := p.runChunk(ctx, &work, req)
	if procErr == nil {
		return result, nil
	}

	if req.RetryCount < p.maxChunkRetries {
		logger.CtxWarn(ctx, "chunk %s[%d:%d] failed (attempt %d): %v",
			req.Checkpoint, req.Offset, req.Offset+req.Limit, req.RetryCount+1, procErr)
		retry := req
		retry.RetryCount++
		job.ChunkRetryCount = retry.RetryCount
		if err := p.jobs.Update(ctx, job); err != nil {
			logger.CtxError(ctx, "failed to persist retry cursor: %v", err)
		}
		p.invoker.Invoke(retry)
		return &ChunkResult{RetryScheduled: true}, nil
	}

	logger.CtxError(ctx, "chunk %s[%d:%d] exhausted retries: %v",
		req.Checkpoint, req.Offset, req.Offset+req.Limit, procErr)
	p.failJob(ctx, job, procErr)
	return nil, procErr
}

// runChunk does the actual slice work. Any returned error is subject to the
// caller's chunk retry policy.
func (p *ChunkProcessor) runChunk(ctx context.Context, job *domain.ImportJob, req ChunkRequest) (*ChunkResult, error) {
	lines, err := p.downloadCheckpoint(ctx, req.Checkpoint)
	if err != nil {
		return nil, err
	}
	total := len(lines)
	start, end := req.Offset, req.Offset+req.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	result := &ChunkResult{}
	records := make([]domain.SupplierRecord, 0, end-start)
	for _, line := range lines[start:end] {
		var rec domain.SupplierRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			result.ErrorCount++
			continue
		}
		if rec.Reference == "" && rec.Name == "" {
			result.SkippedCount++
			continue
		}
		records = append(records, rec)
	}
	result.Processed = end - start

	if err := p.upsertProducts(ctx, job, records); err != nil {
		return nil, err
	}
	result.SuccessCount = len(records)

	matched, err := p.maintainAnalyses(ctx, job, records)
	if err != nil {
		return nil, err
	}
	result.MatchedCount = matched

	// Read-modify-write is safe here: the chain guarantees one in-flight
	// chunk per job.
	job.ProgressCurrent += result.Processed
	if job.ProgressTotal > 0 && job.ProgressCurrent > job.ProgressTotal {
		job.ProgressCurrent = job.ProgressTotal
	}
	job.ProductsImported += result.SuccessCount
	job.ProductsMatched += result.MatchedCount
	job.ProductsErrors += result.ErrorCount
	job.SkippedRows += result.SkippedCount

	return result, p.advance(ctx, job, req, end, total)
}

// advance chains the next slice or finalizes the job. The durable cursor on
// the job row is written before dispatch so a crashed chain can resume.
func (p *ChunkProcessor) advance(ctx context.Context, job *domain.ImportJob, req ChunkRequest, end, total int) error {
	idx := indexOf(job.Checkpoints, req.Checkpoint)
	if idx < 0 {
		return fmt.Errorf("checkpoint %s does not belong to job %s", req.Checkpoint, job.ID)
	}

	next := ChunkRequest{
		JobID:         job.ID,
		Limit:         req.Limit,
		CorrelationID: req.CorrelationID,
	}
	switch {
	case end < total:
		next.Checkpoint = req.Checkpoint
		next.Offset = end
		job.CurrentCheckpoint = idx
	case idx+1 < len(job.Checkpoints):
		next.Checkpoint = job.Checkpoints[idx+1]
		next.Offset = 0
		job.CurrentCheckpoint = idx + 1
	default:
		return p.finalize(ctx, job)
	}

	job.NextOffset = next.Offset
	job.ChunkRetryCount = 0
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist chain cursor: %w", err)
	}
	p.invoker.Invoke(next)
	return nil
}

// finalize marks the job completed exactly once and propagates completion to
// the inbox record that referenced it.
func (p *ChunkProcessor) finalize(ctx context.Context, job *domain.ImportJob) error {
	if err := job.TransitionTo(domain.ImportStatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	job.CompletedAt = &now
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := p.inbox.SetStatusByJob(ctx, job.ID, domain.InboxStatusImported); err != nil {
		logger.CtxWarn(ctx, "failed to mark inbox imported: %v", err)
	}
	logger.CtxInfo(ctx, "import completed: %d imported, %d errors, %d skipped",
		job.ProductsImported, job.ProductsErrors, job.SkippedRows)
	return nil
}

// failJob marks the job failed with the captured message. Terminal state is
// set exactly once; a transition error here means another writer already
// settled the job.
func (p *ChunkProcessor) failJob(ctx context.Context, job *domain.ImportJob, cause error) {
	if err := job.TransitionTo(domain.ImportStatusFailed); err != nil {
		logger.CtxError(ctx, "cannot fail job: %v", err)
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.ErrorMessage = cause.Error()
	if err := p.jobs.Update(ctx, job); err != nil {
		logger.CtxError(ctx, "failed to persist failed job: %v", err)
	}
	if err := p.inbox.SetStatusByJob(ctx, job.ID, domain.InboxStatusFailed); err != nil {
		logger.CtxWarn(ctx, "failed to mark inbox failed: %v", err)
	}
}

// downloadCheckpoint fetches a checkpoint blob with bounded linear-backoff
// retry and returns its non-empty lines.
func (p *ChunkProcessor) downloadCheckpoint(ctx context.Context, key string) ([]string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxDownloadTries; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * p.retryDelay)
		}
		body, err := p.store.Download(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		var lines []string
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		return lines, nil
	}
	return nil, fmt.Errorf("failed to download checkpoint %s after %d attempts: %w", key, p.maxDownloadTries, lastErr)
}

// upsertProducts batch-upserts the chunk's records keyed by
// (supplier_id, supplier_reference).
func (p *ChunkProcessor) upsertProducts(ctx context.Context, job *domain.ImportJob, records []domain.SupplierRecord) error {
	if len(records) == 0 {
		return nil
	}
	products := make([]domain.SupplierProduct, 0, len(records))
	for _, rec := range records {
		products = append(products, domain.SupplierProduct{
			ID:                uuid.New().String(),
			UserID:            job.UserID,
			SupplierID:        job.SupplierID,
			SupplierReference: rec.Reference,
			Name:              rec.Name,
			EAN:               rec.EAN,
			Description:       rec.Description,
			PurchasePrice:     rec.PurchasePrice,
			StockQuantity:     rec.StockQuantity,
			Brand:             rec.Brand,
			Category:          rec.Category,
			Currency:          rec.Currency,
		})
	}
	if err := p.products.UpsertBatch(ctx, products); err != nil {
		return fmt.Errorf("failed to upsert product batch: %w", err)
	}
	return nil
}

// maintainAnalyses keeps per-EAN analysis rows in step with the import:
// existing rows count as matches and get a price-only update when the
// incoming price differs, missing rows are seeded in one batch insert.
// Returns the number of records that matched an existing analysis.
func (p *ChunkProcessor) maintainAnalyses(ctx context.Context, job *domain.ImportJob, records []domain.SupplierRecord) (int, error) {
	matched := 0
	var inserts []domain.ProductAnalysis
	for _, rec := range records {
		if rec.EAN == "" {
			continue
		}
		existing, err := p.analyses.GetByUserEAN(ctx, job.UserID, rec.EAN)
		if err != nil {
			return 0, fmt.Errorf("failed to look up analysis for ean %s: %w", rec.EAN, err)
		}
		if existing != nil {
			matched++
			if rec.PurchasePrice != nil && priceDiffers(existing.PurchasePrice, *rec.PurchasePrice) {
				if err := p.analyses.UpdatePrice(ctx, existing.ID, *rec.PurchasePrice); err != nil {
					return 0, fmt.Errorf("failed to update analysis price: %w", err)
				}
			}
			continue
		}
		inserts = append(inserts, domain.ProductAnalysis{
			ID:            uuid.New().String(),
			UserID:        job.UserID,
			EAN:           rec.EAN,
			ProductName:   rec.Name,
			Brand:         rec.Brand,
			Category:      rec.Category,
			PurchasePrice: rec.PurchasePrice,
			Currency:      rec.Currency,
			AnalysisResult: domain.JSONMap{
				"basic_info": map[string]interface{}{
					"reference": rec.Reference,
					"name":      rec.Name,
					"ean":       rec.EAN,
				},
			},
			EnrichmentStatus: domain.JSONMap{},
		})
	}
	if len(inserts) == 0 {
		return matched, nil
	}
	if err := p.analyses.CreateBatch(ctx, inserts); err != nil {
		return 0, fmt.Errorf("failed to seed analyses: %w", err)
	}
	return matched, nil
}

// priceDiffers avoids needless writes when the stored price already matches.
func priceDiffers(stored *float64, incoming float64) bool {
	return stored == nil || *stored != incoming
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// ChainDispatcher runs chunk invocations on background goroutines. The
// linear chain itself guarantees one in-flight chunk per job: every dispatch
// originates from the previous invocation's completion. Retries are delayed
// linearly by attempt number.
type ChainDispatcher struct {
	proc  *ChunkProcessor
	delay time.Duration
	wg    sync.WaitGroup
}

// NewChainDispatcher creates a dispatcher around the processor.
func NewChainDispatcher(proc *ChunkProcessor, delay time.Duration) *ChainDispatcher {
	return &ChainDispatcher{proc: proc, delay: delay}
}

// Invoke schedules one chunk invocation asynchronously.
func (d *ChainDispatcher) Invoke(req ChunkRequest) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if req.RetryCount > 0 && d.delay > 0 {
			time.Sleep(time.Duration(req.RetryCount) * d.delay)
		}
		if _, err := d.proc.ProcessChunk(context.Background(), req); err != nil {
			logger.Error("chunk chain for job %s stopped: %v", req.JobID, err)
		}
	}()
}

// Wait blocks until every dispatched invocation has finished. Used on
// shutdown and in tests.
func (d *ChainDispatcher) Wait() {
	d.wg.Wait()
}
