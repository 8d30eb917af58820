package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/davet/prodsync/internal/domain"
)

type chunkFixture struct {
	jobs     *fakeJobStore
	products *fakeProductStore
	analyses *fakeAnalysisStore
	inbox    *fakeInboxStore
	store    *fakeStorage
	proc     *ChunkProcessor
	invoker  *syncInvoker
}

func newChunkFixture(t *testing.T) *chunkFixture {
	t.Helper()
	f := &chunkFixture{
		jobs:     newFakeJobStore(),
		products: newFakeProductStore(),
		analyses: newFakeAnalysisStore(),
		inbox:    newFakeInboxStore(),
		store:    newFakeStorage(),
	}
	f.proc = NewChunkProcessor(f.jobs, f.products, f.analyses, f.inbox, f.store, ChunkProcessorOptions{
		MaxChunkRetries:  3,
		MaxDownloadTries: 3,
		RetryDelay:       0,
	})
	f.invoker = &syncInvoker{proc: f.proc}
	f.proc.SetInvoker(f.invoker)
	return f
}

// seedCheckpoints uploads NDJSON checkpoints with the given record counts and
// creates a running job pointing at them.
func (f *chunkFixture) seedCheckpoints(t *testing.T, jobID string, counts ...int) *domain.ImportJob {
	t.Helper()
	ctx := context.Background()
	var keys []string
	total := 0
	for seq, count := range counts {
		var sb strings.Builder
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf(`{"reference":"REF-%d-%d","name":"Product %d","ean":"40063813%05d","purchase_price":9.99,"currency":"EUR"}`, seq, i, i, total+i))
			sb.WriteString("\n")
		}
		key := CheckpointKey("u1", jobID, seq+1)
		if err := f.store.Upload(ctx, key, strings.NewReader(sb.String()), int64(sb.Len()), ndjsonContentType); err != nil {
			t.Fatalf("seed checkpoint: %v", err)
		}
		keys = append(keys, key)
		total += count
	}
	job := &domain.ImportJob{
		ID:            jobID,
		UserID:        "u1",
		SupplierID:    "sup1",
		Status:        domain.ImportStatusRunning,
		Checkpoints:   domain.StringArray(keys),
		ProgressTotal: total,
		CorrelationID: "corr-" + jobID,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func (f *chunkFixture) start(job *domain.ImportJob, limit int) {
	f.invoker.Invoke(ChunkRequest{
		JobID:         job.ID,
		Checkpoint:    job.Checkpoints[0],
		Limit:         limit,
		CorrelationID: job.CorrelationID,
	})
}

func TestChunkChainTermination(t *testing.T) {
	tests := []struct {
		name            string
		counts          []int
		limit           int
		wantInvocations int
	}{
		{"single checkpoint single slice", []int{100}, 1000, 1},
		{"single checkpoint multiple slices", []int{1000}, 400, 3},
		{"multiple checkpoints", []int{1000, 1000, 500}, 400, 8},
		{"limit equals checkpoint size", []int{500, 500}, 500, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChunkFixture(t)
			job := f.seedCheckpoints(t, "job-"+tt.name, tt.counts...)
			f.start(job, tt.limit)

			if f.invoker.invocations != tt.wantInvocations {
				t.Errorf("invocations = %d, want %d", f.invoker.invocations, tt.wantInvocations)
			}
			got, err := f.jobs.Get(context.Background(), job.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != domain.ImportStatusCompleted {
				t.Errorf("job status = %s, want completed", got.Status)
			}
			if got.CompletedAt == nil {
				t.Error("completed_at not set")
			}
			wantTotal := 0
			for _, c := range tt.counts {
				wantTotal += c
			}
			if got.ProgressCurrent != wantTotal {
				t.Errorf("progress = %d, want %d", got.ProgressCurrent, wantTotal)
			}
			if f.products.count() != wantTotal {
				t.Errorf("products stored = %d, want %d", f.products.count(), wantTotal)
			}
		})
	}
}

func TestChunkProgressMonotonic(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-progress", 1000, 1000, 500)
	f.start(job, 300)

	history := f.jobs.progressHistory[job.ID]
	if len(history) == 0 {
		t.Fatal("no progress updates recorded")
	}
	prev := 0
	for i, p := range history {
		if p < prev {
			t.Fatalf("progress regressed at update %d: %d -> %d", i, prev, p)
		}
		if p > job.ProgressTotal {
			t.Fatalf("progress %d exceeds total %d", p, job.ProgressTotal)
		}
		prev = p
	}
	if prev != job.ProgressTotal {
		t.Errorf("final progress = %d, want %d", prev, job.ProgressTotal)
	}
}

func TestChunkRetryBudget(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-retry", 100)
	f.products.failAll = true

	f.start(job, 1000)

	// One initial attempt plus exactly three retries.
	if f.invoker.invocations != 4 {
		t.Errorf("invocations = %d, want 4", f.invoker.invocations)
	}
	got, err := f.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ImportStatusFailed {
		t.Errorf("job status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("error message not captured")
	}
	if f.inbox.statuses[job.ID] != domain.InboxStatusFailed {
		t.Errorf("inbox status = %s, want failed", f.inbox.statuses[job.ID])
	}
}

func TestChunkRetryDoesNotDoubleCount(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-recount", 2)
	// The chain-cursor persist of the first slice fails once. The slice has
	// already been tallied in memory at that point; the re-dispatched slice
	// must not count its rows a second time.
	f.jobs.failNextUpdates = 1

	f.start(job, 1)

	// Initial slice, its retry, then the second slice.
	if f.invoker.invocations != 3 {
		t.Errorf("invocations = %d, want 3", f.invoker.invocations)
	}
	got, err := f.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ImportStatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
	if got.ProductsImported != 2 {
		t.Errorf("products_imported = %d, want 2", got.ProductsImported)
	}
	if got.ProgressCurrent != 2 {
		t.Errorf("progress = %d, want 2", got.ProgressCurrent)
	}
	prev := 0
	for i, p := range f.jobs.progressHistory[job.ID] {
		if p < prev || p > 2 {
			t.Fatalf("progress history invalid at update %d: %v", i, f.jobs.progressHistory[job.ID])
		}
		prev = p
	}
	if f.products.count() != 2 {
		t.Errorf("catalog rows = %d, want 2", f.products.count())
	}
}

func TestChunkRecoversMidChain(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-flaky", 100, 100)
	// First two downloads fail, the third succeeds within one invocation's
	// download budget. The chain must still complete.
	f.store.failDownloads = 2

	f.start(job, 1000)

	got, err := f.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	if f.products.count() != 200 {
		t.Errorf("products stored = %d, want 200", f.products.count())
	}
}

func TestChunkTerminalJobStopsChain(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-cancelled", 100)
	ctx := context.Background()

	loaded, _ := f.jobs.Get(ctx, job.ID)
	if err := loaded.TransitionTo(domain.ImportStatusFailed); err != nil {
		t.Fatal(err)
	}
	if err := f.jobs.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	res, err := f.proc.ProcessChunk(ctx, ChunkRequest{
		JobID: job.ID, Checkpoint: job.Checkpoints[0], Limit: 1000,
	})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.Completed {
		t.Error("failed job reported as completed")
	}
	if f.products.count() != 0 {
		t.Errorf("terminal job still processed %d products", f.products.count())
	}
}

func TestChunkMalformedAndSkippedLines(t *testing.T) {
	f := newChunkFixture(t)
	ctx := context.Background()

	body := `{"reference":"REF-1","name":"Widget","ean":"4006381333931"}
not json at all
{"reference":"","name":""}
{"reference":"REF-2","name":"Gadget"}
`
	key := CheckpointKey("u1", "job-mixed", 1)
	if err := f.store.Upload(ctx, key, strings.NewReader(body), int64(len(body)), ndjsonContentType); err != nil {
		t.Fatal(err)
	}
	job := &domain.ImportJob{
		ID: "job-mixed", UserID: "u1", SupplierID: "sup1",
		Status:      domain.ImportStatusRunning,
		Checkpoints: domain.StringArray{key}, ProgressTotal: 4,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	res, err := f.proc.ProcessChunk(ctx, ChunkRequest{JobID: job.ID, Checkpoint: key, Limit: 1000})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 1 || res.SkippedCount != 1 {
		t.Errorf("success/error/skipped = %d/%d/%d, want 2/1/1", res.SuccessCount, res.ErrorCount, res.SkippedCount)
	}
	got, _ := f.jobs.Get(ctx, job.ID)
	if got.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	if got.ProductsErrors != 1 || got.SkippedRows != 1 {
		t.Errorf("job errors/skipped = %d/%d, want 1/1", got.ProductsErrors, got.SkippedRows)
	}
}

func TestChunkReprocessingIsIdempotent(t *testing.T) {
	f := newChunkFixture(t)
	job := f.seedCheckpoints(t, "job-replay", 50)

	// First pass completes the job.
	f.start(job, 1000)
	if f.products.count() != 50 {
		t.Fatalf("products = %d, want 50", f.products.count())
	}

	// Replaying the same slice against the now-terminal job must not double
	// the catalog.
	res, err := f.proc.ProcessChunk(context.Background(), ChunkRequest{
		JobID: job.ID, Checkpoint: job.Checkpoints[0], Limit: 1000,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Completed {
		t.Error("replay against completed job should acknowledge completion")
	}
	if f.products.count() != 50 {
		t.Errorf("products after replay = %d, want 50", f.products.count())
	}
}

func TestChunkAnalysisMaintenance(t *testing.T) {
	f := newChunkFixture(t)
	ctx := context.Background()

	oldPrice := 19.99
	if err := f.analyses.Create(ctx, &domain.ProductAnalysis{
		ID: "an-1", UserID: "u1", EAN: "4006381300001", ProductName: "Widget", PurchasePrice: &oldPrice,
	}); err != nil {
		t.Fatal(err)
	}

	body := `{"reference":"REF-1","name":"Widget","ean":"4006381300001","purchase_price":14.99}
{"reference":"REF-2","name":"Gadget","ean":"4006381300002","purchase_price":5.00}
{"reference":"REF-3","name":"Nameless"}
`
	key := CheckpointKey("u1", "job-an", 1)
	if err := f.store.Upload(ctx, key, strings.NewReader(body), int64(len(body)), ndjsonContentType); err != nil {
		t.Fatal(err)
	}
	job := &domain.ImportJob{
		ID: "job-an", UserID: "u1", SupplierID: "sup1",
		Status:      domain.ImportStatusRunning,
		Checkpoints: domain.StringArray{key}, ProgressTotal: 3,
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	res, err := f.proc.ProcessChunk(ctx, ChunkRequest{JobID: job.ID, Checkpoint: key, Limit: 1000})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	// Existing analysis counts as a match and gets a price-only update, the
	// new EAN is seeded, the EAN-less record touches nothing.
	if res.MatchedCount != 1 {
		t.Errorf("matched_count = %d, want 1", res.MatchedCount)
	}
	if got := f.analyses.priceUpdates["an-1"]; len(got) != 1 || got[0] != 14.99 {
		t.Errorf("price updates for an-1 = %v, want [14.99]", got)
	}
	job2, _ := f.jobs.Get(ctx, job.ID)
	if job2.ProductsMatched != 1 {
		t.Errorf("products_matched = %d, want 1", job2.ProductsMatched)
	}
	if f.analyses.count() != 2 {
		t.Errorf("analyses = %d, want 2", f.analyses.count())
	}
	seeded, err := f.analyses.GetByUserEAN(ctx, "u1", "4006381300002")
	if err != nil || seeded == nil {
		t.Fatalf("seeded analysis missing: %v", err)
	}
	if seeded.ProductName != "Gadget" {
		t.Errorf("seeded name = %q", seeded.ProductName)
	}
	if _, ok := seeded.AnalysisResult["basic_info"]; !ok {
		t.Error("seeded analysis lacks basic_info")
	}
}
