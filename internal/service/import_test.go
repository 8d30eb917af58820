package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/davet/prodsync/internal/domain"
)

type importFixture struct {
	*chunkFixture
	svc *ImportService
}

func newImportFixture(t *testing.T, batchSize, chunkLimit int) *importFixture {
	t.Helper()
	cf := newChunkFixture(t)
	stream := NewStreamImporter(cf.store, batchSize)
	return &importFixture{
		chunkFixture: cf,
		svc:          NewImportService(cf.jobs, cf.inbox, stream, cf.invoker, chunkLimit, "EUR"),
	}
}

func TestStartImportEndToEnd(t *testing.T) {
	f := newImportFixture(t, 1000, 400)
	ctx := context.Background()

	res, err := f.svc.StartImport(ctx, StartImportRequest{
		UserID:       "u1",
		SupplierID:   "sup1",
		Source:       strings.NewReader(buildCSV(2500, ",", true)),
		SourceFile:   "catalog.csv",
		Mapping:      csvMapping(),
		HasHeaderRow: true,
		InboxID:      "inbox-1",
	})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if res.ProductsQueued != 2500 {
		t.Errorf("queued = %d, want 2500", res.ProductsQueued)
	}

	// The synchronous invoker drained the chain before StartImport returned:
	// three checkpoints of 1000/1000/500 sliced by 400 is 3+3+2 invocations.
	if f.invoker.invocations != 8 {
		t.Errorf("invocations = %d, want 8", f.invoker.invocations)
	}

	job, err := f.svc.GetJob(ctx, res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.ProgressCurrent != 2500 || job.ProgressTotal != 2500 {
		t.Errorf("progress = %d/%d, want 2500/2500", job.ProgressCurrent, job.ProgressTotal)
	}
	if job.ProductsImported != 2500 {
		t.Errorf("products_imported = %d, want 2500", job.ProductsImported)
	}
	if f.products.count() != 2500 {
		t.Errorf("catalog rows = %d, want 2500", f.products.count())
	}
	if f.inbox.linked["inbox-1"] != res.JobID {
		t.Error("inbox record not linked to job")
	}
	if f.inbox.statuses[res.JobID] != domain.InboxStatusImported {
		t.Errorf("inbox status = %s, want imported", f.inbox.statuses[res.JobID])
	}
}

func TestStartImportEmptySourceCompletesImmediately(t *testing.T) {
	f := newImportFixture(t, 1000, 1000)
	ctx := context.Background()

	res, err := f.svc.StartImport(ctx, StartImportRequest{
		UserID:     "u1",
		SupplierID: "sup1",
		Source:     strings.NewReader(",,,\n,,,\n"),
		Mapping:    csvMapping(),
	})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if res.ProductsQueued != 0 || res.Skipped != 2 {
		t.Errorf("queued/skipped = %d/%d, want 0/2", res.ProductsQueued, res.Skipped)
	}
	if f.invoker.invocations != 0 {
		t.Errorf("invocations = %d, want 0", f.invoker.invocations)
	}
	job, _ := f.svc.GetJob(ctx, res.JobID)
	if job.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
}

func TestStartImportStreamFailureFailsJob(t *testing.T) {
	f := newImportFixture(t, 10, 1000)
	f.store.failUploads = true
	ctx := context.Background()

	_, err := f.svc.StartImport(ctx, StartImportRequest{
		UserID:     "u1",
		SupplierID: "sup1",
		Source:     strings.NewReader(buildCSV(25, ",", false)),
		Mapping:    csvMapping(),
	})
	if err == nil {
		t.Fatal("expected stream failure")
	}

	var failed int
	for _, job := range f.jobs.jobs {
		if job.Status == domain.ImportStatusFailed && job.ErrorMessage != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed jobs = %d, want 1", failed)
	}
}

func TestResumeStalled(t *testing.T) {
	f := newImportFixture(t, 1000, 1000)
	ctx := context.Background()

	// A crashed chain left the durable cursor pointing at the second
	// checkpoint.
	job := f.seedCheckpoints(t, "job-stalled", 100, 100)
	loaded, _ := f.jobs.Get(ctx, job.ID)
	loaded.CurrentCheckpoint = 1
	loaded.NextOffset = 0
	loaded.ProgressCurrent = 100
	loaded.UpdatedAt = time.Now().Add(-time.Hour)
	if err := f.jobs.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	resumed, err := f.svc.ResumeStalled(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("ResumeStalled: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}

	got, _ := f.jobs.Get(ctx, job.ID)
	if got.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	// Only the second checkpoint was replayed.
	if f.products.count() != 100 {
		t.Errorf("catalog rows = %d, want 100", f.products.count())
	}
}

func TestResumeStalledReconstructsCheckpoints(t *testing.T) {
	f := newImportFixture(t, 1000, 1000)
	ctx := context.Background()

	// The job row lost its checkpoint list but the blobs are still in the
	// store; resume rebuilds the list from the shared key prefix.
	job := f.seedCheckpoints(t, "job-amnesia", 100, 100)
	loaded, _ := f.jobs.Get(ctx, job.ID)
	loaded.Checkpoints = nil
	loaded.UpdatedAt = time.Now().Add(-time.Hour)
	if err := f.jobs.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	resumed, err := f.svc.ResumeStalled(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("ResumeStalled: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}

	got, _ := f.jobs.Get(ctx, job.ID)
	if got.Status != domain.ImportStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	if len(got.Checkpoints) != 2 {
		t.Errorf("checkpoints = %d, want 2 reconstructed", len(got.Checkpoints))
	}
	if f.products.count() != 200 {
		t.Errorf("catalog rows = %d, want 200", f.products.count())
	}
}

func TestResumeStalledSkipsFreshJobs(t *testing.T) {
	f := newImportFixture(t, 1000, 1000)
	ctx := context.Background()

	job := f.seedCheckpoints(t, "job-fresh", 100)
	loaded, _ := f.jobs.Get(ctx, job.ID)
	loaded.UpdatedAt = time.Now()
	if err := f.jobs.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	resumed, err := f.svc.ResumeStalled(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("ResumeStalled: %v", err)
	}
	if resumed != 0 {
		t.Errorf("resumed = %d, want 0", resumed)
	}
}
