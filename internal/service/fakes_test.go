package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davet/prodsync/internal/domain"
)

// In-memory fakes for the pipeline's collaborators. They mirror the behavior
// the GORM repositories and the S3 store provide.

type fakeStorage struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failUploads bool
	// failDownloads counts down: each download fails while it is > 0.
	failDownloads int
	downloads     int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUploads {
		return fmt.Errorf("upload refused")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.failDownloads > 0 {
		f.failDownloads--
		return nil, fmt.Errorf("download refused")
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStorage) GetURL(key string) string { return "fake://" + key }

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.ImportJob
	// progressHistory records progress_current at every successful update,
	// per job.
	progressHistory map[string][]int
	// failNextUpdates counts down: each Update fails while it is > 0.
	failNextUpdates int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*domain.ImportJob{}, progressHistory: map[string][]int{}}
}

func (f *fakeJobStore) Create(_ context.Context, job *domain.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) Get(_ context.Context, id string) (*domain.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) Update(_ context.Context, job *domain.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextUpdates > 0 {
		f.failNextUpdates--
		return fmt.Errorf("update refused")
	}
	cp := *job
	f.jobs[job.ID] = &cp
	f.progressHistory[job.ID] = append(f.progressHistory[job.ID], job.ProgressCurrent)
	return nil
}

func (f *fakeJobStore) ListStalled(_ context.Context, olderThan time.Time) ([]domain.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ImportJob
	for _, job := range f.jobs {
		if job.Status == domain.ImportStatusRunning && job.UpdatedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type fakeProductStore struct {
	mu       sync.Mutex
	products map[string]*domain.SupplierProduct // by (supplier_id, reference)
	byID     map[string]*domain.SupplierProduct
	failAll  bool
	upserts  int
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{
		products: map[string]*domain.SupplierProduct{},
		byID:     map[string]*domain.SupplierProduct{},
	}
}

func productKey(supplierID, ref string) string { return supplierID + "\x00" + ref }

func (f *fakeProductStore) UpsertBatch(_ context.Context, products []domain.SupplierProduct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("upsert refused")
	}
	f.upserts++
	for i := range products {
		p := products[i]
		key := productKey(p.SupplierID, p.SupplierReference)
		if existing, ok := f.products[key]; ok {
			p.ID = existing.ID
		}
		cp := p
		f.products[key] = &cp
		f.byID[cp.ID] = &cp
	}
	return nil
}

func (f *fakeProductStore) GetByID(_ context.Context, id string) (*domain.SupplierProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductStore) add(p domain.SupplierProduct) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.products[productKey(p.SupplierID, p.SupplierReference)] = &cp
	f.byID[p.ID] = &cp
}

func (f *fakeProductStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products)
}

type fakeAnalysisStore struct {
	mu           sync.Mutex
	analyses     map[string]*domain.ProductAnalysis // by id
	byUserEAN    map[string]*domain.ProductAnalysis
	links        []domain.ProductAnalysisLink
	priceUpdates map[string][]float64
}

func newFakeAnalysisStore() *fakeAnalysisStore {
	return &fakeAnalysisStore{
		analyses:     map[string]*domain.ProductAnalysis{},
		byUserEAN:    map[string]*domain.ProductAnalysis{},
		priceUpdates: map[string][]float64{},
	}
}

func analysisKey(userID, ean string) string { return userID + "\x00" + ean }

func (f *fakeAnalysisStore) Create(_ context.Context, a *domain.ProductAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.analyses[a.ID] = &cp
	if a.EAN != "" {
		f.byUserEAN[analysisKey(a.UserID, a.EAN)] = &cp
	}
	return nil
}

func (f *fakeAnalysisStore) CreateBatch(ctx context.Context, analyses []domain.ProductAnalysis) error {
	for i := range analyses {
		if err := f.Create(ctx, &analyses[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAnalysisStore) Update(_ context.Context, a *domain.ProductAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.analyses[a.ID] = &cp
	if a.EAN != "" {
		f.byUserEAN[analysisKey(a.UserID, a.EAN)] = &cp
	}
	return nil
}

func (f *fakeAnalysisStore) GetByUserEAN(_ context.Context, userID, ean string) (*domain.ProductAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byUserEAN[analysisKey(userID, ean)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAnalysisStore) UpdatePrice(_ context.Context, id string, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceUpdates[id] = append(f.priceUpdates[id], price)
	if a, ok := f.analyses[id]; ok {
		p := price
		a.PurchasePrice = &p
	}
	return nil
}

func (f *fakeAnalysisStore) CreateLink(_ context.Context, link *domain.ProductAnalysisLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, *link)
	return nil
}

func (f *fakeAnalysisStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analyses)
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.EnrichmentTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*domain.EnrichmentTask{}}
}

func (f *fakeTaskStore) Create(_ context.Context, task *domain.EnrichmentTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTaskStore) Update(_ context.Context, task *domain.EnrichmentTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTaskStore) GetByID(_ context.Context, id string) (*domain.EnrichmentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) ListPending(_ context.Context, limit int) ([]domain.EnrichmentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EnrichmentTask
	for _, t := range f.tasks {
		if t.Status == domain.TaskStatusPending {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTaskStore) ListTimedOut(_ context.Context, now time.Time) ([]domain.EnrichmentTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EnrichmentTask
	for _, t := range f.tasks {
		if t.Status == domain.TaskStatusProcessing && t.TimeoutAt != nil && t.TimeoutAt.Before(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeInboxStore struct {
	mu       sync.Mutex
	statuses map[string]domain.InboxStatus // by job id
	linked   map[string]string             // inbox id -> job id
}

func newFakeInboxStore() *fakeInboxStore {
	return &fakeInboxStore{statuses: map[string]domain.InboxStatus{}, linked: map[string]string{}}
}

func (f *fakeInboxStore) LinkJob(_ context.Context, inboxID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[inboxID] = jobID
	f.statuses[jobID] = domain.InboxStatusProcessing
	return nil
}

func (f *fakeInboxStore) SetStatusByJob(_ context.Context, jobID string, status domain.InboxStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
	return nil
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (f *fakeNotificationStore) Create(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, *n)
	return nil
}

type fakePriceStore struct {
	mu     sync.Mutex
	rows   []domain.PriceMonitoring
	alerts []domain.PriceAlert
}

func (f *fakePriceStore) CreateMonitoringBatch(_ context.Context, rows []domain.PriceMonitoring) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakePriceStore) CreateAlert(_ context.Context, alert *domain.PriceAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *alert)
	return nil
}

// fakeCompleter routes each completion by a substring of the system prompt.
type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string // system prompt substring -> JSON payload
	failWith  map[string]error
	calls     []string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{responses: map[string]string{}, failWith: map[string]error{}}
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, system, _ string, _ int, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, system)
	for frag, err := range f.failWith {
		if strings.Contains(system, frag) {
			return err
		}
	}
	for frag, payload := range f.responses {
		if strings.Contains(system, frag) {
			return jsonUnmarshal(payload, out)
		}
	}
	return jsonUnmarshal(`{}`, out)
}

func jsonUnmarshal(payload string, out interface{}) error {
	return json.Unmarshal([]byte(payload), out)
}

// fakeBackend returns canned results and can be told to fail.
type fakeBackend struct {
	name    string
	results []BackendResult
	err     error
	calls   int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Search(_ context.Context, _, _ string, _ int) ([]BackendResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeSearcher satisfies the shopping stage without hitting the merger.
type fakeSearcher struct {
	result *DualSearchResult
	err    error
}

func (f *fakeSearcher) RunDualSearch(_ context.Context, _, _ string, _ []string, _ int) (*DualSearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &DualSearchResult{}, nil
}

// syncInvoker drains the chunk chain synchronously so tests observe the
// final state without sleeping. The queue (instead of recursion) preserves
// the one-invocation-at-a-time semantics of the real dispatcher.
type syncInvoker struct {
	proc        *ChunkProcessor
	queue       []ChunkRequest
	running     bool
	invocations int
}

func (s *syncInvoker) Invoke(req ChunkRequest) {
	s.queue = append(s.queue, req)
	if s.running {
		return
	}
	s.running = true
	defer func() { s.running = false }()
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.invocations++
		// Permanent failure already settles the job; nothing to do here.
		_, _ = s.proc.ProcessChunk(context.Background(), next)
	}
}
