package service

import (
	"context"
	"time"

	"github.com/davet/prodsync/internal/domain"
)

// Persistence surfaces the pipeline depends on. The GORM repositories in
// internal/repository satisfy these; tests substitute in-memory fakes.

type jobStore interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	Update(ctx context.Context, job *domain.ImportJob) error
	ListStalled(ctx context.Context, olderThan time.Time) ([]domain.ImportJob, error)
}

type productStore interface {
	UpsertBatch(ctx context.Context, products []domain.SupplierProduct) error
	GetByID(ctx context.Context, id string) (*domain.SupplierProduct, error)
}

type analysisStore interface {
	Create(ctx context.Context, analysis *domain.ProductAnalysis) error
	CreateBatch(ctx context.Context, analyses []domain.ProductAnalysis) error
	Update(ctx context.Context, analysis *domain.ProductAnalysis) error
	GetByUserEAN(ctx context.Context, userID, ean string) (*domain.ProductAnalysis, error)
	UpdatePrice(ctx context.Context, id string, price float64) error
	CreateLink(ctx context.Context, link *domain.ProductAnalysisLink) error
}

type taskStore interface {
	Create(ctx context.Context, task *domain.EnrichmentTask) error
	Update(ctx context.Context, task *domain.EnrichmentTask) error
	GetByID(ctx context.Context, id string) (*domain.EnrichmentTask, error)
	ListPending(ctx context.Context, limit int) ([]domain.EnrichmentTask, error)
	ListTimedOut(ctx context.Context, now time.Time) ([]domain.EnrichmentTask, error)
}

type inboxStore interface {
	LinkJob(ctx context.Context, inboxID, jobID string) error
	SetStatusByJob(ctx context.Context, jobID string, status domain.InboxStatus) error
}

type notificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
}
