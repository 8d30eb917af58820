package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
)

// promoDiscountThreshold is the percent discount off the average price above
// which a result counts as a promotion.
const promoDiscountThreshold = 10.0

// Confidence scores by result origin. A dual-validated result always
// outranks either single engine.
const (
	confidenceEngineA = 0.7
	confidenceEngineB = 0.8
	confidenceDual    = 0.95
)

// priceStore is the persistence surface of the merger.
type priceStore interface {
	CreateMonitoringBatch(ctx context.Context, rows []domain.PriceMonitoring) error
	CreateAlert(ctx context.Context, alert *domain.PriceAlert) error
}

// DualSearchStats summarizes one merged search run.
type DualSearchStats struct {
	EngineAResults int     `json:"engine_a_results"`
	EngineBResults int     `json:"engine_b_results"`
	DualValidated  int     `json:"dual_validated"`
	PromoCount     int     `json:"promo_count"`
	MinPrice       float64 `json:"min_price"`
	AvgPrice       float64 `json:"avg_price"`
}

// DualSearchResult is the merged, confidence-scored output of one run.
type DualSearchResult struct {
	Results []domain.PriceResult `json:"results"`
	Stats   DualSearchStats      `json:"stats"`
}

// PriceSearchService queries two independent search backends, merges their
// results by canonical URL and computes promotion signals.
type PriceSearchService struct {
	engineA SearchBackend
	engineB SearchBackend
	prices  priceStore
}

// NewPriceSearchService creates a new PriceSearchService.
func NewPriceSearchService(engineA, engineB SearchBackend, prices priceStore) *PriceSearchService {
	return &PriceSearchService{engineA: engineA, engineB: engineB, prices: prices}
}

// RunDualSearch fires both backends per target site, merges by URL,
// cross-validates into dual results and persists monitoring rows. When at
// least one promotion is detected, exactly one price-drop alert is emitted
// for the whole query.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the monitoring rows.
//   - productName: search query.
//   - siteIDs: target sites; empty runs one unscoped query.
//   - maxResults: per-backend result cap.
// Returns:
//   - *DualSearchResult: merged results and run statistics.
//   - error: non-nil only when persistence fails; backend failures degrade
//     to single-source results.
func (s *PriceSearchService) RunDualSearch(ctx context.Context, userID, productName string, siteIDs []string, maxResults int) (*DualSearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	sites := siteIDs
	if len(sites) == 0 {
		sites = []string{""}
	}

	merged := make(map[string]*domain.PriceResult)
	stats := DualSearchStats{}

	for _, site := range sites {
		resultsA, resultsB := s.searchBoth(ctx, productName, site, maxResults)
		stats.EngineAResults += len(resultsA)
		stats.EngineBResults += len(resultsB)

		for _, r := range resultsA {
			mergeResult(merged, r, domain.PriceSourceEngineA)
		}
		for _, r := range resultsB {
			mergeResult(merged, r, domain.PriceSourceEngineB)
		}
	}

	results := make([]domain.PriceResult, 0, len(merged))
	for _, r := range merged {
		if r.Source == domain.PriceSourceDual {
			stats.DualValidated++
		}
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Price < results[j].Price })

	flagPromotions(results, &stats)

	if err := s.persist(ctx, userID, productName, results, stats); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "dual search %q: %d merged results, %d dual, %d promos",
		productName, len(results), stats.DualValidated, stats.PromoCount)
	return &DualSearchResult{Results: results, Stats: stats}, nil
}

// searchBoth runs both backends concurrently. A backend failure yields nil
// for that backend only.
func (s *PriceSearchService) searchBoth(ctx context.Context, query, site string, maxResults int) ([]BackendResult, []BackendResult) {
	var (
		wg       sync.WaitGroup
		resultsA []BackendResult
		resultsB []BackendResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := s.engineA.Search(ctx, query, site, maxResults)
		if err != nil {
			logger.CtxWarn(ctx, "%s search failed for %q: %v", s.engineA.Name(), query, err)
			return
		}
		resultsA = res
	}()
	go func() {
		defer wg.Done()
		res, err := s.engineB.Search(ctx, query, site, maxResults)
		if err != nil {
			logger.CtxWarn(ctx, "%s search failed for %q: %v", s.engineB.Name(), query, err)
			return
		}
		resultsB = res
	}()
	wg.Wait()
	return resultsA, resultsB
}

// mergeResult folds one backend hit into the URL-keyed merge map. A URL seen
// by both engines becomes a dual result with the minimum price and metadata
// from whichever backend provided it.
func mergeResult(merged map[string]*domain.PriceResult, r BackendResult, source domain.PriceSource) {
	existing, ok := merged[r.URL]
	if !ok {
		confidence := confidenceEngineA
		if source == domain.PriceSourceEngineB {
			confidence = confidenceEngineB
		}
		merged[r.URL] = &domain.PriceResult{
			ProductName: r.ProductName,
			URL:         r.URL,
			Price:       r.Price,
			Site:        r.Site,
			Source:      source,
			Confidence:  confidence,
			Rating:      r.Rating,
			InStock:     r.InStock,
		}
		return
	}
	if existing.Source == source || existing.Source == domain.PriceSourceDual {
		// Same engine twice (multi-site overlap): keep the cheaper offer.
		if r.Price < existing.Price {
			existing.Price = r.Price
		}
	} else {
		existing.Source = domain.PriceSourceDual
		existing.Confidence = confidenceDual
		existing.Price = math.Min(existing.Price, r.Price)
	}
	if existing.Rating == nil {
		existing.Rating = r.Rating
	}
	if existing.InStock == nil {
		existing.InStock = r.InStock
	}
}

// flagPromotions computes avg/min over the merged set and marks promotions
// and best prices. Ties at the minimum all get is_best_price.
func flagPromotions(results []domain.PriceResult, stats *DualSearchStats) {
	if len(results) == 0 {
		return
	}
	var sum float64
	min := results[0].Price
	for _, r := range results {
		sum += r.Price
		if r.Price < min {
			min = r.Price
		}
	}
	avg := sum / float64(len(results))
	stats.AvgPrice = avg
	stats.MinPrice = min

	for i := range results {
		r := &results[i]
		if avg > 0 {
			r.DiscountPercent = (avg - r.Price) / avg * 100
		}
		r.IsBestPrice = r.Price == min
		r.IsPromo = r.DiscountPercent > promoDiscountThreshold || r.Price == min
		if r.IsPromo {
			stats.PromoCount++
		}
	}
}

// persist writes monitoring rows and, when promos were found, one alert.
func (s *PriceSearchService) persist(ctx context.Context, userID, productName string, results []domain.PriceResult, stats DualSearchStats) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]domain.PriceMonitoring, 0, len(results))
	now := time.Now()
	for _, r := range results {
		rows = append(rows, domain.PriceMonitoring{
			ID:              uuid.New().String(),
			UserID:          userID,
			ProductName:     productName,
			URL:             r.URL,
			Price:           r.Price,
			Site:            r.Site,
			Source:          r.Source,
			Confidence:      r.Confidence,
			IsPromo:         r.IsPromo,
			IsBestPrice:     r.IsBestPrice,
			DiscountPercent: r.DiscountPercent,
			CreatedAt:       now,
		})
	}
	if err := s.prices.CreateMonitoringBatch(ctx, rows); err != nil {
		return fmt.Errorf("failed to persist monitoring rows: %w", err)
	}

	if stats.PromoCount > 0 {
		alert := &domain.PriceAlert{
			ID:          uuid.New().String(),
			UserID:      userID,
			ProductName: productName,
			PromoCount:  stats.PromoCount,
			MinPrice:    stats.MinPrice,
			AvgPrice:    stats.AvgPrice,
			CreatedAt:   now,
		}
		if err := s.prices.CreateAlert(ctx, alert); err != nil {
			return fmt.Errorf("failed to persist price alert: %w", err)
		}
	}
	return nil
}
