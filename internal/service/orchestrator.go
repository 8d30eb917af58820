package service

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davet/prodsync/internal/domain"
	"github.com/davet/prodsync/internal/logger"
	"github.com/davet/prodsync/internal/prompts"
)

// Enrichment stage names. A task's enrichment_types list selects a subset.
const (
	StageCategories            = "categories"
	StageImages                = "images"
	StageShopping              = "shopping"
	StageAdvanced              = "advanced"
	StageMarketplaceAttributes = "marketplace-attributes"
	StageMedia                 = "media"
)

// StageStatus is the settled outcome of one enrichment stage or substep.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult is the tagged outcome of one stage. A failed stage never
// aborts the others; the caller reads partial success off the result map.
type StageResult struct {
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// dualSearcher is the shopping stage's price search surface.
type dualSearcher interface {
	RunDualSearch(ctx context.Context, userID, productName string, siteIDs []string, maxResults int) (*DualSearchResult, error)
}

// Orchestrator runs the per-product enrichment stages. Each stage's failure
// is caught at the stage boundary and recorded; execution always proceeds to
// the next stage.
type Orchestrator struct {
	ai       Completer
	search   dualSearcher
	engineA  SearchBackend
	engineB  SearchBackend
	analyses analysisStore
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(ai Completer, search dualSearcher, engineA, engineB SearchBackend, analyses analysisStore) *Orchestrator {
	return &Orchestrator{ai: ai, search: search, engineA: engineA, engineB: engineB, analyses: analyses}
}

// analysisOutput is the schema of the core analysis completion.
type analysisOutput struct {
	Title        string            `json:"title"`
	Brand        string            `json:"brand"`
	CategoryPath []string          `json:"category_path"`
	Summary      string            `json:"summary"`
	Keywords     []string          `json:"keywords"`
	Attributes   map[string]string `json:"attributes"`
	Confidence   float64           `json:"confidence"`
}

// Analyze runs the core analysis stage for a product and persists the
// resulting ProductAnalysis plus a link record with confidence 1.0.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - product: the supplier product to analyze.
// Returns:
//   - *domain.ProductAnalysis: the created analysis row.
//   - error: non-nil when the AI call or persistence fails.
func (o *Orchestrator) Analyze(ctx context.Context, product *domain.SupplierProduct) (*domain.ProductAnalysis, error) {
	var out analysisOutput
	if err := o.ai.CompleteJSON(ctx, prompts.AnalysisSystemPrompt, prompts.AnalysisUserPrompt+productContext(product), 800, &out); err != nil {
		return nil, fmt.Errorf("analysis stage failed: %w", err)
	}

	name := out.Title
	if name == "" {
		name = product.Name
	}
	brand := out.Brand
	if brand == "" {
		brand = product.Brand
	}

	analysis := &domain.ProductAnalysis{
		ID:            uuid.New().String(),
		UserID:        product.UserID,
		EAN:           product.EAN,
		ProductName:   name,
		Brand:         brand,
		Category:      strings.Join(out.CategoryPath, " > "),
		PurchasePrice: product.PurchasePrice,
		Currency:      product.Currency,
		AnalysisResult: domain.JSONMap{
			"summary":    out.Summary,
			"keywords":   out.Keywords,
			"attributes": out.Attributes,
			"confidence": out.Confidence,
		},
		EnrichmentStatus: domain.JSONMap{},
	}
	if err := o.analyses.Create(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}

	link := &domain.ProductAnalysisLink{
		ID:                uuid.New().String(),
		SupplierProductID: product.ID,
		AnalysisID:        analysis.ID,
		Confidence:        1.0,
		LinkType:          "enrichment",
		CreatedAt:         time.Now(),
	}
	if err := o.analyses.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to link analysis: %w", err)
	}
	return analysis, nil
}

// RunStages runs the requested enrichment stages for one product and returns
// the per-stage result map. No stage error ever escapes this call; partial
// success is the normal outcome.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - product: the supplier product being enriched.
//   - analysis: the product's analysis row, mutated in place and persisted.
//   - stages: stage names to run; unknown names settle as skipped.
// Returns:
//   - map[string]StageResult: one settled result per requested stage.
func (o *Orchestrator) RunStages(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis, stages []string) map[string]StageResult {
	results := make(map[string]StageResult, len(stages))
	if analysis.EnrichmentStatus == nil {
		analysis.EnrichmentStatus = domain.JSONMap{}
	}
	if analysis.AnalysisResult == nil {
		analysis.AnalysisResult = domain.JSONMap{}
	}

	for _, stage := range stages {
		stageCtx := logger.WithField(ctx, logger.FieldStage, stage)
		res := o.runStage(stageCtx, stage, product, analysis)
		if res.Status == StageFailed {
			logger.CtxWarn(stageCtx, "stage %s failed: %s", stage, res.Detail)
		}
		results[stage] = res
		analysis.EnrichmentStatus[stage] = string(res.Status)
	}

	if err := o.analyses.Update(ctx, analysis); err != nil {
		logger.CtxError(ctx, "failed to persist enrichment results: %v", err)
	}
	return results
}

// runStage dispatches one stage and converts its error into a settled result.
func (o *Orchestrator) runStage(ctx context.Context, stage string, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) StageResult {
	var (
		detail string
		err    error
	)
	switch stage {
	case StageCategories:
		detail, err = o.stageCategories(ctx, product, analysis)
	case StageImages:
		return o.stageImages(ctx, product, analysis)
	case StageShopping:
		detail, err = o.stageShopping(ctx, product, analysis)
	case StageAdvanced:
		detail, err = o.stageAdvanced(ctx, product, analysis)
	case StageMarketplaceAttributes:
		detail, err = o.stageMarketplaceAttributes(ctx, product, analysis)
	case StageMedia:
		detail, err = o.stageMedia(ctx, product, analysis)
	default:
		return StageResult{Status: StageSkipped, Detail: "unknown stage"}
	}
	if err != nil {
		return StageResult{Status: StageFailed, Detail: err.Error()}
	}
	return StageResult{Status: StageCompleted, Detail: detail}
}

// OverallProgress is the percentage of settled stages. It reaches exactly
// 100 once every requested stage has settled, regardless of failures.
func OverallProgress(results map[string]StageResult) int {
	if len(results) == 0 {
		return 0
	}
	settled := 0
	for _, r := range results {
		switch r.Status {
		case StageCompleted, StageFailed, StageSkipped:
			settled++
		}
	}
	return int(math.Round(100 * float64(settled) / float64(len(results))))
}

// ----------------------------------------------------------------------------
// Stages
// ----------------------------------------------------------------------------

func (o *Orchestrator) stageCategories(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) (string, error) {
	var out struct {
		CategoryPath []string   `json:"category_path"`
		Confidence   float64    `json:"confidence"`
		Alternatives [][]string `json:"alternatives"`
	}
	if err := o.ai.CompleteJSON(ctx, prompts.CategorySystemPrompt, productContext(product), 400, &out); err != nil {
		return "", err
	}
	if len(out.CategoryPath) == 0 {
		return "no category found", nil
	}
	analysis.Category = strings.Join(out.CategoryPath, " > ")
	analysis.AnalysisResult[StageCategories] = map[string]interface{}{
		"category_path": out.CategoryPath,
		"confidence":    out.Confidence,
		"alternatives":  out.Alternatives,
	}
	return analysis.Category, nil
}

var imageURLPattern = regexp.MustCompile(`https?://[^\s"'<>]+\.(?:jpe?g|png|webp)`)

// stageImages decomposes into named substeps, each independently settled by
// whether that source contributed at least one image URL.
func (o *Orchestrator) stageImages(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) StageResult {
	type substep struct {
		name string
		run  func() ([]string, error)
	}
	steps := []substep{
		{"direct_scrape", func() ([]string, error) {
			// Suppliers often embed image links in the description text.
			return imageURLPattern.FindAllString(product.Description, 6), nil
		}},
		{"ai_web_search", func() ([]string, error) {
			var out struct {
				Query     string   `json:"query"`
				ImageURLs []string `json:"image_urls"`
			}
			if err := o.ai.CompleteJSON(ctx, prompts.ImageSearchSystemPrompt, productContext(product), 500, &out); err != nil {
				return nil, err
			}
			return out.ImageURLs, nil
		}},
		{"marketplace_images", func() ([]string, error) {
			return o.backendImages(ctx, o.engineB, product.Name)
		}},
		{"shopping_images", func() ([]string, error) {
			return o.backendImages(ctx, o.engineA, product.Name)
		}},
	}

	statuses := make([]string, 0, len(steps))
	seen := make(map[string]bool, len(analysis.ImageURLs))
	for _, u := range analysis.ImageURLs {
		seen[u] = true
	}
	completed, failed := 0, 0
	for _, step := range steps {
		urls, err := step.run()
		switch {
		case err != nil:
			failed++
			statuses = append(statuses, step.name+"="+string(StageFailed))
			logger.CtxWarn(ctx, "image substep %s failed: %v", step.name, err)
		case len(urls) == 0:
			statuses = append(statuses, step.name+"="+string(StageSkipped))
		default:
			completed++
			statuses = append(statuses, step.name+"="+string(StageCompleted))
			for _, u := range urls {
				if !seen[u] {
					seen[u] = true
					analysis.ImageURLs = append(analysis.ImageURLs, u)
				}
			}
		}
	}

	detail := strings.Join(statuses, " ")
	switch {
	case completed > 0:
		return StageResult{Status: StageCompleted, Detail: detail}
	case failed > 0:
		return StageResult{Status: StageFailed, Detail: detail}
	default:
		return StageResult{Status: StageSkipped, Detail: detail}
	}
}

func (o *Orchestrator) backendImages(ctx context.Context, backend SearchBackend, query string) ([]string, error) {
	if backend == nil {
		return nil, nil
	}
	results, err := backend.Search(ctx, query, "", 5)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, r := range results {
		if r.ImageURL != "" {
			urls = append(urls, r.ImageURL)
		}
	}
	return urls, nil
}

func (o *Orchestrator) stageShopping(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) (string, error) {
	res, err := o.search.RunDualSearch(ctx, product.UserID, product.Name, nil, 10)
	if err != nil {
		return "", err
	}
	if len(res.Results) == 0 {
		return "no offers found", nil
	}
	analysis.AnalysisResult[StageShopping] = map[string]interface{}{
		"offer_count":    len(res.Results),
		"dual_validated": res.Stats.DualValidated,
		"min_price":      res.Stats.MinPrice,
		"avg_price":      res.Stats.AvgPrice,
		"promo_count":    res.Stats.PromoCount,
	}
	return fmt.Sprintf("%d offers, %d dual-validated, %d promos", len(res.Results), res.Stats.DualValidated, res.Stats.PromoCount), nil
}

// stageAdvanced extracts technical specifications, GPSR compliance metadata
// and a cost analysis.
func (o *Orchestrator) stageAdvanced(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) (string, error) {
	var specs struct {
		Specifications map[string]string `json:"specifications"`
		Missing        []string          `json:"missing"`
	}
	if err := o.ai.CompleteJSON(ctx, prompts.SpecificationsSystemPrompt, productContext(product), 600, &specs); err != nil {
		return "", err
	}
	analysis.Specifications = domain.JSONMap{}
	for k, v := range specs.Specifications {
		analysis.Specifications[k] = v
	}

	var compliance map[string]interface{}
	if err := o.ai.CompleteJSON(ctx, prompts.ComplianceSystemPrompt, productContext(product), 500, &compliance); err != nil {
		return "", err
	}
	analysis.RSGPCompliance = compliance

	if product.PurchasePrice != nil {
		var cost map[string]interface{}
		user := fmt.Sprintf("purchase price: %.2f %s\ncategory: %s\nproduct: %s",
			*product.PurchasePrice, product.Currency, product.Category, product.Name)
		if err := o.ai.CompleteJSON(ctx, prompts.CostAnalysisSystemPrompt, user, 400, &cost); err != nil {
			return "", err
		}
		analysis.CostAnalysis = cost
	}
	return fmt.Sprintf("%d specifications", len(specs.Specifications)), nil
}

func (o *Orchestrator) stageMarketplaceAttributes(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) (string, error) {
	var out map[string]interface{}
	if err := o.ai.CompleteJSON(ctx, prompts.MarketplaceAttributesSystemPrompt, productContext(product), 600, &out); err != nil {
		return "", err
	}
	analysis.AnalysisResult["marketplace_attributes"] = out
	return "listing attributes generated", nil
}

// stageMedia produces a short promotional media brief for downstream video
// generation.
func (o *Orchestrator) stageMedia(ctx context.Context, product *domain.SupplierProduct, analysis *domain.ProductAnalysis) (string, error) {
	system := `You are a product media assistant. Produce a short promotional brief for a 20-second product video.
Output exactly one JSON object: {"hook": "...", "scenes": ["..."], "call_to_action": "..."}`
	var out map[string]interface{}
	if err := o.ai.CompleteJSON(ctx, system, productContext(product), 500, &out); err != nil {
		return "", err
	}
	analysis.AnalysisResult["media"] = out
	return "media brief generated", nil
}

// productContext renders the product's fields as labeled lines for a prompt.
func productContext(p *domain.SupplierProduct) string {
	var b strings.Builder
	write := func(label, value string) {
		if value != "" {
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteString("\n")
		}
	}
	write("reference", p.SupplierReference)
	write("name", p.Name)
	write("ean", p.EAN)
	write("brand", p.Brand)
	write("category", p.Category)
	write("description", p.Description)
	if p.PurchasePrice != nil {
		write("purchase price", fmt.Sprintf("%.2f %s", *p.PurchasePrice, p.Currency))
	}
	return b.String()
}
