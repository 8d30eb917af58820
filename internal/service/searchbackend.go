package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/davet/prodsync/internal/config"
)

// BackendResult is one raw price hit from a single search backend, before
// merging.
type BackendResult struct {
	ProductName string
	URL         string
	Price       float64
	Site        string
	ImageURL    string
	Rating      *float64
	InStock     *bool
}

// SearchBackend is one external price search engine. The dual-source merger
// queries two independent implementations and cross-validates their results.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query, site string, maxResults int) ([]BackendResult, error)
}

// ----------------------------------------------------------------------------
// Engine A: SERP-style API, prices arrive as display strings.
// ----------------------------------------------------------------------------

type engineABackend struct {
	client  *resty.Client
	baseURL string
}

// NewEngineA creates the first search backend from config.
func NewEngineA(cfg *config.SearchEngineConfig) SearchBackend {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)
	return &engineABackend{client: client, baseURL: cfg.BaseURL}
}

func (b *engineABackend) Name() string { return "engine_a" }

type engineARequest struct {
	Query string `json:"q"`
	Site  string `json:"site,omitempty"`
	Num   int    `json:"num"`
}

type engineAResponse struct {
	Shopping []struct {
		Title     string   `json:"title"`
		Link      string   `json:"link"`
		PriceText string   `json:"price"`
		Source    string   `json:"source"`
		Thumbnail string   `json:"thumbnail,omitempty"`
		Rating    *float64 `json:"rating,omitempty"`
	} `json:"shopping"`
}

func (b *engineABackend) Search(ctx context.Context, query, site string, maxResults int) ([]BackendResult, error) {
	var resp engineAResponse
	httpResp, err := b.client.R().
		SetContext(ctx).
		SetBody(engineARequest{Query: query, Site: site, Num: maxResults}).
		SetResult(&resp).
		Post(b.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("engine_a request failed: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, fmt.Errorf("engine_a returned HTTP %d", httpResp.StatusCode())
	}

	var out []BackendResult
	for _, item := range resp.Shopping {
		price := parsePrice(item.PriceText)
		if item.Link == "" || price == nil {
			continue
		}
		out = append(out, BackendResult{
			ProductName: item.Title,
			URL:         item.Link,
			Price:       *price,
			Site:        item.Source,
			ImageURL:    item.Thumbnail,
			Rating:      item.Rating,
		})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Engine B: structured product API, numeric prices and stock flags.
// ----------------------------------------------------------------------------

type engineBBackend struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

// NewEngineB creates the second search backend from config.
func NewEngineB(cfg *config.SearchEngineConfig) SearchBackend {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)
	return &engineBBackend{client: client, baseURL: cfg.BaseURL, apiKey: cfg.APIKey}
}

func (b *engineBBackend) Name() string { return "engine_b" }

type engineBResponse struct {
	Results []struct {
		Name      string   `json:"name"`
		URL       string   `json:"url"`
		Price     float64  `json:"price"`
		Merchant  string   `json:"merchant"`
		Image     string   `json:"image,omitempty"`
		InStock   *bool    `json:"in_stock,omitempty"`
		UserScore *float64 `json:"user_score,omitempty"`
	} `json:"results"`
}

func (b *engineBBackend) Search(ctx context.Context, query, site string, maxResults int) ([]BackendResult, error) {
	var resp engineBResponse
	httpResp, err := b.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", b.apiKey).
		SetQueryParams(map[string]string{
			"query": query,
			"site":  site,
			"limit": fmt.Sprintf("%d", maxResults),
		}).
		SetResult(&resp).
		Get(b.baseURL + "/products/search")
	if err != nil {
		return nil, fmt.Errorf("engine_b request failed: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, fmt.Errorf("engine_b returned HTTP %d", httpResp.StatusCode())
	}

	var out []BackendResult
	for _, item := range resp.Results {
		if item.URL == "" || item.Price <= 0 {
			continue
		}
		out = append(out, BackendResult{
			ProductName: item.Name,
			URL:         item.URL,
			Price:       item.Price,
			Site:        item.Merchant,
			ImageURL:    item.Image,
			Rating:      item.UserScore,
			InStock:     item.InStock,
		})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}
