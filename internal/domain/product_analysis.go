package domain

import "time"

// ProductAnalysis is the enrichment target for a product. Exactly one row
// exists per (user_id, ean) when the EAN is known. The enrichment stages
// write their outputs into AnalysisResult and track per-field progress in
// EnrichmentStatus.
type ProductAnalysis struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;index:idx_analysis_user_ean,unique" json:"user_id"`
	EAN    string `gorm:"type:text;index:idx_analysis_user_ean,unique" json:"ean,omitempty"`

	ProductName   string   `gorm:"type:text" json:"product_name"`
	Brand         string   `gorm:"type:text" json:"brand,omitempty"`
	Category      string   `gorm:"type:text" json:"category,omitempty"`
	PurchasePrice *float64 `json:"purchase_price,omitempty"`
	Currency      string   `gorm:"type:text;default:EUR" json:"currency"`

	// AnalysisResult aggregates all enrichment outputs keyed by stage.
	AnalysisResult   JSONMap     `gorm:"type:text" json:"analysis_result"`
	EnrichmentStatus JSONMap     `gorm:"type:text" json:"enrichment_status"`
	Specifications   JSONMap     `gorm:"type:text" json:"specifications,omitempty"`
	RSGPCompliance   JSONMap     `gorm:"type:text" json:"rsgp_compliance,omitempty"`
	CostAnalysis     JSONMap     `gorm:"type:text" json:"cost_analysis,omitempty"`
	ImageURLs        StringArray `gorm:"type:text" json:"image_urls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ProductAnalysis.
func (ProductAnalysis) TableName() string {
	return "product_analyses"
}

// ProductAnalysisLink ties a supplier product to an analysis row with a
// confidence score. Enrichment links are created with confidence 1.0.
type ProductAnalysisLink struct {
	ID                string    `gorm:"type:text;primaryKey" json:"id"`
	SupplierProductID string    `gorm:"type:text;not null;index" json:"supplier_product_id"`
	AnalysisID        string    `gorm:"type:text;not null;index" json:"analysis_id"`
	Confidence        float64   `gorm:"default:0" json:"confidence"`
	LinkType          string    `gorm:"type:text" json:"link_type"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name for ProductAnalysisLink.
func (ProductAnalysisLink) TableName() string {
	return "product_analysis_links"
}
