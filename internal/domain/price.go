package domain

import "time"

// PriceSource identifies which search backend(s) produced a result.
type PriceSource string

const (
	PriceSourceEngineA PriceSource = "engine_a"
	PriceSourceEngineB PriceSource = "engine_b"
	// PriceSourceDual marks a result independently confirmed by both engines.
	PriceSourceDual PriceSource = "dual"
)

// PriceResult is one merged price search hit, keyed by canonical URL.
// Ephemeral until persisted as a PriceMonitoring row.
type PriceResult struct {
	ProductName     string      `json:"product_name"`
	URL             string      `json:"url"`
	Price           float64     `json:"price"`
	Site            string      `json:"site,omitempty"`
	Source          PriceSource `json:"source"`
	Confidence      float64     `json:"confidence_score"`
	Rating          *float64    `json:"rating,omitempty"`
	InStock         *bool       `json:"in_stock,omitempty"`
	IsPromo         bool        `json:"is_promo"`
	IsBestPrice     bool        `json:"is_best_price"`
	DiscountPercent float64     `json:"discount_percent,omitempty"`
}

// PriceMonitoring is the persisted history row for a merged price result.
type PriceMonitoring struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	UserID          string      `gorm:"type:text;index" json:"user_id"`
	ProductName     string      `gorm:"type:text;index" json:"product_name"`
	URL             string      `gorm:"type:text" json:"url"`
	Price           float64     `json:"price"`
	Site            string      `gorm:"type:text" json:"site,omitempty"`
	Source          PriceSource `gorm:"type:text" json:"source"`
	Confidence      float64     `json:"confidence_score"`
	IsPromo         bool        `gorm:"default:false" json:"is_promo"`
	IsBestPrice     bool        `gorm:"default:false" json:"is_best_price"`
	DiscountPercent float64     `json:"discount_percent"`
	CreatedAt       time.Time   `json:"created_at"`
}

// TableName returns the database table name for PriceMonitoring.
func (PriceMonitoring) TableName() string {
	return "price_monitoring"
}

// PriceAlert summarizes the promotions detected by one query. At most one
// alert is emitted per query regardless of how many results were promos.
type PriceAlert struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	UserID      string    `gorm:"type:text;index" json:"user_id"`
	ProductName string    `gorm:"type:text" json:"product_name"`
	PromoCount  int       `json:"promo_count"`
	MinPrice    float64   `json:"min_price"`
	AvgPrice    float64   `json:"avg_price"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for PriceAlert.
func (PriceAlert) TableName() string {
	return "price_alerts"
}
