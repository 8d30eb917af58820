package domain

import "time"

// SupplierRecord is a normalized row extracted from a supplier file. It is
// the unit written to checkpoint blobs as newline-delimited JSON; it is never
// persisted to the relational store directly.
type SupplierRecord struct {
	Reference     string   `json:"reference"`
	Name          string   `json:"name,omitempty"`
	EAN           string   `json:"ean,omitempty"`
	Description   string   `json:"description,omitempty"`
	PurchasePrice *float64 `json:"purchase_price,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Category      string   `json:"category,omitempty"`
	Currency      string   `json:"currency,omitempty"`
}

// SupplierProduct is a catalog row owned by one supplier. Uniqueness on
// (supplier_id, supplier_reference) is enforced by the upsert, not by the
// pipeline; duplicates in a source file collapse to last-write-wins.
type SupplierProduct struct {
	ID                string   `gorm:"type:text;primaryKey" json:"id"`
	UserID            string   `gorm:"type:text;not null;index" json:"user_id"`
	SupplierID        string   `gorm:"type:text;not null;index:idx_supplier_ref,unique" json:"supplier_id"`
	SupplierReference string   `gorm:"type:text;not null;index:idx_supplier_ref,unique" json:"supplier_reference"`
	Name              string   `gorm:"type:text" json:"name"`
	EAN               string   `gorm:"type:text;index" json:"ean,omitempty"`
	Description       string   `gorm:"type:text" json:"description,omitempty"`
	PurchasePrice     *float64 `json:"purchase_price,omitempty"`
	StockQuantity     *int     `json:"stock_quantity,omitempty"`
	Brand             string   `gorm:"type:text" json:"brand,omitempty"`
	Category          string   `gorm:"type:text" json:"category,omitempty"`
	Currency          string   `gorm:"type:text;default:EUR" json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SupplierProduct.
func (SupplierProduct) TableName() string {
	return "supplier_products"
}
