package service

import (
	"html"
	"strconv"
	"strings"

	"github.com/davet/prodsync/internal/domain"
)

// referenceMaxLen bounds a reference derived from the product name.
const referenceMaxLen = 50

// ExtractRecord maps one raw delimited row onto a normalized supplier record
// using the job's column mapping. It performs no I/O.
//
// The reference falls back from the mapped column to the EAN to the first 50
// runes of the product name. Rows with no reference, name, and EAN are
// rejected; the caller counts them as skipped.
// Parameters:
//   - fields: the row's cells, already split on the detected delimiter.
//   - mapping: column mapping from field keys to zero-based indexes.
//   - defaultCurrency: currency applied when the row carries none.
// Returns:
//   - domain.SupplierRecord: the normalized record.
//   - bool: false when the row must be skipped.
func ExtractRecord(fields []string, mapping domain.ColumnMapping, defaultCurrency string) (domain.SupplierRecord, bool) {
	get := func(key string) string {
		idx, ok := mapping.ColumnIndex(key)
		if !ok || idx >= len(fields) {
			return ""
		}
		return cleanField(fields[idx])
	}

	rec := domain.SupplierRecord{
		Reference:   get(domain.FieldRef),
		Name:        get(domain.FieldName),
		EAN:         get(domain.FieldEAN),
		Description: get(domain.FieldDescription),
		Brand:       get(domain.FieldBrand),
		Category:    get(domain.FieldCategory),
		Currency:    get(domain.FieldCurrency),
	}
	rec.PurchasePrice = parsePrice(get(domain.FieldPurchasePrice))
	rec.StockQuantity = parseStock(get(domain.FieldStockQuantity))

	if rec.Reference == "" && rec.Name == "" && rec.EAN == "" {
		return domain.SupplierRecord{}, false
	}
	if rec.Reference == "" {
		rec.Reference = deriveReference(rec)
	}
	if rec.Currency == "" {
		rec.Currency = defaultCurrency
	}
	return rec, true
}

// deriveReference falls back to the EAN, then a truncated product name.
func deriveReference(rec domain.SupplierRecord) string {
	if rec.EAN != "" {
		return rec.EAN
	}
	runes := []rune(rec.Name)
	if len(runes) > referenceMaxLen {
		runes = runes[:referenceMaxLen]
	}
	return strings.TrimSpace(string(runes))
}

// cleanField trims whitespace, strips one pair of matching surrounding quotes
// and decodes HTML entities.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(html.UnescapeString(s))
}

// parsePrice normalizes a locale-formatted price string. Everything but
// digits, comma and dot is stripped, comma becomes the decimal separator.
// Unparseable values become nil, never an error.
func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return nil
	}
	// "1.234,56" style: the comma is the decimal separator.
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseStock parses an integer stock quantity, nil when absent or invalid.
func parseStock(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}
