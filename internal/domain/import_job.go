package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ImportStatus represents the status of a supplier import job.
// Values include ImportStatusPending, ImportStatusRunning, ImportStatusCompleted,
// and ImportStatusFailed.
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// ErrInvalidTransition is returned when a status change would move a job or
// task backwards or out of a terminal state.
var ErrInvalidTransition = fmt.Errorf("invalid status transition")

// importTransitions enumerates the legal one-directional job transitions.
var importTransitions = map[ImportStatus][]ImportStatus{
	ImportStatusPending: {ImportStatusRunning, ImportStatusFailed},
	ImportStatusRunning: {ImportStatusCompleted, ImportStatusFailed},
}

// ColumnMapping maps normalized record field names to zero-based column
// indexes in the source file. Missing keys mean the field is not mapped.
type ColumnMapping map[string]int

// Standard field keys understood by ColumnMapping and the extractor.
const (
	FieldRef           = "reference"
	FieldName          = "name"
	FieldEAN           = "ean"
	FieldDescription   = "description"
	FieldPurchasePrice = "purchase_price"
	FieldStockQuantity = "stock_quantity"
	FieldBrand         = "brand"
	FieldCategory      = "category"
	FieldCurrency      = "currency"
)

// ImportJob represents one supplier file import and its progress metadata.
// The job row doubles as the durable cursor of the chunk chain: the current
// checkpoint index, next offset, and chunk retry count are persisted after
// every chunk so a crashed chain can be resumed from the store.
type ImportJob struct {
	ID         string       `gorm:"type:text;primaryKey" json:"id"`
	UserID     string       `gorm:"type:text;not null;index" json:"user_id"`
	SupplierID string       `gorm:"type:text;not null;index" json:"supplier_id"`
	Status     ImportStatus `gorm:"type:text;index;default:pending" json:"status"`

	ProgressTotal    int `gorm:"default:0" json:"progress_total"`
	ProgressCurrent  int `gorm:"default:0" json:"progress_current"`
	ProductsImported int `gorm:"default:0" json:"products_imported"`
	ProductsMatched  int `gorm:"default:0" json:"products_matched"`
	ProductsErrors   int `gorm:"default:0" json:"products_errors"`
	SkippedRows      int `gorm:"default:0" json:"skipped_rows"`

	// Source file metadata captured at upload time.
	SourceFile    string        `gorm:"type:text" json:"source_file"`
	Checkpoints   StringArray   `gorm:"type:text" json:"checkpoints"`
	ColumnMapping ColumnMapping `gorm:"type:text" json:"column_mapping"`
	Delimiter     string        `gorm:"type:text" json:"delimiter,omitempty"`
	SkipRows      int           `gorm:"default:0" json:"skip_rows"`
	HasHeaderRow  bool          `gorm:"default:false" json:"has_header_row"`

	// Durable chunk-chain cursor.
	CurrentCheckpoint int `gorm:"default:0" json:"current_checkpoint"`
	NextOffset        int `gorm:"default:0" json:"next_offset"`
	ChunkRetryCount   int `gorm:"default:0" json:"chunk_retry_count"`

	CorrelationID string `gorm:"type:text" json:"correlation_id"`
	ErrorMessage  string `gorm:"type:text" json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportJob.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// TransitionTo moves the job to the next status, rejecting illegal moves.
// Terminal states (completed, failed) can never be left again.
// Parameters:
//   - next: target status.
// Returns:
//   - error: ErrInvalidTransition (wrapped) if the move is not allowed.
func (j *ImportJob) TransitionTo(next ImportStatus) error {
	for _, allowed := range importTransitions[j.Status] {
		if allowed == next {
			j.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: import job %s → %s", ErrInvalidTransition, j.Status, next)
}

// IsTerminal reports whether the job has reached a final state.
func (j *ImportJob) IsTerminal() bool {
	return j.Status == ImportStatusCompleted || j.Status == ImportStatusFailed
}

// ColumnIndex returns the mapped column index for a field key.
// The second return is false when the field is unmapped.
func (m ColumnMapping) ColumnIndex(field string) (int, bool) {
	v, ok := m[field]
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

// Value implements the driver.Valuer interface for database serialization.
func (m ColumnMapping) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *ColumnMapping) Scan(value interface{}) error {
	if value == nil {
		*m = ColumnMapping{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ColumnMapping")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}
