package domain

import "time"

// InboxStatus represents the status of a received supplier file.
type InboxStatus string

const (
	InboxStatusReceived   InboxStatus = "received"
	InboxStatusProcessing InboxStatus = "processing"
	InboxStatusImported   InboxStatus = "imported"
	InboxStatusFailed     InboxStatus = "failed"
)

// ImportInbox tracks supplier files that arrived out-of-band (FTP drop,
// email attachment) before a user or schedule turns them into an import job.
type ImportInbox struct {
	ID         string      `gorm:"type:text;primaryKey" json:"id"`
	UserID     string      `gorm:"type:text;not null;index" json:"user_id"`
	SupplierID string      `gorm:"type:text;index" json:"supplier_id,omitempty"`
	Sender     string      `gorm:"type:text" json:"sender,omitempty"`
	Filename   string      `gorm:"type:text" json:"filename"`
	StorageKey string      `gorm:"type:text" json:"storage_key"`
	Status     InboxStatus `gorm:"type:text;index;default:received" json:"status"`
	JobID      string      `gorm:"type:text;index" json:"job_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TableName returns the database table name for ImportInbox.
func (ImportInbox) TableName() string {
	return "import_inbox"
}
