package receipt

import "time"

// Status is the extraction lifecycle state of a receipt record.
type Status string

const (
	// StatusPending is assigned at creation, before extraction has run.
	StatusPending Status = "pending"
	// StatusProcessed means the extraction worker populated the record.
	StatusProcessed Status = "processed"
	// StatusFailed means the extraction worker gave up on the record.
	StatusFailed Status = "failed"
)

// Receipt represents an uploaded receipt with its extraction state.
// Only Status, FileDisplayName, TransactionAmount and Currency change
// after creation, and they are written exclusively by the extraction
// worker. Receipts are never deleted.
type Receipt struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"ownerId"`
	FileID            string    `json:"fileId"`
	FileName          string    `json:"fileName"`
	FileDisplayName   string    `json:"fileDisplayName,omitempty"`
	Size              int64     `json:"size"`
	MimeType          string    `json:"mimeType"`
	Status            Status    `json:"status"`
	TransactionAmount float64   `json:"transactionAmount,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	UploadedAt        time.Time `json:"uploadedAt"`
}

// DisplayName returns the human-friendly name for the receipt, falling
// back to the original filename when extraction has not set one.
func (r *Receipt) DisplayName() string {
	if r.FileDisplayName != "" {
		return r.FileDisplayName
	}
	return r.FileName
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID string `json:"userId"`
}
