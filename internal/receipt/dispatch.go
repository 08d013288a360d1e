package receipt

import "context"

// ExtractQueue names the extraction event. The worker consuming it
// downloads the blob at URL, extracts structured fields and writes them
// back onto the receipt record.
const ExtractQueue = "extract-data-from-pdf-and-save-to-database"

// ExtractJob is the payload of one extraction event.
type ExtractJob struct {
	// URL is a time-limited, ready-to-fetch location of the stored PDF.
	URL string `json:"url"`

	// ReceiptID identifies the record the extraction result belongs to.
	ReceiptID string `json:"receiptId"`
}

// Dispatcher delivers extraction jobs to the worker. Delivery is
// at-least-once: the worker must be idempotent on ReceiptID.
type Dispatcher interface {
	// Dispatch enqueues a single extraction job
	Dispatch(ctx context.Context, job ExtractJob) error

	// Close releases the dispatcher's resources
	Close() error
}
