package extraction

// ReceiptFields contains the structured data extracted from a receipt.
type ReceiptFields struct {
	Vendor   string  `json:"vendor"`
	Date     string  `json:"date"` // ISO 8601 format
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"` // ISO 4217 code, e.g. "USD"
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt PDF and extracts its fields
	ScanReceipt(pdfData []byte, contentType string) (*ReceiptFields, error)
	// Close closes the scanner and releases resources
	Close() error
}
