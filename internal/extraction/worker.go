package extraction

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ebaxter/receiptdrop/internal/receipt"
)

// Worker consumes extraction jobs: it downloads the stored PDF by its
// time-limited URL (the worker holds no storage credentials of its own),
// extracts the structured fields and writes them onto the receipt
// record. Delivery is at-least-once, so Process is idempotent on the
// receipt id: a record that already left pending is skipped.
type Worker struct {
	db       receipt.DB
	scanner  Scanner
	download *http.Client
}

// NewWorker creates a new Worker.
func NewWorker(db receipt.DB, scanner Scanner) *Worker {
	return &Worker{
		db:       db,
		scanner:  scanner,
		download: &http.Client{Timeout: 60 * time.Second},
	}
}

// Process handles a single extraction job. A nil return acknowledges the
// delivery; an error means the delivery could not be interpreted.
func (w *Worker) Process(job receipt.ExtractJob) error {
	rec, err := w.db.GetReceipt(job.ReceiptID)
	if err != nil {
		return fmt.Errorf("loading receipt %s: %w", job.ReceiptID, err)
	}

	if rec.Status != receipt.StatusPending {
		slog.Info("Skipping already handled receipt", "receiptId", job.ReceiptID, "status", rec.Status)
		return nil
	}

	data, err := w.fetch(job.URL)
	if err != nil {
		slog.Error("Failed to download receipt file", "receiptId", job.ReceiptID, "error", err)
		w.fail(job.ReceiptID)
		return nil
	}

	fields, err := w.scanner.ScanReceipt(data, rec.MimeType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"receiptId", job.ReceiptID,
			"fileName", rec.FileName,
			"fileSize", len(data),
			"error", err,
		)
		w.fail(job.ReceiptID)
		return nil
	}

	applied, err := w.db.ApplyExtraction(job.ReceiptID, receipt.ExtractionUpdate{
		Status:            receipt.StatusProcessed,
		FileDisplayName:   fields.Vendor,
		TransactionAmount: fields.Amount,
		Currency:          fields.Currency,
	})
	if err != nil {
		return fmt.Errorf("saving extraction result for %s: %w", job.ReceiptID, err)
	}
	if !applied {
		slog.Info("Extraction result discarded, record no longer pending", "receiptId", job.ReceiptID)
		return nil
	}

	slog.Info("Receipt processed",
		"receiptId", job.ReceiptID,
		"vendor", fields.Vendor,
		"amount", fields.Amount,
		"currency", fields.Currency,
	)
	return nil
}

// fetch downloads the blob at the job's URL.
func (w *Worker) fetch(url string) ([]byte, error) {
	resp, err := w.download.Get(url)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

// fail marks the record failed so it does not sit in pending forever.
// The update is guarded, so a concurrent redelivery cannot clobber a
// processed record.
func (w *Worker) fail(id string) {
	if _, err := w.db.ApplyExtraction(id, receipt.ExtractionUpdate{Status: receipt.StatusFailed}); err != nil {
		slog.Warn("Failed to mark receipt failed", "receiptId", id, "error", err)
	}
}
