package receipt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScansFlag is the entitlement feature key gating receipt uploads.
const ScansFlag = "scans"

// Entitlements checks feature availability against the billing service.
// A nil Entitlements on the Service skips the check entirely.
type Entitlements interface {
	CheckFlag(ctx context.Context, userID, flag string) (bool, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// FileUpload is the inbound file payload of an upload request.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// UploadData is the success payload of an upload result.
type UploadData struct {
	ReceiptID string `json:"receiptId"`
	FileName  string `json:"fileName"`
}

// UploadResult is the uniform outcome of an upload. The orchestration
// never faults across its boundary; every failure is folded into Error.
type UploadResult struct {
	Success bool        `json:"success"`
	Data    *UploadData `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Service coordinates the storage gateway, the record store and the job
// dispatcher for receipt operations.
type Service struct {
	db           DB
	gateway      Gateway
	dispatcher   Dispatcher
	entitlements Entitlements
	transfer     *http.Client
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a new Service with default ID generator, time
// source and transfer client. entitlements may be nil to disable the
// server-side feature check.
func NewService(db DB, gateway Gateway, dispatcher Dispatcher, entitlements Entitlements) *Service {
	return NewServiceWithDeps(db, gateway, dispatcher, entitlements,
		&uuidGenerator{},
		&defaultTimeSource{},
		&http.Client{Timeout: 60 * time.Second},
	)
}

// NewServiceWithDeps creates a new Service with custom dependencies for
// testing.
func NewServiceWithDeps(db DB, gateway Gateway, dispatcher Dispatcher, entitlements Entitlements, idGen IDGenerator, timeSrc TimeSource, transfer *http.Client) *Service {
	return &Service{
		db:           db,
		gateway:      gateway,
		dispatcher:   dispatcher,
		entitlements: entitlements,
		transfer:     transfer,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

// looksLikePDF reports whether the declared content type or the filename
// extension indicates a PDF. Advisory only: the content is never parsed.
func looksLikePDF(file FileUpload) bool {
	if strings.Contains(strings.ToLower(file.ContentType), "pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(file.Name), ".pdf")
}

// Upload runs the upload-to-extraction handoff: validate the file,
// store the blob, persist the metadata record, then dispatch exactly one
// extraction job for it. Steps run in strict order, each depending on
// the previous one succeeding. The record becomes visible to list
// queries only after the blob is durably stored.
func (s *Service) Upload(ctx context.Context, identity *Identity, file FileUpload) (result UploadResult) {
	if identity == nil {
		return UploadResult{Error: ErrUnauthorized.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Upload panicked", "fileName", file.Name, "panic", r)
			result = UploadResult{Error: "Unknown error"}
		}
	}()

	data, err := s.processUpload(ctx, identity, file)
	if err != nil {
		slog.Error("Failed to process upload", "fileName", file.Name, "error", err)
		return UploadResult{Error: err.Error()}
	}

	return UploadResult{Success: true, Data: data}
}

func (s *Service) processUpload(ctx context.Context, identity *Identity, file FileUpload) (*UploadData, error) {
	if file.Name == "" && len(file.Data) == 0 {
		return nil, ErrNoFile
	}
	if !looksLikePDF(file) {
		return nil, ErrNotPDF
	}

	// Authoritative entitlement check, before any storage call. The
	// client-side gating is only a UX hint.
	if s.entitlements != nil {
		enabled, err := s.entitlements.CheckFlag(ctx, identity.UserID, ScansFlag)
		if err != nil {
			return nil, fmt.Errorf("checking entitlement: %w", err)
		}
		if !enabled {
			return nil, ErrScansDisabled
		}
	}

	target, err := s.gateway.GenerateUploadURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating upload url: %w", err)
	}

	if err := s.transferBytes(ctx, target.URL, file); err != nil {
		return nil, err
	}

	// The blob identifier counts as resolved only now that the transfer
	// has succeeded.
	if target.FileID == "" {
		return nil, fmt.Errorf("storage gateway returned no blob identifier")
	}

	receipt := &Receipt{
		ID:         s.idGenerator.Generate(),
		OwnerID:    identity.UserID,
		FileID:     target.FileID,
		FileName:   file.Name,
		Size:       file.Size,
		MimeType:   file.ContentType,
		Status:     StatusPending,
		UploadedAt: s.timeSource.Now(),
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		// The blob exists but no record points at it; delete it rather
		// than leak it.
		if delErr := s.gateway.Delete(ctx, target.FileID); delErr != nil {
			slog.Warn("Failed to delete orphaned blob", "fileId", target.FileID, "error", delErr)
		}
		return nil, fmt.Errorf("saving receipt record: %w", err)
	}

	downloadURL, err := s.gateway.DownloadURL(ctx, target.FileID)
	if err != nil {
		s.markFailed(receipt.ID)
		return nil, fmt.Errorf("resolving download url: %w", err)
	}

	err = s.dispatcher.Dispatch(ctx, ExtractJob{
		URL:       downloadURL,
		ReceiptID: receipt.ID,
	})
	if err != nil {
		s.markFailed(receipt.ID)
		return nil, fmt.Errorf("dispatching extraction job: %w", err)
	}

	return &UploadData{
		ReceiptID: receipt.ID,
		FileName:  file.Name,
	}, nil
}

// transferBytes sends the raw file bytes to the upload target.
func (s *Service) transferBytes(ctx context.Context, url string, file FileUpload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(file.Data))
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", file.ContentType)

	resp, err := s.transfer.Do(req)
	if err != nil {
		return fmt.Errorf("uploading file to storage gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("uploading file to storage gateway: %s", resp.Status)
	}

	return nil
}

// markFailed records that extraction will never run for the receipt, so
// a late failure does not leave the record stuck in pending forever.
func (s *Service) markFailed(id string) {
	if _, err := s.db.ApplyExtraction(id, ExtractionUpdate{Status: StatusFailed}); err != nil {
		slog.Warn("Failed to mark receipt failed", "receiptId", id, "error", err)
	}
}

// GetReceipt retrieves a receipt, enforcing owner scoping.
func (s *Service) GetReceipt(id string, identity *Identity) (*Receipt, error) {
	if identity == nil {
		return nil, ErrUnauthorized
	}
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.OwnerID != identity.UserID {
		return nil, fmt.Errorf("receipt not found: %s", id)
	}
	return receipt, nil
}

// ListReceipts returns the caller's receipts, newest first.
func (s *Service) ListReceipts(identity *Identity) ([]*Receipt, error) {
	if identity == nil {
		return nil, ErrUnauthorized
	}
	receipts, err := s.db.ListReceiptsByOwner(identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// GetReceiptFile retrieves the stored blob for a receipt.
func (s *Service) GetReceiptFile(ctx context.Context, id string, identity *Identity) ([]byte, string, error) {
	receipt, err := s.GetReceipt(id, identity)
	if err != nil {
		return nil, "", err
	}

	data, contentType, err := s.gateway.Get(ctx, receipt.FileID)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	if contentType == "" {
		contentType = receipt.MimeType
	}

	return data, contentType, nil
}
