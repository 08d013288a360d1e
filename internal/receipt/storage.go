package receipt

import "context"

// UploadTarget is a one-time destination for a blob. The gateway assigns
// the blob identifier when it issues the target, but callers must treat
// the identifier as unresolved until the byte transfer has succeeded.
type UploadTarget struct {
	// URL accepts a single HTTP PUT of the raw file bytes.
	URL string

	// FileID is the blob identifier the stored object will be known by.
	FileID string
}

// Gateway defines the interface to the object storage service. Blobs are
// addressed by opaque identifiers; download access is granted through
// time-limited URLs so consumers need no storage credentials of their
// own.
type Gateway interface {
	// GenerateUploadURL issues a one-time upload target
	GenerateUploadURL(ctx context.Context) (*UploadTarget, error)

	// DownloadURL resolves a time-limited, ready-to-fetch URL for a blob
	DownloadURL(ctx context.Context, fileID string) (string, error)

	// Get retrieves a blob's bytes and content type
	Get(ctx context.Context, fileID string) ([]byte, string, error)

	// Delete removes a blob
	Delete(ctx context.Context, fileID string) error
}
