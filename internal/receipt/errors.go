package receipt

import "errors"

// Errors surfaced verbatim through the upload result. The strings double
// as the user-facing messages, so they are capitalized like the UI shows
// them.
var (
	// ErrUnauthorized means no authenticated identity was presented.
	ErrUnauthorized = errors.New("Unauthorized")

	// ErrNoFile means the request carried no file payload.
	ErrNoFile = errors.New("No file uploaded")

	// ErrNotPDF means neither the declared content type nor the filename
	// extension indicated a PDF document.
	ErrNotPDF = errors.New("Only PDF files are allowed")

	// ErrScansDisabled means the entitlement service reported the scans
	// feature as unavailable for the caller's account.
	ErrScansDisabled = errors.New("Scanning is not enabled for this account")
)
