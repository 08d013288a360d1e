package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxUploadSize bounds multipart parsing. Scanned receipts are small;
// 50MB leaves headroom for print-to-PDF monsters.
const maxUploadSize = int64(50 << 20)

// receiptView decorates a record with display-only derived fields.
type receiptView struct {
	*Receipt
	SizeDisplay string `json:"sizeDisplay"`
}

func viewOf(r *Receipt) receiptView {
	return receiptView{Receipt: r, SizeDisplay: FormatFileSize(r.Size)}
}

func viewsOf(receipts []*Receipt) []receiptView {
	views := make([]receiptView, 0, len(receipts))
	for _, r := range receipts {
		views = append(views, viewOf(r))
	}
	return views
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// uploadStatus maps the orchestration's error taxonomy onto HTTP status
// codes. The body is always the uniform result JSON either way.
func uploadStatus(result UploadResult) int {
	if result.Success {
		return http.StatusCreated
	}
	switch result.Error {
	case ErrUnauthorized.Error():
		return http.StatusUnauthorized
	case ErrNoFile.Error(), ErrNotPDF.Error():
		return http.StatusBadRequest
	case ErrScansDisabled.Error():
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleUploadReceipt accepts one multipart field named "file" and runs
// the upload orchestration. Identity resolution is tolerant here: an
// unauthenticated request still reaches the orchestration, which answers
// with its own Unauthorized result.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	identity := s.identify(r)

	var file FileUpload
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, UploadResult{Error: "Error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err == nil {
		defer f.Close()
		data, readErr := io.ReadAll(f)
		if readErr != nil {
			slog.Error("Error reading file data", "fileName", header.Filename, "error", readErr)
			setCORSHeaders(w)
			writeJSON(w, http.StatusInternalServerError, UploadResult{Error: "Error reading file"})
			return
		}
		file = FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Data:        data,
		}
	}

	result := s.service.Upload(r.Context(), identity, file)

	setCORSHeaders(w)
	writeJSON(w, uploadStatus(result), result)
}

// handleListReceipts returns the caller's receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request, identity *Identity) {
	receipts, err := s.service.ListReceipts(identity)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, viewsOf(receipts))
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request, identity *Identity) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	receipt, err := s.service.GetReceipt(id, identity)
	if err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(receipt))
}

// handleGetReceiptFile streams the stored blob for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request, identity *Identity) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetReceiptFile(r.Context(), id, identity)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleWatchReceipts streams the caller's receipt list as server-sent
// events, re-sending it whenever the result set changes. Clients that
// cannot hold the stream fall back to plain GET /api/receipts.
func (s *Server) handleWatchReceipts(w http.ResponseWriter, r *http.Request, identity *Identity) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		corsError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var last []byte
	send := func() bool {
		receipts, err := s.service.ListReceipts(identity)
		if err != nil {
			slog.Error("Error listing receipts for watch", "error", err)
			return false
		}
		payload, err := json.Marshal(viewsOf(receipts))
		if err != nil {
			slog.Error("Error encoding watch payload", "error", err)
			return false
		}
		if bytes.Equal(payload, last) {
			return true
		}
		last = payload
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

type sessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	UserID        string          `json:"userId,omitempty"`
	Features      map[string]bool `json:"features"`
}

// handleSession reports the caller's identity and feature gating hints
// for the upload widget. Purely advisory; the upload orchestration
// re-checks everything server-side.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	identity := s.identify(r)

	resp := sessionResponse{Features: map[string]bool{}}
	if identity == nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Authenticated = true
	resp.UserID = identity.UserID

	scans := true
	if s.entitlements != nil {
		enabled, err := s.entitlements.CheckFlag(r.Context(), identity.UserID, ScansFlag)
		if err != nil {
			slog.Warn("Failed to check scans flag for session", "userId", identity.UserID, "error", err)
			enabled = false
		}
		scans = enabled
	}
	resp.Features[ScansFlag] = scans

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleEntitlementToken exchanges the caller's identity for a temporary
// access token from the entitlement service. An unauthenticated caller
// gets a JSON null, never an error.
func (s *Server) handleEntitlementToken(w http.ResponseWriter, r *http.Request) {
	identity := s.identify(r)
	if identity == nil || s.tokens == nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusOK, nil)
		return
	}

	token, err := s.tokens.IssueTemporaryAccessToken(r.Context(), identity.UserID)
	if err != nil {
		slog.Error("Failed to issue temporary access token", "userId", identity.UserID, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}
