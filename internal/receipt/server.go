package receipt

import (
	"context"
	"net/http"
	"time"
)

// TokenIssuer exchanges an authenticated identity for a temporary access
// token scoped to that user, for talking to the entitlement service.
type TokenIssuer interface {
	IssueTemporaryAccessToken(ctx context.Context, userID string) (string, error)
}

// BasicAuth holds basic authentication credentials. When both fields are
// empty any presented username is accepted and becomes the owner id,
// which keeps local development credential-free.
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for receipts
type Server struct {
	service       *Service
	tokens        TokenIssuer
	entitlements  Entitlements
	basicAuth     BasicAuth
	mux           *http.ServeMux
	watchInterval time.Duration
}

// NewServer creates a new Server with default mux. tokens and
// entitlements may be nil; the corresponding endpoints then report the
// capability as unavailable.
func NewServer(service *Service, tokens TokenIssuer, entitlements Entitlements, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, tokens, entitlements, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, tokens TokenIssuer, entitlements Entitlements, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:       service,
		tokens:        tokens,
		entitlements:  entitlements,
		basicAuth:     basicAuth,
		mux:           mux,
		watchInterval: 2 * time.Second,
	}
	s.registerRoutes()
	return s
}

// identify resolves the request's authenticated identity, or nil when no
// valid credentials are presented. The basic-auth username doubles as
// the owner id for record scoping.
func (s *Server) identify(r *http.Request) *Identity {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil
	}
	if s.basicAuth.Username != "" || s.basicAuth.Password != "" {
		if user != s.basicAuth.Username || pass != s.basicAuth.Password {
			return nil
		}
	}
	if user == "" {
		return nil
	}
	return &Identity{UserID: user}
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth rejects requests without a resolvable identity.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := s.identify(r)
		if identity == nil {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="receiptdrop"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, identity)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Static assets for the embedded UI
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /static/app.js", s.handleStaticJS)

	// API endpoints - receipts (most specific paths first)
	s.mux.HandleFunc("GET /api/receipts/watch", s.requireAuth(s.handleWatchReceipts))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.handleUploadReceipt)

	// Session hint and entitlement token bridge; both are identity
	// tolerant, the upload orchestration is the authority.
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/entitlement/token", s.handleEntitlementToken)

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /", s.handleIndex)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
