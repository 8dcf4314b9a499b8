package mail

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coramo123/mail-scanner/internal/metrics"
)

// DefaultUser is the user key of every request when authentication is disabled
const DefaultUser = "default"

type contextKey string

const (
	userKey      contextKey = "user"
	requestIDKey contextKey = "request_id"
)

// Server handles HTTP requests for mail scans
type Server struct {
	service   *Service
	basicAuth BasicAuth
	metrics   *metrics.Metrics
	mux       *http.ServeMux
	handler   http.Handler
}

// BasicAuth holds basic authentication credentials. The username doubles as
// the user key results are stored under.
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. A nil metrics disables /metrics.
func NewServer(service *Service, basicAuth BasicAuth, m *metrics.Metrics) *Server {
	return NewServerWithMux(service, basicAuth, m, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, m *metrics.Metrics, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		metrics:   m,
		mux:       mux,
	}
	s.registerRoutes()

	// The metrics middleware reads the matched pattern, so it wraps the mux directly
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = corsMiddleware(h)
	h = recoverer(h)
	h = accessLog(h)
	s.handler = requestID(h)
	return s
}

// authenticate checks basic auth credentials and returns the user key
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return DefaultUser, true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", false
	}

	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(s.basicAuth.Password)) == 1
	if !userOK || !passOK {
		return "", false
	}
	return credentials[0], true
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Mail Scanner"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

// userFromContext returns the authenticated user key
func userFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey).(string); ok && user != "" {
		return user
	}
	return DefaultUser
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/scans/{id}/file", s.requireAuth(s.handleGetScanFile))
	s.mux.HandleFunc("POST /api/scans/{id}/verify", s.requireAuth(s.handleVerifyScan))
	s.mux.HandleFunc("GET /api/scans/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("DELETE /api/scans/{id}", s.requireAuth(s.handleDeleteScan))
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleUploadScans))
	s.mux.HandleFunc("DELETE /api/scans", s.requireAuth(s.handleClearScans))

	s.mux.HandleFunc("GET /api/export/csv", s.requireAuth(s.handleExportCSV))
	s.mux.HandleFunc("GET /api/export/xlsx", s.requireAuth(s.handleExportXLSX))
	s.mux.HandleFunc("GET /api/export/labels", s.requireAuth(s.handleExportLabels))

	s.mux.HandleFunc("GET /api/plans", s.handlePlans)
	s.mux.HandleFunc("GET /api/usage", s.requireAuth(s.handleUsage))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Start serves HTTP on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
