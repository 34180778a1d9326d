package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/server/middleware"
	"github.com/jonathan/role-audition/internal/server/ratelimit"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
	"golang.org/x/sync/errgroup"
)

// Defaults for Config.
const (
	DefaultMaxBodyBytes    = 256 << 10
	DefaultShutdownTimeout = 30 * time.Second
)

// ProjectStore persists projects and their role definitions.
// *db.DB and *localstore.Store implement it.
type ProjectStore interface {
	CreateProject(ctx context.Context, userID uuid.UUID, title string) (*types.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID) ([]types.Project, error)
	SaveRoleDefinition(ctx context.Context, in types.RoleDefinitionInput) (*types.RoleDefinition, error)
	GetProjectRoleDefinition(ctx context.Context, projectID uuid.UUID) (*types.RoleDefinition, error)
}

// Extractor turns job description text into a role definition.
type Extractor interface {
	Extract(ctx context.Context, jdText string) (*types.ExtractionResult, error)
}

// Scaffolds starts, polls and approves audition scaffolds. *tracker.Tracker implements it.
type Scaffolds interface {
	GetOrStart(ctx context.Context, req tracker.Request) (*types.AuditionScaffold, error)
	Retry(ctx context.Context, req tracker.Request) (*types.AuditionScaffold, error)
	Approve(ctx context.Context, roleDefinitionID uuid.UUID) (*types.AuditionScaffold, error)
}

// Config holds server configuration
type Config struct {
	Port            int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Store     ProjectStore
	Extractor Extractor
	Scaffolds Scaffolds
	Tokens    middleware.TokenValidator
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	store           ProjectStore
	extractor       Extractor
	scaffolds       Scaffolds
	rateLimiter     *ratelimit.Limiter
	logger          *slog.Logger
	maxBodyBytes    int64
	shutdownTimeout time.Duration
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("server requires a store")
	case deps.Extractor == nil:
		return nil, errors.New("server requires an extractor")
	case deps.Scaffolds == nil:
		return nil, errors.New("server requires a scaffold tracker")
	case deps.Tokens == nil:
		return nil, errors.New("server requires a token validator")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(ratelimit.LoadConfig())
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		store:           deps.Store,
		extractor:       deps.Extractor,
		scaffolds:       deps.Scaffolds,
		rateLimiter:     deps.Limiter,
		logger:          deps.Logger,
		maxBodyBytes:    cfg.MaxBodyBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	auth := middleware.AuthMiddleware(deps.Tokens, deps.Logger)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /role-definitions/extract", protected(s.handleExtract))

	mux.Handle("GET /projects", protected(s.handleListProjects))
	mux.Handle("POST /projects", protected(s.handleCreateProject))
	mux.Handle("GET /projects/{id}", protected(s.handleGetProject))
	mux.Handle("GET /projects/{id}/role-definition", protected(s.handleGetRoleDefinition))
	mux.Handle("PUT /projects/{id}/role-definition", protected(s.handleUpdateRoleDefinition))

	mux.Handle("POST /audition-scaffolds", protected(s.handleBuildScaffold))
	mux.Handle("POST /projects/{id}/audition", protected(s.handleStartAudition))
	mux.Handle("GET /projects/{id}/audition", protected(s.handleStartAudition))
	mux.Handle("POST /projects/{id}/audition/retry", protected(s.handleRetryAudition))
	mux.Handle("POST /projects/{id}/audition/approve", protected(s.handleApproveAudition))

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.rateLimiter.Stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients that exhausted their bucket for the route.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		allowed, info := s.rateLimiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withLogging writes one access log line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case r.URL.Path == "/health":
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding JSON response", "error", err)
	}
}

// errorResponse maps err onto a status and writes the error body. Server
// errors are logged with full detail; clients only see the mapped message.
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	body, status := errorKind(err)
	if status >= 500 {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", body.Error,
			"error", err)
	}
	s.jsonResponse(w, status, body)
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; proxy headers are not trusted.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"retryable": true,
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Warn("rate limit exceeded",
		"client", extractClientID(r),
		"method", r.Method,
		"path", r.URL.Path,
		"limit", info.Limit)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
