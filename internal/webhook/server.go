package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/docpush/internal/config"
)

// Server is the webhook HTTP endpoint.
type Server struct {
	config     Config
	targets    config.Targets
	dispatcher Dispatcher
	hookRanges HookRangeSource
	limiter    *rateLimiter
	logger     *slog.Logger
	server     *http.Server
}

// New creates a webhook server. hookRanges may be nil unless
// cfg.VerifyGitHubIP is set.
func New(cfg Config, targets config.Targets, dispatcher Dispatcher, hookRanges HookRangeSource, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	s := &Server{
		config:     cfg,
		targets:    targets,
		dispatcher: dispatcher,
		hookRanges: hookRanges,
		logger:     logger,
	}
	if cfg.RateLimitPerMin > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitPerMin)
	}
	return s
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path,
		"signature_check", s.config.Secret != "", "ip_check", s.config.VerifyGitHubIP)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get(s.config.Path, s.handleGet)
	r.Post(s.config.Path, s.handlePush)
	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, msgGetOK)
}

// handlePush runs the validation pipeline and queues at most one job.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.limiter != nil {
		key := r.RemoteAddr
		if addr, err := remoteIP(r.RemoteAddr); err == nil {
			key = addr.String()
		}
		if !s.limiter.Allow(key) {
			s.logger.Warn("webhook rate limit exceeded", "remote_addr", r.RemoteAddr)
			respondText(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.logger.Warn("failed to read webhook body", "error", err)
		respondText(w, http.StatusBadRequest, msgNotJSON)
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		respondText(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
		return
	}

	req := Request{
		Event:       r.Header.Get(s.config.EventHeader),
		Signature:   r.Header.Get(s.config.SignatureHeader),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		RemoteAddr:  r.RemoteAddr,
	}

	if s.config.VerifyGitHubIP && !s.remoteAllowed(ctx, req.RemoteAddr) {
		respondText(w, http.StatusForbidden, msgInvalidIP)
		return
	}

	if s.config.Secret != "" && !VerifyWith(s.config.SignatureAlgorithm, s.config.Secret, req.Body, req.Signature) {
		s.logger.Warn("webhook signature verification failed",
			"remote_addr", req.RemoteAddr,
			"header_present", req.Signature != "",
		)
		respondText(w, http.StatusForbidden, msgInvalidSignature)
		return
	}

	decision := Classify(req, s.targets)
	switch decision.Kind {
	case NotJSON:
		respondText(w, http.StatusBadRequest, msgNotJSON)
		return
	case NotPushEvent:
		respondText(w, http.StatusAccepted, msgNotPush)
		return
	case UnknownRepository:
		respondText(w, http.StatusAccepted, msgUnknownRepo)
		return
	case UnknownBranch:
		respondText(w, http.StatusAccepted, msgUnknownBranch)
		return
	}

	jobID, err := s.dispatcher.Dispatch(ctx, s.config.BuildType, decision.Repository, decision.Branch, decision.OutputPath)
	if err != nil {
		s.logger.Error("failed to queue build job",
			"repository", decision.Repository,
			"branch", decision.Branch,
			"error", err,
		)
		respondText(w, http.StatusInternalServerError, msgQueueFailed)
		return
	}

	s.logger.Info("push accepted",
		"repository", decision.Repository,
		"branch", decision.Branch,
		"job_id", jobID,
	)
	respondText(w, http.StatusOK, fmt.Sprintf(msgQueuedFormat, s.config.BuildType, decision.Repository, decision.Branch))
}

func (s *Server) remoteAllowed(ctx context.Context, remoteAddr string) bool {
	if s.hookRanges == nil {
		s.logger.Error("ip check enabled without a range source")
		return false
	}
	ranges, err := s.hookRanges.HookRanges(ctx)
	if err != nil {
		s.logger.Error("failed to load github hook ranges", "error", err)
		return false
	}
	if !addrAllowed(remoteAddr, ranges) {
		s.logger.Warn("webhook from address outside github hook ranges", "remote_addr", remoteAddr)
		return false
	}
	return true
}

// respondText sends a plain text response.
func respondText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}
