// Package server exposes the Webex webhook, health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/http/middleware"
	goamiddleware "goa.design/goa/v3/middleware"
	"gorm.io/gorm"

	"feedbot/internal/config"
	"feedbot/internal/gateway"
	"feedbot/internal/metrics"
)

const (
	shutdownTimeout = 30 * time.Second
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
)

// MessageFetcher loads the full message a webhook notification refers to
type MessageFetcher interface {
	GetMessage(ctx context.Context, id string) (*gateway.Inbound, error)
}

// Submitter accepts inbound messages for processing
type Submitter interface {
	Submit(ctx context.Context, in gateway.Inbound) error
}

// Server is the bot's HTTP front end
type Server struct {
	cfg     *config.Config
	db      *gorm.DB
	fetcher MessageFetcher
	inbox   Submitter
	logger  *zap.Logger
}

// New creates a server. fetcher may be nil, in which case no webhook
// route is mounted.
func New(cfg *config.Config, db *gorm.DB, fetcher MessageFetcher, inbox Submitter, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		db:      db,
		fetcher: fetcher,
		inbox:   inbox,
		logger:  logger.Named("http"),
	}
}

// Handler returns the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	mux := goahttp.NewMuxer()

	// The webhook only exists for providers that push notifications
	if s.fetcher != nil {
		webhook := verifySignature(s.cfg.Bot.WebhookSecret, s.logger)(http.HandlerFunc(s.handleWebhook))
		mux.Handle(http.MethodPost, "/webhook", webhook.ServeHTTP)
	}
	mux.Handle(http.MethodGet, "/health", s.handleHealth)

	var routed http.Handler = mux
	routed = middleware.PopulateRequestContext()(routed)
	routed = middleware.RequestID(goamiddleware.UseXRequestIDHeaderOption(true))(routed)

	// /metrics bypasses the goa mux
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			promhttp.Handler().ServeHTTP(w, r)
			return
		}
		routed.ServeHTTP(w, r)
	})

	// Prometheus -> Security headers -> Logging -> Handler
	return securityHeaders(s.requestLogging(metrics.PrometheusMiddleware(root)))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.App.Host, s.cfg.App.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server error: %w", err)
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("Starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Error during graceful shutdown", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Shutdown timeout exceeded, forcing close")
			_ = httpServer.Close()
		}
		return err
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// securityHeaders adds security headers to responses
func securityHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		handler.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLogging logs every request except health checks and scrapes
func (s *Server) requestLogging(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			handler.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
		}
		if wrapped.statusCode >= 400 {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request handled", fields...)
	})
}

// requestID returns the request ID set by the goa middleware
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
	return id
}
