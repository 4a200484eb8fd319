package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Responder Responder       // Required
	Feedback  FeedbackService // Required
	Logs      LogReader       // Required
	Examples  ExampleAdmin    // Required

	// Generator backs POST /api/v1/examples/generate. Optional: nil makes
	// the endpoint return 503.
	Generator ExampleGenerator

	// WhatsApp webhook is registered only when both are set.
	Sender      WhatsAppSender
	VerifyToken string

	Pool        *pgxpool.Pool // Optional: nil disables pool stats in /ready
	CORSOrigins []string
	IsDev       bool // Disables HSTS
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Responder == nil {
		return nil, errors.New("responder is required")
	}
	if cfg.Feedback == nil {
		return nil, errors.New("feedback service is required")
	}
	if cfg.Logs == nil {
		return nil, errors.New("log reader is required")
	}
	if cfg.Examples == nil {
		return nil, errors.New("example admin is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		responder: cfg.Responder,
		feedback:  cfg.Feedback,
		logs:      cfg.Logs,
		logger:    logger,
	}
	eh := &exampleHandler{store: cfg.Examples, generator: cfg.Generator, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/{id}/promote", ch.promote)
	mux.HandleFunc("POST /api/v1/feedback", ch.submitFeedback)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", ch.sessionHistory)

	mux.HandleFunc("GET /api/v1/examples", eh.list)
	mux.HandleFunc("POST /api/v1/examples", eh.create)
	mux.HandleFunc("POST /api/v1/examples/generate", eh.generate)
	mux.HandleFunc("POST /api/v1/examples/search", eh.search)
	mux.HandleFunc("DELETE /api/v1/examples/{id}", eh.remove)
	mux.HandleFunc("GET /api/v1/stats", eh.stats)

	if cfg.Sender != nil && cfg.VerifyToken != "" {
		wh := &webhookHandler{
			responder:   cfg.Responder,
			sender:      cfg.Sender,
			verifyToken: cfg.VerifyToken,
			logger:      logger,
		}
		mux.HandleFunc("GET /webhook/whatsapp", wh.verify)
		mux.HandleFunc("POST /webhook/whatsapp", wh.receive)
	}

	// Rate limiter: per-IP token bucket (1 token/sec refill).
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
	// RequestID must come before Logging so request_id is available in log
	// attributes. CORS must come before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
