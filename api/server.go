// Package api exposes the relayer over HTTP: the public transfer endpoints,
// the pre-flight risk check, the deny-list admin surface, webhook ingest and
// the health and metrics probes.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/shieldpay/relayer/blocklist"
	"github.com/shieldpay/relayer/metrics"
	"github.com/shieldpay/relayer/relay"
)

// Config tunes the HTTP server.
type Config struct {
	Host string
	Port int

	EnableRateLimiting bool
	// RatePerSecond and RateBurst shape each client's token bucket.
	RatePerSecond float64
	RateBurst     int

	// Webhook shared secrets, one per provider. An empty secret disables
	// that provider's endpoint.
	HeliusWebhookSecret    string
	QuickNodeWebhookSecret string

	CORSAllowedOrigins []string
}

// DefaultConfig holds the server settings used unless overridden.
var DefaultConfig = Config{
	Host:          "0.0.0.0",
	Port:          8080,
	RatePerSecond: 10,
	RateBurst:     20,
}

// Server wires the routes and owns the listener lifecycle.
type Server struct {
	cfg      Config
	relay    *relay.Service
	denylist *blocklist.Manager
	limiter  *clientLimiter
	srv      *http.Server
	log      log.Logger
}

// NewServer builds the server. denylist may be nil when no deny-list is
// configured; the admin endpoints answer 503 then.
func NewServer(cfg Config, relaySvc *relay.Service, denylist *blocklist.Manager) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig.RatePerSecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultConfig.RateBurst
	}
	s := &Server{
		cfg:      cfg,
		relay:    relaySvc,
		denylist: denylist,
		log:      log.New("component", "api"),
	}
	if cfg.EnableRateLimiting {
		s.limiter = newClientLimiter(cfg.RatePerSecond, cfg.RateBurst, 8192)
	}
	return s
}

// Handler assembles the full route table.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodPost, "/transfer-requests", s.limited("submit", s.handleSubmit))
	router.HandlerFunc(http.MethodGet, "/transfer-requests", s.limited("list", s.handleList))
	router.Handle(http.MethodGet, "/transfer-requests/:id", s.limitedP("get", s.handleGet))
	router.Handle(http.MethodPost, "/transfer-requests/:id/retry", s.limitedP("retry", s.handleRetry))
	router.HandlerFunc(http.MethodPost, "/risk-check", s.limited("risk-check", s.handleRiskCheck))

	router.HandlerFunc(http.MethodPost, "/admin/blocklist", s.instrumented("blocklist-add", s.handleBlocklistAdd))
	router.HandlerFunc(http.MethodGet, "/admin/blocklist", s.instrumented("blocklist-list", s.handleBlocklistList))
	router.Handle(http.MethodDelete, "/admin/blocklist/:address", s.instrumentedP("blocklist-remove", s.handleBlocklistRemove))

	router.Handle(http.MethodPost, "/webhooks/:provider", s.instrumentedP("webhook", s.handleWebhook))

	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/health/live", s.handleLive)
	router.HandlerFunc(http.MethodGet, "/health/ready", s.handleReady)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

// Start begins listening; it returns once the listener is bound.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server terminated", "err", err)
		}
	}()
	s.log.Info("HTTP server started", "addr", addr, "rateLimiting", s.cfg.EnableRateLimiting)
	return nil
}

// Stop drains in-flight requests with a bounded grace period.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP drain incomplete, closing", "err", err)
		s.srv.Close()
	}
	s.log.Info("HTTP server stopped")
}

// statusRecorder captures the response code for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request)) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	next(rec, r)
	metrics.ObserveRequest(route, strconv.Itoa(rec.code), start)
}

func (s *Server) instrumented(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.instrument(route, w, r, next)
	}
}

func (s *Server) instrumentedP(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.instrument(route, w, r, func(w http.ResponseWriter, r *http.Request) {
			next(w, r, ps)
		})
	}
}

// limited wraps the public endpoints with the per-client rate gate.
func (s *Server) limited(route string, next http.HandlerFunc) http.HandlerFunc {
	return s.instrumented(route, func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			writeRateLimited(w, 1)
			return
		}
		next(w, r)
	})
}

func (s *Server) limitedP(route string, next httprouter.Handle) httprouter.Handle {
	return s.instrumentedP(route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			writeRateLimited(w, 1)
			return
		}
		next(w, r, ps)
	})
}
