package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra/orderstore"
)

const (
	maxCommandBody = 4 * 1024
	maxOrdersBody  = 1024 * 1024
)

// TextParser answers the text-only command endpoint.
type TextParser interface {
	ParseText(ctx context.Context, text, apiKey string) domain.CommandResult
}

// Controller is the part of the engine the HTTP surface drives.
type Controller interface {
	StartListening(ctx context.Context) (bool, error)
	StopListening()
	State() domain.EngineState
}

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveRequest(method, endpoint string, status int, seconds float64)
}

type Config struct {
	Addr      string
	AuthToken string
	// RatePerMinute and Burst bound command requests per client IP.
	RatePerMinute int
	Burst         int
}

// Deps are optional except Parser. Routes whose dependency is missing are
// not registered. A nil Events gets a fresh Hub.
type Deps struct {
	Parser   TextParser
	Orders   application.OrderSink
	Engine   Controller
	Gatherer prometheus.Gatherer
	Requests RequestObserver
	Events   *Hub
}

type Server struct {
	cfg      Config
	deps     Deps
	hub      *Hub
	limiter  *RateLimiter
	logger   *slog.Logger
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	running  bool
}

type commandRequest struct {
	Text   string `json:"text"`
	APIKey string `json:"apiKey,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	hub := deps.Events
	if hub == nil {
		hub = NewHub(logger)
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		hub:     hub,
		limiter: NewRateLimiter(cfg.RatePerMinute, cfg.Burst),
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.handle("POST /command", s.limiter.Middleware(s.handleCommand))
	if deps.Orders != nil {
		s.handle("POST /orders", s.authorized(s.handleOrders))
	}
	if deps.Engine != nil {
		s.handle("POST /listen/start", s.authorized(s.handleStart))
		s.handle("POST /listen/stop", s.authorized(s.handleStop))
	}
	if deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.Handle("GET /events", s.authorized(s.hub.ServeHTTP))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Events is the broadcaster behind /events.
func (s *Server) Events() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	s.mu.Unlock()

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	_, path, _ := strings.Cut(pattern, " ")
	s.mux.HandleFunc(pattern, s.instrument(path, h))
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if s.deps.Requests == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.deps.Requests.ObserveRequest(r.Method, endpoint, rec.status, time.Since(start).Seconds())
	}
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.AuthToken {
			s.logger.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req commandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCommandBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := s.deps.Parser.ParseText(r.Context(), text, req.APIKey)
	s.logger.Info("text command parsed",
		"action", result.Action,
		"confidence", result.Confidence,
		"per_request_key", req.APIKey != "",
	)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrdersBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	orders, err := orderstore.DecodeOrders(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid orders payload")
		return
	}

	s.deps.Orders.UpdateOrderNumbers(orders)
	s.logger.Debug("order snapshot pushed", "orders", len(orders))
	writeJSON(w, http.StatusAccepted, map[string]int{"orders": len(orders)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ok, err := s.deps.Engine.StartListening(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, application.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listening": ok,
		"state":     s.deps.Engine.State().String(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Engine.StopListening()
	writeJSON(w, http.StatusOK, map[string]any{
		"listening": false,
		"state":     s.deps.Engine.State().String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	resp := map[string]any{
		"status":      "ok",
		"running":     running,
		"subscribers": s.hub.ClientCount(),
	}
	if s.deps.Engine != nil {
		resp["state"] = s.deps.Engine.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
