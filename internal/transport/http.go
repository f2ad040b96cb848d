// Package transport is the HTTP and WebSocket surface: the MCP SSE handler
// mounted under /mcp, raw JSON-RPC over /ws, and the operational endpoints.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/config"
	"github.com/mcp-jive/jive/internal/namespace"
	"github.com/mcp-jive/jive/internal/protocol"
)

// maxFrameBytes bounds a single request body or WebSocket frame.
const maxFrameBytes = 10 * 1024 * 1024

// Server is the HTTP transport. It mounts the MCP SSE handler at /mcp, the
// WebSocket upgrade at /ws, and the operational endpoints.
type Server struct {
	handler    *protocol.Handler
	mcpHandler http.Handler
	hub        *Hub
	version    string
	origins    []string
	sem        chan struct{}
	logger     *zap.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP transport. mcpHandler serves the MCP sessions
// under /mcp; hub may be nil to disable the WebSocket endpoints.
func NewServer(cfg config.Config, handler *protocol.Handler, mcpHandler http.Handler, hub *Hub, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}
	s := &Server{
		handler:    handler,
		mcpHandler: mcpHandler,
		hub:        hub,
		version:    version,
		origins:    cfg.CORSOrigins,
		sem:        make(chan struct{}, maxConcurrent),
		logger:     logger.Named("http"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withCORS(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	if s.mcpHandler != nil {
		// The SSE handler owns both the GET stream and the session POSTs;
		// only the POSTs count against the concurrency limit.
		mcp := s.withCapacity(s.mcpHandler)
		mux.Handle("/mcp", mcp)
		mux.Handle("/mcp/{namespace}", mcp)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.Serve)
		mux.HandleFunc("GET /ws/{namespace}", s.hub.Serve)
	}

	return mux
}

// Start serves until the context is cancelled, then drains with a
// ten-second grace period.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown incomplete", zap.Error(err))
		}
		if s.hub != nil {
			s.hub.CloseAll()
		}
	}()

	s.logger.Info("http transport started", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// withCapacity bounds concurrent POST dispatches with a 503 when the
// semaphore is full. Long-lived GET streams pass through uncounted.
func (s *Server) withCapacity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			default:
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "server at capacity, retry later",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"server":  protocol.ServerName,
		"version": s.version,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.handler.Tools()})
}

// withCORS applies the configured origin whitelist. An empty whitelist
// allows any origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+namespace.Header)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
