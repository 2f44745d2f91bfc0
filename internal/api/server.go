// Package api provides the HTTP and WebSocket surface: engine status,
// positions, trade history, performance stats, metrics and a live event
// stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/telemetry"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config holds the server listen settings.
type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	WebSocketPath string        `mapstructure:"websocket_path"`
}

// DefaultConfig returns the standard listen settings.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8090,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		WebSocketPath: "/ws",
	}
}

// StatusProvider exposes the engine's most recent signal.
type StatusProvider interface {
	LastSignal() (types.Signal, bool)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	hub     *Hub
	manager *position.Manager
	ledger  *ledger.Ledger
	metrics *telemetry.Metrics
	status  StatusProvider
	symbol  string
	started time.Time
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, config Config, symbol string, hub *Hub, manager *position.Manager, ldg *ledger.Ledger, metrics *telemetry.Metrics, status StatusProvider) *Server {
	if config.Port == 0 {
		config = DefaultConfig()
	}
	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		router:  mux.NewRouter(),
		hub:     hub,
		manager: manager,
		ledger:  ldg,
		metrics: metrics,
		status:  status,
		symbol:  symbol,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the listener until shutdown. It blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting api server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"symbol":        s.symbol,
		"openPositions": len(s.manager.OpenPositions(s.symbol)),
		"clients":       s.hub.ClientCount(),
	}
	if signal, ok := s.status.LastSignal(); ok {
		resp["lastSignal"] = signal
	}
	writeJSON(w, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, s.manager.All())
		return
	}
	writeJSON(w, s.manager.OpenPositions(s.symbol))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ledger.Trades())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ledger.Stats())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client
	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
