// Package api provides the HTTP surface of the wallet core: read-only
// snapshot and portfolio endpoints, command endpoints and a websocket
// stream of store revisions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	"github.com/wallet-sync/internal/circuitbreaker"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/orchestrator"
	"github.com/wallet-sync/internal/store"
	"github.com/wallet-sync/internal/worker"
)

// Commands is the command surface the api drives
type Commands interface {
	CreateAccount(ctx context.Context, in orchestrator.CreateAccountInput) *orchestrator.Command
	CancelCreateAccount(ctx context.Context, prev *models.NetworkKey) (models.NetworkKey, error)
	Command(id uuid.UUID) (*orchestrator.Command, bool)
	Cancel(id uuid.UUID) error
	Unlock(ctx context.Context, password string) error
	Lock(ctx context.Context) error

	SwitchNetwork(ctx context.Context, key models.NetworkKey) error
	RemoveAccount(ctx context.Context, id models.AccountID) error
	RenameAccount(ctx context.Context, id models.AccountID, name string) error
	SelectAccount(ctx context.Context, id models.AccountID) error
	AddAsset(ctx context.Context, asset models.Asset) error
	RemoveAsset(ctx context.Context, id models.AssetID) error
	SetAssetVisibility(ctx context.Context, id models.AssetID, visible bool) error

	SubmitTransaction(ctx context.Context, in orchestrator.SubmitTransactionInput) (models.Transaction, error)
	ApproveTransaction(ctx context.Context, id string) (models.Transaction, error)
	RejectTransaction(ctx context.Context, id string) (models.Transaction, error)
	RetryTransaction(ctx context.Context, id string) (models.Transaction, error)
	SpeedUpTransaction(ctx context.Context, id string) (models.Transaction, error)
	CancelTransaction(ctx context.Context, id string) (models.Transaction, error)

	Discover(ctx context.Context) (orchestrator.DiscoveryReport, error)
	RefreshNetworks(ctx context.Context) (bridge.Report, error)
	RefreshBalances(ctx context.Context, accounts []models.AccountID) (bridge.Report, error)
	RefreshPrices(ctx context.Context, currency string) (bridge.Report, error)
	Stats() orchestrator.Stats
}

var _ Commands = (*orchestrator.Orchestrator)(nil)

// Monitors exposes component counters to the health endpoint. Nil fields
// are left out of the report.
type Monitors struct {
	Bridge          func() bridge.Stats
	Cache           func() cache.Stats
	Backend         func() ([]backend.EndpointHealth, circuitbreaker.Stats)
	StreamConnected func() bool
	Refresh         func() worker.Stats
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      *store.Store
	commands   Commands
	monitors   Monitors
	config     *ServerConfig
	logger     *logging.Logger
	upgrader   websocket.Upgrader
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
	DefaultCurrency   string
	// PingInterval keeps /v1/stream connections alive
	PingInterval time.Duration
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, st *store.Store, commands Commands, monitors Monitors, logger *logging.Logger) *Server {
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	s := &Server{
		router:   mux.NewRouter(),
		store:    st,
		commands: commands,
		monitors: monitors,
		config:   config,
		logger:   logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.setupRouter()

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// reads
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	v1.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	v1.HandleFunc("/networks", s.handleListNetworks).Methods("GET")
	v1.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	v1.HandleFunc("/transactions", s.handleListTransactions).Methods("GET")
	v1.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods("GET")
	v1.HandleFunc("/balances", s.handleBalances).Methods("GET")
	v1.HandleFunc("/portfolio", s.handlePortfolio).Methods("GET")
	v1.HandleFunc("/stream", s.handleStream).Methods("GET")

	// keyring
	v1.HandleFunc("/unlock", s.handleUnlock).Methods("POST")
	v1.HandleFunc("/lock", s.handleLock).Methods("POST")

	// accounts
	v1.HandleFunc("/accounts", s.handleCreateAccount).Methods("POST")
	v1.HandleFunc("/accounts/create/cancel", s.handleCancelCreateAccount).Methods("POST")
	v1.HandleFunc("/accounts/rename", s.handleRenameAccount).Methods("POST")
	v1.HandleFunc("/accounts/remove", s.handleRemoveAccount).Methods("POST")
	v1.HandleFunc("/accounts/select", s.handleSelectAccount).Methods("POST")
	v1.HandleFunc("/commands/{id}", s.handleGetCommand).Methods("GET")
	v1.HandleFunc("/commands/{id}/cancel", s.handleCancelCommand).Methods("POST")

	// networks
	v1.HandleFunc("/network", s.handleSwitchNetwork).Methods("PUT")

	// assets
	v1.HandleFunc("/assets", s.handleAddAsset).Methods("POST")
	v1.HandleFunc("/assets/remove", s.handleRemoveAsset).Methods("POST")
	v1.HandleFunc("/assets/visibility", s.handleAssetVisibility).Methods("POST")

	// transactions
	v1.HandleFunc("/transactions", s.handleSubmitTransaction).Methods("POST")
	v1.HandleFunc("/transactions/{id}/{action}", s.handleTransactionAction).Methods("POST")

	// backend reads
	v1.HandleFunc("/discover", s.handleDiscover).Methods("POST")
	v1.HandleFunc("/refresh/{what}", s.handleRefresh).Methods("POST")
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status          string                   `json:"status"`
	Service         string                   `json:"service"`
	Revision        uint64                   `json:"revision"`
	Locked          bool                     `json:"locked"`
	StreamConnected *bool                    `json:"streamConnected,omitempty"`
	Bridge          *bridge.Stats            `json:"bridge,omitempty"`
	Cache           *cache.Stats             `json:"cache,omitempty"`
	Commands        orchestrator.Stats       `json:"commands"`
	Endpoints       []backend.EndpointHealth `json:"endpoints,omitempty"`
	Breaker         *circuitbreaker.Stats    `json:"breaker,omitempty"`
	Refresh         *worker.Stats            `json:"refresh,omitempty"`
}

// handleHealth reports degraded when the notification stream is down or
// no backend endpoint is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Snapshot()
	resp := HealthResponse{
		Status:   "healthy",
		Service:  "wallet-sync",
		Revision: st.Revision(),
		Locked:   st.Locked(),
		Commands: s.commands.Stats(),
	}
	if s.monitors.StreamConnected != nil {
		connected := s.monitors.StreamConnected()
		resp.StreamConnected = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	if s.monitors.Bridge != nil {
		stats := s.monitors.Bridge()
		resp.Bridge = &stats
	}
	if s.monitors.Cache != nil {
		stats := s.monitors.Cache()
		resp.Cache = &stats
	}
	if s.monitors.Refresh != nil {
		stats := s.monitors.Refresh()
		resp.Refresh = &stats
	}
	if s.monitors.Backend != nil {
		endpoints, breaker := s.monitors.Backend()
		resp.Endpoints = endpoints
		resp.Breaker = &breaker
		if breaker.State == circuitbreaker.StateOpen {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
