// Package api provides the HTTP trigger surface of the marketplace backend.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonft-app/backend/internal/adapter"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/service"
)

// Service interfaces for dependency injection and testing

// ListingVerifier admits listings after the on-chain transfer
type ListingVerifier interface {
	VerifyAndRecord(ctx context.Context, claim service.ListingClaim) (*service.ListingResult, error)
}

// PurchaseReconciler reconciles buy and cancel callbacks
type PurchaseReconciler interface {
	ReconcileBuy(ctx context.Context, claim service.BuyClaim) (*service.BuyResult, error)
	ReconcileCancel(ctx context.Context, saleContractAddress string) (*service.CancelResult, error)
}

// OrderReader reads single orders
type OrderReader interface {
	FindByHash(ctx context.Context, hash string) (*models.Order, error)
	FindActiveByKeys(ctx context.Context, key models.ListingKey) (*models.Order, error)
}

// OfferLister lists the public offers
type OfferLister interface {
	ListOffers(ctx context.Context) (*service.OfferListing, error)
}

// ItemSearcher finds the items held by a wallet
type ItemSearcher interface {
	GetItemsByOwner(ctx context.Context, owner string) ([]adapter.NftItem, error)
}

// SaleContractFinder discovers freshly deployed sale contracts
type SaleContractFinder interface {
	FindSaleContract(ctx context.Context, owner string, createdAt time.Time) (string, bool, error)
}

// StatisticsProvider serves marketplace statistics
type StatisticsProvider interface {
	GetStatistics(ctx context.Context) (*models.MarketStatistics, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Services bundles the collaborators behind the handlers. Nil members answer 503.
type Services struct {
	Listings   ListingVerifier
	Purchases  PurchaseReconciler
	Orders     OrderReader
	Offers     OfferLister
	Items      ItemSearcher
	Contracts  SaleContractFinder
	Statistics StatisticsProvider
	Health     map[string]HealthCheck
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   *Services
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services *Services) *Server {
	if services == nil {
		services = &Services{}
	}

	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: the request id must be in context before logging
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	// Buy reconciliation may hold a request for the whole poll window
	writeTimeout := s.config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 60 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	// Checkers
	api.HandleFunc("/checkTransfer", s.handleCheckTransfer).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/checkInit", s.handleCheckInit).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/callbackHandler", s.handleCallback).Methods(http.MethodGet, http.MethodOptions)

	// Getters
	api.HandleFunc("/getAllOffers", s.handleGetAllOffers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/getOffer", s.handleGetOffer).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/getUserNfts", s.handleGetUserNfts).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/offer/{hash}", s.handleGetOfferByHash).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/offer/{hash}/{referral}", s.handleGetOfferByHash).Methods(http.MethodGet, http.MethodOptions)
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.services.Health))
	for name, check := range s.services.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":  state,
		"service": "tonft-backend",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
