// Package api is the HTTP surface of the market service. Inputs are
// URL-encoded form fields and query parameters, responses are JSON, and
// every game-facing route requires a bearer token with the right
// scopes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/config"
	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
	"github.com/anthill-platform/anthill-market/internal/notify"
)

// Server wires the engine services to HTTP routes.
type Server struct {
	config   config.APIConfig
	logger   *slog.Logger
	signer   *access.Signer
	clock    clock.Clock
	metrics  *metrics.Metrics
	version  string
	registry *market.MarketRegistry
	ledger   *market.Ledger
	orders   *market.Orders
	matcher  *market.Matcher
	journal  *market.Journal
	hub      *notify.Hub

	http *http.Server
}

// Options carries the server dependencies.
type Options struct {
	Config   config.APIConfig
	Logger   *slog.Logger
	Signer   *access.Signer
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Version  string
	Registry *market.MarketRegistry
	Ledger   *market.Ledger
	Orders   *market.Orders
	Matcher  *market.Matcher
	Journal  *market.Journal
	Hub      *notify.Hub
}

// NewServer creates the HTTP server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	s := &Server{
		config:   opts.Config,
		logger:   logger.With("component", "api"),
		signer:   opts.Signer,
		clock:    clk,
		metrics:  opts.Metrics,
		version:  opts.Version,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		orders:   opts.Orders,
		matcher:  opts.Matcher,
		journal:  opts.Journal,
		hub:      opts.Hub,
	}

	s.http = &http.Server{
		Addr:         opts.Config.Listen,
		Handler:      s.routes(),
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}
	return s
}

// Handler returns the full middleware-wrapped route tree. Exposed for
// handler tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /markets/{name}", s.authed(s.handleGetMarket, access.ScopeMarket))
	mux.HandleFunc("GET /markets/{name}/items", s.authed(s.handleListItems, access.ScopeMarket))
	mux.HandleFunc("POST /markets/{name}/items", s.authed(s.handleUpdateItems, access.ScopeMarket, access.ScopeUpdateItem))
	mux.HandleFunc("GET /markets/{name}/items/{item}", s.authed(s.handleGetItem, access.ScopeMarket))
	mux.HandleFunc("POST /markets/{name}/items/{item}", s.authed(s.handleUpdateItem, access.ScopeMarket, access.ScopeUpdateItem))

	mux.HandleFunc("GET /markets/{name}/orders", s.authed(s.handleQueryOrders, access.ScopeMarket))
	mux.HandleFunc("POST /markets/{name}/orders", s.authed(s.handlePostOrder, access.ScopeMarket, access.ScopePostOrder))
	mux.HandleFunc("GET /markets/{name}/orders/my", s.authed(s.handleMyOrders, access.ScopeMarket))
	mux.HandleFunc("GET /markets/{name}/orders/{id}", s.authed(s.handleGetOrder, access.ScopeMarket))
	mux.HandleFunc("POST /markets/{name}/orders/{id}", s.authed(s.handleUpdateOrder, access.ScopeMarket, access.ScopePostOrder))
	mux.HandleFunc("POST /markets/{name}/orders/{id}/fulfill", s.authed(s.handleFulfillOrder, access.ScopeMarket, access.ScopePostOrder))
	mux.HandleFunc("POST /markets/{name}/orders/{id}/delete", s.authed(s.handleDeleteOrder, access.ScopeMarket, access.ScopePostOrder))

	mux.HandleFunc("GET /markets/{name}/transactions", s.authed(s.handleTransactions, access.ScopeMarket))

	mux.HandleFunc("GET /markets", s.authed(s.handleListMarkets, access.ScopeAdmin))
	mux.HandleFunc("POST /markets", s.authed(s.handleCreateMarket, access.ScopeAdmin))
	mux.HandleFunc("POST /markets/{name}/settings", s.authed(s.handleUpdateMarketSettings, access.ScopeAdmin))
	mux.HandleFunc("POST /markets/{name}/delete", s.authed(s.handleDeleteMarket, access.ScopeAdmin))
	mux.HandleFunc("POST /accounts/delete", s.authed(s.handleAccountsDeleted, access.ScopeAdmin))

	mux.HandleFunc("GET /ws", s.authed(s.handleWebsocket, access.ScopeMarket))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /version", s.handleVersion)

	return s.recoverer(s.requestID(s.logging(mux)))
}

// Run serves until the context is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
