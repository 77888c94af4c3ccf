// Package httpapi exposes the dispatch core over REST and a websocket
// live channel.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/pickup-dispatch/internal/accounts"
	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/eta"
	"github.com/example/pickup-dispatch/internal/live"
	"github.com/example/pickup-dispatch/internal/orders"
)

const defaultNearbyLimit = 10

type Deps struct {
	Orders      *orders.Engine
	Agents      *agents.Registry
	Accounts    *accounts.Service
	Hub         *live.Hub
	ETA         eta.Estimator
	NearbyLimit int
	Logger      *slog.Logger
}

type Server struct {
	orders      *orders.Engine
	agents      *agents.Registry
	accounts    *accounts.Service
	hub         *live.Hub
	eta         eta.Estimator
	nearbyLimit int
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	mux         *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		orders:      d.Orders,
		agents:      d.Agents,
		accounts:    d.Accounts,
		hub:         d.Hub,
		eta:         d.ETA,
		nearbyLimit: d.NearbyLimit,
		logger:      d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux: mux.NewRouter(),
	}
	if s.nearbyLimit <= 0 {
		s.nearbyLimit = defaultNearbyLimit
	}
	if s.eta == nil {
		s.eta = eta.StraightLine{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/active", s.handleActiveOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/customer/{customerId:[0-9]+}", s.handleOrdersByCustomer).Methods(http.MethodGet)
	api.HandleFunc("/orders/agent/{agentId:[0-9]+}", s.handleOrdersByAgent).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleUpdateOrder).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{id}/history", s.handleOrderHistory).Methods(http.MethodGet)

	api.HandleFunc("/agents/locations", s.handleAgentLocations).Methods(http.MethodGet)
	api.HandleFunc("/agents/nearby", s.handleNearbyAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/location", s.handleUpsertLocation).Methods(http.MethodPost)

	api.HandleFunc("/dashboard/stats/{userId}", s.handleDashboardStats).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
