package httpapi

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/accounts"
	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/eta"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/orders"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	UserType string `json:"userType" validate:"omitempty,oneof=customer agent"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	User models.User `json:"user"`
}

// Rate is accepted for compatibility and ignored; the category rate wins.
type materialRequest struct {
	CategoryID int64            `json:"categoryId" validate:"gt=0"`
	Weight     decimal.Decimal  `json:"weight"`
	Rate       *decimal.Decimal `json:"rate"`
}

type createOrderRequest struct {
	CustomerID       int64             `json:"customerId" validate:"gt=0"`
	PickupAddress    string            `json:"pickupAddress" validate:"required"`
	PickupLatitude   *decimal.Decimal  `json:"pickupLatitude"`
	PickupLongitude  *decimal.Decimal  `json:"pickupLongitude"`
	Materials        []materialRequest `json:"materials" validate:"required,min=1,dive"`
	EstimatedWeight  decimal.Decimal   `json:"estimatedWeight"`
	EstimatedEarning decimal.Decimal   `json:"estimatedEarning"`
	PreferredTime    string            `json:"preferredTime" validate:"required"`
	Notes            *string           `json:"notes"`
}

type updateOrderRequest struct {
	Status        *string          `json:"status" validate:"omitempty,oneof=pending assigned in_progress collecting completed cancelled"`
	AgentID       *int64           `json:"agentId" validate:"omitempty,gt=0"`
	Notes         *string          `json:"notes"`
	ActualWeight  *decimal.Decimal `json:"actualWeight"`
	ActualEarning *decimal.Decimal `json:"actualEarning"`
}

type nearbyAgent struct {
	geo.Point
	ETASeconds float64 `json:"etaSeconds"`
}

type locationRequest struct {
	AgentID     int64           `json:"agentId" validate:"gt=0"`
	Latitude    decimal.Decimal `json:"latitude"`
	Longitude   decimal.Decimal `json:"longitude"`
	IsAvailable *bool           `json:"isAvailable"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.accounts.Register(accounts.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		Address:  req.Address,
		Role:     models.Role(req.UserType),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.accounts.Login(req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.accounts.ActiveCategories())
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in := orders.CreateOrderInput{
		CustomerID:       req.CustomerID,
		PickupAddress:    req.PickupAddress,
		PickupLatitude:   req.PickupLatitude,
		PickupLongitude:  req.PickupLongitude,
		EstimatedWeight:  req.EstimatedWeight,
		EstimatedEarning: req.EstimatedEarning,
		PreferredTime:    req.PreferredTime,
		Notes:            req.Notes,
	}
	for _, m := range req.Materials {
		in.Materials = append(in.Materials, orders.MaterialInput{CategoryID: m.CategoryID, Weight: m.Weight})
	}
	o, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orders.ActiveOrders())
}

func (s *Server) handleOrdersByCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "customerId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orders.OrdersByCustomer(id))
}

func (s *Server) handleOrdersByAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "agentId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orders.OrdersByAgent(id))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.orders.GetOrder(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := orders.Patch{
		AgentID:       req.AgentID,
		Notes:         req.Notes,
		ActualWeight:  req.ActualWeight,
		ActualEarning: req.ActualEarning,
	}
	if req.Status != nil {
		st := models.Status(*req.Status)
		p.Status = &st
	}
	o, err := s.orders.UpdateOrder(r.Context(), id, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hist, err := s.orders.History(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleAgentLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agents.AgentsWithLocations())
}

func (s *Server) handleNearbyAgents(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := s.nearbyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, errs.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = min(n, s.nearbyLimit)
	}
	pts, err := s.agents.Nearby(r.Context(), lat, lon, limit)
	if err != nil {
		s.writeError(w, r, errs.NewInternalError("nearby agents", err))
		return
	}
	out := make([]nearbyAgent, 0, len(pts))
	to := eta.Coord{Lat: lat, Lon: lon}
	for _, p := range pts {
		secs, err := s.eta.EstimateSeconds(r.Context(), eta.Coord{Lat: p.Lat, Lon: p.Lon}, to)
		if err != nil {
			s.logger.Debug("eta unavailable", "agent_id", p.AgentID, "error", err)
			secs = eta.Seconds(p.Distance, 0)
		}
		out = append(out, nearbyAgent{Point: p, ETASeconds: secs})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	loc, err := s.agents.UpsertLocation(r.Context(), agents.LocationUpdate{
		AgentID:     req.AgentID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.orders.DashboardStats(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
