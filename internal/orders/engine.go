// Package orders owns the pickup order lifecycle: creation, dispatch at
// creation time, status transitions with history, and the queries built on
// top of them.
package orders

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/dispatch"
	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
	"github.com/example/pickup-dispatch/internal/storage"
)

const createdNote = "Order created"

// Publisher is the live channel order events go out on.
type Publisher interface {
	Publish(ev models.Event)
}

// AgentSource lists agents that can take work right now.
type AgentSource interface {
	AvailableAgents() []models.AgentLocation
}

type MaterialInput struct {
	CategoryID int64
	Weight     decimal.Decimal
}

type CreateOrderInput struct {
	CustomerID       int64
	PickupAddress    string
	PickupLatitude   *decimal.Decimal
	PickupLongitude  *decimal.Decimal
	Materials        []MaterialInput
	EstimatedWeight  decimal.Decimal
	EstimatedEarning decimal.Decimal
	PreferredTime    string
	Notes            *string
}

// Patch is a partial update. Nil fields are left untouched. Notes is
// recorded on the history entry of a status change.
type Patch struct {
	Status        *models.Status
	AgentID       *int64
	Notes         *string
	ActualWeight  *decimal.Decimal
	ActualEarning *decimal.Decimal
}

// Archiver keeps a durable copy of orders as they are created. Later
// changes reach it through the published events.
type Archiver interface {
	ArchiveCreated(ctx context.Context, o *models.PickupOrder) error
}

type Engine struct {
	orders     storage.OrderStore
	users      storage.UserStore
	categories storage.CategoryStore
	agents     AgentSource
	policy     dispatch.Policy
	pub        Publisher
	archive    Archiver
	now        func() time.Time
	logger     *slog.Logger
}

type Deps struct {
	Orders     storage.OrderStore
	Users      storage.UserStore
	Categories storage.CategoryStore
	Agents     AgentSource
	Policy     dispatch.Policy
	Publisher  Publisher
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		orders:     d.Orders,
		users:      d.Users,
		categories: d.Categories,
		agents:     d.Agents,
		policy:     d.Policy,
		pub:        d.Publisher,
		now:        d.Now,
		logger:     d.Logger,
	}
	if e.policy == nil {
		e.policy = dispatch.FirstAvailable{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// WithArchiver has every new order written to a before dispatch runs. Set it
// before the engine serves requests.
func (e *Engine) WithArchiver(a Archiver) *Engine {
	e.archive = a
	return e
}

// CreateOrder validates and stores a new pending order, then makes the one
// and only dispatch attempt. The returned order reflects the assignment
// when one happened.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.PickupOrder, error) {
	order, err := e.buildOrder(in)
	if err != nil {
		return nil, err
	}
	created, err := e.orders.CreateOrder(order, createdNote)
	if err != nil {
		return nil, err
	}
	observability.OrdersCreated.Inc()
	e.logger.Info("order created", "order_id", created.ID, "customer_id", created.CustomerID)
	if e.archive != nil {
		if err := e.archive.ArchiveCreated(ctx, created); err != nil {
			e.logger.Error("order not archived", "order_id", created.ID, "error", err)
		}
	}

	if assigned := e.dispatch(ctx, created); assigned != nil {
		return assigned, nil
	}
	return created, nil
}

func (e *Engine) buildOrder(in CreateOrderInput) (*models.PickupOrder, error) {
	if in.CustomerID <= 0 {
		return nil, errs.NewValidationError("customerId", "is required")
	}
	if e.users != nil {
		if _, err := e.users.GetUser(in.CustomerID); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(in.PickupAddress) == "" {
		return nil, errs.NewValidationError("pickupAddress", "is required")
	}
	if strings.TrimSpace(in.PreferredTime) == "" {
		return nil, errs.NewValidationError("preferredTime", "is required")
	}
	if (in.PickupLatitude == nil) != (in.PickupLongitude == nil) {
		return nil, errs.NewValidationError("pickupLatitude", "must be sent together with pickupLongitude")
	}
	if len(in.Materials) == 0 {
		return nil, errs.NewValidationError("materials", "must not be empty")
	}
	if in.EstimatedWeight.IsNegative() || in.EstimatedEarning.IsNegative() {
		return nil, errs.NewValidationError("estimatedWeight", "must not be negative")
	}

	lines := make([]models.MaterialLine, 0, len(in.Materials))
	totalWeight, totalEarning := decimal.Zero, decimal.Zero
	for _, m := range in.Materials {
		if !m.Weight.IsPositive() {
			return nil, errs.NewValidationError("materials.weight", "must be positive")
		}
		cat, err := e.categories.GetCategory(m.CategoryID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, errs.NewValidationError("materials.categoryId", "references an unknown category")
			}
			return nil, err
		}
		if !cat.IsActive {
			return nil, errs.NewValidationError("materials.categoryId", "references an inactive category")
		}
		lines = append(lines, models.MaterialLine{CategoryID: cat.ID, Weight: m.Weight, Rate: cat.RatePerKg})
		totalWeight = totalWeight.Add(m.Weight)
		totalEarning = totalEarning.Add(m.Weight.Mul(cat.RatePerKg))
	}

	o := &models.PickupOrder{
		CustomerID:       in.CustomerID,
		Status:           models.StatusPending,
		PickupAddress:    strings.TrimSpace(in.PickupAddress),
		PickupLatitude:   in.PickupLatitude,
		PickupLongitude:  in.PickupLongitude,
		EstimatedWeight:  in.EstimatedWeight,
		EstimatedEarning: in.EstimatedEarning,
		Materials:        lines,
		PreferredTime:    in.PreferredTime,
		Notes:            in.Notes,
		CreatedAt:        e.now(),
	}
	if o.EstimatedWeight.IsZero() {
		o.EstimatedWeight = totalWeight
	}
	if o.EstimatedEarning.IsZero() {
		o.EstimatedEarning = totalEarning.Round(2)
	}
	return o, nil
}

// dispatch runs the single assignment attempt for a fresh order. Failures
// are logged and leave the order pending.
func (e *Engine) dispatch(ctx context.Context, order *models.PickupOrder) *models.PickupOrder {
	start := time.Now()
	defer func() { observability.DispatchLatency.Observe(time.Since(start).Seconds()) }()

	if e.agents == nil {
		observability.DispatchOutcomes.WithLabelValues("no_agents").Inc()
		return nil
	}
	agentID, ok := e.policy.Select(order, e.agents.AvailableAgents())
	if !ok {
		observability.DispatchOutcomes.WithLabelValues("no_agents").Inc()
		e.logger.Info("order left pending, no available agent", "order_id", order.ID)
		return nil
	}

	status := models.StatusAssigned
	assigned, err := e.apply(ctx, order.ID, Patch{Status: &status, AgentID: &agentID}, func(o *models.PickupOrder) models.Event {
		return models.OrderAssigned(o.ID, *o.AgentID)
	})
	if err != nil {
		observability.DispatchOutcomes.WithLabelValues("error").Inc()
		e.logger.Error("dispatch assignment failed", "order_id", order.ID, "agent_id", agentID, "error", err)
		return nil
	}
	observability.DispatchOutcomes.WithLabelValues("assigned").Inc()
	e.logger.Info("order assigned", "order_id", order.ID, "agent_id", agentID)
	return assigned
}

// UpdateOrder merges p into the stored order. A status change appends a
// history entry atomically with the merge and is broadcast as an
// orderStatusUpdate.
func (e *Engine) UpdateOrder(ctx context.Context, id int64, p Patch) (*models.PickupOrder, error) {
	return e.apply(ctx, id, p, models.OrderStatusUpdate)
}

// apply runs the merge under the store lock. A status change is published
// as event(order) before the lock is released, so observers see changes to
// one order in the order they were stored.
func (e *Engine) apply(ctx context.Context, id int64, p Patch, event func(*models.PickupOrder) models.Event) (*models.PickupOrder, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, errs.NewValidationError("status", "is not a known status")
	}
	if (p.ActualWeight == nil) != (p.ActualEarning == nil) {
		return nil, errs.NewValidationError("actualWeight", "must be sent together with actualEarning")
	}
	if p.ActualWeight != nil && (p.ActualWeight.IsNegative() || p.ActualEarning.IsNegative()) {
		return nil, errs.NewValidationError("actualWeight", "must not be negative")
	}

	var prev models.Status
	updated, err := e.orders.UpdateOrder(id, func(o *models.PickupOrder) error {
		return e.merge(o, p)
	}, p.Notes, func(from models.Status, o *models.PickupOrder) {
		prev = from
		if o.Status != from && e.pub != nil {
			e.pub.Publish(event(o))
		}
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != prev {
		observability.StatusTransitions.WithLabelValues(string(updated.Status)).Inc()
		e.logger.Info("order status changed", "order_id", id, "from", prev, "to", updated.Status)
		if updated.Status == models.StatusCompleted {
			e.creditPickup(updated)
		}
	}
	return updated, nil
}

// merge applies p to o in place. It runs inside the store's critical
// section, so it sees the latest stored value.
func (e *Engine) merge(o *models.PickupOrder, p Patch) error {
	next := o.Status
	if p.Status != nil {
		next = *p.Status
	}

	if o.Status.Terminal() {
		if next == o.Status && p.AgentID == nil && p.ActualWeight == nil {
			return nil
		}
		return errs.NewInvalidTransitionError(o.ID, string(o.Status), string(next))
	}
	if next != o.Status && !o.Status.CanTransition(next) {
		return errs.NewInvalidTransitionError(o.ID, string(o.Status), string(next))
	}

	if p.AgentID != nil {
		if *p.AgentID <= 0 {
			return errs.NewValidationError("agentId", "must be positive")
		}
		agent := *p.AgentID
		o.AgentID = &agent
	}
	if next.RequiresAgent() && o.AgentID == nil {
		return errs.NewValidationError("agentId", "is required for status "+string(next))
	}

	if p.ActualWeight != nil {
		if next != models.StatusCompleted {
			return errs.NewValidationError("actualWeight", "is only accepted when completing an order")
		}
		w, earn := *p.ActualWeight, *p.ActualEarning
		o.ActualWeight, o.ActualEarning = &w, &earn
	}

	if next == models.StatusCompleted && o.CompletedAt == nil {
		now := e.now()
		o.CompletedAt = &now
	}
	o.Status = next
	return nil
}

// creditPickup bumps the lifetime pickup count of both parties.
func (e *Engine) creditPickup(o *models.PickupOrder) {
	if e.users == nil {
		return
	}
	ids := []int64{o.CustomerID}
	if o.AgentID != nil {
		ids = append(ids, *o.AgentID)
	}
	for _, id := range ids {
		_, err := e.users.UpdateUser(id, func(u *models.User) error {
			u.TotalPickups++
			return nil
		})
		if err != nil {
			e.logger.Debug("pickup count not credited", "user_id", id, "error", err)
		}
	}
}

func (e *Engine) GetOrder(id int64) (*models.PickupOrder, error) {
	return e.orders.GetOrder(id)
}

// OrdersByCustomer returns the customer's orders, newest first.
func (e *Engine) OrdersByCustomer(customerID int64) []*models.PickupOrder {
	return newestFirst(e.orders.Orders(func(o *models.PickupOrder) bool { return o.CustomerID == customerID }))
}

// OrdersByAgent returns the agent's orders, newest first.
func (e *Engine) OrdersByAgent(agentID int64) []*models.PickupOrder {
	return newestFirst(e.orders.Orders(func(o *models.PickupOrder) bool {
		return o.AgentID != nil && *o.AgentID == agentID
	}))
}

// ActiveOrders returns every order not in a terminal status.
func (e *Engine) ActiveOrders() []*models.PickupOrder {
	return e.orders.Orders(func(o *models.PickupOrder) bool { return !o.Status.Terminal() })
}

func (e *Engine) History(orderID int64) ([]models.StatusHistory, error) {
	return e.orders.OrderHistory(orderID)
}

// DashboardStats aggregates the user's completed orders.
func (e *Engine) DashboardStats(userID int64) (models.DashboardStats, error) {
	u, err := e.users.GetUser(userID)
	if err != nil {
		return models.DashboardStats{}, err
	}
	earnings, weight := decimal.Zero, decimal.Zero
	for _, o := range e.OrdersByCustomer(userID) {
		if o.Status != models.StatusCompleted {
			continue
		}
		if o.ActualEarning != nil {
			earnings = earnings.Add(*o.ActualEarning)
		} else {
			earnings = earnings.Add(o.EstimatedEarning)
		}
		if o.ActualWeight != nil {
			weight = weight.Add(*o.ActualWeight)
		} else {
			weight = weight.Add(o.EstimatedWeight)
		}
	}
	return models.DashboardStats{
		TotalEarnings: earnings.Round(0),
		TotalPickups:  u.TotalPickups,
		TotalWeight:   weight.Round(0),
	}, nil
}

// newestFirst sorts by createdAt descending; equal timestamps keep the
// store's insertion order.
func newestFirst(list []*models.PickupOrder) []*models.PickupOrder {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}
