package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/dispatch"
	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store    *storage.MemoryStore
	registry *agents.Registry
	pub      *recorder
	engine   *Engine
	customer models.User
	clock    time.Time
}

func newHarness(t *testing.T, policy dispatch.Policy) *harness {
	t.Helper()
	h := &harness{clock: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), pub: &recorder{}}
	now := func() time.Time { return h.clock }
	h.store = storage.NewMemoryStore(storage.WithClock(now))
	h.store.CreateCategory(models.MaterialCategory{Name: "Newspapers", RatePerKg: dec("12.00"), IsActive: true})
	h.store.CreateCategory(models.MaterialCategory{Name: "Retired", RatePerKg: dec("1.00"), IsActive: false})

	var err error
	h.customer, err = h.store.CreateUser(models.User{Username: "customer1", Role: models.RoleCustomer, IsActive: true})
	require.NoError(t, err)

	h.registry = agents.NewRegistry(h.store, h.store, nil, nil)
	h.engine = NewEngine(Deps{
		Orders:     h.store,
		Users:      h.store,
		Categories: h.store,
		Agents:     h.registry,
		Policy:     policy,
		Publisher:  h.pub,
		Now:        now,
	})
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal { d := dec(s); return &d }

func statusPtr(s models.Status) *models.Status { return &s }

func (h *harness) input() CreateOrderInput {
	return CreateOrderInput{
		CustomerID:       h.customer.ID,
		PickupAddress:    "123 MG Road, Bangalore",
		Materials:        []MaterialInput{{CategoryID: 1, Weight: dec("5")}},
		EstimatedWeight:  dec("5"),
		EstimatedEarning: dec("60.00"),
		PreferredTime:    "2024-06-01T10:00",
	}
}

func (h *harness) agentAt(t *testing.T, id int64, lat, lon string) {
	t.Helper()
	_, err := h.registry.UpsertLocation(context.Background(), agents.LocationUpdate{AgentID: id, Latitude: dec(lat), Longitude: dec(lon)})
	require.NoError(t, err)
}

func TestCreateOrderWithoutAgentsStaysPending(t *testing.T) {
	h := newHarness(t, nil)

	created, err := h.engine.CreateOrder(context.Background(), h.input())
	require.NoError(t, err)

	got, err := h.engine.GetOrder(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.AgentID)

	hist, err := h.engine.History(created.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StatusPending, hist[0].Status)
	assert.Equal(t, "Order created", *hist[0].Notes)
	assert.Empty(t, h.pub.ofType(models.EventOrderAssigned))
}

func TestCreateOrderSnapshotsRateAndDerivesEstimates(t *testing.T) {
	h := newHarness(t, nil)
	in := h.input()
	in.EstimatedWeight = decimal.Zero
	in.EstimatedEarning = decimal.Zero
	in.Materials = []MaterialInput{{CategoryID: 1, Weight: dec("2.5")}}

	o, err := h.engine.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "12", o.Materials[0].Rate.String())
	assert.Equal(t, "2.5", o.EstimatedWeight.String())
	assert.Equal(t, "30", o.EstimatedEarning.String())
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := map[string]func(*CreateOrderInput){
		"empty materials":   func(in *CreateOrderInput) { in.Materials = nil },
		"unknown category":  func(in *CreateOrderInput) { in.Materials[0].CategoryID = 99 },
		"inactive category": func(in *CreateOrderInput) { in.Materials[0].CategoryID = 2 },
		"zero weight":       func(in *CreateOrderInput) { in.Materials[0].Weight = decimal.Zero },
		"missing address":   func(in *CreateOrderInput) { in.PickupAddress = "  " },
		"missing time":      func(in *CreateOrderInput) { in.PreferredTime = "" },
		"half coordinates":  func(in *CreateOrderInput) { in.PickupLatitude = decPtr("12.9") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := h.input()
			mutate(&in)
			_, err := h.engine.CreateOrder(ctx, in)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	in := h.input()
	in.CustomerID = 404
	_, err := h.engine.CreateOrder(ctx, in)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.Empty(t, h.engine.ActiveOrders())
}

func TestEndToEndAssignAndComplete(t *testing.T) {
	h := newHarness(t, nil)
	h.agentAt(t, 7, "12.9141", "77.6321")
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, o.Status)
	require.NotNil(t, o.AgentID)
	assert.Equal(t, int64(7), *o.AgentID)

	assigned := h.pub.ofType(models.EventOrderAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, o.ID, assigned[0].OrderID)
	assert.Equal(t, int64(7), assigned[0].AgentID)

	h.clock = h.clock.Add(time.Hour)
	done, err := h.engine.UpdateOrder(ctx, o.ID, Patch{
		Status:        statusPtr(models.StatusCompleted),
		ActualWeight:  decPtr("5"),
		ActualEarning: decPtr("60.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, h.clock, *done.CompletedAt)

	hist, err := h.engine.History(o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []models.Status{models.StatusPending, models.StatusAssigned, models.StatusCompleted},
		[]models.Status{hist[0].Status, hist[1].Status, hist[2].Status})

	updates := h.pub.ofType(models.EventOrderStatusUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, models.StatusCompleted, updates[0].Status)

	customer, err := h.store.GetUser(h.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, customer.TotalPickups)

	stats, err := h.engine.DashboardStats(h.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "60", stats.TotalEarnings.String())
	assert.Equal(t, "5", stats.TotalWeight.String())
	assert.Equal(t, 1, stats.TotalPickups)
}

func TestNearestPolicyPicksClosestAgent(t *testing.T) {
	h := newHarness(t, dispatch.Nearest{})
	h.agentAt(t, 2, "13.0500", "77.7000")
	h.agentAt(t, 3, "12.9201", "77.6401")
	in := h.input()
	in.PickupLatitude, in.PickupLongitude = decPtr("12.9200"), decPtr("77.6400")

	o, err := h.engine.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, o.AgentID)
	assert.Equal(t, int64(3), *o.AgentID)
}

func TestUpdateSameStatusAppendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusPending)})
	require.NoError(t, err)
	agent := int64(4)
	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusAssigned), AgentID: &agent})
	require.NoError(t, err)
	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusAssigned)})
	require.NoError(t, err)

	hist, err := h.engine.History(o.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	assert.Len(t, h.pub.ofType(models.EventOrderStatusUpdate), 1)
}

func TestUpdateRejectsInvalidChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusInProgress)})
	assert.ErrorIs(t, err, errs.ErrValidation, "in_progress needs an agent")

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr("archived")})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{ActualWeight: decPtr("1")})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusCancelled), Notes: strPtr("customer called")})
	require.NoError(t, err)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusPending)})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = h.engine.UpdateOrder(ctx, 999, Patch{Status: statusPtr(models.StatusCancelled)})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := h.engine.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.ActualWeight)

	hist, err := h.engine.History(o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "customer called", *hist[1].Notes)
}

func TestBackwardTransitionRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.agentAt(t, 7, "1", "1")
	ctx := context.Background()
	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusCollecting)})
	require.NoError(t, err)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusAssigned)})
	var ite *errs.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, "collecting", ite.From)
	assert.Equal(t, "assigned", ite.To)
}

func strPtr(s string) *string { return &s }

func TestOrdersByCustomerNewestFirstStable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	second, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	h.clock = h.clock.Add(time.Minute)
	third, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)

	list := h.engine.OrdersByCustomer(h.customer.ID)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{third.ID, first.ID, second.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
	assert.Empty(t, h.engine.OrdersByCustomer(12345))
}

func TestOrdersByAgentAndActive(t *testing.T) {
	h := newHarness(t, nil)
	h.agentAt(t, 7, "1", "1")
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	require.Len(t, h.engine.OrdersByAgent(7), 1)
	assert.Empty(t, h.engine.OrdersByAgent(8))
	require.Len(t, h.engine.ActiveOrders(), 1)

	_, err = h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusCancelled)})
	require.NoError(t, err)
	assert.Empty(t, h.engine.ActiveOrders())
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	h := newHarness(t, nil)
	h.agentAt(t, 7, "1", "1")
	ctx := context.Background()
	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)

	targets := []models.Status{models.StatusInProgress, models.StatusCollecting, models.StatusCompleted, models.StatusCancelled}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for _, s := range targets {
		wg.Add(1)
		go func(s models.Status) {
			defer wg.Done()
			if _, err := h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(s)}); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	hist, err := h.engine.History(o.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2+applied)
	for i := 1; i < len(hist); i++ {
		assert.NotEqual(t, hist[i-1].Status, hist[i].Status)
		assert.True(t, hist[i-1].Status.CanTransition(hist[i].Status))
	}

	got, err := h.engine.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, hist[len(hist)-1].Status, got.Status)
}

// gatedPublisher holds back the first orderStatusUpdate carrying hold
// until release is closed.
type gatedPublisher struct {
	recorder
	hold    models.Status
	held    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedPublisher) Publish(ev models.Event) {
	if ev.Type == models.EventOrderStatusUpdate && ev.Status == g.hold {
		g.once.Do(func() {
			close(g.held)
			<-g.release
		})
	}
	g.recorder.Publish(ev)
}

func TestStatusEventsFollowStoredOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.agentAt(t, 7, "1", "1")
	ctx := context.Background()
	o, err := h.engine.CreateOrder(ctx, h.input())
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, o.Status)

	pub := &gatedPublisher{hold: models.StatusCollecting, held: make(chan struct{}), release: make(chan struct{})}
	h.engine.pub = pub

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusCollecting)})
		assert.NoError(t, err)
	}()
	<-pub.held
	go func() {
		defer wg.Done()
		_, err := h.engine.UpdateOrder(ctx, o.ID, Patch{Status: statusPtr(models.StatusCompleted)})
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	close(pub.release)
	wg.Wait()

	updates := pub.ofType(models.EventOrderStatusUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, models.StatusCollecting, updates[0].Status)
	assert.Equal(t, models.StatusCompleted, updates[1].Status)

	got, err := h.engine.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Status, updates[len(updates)-1].Status)
}

type archiverFunc func(ctx context.Context, o *models.PickupOrder) error

func (f archiverFunc) ArchiveCreated(ctx context.Context, o *models.PickupOrder) error { return f(ctx, o) }

func TestCreateOrderArchivesPendingOrderBeforeDispatch(t *testing.T) {
	h := newHarness(t, nil)
	var archived []models.PickupOrder
	h.engine.WithArchiver(archiverFunc(func(_ context.Context, o *models.PickupOrder) error {
		archived = append(archived, *o)
		return nil
	}))

	pending, err := h.engine.CreateOrder(context.Background(), h.input())
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, pending.ID, archived[0].ID)
	assert.Equal(t, models.StatusPending, archived[0].Status)

	h.agentAt(t, 7, "1", "1")
	assigned, err := h.engine.CreateOrder(context.Background(), h.input())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, assigned.Status)
	require.Len(t, archived, 2)
	assert.Equal(t, models.StatusPending, archived[1].Status)
	assert.Nil(t, archived[1].AgentID)
}

func TestCreateOrderSurvivesArchiveFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.WithArchiver(archiverFunc(func(context.Context, *models.PickupOrder) error {
		return errors.New("connection refused")
	}))

	o, err := h.engine.CreateOrder(context.Background(), h.input())
	require.NoError(t, err)
	_, err = h.engine.GetOrder(o.ID)
	assert.NoError(t, err)
}

func TestDashboardStatsUnknownUser(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.DashboardStats(999)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	stats, err := h.engine.DashboardStats(h.customer.ID)
	require.NoError(t, err)
	assert.True(t, stats.TotalEarnings.IsZero())
}
