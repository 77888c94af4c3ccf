package storage

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/models"
)

// UserStore holds customer and agent identities.
type UserStore interface {
	CreateUser(u models.User) (models.User, error)
	GetUser(id int64) (models.User, error)
	GetUserByUsername(username string) (models.User, error)
	UpdateUser(id int64, mutate func(*models.User) error) (models.User, error)
	Users(role models.Role) []models.User
}

// CategoryStore holds the material rate card.
type CategoryStore interface {
	CreateCategory(c models.MaterialCategory) models.MaterialCategory
	GetCategory(id int64) (models.MaterialCategory, error)
	Categories(activeOnly bool) []models.MaterialCategory
}

// OrderStore holds pickup orders and their status history.
type OrderStore interface {
	CreateOrder(o *models.PickupOrder, note string) (*models.PickupOrder, error)
	GetOrder(id int64) (*models.PickupOrder, error)
	UpdateOrder(id int64, mutate func(*models.PickupOrder) error, note *string, commit CommitFunc) (*models.PickupOrder, error)
	Orders(match func(*models.PickupOrder) bool) []*models.PickupOrder
	OrderHistory(orderID int64) ([]models.StatusHistory, error)
}

// CommitFunc observes a successful order write while the order lock is
// still held, so writes to one order are seen in the order they happened.
// It must not call back into the order store.
type CommitFunc func(prev models.Status, o *models.PickupOrder)

// LocationStore holds one live location record per agent.
type LocationStore interface {
	UpsertLocation(agentID int64, mutate func(*models.AgentLocation)) models.AgentLocation
	GetLocation(agentID int64) (models.AgentLocation, error)
	Locations(match func(models.AgentLocation) bool) []models.AgentLocation
}

// MemoryStore is the process-local entity store. Each entity type has its
// own lock and id sequence; order history shares the order lock so a status
// change and its history entry become visible together.
type MemoryStore struct {
	now func() time.Time

	usersMu sync.RWMutex
	users   map[int64]models.User
	userSeq atomic.Int64

	catMu      sync.RWMutex
	categories map[int64]models.MaterialCategory
	catSeq     atomic.Int64

	ordersMu   sync.RWMutex
	orders     map[int64]*models.PickupOrder
	orderIDs   []int64
	history    map[int64][]models.StatusHistory
	orderSeq   atomic.Int64
	historySeq atomic.Int64

	locMu     sync.RWMutex
	locations map[int64]models.AgentLocation
	locSeq    atomic.Int64
}

type Option func(*MemoryStore)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		now:        time.Now,
		users:      make(map[int64]models.User),
		categories: make(map[int64]models.MaterialCategory),
		orders:     make(map[int64]*models.PickupOrder),
		history:    make(map[int64][]models.StatusHistory),
		locations:  make(map[int64]models.AgentLocation),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Users

func (m *MemoryStore) CreateUser(u models.User) (models.User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return models.User{}, errs.NewValidationError("username", "already exists")
		}
	}
	u.ID = m.userSeq.Add(1)
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(id int64) (models.User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, errs.NewNotFoundError("user", id)
	}
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(username string) (models.User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return models.User{}, errs.NewNotFoundError("user", username)
}

func (m *MemoryStore) UpdateUser(id int64, mutate func(*models.User) error) (models.User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, errs.NewNotFoundError("user", id)
	}
	if err := mutate(&u); err != nil {
		return models.User{}, err
	}
	u.ID = id
	m.users[id] = u
	return u, nil
}

// Users lists users with the given role; an empty role lists everyone.
func (m *MemoryStore) Users(role models.Role) []models.User {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Categories

func (m *MemoryStore) CreateCategory(c models.MaterialCategory) models.MaterialCategory {
	m.catMu.Lock()
	defer m.catMu.Unlock()
	c.ID = m.catSeq.Add(1)
	m.categories[c.ID] = c
	return c
}

func (m *MemoryStore) GetCategory(id int64) (models.MaterialCategory, error) {
	m.catMu.RLock()
	defer m.catMu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return models.MaterialCategory{}, errs.NewNotFoundError("category", id)
	}
	return c, nil
}

func (m *MemoryStore) Categories(activeOnly bool) []models.MaterialCategory {
	m.catMu.RLock()
	defer m.catMu.RUnlock()
	out := make([]models.MaterialCategory, 0, len(m.categories))
	for _, c := range m.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders

// CreateOrder stores a copy of o under a fresh id and writes the initial
// pending history entry.
func (m *MemoryStore) CreateOrder(o *models.PickupOrder, note string) (*models.PickupOrder, error) {
	if o == nil {
		return nil, errs.NewValidationError("order", "is required")
	}
	stored := o.Clone()

	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	stored.ID = m.orderSeq.Add(1)
	stored.Status = models.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.orders[stored.ID] = stored
	m.orderIDs = append(m.orderIDs, stored.ID)
	m.appendHistoryLocked(stored.ID, models.StatusPending, &note)
	return stored.Clone(), nil
}

func (m *MemoryStore) GetOrder(id int64) (*models.PickupOrder, error) {
	m.ordersMu.RLock()
	defer m.ordersMu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errs.NewNotFoundError("order", id)
	}
	return o.Clone(), nil
}

// UpdateOrder applies mutate to a copy of the stored order and swaps it in
// only when mutate succeeds. A changed status appends a history entry
// carrying note inside the same critical section. commit, when set, sees
// the stored result before the lock is released.
func (m *MemoryStore) UpdateOrder(id int64, mutate func(*models.PickupOrder) error, note *string, commit CommitFunc) (*models.PickupOrder, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()
	cur, ok := m.orders[id]
	if !ok {
		return nil, errs.NewNotFoundError("order", id)
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	m.orders[id] = next
	if next.Status != cur.Status {
		m.appendHistoryLocked(id, next.Status, note)
	}
	out := next.Clone()
	if commit != nil {
		commit(cur.Status, out)
	}
	return out, nil
}

// Orders returns matching orders in insertion order.
func (m *MemoryStore) Orders(match func(*models.PickupOrder) bool) []*models.PickupOrder {
	m.ordersMu.RLock()
	defer m.ordersMu.RUnlock()
	out := make([]*models.PickupOrder, 0)
	for _, id := range m.orderIDs {
		o := m.orders[id]
		if match == nil || match(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (m *MemoryStore) OrderHistory(orderID int64) ([]models.StatusHistory, error) {
	m.ordersMu.RLock()
	defer m.ordersMu.RUnlock()
	if _, ok := m.orders[orderID]; !ok {
		return nil, errs.NewNotFoundError("order", orderID)
	}
	h := m.history[orderID]
	out := make([]models.StatusHistory, len(h))
	copy(out, h)
	return out, nil
}

// appendHistoryLocked requires ordersMu held for writing. Timestamps never
// go backwards within one order even if the clock does.
func (m *MemoryStore) appendHistoryLocked(orderID int64, status models.Status, note *string) {
	ts := m.now()
	h := m.history[orderID]
	if n := len(h); n > 0 && ts.Before(h[n-1].Timestamp) {
		ts = h[n-1].Timestamp
	}
	var notes *string
	if note != nil && *note != "" {
		v := *note
		notes = &v
	}
	m.history[orderID] = append(h, models.StatusHistory{
		ID:        m.historySeq.Add(1),
		OrderID:   orderID,
		Status:    status,
		Timestamp: ts,
		Notes:     notes,
	})
}

// Agent locations

// UpsertLocation mutates the agent's record in place, keeping its id, or
// creates one. updatedAt is refreshed on every call.
func (m *MemoryStore) UpsertLocation(agentID int64, mutate func(*models.AgentLocation)) models.AgentLocation {
	m.locMu.Lock()
	defer m.locMu.Unlock()
	loc, ok := m.locations[agentID]
	if !ok {
		loc = models.AgentLocation{ID: m.locSeq.Add(1)}
	}
	id := loc.ID
	mutate(&loc)
	loc.ID, loc.AgentID = id, agentID
	now := m.now()
	if ok && !now.After(loc.UpdatedAt) {
		now = loc.UpdatedAt.Add(time.Nanosecond)
	}
	loc.UpdatedAt = now
	m.locations[agentID] = loc
	return loc
}

func (m *MemoryStore) GetLocation(agentID int64) (models.AgentLocation, error) {
	m.locMu.RLock()
	defer m.locMu.RUnlock()
	loc, ok := m.locations[agentID]
	if !ok {
		return models.AgentLocation{}, errs.NewNotFoundError("agent location", agentID)
	}
	return loc, nil
}

func (m *MemoryStore) Locations(match func(models.AgentLocation) bool) []models.AgentLocation {
	m.locMu.RLock()
	defer m.locMu.RUnlock()
	out := make([]models.AgentLocation, 0, len(m.locations))
	for _, loc := range m.locations {
		if match == nil || match(loc) {
			out = append(out, loc)
		}
	}
	return out
}
