// Package agents tracks live agent positions and availability and
// broadcasts every position change to live observers.
package agents

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/errs"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
	"github.com/example/pickup-dispatch/internal/storage"
)

// Publisher is the live channel the registry announces updates on.
type Publisher interface {
	Publish(ev models.Event)
}

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

// LocationUpdate is an inbound position report. IsAvailable defaults to
// true when omitted.
type LocationUpdate struct {
	AgentID     int64
	Latitude    decimal.Decimal
	Longitude   decimal.Decimal
	IsAvailable *bool
}

// AgentWithLocation joins a location with the agent's profile, when known.
type AgentWithLocation struct {
	models.AgentLocation
	Agent *models.User `json:"agent"`
}

type Registry struct {
	locations storage.LocationStore
	users     storage.UserStore
	pub       Publisher
	index     geo.Index
	logger    *slog.Logger
}

func NewRegistry(locations storage.LocationStore, users storage.UserStore, pub Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{locations: locations, users: users, pub: pub, logger: logger}
}

// WithIndex makes Nearby answer from an external geo index instead of
// scanning the in-memory locations.
func (r *Registry) WithIndex(idx geo.Index) *Registry {
	r.index = idx
	return r
}

// UpsertLocation replaces the agent's coordinates and availability, keeping
// a single record per agent, and broadcasts a locationUpdate.
func (r *Registry) UpsertLocation(ctx context.Context, in LocationUpdate) (models.AgentLocation, error) {
	if in.AgentID <= 0 {
		return models.AgentLocation{}, errs.NewValidationError("agentId", "is required")
	}
	if in.Latitude.Abs().GreaterThan(maxLatitude) {
		return models.AgentLocation{}, errs.NewValidationError("latitude", "must be within [-90, 90]")
	}
	if in.Longitude.Abs().GreaterThan(maxLongitude) {
		return models.AgentLocation{}, errs.NewValidationError("longitude", "must be within [-180, 180]")
	}
	available := true
	if in.IsAvailable != nil {
		available = *in.IsAvailable
	}

	loc := r.locations.UpsertLocation(in.AgentID, func(l *models.AgentLocation) {
		l.Latitude = in.Latitude
		l.Longitude = in.Longitude
		l.IsAvailable = available
	})
	observability.LocationUpdates.Inc()
	r.logger.Debug("agent location updated", "agent_id", loc.AgentID, "available", loc.IsAvailable)

	if r.pub != nil {
		r.pub.Publish(models.LocationUpdate(loc))
	}
	return loc, nil
}

func (r *Registry) GetLocation(agentID int64) (models.AgentLocation, error) {
	return r.locations.GetLocation(agentID)
}

// AvailableAgents returns every location flagged available, by agent id.
func (r *Registry) AvailableAgents() []models.AgentLocation {
	out := r.locations.Locations(func(l models.AgentLocation) bool { return l.IsAvailable })
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// AgentsWithLocations joins available locations with agent profiles.
func (r *Registry) AgentsWithLocations() []AgentWithLocation {
	locs := r.AvailableAgents()
	out := make([]AgentWithLocation, 0, len(locs))
	for _, l := range locs {
		item := AgentWithLocation{AgentLocation: l}
		if r.users != nil {
			if u, err := r.users.GetUser(l.AgentID); err == nil && u.Role == models.RoleAgent {
				item.Agent = &u
			}
		}
		out = append(out, item)
	}
	return out
}

// Nearby ranks available agents by distance from (lat, lon).
func (r *Registry) Nearby(ctx context.Context, lat, lon float64, limit int) ([]geo.Point, error) {
	if r.index != nil {
		return r.index.Nearby(ctx, lat, lon, limit)
	}
	return geo.Nearest(Points(r.AvailableAgents()), lat, lon, limit), nil
}

// Points converts locations to ranking points.
func Points(locs []models.AgentLocation) []geo.Point {
	out := make([]geo.Point, 0, len(locs))
	for _, l := range locs {
		out = append(out, geo.Point{AgentID: l.AgentID, Lat: l.Latitude.InexactFloat64(), Lon: l.Longitude.InexactFloat64()})
	}
	return out
}
