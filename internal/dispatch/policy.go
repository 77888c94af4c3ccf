// Package dispatch chooses which available agent, if any, takes a newly
// created order.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/geo"
	"github.com/example/pickup-dispatch/internal/models"
)

const (
	PolicyFirst   = "first"
	PolicyNearest = "nearest"
)

// Policy picks one agent from candidates. ok is false when none fits.
type Policy interface {
	Select(order *models.PickupOrder, candidates []models.AgentLocation) (agentID int64, ok bool)
}

// FirstAvailable takes the first candidate.
type FirstAvailable struct{}

func (FirstAvailable) Select(_ *models.PickupOrder, candidates []models.AgentLocation) (int64, bool) {
	for _, c := range candidates {
		if c.IsAvailable {
			return c.AgentID, true
		}
	}
	return 0, false
}

// Nearest takes the candidate closest to the order's pickup point. Orders
// without coordinates fall back to FirstAvailable.
type Nearest struct{}

func (Nearest) Select(order *models.PickupOrder, candidates []models.AgentLocation) (int64, bool) {
	if order == nil || !order.HasPickupPoint() {
		return FirstAvailable{}.Select(order, candidates)
	}
	avail := make([]models.AgentLocation, 0, len(candidates))
	for _, c := range candidates {
		if c.IsAvailable {
			avail = append(avail, c)
		}
	}
	best := geo.Nearest(agents.Points(avail), order.PickupLatitude.InexactFloat64(), order.PickupLongitude.InexactFloat64(), 1)
	if len(best) == 0 {
		return 0, false
	}
	return best[0].AgentID, true
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyNearest:
		return Nearest{}, nil
	case PolicyFirst:
		return FirstAvailable{}, nil
	}
	return nil, fmt.Errorf("unknown dispatch policy %q", name)
}
