package jobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

type fakeOrders []*models.PickupOrder

func (f fakeOrders) ActiveOrders() []*models.PickupOrder { return f }

type fakeAgents []models.AgentLocation

func (f fakeAgents) AvailableAgents() []models.AgentLocation { return f }

func TestRefreshSetsGauges(t *testing.T) {
	orders := fakeOrders{{ID: 1, Status: models.StatusPending}, {ID: 2, Status: models.StatusAssigned}}
	job := NewStatsJob(orders, fakeAgents{{AgentID: 7, IsAvailable: true}}, "@every 1m", nil)

	snap := job.Refresh()
	assert.Equal(t, Snapshot{ActiveOrders: 2, PendingOrders: 1, AvailableAgents: 1}, snap)
	assert.Equal(t, 2.0, testutil.ToFloat64(observability.ActiveOrders))
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.AgentsAvailable))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	job := NewStatsJob(fakeOrders{}, fakeAgents{}, "every so often", nil)
	assert.Error(t, job.Start())
}

func TestStartAndStop(t *testing.T) {
	job := NewStatsJob(fakeOrders{}, fakeAgents{}, "@every 1h", nil)
	require.NoError(t, job.Start())
	job.Stop()
}
