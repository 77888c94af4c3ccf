// Package jobs runs the scheduled background work of the dispatch server.
package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

type OrderLister interface {
	ActiveOrders() []*models.PickupOrder
}

type AgentLister interface {
	AvailableAgents() []models.AgentLocation
}

// Snapshot is what one refresh observed.
type Snapshot struct {
	ActiveOrders    int
	PendingOrders   int
	AvailableAgents int
}

// StatsJob refreshes the active order and available agent gauges on a
// cron schedule.
type StatsJob struct {
	orders   OrderLister
	agents   AgentLister
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewStatsJob(orders OrderLister, agents AgentLister, schedule string, logger *slog.Logger) *StatsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsJob{
		orders:   orders,
		agents:   agents,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "stats_job"),
	}
}

// Start registers the refresh and starts the scheduler. It fails on an
// unparseable schedule.
func (j *StatsJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Refresh() }); err != nil {
		return err
	}
	j.Refresh()
	j.cron.Start()
	j.logger.InfoContext(context.Background(), "stats job started", "schedule", j.schedule)
	return nil
}

// Stop halts scheduling and waits for a running refresh to finish.
func (j *StatsJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.InfoContext(context.Background(), "stats job stopped")
}

func (j *StatsJob) Refresh() Snapshot {
	active := j.orders.ActiveOrders()
	snap := Snapshot{ActiveOrders: len(active), AvailableAgents: len(j.agents.AvailableAgents())}
	for _, o := range active {
		if o.Status == models.StatusPending {
			snap.PendingOrders++
		}
	}
	observability.ActiveOrders.Set(float64(snap.ActiveOrders))
	observability.AgentsAvailable.Set(float64(snap.AvailableAgents))
	if snap.PendingOrders > 0 && snap.AvailableAgents == 0 {
		j.logger.Warn("pending orders waiting without available agents", "pending", snap.PendingOrders)
	}
	return snap
}
