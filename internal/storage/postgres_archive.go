package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresArchive mirrors live events into Postgres for reporting. It is a
// write-behind copy; the memory store stays authoritative.
type PostgresArchive struct {
	db     execer
	now    func() time.Time
	lookup func(id int64) (*models.PickupOrder, error)
}

func NewPostgresArchive(dsn string) (*PostgresArchive, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return &PostgresArchive{db: db, now: time.Now}, db, nil
}

const upsertOrderSQL = `INSERT INTO pickup_order_archive(id, customer_id, agent_id, status, pickup_address, estimated_weight, actual_weight, estimated_earning, actual_earning, materials, preferred_time, notes, created_at, completed_at, archived_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET agent_id=EXCLUDED.agent_id, status=EXCLUDED.status, actual_weight=EXCLUDED.actual_weight, actual_earning=EXCLUDED.actual_earning, completed_at=EXCLUDED.completed_at, archived_at=EXCLUDED.archived_at`

const insertOrderSQL = `INSERT INTO pickup_order_archive(id, customer_id, agent_id, status, pickup_address, estimated_weight, actual_weight, estimated_earning, actual_earning, materials, preferred_time, notes, created_at, completed_at, archived_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING`

const assignOrderSQL = `UPDATE pickup_order_archive SET agent_id=$1, archived_at=$2 WHERE id=$3`

const insertLocationSQL = `INSERT INTO agent_location_log(agent_id, latitude, longitude, is_available, recorded_at) VALUES($1,$2,$3,$4,$5)`

// WithOrderLookup lets the archive store the full order on assignment.
// Without it an assignment only updates a row that already exists.
func (p *PostgresArchive) WithOrderLookup(fn func(id int64) (*models.PickupOrder, error)) *PostgresArchive {
	p.lookup = fn
	return p
}

func (p *PostgresArchive) Name() string { return "postgres" }

func (p *PostgresArchive) Write(ctx context.Context, ev models.Event) error { return p.Archive(ctx, ev) }

// Archive writes one event.
func (p *PostgresArchive) Archive(ctx context.Context, ev models.Event) error {
	switch ev.Type {
	case models.EventOrderStatusUpdate:
		if ev.Order == nil {
			return nil
		}
		return p.saveOrder(ctx, upsertOrderSQL, ev.Order)
	case models.EventOrderAssigned:
		if p.lookup != nil {
			o, err := p.lookup(ev.OrderID)
			if err != nil {
				return fmt.Errorf("archive order %d: %w", ev.OrderID, err)
			}
			return p.saveOrder(ctx, upsertOrderSQL, o)
		}
		_, err := p.db.ExecContext(ctx, assignOrderSQL, ev.AgentID, p.now(), ev.OrderID)
		return err
	case models.EventLocationUpdate:
		if ev.Latitude == nil || ev.Longitude == nil {
			return nil
		}
		avail := ev.IsAvailable == nil || *ev.IsAvailable
		_, err := p.db.ExecContext(ctx, insertLocationSQL, ev.AgentID, ev.Latitude.String(), ev.Longitude.String(), avail, p.now())
		return err
	}
	return nil
}

// ArchiveCreated writes the row for a new order. Orders that never change
// status publish no event, so this is their only archive write. A row that
// an event already wrote is left alone.
func (p *PostgresArchive) ArchiveCreated(ctx context.Context, o *models.PickupOrder) error {
	return p.saveOrder(ctx, insertOrderSQL, o)
}

func (p *PostgresArchive) saveOrder(ctx context.Context, query string, o *models.PickupOrder) error {
	materials, err := json.Marshal(o.Materials)
	if err != nil {
		return fmt.Errorf("marshal materials: %w", err)
	}
	_, err = p.db.ExecContext(ctx, query,
		o.ID, o.CustomerID, nullInt(o.AgentID), string(o.Status), o.PickupAddress,
		o.EstimatedWeight.String(), nullDecimal(o.ActualWeight),
		o.EstimatedEarning.String(), nullDecimal(o.ActualEarning),
		string(materials), o.PreferredTime, nullString(o.Notes),
		o.CreatedAt, nullTime(o.CompletedAt), p.now())
	return err
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullDecimal(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}
