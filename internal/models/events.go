package models

import (
	"strconv"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventLocationUpdate    EventType = "locationUpdate"
	EventOrderStatusUpdate EventType = "orderStatusUpdate"
	EventOrderAssigned     EventType = "orderAssigned"
)

// Event is the JSON payload pushed to live observers and sinks. Only the
// fields relevant to Type are set.
type Event struct {
	Type        EventType        `json:"type"`
	OrderID     int64            `json:"orderId,omitempty"`
	AgentID     int64            `json:"agentId,omitempty"`
	Latitude    *decimal.Decimal `json:"latitude,omitempty"`
	Longitude   *decimal.Decimal `json:"longitude,omitempty"`
	IsAvailable *bool            `json:"isAvailable,omitempty"`
	Status      Status           `json:"status,omitempty"`
	Order       *PickupOrder     `json:"order,omitempty"`
}

func LocationUpdate(loc AgentLocation) Event {
	lat, lon, avail := loc.Latitude, loc.Longitude, loc.IsAvailable
	return Event{
		Type:        EventLocationUpdate,
		AgentID:     loc.AgentID,
		Latitude:    &lat,
		Longitude:   &lon,
		IsAvailable: &avail,
	}
}

func OrderStatusUpdate(o *PickupOrder) Event {
	return Event{
		Type:    EventOrderStatusUpdate,
		OrderID: o.ID,
		Status:  o.Status,
		Order:   o.Clone(),
	}
}

func OrderAssigned(orderID, agentID int64) Event {
	return Event{Type: EventOrderAssigned, OrderID: orderID, AgentID: agentID}
}

// Key is the partitioning key used by stream sinks.
func (e Event) Key() string {
	if e.Type == EventLocationUpdate {
		return "agent:" + strconv.FormatInt(e.AgentID, 10)
	}
	return "order:" + strconv.FormatInt(e.OrderID, 10)
}
