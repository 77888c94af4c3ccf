package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	Role         Role            `json:"userType"`
	IsActive     bool            `json:"isActive"`
	Rating       decimal.Decimal `json:"rating"`
	TotalPickups int             `json:"totalPickups"`
}

// MaterialCategory is a rate-card entry.
type MaterialCategory struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	RatePerKg   decimal.Decimal `json:"ratePerKg"`
	Icon        string          `json:"icon"`
	Color       string          `json:"color"`
	IsActive    bool            `json:"isActive"`
}

// MaterialLine snapshots the category rate at booking time.
type MaterialLine struct {
	CategoryID int64           `json:"categoryId"`
	Weight     decimal.Decimal `json:"weight"`
	Rate       decimal.Decimal `json:"rate"`
}

type PickupOrder struct {
	ID               int64            `json:"id"`
	CustomerID       int64            `json:"customerId"`
	AgentID          *int64           `json:"agentId"`
	Status           Status           `json:"status"`
	PickupAddress    string           `json:"pickupAddress"`
	PickupLatitude   *decimal.Decimal `json:"pickupLatitude,omitempty"`
	PickupLongitude  *decimal.Decimal `json:"pickupLongitude,omitempty"`
	EstimatedWeight  decimal.Decimal  `json:"estimatedWeight"`
	ActualWeight     *decimal.Decimal `json:"actualWeight"`
	EstimatedEarning decimal.Decimal  `json:"estimatedEarning"`
	ActualEarning    *decimal.Decimal `json:"actualEarning"`
	Materials        []MaterialLine   `json:"materials"`
	PreferredTime    string           `json:"preferredTime"`
	Notes            *string          `json:"notes"`
	CreatedAt        time.Time        `json:"createdAt"`
	CompletedAt      *time.Time       `json:"completedAt"`
}

// HasPickupPoint reports whether the order carries coordinates.
func (o *PickupOrder) HasPickupPoint() bool {
	return o.PickupLatitude != nil && o.PickupLongitude != nil
}

// Clone returns a deep copy so stored orders never alias caller memory.
func (o *PickupOrder) Clone() *PickupOrder {
	if o == nil {
		return nil
	}
	c := *o
	c.AgentID = clonePtr(o.AgentID)
	c.PickupLatitude = clonePtr(o.PickupLatitude)
	c.PickupLongitude = clonePtr(o.PickupLongitude)
	c.ActualWeight = clonePtr(o.ActualWeight)
	c.ActualEarning = clonePtr(o.ActualEarning)
	c.Notes = clonePtr(o.Notes)
	c.CompletedAt = clonePtr(o.CompletedAt)
	if o.Materials != nil {
		c.Materials = make([]MaterialLine, len(o.Materials))
		copy(c.Materials, o.Materials)
	}
	return &c
}

type AgentLocation struct {
	ID          int64           `json:"id"`
	AgentID     int64           `json:"agentId"`
	Latitude    decimal.Decimal `json:"latitude"`
	Longitude   decimal.Decimal `json:"longitude"`
	IsAvailable bool            `json:"isAvailable"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// StatusHistory is an append-only record of a past order status.
type StatusHistory struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"orderId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     *string   `json:"notes"`
}

// DashboardStats is computed on demand from a customer's completed orders.
type DashboardStats struct {
	TotalEarnings decimal.Decimal `json:"totalEarnings"`
	TotalPickups  int             `json:"totalPickups"`
	TotalWeight   decimal.Decimal `json:"totalWeight"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
