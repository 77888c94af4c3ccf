// Package seed loads the default rate card and, for local runs, a demo
// customer and two agents parked near HSR Layout, Bangalore.
package seed

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/accounts"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/storage"
)

const demoPassword = "password123"

var DefaultCategories = []models.MaterialCategory{
	{Name: "Newspapers", Description: "Old papers, magazines", RatePerKg: decimal.RequireFromString("12.00"), Icon: "fas fa-newspaper", Color: "orange", IsActive: true},
	{Name: "Iron & Steel", Description: "Metals, equipment", RatePerKg: decimal.RequireFromString("45.00"), Icon: "fas fa-tools", Color: "gray", IsActive: true},
	{Name: "Plastic", Description: "Bottles, containers", RatePerKg: decimal.RequireFromString("8.00"), Icon: "fas fa-wine-bottle", Color: "blue", IsActive: true},
	{Name: "Electronics", Description: "Gadgets, wires", RatePerKg: decimal.RequireFromString("85.00"), Icon: "fas fa-microchip", Color: "yellow", IsActive: true},
}

type demoUser struct {
	in       accounts.RegisterInput
	rating   string
	pickups  int
	lat, lon string
}

var demoUsers = []demoUser{
	{in: accounts.RegisterInput{Username: "customer1", Name: "John Doe", Phone: "+91 9876543210", Address: "123 HSR Layout, Sector 7, Bangalore, Karnataka 560102", Role: models.RoleCustomer}, rating: "4.5", pickups: 18},
	{in: accounts.RegisterInput{Username: "agent1", Name: "Rajesh Kumar", Phone: "+91 9876543211", Address: "Agent Location 1", Role: models.RoleAgent}, rating: "4.8", pickups: 234, lat: "12.9141", lon: "77.6321"},
	{in: accounts.RegisterInput{Username: "agent2", Name: "Amit Singh", Phone: "+91 9876543212", Address: "Agent Location 2", Role: models.RoleAgent}, rating: "4.6", pickups: 189, lat: "12.9200", lon: "77.6400"},
}

// Categories stores the default rate card.
func Categories(store storage.CategoryStore) []models.MaterialCategory {
	out := make([]models.MaterialCategory, 0, len(DefaultCategories))
	for _, c := range DefaultCategories {
		out = append(out, store.CreateCategory(c))
	}
	return out
}

// Demo registers the demo users and places the agents on the map as
// available.
func Demo(acc *accounts.Service, users storage.UserStore, locations storage.LocationStore) error {
	for _, d := range demoUsers {
		in := d.in
		in.Password = demoPassword
		u, err := acc.Register(in)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", in.Username, err)
		}
		_, err = users.UpdateUser(u.ID, func(u *models.User) error {
			u.Rating = decimal.RequireFromString(d.rating)
			u.TotalPickups = d.pickups
			return nil
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", in.Username, err)
		}
		if d.lat == "" {
			continue
		}
		lat, lon := decimal.RequireFromString(d.lat), decimal.RequireFromString(d.lon)
		locations.UpsertLocation(u.ID, func(l *models.AgentLocation) {
			l.Latitude, l.Longitude, l.IsAvailable = lat, lon, true
		})
	}
	return nil
}
