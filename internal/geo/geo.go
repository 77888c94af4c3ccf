package geo

import (
	"context"
	"math"
)

// Point is an agent position used for ranking.
type Point struct {
	AgentID  int64   `json:"agentId"`
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
	Distance float64 `json:"distanceMeters"`
}

// Index answers nearest-agent queries.
type Index interface {
	Nearby(ctx context.Context, lat, lon float64, limit int) ([]Point, error)
}

// Nearest returns up to limit points ordered by distance from (lat, lon),
// with Distance filled in. Ties keep input order.
func Nearest(points []Point, lat, lon float64, limit int) []Point {
	arr := make([]Point, len(points))
	for i, p := range points {
		p.Distance = Haversine(lat, lon, p.Lat, p.Lon)
		arr[i] = p
	}
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].Distance < arr[minIdx].Distance {
				minIdx = j
			}
		}
		if minIdx != i {
			p := arr[minIdx]
			copy(arr[i+1:minIdx+1], arr[i:minIdx])
			arr[i] = p
		}
	}
	return arr[:n]
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
