package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by RedisIndex.
type RedisClient interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoRadius(ctx context.Context, key string, longitude, latitude float64, query *redis.GeoRadiusQuery) *redis.GeoLocationCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisIndex mirrors available agents into a Redis GEO set. Unavailable
// agents are removed from the set so radius queries only see agents that
// can take work.
type RedisIndex struct {
	client RedisClient
	key    string
	radius float64
}

func NewRedisIndex(client RedisClient, key string, radiusMeters float64) *RedisIndex {
	if radiusMeters <= 0 {
		radiusMeters = 5000
	}
	return &RedisIndex{client: client, key: key, radius: radiusMeters}
}

// Upsert records an agent position and availability.
func (r *RedisIndex) Upsert(ctx context.Context, agentID int64, lat, lon float64, available bool) error {
	member := strconv.FormatInt(agentID, 10)
	if available {
		if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: lon, Latitude: lat, Name: member}).Err(); err != nil {
			return err
		}
	} else if err := r.client.ZRem(ctx, r.key, member).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(member),
		"available", strconv.FormatBool(available),
		"updated", time.Now().UTC().Format(time.RFC3339),
	).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lon float64, limit int) ([]Point, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: r.radius, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Point{AgentID: id, Lat: g.Latitude, Lon: g.Longitude, Distance: g.Dist})
	}
	return out, nil
}

func metaKey(id string) string { return "agent:meta:" + id }
