package directory

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// RedisDirectory reads driver profiles from Redis hashes maintained by the
// driver onboarding pipeline.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(addr, password string) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c}
}

func (r *RedisDirectory) Profile(ctx context.Context, driverID string) (booking.DriverRef, bool) {
	m, err := r.client.HGetAll(ctx, profileKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return booking.DriverRef{}, false
	}
	p := booking.DriverRef{ID: driverID}
	if v, ok := m["name"]; ok {
		p.Name = v
	}
	if v, ok := m["vehicle"]; ok {
		p.Vehicle = v
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Rating = f
		}
	}
	return p, true
}

func (r *RedisDirectory) Close() error { return r.client.Close() }

func profileKey(id string) string { return "driver:profile:" + id }
