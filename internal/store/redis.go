package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"device-monitor/internal/config"
	"device-monitor/internal/domain"
)

const (
	changesChannel = "monitor:changes"
	devicesGeoKey  = "devices:geo"

	CollectionDevices = "devices"
	CollectionAlerts  = "alerts"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// PublishChange tells every subscriber that collection changed.
func (r *RedisStore) PublishChange(ctx context.Context, collection string) error {
	return r.client.Publish(ctx, changesChannel, collection).Err()
}

// SubscribeChanges returns a pub/sub handle on the change channel. The
// caller owns it and must Close it.
func (r *RedisStore) SubscribeChanges(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, changesChannel)
}

// SetDevicePosition mirrors a device position into the GEO set so nearby
// devices can be queried without touching the database.
func (r *RedisStore) SetDevicePosition(ctx context.Context, d domain.Device) error {
	return r.client.GeoAdd(ctx, devicesGeoKey, &redis.GeoLocation{
		Name:      d.ID,
		Longitude: d.Longitude,
		Latitude:  d.Latitude,
	}).Err()
}

func (r *RedisStore) RemoveDevicePosition(ctx context.Context, deviceID string) error {
	return r.client.ZRem(ctx, devicesGeoKey, deviceID).Err()
}

// DevicesNear returns the IDs of devices within radiusMeters of a point.
func (r *RedisStore) DevicesNear(ctx context.Context, lat, lon, radiusMeters float64) ([]string, error) {
	locs, err := r.client.GeoSearch(ctx, devicesGeoKey, &redis.GeoSearchQuery{
		Longitude:  lon,
		Latitude:   lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search failed: %w", err)
	}
	return locs, nil
}

// GetAPIKey resolves a device API key to the device it belongs to.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func violationKey(key string) string {
	return "violation:" + key
}

// ViolationOpen, OpenViolation and ClearViolation back a violation set
// shared by every monitor instance. Keys carry no TTL: an episode stays
// open until an in-range reading clears it.
func (r *RedisStore) ViolationOpen(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, violationKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("violation check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) OpenViolation(ctx context.Context, key string) error {
	return r.client.Set(ctx, violationKey(key), "1", 0).Err()
}

func (r *RedisStore) ClearViolation(ctx context.Context, key string) error {
	return r.client.Del(ctx, violationKey(key)).Err()
}
