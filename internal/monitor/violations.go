package monitor

import (
	"context"
	"errors"
	"sync"

	"device-monitor/internal/domain"
	"device-monitor/internal/store"
)

// ViolationSet tracks which (device, alert type) episodes already have an
// alert. A key is open from the confirmed alert write until the reading
// recovers.
type ViolationSet interface {
	IsOpen(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) error
	Clear(ctx context.Context, key string) error
}

// MemoryViolations is the process-local ViolationSet.
type MemoryViolations struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryViolations() *MemoryViolations {
	return &MemoryViolations{keys: make(map[string]struct{})}
}

func (v *MemoryViolations) IsOpen(_ context.Context, key string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.keys[key]
	return ok, nil
}

func (v *MemoryViolations) Open(_ context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[key] = struct{}{}
	return nil
}

func (v *MemoryViolations) Clear(_ context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, key)
	return nil
}

// Len reports the number of open keys.
func (v *MemoryViolations) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.keys)
}

// RedisViolations shares open keys between monitor instances.
type RedisViolations struct {
	redis *store.RedisStore
}

func NewRedisViolations(r *store.RedisStore) *RedisViolations {
	return &RedisViolations{redis: r}
}

func (v *RedisViolations) IsOpen(ctx context.Context, key string) (bool, error) {
	return v.redis.ViolationOpen(ctx, key)
}

func (v *RedisViolations) Open(ctx context.Context, key string) error {
	return v.redis.OpenViolation(ctx, key)
}

func (v *RedisViolations) Clear(ctx context.Context, key string) error {
	return v.redis.ClearViolation(ctx, key)
}

// clearDevice drops every key belonging to deviceID.
func clearDevice(ctx context.Context, v ViolationSet, deviceID string) error {
	var errs []error
	for _, t := range alertTypes() {
		if err := v.Clear(ctx, domain.ViolationKey(deviceID, t)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func alertTypes() []domain.AlertType {
	types := make([]domain.AlertType, 0, len(domain.Metrics)+1)
	for _, m := range domain.Metrics {
		types = append(types, m.Type)
	}
	return append(types, domain.AlertLocation)
}
