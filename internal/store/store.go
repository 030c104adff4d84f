package store

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"device-monitor/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document store the monitor runs against: two collections,
// devices and alerts, with live subscriptions that deliver the full current
// list on every change.
type Store interface {
	SubscribeDevices(ctx context.Context, fn func([]domain.Device)) (Unsubscribe, error)
	// SubscribeAlerts delivers alerts ordered by CreatedAt, newest first.
	SubscribeAlerts(ctx context.Context, fn func([]domain.Alert)) (Unsubscribe, error)

	ListDevices(ctx context.Context) ([]domain.Device, error)
	AddDevice(ctx context.Context, d domain.Device) (string, error)
	UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error
	DeleteDevice(ctx context.Context, id string) error

	AddAlert(ctx context.Context, a domain.Alert) (string, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	DeleteAlert(ctx context.Context, id string) error
	// GetAlerts is a one-shot fetch, newest first.
	GetAlerts(ctx context.Context) ([]domain.Alert, error)
}

// Locator finds devices around a point. Both stores implement it.
type Locator interface {
	DevicesNear(ctx context.Context, lat, lon, radiusMeters float64) ([]string, error)
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// sortAlerts orders alerts by CreatedAt descending. Equal timestamps keep
// their relative order.
func sortAlerts(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
