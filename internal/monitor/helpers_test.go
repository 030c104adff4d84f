package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"device-monitor/internal/domain"
)

var errStoreDown = errors.New("store unavailable")

func ptr[T any](v T) *T { return &v }

type fakeAlerts struct {
	mu      sync.Mutex
	created []domain.Alert
	fail    func(domain.Alert) bool
}

func (f *fakeAlerts) Create(_ context.Context, a domain.Alert) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil && f.fail(a) {
		return "", errStoreDown
	}
	a.ID = fmt.Sprintf("alert-%d", len(f.created)+1)
	f.created = append(f.created, a)
	return a.ID, nil
}

func (f *fakeAlerts) all() []domain.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Alert(nil), f.created...)
}

func (f *fakeAlerts) ofType(t domain.AlertType) []domain.Alert {
	var out []domain.Alert
	for _, a := range f.all() {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type fakeUpdater struct {
	mu      sync.Mutex
	patches map[string][]domain.DevicePatch
	fail    map[string]bool
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{
		patches: make(map[string][]domain.DevicePatch),
		fail:    make(map[string]bool),
	}
}

func (f *fakeUpdater) UpdateDevice(_ context.Context, id string, patch domain.DevicePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[id] {
		return errStoreDown
	}
	f.patches[id] = append(f.patches[id], patch)
	return nil
}

func (f *fakeUpdater) statuses(id string) []domain.DeviceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.DeviceStatus
	for _, p := range f.patches[id] {
		if p.Status != nil {
			out = append(out, *p.Status)
		}
	}
	return out
}

// inRange is a device whose every metric sits inside DefaultThresholds.
func inRange(id string) domain.Device {
	return domain.Device{
		ID:          id,
		Name:        "device " + id,
		Temperature: 20,
		Humidity:    50,
		WindSpeed:   5,
		GasLevel:    100,
		Status:      domain.StatusOnline,
		LastUpdated: time.Now(),
		Thresholds:  domain.DefaultThresholds,
	}
}
