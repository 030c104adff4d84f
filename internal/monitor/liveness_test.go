package monitor

import (
	"context"
	"slices"
	"testing"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/store"
)

func TestLivenessEvaluator_Transition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewLivenessEvaluator(logging.Discard(), newFakeUpdater(), 5*time.Minute, time.Minute)

	tests := []struct {
		name   string
		status domain.DeviceStatus
		age    time.Duration
		want   domain.DeviceStatus
		change bool
	}{
		{name: "stale online goes offline", status: domain.StatusOnline, age: 6 * time.Minute, want: domain.StatusOffline, change: true},
		{name: "fresh offline comes online", status: domain.StatusOffline, age: 2 * time.Minute, want: domain.StatusOnline, change: true},
		{name: "fresh online stays", status: domain.StatusOnline, age: 2 * time.Minute},
		{name: "stale offline stays", status: domain.StatusOffline, age: 6 * time.Minute},
		{name: "exactly at threshold is fresh", status: domain.StatusOffline, age: 5 * time.Minute, want: domain.StatusOnline, change: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := domain.Device{ID: "d", Status: tt.status, LastUpdated: now.Add(-tt.age)}
			got, ok := e.Transition(d, now)
			if ok != tt.change || got != tt.want {
				t.Errorf("Transition() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.change)
			}
		})
	}
}

func TestLivenessEvaluator_EvaluateContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	updater := newFakeUpdater()
	updater.fail["a"] = true
	e := NewLivenessEvaluator(logging.Discard(), updater, 5*time.Minute, time.Minute)

	devices := []domain.Device{
		{ID: "a", Status: domain.StatusOnline, LastUpdated: now.Add(-time.Hour)},
		{ID: "b", Status: domain.StatusOnline, LastUpdated: now.Add(-time.Hour)},
	}

	if got := e.Evaluate(context.Background(), devices, now); got != 1 {
		t.Errorf("Evaluate() = %d, want 1", got)
	}
	if got := updater.statuses("b"); !slices.Equal(got, []domain.DeviceStatus{domain.StatusOffline}) {
		t.Errorf("b statuses = %v, want [offline]", got)
	}
}

func TestLivenessEvaluator_NoFlapping(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	st := store.NewMemoryStore(store.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	id, _ := st.AddDevice(ctx, domain.Device{Name: "silent", Status: domain.StatusOnline})

	e := NewLivenessEvaluator(logging.Discard(), st, 5*time.Minute, time.Minute)

	clock = start.Add(6 * time.Minute)
	devices, _ := st.ListDevices(ctx)
	if got := e.Evaluate(ctx, devices, clock); got != 1 {
		t.Fatalf("first Evaluate() = %d, want 1", got)
	}

	clock = clock.Add(time.Minute)
	devices, _ = st.ListDevices(ctx)
	if devices[0].ID != id || devices[0].Status != domain.StatusOffline {
		t.Fatalf("device = %+v, want offline", devices[0])
	}
	if got := e.Evaluate(ctx, devices, clock); got != 0 {
		t.Errorf("second Evaluate() = %d, want 0 (status write must not look like fresh data)", got)
	}
}

func TestLivenessEvaluator_RunEvaluatesImmediatelyAndOnTrigger(t *testing.T) {
	t.Parallel()

	updater := newFakeUpdater()
	e := NewLivenessEvaluator(logging.Discard(), updater, 5*time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 8)
	snapshot := func() []domain.Device {
		calls <- struct{}{}
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.Run(ctx, snapshot)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("no immediate evaluation")
	}

	e.Trigger()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger did not evaluate")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
