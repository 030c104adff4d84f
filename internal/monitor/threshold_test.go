package monitor

import (
	"context"
	"strings"
	"testing"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
)

func TestThresholdDetector_OneAlertPerEpisode(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlerts{}
	det := NewThresholdDetector(logging.Discard(), alerts, NewMemoryViolations())
	ctx := context.Background()

	hot := inRange("d1")
	hot.Temperature = 80

	for range 5 {
		det.Check(ctx, []domain.Device{hot})
	}

	if got := len(alerts.ofType(domain.AlertTemperature)); got != 1 {
		t.Fatalf("alerts after 5 breaching snapshots = %d, want 1", got)
	}

	det.Check(ctx, []domain.Device{inRange("d1")})
	det.Check(ctx, []domain.Device{hot})

	if got := len(alerts.ofType(domain.AlertTemperature)); got != 2 {
		t.Errorf("alerts after recovery and re-breach = %d, want 2", got)
	}
}

func TestThresholdDetector_AlertContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(d *domain.Device)
		typ       domain.AlertType
		value     float64
		threshold float64
		message   string
	}{
		{
			name: "temperature above max",
			mutate: func(d *domain.Device) {
				d.Thresholds.Temperature.Max = 30
				d.Temperature = 35
			},
			typ:       domain.AlertTemperature,
			value:     35,
			threshold: 30,
			message:   "Temperature exceeded maximum threshold of 30°C",
		},
		{
			name: "humidity below min",
			mutate: func(d *domain.Device) {
				d.Thresholds.Humidity.Min = 20
				d.Humidity = 10
			},
			typ:       domain.AlertHumidity,
			value:     10,
			threshold: 20,
			message:   "Humidity below minimum threshold of 20%",
		},
		{
			name:      "wind speed above max",
			mutate:    func(d *domain.Device) { d.WindSpeed = 42.5 },
			typ:       domain.AlertWindSpeed,
			value:     42.5,
			threshold: 30,
			message:   "Wind speed exceeded maximum threshold of 30 m/s",
		},
		{
			name:      "gas level above max",
			mutate:    func(d *domain.Device) { d.GasLevel = 1500 },
			typ:       domain.AlertGasLevel,
			value:     1500,
			threshold: 1000,
			message:   "Gas level exceeded maximum threshold of 1000 ppm",
		},
		{
			name: "inverted range reports max",
			mutate: func(d *domain.Device) {
				d.Thresholds.Temperature = domain.Range{Min: 40, Max: 10}
				d.Temperature = 25
			},
			typ:       domain.AlertTemperature,
			value:     25,
			threshold: 10,
			message:   "exceeded maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			alerts := &fakeAlerts{}
			det := NewThresholdDetector(logging.Discard(), alerts, NewMemoryViolations())

			d := inRange("dev")
			tt.mutate(&d)
			det.Check(context.Background(), []domain.Device{d})

			got := alerts.all()
			if len(got) != 1 {
				t.Fatalf("created %d alerts, want 1: %+v", len(got), got)
			}

			a := got[0]
			if a.Type != tt.typ {
				t.Errorf("Type = %q, want %q", a.Type, tt.typ)
			}
			if a.Value != tt.value {
				t.Errorf("Value = %v, want %v", a.Value, tt.value)
			}
			if a.Threshold != tt.threshold {
				t.Errorf("Threshold = %v, want %v", a.Threshold, tt.threshold)
			}
			if !strings.Contains(a.Message, tt.message) {
				t.Errorf("Message = %q, want it to contain %q", a.Message, tt.message)
			}
			if a.DeviceID != "dev" || a.DeviceName != "device dev" {
				t.Errorf("device = %q/%q, want dev/device dev", a.DeviceID, a.DeviceName)
			}
			if a.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}
		})
	}
}

func TestThresholdDetector_FailedWriteRetriedNextSnapshot(t *testing.T) {
	t.Parallel()

	failing := true
	alerts := &fakeAlerts{fail: func(domain.Alert) bool { return failing }}
	violations := NewMemoryViolations()
	det := NewThresholdDetector(logging.Discard(), alerts, violations)
	ctx := context.Background()

	hot := inRange("d1")
	hot.Temperature = 99

	det.Check(ctx, []domain.Device{hot})
	if violations.Len() != 0 {
		t.Fatalf("violation opened after failed write")
	}

	failing = false
	det.Check(ctx, []domain.Device{hot})

	if got := len(alerts.all()); got != 1 {
		t.Errorf("alerts after retry = %d, want 1", got)
	}
}

func TestThresholdDetector_FailureDoesNotBlockBatch(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlerts{fail: func(a domain.Alert) bool { return a.DeviceID == "bad" }}
	det := NewThresholdDetector(logging.Discard(), alerts, NewMemoryViolations())

	bad := inRange("bad")
	bad.Temperature = 99
	good := inRange("good")
	good.Temperature = 99
	good.GasLevel = 5000

	det.Check(context.Background(), []domain.Device{bad, good})

	got := alerts.all()
	if len(got) != 2 {
		t.Fatalf("created %d alerts, want 2", len(got))
	}
	if got[0].Type != domain.AlertTemperature || got[1].Type != domain.AlertGasLevel {
		t.Errorf("alert order = %s, %s; want temperature, gasLevel", got[0].Type, got[1].Type)
	}
}

func TestThresholdDetector_MetricsTrackedIndependently(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlerts{}
	det := NewThresholdDetector(logging.Discard(), alerts, NewMemoryViolations())
	ctx := context.Background()

	d := inRange("d1")
	d.Temperature = 99
	det.Check(ctx, []domain.Device{d})

	d.Humidity = 120
	det.Check(ctx, []domain.Device{d})

	if got := len(alerts.ofType(domain.AlertTemperature)); got != 1 {
		t.Errorf("temperature alerts = %d, want 1", got)
	}
	if got := len(alerts.ofType(domain.AlertHumidity)); got != 1 {
		t.Errorf("humidity alerts = %d, want 1", got)
	}
}
