package mqtt

import (
	"errors"
	"testing"
	"time"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
)

func TestDeviceIDFromTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{topic: "devices/abc/telemetry", want: "abc"},
		{topic: "devices//telemetry", wantErr: true},
		{topic: "devices/abc/status", wantErr: true},
		{topic: "sensors/abc/telemetry", wantErr: true},
		{topic: "devices/abc/telemetry/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			t.Parallel()

			got, err := DeviceIDFromTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrBadTopic) {
					t.Errorf("DeviceIDFromTopic() error = %v, want ErrBadTopic", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DeviceIDFromTopic() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestParseTelemetry(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	payload := []byte(`{"temperature":18.5,"latitude":51.5,"longitude":-0.12}`)

	r, err := ParseTelemetry("devices/d1/telemetry", payload, at)
	if err != nil {
		t.Fatalf("ParseTelemetry() error = %v", err)
	}

	if r.DeviceID != "d1" || !r.ReceivedAt.Equal(at) {
		t.Errorf("reading = %+v", r)
	}
	if r.Temperature == nil || *r.Temperature != 18.5 {
		t.Errorf("Temperature = %v, want 18.5", r.Temperature)
	}
	if r.Humidity != nil {
		t.Errorf("Humidity = %v, want nil", *r.Humidity)
	}
	if string(r.RawPayload) != string(payload) {
		t.Errorf("RawPayload = %s", r.RawPayload)
	}
}

func TestParseTelemetry_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{name: "bad topic", topic: "devices/d1", payload: `{"temperature":1}`},
		{name: "bad json", topic: "devices/d1/telemetry", payload: `{`},
		{name: "empty reading", topic: "devices/d1/telemetry", payload: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseTelemetry(tt.topic, []byte(tt.payload), time.Now()); err == nil {
				t.Error("ParseTelemetry() error = nil")
			}
		})
	}
}

func TestNewSirenMessage(t *testing.T) {
	t.Parallel()

	at := time.Now()
	m := NewSirenMessage(domain.Alert{
		ID:         "a1",
		DeviceID:   "d1",
		DeviceName: "tank",
		Type:       domain.AlertGasLevel,
		Message:    "Gas level exceeded maximum threshold of 1000 ppm",
	}, at)

	if m.AlertID != "a1" || m.DeviceName != "tank" || m.Type != domain.AlertGasLevel || !m.At.Equal(at) {
		t.Errorf("siren = %+v", m)
	}
}

func TestNew_RequiresBrokerAndClientID(t *testing.T) {
	t.Parallel()

	if _, err := New(logging.Discard(), Options{ClientID: "x"}, nil); err == nil {
		t.Error("New() without broker error = nil")
	}
	if _, err := New(logging.Discard(), Options{BrokerURL: "tcp://localhost:1883"}, nil); err == nil {
		t.Error("New() without client ID error = nil")
	}
	if _, err := New(logging.Discard(), Options{BrokerURL: "tcp://localhost:1883", ClientID: "x"}, nil); err != nil {
		t.Errorf("New() error = %v", err)
	}
}
