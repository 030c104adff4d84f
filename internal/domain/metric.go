package domain

import "fmt"

// Metric describes one monitored sensor value. The detector walks Metrics
// instead of carrying a hand-written block per sensor.
type Metric struct {
	Type  AlertType
	Label string
	Unit  string

	Value func(d *Device) float64
	Range func(t *Thresholds) Range
}

// Metrics is evaluated in this order on every snapshot.
var Metrics = []Metric{
	{
		Type:  AlertTemperature,
		Label: "Temperature",
		Unit:  "°C",
		Value: func(d *Device) float64 { return d.Temperature },
		Range: func(t *Thresholds) Range { return t.Temperature },
	},
	{
		Type:  AlertHumidity,
		Label: "Humidity",
		Unit:  "%",
		Value: func(d *Device) float64 { return d.Humidity },
		Range: func(t *Thresholds) Range { return t.Humidity },
	},
	{
		Type:  AlertWindSpeed,
		Label: "Wind speed",
		Unit:  " m/s",
		Value: func(d *Device) float64 { return d.WindSpeed },
		Range: func(t *Thresholds) Range { return t.WindSpeed },
	},
	{
		Type:  AlertGasLevel,
		Label: "Gas level",
		Unit:  " ppm",
		Value: func(d *Device) float64 { return d.GasLevel },
		Range: func(t *Thresholds) Range { return t.GasLevel },
	},
}

// MetricByType returns the metric descriptor for t.
func MetricByType(t AlertType) (Metric, bool) {
	for _, m := range Metrics {
		if m.Type == t {
			return m, true
		}
	}
	return Metric{}, false
}

type Breach int

const (
	InRange Breach = iota
	AboveMax
	BelowMin
)

// Evaluate checks value against r. The max bound is tested first, so a
// misconfigured range with Min > Max reports AboveMax when both bounds fail.
func Evaluate(value float64, r Range) Breach {
	if value > r.Max {
		return AboveMax
	}
	if value < r.Min {
		return BelowMin
	}
	return InRange
}

// Bound returns the violated bound for b.
func (b Breach) Bound(r Range) float64 {
	if b == AboveMax {
		return r.Max
	}
	return r.Min
}

// Message renders the human-readable alert text for a breach of m.
func (m Metric) Message(b Breach, r Range) string {
	if b == AboveMax {
		return fmt.Sprintf("%s exceeded maximum threshold of %s%s", m.Label, formatNumber(r.Max), m.Unit)
	}
	return fmt.Sprintf("%s below minimum threshold of %s%s", m.Label, formatNumber(r.Min), m.Unit)
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%g", v)
}

// MetricStatus is the per-metric state shown next to a reading.
type MetricStatus struct {
	Value      float64 `json:"value"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	OutOfRange bool    `json:"outOfRange"`
}

// DeviceView is a device plus its derived per-metric threshold status.
type DeviceView struct {
	Device
	Metrics map[AlertType]MetricStatus `json:"metrics"`
}

// View derives the per-metric status of d.
func View(d Device) DeviceView {
	v := DeviceView{Device: d, Metrics: make(map[AlertType]MetricStatus, len(Metrics))}
	for _, m := range Metrics {
		r := m.Range(&d.Thresholds)
		value := m.Value(&d)
		v.Metrics[m.Type] = MetricStatus{
			Value:      value,
			Min:        r.Min,
			Max:        r.Max,
			OutOfRange: Evaluate(value, r) != InRange,
		}
	}
	return v
}
