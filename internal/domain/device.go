package domain

import "time"

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Thresholds struct {
	Temperature Range `json:"temperature"`
	Humidity    Range `json:"humidity"`
	WindSpeed   Range `json:"windSpeed"`
	GasLevel    Range `json:"gasLevel"`
}

// DefaultThresholds are applied to devices added without explicit thresholds.
var DefaultThresholds = Thresholds{
	Temperature: Range{Min: -10, Max: 50},
	Humidity:    Range{Min: 0, Max: 100},
	WindSpeed:   Range{Min: 0, Max: 30},
	GasLevel:    Range{Min: 0, Max: 1000},
}

type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	GasLevel    float64 `json:"gasLevel"`

	Status      DeviceStatus `json:"status"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Thresholds  Thresholds   `json:"thresholds"`
}

// DevicePatch carries a partial device update. Nil fields are left untouched.
type DevicePatch struct {
	Name        *string       `json:"name,omitempty"`
	Latitude    *float64      `json:"latitude,omitempty"`
	Longitude   *float64      `json:"longitude,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Humidity    *float64      `json:"humidity,omitempty"`
	WindSpeed   *float64      `json:"windSpeed,omitempty"`
	GasLevel    *float64      `json:"gasLevel,omitempty"`
	Status      *DeviceStatus `json:"status,omitempty"`
	Thresholds  *Thresholds   `json:"thresholds,omitempty"`
}

// StatusOnly reports whether the patch changes nothing but the status.
// Stores keep LastUpdated unchanged for such patches so liveness writes
// cannot make a stale device look fresh.
func (p DevicePatch) StatusOnly() bool {
	return p.Status != nil &&
		p.Name == nil &&
		p.Latitude == nil &&
		p.Longitude == nil &&
		p.Temperature == nil &&
		p.Humidity == nil &&
		p.WindSpeed == nil &&
		p.GasLevel == nil &&
		p.Thresholds == nil
}

// Apply copies the set fields of p onto d.
func (p DevicePatch) Apply(d *Device) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Latitude != nil {
		d.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		d.Longitude = *p.Longitude
	}
	if p.Temperature != nil {
		d.Temperature = *p.Temperature
	}
	if p.Humidity != nil {
		d.Humidity = *p.Humidity
	}
	if p.WindSpeed != nil {
		d.WindSpeed = *p.WindSpeed
	}
	if p.GasLevel != nil {
		d.GasLevel = *p.GasLevel
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Thresholds != nil {
		d.Thresholds = *p.Thresholds
	}
}

// StatusPatch builds the status-only patch written by the liveness evaluator.
func StatusPatch(s DeviceStatus) DevicePatch {
	return DevicePatch{Status: &s}
}
