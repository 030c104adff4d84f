package domain

import "time"

// Reading is one sensor report from a device. Nil fields were not reported.
type Reading struct {
	DeviceID   string    `json:"-"`
	ReceivedAt time.Time `json:"-"`

	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	WindSpeed   *float64 `json:"windSpeed,omitempty"`
	GasLevel    *float64 `json:"gasLevel,omitempty"`

	RawPayload []byte `json:"-"`
}

// Patch converts the reading into a device update.
func (r *Reading) Patch() DevicePatch {
	return DevicePatch{
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		WindSpeed:   r.WindSpeed,
		GasLevel:    r.GasLevel,
	}
}

// Empty reports whether the reading carries no values.
func (r *Reading) Empty() bool {
	return r.Latitude == nil && r.Longitude == nil &&
		r.Temperature == nil && r.Humidity == nil &&
		r.WindSpeed == nil && r.GasLevel == nil
}
