package domain

import "time"

type AlertType string

const (
	AlertTemperature AlertType = "temperature"
	AlertHumidity    AlertType = "humidity"
	AlertWindSpeed   AlertType = "windSpeed"
	AlertGasLevel    AlertType = "gasLevel"
	AlertLocation    AlertType = "location"
)

type Alert struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	Type       AlertType `json:"type"`

	// Value is the offending reading, or the distance moved for location alerts.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`

	CreatedAt      time.Time  `json:"createdAt"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// ViolationKey identifies an open violation episode for one device and alert type.
func ViolationKey(deviceID string, t AlertType) string {
	return deviceID + "-" + string(t)
}
