package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
)

const (
	TelemetryTopic = "devices/+/telemetry"
	SirenTopic     = "alarms/siren"

	qosAtLeastOnce = 1
)

var ErrBadTopic = errors.New("unexpected telemetry topic")

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// ReadingSink accepts decoded telemetry readings.
type ReadingSink interface {
	Dispatch(r *domain.Reading)
}

// Client subscribes to device telemetry and publishes alarm sirens.
type Client struct {
	l      *slog.Logger
	client pahomqtt.Client
	sink   ReadingSink
	now    func() time.Time
}

func New(l *slog.Logger, opts Options, sink ReadingSink) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	c := &Client{
		l:    l.With(slog.String("component", "mqtt")),
		sink: sink,
		now:  time.Now,
	}

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectTimeout(5 * time.Second)
	clientOpts.SetConnectRetryInterval(5 * time.Second)
	clientOpts.SetMaxReconnectInterval(15 * time.Second)
	clientOpts.SetKeepAlive(30 * time.Second)

	clientOpts.SetOnConnectHandler(c.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.l.Warn("connection lost", logging.ErrAttr(err))
	})

	c.client = pahomqtt.NewClient(clientOpts)

	c.l.Info("MQTT client created", slog.String("broker", opts.BrokerURL), slog.String("clientID", opts.ClientID))
	return c, nil
}

// Connect starts connecting. With connect retry enabled the token completes
// on the first successful connection or when ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.l.Info("MQTT client disconnected")
}

// onConnect subscribes on every (re)connect since subscriptions are not
// kept across clean sessions.
func (c *Client) onConnect(client pahomqtt.Client) {
	c.l.Info("connected to broker")

	token := client.Subscribe(TelemetryTopic, qosAtLeastOnce, c.handleTelemetry)
	token.Wait()
	if err := token.Error(); err != nil {
		c.l.Error("subscribe failed", slog.String("topic", TelemetryTopic), logging.ErrAttr(err))
		return
	}
	c.l.Info("subscribed", slog.String("topic", TelemetryTopic))
}

func (c *Client) handleTelemetry(_ pahomqtt.Client, msg pahomqtt.Message) {
	r, err := ParseTelemetry(msg.Topic(), msg.Payload(), c.now())
	if err != nil {
		c.l.Warn("dropping telemetry", slog.String("topic", msg.Topic()), logging.ErrAttr(err))
		return
	}
	c.sink.Dispatch(r)
}

// DeviceIDFromTopic extracts the device ID from devices/{id}/telemetry.
func DeviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[2] != "telemetry" || parts[1] == "" {
		return "", fmt.Errorf("%w: %s", ErrBadTopic, topic)
	}
	return parts[1], nil
}

// ParseTelemetry decodes a telemetry message into a reading.
func ParseTelemetry(topic string, payload []byte, receivedAt time.Time) (*domain.Reading, error) {
	deviceID, err := DeviceIDFromTopic(topic)
	if err != nil {
		return nil, err
	}

	var r domain.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("invalid telemetry payload: %w", err)
	}
	if r.Empty() {
		return nil, errors.New("telemetry carries no values")
	}

	r.DeviceID = deviceID
	r.ReceivedAt = receivedAt
	r.RawPayload = payload
	return &r, nil
}

// SirenMessage is published on SirenTopic for every audible notification.
type SirenMessage struct {
	AlertID    string           `json:"alertId"`
	DeviceID   string           `json:"deviceId"`
	DeviceName string           `json:"deviceName"`
	Type       domain.AlertType `json:"type"`
	Message    string           `json:"message"`
	At         time.Time        `json:"at"`
}

func NewSirenMessage(a domain.Alert, at time.Time) SirenMessage {
	return SirenMessage{
		AlertID:    a.ID,
		DeviceID:   a.DeviceID,
		DeviceName: a.DeviceName,
		Type:       a.Type,
		Message:    a.Message,
		At:         at,
	}
}

// Sound publishes a siren message for a.
func (c *Client) Sound(ctx context.Context, a domain.Alert) error {
	b, err := json.Marshal(NewSirenMessage(a, c.now()))
	if err != nil {
		return fmt.Errorf("failed to serialize siren: %w", err)
	}

	token := c.client.Publish(SirenTopic, qosAtLeastOnce, false, b)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", SirenTopic, err)
	}
	return nil
}
