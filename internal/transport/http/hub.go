package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/notify"
)

const (
	MessageDevices      = "devices"
	MessageAlerts       = "alerts"
	MessageNotification = "notification"
)

type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub keeps the connected websocket clients and broadcasts to them.
type Hub struct {
	l          *slog.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(l *slog.Logger) *Hub {
	return &Hub{
		l:          l.With(slog.String("component", "ws-hub")),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.l.Info("websocket client registered", slog.String("remote", client.remote()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.l.Info("websocket client unregistered", slog.String("remote", client.remote()))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- msg:
				default:
					h.l.Warn("websocket client too slow, removing", slog.String("remote", client.remote()))
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(msgType string, payload any) ([]byte, error) {
	return json.Marshal(message{Type: msgType, Payload: payload})
}

// ErrQueueFull is returned when a broadcast cannot be queued.
var ErrQueueFull = errors.New("broadcast queue full")

// Broadcast queues a typed message for every client. It drops the message
// and returns ErrQueueFull when the queue is full.
func (h *Hub) Broadcast(msgType string, payload any) error {
	b, err := encode(msgType, payload)
	if err != nil {
		h.l.Error("failed to encode broadcast", slog.String("type", msgType), logging.ErrAttr(err))
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}

	select {
	case h.broadcast <- b:
		return nil
	default:
		h.l.Warn("broadcast queue full, dropping message", slog.String("type", msgType))
		return ErrQueueFull
	}
}

// BroadcastDevices sends the device list with per-metric status. A dropped
// list is superseded by the next one.
func (h *Hub) BroadcastDevices(devices []domain.Device) {
	views := make([]domain.DeviceView, len(devices))
	for i, d := range devices {
		views[i] = domain.View(d)
	}
	_ = h.Broadcast(MessageDevices, views)
}

func (h *Hub) BroadcastAlerts(alerts []domain.Alert) {
	_ = h.Broadcast(MessageAlerts, alerts)
}

// Toast shows a notification on every connected dashboard.
func (h *Hub) Toast(_ context.Context, n notify.Notification) error {
	if err := h.Broadcast(MessageNotification, n); err != nil {
		return fmt.Errorf("toast for alert %s: %w", n.Alert.ID, err)
	}
	return nil
}
