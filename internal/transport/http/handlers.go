package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"device-monitor/internal/alerts"
	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/store"
)

const maxReadingBytes = 64 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type DeviceService interface {
	Devices() []domain.DeviceView
	Device(id string) (domain.DeviceView, bool)
	AddDevice(ctx context.Context, d domain.Device) (string, error)
	UpdateDevice(ctx context.Context, id string, patch domain.DevicePatch) error
	UpdateThresholds(ctx context.Context, id string, t domain.Thresholds) error
	RemoveDevice(ctx context.Context, id string) error
}

type AlertService interface {
	List(ctx context.Context) ([]domain.Alert, error)
	Acknowledge(ctx context.Context, id string) error
	AcknowledgeAll(ctx context.Context) (int, error)
	ClearAcknowledged(ctx context.Context) (int, error)
}

type PreferenceStore interface {
	AlarmSound() bool
	SetAlarmSound(on bool)
}

// ReadingSink accepts sensor readings for ingestion.
type ReadingSink interface {
	Dispatch(r *domain.Reading)
}

// GrantCache drops cached key grants for a removed device.
type GrantCache interface {
	Forget(deviceID string)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	l        *slog.Logger
	devices  DeviceService
	alerts   AlertService
	prefs    PreferenceStore
	readings ReadingSink
	locator  store.Locator
	hub      *Hub
	grants   GrantCache
	health   map[string]HealthCheck
}

type HandlerDeps struct {
	Devices  DeviceService
	Alerts   AlertService
	Prefs    PreferenceStore
	Readings ReadingSink
	Locator  store.Locator
	Hub      *Hub
	Grants   GrantCache
	Health   map[string]HealthCheck
}

func NewHandler(l *slog.Logger, deps HandlerDeps) *Handler {
	return &Handler{
		l:        l.With(slog.String("component", "http")),
		devices:  deps.Devices,
		alerts:   deps.Alerts,
		prefs:    deps.Prefs,
		readings: deps.Readings,
		locator:  deps.Locator,
		hub:      deps.Hub,
		grants:   deps.Grants,
		health:   deps.Health,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.l.Error("request failed", slog.String("path", r.URL.Path), logging.ErrAttr(err))
	}
	writeError(w, status, err.Error())
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devices.Devices())
}

func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.devices.Device(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type createDeviceRequest struct {
	Name        string              `json:"name"`
	Latitude    float64             `json:"latitude"`
	Longitude   float64             `json:"longitude"`
	Temperature float64             `json:"temperature"`
	Humidity    float64             `json:"humidity"`
	WindSpeed   float64             `json:"windSpeed"`
	GasLevel    float64             `json:"gasLevel"`
	Status      domain.DeviceStatus `json:"status"`
	Thresholds  *domain.Thresholds  `json:"thresholds"`
}

func validStatus(s domain.DeviceStatus) bool {
	return s == domain.StatusOnline || s == domain.StatusOffline
}

func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Status != "" && !validStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "status must be online or offline")
		return
	}

	d := domain.Device{
		Name:        req.Name,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		WindSpeed:   req.WindSpeed,
		GasLevel:    req.GasLevel,
		Status:      req.Status,
	}
	if req.Thresholds != nil {
		d.Thresholds = *req.Thresholds
	}

	id, err := h.devices.AddDevice(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) PatchDevice(w http.ResponseWriter, r *http.Request) {
	var patch domain.DevicePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Status != nil && !validStatus(*patch.Status) {
		writeError(w, http.StatusBadRequest, "status must be online or offline")
		return
	}

	if err := h.devices.UpdateDevice(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PutThresholds(w http.ResponseWriter, r *http.Request) {
	var t domain.Thresholds
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.devices.UpdateThresholds(r.Context(), chi.URLParam(r, "id"), t); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.devices.RemoveDevice(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.grants != nil {
		h.grants.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.New(name + " is required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return f, nil
}

// NearDevices lists device IDs within radius meters of lat/lon, nearest first.
func (h *Handler) NearDevices(w http.ResponseWriter, r *http.Request) {
	var vals [3]float64
	for i, name := range []string{"lat", "lon", "radius"} {
		v, err := queryFloat(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		writeError(w, http.StatusBadRequest, "radius must be positive")
		return
	}

	ids, err := h.locator.DevicesNear(r.Context(), vals[0], vals[1], vals[2])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// PostReading accepts one sensor reading for the {id} device.
func (h *Handler) PostReading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.devices.Device(id); !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReadingBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var reading domain.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reading.Empty() {
		writeError(w, http.StatusBadRequest, "reading carries no values")
		return
	}

	reading.DeviceID = id
	reading.ReceivedAt = time.Now()
	reading.RawPayload = body

	h.readings.Dispatch(&reading)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	unacked, acked := alerts.Partition(list)
	switch r.URL.Query().Get("state") {
	case "":
	case "unacknowledged":
		list = unacked
	case "acknowledged":
		list = acked
	default:
		writeError(w, http.StatusBadRequest, "state must be acknowledged or unacknowledged")
		return
	}

	if list == nil {
		list = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

// RefreshAlerts re-reads the alert list and pushes it to every dashboard.
func (h *Handler) RefreshAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Alert{}
	}
	if h.hub != nil {
		h.hub.BroadcastAlerts(list)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Acknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type countResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) AcknowledgeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.alerts.AcknowledgeAll(r.Context())
	if err != nil {
		h.l.Error("acknowledge all incomplete", slog.Int("acknowledged", n), logging.ErrAttr(err))
		writeJSON(w, http.StatusInternalServerError, countResponse{Count: n, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) ClearAcknowledged(w http.ResponseWriter, r *http.Request) {
	n, err := h.alerts.ClearAcknowledged(r.Context())
	if err != nil {
		h.l.Error("clear acknowledged incomplete", slog.Int("deleted", n), logging.ErrAttr(err))
		writeJSON(w, http.StatusInternalServerError, countResponse{Count: n, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

type preferencesBody struct {
	AlarmSound *bool `json:"alarmSound"`
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	on := h.prefs.AlarmSound()
	writeJSON(w, http.StatusOK, preferencesBody{AlarmSound: &on})
}

func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var body preferencesBody
	if err := decodeJSON(r, &body); err != nil || body.AlarmSound == nil {
		writeError(w, http.StatusBadRequest, "alarmSound is required")
		return
	}

	h.prefs.SetAlarmSound(*body.AlarmSound)
	h.GetPreferences(w, r)
}

// HandleWebSocket upgrades the connection and sends the current device and
// alert lists before streaming updates.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", logging.ErrAttr(err))
		return
	}

	client := NewClient(h.hub, conn)
	h.queueInitial(r.Context(), client)

	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) queueInitial(ctx context.Context, c *Client) {
	if b, err := encode(MessageDevices, h.devices.Devices()); err == nil {
		c.Send <- b
	}

	list, err := h.alerts.List(ctx)
	if err != nil {
		h.l.Warn("initial alert list failed", logging.ErrAttr(err))
		return
	}
	if b, err := encode(MessageAlerts, list); err == nil {
		c.Send <- b
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
