package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"device-monitor/internal/alerts"
	"device-monitor/internal/auth"
	"device-monitor/internal/config"
	"device-monitor/internal/domain"
	"device-monitor/internal/logging"
	"device-monitor/internal/monitor"
	"device-monitor/internal/notify"
	"device-monitor/internal/store"
)

const testKey = "test-key"

type captureSink struct {
	mu       sync.Mutex
	readings []*domain.Reading
}

func (c *captureSink) Dispatch(r *domain.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

type issuedKeys struct {
	mu     sync.Mutex
	owners map[string]string
}

func (k *issuedKeys) issue(apiKey, deviceID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.owners[apiKey] = deviceID
}

func (k *issuedKeys) GetAPIKey(_ context.Context, apiKey string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.owners[apiKey], nil
}

type env struct {
	srv     *httptest.Server
	store   *store.MemoryStore
	mon     *monitor.Monitor
	alerts  *alerts.Manager
	prefs   *notify.Preferences
	sink    *captureSink
	hub     *Hub
	keys    *issuedKeys
	down    atomic.Bool
}

func newEnv(t *testing.T) *env {
	t.Helper()

	l := logging.Discard()
	st := store.NewMemoryStore()
	am := alerts.NewManager(l, st)
	mon := monitor.New(l, st, am, monitor.Options{})
	hub := NewHub(l)
	e := &env{
		store:  st,
		mon:    mon,
		alerts: am,
		prefs:  notify.NewPreferences(true),
		sink:   &captureSink{},
		hub:    hub,
		keys:   &issuedKeys{owners: map[string]string{}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mon.Run(ctx)
	go hub.Run(ctx)
	<-mon.Ready()

	authn := auth.NewAuthenticator(&config.Config{ValidAPIKeys: []string{testKey}, AuthCacheTTLSeconds: 60}, e.keys)
	h := NewHandler(l, HandlerDeps{
		Devices:  mon,
		Alerts:   am,
		Prefs:    e.prefs,
		Readings: e.sink,
		Locator:  st,
		Hub:      hub,
		Grants:   authn,
		Health: map[string]HealthCheck{
			"store": func(context.Context) error {
				if e.down.Load() {
					return errors.New("store down")
				}
				return nil
			},
		},
	})

	e.srv = httptest.NewServer(NewRouter(l, h, NewAuthMiddleware(authn)))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *env) addDevice(t *testing.T, body string) string {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/devices", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/devices status = %d", resp.StatusCode)
	}
	id := decode[map[string]string](t, resp)["id"]

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.mon.Device(id); ok {
			return id
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %s never reached the monitor", id)
	return ""
}

func TestDevices_CreateAndList(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := e.addDevice(t, `{"name":"greenhouse","temperature":60}`)

	resp := e.do(t, http.MethodGet, "/api/devices", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	views := decode[[]domain.DeviceView](t, resp)
	if len(views) != 1 || views[0].ID != id {
		t.Fatalf("devices = %+v", views)
	}
	if views[0].Status != domain.StatusOnline {
		t.Errorf("status = %q, want online", views[0].Status)
	}
	if !views[0].Metrics[domain.AlertTemperature].OutOfRange {
		t.Error("temperature 60 not flagged out of range")
	}
}

func TestDevices_CreateValidation(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing name", body: `{"temperature":1}`},
		{name: "bad status", body: `{"name":"x","status":"sleeping"}`},
		{name: "unknown field", body: `{"name":"x","colour":"red"}`},
		{name: "not json", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/devices", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestDevices_PatchThresholdsDelete(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := e.addDevice(t, `{"name":"mast"}`)
	ctx := context.Background()

	resp := e.do(t, http.MethodPatch, "/api/devices/"+id, `{"name":"mast-2","humidity":70}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PATCH status = %d, want 204", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPut, "/api/devices/"+id+"/thresholds",
		`{"temperature":{"min":0,"max":25},"humidity":{"min":10,"max":60},"windSpeed":{"min":0,"max":20},"gasLevel":{"min":0,"max":500}}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT thresholds status = %d, want 204", resp.StatusCode)
	}

	devices, _ := e.store.ListDevices(ctx)
	if devices[0].Name != "mast-2" || devices[0].Humidity != 70 || devices[0].Thresholds.Humidity.Max != 60 {
		t.Errorf("device = %+v", devices[0])
	}

	resp = e.do(t, http.MethodDelete, "/api/devices/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp = e.do(t, http.MethodDelete, "/api/devices/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPatch, "/api/devices/"+id, `{"status":"offline"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("PATCH missing device status = %d, want 404", resp.StatusCode)
	}
}

func TestDevices_Near(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	near := e.addDevice(t, `{"name":"a","latitude":0.0001}`)
	e.addDevice(t, `{"name":"b","latitude":2}`)

	resp := e.do(t, http.MethodGet, "/api/devices/near?lat=0&lon=0&radius=100", "")
	ids := decode[[]string](t, resp)
	if len(ids) != 1 || ids[0] != near {
		t.Errorf("near = %v, want [%s]", ids, near)
	}

	resp = e.do(t, http.MethodGet, "/api/devices/near?lat=0&lon=0", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing radius status = %d, want 400", resp.StatusCode)
	}
}

func TestReadings_Auth(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	id := e.addDevice(t, `{"name":"sensor"}`)
	path := "/api/devices/" + id + "/readings"
	body := `{"temperature":21.5,"gasLevel":12}`
	other := e.addDevice(t, `{"name":"other"}`)
	e.keys.issue("other-key", other)

	tests := []struct {
		name   string
		path   string
		body   string
		key    string
		status int
	}{
		{name: "missing key", path: path, body: body, status: http.StatusUnauthorized},
		{name: "wrong key", path: path, body: body, key: "nope", status: http.StatusUnauthorized},
		{name: "key for another device", path: path, body: body, key: "other-key", status: http.StatusForbidden},
		{name: "unknown device", path: "/api/devices/ghost/readings", body: body, key: testKey, status: http.StatusNotFound},
		{name: "empty reading", path: path, body: `{}`, key: testKey, status: http.StatusBadRequest},
		{name: "accepted", path: path, body: body, key: testKey, status: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.key != "" {
				headers = []string{"X-API-Key", tt.key}
			}
			resp := e.do(t, http.MethodPost, tt.path, tt.body, headers...)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	e.sink.mu.Lock()
	defer e.sink.mu.Unlock()
	if len(e.sink.readings) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(e.sink.readings))
	}
	r := e.sink.readings[0]
	if r.DeviceID != id || *r.Temperature != 21.5 || r.Humidity != nil || string(r.RawPayload) != body {
		t.Errorf("reading = %+v", r)
	}
}

func TestAlerts_Lifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		id, err := e.alerts.Create(ctx, domain.Alert{
			DeviceID:  "d",
			Type:      domain.AlertGasLevel,
			Message:   "gas",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, id)
	}

	resp := e.do(t, http.MethodPost, "/api/alerts/"+ids[0]+"/acknowledge", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("acknowledge status = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/alerts/missing/acknowledge", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("acknowledge missing status = %d, want 404", resp.StatusCode)
	}

	acked := decode[[]domain.Alert](t, e.do(t, http.MethodGet, "/api/alerts?state=acknowledged", ""))
	if len(acked) != 1 || acked[0].ID != ids[0] {
		t.Errorf("acknowledged = %+v", acked)
	}

	unacked := decode[[]domain.Alert](t, e.do(t, http.MethodGet, "/api/alerts?state=unacknowledged", ""))
	if len(unacked) != 2 || unacked[0].ID != ids[2] {
		t.Errorf("unacknowledged = %+v", unacked)
	}

	resp = e.do(t, http.MethodGet, "/api/alerts?state=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus state status = %d, want 400", resp.StatusCode)
	}

	all := decode[countResponse](t, e.do(t, http.MethodPost, "/api/alerts/acknowledge-all", ""))
	if all.Count != 2 {
		t.Errorf("acknowledge-all count = %d, want 2", all.Count)
	}

	cleared := decode[countResponse](t, e.do(t, http.MethodDelete, "/api/alerts/acknowledged", ""))
	if cleared.Count != 3 {
		t.Errorf("cleared = %d, want 3", cleared.Count)
	}

	left := decode[[]domain.Alert](t, e.do(t, http.MethodPost, "/api/alerts/refresh", ""))
	if len(left) != 0 {
		t.Errorf("alerts after clear = %+v", left)
	}
}

func TestPreferences(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	got := decode[preferencesBody](t, e.do(t, http.MethodGet, "/api/preferences", ""))
	if got.AlarmSound == nil || !*got.AlarmSound {
		t.Errorf("default alarmSound = %v, want true", got.AlarmSound)
	}

	resp := e.do(t, http.MethodPut, "/api/preferences", `{"alarmSound":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	if e.prefs.AlarmSound() {
		t.Error("alarm sound still enabled")
	}

	resp = e.do(t, http.MethodPut, "/api/preferences", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty PUT status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	if resp := e.do(t, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", resp.StatusCode)
	}

	e.down.Store(true)
	if resp := e.do(t, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", resp.StatusCode)
	}

	resp := e.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocket_InitialStateAndBroadcast(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.addDevice(t, `{"name":"ws"}`)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	read := func() message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return m
	}

	if m := read(); m.Type != MessageDevices {
		t.Errorf("first message type = %q, want devices", m.Type)
	}
	if m := read(); m.Type != MessageAlerts {
		t.Errorf("second message type = %q, want alerts", m.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	_ = e.hub.Toast(context.Background(), notify.Notification{Alert: domain.Alert{ID: "a1"}, Sound: true})

	m := read()
	if m.Type != MessageNotification {
		t.Fatalf("message type = %q, want notification", m.Type)
	}
	payload, _ := m.Payload.(map[string]any)
	alert, _ := payload["alert"].(map[string]any)
	if alert["id"] != "a1" || payload["sound"] != true {
		t.Errorf("payload = %+v", m.Payload)
	}
}
