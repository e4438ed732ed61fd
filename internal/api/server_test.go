package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/bridges/tinkerforge"
	"github.com/nerrad567/meinheim-core/internal/device"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/logging"
	"github.com/nerrad567/meinheim-core/internal/rules"
	"github.com/nerrad567/meinheim-core/internal/transit"
)

type switchCall struct {
	id     string
	on     bool
	source string
}

type fakeSockets struct {
	mu      sync.Mutex
	sockets []device.Socket
	calls   []switchCall
	fail    error
}

func (f *fakeSockets) Switch(_ context.Context, id string, on bool, source string) (device.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sockets {
		if s.ID == id {
			f.calls = append(f.calls, switchCall{id, on, source})
			return s, f.fail
		}
	}
	return device.Socket{}, device.ErrSocketNotFound
}

func (f *fakeSockets) Lookup(uid string, address uint32, unit uint8) (device.Socket, bool) {
	for _, s := range f.sockets {
		if s.DeviceUID == uid && s.Address == address && s.Unit == unit {
			return s, true
		}
	}
	return device.Socket{}, false
}

func (f *fakeSockets) List() []device.SocketStatus {
	out := make([]device.SocketStatus, 0, len(f.sockets))
	for _, s := range f.sockets {
		out = append(out, device.SocketStatus{Socket: s, State: "unknown"})
	}
	return out
}

type fakeRules struct {
	mu     sync.Mutex
	names  map[string]string
	active map[string]bool
}

func (f *fakeRules) set(id string, on bool) (rules.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	if !ok {
		return rules.Status{}, rules.ErrRuleNotFound
	}
	f.active[id] = on
	return rules.Status{ID: id, Name: name, Active: on}, nil
}

func (f *fakeRules) Start(_ context.Context, id, _ string) (rules.Status, error) { return f.set(id, true) }
func (f *fakeRules) Stop(_ context.Context, id, _ string) (rules.Status, error)  { return f.set(id, false) }

func (f *fakeRules) Status(id string) (rules.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	if !ok {
		return rules.Status{}, rules.ErrRuleNotFound
	}
	return rules.Status{ID: id, Name: name, Active: f.active[id]}, nil
}

func (f *fakeRules) List() []rules.Status {
	return []rules.Status{
		{ID: "watering", Name: f.names["watering"], Active: f.active["watering"]},
		{ID: "desk_lamp", Name: f.names["desk_lamp"], Active: f.active["desk_lamp"]},
	}
}

type fakeSensors struct {
	devices   []tinkerforge.DeviceEntry
	connected bool
}

func (f *fakeSensors) GetIlluminance(_ context.Context, uid string) float64 {
	if uid == "amm" {
		return 123.4
	}
	return tinkerforge.NoValue
}

func (f *fakeSensors) GetDistance(_ context.Context, uid string) float64 {
	if uid == "iTm" {
		return 1499
	}
	return tinkerforge.NoValue
}

func (f *fakeSensors) Devices() []tinkerforge.DeviceEntry { return f.devices }
func (f *fakeSensors) Connected() bool                    { return f.connected }

type fakeTransit struct{ deps []transit.Departure }

func (f fakeTransit) Departures(context.Context) []transit.Departure { return f.deps }

type fakeHistory struct{ entries []audit.Entry }

func (f fakeHistory) Recent(context.Context, audit.Filter) ([]audit.Entry, error) {
	return f.entries, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fixture struct {
	server  *Server
	sockets *fakeSockets
	rules   *fakeRules
	sensors *fakeSensors
	deps    Deps
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		sockets: &fakeSockets{sockets: []device.Socket{
			{ID: "lamp", Label: "Schreibtischlampe", DeviceUID: "nXN", Address: 30, Unit: 3},
			{ID: "pump", Label: "Pumpe", DeviceUID: "nXN", Address: 31, Unit: 1},
		}},
		rules: &fakeRules{
			names:  map[string]string{"watering": "Watering Rule", "desk_lamp": "Desk Lamp Rule"},
			active: map[string]bool{},
		},
		sensors: &fakeSensors{connected: true},
	}
	f.deps = Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0, StaticDir: t.TempDir()},
		Logger:  logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Sockets: f.sockets,
		Rules:   f.rules,
		Sensors: f.sensors,
		Version: "test",
	}
	if mutate != nil {
		mutate(&f.deps)
	}
	srv, err := New(f.deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.server = srv
	return f
}

func (f *fixture) get(t *testing.T, path string) (int, string, http.Header) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String(), rec.Header()
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(empty) error = nil")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New(no services) error = nil")
	}
}

func TestSocketButtons(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		path   string
		status int
		body   string
		call   *switchCall
	}{
		{"/button_nXN_30_3_on", 200, "Aktiviere 30_3", &switchCall{"lamp", true, audit.SourceHTTP}},
		{"/button_nXN_31_1_off", 200, "Deaktiviere 31_1", &switchCall{"pump", false, audit.SourceHTTP}},
		{"/sockets/pump/on", 200, "Aktiviere 31_1", &switchCall{"pump", true, audit.SourceHTTP}},
		{"/button_nXN_99_1_on", 404, "Unbekannte Steckdose nXN", nil},
		{"/sockets/heater/on", 404, "Unbekannte Steckdose heater", nil},
		{"/button_nXN_30_3_toggle", 400, "Ungültiger Zustand", nil},
		{"/button_nXN_x_3_on", 400, "Ungültige Adresse", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f.sockets.calls = nil
			code, body, hdr := f.get(t, tt.path)
			if code != tt.status || body != tt.body {
				t.Errorf("GET %s = %d %q, want %d %q", tt.path, code, body, tt.status, tt.body)
			}
			if ct := hdr.Get("Content-Type"); ct != contentTypeHTML {
				t.Errorf("Content-Type = %q", ct)
			}
			if tt.call == nil {
				if len(f.sockets.calls) != 0 {
					t.Errorf("unexpected switch calls %v", f.sockets.calls)
				}
				return
			}
			if len(f.sockets.calls) != 1 || f.sockets.calls[0] != *tt.call {
				t.Errorf("switch calls = %v, want %v", f.sockets.calls, *tt.call)
			}
		})
	}
}

func TestSocketButton_SwitchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.sockets.fail = errors.New("brickd gone")

	code, body, _ := f.get(t, "/sockets/lamp/off")
	if code != http.StatusBadGateway || !strings.Contains(body, "lamp") {
		t.Errorf("GET = %d %q", code, body)
	}
}

func TestRuleRoutes(t *testing.T) {
	f := newFixture(t, nil)

	steps := []struct {
		path string
		body string
	}{
		{"/watering_rule_status", `<a href='.' onclick='return $.ajax("../watering_rule_on");'>Deaktiv</a>`},
		{"/watering_rule_on", "Watering Rule activated"},
		{"/watering_rule_status", `<a href='.' onclick='return $.ajax("../watering_rule_off");'>Aktiv</a>`},
		{"/watering_rule_off", "Watering Rule deactivated"},
		{"/desk_lamb_rule_on", "Desk Lamp Rule activated"},
		{"/desk_lamb_rule_status", `<a href='.' onclick='return $.ajax("../desk_lamb_rule_off");'>Aktiv</a>`},
		{"/rules/desk_lamp/status", `<a href='.' onclick='return $.ajax("../desk_lamp_rule_off");'>Aktiv</a>`},
		{"/rules/desk_lamp/off", "Desk Lamp Rule deactivated"},
		{"/desk_lamp_rule_status", `<a href='.' onclick='return $.ajax("../desk_lamp_rule_on");'>Deaktiv</a>`},
	}
	for _, st := range steps {
		code, body, _ := f.get(t, st.path)
		if code != http.StatusOK || body != st.body {
			t.Errorf("GET %s = %d %q, want %q", st.path, code, body, st.body)
		}
	}

	if code, _, _ := f.get(t, "/rules/sprinkler/on"); code != http.StatusNotFound {
		t.Errorf("unknown rule status = %d, want 404", code)
	}
}

func TestRuleList(t *testing.T) {
	f := newFixture(t, nil)
	f.rules.active["watering"] = true

	_, body, _ := f.get(t, "/rules")
	want := "<li>Watering Rule: Aktiv</li><li>Desk Lamp Rule: Deaktiv</li>"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestInformation_Devices(t *testing.T) {
	f := newFixture(t, nil)

	if _, body, _ := f.get(t, "/information_connected_devices"); body != "<li>Keine Geräte angeschlossen</li>" {
		t.Errorf("empty body = %q", body)
	}

	f.sensors.devices = []tinkerforge.DeviceEntry{
		{UID: "amm", DeviceIdentifier: tinkerforge.DeviceAmbientLight},
		{UID: "iTm", DeviceIdentifier: tinkerforge.DeviceDistanceUS},
	}
	_, body, _ := f.get(t, "/information_connected_devices")
	want := "<li>amm (" + tinkerforge.DeviceLabel(tinkerforge.DeviceAmbientLight) + ")</li>" +
		"<li>iTm (" + tinkerforge.DeviceLabel(tinkerforge.DeviceDistanceUS) + ")</li>"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestInformation_Sensors(t *testing.T) {
	f := newFixture(t, nil)

	tests := map[string]string{
		"/information_amm_illuminance": "123.4",
		"/information_iTm_distance":    "1499",
		"/information_xyz_illuminance": "-1",
		"/information_xyz_distance":    "-1",
	}
	for path, want := range tests {
		if _, body, _ := f.get(t, path); body != want {
			t.Errorf("GET %s = %q, want %q", path, body, want)
		}
	}
}

func TestInformation_Departures(t *testing.T) {
	f := newFixture(t, nil)
	if _, body, _ := f.get(t, "/information_bvg"); body != "<li>Keine Abfahrtzeiten verfügbar</li>" {
		t.Errorf("without transit = %q", body)
	}

	f = newFixture(t, func(d *Deps) {
		d.Transit = fakeTransit{deps: []transit.Departure{
			{Time: "12:04", Line: "Bus 156", Destination: "S Storkower Str. <Berlin>"},
		}}
	})
	_, body, _ := f.get(t, "/information_bvg")
	want := "<li>Bus 156 -&gt; S Storkower Str. &lt;Berlin&gt; (12:04)</li>"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestInformation_History(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.Local)
	f := newFixture(t, func(d *Deps) {
		d.History = fakeHistory{entries: []audit.Entry{
			{Action: audit.ActionSwitch, EntityType: audit.EntitySocket, EntityID: "pump", Source: audit.SourceRule, CreatedAt: at},
		}}
	})

	_, body, _ := f.get(t, "/information_history")
	want := "<li>01.05. 08:30:00 socket pump: switch (rule)</li>"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
		}
	})

	code, body, _ := f.get(t, "/health")
	if code != http.StatusOK || !strings.HasPrefix(body, "ok\n") {
		t.Errorf("healthy = %d %q", code, body)
	}

	f.sensors.connected = false
	code, body, _ = f.get(t, "/health")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "tinkerforge: not connected") {
		t.Errorf("degraded = %d %q", code, body)
	}
}

func TestSystemInfo(t *testing.T) {
	f := newFixture(t, nil)
	f.rules.active["desk_lamp"] = true

	code, body, _ := f.get(t, "/api/system")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var info SystemInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "test" || info.Sockets != 2 || !info.Rules["desk_lamp"] || info.Checks["tinkerforge"] != "ok" {
		t.Errorf("info = %+v", info)
	}
}

func TestRootRedirectsAndStatic(t *testing.T) {
	f := newFixture(t, nil)

	code, _, hdr := f.get(t, "/")
	if code != http.StatusFound || hdr.Get("Location") != "/static/" {
		t.Errorf("GET / = %d -> %q", code, hdr.Get("Location"))
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	_, _, hdr := f.get(t, "/watering_rule_status")
	if len(hdr.Get("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", hdr.Get("X-Request-ID"))
	}

	_, body, _ := f.get(t, "/metrics")
	if !strings.Contains(body, "meinheim_http_requests_total") {
		t.Error("metrics output misses meinheim_http_requests_total")
	}
}

func TestUnknownPath(t *testing.T) {
	f := newFixture(t, nil)
	if code, body, _ := f.get(t, "/information_weather_forecast"); code != http.StatusNotFound || body != "Unbekannter Befehl" {
		t.Errorf("GET = %d %q", code, body)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newFixture(t, nil)
	h := f.server.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaputt")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.server.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil")
	}
	if err := f.server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + f.server.Addr() + "/watering_rule_on")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck // test
	if string(body) != "Watering Rule activated" {
		t.Errorf("body = %q", body)
	}

	if err := f.server.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := f.server.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // test

	deadline := time.Now().Add(2 * time.Second)
	for f.server.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.server.hub.Broadcast(device.ChannelSockets, map[string]any{"socket": "pump", "state": "on"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != device.ChannelSockets {
		t.Errorf("message = %+v", msg)
	}

	// After subscribing to rules only, socket events are filtered out.
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{rules.ChannelRules}}}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe response = %+v, %v", msg, err)
	}
	f.server.hub.Broadcast(device.ChannelSockets, map[string]any{"socket": "pump"})
	f.server.hub.Broadcast(rules.ChannelRules, map[string]any{"rule": "watering"})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.EventType != rules.ChannelRules {
		t.Errorf("event = %q, want %q", msg.EventType, rules.ChannelRules)
	}
}
