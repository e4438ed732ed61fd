package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meinheim-core/internal/infrastructure/config"
	"github.com/nerrad567/meinheim-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and collects line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
	query string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.query = r.URL.RawQuery
			for _, l := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if l != "" {
					f.lines = append(f.lines, l)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "meinheim-dev-token",
		Org:           "meinheim",
		Bucket:        "sensors",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, url string) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(url))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteSensorReading(t *testing.T) {
	srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	at := time.Unix(1700000000, 0)
	client.WriteSensorReading("amm", "illuminance", 123.4, at)
	client.WriteSensorReading("iTm", "distance", 1499, at)
	client.Flush()

	lines := srv.written()
	want := []string{
		"sensor_reading,kind=illuminance,uid=amm value=123.4 1700000000000000000",
		"sensor_reading,kind=distance,uid=iTm value=1499 1700000000000000000",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if !strings.Contains(srv.query, "bucket=sensors") || !strings.Contains(srv.query, "org=meinheim") {
		t.Errorf("query = %q", srv.query)
	}
}

func TestWriteSocketSwitch(t *testing.T) {
	srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	client.WriteSocketSwitch("30_3", true, false, time.Unix(1700000000, 0))
	client.Flush()

	lines := srv.written()
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "socket_switch,socket=30_3 ") ||
		!strings.Contains(lines[0], "state=1i") || !strings.Contains(lines[0], "ok=false") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	srv := newFakeInflux(t)
	client := connect(t, srv.URL)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v", err)
	}

	// Writes after Close are dropped.
	client.WriteSensorReading("amm", "illuminance", 1, time.Now())
	client.Flush()
	if len(srv.written()) != 0 {
		t.Errorf("written after close = %q", srv.written())
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil error = %v", err)
	}
}
