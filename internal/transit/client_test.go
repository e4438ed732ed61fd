package transit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

type captureLogger struct {
	noopLogger
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func serveFixture(t *testing.T, name string, contentType string) (*httptest.Server, *queryRecorder) {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	seen := &queryRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.set(r.URL.RawQuery)
		w.Header().Set("Content-Type", contentType)
		w.Write(body) //nolint:errcheck // test
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

type queryRecorder struct {
	mu    sync.Mutex
	query string
}

func (u *queryRecorder) set(q string) { u.mu.Lock(); u.query = q; u.mu.Unlock() }
func (u *queryRecorder) get() string  { u.mu.Lock(); defer u.mu.Unlock(); return u.query }

func TestClient_Departures(t *testing.T) {
	srv, seen := serveFixture(t, "departures.html", "text/html; charset=iso-8859-1")
	c := NewClient(Config{Endpoint: srv.URL + "/dox?&boardType=depRT", Station: "Seesener Str. (Berlin)", Limit: 4})

	deps := c.Departures(context.Background())
	require.Len(t, deps, 3)
	assert.Equal(t, "Bus M19", deps[0].Line)
	assert.Equal(t, "boardType=depRT&input=Seesener+Str.+%28Berlin%29&maxJourneys=4&start=suchen", seen.get())
}

func TestClient_StationEncodedAsLatin1(t *testing.T) {
	srv, seen := serveFixture(t, "departures.html", "text/html")
	c := NewClient(Config{Endpoint: srv.URL, Station: "Schloßstraße (Berlin)"})

	require.NotNil(t, c.Departures(context.Background()))
	assert.Contains(t, seen.get(), "input=Schlo%DFstra%DFe+%28Berlin%29")
}

func TestClient_Latin1Body(t *testing.T) {
	page := `<div class="ivu_result_box"><table><tbody><tr><td>8:15</td><td>U9</td><td>Rathaus Steglitz über Walther-Schreiber-Platz</td></tr></tbody></table></div>`
	latin1, err := charmap.ISO8859_1.NewEncoder().String(page)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		w.Write([]byte(latin1)) //nolint:errcheck // test
	}))
	defer srv.Close()

	deps := NewClient(Config{Endpoint: srv.URL, Station: "x"}).Departures(context.Background())
	require.Len(t, deps, 1)
	assert.Equal(t, "Rathaus Steglitz über Walther-Schreiber-Platz", deps[0].Destination)
}

func TestClient_UnknownStationLogsAndReturnsNil(t *testing.T) {
	srv, _ := serveFixture(t, "unknown_station.html", "text/html")
	log := &captureLogger{}
	c := NewClient(Config{Endpoint: srv.URL, Station: "Nirgendwo", Logger: log})

	assert.Nil(t, c.Departures(context.Background()))
	assert.Equal(t, []string{"The station Nirgendwo does not exist."}, log.errors)
}

func TestClient_BadStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "kaputt", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Station: "x", RetryMax: 2, RetryWaitMin: time.Millisecond})

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Equal(t, int32(3), calls.Load())
	assert.Nil(t, c.Departures(context.Background()))
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Station: "x", RetryMax: 3, RetryWaitMin: time.Millisecond})
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := NewClient(Config{Endpoint: endpoint, Station: "x", RetryMax: 0, Timeout: time.Second})
	assert.Nil(t, c.Departures(context.Background()))
}

func TestClient_UnencodableStation(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1", Station: "Łódź"})
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEncoding)
}
