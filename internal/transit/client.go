package transit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"

	"github.com/nerrad567/meinheim-core/internal/metrics"
)

// DefaultEndpoint is the BVG mobile departure board.
const DefaultEndpoint = "http://mobil.bvg.de/Fahrinfo/bin/stboard.bin/dox?&boardType=depRT"

// Logger matches retryablehttp.LeveledLogger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Client.
type Config struct {
	Endpoint     string
	Station      string
	Limit        int
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	Logger       Logger
}

// Client fetches departures for one configured station.
type Client struct {
	endpoint string
	station  string
	limit    int
	http     *retryablehttp.Client
	logger   Logger
}

// NewClient builds a client. Zero values fall back to the BVG endpoint,
// four departures, a 10s timeout and two retries.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
		rc.RetryWaitMax = 4 * cfg.RetryWaitMin
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryablehttp.LeveledLogger(cfg.Logger)

	return &Client{
		endpoint: cfg.Endpoint,
		station:  cfg.Station,
		limit:    cfg.Limit,
		http:     rc,
		logger:   cfg.Logger,
	}
}

// Station returns the configured station name.
func (c *Client) Station() string { return c.station }

// Departures returns the next departures, or nil when none could be
// determined. Failures are logged.
func (c *Client) Departures(ctx context.Context) []Departure {
	deps, err := c.Fetch(ctx)
	switch {
	case err == nil:
		metrics.TransitFetchesTotal.WithLabelValues("ok").Inc()
		return deps
	case errors.Is(err, ErrUnknownStation):
		metrics.TransitFetchesTotal.WithLabelValues("unknown_station").Inc()
		c.logger.Error("The station " + c.station + " does not exist.")
	case errors.Is(err, ErrNoResults):
		metrics.TransitFetchesTotal.WithLabelValues("no_table").Inc()
		c.logger.Warn("no departure table in response", "station", c.station)
	default:
		metrics.TransitFetchesTotal.WithLabelValues("error").Inc()
		c.logger.Error("departure lookup failed", "station", c.station, "error", err)
	}
	return nil
}

// Fetch is Departures with the error returned instead of logged.
func (c *Client) Fetch(ctx context.Context) ([]Departure, error) {
	u, err := c.requestURL()
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET departures: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // draining for reuse
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	return Parse(body, c.station)
}

// requestURL appends the query the board expects. The station name goes
// out ISO-8859-1 encoded.
func (c *Client) requestURL() (string, error) {
	station, err := charmap.ISO8859_1.NewEncoder().String(c.station)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrEncoding, c.station)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", c.endpoint, err)
	}
	q := u.Query()
	q.Set("input", station)
	q.Set("maxJourneys", fmt.Sprint(c.limit))
	q.Set("start", "suchen")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
