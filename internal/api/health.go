package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"slices"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth replies "ok" when every dependency answers and "degraded"
// with 503 otherwise, followed by one line per dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	results := s.runChecks(ctx)
	names := make([]string, 0, len(results))
	healthy := true
	for name, err := range results {
		names = append(names, name)
		if err != nil {
			healthy = false
		}
	}
	slices.Sort(names)

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	body := status + "\n"
	for _, name := range names {
		if err := results[name]; err != nil {
			body += name + ": " + err.Error() + "\n"
		} else {
			body += name + ": ok\n"
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write([]byte(body)) //nolint:errcheck // client gone
}

func (s *Server) runChecks(ctx context.Context) map[string]error {
	results := map[string]error{"tinkerforge": nil}
	if !s.sensors.Connected() {
		results["tinkerforge"] = errNotConnected
	}
	for name, c := range s.checks {
		if c == nil {
			continue
		}
		results[name] = c.HealthCheck(ctx)
	}
	return results
}

// SystemInfo is the JSON body of /api/system.
type SystemInfo struct {
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	GoVersion     string            `json:"go_version"`
	Goroutines    int               `json:"goroutines"`
	HeapAllocMB   float64           `json:"heap_alloc_mb"`
	FeedClients   int               `json:"feed_clients"`
	Sockets       int               `json:"sockets"`
	Rules         map[string]bool   `json:"rules"`
	Devices       int               `json:"devices"`
	Checks        map[string]string `json:"checks"`
	DBOpen        int               `json:"db_open_connections,omitempty"`
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := SystemInfo{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(mem.HeapAlloc) / (1 << 20),
		FeedClients:   s.hub.ClientCount(),
		Sockets:       len(s.sockets.List()),
		Rules:         map[string]bool{},
		Devices:       len(s.sensors.Devices()),
		Checks:        map[string]string{},
	}
	for _, st := range s.rules.List() {
		info.Rules[st.ID] = st.Active
	}
	for name, err := range s.runChecks(ctx) {
		info.Checks[name] = "ok"
		if err != nil {
			info.Checks[name] = err.Error()
		}
	}
	if s.db != nil {
		info.DBOpen = s.db.Stats().OpenConnections
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(info) //nolint:errcheck // client gone
}
