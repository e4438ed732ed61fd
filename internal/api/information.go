package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meinheim-core/internal/audit"
)

const historyLimit = 15

func (s *Server) handleConnectedDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.sensors.Devices()
	items := make([]string, 0, len(devices))
	for _, d := range devices {
		items = append(items, d.UID+" ("+d.Label()+")")
	}
	writeRawFragment(w, http.StatusOK, listItems(items, "Keine Geräte angeschlossen"))
}

// handleIlluminance replies the lux value as a bare number, -1 on failure.
func (s *Server) handleIlluminance(w http.ResponseWriter, r *http.Request) {
	v := s.sensors.GetIlluminance(r.Context(), chi.URLParam(r, "uid"))
	writeFragment(w, http.StatusOK, formatReading(v))
}

// handleDistance replies the distance in millimetres, -1 on failure.
func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	v := s.sensors.GetDistance(r.Context(), chi.URLParam(r, "uid"))
	writeFragment(w, http.StatusOK, formatReading(v))
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	var items []string
	if s.transit != nil {
		for _, d := range s.transit.Departures(r.Context()) {
			items = append(items, d.Line+" -> "+d.Destination+" ("+d.Time+")")
		}
	}
	writeRawFragment(w, http.StatusOK, listItems(items, "Keine Abfahrtzeiten verfügbar"))
}

// handleHistory lists the most recent switch and rule events, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var items []string
	if s.history != nil {
		entries, err := s.history.Recent(r.Context(), audit.Filter{Limit: historyLimit})
		if err != nil {
			s.logger.Warn("failed to read history", "error", err)
		}
		for _, e := range entries {
			items = append(items, formatEntry(e))
		}
	}
	writeRawFragment(w, http.StatusOK, listItems(items, "Keine Einträge"))
}

func formatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatEntry(e audit.Entry) string {
	line := e.CreatedAt.Local().Format("02.01. 15:04:05") + " " + e.EntityType
	if e.EntityID != "" {
		line += " " + e.EntityID
	}
	return line + ": " + e.Action + " (" + e.Source + ")"
}
