package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/device"
)

// handleLegacyButton serves /button_{uid}_{address}_{unit}_{state}, the
// form the web page uses. Only configured sockets can be switched.
func (s *Server) handleLegacyButton(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	address, err := strconv.ParseUint(chi.URLParam(r, "address"), 10, 32)
	if err != nil {
		writeFragment(w, http.StatusBadRequest, "Ungültige Adresse")
		return
	}
	unit, err := strconv.ParseUint(chi.URLParam(r, "unit"), 10, 8)
	if err != nil {
		writeFragment(w, http.StatusBadRequest, "Ungültige Einheit")
		return
	}
	on, ok := parseState(chi.URLParam(r, "state"))
	if !ok {
		writeFragment(w, http.StatusBadRequest, "Ungültiger Zustand")
		return
	}

	sock, found := s.sockets.Lookup(uid, uint32(address), uint8(unit))
	if !found {
		writeFragment(w, http.StatusNotFound, "Unbekannte Steckdose "+uid)
		return
	}
	s.switchSocket(w, r, sock.ID, on)
}

func (s *Server) handleSwitchSocket(w http.ResponseWriter, r *http.Request) {
	on, ok := parseState(chi.URLParam(r, "state"))
	if !ok {
		writeFragment(w, http.StatusBadRequest, "Ungültiger Zustand")
		return
	}
	s.switchSocket(w, r, chi.URLParam(r, "id"), on)
}

func (s *Server) switchSocket(w http.ResponseWriter, r *http.Request, id string, on bool) {
	sock, err := s.sockets.Switch(r.Context(), id, on, audit.SourceHTTP)
	switch {
	case errors.Is(err, device.ErrSocketNotFound):
		writeFragment(w, http.StatusNotFound, "Unbekannte Steckdose "+id)
		return
	case err != nil:
		s.logger.Warn("socket switch failed", "socket", id, "on", on, "error", err)
		writeFragment(w, http.StatusBadGateway, "Schalten fehlgeschlagen: "+id)
		return
	}

	verb := "Deaktiviere "
	if on {
		verb = "Aktiviere "
	}
	writeFragment(w, http.StatusOK, verb+sock.Key())
}

// handleListSockets lists the configured sockets and their last known state.
func (s *Server) handleListSockets(w http.ResponseWriter, _ *http.Request) {
	list := s.sockets.List()
	items := make([]string, 0, len(list))
	for _, st := range list {
		items = append(items, st.Label+": "+st.State)
	}
	writeRawFragment(w, http.StatusOK, listItems(items, "Keine Steckdosen konfiguriert"))
}

func parseState(s string) (on, ok bool) {
	switch s {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}
