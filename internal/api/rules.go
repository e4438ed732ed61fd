package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meinheim-core/internal/audit"
	"github.com/nerrad567/meinheim-core/internal/rules"
)

// ruleAction returns the handler for a legacy /{name}_rule_on|off route.
func (s *Server) ruleAction(id string, on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setRule(w, r, id, on)
	}
}

// ruleStatus returns the handler for a legacy /{name}_rule_status route.
// The toggle link points back at the same legacy name.
func (s *Server) ruleStatus(id, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.writeRuleStatus(w, id, name)
	}
}

func (s *Server) handleRuleOn(w http.ResponseWriter, r *http.Request) {
	s.setRule(w, r, chi.URLParam(r, "id"), true)
}

func (s *Server) handleRuleOff(w http.ResponseWriter, r *http.Request) {
	s.setRule(w, r, chi.URLParam(r, "id"), false)
}

func (s *Server) handleRuleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.writeRuleStatus(w, id, id)
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	list := s.rules.List()
	items := make([]string, 0, len(list))
	for _, st := range list {
		state := "Deaktiv"
		if st.Active {
			state = "Aktiv"
		}
		items = append(items, st.Name+": "+state)
	}
	writeRawFragment(w, http.StatusOK, listItems(items, "Keine Regeln"))
}

func (s *Server) setRule(w http.ResponseWriter, r *http.Request, id string, on bool) {
	var (
		st  rules.Status
		err error
	)
	if on {
		st, err = s.rules.Start(r.Context(), id, audit.SourceHTTP)
	} else {
		st, err = s.rules.Stop(r.Context(), id, audit.SourceHTTP)
	}
	if err != nil {
		s.writeRuleError(w, id, err)
		return
	}

	suffix := " deactivated"
	if on {
		suffix = " activated"
	}
	writeFragment(w, http.StatusOK, st.Name+suffix)
}

// writeRuleStatus renders the toggle link. An active rule links to its off
// route, an inactive one to its on route.
func (s *Server) writeRuleStatus(w http.ResponseWriter, id, name string) {
	st, err := s.rules.Status(id)
	if err != nil {
		s.writeRuleError(w, id, err)
		return
	}
	writeRawFragment(w, http.StatusOK, ruleToggle(name, st.Active))
}

func (s *Server) writeRuleError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, rules.ErrRuleNotFound) {
		writeFragment(w, http.StatusNotFound, "Unbekannte Regel "+id)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("rule command failed", "rule", id, "error", err)
	writeFragment(w, http.StatusInternalServerError, "Interner Fehler")
}

func ruleToggle(name string, active bool) string {
	if active {
		return `<a href='.' onclick='return $.ajax("../` + name + `_rule_off");'>Aktiv</a>`
	}
	return `<a href='.' onclick='return $.ajax("../` + name + `_rule_on");'>Deaktiv</a>`
}
