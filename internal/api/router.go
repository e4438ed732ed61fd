package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// legacyRuleNames maps the rule names used by the web page to rule IDs.
// "desk_lamb" is the spelling the page has always used.
var legacyRuleNames = map[string]string{
	"watering":  "watering",
	"desk_lamb": "desk_lamp",
	"desk_lamp": "desk_lamp",
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Website
	staticDir := s.cfg.StaticDir
	if staticDir == "" {
		staticDir = "website"
	}
	r.Handle("/", http.RedirectHandler("/static/", http.StatusFound))
	r.Handle("/static", http.RedirectHandler("/static/", http.StatusMovedPermanently))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// Sockets
	r.Get("/button_{uid}_{address}_{unit}_{state}", s.handleLegacyButton)
	r.Get("/sockets", s.handleListSockets)
	r.Get("/sockets/{id}/{state}", s.handleSwitchSocket)

	// Rules
	for name, id := range legacyRuleNames {
		r.Get("/"+name+"_rule_on", s.ruleAction(id, true))
		r.Get("/"+name+"_rule_off", s.ruleAction(id, false))
		r.Get("/"+name+"_rule_status", s.ruleStatus(id, name))
	}
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Get("/{id}/on", s.handleRuleOn)
		r.Get("/{id}/off", s.handleRuleOff)
		r.Get("/{id}/status", s.handleRuleStatus)
	})

	// Information panels
	r.Get("/information_connected_devices", s.handleConnectedDevices)
	r.Get("/information_{uid}_illuminance", s.handleIlluminance)
	r.Get("/information_{uid}_distance", s.handleDistance)
	r.Get("/information_bvg", s.handleDepartures)
	r.Get("/information_history", s.handleHistory)

	// Operations
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/system", s.handleSystem)
	r.Get("/ws", s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFragment(w, http.StatusNotFound, "Unbekannter Befehl")
	})

	return r
}
