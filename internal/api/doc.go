// Package api is the HTTP face of meinHeim Core.
//
// The web UI in website/ is a jQuery page that polls small endpoints and
// drops the returned HTML fragments straight into the DOM, so almost every
// handler here answers text/html with a few words or a list of <li>
// elements rather than JSON. The legacy endpoint names the page uses
// (button_nXN_30_3_on, desk_lamb_rule_status, ...) are kept next to
// tidier /sockets and /rules routes.
//
// Besides the fragments the server exposes /health, Prometheus /metrics,
// a JSON system summary and a WebSocket feed of socket, rule and sensor
// events.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
