// Package device keeps the catalogue of remote-controlled sockets and fans
// out everything that happens to them.
//
// A Registry is the single path by which a socket is switched, whether the
// command comes from the web UI, an MQTT command topic or a rule:
//
//	HTTP / MQTT / rules
//	        │
//	        ▼
//	   Registry.Switch ──▶ tinkerforge gateway (switch_socket_b)
//	        │
//	        ├──▶ audit log          (SQLite)
//	        ├──▶ meinheim/state/socket/{id}
//	        ├──▶ socket_switch      (InfluxDB)
//	        └──▶ "socket.state"     (WebSocket)
//
// Telemetry does the same for sensor readings coming out of the gateway.
package device
