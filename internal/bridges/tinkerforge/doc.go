// Package tinkerforge talks to Tinkerforge bricks and bricklets through
// the brick daemon (brickd) using the TFP binary protocol over TCP.
//
// The package has two layers:
//
//   - Client owns the TCP connection. It frames packets, matches responses
//     to requests by (UID, function ID, sequence number), hands callbacks to
//     a small worker pool and reconnects with exponential backoff.
//   - Gateway is what the rest of meinHeim uses. It switches remote
//     sockets, reads the ambient light and distance bricklets and keeps the
//     map of enumerated devices.
//
// Sensor reads never fail loudly: a read that cannot be completed logs
// "<uid> not connected" once and yields the sentinel -1, which the desk
// lamp rule and the information fragments treat as "no value".
//
// Usage:
//
//	client, err := tinkerforge.Connect(ctx, tinkerforge.ClientConfig{Address: "localhost:4223"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	gw := tinkerforge.NewGateway(client, tinkerforge.GatewayConfig{Serialize: true})
//	gw.SetLogger(log)
//	_ = gw.Enumerate(ctx)
//
//	lux := gw.GetIlluminance(ctx, "amm")
package tinkerforge
