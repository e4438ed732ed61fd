// Package mqtt connects meinHeim Core to an MQTT broker.
//
// MQTT is optional. When enabled, the controller publishes what it does
// and accepts the same commands the web UI offers:
//
//	meinheim/system/status            online/offline, retained, also the LWT
//	meinheim/state/socket/{id}        "on"/"off" after every socket command
//	meinheim/state/rule/{id}          "on"/"off", retained
//	meinheim/state/sensor/{uid}       latest illuminance or distance reading
//	meinheim/command/socket/{id}      "on"/"off"
//	meinheim/command/rule/{id}        "on"/"off"
//
// The client wraps paho.mqtt.golang. It reconnects on its own, restores
// subscriptions after a reconnect and recovers panics in handlers.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSocketCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        cmd, err := mqtt.ParseCommand(topic, payload)
//	        ...
//	    })
package mqtt
