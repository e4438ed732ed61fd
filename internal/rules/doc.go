// Package rules runs meinHeim's automation rules.
//
// A Rule is a named background task that calls its logic, sleeps for its
// interval and repeats until stopped. Start and Stop are idempotent and
// serialized; at most one task per rule is alive at any time. A logic
// error or panic ends the task: it is logged and kept as LastError, and
// the rule stays inactive until someone starts it again.
//
// Two rules ship with the controller:
//
//   - Watering switches the watering socket on for a fixed duration at
//     the configured times of day, once per slot and day.
//   - DeskLamp turns the desk lamp on when someone sits at the desk in the
//     dark and off again when they leave or it gets bright. The conditions
//     are govaluate expressions over "distance" and "illuminance".
//
// The Registry owns the rule set. It persists the wanted on/off state of
// each rule in SQLite, writes audit entries and publishes state changes to
// MQTT and the WebSocket hub.
package rules
