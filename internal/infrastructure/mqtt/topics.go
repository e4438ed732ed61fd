package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every meinHeim topic.
const TopicPrefix = "meinheim"

// Topics provides builders for meinHeim MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.SocketState("30_3") // meinheim/state/socket/30_3
type Topics struct{}

// SystemStatus is the online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SocketState is where the last commanded state of a socket is published.
func (Topics) SocketState(socketID string) string {
	return fmt.Sprintf("%s/state/socket/%s", TopicPrefix, socketID)
}

// RuleState carries "on"/"off" for a rule, retained.
func (Topics) RuleState(ruleID string) string {
	return fmt.Sprintf("%s/state/rule/%s", TopicPrefix, ruleID)
}

// SensorState carries the latest reading of a sensor bricklet.
func (Topics) SensorState(uid string) string {
	return fmt.Sprintf("%s/state/sensor/%s", TopicPrefix, uid)
}

// SocketCommand accepts "on"/"off" for a socket.
func (Topics) SocketCommand(socketID string) string {
	return fmt.Sprintf("%s/command/socket/%s", TopicPrefix, socketID)
}

// RuleCommand accepts "on"/"off" for a rule.
func (Topics) RuleCommand(ruleID string) string {
	return fmt.Sprintf("%s/command/rule/%s", TopicPrefix, ruleID)
}

// AllSocketCommands matches every socket command.
func (Topics) AllSocketCommands() string {
	return TopicPrefix + "/command/socket/+"
}

// AllRuleCommands matches every rule command.
func (Topics) AllRuleCommands() string {
	return TopicPrefix + "/command/rule/+"
}

// Command kinds.
const (
	KindSocket = "socket"
	KindRule   = "rule"
)

// Command is a parsed on/off command.
type Command struct {
	Kind string // KindSocket or KindRule
	ID   string
	On   bool
}

// ParseCommand decodes a command topic and its payload. The payload is
// "on" or "off", case and surrounding whitespace ignored.
func ParseCommand(topic string, payload []byte) (Command, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[3] == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if parts[2] != KindSocket && parts[2] != KindRule {
		return Command{}, fmt.Errorf("%w: unknown command kind %q", ErrInvalidTopic, parts[2])
	}

	cmd := Command{Kind: parts[2], ID: parts[3]}
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on":
		cmd.On = true
	case "off":
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	return cmd, nil
}
