package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout: graylogic/{category}/pdu/{accessory_id}
const (
	// TopicPrefix is the root of every topic the bridge uses.
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment identifying this bridge.
	Protocol = "pdu"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("6f1c...")   // graylogic/state/pdu/6f1c...
//	topics.AllCommands()      // graylogic/command/pdu/+
type Topics struct{}

func (Topics) build(category, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, category, Protocol, id)
}

// Discovery returns the retained topic carrying the full accessory list.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// State returns the retained on/off state topic for one accessory.
func (t Topics) State(accessoryID string) string { return t.build("state", accessoryID) }

// Telemetry returns the electrical readings topic for one accessory.
func (t Topics) Telemetry(accessoryID string) string { return t.build("telemetry", accessoryID) }

// Command returns the topic a host publishes writes to.
func (t Topics) Command(accessoryID string) string { return t.build("command", accessoryID) }

// Ack returns the topic for command acknowledgements.
func (t Topics) Ack(accessoryID string) string { return t.build("ack", accessoryID) }

// Request returns the topic for read requests.
func (t Topics) Request(requestID string) string { return t.build("request", requestID) }

// Response returns the topic for read responses.
func (t Topics) Response(requestID string) string { return t.build("response", requestID) }

// Health returns the retained bridge health topic.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// SystemStatus returns the retained online/offline topic (also the LWT).
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}

// AllCommands matches every accessory's command topic.
func (t Topics) AllCommands() string { return t.build("command", "+") }

// AllRequests matches every read request.
func (t Topics) AllRequests() string { return t.build("request", "+") }

// LastSegment returns the trailing id segment of a bridge topic
// (accessory id or request id). ok is false when the topic is not under
// graylogic/{category}/pdu/.
func LastSegment(topic string) (id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != Protocol || parts[3] == "" {
		return "", false
	}
	return parts[3], true
}
