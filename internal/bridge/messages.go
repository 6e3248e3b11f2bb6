package bridge

import (
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

// MQTT message types exchanged with the home automation core.

// CommandMessage asks the bridge to switch an outlet.
// Topic: graylogic/command/pdu/{accessory_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the accessory identity. The topic segment wins when both
	// are present.
	DeviceID string `json:"device_id,omitempty"`

	// Command is "on", "off" or "cycle". All three power-cycle the outlet.
	Command string `json:"command"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source,omitempty"`
}

// Commands accepted on the command topic.
const (
	CommandOn    = "on"
	CommandOff   = "off"
	CommandCycle = "cycle"
)

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the controller accepted the power cycle.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/pdu/{accessory_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the relay state of one outlet.
// Topic: graylogic/state/pdu/{accessory_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Protocol    string    `json:"protocol"`
	DisplayName string    `json:"display_name"`
	DeviceMAC   string    `json:"device_mac"`
	OutletIndex int       `json:"outlet_index"`
	State       StateBody `json:"state"`
}

// StateBody is the device state object.
type StateBody struct {
	On bool `json:"on"`
}

// TelemetryMessage carries one reading of a metered outlet.
// Topic: graylogic/telemetry/pdu/{accessory_id}
// QoS: 1, Retained: No
type TelemetryMessage struct {
	DeviceID    string          `json:"device_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Protocol    string          `json:"protocol"`
	OutletIndex int             `json:"outlet_index"`
	Telemetry   unifi.Telemetry `json:"telemetry"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
	HealthOffline   HealthStatus = "offline"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/pdu
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Controller    *ControllerStatus `json:"controller,omitempty"`

	// DevicesManaged is the number of exposed outlets.
	DevicesManaged int `json:"devices_managed"`

	// MeteredOutlets is the number of outlets with a running power monitor.
	MeteredOutlets int `json:"metered_outlets"`

	Reason string `json:"reason,omitempty"`
}

// ControllerStatus describes the outcome of the latest discovery pass.
type ControllerStatus struct {
	Status        string     `json:"status"`
	URL           string     `json:"url,omitempty"`
	LastDiscovery *time.Time `json:"last_discovery,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// RequestMessage asks the bridge for data.
// Topic: graylogic/request/pdu/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "read_all" or "discover".
	Action string `json:"action"`

	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
	ActionDiscover  = "discover"
)

// ResponseMessage answers a request.
// Topic: graylogic/response/pdu/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage lists every exposed outlet after a reconcile pass.
// Topic: graylogic/discovery/pdu
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp time.Time             `json:"timestamp"`
	Bridge    string                `json:"bridge"`
	Devices   []DiscoveredAccessory `json:"devices"`
}

// DiscoveredAccessory is one entry of a DiscoveryMessage.
type DiscoveredAccessory struct {
	ID            string   `json:"id"`
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	SuggestedName string   `json:"suggested_name"`
	DeviceMAC     string   `json:"device_mac"`
	DeviceLabel   string   `json:"device_label,omitempty"`
	OutletIndex   int      `json:"outlet_index"`
}

// Protocol is the protocol identifier carried in every message.
const Protocol = "pdu"

// NewAckMessage creates an acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a.
func NewStateMessage(a *accessory.Accessory) StateMessage {
	c := a.Context()
	return StateMessage{
		DeviceID:    a.ID().String(),
		Timestamp:   time.Now().UTC(),
		Protocol:    Protocol,
		DisplayName: a.DisplayName(),
		DeviceMAC:   c.DeviceMAC,
		OutletIndex: c.OutletIndex,
		State:       StateBody{On: a.State().On},
	}
}

// NewTelemetryMessage creates a telemetry message for a reading of a.
func NewTelemetryMessage(a *accessory.Accessory, t unifi.Telemetry, at time.Time) TelemetryMessage {
	return TelemetryMessage{
		DeviceID:    a.ID().String(),
		Timestamp:   at.UTC(),
		Protocol:    Protocol,
		OutletIndex: t.Index,
		Telemetry:   t,
	}
}

// NewDiscoveryMessage lists accessories.
func NewDiscoveryMessage(bridgeID string, accessories []*accessory.Accessory) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   make([]DiscoveredAccessory, 0, len(accessories)),
	}
	for _, a := range accessories {
		c := a.Context()
		caps := []string{"on_off", "power_cycle"}
		if a.Metered() {
			caps = append(caps, "power_metering")
		}
		msg.Devices = append(msg.Devices, DiscoveredAccessory{
			ID:            a.ID().String(),
			Protocol:      Protocol,
			Address:       outletAddress(c.DeviceMAC, c.OutletIndex),
			Type:          "switch",
			Capabilities:  caps,
			SuggestedName: a.DisplayName(),
			DeviceMAC:     c.DeviceMAC,
			DeviceLabel:   c.DeviceLabel,
			OutletIndex:   c.OutletIndex,
		})
	}
	return msg
}

// NewResponse creates a successful response.
func NewResponse(req RequestMessage, data any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// NewResponseError creates a failed response.
func NewResponseError(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// outletAddress is the protocol address of an outlet: "{mac}#{index}".
func outletAddress(mac string, index int) string {
	return mac + "#" + strconv.Itoa(index)
}
