package ksx

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-homenet/internal/property"
)

// MQTT message types exchanged between the homenet core and the KS X 4506
// bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "ksx"

// Command names accepted on the command topic.
const (
	// CommandSet writes the given properties through the device's tasks.
	CommandSet = "set"

	// CommandRefresh asks the device for a fresh status.
	CommandRefresh = "refresh"
)

// CommandMessage is sent from Core to Bridge to change device properties.
// Topic: homenet/command/ksx/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated when
	// empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Address is the device address (e.g. "::0E01"). Filled from the topic
	// when empty.
	Address string `json:"address"`

	// Command is CommandSet (default) or CommandRefresh.
	Command string `json:"command,omitempty"`

	// Properties maps property names to requested values, e.g.
	//   {"0.onoff": true, "ld.cur_dim_level": 5}
	Properties map[string]any `json:"properties,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was handed to the device tasks.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: homenet/ack/ksx/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// Rejected lists property names that could not be staged.
	Rejected []string `json:"rejected,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNotAttached       = "NOT_ATTACHED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the full property set of one device.
// Topic: homenet/state/ksx/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Address   string    `json:"address"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Changed lists the properties that triggered this message.
	Changed []string `json:"changed,omitempty"`

	// State maps every property name to its current value.
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
}

// ErrorMessage reports a device error code.
// Topic: homenet/state/ksx/{address}/error
type ErrorMessage struct {
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
	Code      int       `json:"code"`
	Error     string    `json:"error"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: homenet/health/ksx
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Link           *LinkStatus       `json:"link,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// LinkStatus describes the byte stream to the RS-485 line.
type LinkStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Endpoint is the serial port or websocket URL.
	Endpoint string `json:"endpoint,omitempty"`
}

// BridgeStatistics contains line traffic counters.
type BridgeStatistics struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesSent      uint64 `json:"frames_sent"`
	FramesDeduped   uint64 `json:"frames_deduped"`
	WriteErrors     uint64 `json:"write_errors"`
	BytesSkipped    uint64 `json:"bytes_skipped"`
	PartialsCleared uint64 `json:"partials_cleared"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
	ActionDiscover  = "discover"
)

// RequestMessage is sent from Core to Bridge for request/response
// operations.
// Topic: homenet/request/ksx/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of ActionReadState, ActionReadAll, ActionDiscover.
	Action string `json:"action"`

	// Address is the target device for ActionReadState.
	Address string `json:"address,omitempty"`

	// Parameters for ActionDiscover:
	//   {"timeout_ms": 5000, "addresses": ["::0E01", "::0E02"]}
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: homenet/response/ksx/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// Discovery events.
const (
	DiscoveryStarted  = "started"
	DiscoveryFound    = "found"
	DiscoveryFinished = "finished"
)

// DiscoveryMessage announces scan progress and discovered devices.
// Topic: homenet/discovery/ksx
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Event     string             `json:"event"`
	Devices   []DiscoveredDevice `json:"devices,omitempty"`
}

// DiscoveredDevice represents a device that answered a characteristic
// request during a scan.
type DiscoveredDevice struct {
	Protocol      string         `json:"protocol"`
	Address       string         `json:"address"`
	Kind          string         `json:"kind"`
	Properties    map[string]any `json:"properties,omitempty"`
	SuggestedName string         `json:"suggested_name,omitempty"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage with an RFC3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.NewString()
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Protocol:  Protocol,
		Address:   cmd.Address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage snapshots the properties of dc.
func NewStateMessage(dc *DeviceContext, changed []property.Value) StateMessage {
	all := dc.Properties().All()
	state := make(map[string]any, len(all))
	for _, v := range all {
		state[v.Name()] = v.Raw()
	}
	return StateMessage{
		Address:   dc.Address().String(),
		Kind:      dc.Kind().String(),
		Timestamp: time.Now().UTC(),
		Changed:   property.Names(changed),
		State:     state,
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats NetworkStats, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Statistics: &BridgeStatistics{
			FramesReceived:  stats.FramesRx,
			FramesSent:      stats.FramesTx,
			FramesDeduped:   stats.Suppressed,
			WriteErrors:     stats.WriteErrors,
			BytesSkipped:    stats.Stream.Skipped,
			PartialsCleared: stats.Stream.Cleared,
		},
	}
}

// NewLWTMessage creates the Last Will and Testament published by the
// broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all homenet messages.
const TopicPrefix = "homenet"

// CommandTopic returns the command topic of a device.
// Example: homenet/command/ksx/0E01
func CommandTopic(addr Address) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, TopicAddress(addr))
}

// AckTopic returns the acknowledgment topic of a device.
func AckTopic(addr Address) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, TopicAddress(addr))
}

// StateTopic returns the retained state topic of a device.
func StateTopic(addr Address) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, TopicAddress(addr))
}

// ErrorTopic returns the error topic of a device.
func ErrorTopic(addr Address) string {
	return StateTopic(addr) + "/error"
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// DiscoveryTopic returns the discovery events topic.
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic of one request.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the topic answering one request.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// TopicAddress renders addr as a topic segment: the address without its
// "::" prefix.
func TopicAddress(addr Address) string {
	return strings.TrimPrefix(addr.String(), addressPrefix)
}

// ParseTopicAddress parses a topic segment produced by TopicAddress.
func ParseTopicAddress(segment string) (Address, error) {
	return ParseAddress(addressPrefix + segment)
}
