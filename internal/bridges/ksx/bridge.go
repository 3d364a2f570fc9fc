package ksx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/discovery"
	"github.com/nerrad567/gray-logic-homenet/internal/property"
)

// Bridge operation constants.
const (
	// minTopicParts is the number of parts in a command or request topic.
	minTopicParts = 4

	// defaultDiscoveryTimeout bounds a discover request without timeout_ms.
	defaultDiscoveryTimeout = 10 * time.Second
)

// Bridge translates between a ksx Network and MQTT:
//   - Commands from Core are coerced to property values and run through
//     the device's property tasks
//   - Committed property changes are published as retained state
//   - Discovery scans are published as events
//   - Health is reported periodically
//
// Thread Safety: Start, Stop and SetLogger are safe for concurrent use.
// MQTT handlers post onto the network's event loop; Listener callbacks run
// on it.
type Bridge struct {
	bridgeID   string
	net        *Network
	mqtt       MQTTClient
	health     *HealthReporter
	recorders  []ChangeRecorder
	candidates []DeviceSpec
	autoAdd    bool
	scanTime   time.Duration

	metrics bridgeCounters

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client via a thin adapter in main.go.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// ChangeRecorder persists committed property changes, e.g. to a state
// history table or a time-series database. Calls happen on the event loop
// and must not block for long.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, address, kind, name string, value any, at time.Time) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	// Default: "ksx".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Network is the device network to expose. Required.
	Network *Network

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Link reports the line transport status for health messages.
	Link LinkChecker

	// Endpoint names the line transport for health messages.
	Endpoint string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// Recorders receive every committed property change.
	Recorders []ChangeRecorder

	// DiscoveryCandidates are scanned by a discover request that names no
	// addresses.
	DiscoveryCandidates []DeviceSpec

	// AutoAddDiscovered adds devices found by a scan to the network.
	AutoAddDiscovered bool

	// DiscoveryTimeout is the scan deadline when a discover request gives
	// no timeout_ms. Default: 10s.
	DiscoveryTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

type bridgeCounters struct {
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64
	publishErrors    atomic.Uint64
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Network == nil {
		return nil, fmt.Errorf("network is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:   bridgeID,
		net:        opts.Network,
		mqtt:       opts.MQTTClient,
		recorders:  opts.Recorders,
		candidates: opts.DiscoveryCandidates,
		autoAdd:    opts.AutoAddDiscovered,
		scanTime:   opts.DiscoveryTimeout,
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Endpoint:  opts.Endpoint,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stats:     opts.Network,
		Link:      opts.Link,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to MQTT topics, hooks the bridge into the network and
// starts health reporting. Current device state is published once the
// event loop runs.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.net.Post(func() {
		b.net.SetListener(b)
		b.net.SetDiscoveryCallbacks(discovery.Callbacks[*DeviceContext]{
			Started:    b.onDiscoveryStarted,
			Discovered: b.onDiscovered,
			Finished:   b.onDiscoveryFinished,
		})
		b.publishAll()
	})

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.net.Post(func() { b.net.SetListener(nil) })
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// handleMQTTMessage routes an inbound message by its second topic part.
// Called on the MQTT client goroutine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand decodes a command and runs it on the event loop.
func (b *Bridge) handleCommand(segment string, payload []byte) {
	b.metrics.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		b.metrics.commandsFailed.Add(1)
		return
	}
	if cmd.ID == "" {
		cmd.ID = NewMessageID()
	}
	if cmd.Address == "" {
		if addr, err := ParseTopicAddress(segment); err == nil {
			cmd.Address = addr.String()
		}
	}

	addr, err := ParseAddress(cmd.Address)
	if err != nil {
		b.publishAckError(cmd, ErrCodeInvalidCommand, err.Error())
		return
	}
	cmd.Address = addr.String()

	b.net.Post(func() { b.executeCommand(addr, cmd) })
}

// executeCommand runs on the event loop.
func (b *Bridge) executeCommand(addr Address, cmd CommandMessage) {
	dc, ok := b.net.Device(addr)
	if !ok {
		b.publishAckError(cmd, ErrCodeNotConfigured, ErrDeviceNotFound.Error())
		return
	}

	switch cmd.Command {
	case "", CommandSet:
		if len(cmd.Properties) == 0 {
			b.publishAckError(cmd, ErrCodeInvalidParameters, "no properties given")
			return
		}
		if !dc.IsSlave() && !b.net.Attached() {
			b.publishAckError(cmd, ErrCodeNotAttached, ErrNotAttached.Error())
			return
		}
		values, rejected := coerceProperties(dc, cmd.Properties)
		if len(values) == 0 {
			b.publishAckResult(cmd, AckFailed, rejected,
				&AckError{Code: ErrCodeInvalidParameters, Message: "no property could be coerced"})
			return
		}
		dc.SetProperty(values...)
		b.publishAckResult(cmd, AckAccepted, rejected, nil)

	case CommandRefresh:
		dc.RequestUpdate()
		b.publishAckResult(cmd, AckAccepted, nil, nil)

	default:
		b.publishAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Command))
	}
}

// coerceProperties converts JSON values to the type each property already
// holds. Unknown names and values that do not convert are rejected.
func coerceProperties(dc *DeviceContext, requested map[string]any) ([]property.Value, []string) {
	var values []property.Value
	var rejected []string
	for _, name := range sortedKeys(requested) {
		current, ok := dc.Property(name)
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		v, ok := coerceValue(current, requested[name])
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		values = append(values, v)
	}
	return values, rejected
}

func coerceValue(current property.Value, raw any) (property.Value, bool) {
	name := current.Name()
	switch current.Raw().(type) {
	case bool:
		switch x := raw.(type) {
		case bool:
			return property.New(name, x), true
		case float64:
			if x == 0 || x == 1 {
				return property.New(name, x == 1), true
			}
		}
	case int:
		if n, ok := integral(raw); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return property.New(name, int(n)), true
		}
	case int64:
		if n, ok := integral(raw); ok {
			return property.New(name, n), true
		}
	case float64:
		switch x := raw.(type) {
		case float64:
			return property.New(name, x), true
		case int:
			return property.New(name, float64(x)), true
		}
	case string:
		if s, ok := raw.(string); ok {
			return property.New(name, s), true
		}
	}
	return property.Value{}, false
}

func integral(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int64(x), true
		}
	}
	return 0, false
}

// handleRequest decodes a request and answers it on the event loop.
func (b *Bridge) handleRequest(segment string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = segment
	}

	b.net.Post(func() {
		var resp ResponseMessage
		switch req.Action {
		case ActionReadState:
			resp = b.handleReadState(req)
		case ActionReadAll:
			resp = b.handleReadAll(req)
		case ActionDiscover:
			resp = b.handleDiscover(req)
		default:
			resp = failedResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action %q", req.Action))
		}
		b.publishJSON(ResponseTopic(req.RequestID), resp, false)
	})
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	addr, err := ParseAddress(req.Address)
	if err != nil {
		return failedResponse(req, ErrCodeInvalidParameters, err.Error())
	}
	dc, ok := b.net.Device(addr)
	if !ok {
		return failedResponse(req, ErrCodeNotConfigured, ErrDeviceNotFound.Error())
	}
	dc.RequestUpdate()

	state := NewStateMessage(dc, nil)
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"address": state.Address,
			"kind":    state.Kind,
			"state":   state.State,
		},
	}
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	devices := make(map[string]any)
	for _, dc := range b.net.Devices() {
		dc.RequestUpdate()
		devices[dc.Address().String()] = NewStateMessage(dc, nil).State
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"devices": devices, "count": len(devices)},
	}
}

func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	timeout := b.scanTime
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	if ms, ok := integral(req.Parameters["timeout_ms"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	specs := b.candidates
	if raw, ok := req.Parameters["addresses"].([]any); ok {
		specs = make([]DeviceSpec, 0, len(raw))
		for _, item := range raw {
			s, _ := item.(string)
			addr, err := ParseAddress(s)
			if err != nil {
				return failedResponse(req, ErrCodeInvalidParameters, err.Error())
			}
			specs = append(specs, DeviceSpec{Address: addr})
		}
	}

	if err := b.net.StartDiscovery(timeout, specs); err != nil {
		code := ErrCodeBridgeError
		switch {
		case errors.Is(err, ErrNotAttached):
			code = ErrCodeNotAttached
		case errors.Is(err, discovery.ErrNoCandidates):
			code = ErrCodeInvalidParameters
		}
		return failedResponse(req, code, err.Error())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"candidates": len(specs), "timeout_ms": timeout.Milliseconds()},
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Error:     &AckError{Code: code, Message: message},
	}
}

// Listener

// PropertyChanged publishes the device state and records each change.
func (b *Bridge) PropertyChanged(dc *DeviceContext, changed []property.Value) {
	if b.stopped() {
		return
	}
	b.publishState(dc, changed)

	if len(b.recorders) == 0 {
		return
	}
	at := b.net.queue.Now()
	addr, kind := dc.Address().String(), dc.Kind().String()
	for _, v := range changed {
		for _, r := range b.recorders {
			if err := r.RecordChange(b.ctx, addr, kind, v.Name(), v.Raw(), at); err != nil {
				b.logError("failed to record change", err)
			}
		}
	}
}

// ErrorOccurred publishes a device error.
func (b *Bridge) ErrorOccurred(dc *DeviceContext, code ErrorCode) {
	if b.stopped() {
		return
	}
	b.publishJSON(ErrorTopic(dc.Address()), ErrorMessage{
		Address:   dc.Address().String(),
		Timestamp: time.Now().UTC(),
		Code:      int(code),
		Error:     code.String(),
	}, false)
}

// discovery callbacks

func (b *Bridge) onDiscoveryStarted() {
	b.publishDiscovery(DiscoveryStarted, nil)
}

func (b *Bridge) onDiscovered(dc *DeviceContext) {
	state := NewStateMessage(dc, nil)
	b.publishDiscovery(DiscoveryFound, []DiscoveredDevice{{
		Protocol:      Protocol,
		Address:       state.Address,
		Kind:          state.Kind,
		Properties:    state.State,
		SuggestedName: fmt.Sprintf("%s %s", dc.Kind(), TopicAddress(dc.Address())),
	}})

	if !b.autoAdd {
		return
	}
	if _, err := b.net.AddDevice(dc.Spec()); err != nil && !errors.Is(err, ErrDeviceExists) {
		b.logError("failed to add discovered device", err)
		return
	}
	b.health.SetDeviceCount(len(b.net.Devices()))
}

func (b *Bridge) onDiscoveryFinished() {
	b.publishDiscovery(DiscoveryFinished, nil)
}

// publishing

// publishAll publishes the state of every device. Runs on the event loop.
func (b *Bridge) publishAll() {
	devices := b.net.Devices()
	for _, dc := range devices {
		b.publishState(dc, nil)
	}
	b.health.SetDeviceCount(len(devices))
}

func (b *Bridge) publishState(dc *DeviceContext, changed []property.Value) {
	if b.publishJSON(StateTopic(dc.Address()), NewStateMessage(dc, changed), true) {
		b.metrics.statesPublished.Add(1)
	}
}

func (b *Bridge) publishDiscovery(event string, devices []DiscoveredDevice) {
	b.publishJSON(DiscoveryTopic(), DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.bridgeID,
		Event:     event,
		Devices:   devices,
	}, false)
}

func (b *Bridge) publishAckResult(cmd CommandMessage, status AckStatus, rejected []string, ackErr *AckError) {
	ack := NewAckMessage(cmd, status)
	ack.Rejected = rejected
	ack.Error = ackErr
	if status == AckFailed {
		b.metrics.commandsFailed.Add(1)
	}
	b.publishAck(cmd, ack)
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.metrics.commandsFailed.Add(1)
	b.publishAck(cmd, NewAckError(cmd, code, message))
}

func (b *Bridge) publishAck(cmd CommandMessage, ack AckMessage) {
	addr, err := ParseAddress(cmd.Address)
	if err != nil {
		// No usable address: acknowledge on the bridge-wide ack topic.
		b.publishJSON(fmt.Sprintf("%s/ack/%s", TopicPrefix, Protocol), ack, false)
		return
	}
	b.publishJSON(AckTopic(addr), ack, false)
}

func (b *Bridge) publishJSON(topic string, msg any, retained bool) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return false
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.metrics.publishErrors.Add(1)
		b.logError("failed to publish", fmt.Errorf("topic %s: %w", topic, err))
		return false
	}
	return true
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// BridgeMetrics is a snapshot of bridge counters.
type BridgeMetrics struct {
	Connected        bool
	CommandsReceived uint64
	CommandsFailed   uint64
	StatesPublished  uint64
	PublishErrors    uint64
	Network          NetworkStats
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		CommandsReceived: b.metrics.commandsReceived.Load(),
		CommandsFailed:   b.metrics.commandsFailed.Load(),
		StatesPublished:  b.metrics.statesPublished.Load(),
		PublishErrors:    b.metrics.publishErrors.Load(),
		Network:          b.net.Stats(),
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
