package ksx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// silentIntervals is how many report intervals may pass without a frame
// from the line before the bridge calls itself degraded. The poller keeps
// a healthy line busy, so silence means a dead bus or a cut cable behind
// a transport that still looks connected.
const silentIntervals = 3

// HealthPublisher sends the health document. Satisfied by the bridge's
// MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource provides line traffic counters. Satisfied by *Network.
type StatsSource interface {
	Stats() NetworkStats
}

// LinkChecker reports whether the byte stream to the line is up.
// Satisfied by *transport.Link.
type LinkChecker interface {
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Endpoint names the serial port or URL of the line, for display.
	Endpoint string

	// Interval between reports. Zero means 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Stats     StatsSource
	Link      LinkChecker
}

// HealthReporter publishes the retained health document on
// homenet/health/ksx every interval, and once more as "stopping" on Stop.
//
// The status is degraded while MQTT or the line is down, or while no frame
// has arrived for three intervals.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time
	now     func() time.Time
	devices atomic.Int64

	// mu guards the silence tracking and the last reported status.
	mu       sync.Mutex
	lastRx   uint64
	lastRxAt time.Time
	last     HealthStatus

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger atomic.Pointer[loggerBox]
}

// loggerBox lets an interface value live in an atomic.Pointer.
type loggerBox struct{ Logger }

// NewHealthReporter returns a reporter; nothing is published until
// PublishStarting or Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	now := time.Now()
	return &HealthReporter{
		cfg:      cfg,
		started:  now,
		now:      time.Now,
		lastRxAt: now,
		done:     make(chan struct{}),
	}
}

// Start publishes the current status and then one every interval until
// ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()
		for {
			if err := h.PublishNow(); err != nil {
				h.logError("health publish failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop ends reporting and publishes a final "stopping" document. Only the
// first call has any effect.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.logError("health publish on stop failed", err)
		}
	})
}

// SetDeviceCount records how many devices the bridge manages.
func (h *HealthReporter) SetDeviceCount(n int) {
	h.devices.Store(int64(n))
}

// SetLogger sets the logger for publish failures and status changes.
func (h *HealthReporter) SetLogger(l Logger) {
	if l == nil {
		h.logger.Store(nil)
		return
	}
	h.logger.Store(&loggerBox{l})
}

// PublishStarting publishes a "starting" document.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.evaluate()
	return h.publish(status, reason)
}

// evaluate decides the status. It also advances the silence tracking, so
// it is called once per report.
func (h *HealthReporter) evaluate() (HealthStatus, string) {
	now := h.now()
	var rx uint64
	if h.cfg.Stats != nil {
		rx = h.cfg.Stats.Stats().FramesRx
	}

	h.mu.Lock()
	if rx != h.lastRx {
		h.lastRx, h.lastRxAt = rx, now
	}
	silent := now.Sub(h.lastRxAt)
	h.mu.Unlock()

	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case !h.linkUp():
		return HealthDegraded, "line disconnected"
	case silent >= silentIntervals*h.cfg.Interval:
		return HealthDegraded, fmt.Sprintf("no frames from line for %s", silent.Round(time.Second))
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) linkUp() bool {
	return h.cfg.Link != nil && h.cfg.Link.IsConnected()
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	h.noteTransition(status, reason)
	if h.cfg.Publisher == nil {
		return nil
	}

	var stats NetworkStats
	if h.cfg.Stats != nil {
		stats = h.cfg.Stats.Stats()
	}
	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, stats, int(h.devices.Load()), h.started)
	msg.Reason = reason
	msg.Link = &LinkStatus{Status: "disconnected", Endpoint: h.cfg.Endpoint}
	if h.linkUp() {
		msg.Link.Status = "connected"
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

// noteTransition logs status changes, not every report.
func (h *HealthReporter) noteTransition(status HealthStatus, reason string) {
	h.mu.Lock()
	prev := h.last
	h.last = status
	h.mu.Unlock()

	if prev == status || prev == "" {
		return
	}
	if b := h.logger.Load(); b != nil {
		b.Info("bridge health changed", "from", prev, "to", status, "reason", reason)
	}
}

func (h *HealthReporter) logError(msg string, err error) {
	if b := h.logger.Load(); b != nil {
		b.Error(msg, "error", err)
	}
}
