package ksx

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStats struct{ rx atomic.Uint64 }

func (s *fakeStats) Stats() NetworkStats { return NetworkStats{FramesRx: s.rx.Load(), FramesTx: 4} }

type fakeLinkState struct{ up atomic.Bool }

func (l *fakeLinkState) IsConnected() bool { return l.up.Load() }

type infoLogger struct {
	mu    sync.Mutex
	infos []string
	errs  []string
}

func (l *infoLogger) Debug(string, ...any) {}
func (l *infoLogger) Warn(string, ...any)  {}
func (l *infoLogger) Info(msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}
func (l *infoLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

type healthFixture struct {
	h     *HealthReporter
	mqtt  *MockMQTTClient
	stats *fakeStats
	link  *fakeLinkState
	clock time.Time
}

func newHealthFixture() *healthFixture {
	f := &healthFixture{
		mqtt:  NewMockMQTTClient(),
		stats: &fakeStats{},
		link:  &fakeLinkState{},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.link.up.Store(true)
	f.h = NewHealthReporter(HealthReporterConfig{
		BridgeID:  Protocol,
		Version:   "1.0.0",
		Endpoint:  "/dev/ttyUSB0",
		Interval:  10 * time.Second,
		Publisher: f.mqtt,
		Stats:     f.stats,
		Link:      f.link,
	})
	f.h.now = func() time.Time { return f.clock }
	f.h.lastRxAt = f.clock
	return f
}

func (f *healthFixture) report(t *testing.T) HealthMessage {
	t.Helper()
	if err := f.h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	return decodeLast[HealthMessage](t, f.mqtt.onTopic(HealthTopic()))
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		linkUp     bool
		want       HealthStatus
		wantReason string
		wantLink   string
	}{
		{"all up", true, true, HealthHealthy, "", "connected"},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected", "connected"},
		{"line down", true, false, HealthDegraded, "line disconnected", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHealthFixture()
			f.mqtt.connected = tt.mqttUp
			f.link.up.Store(tt.linkUp)
			f.h.SetDeviceCount(3)

			got := f.report(t)
			if got.Status != tt.want || got.Reason != tt.wantReason {
				t.Errorf("status = %s (%q), want %s (%q)", got.Status, got.Reason, tt.want, tt.wantReason)
			}
			if got.Link == nil || got.Link.Status != tt.wantLink || got.Link.Endpoint != "/dev/ttyUSB0" {
				t.Errorf("link = %+v", got.Link)
			}
			if got.DevicesManaged != 3 || got.Version != "1.0.0" || got.Bridge != Protocol {
				t.Errorf("message = %+v", got)
			}
			if got.Statistics == nil || got.Statistics.FramesSent != 4 {
				t.Errorf("statistics = %+v", got.Statistics)
			}
		})
	}
}

func TestHealthReporter_SilentLine(t *testing.T) {
	f := newHealthFixture()

	f.stats.rx.Store(10)
	f.clock = f.clock.Add(25 * time.Second)
	if got := f.report(t); got.Status != HealthHealthy {
		t.Fatalf("status with traffic = %s (%s)", got.Status, got.Reason)
	}

	// Three intervals with no new frame.
	f.clock = f.clock.Add(30 * time.Second)
	got := f.report(t)
	if got.Status != HealthDegraded || !strings.HasPrefix(got.Reason, "no frames from line for 30s") {
		t.Fatalf("status after silence = %s (%q)", got.Status, got.Reason)
	}

	f.stats.rx.Store(11)
	f.clock = f.clock.Add(time.Second)
	if got := f.report(t); got.Status != HealthHealthy {
		t.Errorf("status after traffic resumed = %s (%s)", got.Status, got.Reason)
	}
}

func TestHealthReporter_LogsTransitionsOnly(t *testing.T) {
	f := newHealthFixture()
	log := &infoLogger{}
	f.h.SetLogger(log)

	f.report(t)
	f.report(t)
	f.link.up.Store(false)
	f.report(t)
	f.report(t)

	if len(log.infos) != 1 || log.infos[0] != "bridge health changed" {
		t.Errorf("infos = %v, want one transition", log.infos)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	f := newHealthFixture()
	if err := f.h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if got := decodeLast[HealthMessage](t, f.mqtt.onTopic(HealthTopic())); got.Status != HealthStarting {
		t.Errorf("status = %s, want starting", got.Status)
	}

	f.h.Start(t.Context())
	deadline := time.Now().Add(2 * time.Second)
	for len(f.mqtt.onTopic(HealthTopic())) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Start() did not publish")
		}
		time.Sleep(time.Millisecond)
	}

	f.h.Stop()
	f.h.Stop()
	msgs := f.mqtt.onTopic(HealthTopic())
	if got := decodeLast[HealthMessage](t, msgs); got.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", got.Status)
	}
	if !msgs[len(msgs)-1].Retained {
		t.Error("health must be retained")
	}
	n := len(msgs)
	f.h.Stop()
	if len(f.mqtt.onTopic(HealthTopic())) != n {
		t.Error("second Stop() published again")
	}
}

func TestHealthReporter_PublishError(t *testing.T) {
	f := newHealthFixture()
	f.mqtt.publishErr = errors.New("broker gone")
	log := &infoLogger{}
	f.h.SetLogger(log)

	if err := f.h.PublishNow(); err == nil {
		t.Error("PublishNow() error = nil, want the publish failure")
	}
	f.h.Stop()
	if len(log.errs) != 1 {
		t.Errorf("errors logged = %v, want the failed stop publish", log.errs)
	}
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: Protocol})
	if h.cfg.Interval != defaultHealthInterval {
		t.Errorf("Interval = %v, want default", h.cfg.Interval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}
