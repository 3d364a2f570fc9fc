package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "homenet-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.BridgeState("ksx", "0E01"), "homenet/state/ksx/0E01"},
		{"command", topics.BridgeCommand("ksx", "0E01"), "homenet/command/ksx/0E01"},
		{"system status", topics.SystemStatus(), "homenet/system/status"},
		{"command filter", topics.BridgeCommand("ksx", "+"), "homenet/command/ksx/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		tls        bool
		username   string
		wantBroker string
	}{
		{"plain", false, "", "tcp://localhost:1883"},
		{"tls with auth", true, "bridge", "ssl://localhost:1883"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Broker.TLS = tt.tls
			cfg.Auth.Username = tt.username
			cfg.Auth.Password = "secret"

			opts := clientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.wantBroker {
				t.Fatalf("Servers = %v, want [%s]", opts.Servers, tt.wantBroker)
			}
			if opts.ClientID != "homenet-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if opts.Username != tt.username {
				t.Errorf("Username = %q, want %q", opts.Username, tt.username)
			}
			if tt.username == "" && opts.Password != "" {
				t.Error("password set without username")
			}
			if (opts.TLSConfig != nil) != tt.tls {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.tls)
			}
			if tt.tls && opts.TLSConfig.MinVersion != tlsMinVersion {
				t.Errorf("MinVersion = %x", opts.TLSConfig.MinVersion)
			}
			if !opts.AutoReconnect || !opts.CleanSession {
				t.Error("expected auto-reconnect with clean session")
			}
		})
	}
}

func TestSetWill_Default(t *testing.T) {
	opts := clientOptions(testConfig())
	setWill(opts, "homenet-test", nil)

	if !opts.WillEnabled {
		t.Fatal("will not enabled")
	}
	if opts.WillTopic != "homenet/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !strings.Contains(string(opts.WillPayload), `"unexpected_disconnect"`) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
	if opts.WillQos != 1 || !opts.WillRetained {
		t.Errorf("WillQos = %d, WillRetained = %v", opts.WillQos, opts.WillRetained)
	}
}

func TestSetWill_Override(t *testing.T) {
	opts := clientOptions(testConfig())
	will := &Will{
		Topic:    "homenet/health/ksx",
		Payload:  []byte(`{"status":"offline"}`),
		QoS:      1,
		Retained: true,
	}
	setWill(opts, "homenet-test", will)

	if opts.WillTopic != will.Topic {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, will.Topic)
	}
	if string(opts.WillPayload) != `{"status":"offline"}` {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig(), Options{})

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "homenet/x", []byte("x"), 3, ErrInvalidQoS},
		{"wildcard", "homenet/state/+/0E11", []byte("x"), 1, ErrInvalidTopic},
		{"too large", "homenet/x", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
		{"not connected", "homenet/x", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig(), Options{})
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"bad qos", "homenet/#", 5, noop, ErrInvalidQoS},
		{"nil handler", "homenet/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "homenet/#", 1, noop, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Error("failed subscriptions must not be tracked")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newClient(testConfig(), Options{})

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDeliver(t *testing.T) {
	c := newClient(testConfig(), Options{})
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	ok := c.deliver(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})
	ok(nil, fakeMessage{topic: "homenet/command/ksx/0E01", payload: []byte("on")})
	if got != "homenet/command/ksx/0E01=on" {
		t.Errorf("handler saw %q", got)
	}

	failing := c.deliver(func(string, []byte) error { return errors.New("bad payload") })
	failing(nil, fakeMessage{topic: "t"})

	panicking := c.deliver(func(string, []byte) error { panic("boom") })
	panicking(nil, fakeMessage{topic: "t"})

	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
	}
}

func TestConnectionCallbacks(t *testing.T) {
	c := newClient(testConfig(), Options{})

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.lost(errors.New("link down"))

	if lost == nil || lost.Error() != "link down" {
		t.Errorf("onDisconnect got %v", lost)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestClose_NilClient(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(statusPayload("homenet-1", "offline", "graceful_shutdown"), &msg); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "homenet-1" || msg.Reason != "graceful_shutdown" {
		t.Errorf("statusPayload() = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("Timestamp = %q: %v", msg.Timestamp, err)
	}

	if online := string(statusPayload("homenet-1", "online", "")); strings.Contains(online, "reason") {
		t.Errorf("online payload carries a reason: %s", online)
	}
}

func TestRegistry(t *testing.T) {
	var r registry
	noop := func(string, []byte) error { return nil }

	r.put(subscription{topic: "homenet/command/ksx/+", qos: 1, handler: noop})
	r.put(subscription{topic: "homenet/a", qos: 0, handler: noop})
	r.put(subscription{topic: "homenet/a", qos: 2, handler: noop})

	got := r.list()
	if len(got) != 2 || got[0].topic != "homenet/a" || got[0].qos != 2 {
		t.Fatalf("list() = %+v, want two sorted entries with the later qos", got)
	}
	r.drop("homenet/a")
	r.drop("homenet/missing")
	if got := r.list(); len(got) != 1 || got[0].topic != "homenet/command/ksx/+" {
		t.Errorf("list() after drop = %+v", got)
	}
}
