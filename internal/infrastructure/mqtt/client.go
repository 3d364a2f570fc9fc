package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses. Nil disables
// logging.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. A returned error is
// logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Client is a paho session that keeps its subscriptions across
// reconnects and announces itself on homenet/system/status.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers run on paho's goroutines and must not block for long.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig
	subs registry

	// up is set by Connect and the connect handler, cleared on loss.
	up atomic.Bool

	mu           sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect opens the broker session and waits for the first CONNACK.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - o: Connection overrides such as a bridge-specific will
//
// Returns:
//   - *Client: Connected client; reconnects on its own from here on
//   - error: ErrConnectionFailed if the broker does not accept in time
func Connect(cfg config.MQTTConfig, o Options) (*Client, error) {
	c := newClient(cfg, o)

	tok := c.paho.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK from %s within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The connect handler runs on its own goroutine and may lag.
	c.up.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, o Options) *Client {
	c := &Client{cfg: cfg}

	opts := clientOptions(cfg)
	setWill(opts, cfg.Broker.ClientID, o.Will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.log(); l != nil {
			l.Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
		}
	})

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// connected runs after every successful (re)connect: it restores the
// subscriptions the clean session dropped and republishes online status.
func (c *Client) connected() {
	c.up.Store(true)

	for _, s := range c.subs.list() {
		tok := c.paho.Subscribe(s.topic, s.qos, c.deliver(s.handler))
		go c.logFailure(tok, ErrSubscribeFailed, s.topic)
	}
	tok := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, "online", ""))
	go c.logFailure(tok, ErrPublishFailed, Topics{}.SystemStatus())

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// logFailure waits for a token issued from the connect handler and logs
// a failure, since nothing else is waiting on it.
func (c *Client) logFailure(tok pahomqtt.Token, kind error, topic string) {
	if err := wait(tok, kind); err != nil {
		if l := c.log(); l != nil {
			l.Warn("MQTT restore after reconnect failed", "topic", topic, "error", err)
		}
	}
}

// wait blocks on tok for at most opTimeout and wraps failures in kind.
func wait(tok pahomqtt.Token, kind error) error {
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: no acknowledgement within %v", kind, opTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

// Close publishes a graceful offline status, distinct from the will, and
// disconnects. A nil or never-connected client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		tok.WaitTimeout(opTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up, as last seen by both
// this client and paho.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.paho.IsConnected()
}

// SetOnConnect sets a callback run after every connect and reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the session is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
