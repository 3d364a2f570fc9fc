package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// opTimeout bounds the wait for a publish, subscribe or unsubscribe ack.
	opTimeout = 5 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work finish.
	quiesceMillis = 500

	keepAlive = 30 * time.Second

	maxQoS = 2

	// maxPayloadSize caps outgoing payloads. Device state documents are a
	// few hundred bytes; anything near this is a bug upstream.
	maxPayloadSize = 256 << 10

	tlsMinVersion = tls.VersionTLS12
)

// Will is a Last Will and Testament message registered with the broker.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Options adjusts a connection beyond what config.yaml describes.
type Options struct {
	// Will replaces the default system status will. The ksx bridge sets
	// its offline health document here so a crash shows on its health
	// topic without anyone watching homenet/system/status.
	Will *Will
}

// brokerURL renders the broker address as tcp:// or ssl://.
func brokerURL(b config.MQTTBrokerConfig) string {
	u := url.URL{Scheme: "tcp", Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	if b.TLS {
		u.Scheme = "ssl"
	}
	return u.String()
}

// clientOptions maps config.yaml onto paho options: broker address,
// credentials, reconnect backoff and TLS. Sessions are clean; the client
// restores its own subscriptions after a reconnect.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// setWill registers will, or without one a retained
// "unexpected_disconnect" document on the system status topic.
func setWill(opts *pahomqtt.ClientOptions, clientID string, will *Will) {
	if will == nil || will.Topic == "" {
		will = &Will{
			Topic:    Topics{}.SystemStatus(),
			Payload:  statusPayload(clientID, "offline", "unexpected_disconnect"),
			QoS:      1,
			Retained: true,
		}
	}
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
}

// statusMessage is the document on homenet/system/status.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, err := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings; cannot fail.
		return nil
	}
	return b
}
