package mqtt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected means the broker session is down. Auto-reconnect is
	// running, so callers may retry later.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps the reason the first connect failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic covers empty topics, and wildcards in a publish topic.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	ErrInvalidQoS      = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)

// checkTopic validates a topic for publishing (filter false) or for
// subscribing (filter true, wildcards allowed).
func checkTopic(topic string, filter bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !filter && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

func checkQoS(qos byte) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}
