package mqtt

import "fmt"

// Publish sends payload to topic and waits for the broker to acknowledge
// it (QoS 1 and 2) or for it to leave the socket (QoS 0).
//
// Use retained for state and health documents so late subscribers see
// the current value; never for commands.
//
// Parameters:
//   - topic: Concrete topic, e.g. "homenet/state/ksx/0E11"; no wildcards
//   - payload: Message body, at most 256 KiB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps it as the topic's last value
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge,
//     ErrNotConnected, or ErrPublishFailed wrapping the broker error
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if err := checkQoS(qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes to %s, limit %d", ErrPayloadTooLarge, len(payload), topic, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed)
}
