package mqtt

import (
	"fmt"
	"sort"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// registry holds the subscriptions to restore after a reconnect.
type registry struct {
	mu sync.Mutex
	m  map[string]subscription
}

func (r *registry) put(s subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]subscription)
	}
	r.m[s.topic] = s
}

func (r *registry) drop(topic string) {
	r.mu.Lock()
	delete(r.m, topic)
	r.mu.Unlock()
}

func (r *registry) list() []subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]subscription, 0, len(r.m))
	for _, s := range r.m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
	return out
}

// Subscribe routes messages matching filter to handler, and keeps doing so
// across reconnects. Subscribing the same filter again replaces its handler.
//
// Parameters:
//   - filter: Topic filter; "+" and "#" wildcards allowed
//   - qos: Maximum QoS for delivered messages
//   - handler: Called on a paho goroutine for each message; panics are
//     recovered and logged
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopic(filter, true); err != nil {
		return err
	}
	if err := checkQoS(qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Registered first so a reconnect during the wait still restores it.
	c.subs.put(subscription{topic: filter, qos: qos, handler: handler})
	if err := wait(c.paho.Subscribe(filter, qos, c.deliver(handler)), ErrSubscribeFailed); err != nil {
		c.subs.drop(filter)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for filter. Messages already in flight may
// still reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if err := checkTopic(filter, true); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.subs.drop(filter)
	return wait(c.paho.Unsubscribe(filter), ErrSubscribeFailed)
}

// Subscriptions lists the filters restored on reconnect, sorted.
func (c *Client) Subscriptions() []string {
	subs := c.subs.list()
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.topic
	}
	return out
}

// deliver adapts handler to paho, logging errors and recovering panics so
// one bad message cannot take down paho's router.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.log(); l != nil {
					l.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.log(); l != nil {
				l.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
