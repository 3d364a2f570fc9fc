package ksx

import (
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-homenet/internal/property"
)

// Adapter supplies the kind-specific half of a DeviceContext.
//
// The context owns dispatch: every inbound command class maps onto exactly
// one method here. Adapters embed BaseAdapter and override what their kind
// supports; the rest answers ResultNone.
type Adapter interface {
	// Capabilities returns the request shapes the kind answers.
	Capabilities() Capability

	// Defaults returns kind-specific initial properties.
	Defaults(dc *DeviceContext) []property.Value

	// BindTasks registers property tasks for the context's role.
	BindTasks(dc *DeviceContext, t *TaskTable)

	StatusReq(dc *DeviceContext, p Packet, out property.Map) ParseResult
	StatusRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult
	CharacteristicReq(dc *DeviceContext, p Packet, out property.Map) ParseResult
	CharacteristicRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult
	SingleControlReq(dc *DeviceContext, p Packet, out property.Map) ParseResult
	SingleControlRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult

	// Extension handles the group control request and kind-specific
	// codes. It runs before capability checks.
	Extension(dc *DeviceContext, p Packet, out property.Map) ParseResult

	// ControlReq builds the single control request for req, if the kind
	// has one.
	ControlReq(dc *DeviceContext, req property.Reader) (Packet, bool)
}

// BaseAdapter answers every command with ResultNone.
type BaseAdapter struct{}

func (BaseAdapter) Capabilities() Capability { return CapAll }
func (BaseAdapter) Defaults(*DeviceContext) []property.Value { return nil }
func (BaseAdapter) BindTasks(*DeviceContext, *TaskTable) {}
func (BaseAdapter) ControlReq(*DeviceContext, property.Reader) (Packet, bool) {
	return Packet{}, false
}

func (BaseAdapter) StatusReq(*DeviceContext, Packet, property.Map) ParseResult { return ResultNone }
func (BaseAdapter) StatusRsp(*DeviceContext, Packet, property.Map) ParseResult { return ResultNone }
func (BaseAdapter) CharacteristicReq(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultNone
}
func (BaseAdapter) CharacteristicRsp(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultNone
}
func (BaseAdapter) SingleControlReq(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultNone
}
func (BaseAdapter) SingleControlRsp(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultNone
}
func (BaseAdapter) Extension(*DeviceContext, Packet, property.Map) ParseResult { return ResultNone }

// Factory creates a fresh adapter for one context.
type Factory func() Adapter

// Registry maps kind ids to adapter factories. Unregistered kinds get the
// generic adapter.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
	fallback  Factory
}

// NewRegistry returns a Registry with the built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[Kind]Factory),
		fallback:  newUnknownAdapter,
	}
	r.Register(KindLight, newLightAdapter)
	r.Register(KindGasValve, newGasValveAdapter)
	return r
}

// Register binds kind to factory, replacing any previous binding.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	r.factories[kind] = factory
	r.mu.Unlock()
}

// New creates the adapter for kind.
func (r *Registry) New(kind Kind) Adapter {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return r.fallback()
	}
	return f()
}

// Kinds returns the registered kinds in ascending order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
