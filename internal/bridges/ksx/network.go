package ksx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/discovery"
	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
	"github.com/nerrad567/gray-logic-homenet/internal/poller"
	"github.com/nerrad567/gray-logic-homenet/internal/property"
	"github.com/nerrad567/gray-logic-homenet/internal/schedule"
	"github.com/nerrad567/gray-logic-homenet/internal/stream"
)

// virtualNamePrefix names parents created implicitly for grouped devices.
const virtualNamePrefix = "Virtual "

// Logger is the logging surface of this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// FrameHook observes raw frames in either direction.
type FrameHook func(p Packet, tx bool)

// node is one slot of the device arena. Parent and children are addresses
// into the same map.
type node struct {
	ctx      *DeviceContext
	children []Address
	virtual  bool
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithRegistry overrides the default adapter registry.
func WithRegistry(r *Registry) NetworkOption {
	return func(n *Network) { n.registry = r }
}

// WithRangePolicy sets how out-of-range frame values are treated.
func WithRangePolicy(p RangePolicy) NetworkOption {
	return func(n *Network) { n.policy = p }
}

// WithBufferSize overrides the stream reassembly buffer size.
func WithBufferSize(size int) NetworkOption {
	return func(n *Network) { n.bufferSize = size }
}

// Network owns every device context on one RS-485 line together with the
// scheduler, poller, discovery scanner and stream reassembler that serve
// them.
//
// Thread Safety:
//   - Write, Post, Stats and SetLogger may be called from any goroutine.
//   - Every other method must run on the event loop (use Post).
type Network struct {
	queue    eventloop.Queue
	registry *Registry
	policy   RangePolicy

	sched      *schedule.Scheduler
	poller     *poller.Poller
	scanner    *discovery.Scanner[Address, *DeviceContext]
	reasm      *stream.Reassembler[Packet]
	bufferSize int

	nodes    map[Address]*node
	attached bool

	listener  Listener
	frameHook FrameHook

	statsMu sync.Mutex
	stats   NetworkStats

	logger   Logger
	loggerMu sync.RWMutex
}

// NetworkStats counts traffic on the line.
type NetworkStats struct {
	FramesRx    uint64
	FramesTx    uint64
	Suppressed  uint64
	WriteErrors uint64
	Stream      stream.Stats
}

// NewNetwork creates a detached Network.
func NewNetwork(queue eventloop.Queue, opts ...NetworkOption) *Network {
	n := &Network{
		queue:      queue,
		policy:     RangeClamp,
		bufferSize: stream.DefaultBufferSize,
		nodes:      make(map[Address]*node),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.registry == nil {
		n.registry = NewRegistry()
	}

	n.sched = schedule.New(queue)
	n.sched.SetLogger(networkLogger{n})
	n.poller = poller.New(queue, true)
	n.reasm = stream.New[Packet](queue, FrameDecoder, n.handlePacket,
		stream.WithBufferSize(n.bufferSize),
		stream.WithLogger(networkLogger{n}),
	)

	n.scanner = discovery.New[Address](queue, (*DeviceContext).Address)
	n.scanner.SetPingFilter(pingOncePerGroup)
	return n
}

// SetLogger sets the logger for the network and its components.
func (n *Network) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	n.logger = logger
	n.loggerMu.Unlock()
}

// SetListener sets the receiver of property and error notifications.
func (n *Network) SetListener(l Listener) { n.listener = l }

// SetFrameHook installs a raw frame observer, e.g. a bus monitor.
func (n *Network) SetFrameHook(h FrameHook) { n.frameHook = h }

// Post runs fn on the event loop.
func (n *Network) Post(fn func()) { n.queue.Post(fn) }

// Start runs the poller until ctx is cancelled or Stop is called.
func (n *Network) Start(ctx context.Context) { n.poller.Start(ctx) }

// Stop halts the poller.
func (n *Network) Stop() { n.poller.Stop() }

// SetPollInterval changes the poller's base interval; <= 0 stops polling.
func (n *Network) SetPollInterval(d time.Duration) { n.poller.SetBaseInterval(d) }

// Policy returns the range policy.
func (n *Network) Policy() RangePolicy { return n.policy }

// devices

// AddDevice creates a context for spec and links it into the group tree.
//
// Parameters:
//   - spec: Address and identity of the device
//
// Returns:
//   - *DeviceContext: The new context
//   - error: ErrDeviceExists if a real device already has the address
func (n *Network) AddDevice(spec DeviceSpec) (*DeviceContext, error) {
	if old, ok := n.nodes[spec.Address]; ok && !old.virtual {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, spec.Address)
	}

	dc := newDeviceContext(n, spec)
	nd := &node{ctx: dc}
	if old, ok := n.nodes[spec.Address]; ok {
		// A real device takes over its virtual stand-in's children.
		nd.children = old.children
	}
	n.nodes[spec.Address] = nd

	if spec.Address.Sub().HasFull() {
		n.adoptChildren(nd)
	} else {
		n.linkToParent(spec)
	}

	if n.attached {
		dc.onAttached()
		n.poller.Add(dc)
	}
	n.logDebug("ksx device added", "address", spec.Address.String(), "name", spec.Name, "slave", spec.Slave)
	return dc, nil
}

func (n *Network) adoptChildren(parent *node) {
	if parent.ctx.Address().Sub().IsAll() {
		return
	}
	for _, sib := range parent.ctx.Address().Siblings() {
		if _, ok := n.nodes[sib]; ok && !containsAddress(parent.children, sib) {
			parent.children = append(parent.children, sib)
		}
	}
	sortAddresses(parent.children)
}

func (n *Network) linkToParent(spec DeviceSpec) {
	paddr := spec.Address.Parent()
	parent, ok := n.nodes[paddr]
	if !ok {
		// Virtual parents are never attached nor polled; they exist to
		// demultiplex group frames.
		parent = &node{
			ctx: newDeviceContext(n, DeviceSpec{
				Address: paddr,
				Name:    virtualNamePrefix + paddr.String(),
				Area:    AreaUnknown,
				Slave:   spec.Slave,
			}),
			virtual: true,
		}
		n.nodes[paddr] = parent
	}
	if !containsAddress(parent.children, spec.Address) {
		parent.children = append(parent.children, spec.Address)
		sortAddresses(parent.children)
	}
}

// RemoveDevice unlinks and drops the device at addr.
func (n *Network) RemoveDevice(addr Address) error {
	nd, ok := n.nodes[addr]
	if !ok || nd.virtual {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}

	if addr.Sub().HasFull() {
		nd.children = nil
	} else if parent, ok := n.nodes[addr.Parent()]; ok {
		parent.children = removeAddress(parent.children, addr)
		if parent.virtual && len(parent.children) == 0 {
			delete(n.nodes, addr.Parent())
		}
	}
	delete(n.nodes, addr)

	if n.attached {
		n.poller.Remove(nd.ctx)
		nd.ctx.onDetached()
	}
	n.logDebug("ksx device removed", "address", addr.String())
	return nil
}

// ClearDevices removes every real device.
func (n *Network) ClearDevices() {
	for _, dc := range n.Devices() {
		_ = n.RemoveDevice(dc.Address())
	}
}

// Device returns the real device at addr.
func (n *Network) Device(addr Address) (*DeviceContext, bool) {
	nd, ok := n.nodes[addr]
	if !ok || nd.virtual {
		return nil, false
	}
	return nd.ctx, true
}

// Devices returns every real device ordered by address.
func (n *Network) Devices() []*DeviceContext {
	out := make([]*DeviceContext, 0, len(n.nodes))
	for _, nd := range n.nodes {
		if !nd.virtual {
			out = append(out, nd.ctx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return addressLess(out[i].addr, out[j].addr) })
	return out
}

// IsVirtual reports whether addr holds an implicit group parent.
func (n *Network) IsVirtual(addr Address) bool {
	nd, ok := n.nodes[addr]
	return ok && nd.virtual
}

func (n *Network) children(dc *DeviceContext) []*DeviceContext {
	nd, ok := n.nodes[dc.addr]
	if !ok || nd.ctx != dc || len(nd.children) == 0 {
		return nil
	}
	out := make([]*DeviceContext, 0, len(nd.children))
	for _, a := range nd.children {
		if child, ok := n.nodes[a]; ok {
			out = append(out, child.ctx)
		}
	}
	return out
}

// Parent returns the group parent of dc, real or virtual.
func (n *Network) Parent(dc *DeviceContext) (*DeviceContext, bool) {
	if dc.addr.Sub().HasFull() {
		return nil, false
	}
	nd, ok := n.nodes[dc.addr.Parent()]
	if !ok || !containsAddress(nd.children, dc.addr) {
		return nil, false
	}
	return nd.ctx, true
}

// stream

// Attach binds the network to a stream writer and starts serving devices.
func (n *Network) Attach(w io.Writer) {
	if n.attached {
		n.Detach()
	}
	n.sched.Attach(txWriter{n: n, w: w})
	n.attached = true
	for _, dc := range n.Devices() {
		dc.onAttached()
		n.poller.Add(dc)
	}
	n.logInfo("ksx network attached", "devices", len(n.Devices()))
}

// Detach unbinds the stream. Schedules end and buffered bytes are dropped.
func (n *Network) Detach() {
	if !n.attached {
		return
	}
	n.scanner.Stop()
	n.attached = false
	n.sched.Detach()
	n.reasm.Reset()
	for _, dc := range n.Devices() {
		n.poller.Remove(dc)
		dc.onDetached()
	}
	n.logInfo("ksx network detached")
}

// Attached reports whether a stream is bound.
func (n *Network) Attached() bool { return n.attached }

// Feed processes received bytes on the event loop.
func (n *Network) Feed(chunk []byte) { n.reasm.Feed(chunk) }

// Write implements io.Writer for transport readers: the bytes are copied
// and fed on the event loop.
func (n *Network) Write(p []byte) (int, error) {
	chunk := bytes.Clone(p)
	n.queue.Post(func() { n.Feed(chunk) })
	return len(p), nil
}

func (n *Network) handlePacket(p Packet) {
	raw := p.MustEncode()
	if !n.sched.FilterRx(raw) {
		n.count(func(s *NetworkStats) { s.Suppressed++ })
		return
	}
	n.count(func(s *NetworkStats) { s.FramesRx++ })
	if n.frameHook != nil {
		n.frameHook(p, false)
	}

	if n.scanner.Running() && p.Command == CmdCharacteristicRsp {
		for _, addr := range p.Address().FanOut() {
			if c, ok := n.scanner.Pending(addr); ok {
				n.scanner.Observe(addr, c.ParsePacket(p) == ResultPeerDetected)
			}
		}
	}

	nd, ok := n.nodes[p.Address()]
	if !ok {
		return
	}
	nd.ctx.ParsePacket(p)
	if !nd.ctx.slave {
		for _, child := range n.children(nd.ctx) {
			child.ParsePacket(p)
		}
	}
}

// send writes one frame outside any schedule.
func (n *Network) send(dc *DeviceContext, frame []byte) {
	if err := n.sched.Send(frame); err != nil {
		n.logWarn("ksx send failed", "device", dc.addr.String(), "error", err)
	}
}

func (n *Network) schedule(sc *schedule.Schedule) error {
	if !n.attached {
		return ErrNotAttached
	}
	return n.sched.Schedule(sc)
}

func (n *Network) cancel(sc *schedule.Schedule) { n.sched.Cancel(sc) }

// txWriter counts and observes every frame written, scheduled or not.
type txWriter struct {
	n *Network
	w io.Writer
}

func (t txWriter) Write(frame []byte) (int, error) {
	written, err := t.w.Write(frame)
	if err != nil {
		t.n.count(func(s *NetworkStats) { s.WriteErrors++ })
		return written, err
	}
	t.n.count(func(s *NetworkStats) { s.FramesTx++ })
	if t.n.frameHook != nil {
		if p, _, derr := Decode(frame); derr == nil {
			t.n.frameHook(p, true)
		}
	}
	return written, nil
}

// Stats returns a snapshot of the traffic counters.
func (n *Network) Stats() NetworkStats {
	n.statsMu.Lock()
	s := n.stats
	n.statsMu.Unlock()
	s.Stream = n.reasm.Stats()
	return s
}

func (n *Network) count(fn func(*NetworkStats)) {
	n.statsMu.Lock()
	fn(&n.stats)
	n.statsMu.Unlock()
}

// discovery

// SetDiscoveryCallbacks replaces the scan event callbacks.
func (n *Network) SetDiscoveryCallbacks(cb discovery.Callbacks[*DeviceContext]) {
	n.scanner.SetCallbacks(cb)
}

// StartDiscovery pings candidate devices until each has answered a
// characteristic request or timeout passes. Candidates are standalone
// contexts; add the discovered ones with AddDevice.
//
// Parameters:
//   - timeout: Scan deadline; <= 0 pings every candidate once
//   - specs: Devices to look for
//
// Returns:
//   - error: ErrNotAttached without a stream, discovery.ErrNoCandidates
//     for an empty list
func (n *Network) StartDiscovery(timeout time.Duration, specs []DeviceSpec) error {
	if !n.attached {
		return ErrNotAttached
	}
	candidates := make([]*DeviceContext, 0, len(specs))
	for _, spec := range specs {
		candidates = append(candidates, newDeviceContext(n, spec))
	}
	return n.scanner.Start(timeout, candidates)
}

// StopDiscovery ends a running scan.
func (n *Network) StopDiscovery() { n.scanner.Stop() }

// Discovering reports whether a scan is running.
func (n *Network) Discovering() bool { return n.scanner.Running() }

// pingOncePerGroup skips a ping when the previous one went to the same
// group of the same kind, since the peer answers for the whole group.
func pingOncePerGroup(prev Address, hasPrev bool, next Address) bool {
	return !hasPrev ||
		prev.Kind() != next.Kind() ||
		!next.Sub().HasGroup() ||
		prev.Sub().Group() != next.Sub().Group()
}

// notifications

func (n *Network) propertyChanged(dc *DeviceContext, changed []property.Value) {
	if n.listener != nil {
		n.listener.PropertyChanged(dc, changed)
	}
}

func (n *Network) errorOccurred(dc *DeviceContext, code ErrorCode) {
	n.logDebug("ksx device error", "device", dc.addr.String(), "code", code.String())
	if n.listener != nil {
		n.listener.ErrorOccurred(dc, code)
	}
}

// logging

func (n *Network) getLogger() Logger {
	n.loggerMu.RLock()
	defer n.loggerMu.RUnlock()
	return n.logger
}

func (n *Network) logDebug(msg string, keysAndValues ...any) {
	if l := n.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (n *Network) logInfo(msg string, keysAndValues ...any) {
	if l := n.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (n *Network) logWarn(msg string, keysAndValues ...any) {
	if l := n.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// networkLogger hands the network's current logger to components that
// keep their own reference.
type networkLogger struct{ n *Network }

func (l networkLogger) Debug(msg string, args ...any) { l.n.logDebug(msg, args...) }
func (l networkLogger) Warn(msg string, args ...any)  { l.n.logWarn(msg, args...) }

// address helpers

func addressLess(a, b Address) bool {
	if a.Kind() != b.Kind() {
		return a.Kind() < b.Kind()
	}
	return a.Sub() < b.Sub()
}

func sortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addressLess(addrs[i], addrs[j]) })
}

func containsAddress(addrs []Address, a Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func removeAddress(addrs []Address, a Address) []Address {
	out := addrs[:0]
	for _, x := range addrs {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}
