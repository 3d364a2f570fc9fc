package ksx

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/poller"
	"github.com/nerrad567/gray-logic-homenet/internal/property"
	"github.com/nerrad567/gray-logic-homenet/internal/schedule"
)

// updateDeferral coalesces bursts of update requests into one.
const updateDeferral = 10 * time.Millisecond

// Listener receives property and error notifications from contexts.
// Calls happen on the event loop.
type Listener interface {
	// PropertyChanged delivers only the values that changed.
	PropertyChanged(dc *DeviceContext, changed []property.Value)

	// ErrorOccurred delivers a peer-reported error.
	ErrorOccurred(dc *DeviceContext, code ErrorCode)
}

// DeviceContext is the protocol state machine of one logical device.
//
// Committed properties live in a Basic store; inbound frames and property
// tasks write through a staged view that is committed once per operation.
//
// Thread Safety:
//   - Everything except UpdateTime, Properties and Property runs on the
//     network's event loop.
type DeviceContext struct {
	net     *Network
	addr    Address
	adapter Adapter
	slave   bool

	base  *property.Basic
	rx    *property.Staged
	tasks *TaskTable

	phase    poller.Phase
	interval time.Duration

	characRetrieved bool
	autoCharac      *schedule.Schedule
	autoStatus      *schedule.Schedule
	scheduleErr     schedule.ErrorCode
	updatePending   bool

	// Read by the poller goroutine.
	lastUpdate    atomic.Int64
	statusHealthy atomic.Bool
}

// DeviceSpec describes a device to create.
type DeviceSpec struct {
	Address Address
	Name    string
	Area    int
	Slave   bool
}

func newDeviceContext(n *Network, spec DeviceSpec) *DeviceContext {
	dc := &DeviceContext{
		net:     n,
		addr:    spec.Address,
		adapter: n.registry.New(spec.Address.Kind()),
		slave:   spec.Slave,
		base:    property.NewBasic(),
		tasks:   newTaskTable(),
	}
	dc.rx = property.NewStaged(dc.base, false)

	property.PutAll(dc.rx, commonDefaults(spec.Address, spec.Name, spec.Area, spec.Slave)...)
	property.PutAll(dc.rx, dc.adapter.Defaults(dc)...)
	dc.rx.Commit()

	if dc.slave {
		for _, v := range dc.base.All() {
			dc.tasks.Reflect(v.Name())
		}
	} else {
		dc.tasks.Reflect(PropArea, PropName)
	}
	dc.adapter.BindTasks(dc, dc.tasks)
	return dc
}

// Address returns the device address.
func (dc *DeviceContext) Address() Address { return dc.addr }

// Kind returns the device kind.
func (dc *DeviceContext) Kind() Kind { return dc.addr.Kind() }

// IsSlave reports whether the context answers requests instead of issuing
// them.
func (dc *DeviceContext) IsSlave() bool { return dc.slave }

// IsDetected reports whether a characteristic response has been accepted.
func (dc *DeviceContext) IsDetected() bool { return dc.characRetrieved }

// SubID returns the sub-id of the device address.
func (dc *DeviceContext) SubID() SubID { return dc.addr.Sub() }

// Property returns one committed value.
func (dc *DeviceContext) Property(name string) (property.Value, bool) {
	return dc.base.Get(name)
}

// Properties returns a read-only view of the committed store.
func (dc *DeviceContext) Properties() property.ReadOnly {
	return property.NewReadOnly(dc.base)
}

// Children returns the contexts this context is the group parent of.
func (dc *DeviceContext) Children() []*DeviceContext {
	return dc.net.children(dc)
}

// Spec returns the identity the context was created with, with the
// current name and area.
func (dc *DeviceContext) Spec() DeviceSpec {
	return DeviceSpec{
		Address: dc.addr,
		Name:    property.Text(dc.base, PropName),
		Area:    property.Int(dc.base, PropArea),
		Slave:   dc.slave,
	}
}

// Phase returns the poll phase last assigned by the poller.
func (dc *DeviceContext) Phase() poller.Phase { return dc.phase }

// SetProperty runs the tasks bound to the requested names and commits the
// result once.
//
// Parameters:
//   - values: Requested values; names without a task are ignored
//
// Returns:
//   - []property.Value: Values that actually changed
func (dc *DeviceContext) SetProperty(values ...property.Value) []property.Value {
	req := property.NewStaged(dc.base, true)
	names := make([]string, 0, len(values))
	for _, v := range values {
		if !req.Put(v) {
			dc.net.logWarn("ksx property rejected", "device", dc.addr.String(), "property", v.String())
			continue
		}
		names = append(names, v.Name())
	}

	for _, task := range dc.tasks.lookup(names) {
		task(req, dc.rx)
	}
	req.ClearStaged()
	return dc.commit()
}

// UpdateProperties stages values directly, bypassing tasks, and commits.
func (dc *DeviceContext) UpdateProperties(values ...property.Value) []property.Value {
	property.PutAll(dc.rx, values...)
	return dc.commit()
}

// ParsePacket applies an inbound frame.
func (dc *DeviceContext) ParsePacket(p Packet) ParseResult {
	dc.lastUpdate.Store(dc.net.queue.Now().UnixNano())

	res := dc.parse(p, dc.rx)
	if res <= ResultNone {
		dc.rx.ClearStaged()
		return res
	}
	if res != ResultErrorReceived {
		dc.rx.Put(property.New(PropError, int(ErrorNone)))
	}
	dc.commit()
	return res
}

func (dc *DeviceContext) parse(p Packet, out property.Map) ParseResult {
	a := dc.adapter

	switch cls := p.Command.Class(); cls {
	case ClassGroupControlReq, ClassExtensionReq, ClassExtensionRsp:
		return a.Extension(dc, p, out)
	case ClassUnknown:
		return ResultNone
	}

	if !dc.capableOfPacket(p.Command, p.Sub) {
		return ResultNone
	}
	// A slave individual does not parse its share of a combined frame.
	if dc.slave && p.Sub.HasFull() && p.Sub != dc.addr.Sub() {
		return ResultNone
	}
	dc.setScheduleErr(0)

	switch p.Command.Class() {
	case ClassStatusReq:
		return a.StatusReq(dc, p, out)
	case ClassStatusRsp:
		return a.StatusRsp(dc, p, out)
	case ClassCharacteristicReq:
		return a.CharacteristicReq(dc, p, out)
	case ClassCharacteristicRsp:
		res := a.CharacteristicRsp(dc, p, out)
		if res >= ResultNone {
			dc.characRetrieved = true
		}
		return res
	case ClassSingleControlReq:
		return a.SingleControlReq(dc, p, out)
	case ClassSingleControlRsp:
		return a.SingleControlRsp(dc, p, out)
	default:
		return ResultNone
	}
}

// commit applies rx and notifies the listener of what changed.
func (dc *DeviceContext) commit() []property.Value {
	if !dc.rx.IsStaging() {
		return nil
	}
	changed := dc.rx.Commit()
	if len(changed) > 0 {
		dc.net.propertyChanged(dc, changed)
	}
	return changed
}

// applyAndCommit runs fn against the context's staged view and commits.
func (dc *DeviceContext) applyAndCommit(fn func(out property.Map)) {
	fn(dc.rx)
	dc.commit()
}

// reportError records code in 0.error and notifies the listener. The frame
// state that carried the error is not applied.
func (dc *DeviceContext) reportError(code ErrorCode, out property.Map) ParseResult {
	out.Put(property.New(PropError, int(code)))
	dc.net.errorOccurred(dc, code)
	return ResultErrorReceived
}

// capabilities

func (dc *DeviceContext) caps() Capability { return dc.adapter.Capabilities() }

func (dc *DeviceContext) statusCapable(sub SubID) bool {
	return (sub.HasSingle() && dc.caps().Has(CapStatusSingle)) ||
		(sub.HasFull() && dc.caps().Has(CapStatusMulti))
}

func (dc *DeviceContext) characCapable(sub SubID) bool {
	return (sub.HasSingle() && dc.caps().Has(CapCharacSingle)) ||
		(sub.HasFull() && dc.caps().Has(CapCharacMulti))
}

func (dc *DeviceContext) capableOfPacket(cmd Command, sub SubID) bool {
	switch cmd {
	case CmdStatusReq, CmdStatusRsp:
		return dc.statusCapable(sub)
	case CmdCharacteristicReq, CmdCharacteristicRsp:
		return dc.characCapable(sub)
	}
	return true
}

// packet builds a frame from this context. Status and characteristic
// requests of grouped devices go to the whole group.
func (dc *DeviceContext) packet(cmd Command, data ...byte) Packet {
	p := Packet{Kind: dc.addr.Kind(), Sub: dc.addr.Sub(), Command: cmd, Data: data}
	if p.Data == nil {
		p.Data = []byte{}
	}
	if cmd == CmdStatusReq || cmd == CmdCharacteristicReq {
		if p.Sub.Value()&subGroupMask != 0 && dc.capableOfPacket(cmd, p.Sub) {
			p.Sub |= subFull
		}
		if p.Kind.queriesAsFull() {
			p.Sub |= subFull
		}
	}
	return p
}

// sending

func (dc *DeviceContext) send(p Packet) {
	dc.sendRepeated(p, 0)
}

// sendRepeated sends p once plus repeat more times, through the scheduler
// when possible.
func (dc *DeviceContext) sendRepeated(p Packet, repeat int) {
	frame, err := p.Encode()
	if err != nil {
		dc.net.logWarn("ksx encode failed", "device", dc.addr.String(), "error", err)
		return
	}
	if repeat > 0 {
		sc := &schedule.Schedule{Frame: frame, RepeatCount: repeat}
		if dc.net.schedule(sc) == nil {
			return
		}
	}
	for i := 0; i <= repeat; i++ {
		dc.net.send(dc, frame)
	}
}

func (dc *DeviceContext) newAutoSchedule(p Packet, interval time.Duration, allowSame bool) *schedule.Schedule {
	return &schedule.Schedule{
		Frame:          p.MustEncode(),
		RepeatCount:    schedule.Infinite,
		RepeatInterval: interval,
		AllowSameRx:    allowSame,
		MatchRx:        matchResponse(p),
		OnExit:         dc.onScheduleExit,
		OnError:        dc.onScheduleError,
	}
}

// matchResponse matches frames answering p.
func matchResponse(p Packet) func(rx []byte) bool {
	kind, sub, rsp := byte(p.Kind), p.Sub.Value(), byte(p.Command.Response())
	return func(rx []byte) bool {
		return len(rx) >= MinFrameSize && rx[1] == kind && rx[2] == sub && rx[3] == rsp
	}
}

func (dc *DeviceContext) onScheduleExit(s *schedule.Schedule) {
	if s == dc.autoCharac {
		dc.autoCharac = nil
	}
	if s == dc.autoStatus {
		dc.autoStatus = nil
	}
	dc.syncStatusHealth()
}

func (dc *DeviceContext) onScheduleError(_ *schedule.Schedule, code schedule.ErrorCode) {
	dc.setScheduleErr(code)
}

func (dc *DeviceContext) setScheduleErr(code schedule.ErrorCode) {
	dc.scheduleErr = code
	dc.syncStatusHealth()
}

func (dc *DeviceContext) syncStatusHealth() {
	dc.statusHealthy.Store(dc.autoStatus != nil && dc.scheduleErr == 0)
}

func (dc *DeviceContext) cancelAutoSchedules() {
	if dc.autoCharac != nil {
		s := dc.autoCharac
		dc.autoCharac = nil
		dc.net.cancel(s)
	}
	if dc.autoStatus != nil {
		s := dc.autoStatus
		dc.autoStatus = nil
		dc.net.cancel(s)
	}
	dc.syncStatusHealth()
}

// polling

// SetPollPhase is called by the poller on the event loop.
func (dc *DeviceContext) SetPollPhase(phase poller.Phase, interval time.Duration) {
	if phase != dc.phase {
		if phase == poller.PhaseNapping {
			// Characteristics are fetched again when the device wakes up.
			dc.characRetrieved = false
			dc.cancelAutoSchedules()
		}
		connected := phase == poller.PhaseWorking && !dc.addr.Sub().IsAll()
		dc.rx.Put(property.New(PropConnected, connected))
		dc.commit()
	}
	dc.phase = phase
	dc.interval = interval
	dc.RequestUpdate()
}

// RequestUpdate asks for fresh state after a short deferral. Requests made
// while one is pending are merged.
func (dc *DeviceContext) RequestUpdate() {
	if dc.updatePending {
		return
	}
	dc.updatePending = true
	dc.net.queue.AfterFunc(updateDeferral, func() {
		dc.updatePending = false
		dc.requestUpdateNow()
	})
}

func (dc *DeviceContext) requestUpdateNow() {
	if dc.slave || dc.addr.Sub().IsAll() || !dc.net.attached {
		return
	}

	if !dc.characRetrieved {
		if dc.autoCharac != nil {
			return
		}
		if !dc.characCapable(dc.addr.Sub()) {
			dc.borrowChildUpdateTime()
			return
		}

		req := dc.packet(CmdCharacteristicReq)
		if dc.phase != poller.PhaseNapping {
			dc.send(req)
			return
		}

		// Spread napping devices so they do not hit the bus together.
		interval := dc.interval
		if half := int64(interval / 2); half > 0 {
			interval += time.Duration(rand.Int64N(half))
		}
		sc := dc.newAutoSchedule(req, interval, true)
		if dc.net.schedule(sc) == nil {
			dc.autoCharac = sc
		} else {
			dc.send(req)
		}
		return
	}

	dc.cancelAutoSchedules()
	if !dc.statusCapable(dc.addr.Sub()) {
		dc.borrowChildUpdateTime()
		return
	}

	req := dc.packet(CmdStatusReq)
	sc := dc.newAutoSchedule(req, dc.interval, false)
	if dc.interval > 0 && dc.net.schedule(sc) == nil {
		dc.autoStatus = sc
		dc.syncStatusHealth()
		return
	}
	dc.send(req)
}

func (dc *DeviceContext) borrowChildUpdateTime() {
	if children := dc.Children(); len(children) > 0 {
		dc.lastUpdate.Store(children[0].lastUpdate.Load())
	}
}

// UpdateTime returns when the device last reported. Safe for concurrent
// use.
func (dc *DeviceContext) UpdateTime() time.Time {
	if !dc.slave {
		// A healthy status schedule keeps the state current by itself, and
		// the everyone address can never answer.
		if dc.statusHealthy.Load() || dc.addr.Sub().IsAll() {
			return dc.net.queue.Now()
		}
	}
	ns := dc.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// onAttached is called when the network gains a stream.
func (dc *DeviceContext) onAttached() {
	dc.RequestUpdate()
}

// onDetached is called when the network loses its stream.
func (dc *DeviceContext) onDetached() {
	dc.characRetrieved = false
	dc.cancelAutoSchedules()
	dc.setScheduleErr(0)
}

// checkRange applies the network's range policy to v. It returns the value
// to use and false when the policy rejects it.
func (dc *DeviceContext) checkRange(name string, v, lo, hi int) (int, bool) {
	if v >= lo && v <= hi {
		return v, true
	}
	dc.net.logWarn("ksx value out of range",
		"device", dc.addr.String(),
		"field", name,
		"value", v,
		"min", lo,
		"max", hi,
		"policy", dc.net.policy.String(),
	)
	if dc.net.policy == RangeReject {
		return v, false
	}
	return min(max(v, lo), hi), true
}

// controlTask sends the adapter's single control request built from req.
func (dc *DeviceContext) controlTask() TaskFunc {
	return func(req property.Reader, _ property.Map) bool {
		p, ok := dc.adapter.ControlReq(dc, req)
		if !ok {
			return false
		}
		dc.send(p)
		return true
	}
}
