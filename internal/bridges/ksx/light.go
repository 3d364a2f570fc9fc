package ksx

import "github.com/nerrad567/gray-logic-homenet/internal/property"

// CmdBatchLightOffReq switches every light of the household at once.
const CmdBatchLightOffReq Command = 0x43

// groupControlRepeat is how many extra times unacknowledged group frames
// are sent.
const groupControlRepeat = 3

// Light state byte layout.
const (
	lightStateOn     = 1 << 0
	lightStateDimmer = 1 << 1
	lightLevelShift  = 4
	lightLevelMask   = 0x0F
)

// lightAdapter implements kind 0x0E.
type lightAdapter struct {
	BaseAdapter

	// totalInGroup is the light count learnt from the last
	// characteristic response.
	totalInGroup int
}

func newLightAdapter() Adapter { return &lightAdapter{} }

func (a *lightAdapter) Defaults(*DeviceContext) []property.Value {
	return []property.Value{
		property.New(PropDimSupported, false),
		property.New(PropMinDimLevel, 0),
		property.New(PropMaxDimLevel, lightLevelMask),
		property.New(PropCurDimLevel, 0),
		property.New(PropBatchLightOff, false),
	}
}

func (a *lightAdapter) BindTasks(dc *DeviceContext, t *TaskTable) {
	if dc.IsSlave() {
		t.Bind(a.slaveOnOffTask(dc), PropOnOff)
		return
	}
	t.Bind(a.controlTask(dc), PropOnOff, PropCurDimLevel)
	t.Bind(a.batchOffTask(dc), PropBatchLightOff)
}

func (a *lightAdapter) Extension(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if p.Command != CmdGroupControlReq {
		return ResultNone
	}
	return a.groupControl(dc, p, out)
}

func (a *lightAdapter) groupControl(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 1 {
		return ResultMalformed
	}
	on := p.Data[0] == 0x01
	out.Put(property.New(PropOnOff, on))

	for _, child := range dc.Children() {
		if ca, ok := child.adapter.(*lightAdapter); ok {
			child.applyAndCommit(func(cout property.Map) { ca.groupControl(child, p, cout) })
		}
	}
	return ResultStateUpdated
}

// master

func (a *lightAdapter) StatusRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 2 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorUnknown, out)
	}

	if p.Sub.IsSingle() {
		return a.applyState(dc, p.Data[1], out)
	}

	index := int(dc.SubID().Single())
	switch {
	case index == subFull:
		on := false
		for i := 1; i <= a.totalInGroup && i < len(p.Data); i++ {
			on = on || p.Data[i]&lightStateOn != 0
		}
		out.Put(property.New(PropOnOff, on))
	case index != 0 && index < len(p.Data):
		return a.applyState(dc, p.Data[index], out)
	default:
		if _, ok := dc.checkRange("group slot", index, 1, len(p.Data)-1); !ok {
			return ResultMalformed
		}
	}
	return ResultStateUpdated
}

func (a *lightAdapter) CharacteristicRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 3 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorUnknown, out)
	}

	normal, dimmable := int(p.Data[1]), int(p.Data[2])
	total := normal + dimmable

	if p.Sub.IsSingle() {
		a.totalInGroup = 1
		out.Put(property.New(PropDimSupported, dimmable > 0))
		return ResultPeerDetected
	}
	a.totalInGroup = total

	index := int(dc.SubID().Single())
	if index > total {
		return ResultNone
	}

	if len(p.Data) < 5 {
		// Short responses carry no flags; all-dimmable groups are the
		// only unambiguous case.
		out.Put(property.New(PropDimSupported, dimmable == total))
		return ResultPeerDetected
	}

	flags := uint16(p.Data[3]) | uint16(p.Data[4])<<8
	dim := index >= minIndividual && index <= maxIndividual && flags&(1<<(index-1)) != 0
	out.Put(property.New(PropDimSupported, dim))
	return ResultPeerDetected
}

func (a *lightAdapter) SingleControlRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) != 2 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorCantControl, out)
	}
	if res := a.applyState(dc, p.Data[1], out); res != ResultStateUpdated {
		return res
	}
	return ResultActionPerformed
}

func (a *lightAdapter) ControlReq(dc *DeviceContext, req property.Reader) (Packet, bool) {
	on := property.Bool(req, PropOnOff)
	level := property.Int(req, PropCurDimLevel)
	if cur, ok := dc.Property(PropCurDimLevel); ok && cur.Int() == level {
		level = 0
	}
	return dc.packet(CmdSingleControlReq, controlByte(on, level)), true
}

func (a *lightAdapter) controlTask(dc *DeviceContext) TaskFunc {
	single := dc.controlTask()
	return func(req property.Reader, out property.Map) bool {
		if sub := dc.SubID(); sub.IsFullOfGroup() || sub.IsAll() {
			dc.sendRepeated(dc.packet(CmdGroupControlReq, boolByte(property.Bool(req, PropOnOff))), groupControlRepeat)
			return true
		}
		return single(req, out)
	}
}

func (a *lightAdapter) batchOffTask(dc *DeviceContext) TaskFunc {
	return func(req property.Reader, _ property.Map) bool {
		off := property.Bool(req, PropBatchLightOff)
		dc.sendRepeated(dc.packet(CmdBatchLightOffReq, boolByte(!off)), groupControlRepeat)
		return true
	}
}

// slave

func (a *lightAdapter) StatusReq(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	data := []byte{0}
	if dc.SubID().HasSingle() {
		data = append(data, stateByte(out))
	} else {
		for _, child := range dc.Children() {
			data = append(data, stateByte(child.base))
		}
	}
	dc.send(dc.packet(CmdStatusRsp, data...))
	return ResultStateUpdated
}

func (a *lightAdapter) CharacteristicReq(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	var normal, dimmable byte
	var flags uint16

	if dc.SubID().HasSingle() {
		if property.Bool(dc.base, PropDimSupported) {
			dimmable = 1
		} else {
			normal = 1
		}
	} else {
		for _, child := range dc.Children() {
			index := normal + dimmable
			if property.Bool(child.base, PropDimSupported) {
				flags |= 1 << index
				dimmable++
			} else {
				normal++
			}
		}
	}

	dc.send(dc.packet(CmdCharacteristicRsp, 0, normal, dimmable, byte(flags), byte(flags>>8)))
	return ResultStateUpdated
}

func (a *lightAdapter) SingleControlReq(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 1 {
		return ResultMalformed
	}
	on := p.Data[0]&lightStateOn != 0
	out.Put(property.New(PropOnOff, on))
	if on {
		out.Put(property.New(PropCurDimLevel, int(p.Data[0]>>lightLevelShift)&lightLevelMask))
	}

	// out still holds what this frame staged; the answer must reflect it.
	dc.send(dc.packet(CmdSingleControlRsp, 0, stateByte(out)))
	return ResultActionPerformed
}

func (a *lightAdapter) slaveOnOffTask(dc *DeviceContext) TaskFunc {
	return func(req property.Reader, out property.Map) bool {
		v, ok := req.Get(PropOnOff)
		if !ok {
			return false
		}
		if sub := dc.SubID(); sub.IsFullOfGroup() || sub.IsAll() {
			propagateToChildren(dc, v)
		}
		out.Put(v)
		return true
	}
}

func propagateToChildren(dc *DeviceContext, v property.Value) {
	for _, child := range dc.Children() {
		child.UpdateProperties(v)
		propagateToChildren(child, v)
	}
}

// state byte codec

// applyState decodes a state byte into out, checking the level against
// the configured bounds.
func (a *lightAdapter) applyState(dc *DeviceContext, state byte, out property.Map) ParseResult {
	level := int(state>>lightLevelShift) & lightLevelMask
	if state&lightStateDimmer != 0 {
		lo, hi := property.Int(out, PropMinDimLevel), property.Int(out, PropMaxDimLevel)
		var ok bool
		if level, ok = dc.checkRange(PropCurDimLevel, level, lo, hi); !ok {
			return ResultMalformed
		}
	}
	out.Put(property.New(PropOnOff, state&lightStateOn != 0))
	out.Put(property.New(PropDimSupported, state&lightStateDimmer != 0))
	out.Put(property.New(PropCurDimLevel, level))
	return ResultStateUpdated
}

func stateByte(r property.Reader) byte {
	var state byte
	if property.Bool(r, PropOnOff) {
		state |= lightStateOn
	}
	if property.Bool(r, PropDimSupported) {
		state |= lightStateDimmer
	}
	return state | byte(property.Int(r, PropCurDimLevel)&lightLevelMask)<<lightLevelShift
}

func controlByte(on bool, level int) byte {
	return boolByte(on) | byte(level&lightLevelMask)<<lightLevelShift
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
