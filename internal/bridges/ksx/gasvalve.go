package ksx

import "github.com/nerrad567/gray-logic-homenet/internal/property"

// Gas valve state byte bits.
const (
	gasStateOpened   = 1 << 0
	gasStateClosed   = 1 << 1
	gasStateChanging = 1 << 2
	gasStateBuzzer   = 1 << 3
	gasStateLeakage  = 1 << 4
)

// Gas valve characteristic and control bits.
const (
	gasCharacBuzzer  = 1 << 0
	gasCharacLeakage = 1 << 1

	gasControlClose      = 1 << 0
	gasControlStopBuzzer = 1 << 1
)

// gasValveAdapter implements kind 0x12.
type gasValveAdapter struct {
	BaseAdapter
}

func newGasValveAdapter() Adapter { return gasValveAdapter{} }

func (gasValveAdapter) Capabilities() Capability { return CapStatusSingle | CapCharacSingle }

func (gasValveAdapter) Defaults(dc *DeviceContext) []property.Value {
	supportedStates, supportedAlarms := int64(0), int64(0)
	if dc.IsSlave() {
		supportedStates = GasValveStateValve
		supportedAlarms = GasValveAlarmExtinguisherBuzzing | GasValveAlarmGasLeakage
	}
	return []property.Value{
		property.New(PropSupportedStates, supportedStates),
		property.New(PropCurrentStates, int64(0)),
		property.New(PropSupportedAlarms, supportedAlarms),
		property.New(PropCurrentAlarms, int64(0)),
	}
}

func (a gasValveAdapter) BindTasks(dc *DeviceContext, t *TaskTable) {
	if dc.IsSlave() {
		t.Bind(slaveSupportedStatesTask, PropSupportedStates)
		t.Bind(a.slaveCurrentStatesTask(dc), PropCurrentStates, PropOnOff)
		return
	}
	t.Bind(dc.controlTask(), PropCurrentStates, PropCurrentAlarms, PropOnOff)
}

func (a gasValveAdapter) Extension(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if p.Command != CmdGroupControlReq {
		return ResultNone
	}
	return a.groupControl(dc, p, out)
}

func (a gasValveAdapter) groupControl(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 1 {
		return ResultMalformed
	}
	applyControlByte(dc, p.Data[0], out)
	for _, child := range dc.Children() {
		if _, ok := child.adapter.(gasValveAdapter); ok {
			child.applyAndCommit(func(cout property.Map) { a.groupControl(child, p, cout) })
		}
	}
	return ResultStateUpdated
}

// master

func (gasValveAdapter) StatusRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 2 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorUnknown, out)
	}
	applyGasState(p.Data[1], out)
	return ResultStateUpdated
}

func (gasValveAdapter) CharacteristicRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 2 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorUnknown, out)
	}

	var alarms int64
	if p.Data[1]&gasCharacBuzzer != 0 {
		alarms |= GasValveAlarmExtinguisherBuzzing
	}
	if p.Data[1]&gasCharacLeakage != 0 {
		alarms |= GasValveAlarmGasLeakage
	}
	// Every valve supports the valve state itself.
	out.Put(property.New(PropSupportedStates, GasValveStateValve))
	out.Put(property.New(PropSupportedAlarms, alarms))
	return ResultPeerDetected
}

func (gasValveAdapter) SingleControlRsp(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 2 {
		return ResultMalformed
	}
	if p.Data[0] != 0 {
		return dc.reportError(ErrorUnknown, out)
	}
	applyGasState(p.Data[1], out)
	return ResultActionPerformed
}

func (gasValveAdapter) ControlReq(dc *DeviceContext, req property.Reader) (Packet, bool) {
	curStates := property.Int64(dc.base, PropCurrentStates)
	reqStates := requestedStates(dc, req)
	difStates := curStates ^ reqStates

	curAlarms := property.Int64(dc.base, PropCurrentAlarms)
	reqAlarms := property.Int64(req, PropCurrentAlarms)
	difAlarms := curAlarms ^ reqAlarms

	var control byte
	if difStates&GasValveStateValve != 0 && reqStates&GasValveStateValve == 0 {
		control |= gasControlClose
	}
	if difAlarms&GasValveAlarmExtinguisherBuzzing != 0 && reqAlarms&GasValveAlarmExtinguisherBuzzing == 0 {
		control |= gasControlStopBuzzer
	}
	// A leakage alarm cannot be released remotely.

	return dc.packet(CmdSingleControlReq, control), true
}

// requestedStates lets 0.onoff drive the valve bit when the request does
// not change it directly.
func requestedStates(dc *DeviceContext, req property.Reader) int64 {
	reqStates := property.Int64(req, PropCurrentStates)
	if (property.Int64(dc.base, PropCurrentStates)^reqStates)&GasValveStateValve != 0 {
		return reqStates
	}
	if on := property.Bool(req, PropOnOff); on != property.Bool(dc.base, PropOnOff) {
		if on {
			return reqStates | GasValveStateValve
		}
		return reqStates &^ GasValveStateValve
	}
	return reqStates
}

// slave

func (gasValveAdapter) StatusReq(dc *DeviceContext, _ Packet, _ property.Map) ParseResult {
	dc.send(dc.packet(CmdStatusRsp, 0, gasStateByte(dc.base)))
	return ResultStateUpdated
}

func (gasValveAdapter) CharacteristicReq(dc *DeviceContext, _ Packet, _ property.Map) ParseResult {
	alarms := property.Int64(dc.base, PropSupportedAlarms)
	var charac byte
	if alarms&GasValveAlarmExtinguisherBuzzing != 0 {
		charac |= gasCharacBuzzer
	}
	if alarms&GasValveAlarmGasLeakage != 0 {
		charac |= gasCharacLeakage
	}
	dc.send(dc.packet(CmdCharacteristicRsp, 0, charac))
	return ResultStateUpdated
}

func (gasValveAdapter) SingleControlReq(dc *DeviceContext, p Packet, out property.Map) ParseResult {
	if len(p.Data) < 1 {
		return ResultMalformed
	}
	applyControlByte(dc, p.Data[0], out)
	dc.send(dc.packet(CmdSingleControlRsp, 0, gasStateByte(out)))
	return ResultStateUpdated
}

func slaveSupportedStatesTask(req property.Reader, out property.Map) bool {
	return out.Put(property.New(PropSupportedStates, property.Int64(req, PropSupportedStates)|GasValveStateValve))
}

func (gasValveAdapter) slaveCurrentStatesTask(dc *DeviceContext) TaskFunc {
	return func(req property.Reader, out property.Map) bool {
		newStates := property.Int64(req, PropCurrentStates)
		newOn := property.Bool(req, PropOnOff)

		if newStates != property.Int64(dc.base, PropCurrentStates) {
			newOn = newStates&GasValveStateValve != 0
		} else if newOn != property.Bool(dc.base, PropOnOff) {
			if newOn {
				newStates |= GasValveStateValve
			} else {
				newStates &^= GasValveStateValve
			}
		}

		out.Put(property.New(PropCurrentStates, newStates))
		out.Put(property.New(PropOnOff, newOn))
		return true
	}
}

// byte codecs

func applyGasState(state byte, out property.Map) {
	var states, alarms int64
	if state&(gasStateOpened|gasStateChanging) != 0 {
		// A valve in motion counts as open.
		states |= GasValveStateValve
	}
	if state&gasStateBuzzer != 0 {
		alarms |= GasValveAlarmExtinguisherBuzzing
	}
	if state&gasStateLeakage != 0 {
		alarms |= GasValveAlarmGasLeakage
	}
	out.Put(property.New(PropOnOff, states&GasValveStateValve != 0))
	out.Put(property.New(PropCurrentStates, states))
	out.Put(property.New(PropCurrentAlarms, alarms))
}

func gasStateByte(r property.Reader) byte {
	states := property.Int64(r, PropCurrentStates)
	alarms := property.Int64(r, PropCurrentAlarms)

	var state byte
	if states&GasValveStateValve != 0 {
		state |= gasStateOpened
	} else {
		state |= gasStateClosed
	}
	if alarms&GasValveAlarmExtinguisherBuzzing != 0 {
		state |= gasStateBuzzer
	}
	if alarms&GasValveAlarmGasLeakage != 0 {
		state |= gasStateLeakage
	}
	return state
}

func applyControlByte(dc *DeviceContext, control byte, out property.Map) {
	closeValve := control&gasControlClose != 0
	stopBuzzer := control&gasControlStopBuzzer != 0

	if property.Int64(dc.base, PropSupportedStates)&GasValveStateValve != 0 {
		property.PutBit(out, PropCurrentStates, GasValveStateValve, !closeValve)
		out.Put(property.New(PropOnOff, !closeValve))
	}
	if stopBuzzer && property.Int64(out, PropSupportedAlarms)&GasValveAlarmExtinguisherBuzzing != 0 {
		property.PutBit(out, PropCurrentAlarms, GasValveAlarmExtinguisherBuzzing, false)
	}
}
