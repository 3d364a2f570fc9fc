package ksx

import "github.com/nerrad567/gray-logic-homenet/internal/property"

// Common property names carried by every device.
const (
	PropAddr      = "0.addr"
	PropArea      = "0.area"
	PropName      = "0.name"
	PropConnected = "0.connected"
	PropOnOff     = "0.onoff"
	PropError     = "0.error"
	PropIsSlave   = "0.is_slave"
)

// Light property names.
const (
	PropDimSupported  = "ld.dim_supported"
	PropMinDimLevel   = "ld.min_dim_level"
	PropMaxDimLevel   = "ld.max_dim_level"
	PropCurDimLevel   = "ld.cur_dim_level"
	PropBatchLightOff = "ld.batch_light_off"
)

// Gas valve property names. All four hold int64 bit sets.
const (
	PropSupportedStates = "gv.supported_states"
	PropCurrentStates   = "gv.current_states"
	PropSupportedAlarms = "gv.supported_alarms"
	PropCurrentAlarms   = "gv.current_alarms"
)

// Gas valve state and alarm bits.
const (
	GasValveStateValve int64 = 1 << 0

	GasValveAlarmExtinguisherBuzzing int64 = 1 << 1
	GasValveAlarmGasLeakage          int64 = 1 << 2
)

// AreaUnknown is the default 0.area value.
const AreaUnknown = 0

// commonDefaults returns the properties every context starts with.
func commonDefaults(addr Address, name string, area int, slave bool) []property.Value {
	return []property.Value{
		property.New(PropAddr, addr.String()),
		property.New(PropArea, area),
		property.New(PropName, name),
		property.New(PropConnected, false),
		property.New(PropOnOff, false),
		property.New(PropError, int(ErrorNone)),
		property.New(PropIsSlave, slave),
	}
}
