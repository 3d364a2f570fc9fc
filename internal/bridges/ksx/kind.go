package ksx

import "fmt"

// Kind is the device category id carried in the first address byte.
type Kind byte

// Device kinds known to this bridge.
const (
	KindAirConditioner    Kind = 0x02
	KindLight             Kind = 0x0E
	KindGasValve          Kind = 0x12
	KindCurtain           Kind = 0x13
	KindHouseMeter        Kind = 0x30
	KindDoorLock          Kind = 0x31
	KindVentilation       Kind = 0x32
	KindBatchSwitch       Kind = 0x33
	KindSecurityExpansion Kind = 0x34
	KindBoiler            Kind = 0x35
	KindThermostat        Kind = 0x36
	KindPowerSaver        Kind = 0x39
)

var kindNames = map[Kind]string{
	KindAirConditioner:    "air_conditioner",
	KindLight:             "light",
	KindGasValve:          "gas_valve",
	KindCurtain:           "curtain",
	KindHouseMeter:        "house_meter",
	KindDoorLock:          "door_lock",
	KindVentilation:       "ventilation",
	KindBatchSwitch:       "batch_switch",
	KindSecurityExpansion: "security_expansion",
	KindBoiler:            "boiler",
	KindThermostat:        "thermostat",
	KindPowerSaver:        "power_saver",
}

// String returns the snake_case kind name, or "unknown_XX".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%02X", byte(k))
}

// Known reports whether k is a registered kind id.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// queriesAsFull reports kinds that are always queried with the full
// sub-id even for single devices.
func (k Kind) queriesAsFull() bool {
	return k == KindHouseMeter || k == KindThermostat
}
