// Package ksx implements the KS X 4506 home network protocol bridge for
// homenet.
//
// A master controller and peer devices (lights, gas valves, thermostats and
// so on) share one RS-485 line and exchange small checksummed frames. This
// package decodes those frames, keeps one protocol state machine per device,
// polls live state and turns property writes into control frames. It can
// also play the slave side and answer a master's requests.
//
// # Architecture
//
//	┌─────────────┐         ┌──────────────────────────────┐
//	│   homenet   │  MQTT   │  Bridge                      │
//	│    Core     │◄───────►│    Network                   │  bytes
//	└─────────────┘         │      DeviceContext ×N        │◄───────► RS-485
//	                        │      scheduler, poller,      │
//	                        │      scanner, reassembler    │
//	                        └──────────────────────────────┘
//
// # Frames
//
// Every frame is laid out as
//
//	F7 kind sub cmd len payload... xor add
//
// where xor covers every byte from F7 to the end of the payload and add is
// the byte sum of everything before it, including xor.
//
//	p := ksx.Packet{Kind: ksx.KindLight, Sub: 0x01, Command: ksx.CmdStatusReq}
//	frame, err := p.Encode() // F7 0E 01 01 00 F9 00
//
// # Addresses
//
// A device is addressed as "::KKSS": kind id and sub-id in hex. The low
// nibble of the sub-id picks a device within a group (F for all of them),
// the high nibble picks the group, and FF addresses every device of the
// kind.
//
// # Thread Safety
//
// A Network and its contexts are owned by one event loop. Feed, Attach,
// AddDevice and SetProperty must run on that loop; use Network.Post from
// other goroutines. Network.Write, Stats and DeviceContext.UpdateTime are
// safe from any goroutine.
package ksx
