package ksx

import "github.com/nerrad567/gray-logic-homenet/internal/property"

// unknownAdapter serves kinds without a dedicated adapter. It only tracks
// presence, so as a slave it leaves status and characteristic requests
// unanswered: there is no state of that kind to report.
type unknownAdapter struct {
	BaseAdapter
}

func newUnknownAdapter() Adapter { return unknownAdapter{} }

func (unknownAdapter) StatusRsp(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultStateUpdated
}

func (unknownAdapter) CharacteristicRsp(*DeviceContext, Packet, property.Map) ParseResult {
	return ResultPeerDetected
}
