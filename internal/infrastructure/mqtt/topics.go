package mqtt

// TopicPrefix is the base for every homenet topic. Bridges publish under
// homenet/{category}/{protocol}/{address}; the ksx bridge builds its own
// topics in messages.go on the same scheme.
const TopicPrefix = "homenet"

// Topics builds the process-level topics the client itself uses, plus the
// per-device pair shared by bridges and their consumers.
type Topics struct{}

// SystemStatus is the retained online/offline topic, also the default will.
func (Topics) SystemStatus() string { return TopicPrefix + "/system/status" }

// BridgeState returns the retained state topic of one device.
func (Topics) BridgeState(protocol, address string) string {
	return TopicPrefix + "/state/" + protocol + "/" + address
}

// BridgeCommand returns the command topic of one device. Pass "+" as the
// address for a subscription filter.
func (Topics) BridgeCommand(protocol, address string) string {
	return TopicPrefix + "/command/" + protocol + "/" + address
}
