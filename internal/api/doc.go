// Package api provides a read-only HTTP view of the device network.
//
// It exposes the current device state, the recorded state history and a
// health summary to tools that do not speak MQTT. Commands still travel
// over the MQTT command topics; the only write is a state refresh.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
