// Package mqtt is homenet's broker client, a thin layer over paho.
//
// On top of paho it adds:
//   - topic, QoS and payload checks before anything reaches the socket
//   - subscriptions that survive reconnects (sessions are clean, so the
//     client replays them itself from the connect handler)
//   - retained online/offline documents on homenet/system/status, with a
//     will for crashes that a bridge can replace via Options.Will
//   - panic recovery around message handlers
//
// The ksx bridge reaches it through a two-method adapter in cmd/homenet,
// so bridge tests run without a broker. This package's own tests use an
// in-process mochi broker.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Options{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommand("ksx", "+"), 1, onCommand)
package mqtt
