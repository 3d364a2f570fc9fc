// Package influxdb records homenet telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - ksx_property: one point per committed device property change,
//     tagged address/kind/property
//   - ksx_network: line counters of a bridge, written once a minute
//
// The client implements the bridge's change recorder, so it is handed to
// the bridge next to the SQLite history store:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Error("influx write", "error", err) })
//
// Points are batched by the library and written in the background. Batch
// failures are only visible through SetOnError and Stats.
package influxdb
