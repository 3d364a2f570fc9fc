// Package config reads homenet's YAML configuration.
//
// Load starts from defaults, overlays the file, then HOMENET_SECTION_KEY
// environment variables, and validates the result. The KSX section names
// the line transport (serial, tcp or websocket), the station role, the
// configured devices and the discovery ranges; the other sections switch
// the MQTT, SQLite, InfluxDB and HTTP API integrations on and off.
//
// Put the broker password, InfluxDB token and websocket password in
// HOMENET_MQTT_PASSWORD, HOMENET_INFLUXDB_TOKEN and HOMENET_KSX_PASSWORD
// rather than the file, and keep the file mode at 0600.
//
//	cfg, err := config.Load("/etc/homenet/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	dialer, err := transport.NewDialer(cfg.KSX.Transport)
package config
