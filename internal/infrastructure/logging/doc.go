// Package logging builds homenet's log/slog logger from config.yaml.
//
// Every entry carries service=homenet and the build version. Subsystems
// take a child from Component so entries can be filtered per part:
//
//	log := logging.New(cfg.Logging, version)
//	link := log.Component("transport")
//	link.Warn("line dropped", "endpoint", "/dev/ttyUSB0", "error", err)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Transport, broker and InfluxDB credentials from config.yaml never go
// into log fields.
package logging
