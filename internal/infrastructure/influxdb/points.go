package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementProperty holds one point per committed property change.
	MeasurementProperty = "ksx_property"

	// MeasurementNetwork holds periodic line counters.
	MeasurementNetwork = "ksx_network"
)

// RecordChange writes a property change as a ksx_property point tagged
// with the device address, kind and property name. Numbers and booleans go
// to the "value" field (booleans as 0/1) so they graph; strings go to
// "text". Other types are dropped.
//
// The write never fails synchronously; batch errors reach the SetOnError
// callback.
func (c *Client) RecordChange(_ context.Context, address, kind, name string, value any, at time.Time) error {
	fields, ok := propertyFields(value)
	if !ok {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writePoint(write.NewPoint(
		MeasurementProperty,
		map[string]string{"address": address, "kind": kind, "property": name},
		fields,
		at,
	))
	return nil
}

// WriteNetworkStats writes a ksx_network point of line counters tagged
// with the bridge.
//
// Example:
//
//	client.WriteNetworkStats("ksx", map[string]interface{}{"frames_rx": int64(1200)})
func (c *Client) WriteNetworkStats(bridgeID string, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(write.NewPoint(MeasurementNetwork, map[string]string{"bridge": bridgeID}, fields, time.Now()))
}

// propertyFields maps a property value to point fields.
func propertyFields(value any) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case bool:
		n := 0.0
		if v {
			n = 1
		}
		return map[string]interface{}{"value": n}, true
	case int:
		return map[string]interface{}{"value": float64(v)}, true
	case int64:
		return map[string]interface{}{"value": float64(v)}, true
	case float64:
		return map[string]interface{}{"value": v}, true
	case string:
		return map[string]interface{}{"text": v}, true
	default:
		return nil, false
	}
}
