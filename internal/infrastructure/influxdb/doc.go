// Package influxdb records outlet telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written, both tagged with accessory_id, device_mac and outlet:
//
//	outlet_power  voltage, current, power, power_factor
//	outlet_state  on
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry history not configured
//	}
//	defer client.Close()
//
//	client.WriteOutletTelemetry(influxdb.OutletReading{...})
package influxdb
