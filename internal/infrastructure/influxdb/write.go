package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementOutletPower = "outlet_power"
	MeasurementOutletState = "outlet_state"
)

// OutletReading is one electrical sample for a metered outlet.
type OutletReading struct {
	AccessoryID string
	DeviceMAC   string
	OutletIndex int
	OutletName  string
	Voltage     float64
	Current     float64
	Power       float64
	PowerFactor float64
	At          time.Time
}

func outletTags(accessoryID, deviceMAC string, index int) map[string]string {
	return map[string]string{
		"accessory_id": accessoryID,
		"device_mac":   deviceMAC,
		"outlet":       strconv.Itoa(index),
	}
}

// telemetryPoint builds the outlet_power point for r.
func telemetryPoint(r OutletReading) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	tags := outletTags(r.AccessoryID, r.DeviceMAC, r.OutletIndex)
	if r.OutletName != "" {
		tags["name"] = r.OutletName
	}
	return write.NewPoint(MeasurementOutletPower, tags,
		map[string]interface{}{
			"voltage":      r.Voltage,
			"current":      r.Current,
			"power":        r.Power,
			"power_factor": r.PowerFactor,
		}, at)
}

// WriteOutletTelemetry queues one electrical sample. Non-blocking.
func (c *Client) WriteOutletTelemetry(r OutletReading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(telemetryPoint(r))
}

// WriteOutletState queues an on/off transition so switching history can
// be charted next to power draw.
func (c *Client) WriteOutletState(accessoryID, deviceMAC string, index int, on bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementOutletState,
		outletTags(accessoryID, deviceMAC, index),
		map[string]interface{}{"on": on},
		time.Now()))
}
