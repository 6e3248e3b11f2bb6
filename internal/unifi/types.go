package unifi

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// MeteringCaps is the lowest outlet_caps value that reports voltage,
// current and power. Outlets with caps 1 (USB ports, plain sockets) are
// switchable only.
const MeteringCaps = 3

// Meta is the status block of every controller response envelope.
type Meta struct {
	RC  string `json:"rc"`
	Msg string `json:"msg,omitempty"`
}

// OK reports whether the controller accepted the request.
func (m Meta) OK() bool {
	return m.RC == "ok"
}

type envelope struct {
	Meta *Meta            `json:"meta"`
	Data []json.RawMessage `json:"data"`
}

// Device is the subset of a stat/device record the bridge reads.
type Device struct {
	ID      string `json:"_id"`
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Type    string `json:"type"`
	Version string `json:"version"`
	State   int    `json:"state"`

	// OutletTable carries relay state, capabilities and live readings.
	OutletTable []Outlet `json:"outlet_table"`

	// OutletOverrides is the older, configuration-only outlet list.
	OutletOverrides []Outlet `json:"outlet_overrides"`
}

// IsEmpty reports whether d is the zero record returned for an
// unreachable device.
func (d Device) IsEmpty() bool {
	return d.ID == "" && d.MAC == "" && d.OutletTable == nil && d.OutletOverrides == nil
}

// Outlet is one socket of a PDU as reported by the controller.
type Outlet struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	RelayState   bool   `json:"relay_state"`
	CycleEnabled bool   `json:"cycle_enabled"`
	Caps         int    `json:"outlet_caps"`

	Voltage     FlexFloat `json:"outlet_voltage"`
	Current     FlexFloat `json:"outlet_current"`
	Power       FlexFloat `json:"outlet_power"`
	PowerFactor FlexFloat `json:"outlet_power_factor"`
}

// Telemetry is one electrical reading of a metered outlet.
type Telemetry struct {
	Index       int     `json:"index"`
	Name        string  `json:"name,omitempty"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	PowerFactor float64 `json:"power_factor"`
}

// SupportsMetering is the single capability gate: true when the outlet
// reports electrical readings.
func SupportsMetering(o Outlet) bool {
	return o.Caps >= MeteringCaps
}

// TelemetryOf extracts the reading of o without checking the gate.
func TelemetryOf(o Outlet) Telemetry {
	return Telemetry{
		Index:       o.Index,
		Name:        o.Name,
		Voltage:     float64(o.Voltage),
		Current:     float64(o.Current),
		Power:       float64(o.Power),
		PowerFactor: float64(o.PowerFactor),
	}
}

// SortedOutlets returns the outlets of d ordered by index. outlet_table is
// preferred whenever the controller sent it, even empty; outlet_overrides
// is the fallback. Entries without a positive index are dropped.
func SortedOutlets(d Device) []Outlet {
	src := d.OutletTable
	if src == nil {
		src = d.OutletOverrides
	}

	out := make([]Outlet, 0, len(src))
	for _, o := range src {
		if o.Index > 0 {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FilterOutlets keeps only outlets whose index is in allow. An empty allow
// list keeps everything.
func FilterOutlets(outlets []Outlet, allow []int) []Outlet {
	if len(allow) == 0 {
		return outlets
	}
	keep := make(map[int]bool, len(allow))
	for _, idx := range allow {
		keep[idx] = true
	}
	out := make([]Outlet, 0, len(outlets))
	for _, o := range outlets {
		if keep[o.Index] {
			out = append(out, o)
		}
	}
	return out
}

// FlexFloat decodes a number the controller may send as a JSON number, a
// numeric string, or null. Unparseable values decode as 0.
type FlexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}
