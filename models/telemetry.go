package models

import (
	"fmt"
	"maps"
	"math"
)

// Telemetry is an open record of device-reported fields (temperature,
// memory, wifi signal, power rail voltage, screen geometry...). Unknown
// keys from newer firmware are kept as-is.
type Telemetry map[string]any

// Well-known telemetry keys.
const (
	TelemetryTemperature = "temperature"
	TelemetryMemoryUsed  = "memoryUsed"
	TelemetryWifiSignal  = "wifiSignal"
	TelemetryVoltage     = "voltage"
	TelemetryWidth       = "width"
	TelemetryHeight      = "height"
)

func (t Telemetry) Clone() Telemetry {
	if t == nil {
		return nil
	}
	return maps.Clone(t)
}

// Merge overlays update onto t and returns the result. t may be nil.
func (t Telemetry) Merge(update Telemetry) Telemetry {
	if len(update) == 0 {
		return t
	}
	if t == nil {
		t = make(Telemetry, len(update))
	}
	for k, v := range update {
		t[k] = v
	}
	return t
}

// Readings picks the numeric well-known keys out of system and display
// telemetry, for offline reports. Screen geometry is folded into
// "resolution".
func Readings(system, display Telemetry) map[string]any {
	out := map[string]any{}
	for _, k := range []string{TelemetryTemperature, TelemetryMemoryUsed, TelemetryWifiSignal, TelemetryVoltage} {
		if v := system.Float(k, math.NaN()); !math.IsNaN(v) {
			out[k] = v
		}
	}
	w, h := display.Float(TelemetryWidth, 0), display.Float(TelemetryHeight, 0)
	if w > 0 && h > 0 {
		out["resolution"] = fmt.Sprintf("%gx%g", w, h)
	}
	return out
}

// Float returns a numeric field, or def when missing or not a number.
func (t Telemetry) Float(key string, def float64) float64 {
	switch v := t[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
