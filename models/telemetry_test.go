package models

import "testing"

func TestReadings(t *testing.T) {
	tests := []struct {
		name    string
		system  Telemetry
		display Telemetry
		want    map[string]any
	}{
		{"empty", nil, nil, map[string]any{}},
		{
			"mixed numeric types",
			Telemetry{TelemetryTemperature: 55, TelemetryMemoryUsed: int64(512), TelemetryWifiSignal: float32(-60)},
			nil,
			map[string]any{"temperature": 55.0, "memoryUsed": 512.0, "wifiSignal": -60.0},
		},
		{
			"non-numeric skipped",
			Telemetry{TelemetryVoltage: "5V", "firmware": "2.1"},
			Telemetry{TelemetryWidth: 3840.0},
			map[string]any{},
		},
		{
			"resolution",
			nil,
			Telemetry{TelemetryWidth: 1280.0, TelemetryHeight: 720.0},
			map[string]any{"resolution": "1280x720"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Readings(tt.system, tt.display)
			if len(got) != len(tt.want) {
				t.Fatalf("Readings = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}
