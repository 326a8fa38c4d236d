package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func sampleState() ControlState {
	return ControlState{
		Mode:     "wifi",
		Active:   strp("wifi"),
		Endpoint: strp("ws://10.0.0.7:81/ws"),
		Transports: []Descriptor{
			{ID: "wifi", Label: "Wi-Fi", Endpoint: strp("ws://10.0.0.7:81/ws"), Available: true},
			{ID: "serial", Label: "UART", Endpoint: strp("/dev/ttyUSB0"), Available: false, LastError: strp("timeout")},
		},
	}
}

func TestNormalizeNilReturnsCopyOfPrevious(t *testing.T) {
	prev := sampleState()
	got := Normalize(nil, prev)
	assert.Equal(t, prev, got)

	// The copy must not alias previous.
	*got.Transports[0].Endpoint = "changed"
	assert.Equal(t, "ws://10.0.0.7:81/ws", *prev.Transports[0].Endpoint)
}

func TestNormalizeMalformedInput(t *testing.T) {
	prev := sampleState()
	assert.Equal(t, prev, Normalize("not an object", prev))
	assert.Equal(t, prev, Normalize([]any{1, 2}, prev))
	assert.Equal(t, prev, NormalizeJSON([]byte("{broken"), prev))
}

func TestNormalizeFieldAliases(t *testing.T) {
	raw := []byte(`{
		"control_mode": " AUTO ",
		"control_transport": "Serial",
		"control_endpoint": "/dev/ttyACM0",
		"available_transports": [
			{"transport": "Serial", "address": "/dev/ttyACM0", "connected": true, "last_success": 1700000000.5},
			{"name": "wifi", "url": "ws://robot.local/ws", "ok": false, "last_error": "unreachable"},
			{"label": "nameless"}
		]
	}`)

	got := NormalizeJSON(raw, Empty())
	assert.Equal(t, "auto", got.Mode)
	require.NotNil(t, got.Active)
	assert.Equal(t, "serial", *got.Active)
	require.NotNil(t, got.Endpoint)
	assert.Equal(t, "/dev/ttyACM0", *got.Endpoint)

	require.Len(t, got.Transports, 2)
	serial := got.Transports[0]
	assert.Equal(t, "serial", serial.ID)
	assert.Equal(t, "SERIAL", serial.Label)
	assert.Equal(t, "/dev/ttyACM0", *serial.Endpoint)
	assert.True(t, serial.Available)
	require.NotNil(t, serial.LastSuccess)
	assert.Equal(t, time.Unix(1700000000, 500000000).UTC(), *serial.LastSuccess)

	wifi := got.Transports[1]
	assert.Equal(t, "wifi", wifi.ID)
	assert.Equal(t, "wifi", wifi.Label)
	assert.False(t, wifi.Available)
	assert.Equal(t, "unreachable", *wifi.LastError)
}

func TestNormalizeDuplicateIDsLaterWins(t *testing.T) {
	raw := map[string]any{
		"transports": []any{
			map[string]any{"id": "wifi", "available": false, "label": "old"},
			map[string]any{"id": "serial", "available": true},
			map[string]any{"id": "WIFI", "available": true, "label": "new"},
		},
	}
	got := Normalize(raw, Empty())
	require.Len(t, got.Transports, 2)
	assert.Equal(t, "wifi", got.Transports[0].ID)
	assert.Equal(t, "new", got.Transports[0].Label)
	assert.True(t, got.Transports[0].Available)
	assert.Equal(t, "serial", got.Transports[1].ID)
}

func TestNormalizeKeepsPreviousWhenFieldsMissing(t *testing.T) {
	prev := sampleState()
	got := Normalize(map[string]any{"mode": "serial"}, prev)
	assert.Equal(t, "serial", got.Mode)
	assert.Equal(t, prev.Transports, got.Transports)
	assert.Equal(t, prev.Active, got.Active)
	assert.Equal(t, prev.Endpoint, got.Endpoint)
}

func TestNormalizeEmptyActiveClears(t *testing.T) {
	got := Normalize(map[string]any{"active": ""}, sampleState())
	assert.Nil(t, got.Active)
}

func TestSummarizePrefersAvailableActive(t *testing.T) {
	ov := Summarize(sampleState(), false)
	require.NotNil(t, ov.Primary)
	assert.Equal(t, "wifi", ov.Primary.ID)
	assert.Equal(t, StatusOnline, ov.Summary.Status)
	assert.Equal(t, 1, ov.Summary.AvailableCount)
	assert.Equal(t, "Wi-Fi", ov.Summary.TransportLabel)
}

func TestSummarizeFallsBackToFirstAvailable(t *testing.T) {
	state := sampleState()
	state.Active = strp("serial")
	ov := Summarize(state, true)
	require.NotNil(t, ov.Active)
	assert.Equal(t, "serial", ov.Active.ID)
	require.NotNil(t, ov.Primary)
	assert.Equal(t, "wifi", ov.Primary.ID)
	assert.True(t, ov.Summary.Stale)
}

func TestSummarizeOffline(t *testing.T) {
	ov := Summarize(Empty(), false)
	assert.Nil(t, ov.Primary)
	assert.Equal(t, StatusOffline, ov.Summary.Status)
	assert.Zero(t, ov.Summary.AvailableCount)
}

func TestDisplayLabel(t *testing.T) {
	tests := []struct {
		name string
		d    *Descriptor
		sum  Summary
		want string
	}{
		{"wifi with host", &Descriptor{ID: "wifi", Endpoint: strp("ws://10.0.0.7:81/ws")}, Summary{}, "Wi-Fi (10.0.0.7:81)"},
		{"wifi bare", &Descriptor{ID: "wifi"}, Summary{}, "Wi-Fi"},
		{"serial bare", &Descriptor{ID: "serial"}, Summary{}, "UART"},
		{"serial endpoint from summary", &Descriptor{ID: "serial"}, Summary{Endpoint: strp("bridge/tty")}, "UART (bridge)"},
		{"other uses label", &Descriptor{ID: "ble", Label: "Bluetooth"}, Summary{}, "Bluetooth"},
		{"nil uses summary", nil, Summary{TransportID: "ble"}, "BLE"},
		{"nil fallback", nil, Summary{}, "Control Link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayLabel(tt.d, tt.sum))
		})
	}
}

func TestModeLabel(t *testing.T) {
	state := sampleState()
	state.Mode = "auto"
	assert.Equal(t, "Auto (Wi-Fi -> UART)", ModeLabel(state))
	state.Mode = "serial"
	assert.Equal(t, "UART", ModeLabel(state))
	state.Mode = "ble"
	assert.Equal(t, "BLE", ModeLabel(state))
}
