package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/shelfmap"
	"github.com/large-farva/operator-console/internal/status"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/toast"
)

type backend struct {
	mu   sync.Mutex
	hits map[string]int
	body map[string]map[string]any
}

func (b *backend) count(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

func (b *backend) lastBody(route string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.body[route]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fail(status int, detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		writeJSON(w, map[string]string{"detail": detail})
	}
}

func reply(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { writeJSON(w, v) }
}

var transportsPayload = map[string]any{
	"mode":   "auto",
	"active": "wifi",
	"transports": []map[string]any{
		{"id": "wifi", "label": "Wi-Fi", "endpoint": "ws://192.168.4.1:81/ws", "available": true},
		{"id": "serial", "label": "UART", "endpoint": "/dev/ttyUSB0", "available": true},
	},
}

// newConsole serves the default routes, replaced by any in overrides, and
// returns an idle console pointed at them.
func newConsole(t *testing.T, overrides map[string]http.HandlerFunc) (*Console, *backend) {
	t.Helper()
	routes := map[string]http.HandlerFunc{
		"GET /api/diagnostics": reply(map[string]any{
			"serial": map[string]any{"connected": true},
			"wifi":   map[string]any{"connected": true, "ip": "192.168.4.1"},
			"camera": map[string]any{"streaming": true, "source": "auto"},
			"meta":   map[string]any{"status_fresh": true},
		}),
		"GET /api/info": reply(map[string]any{
			"camera_streaming":     true,
			"camera_transport":     "wifi",
			"status_fresh":         true,
			"control_mode":         "auto",
			"control_transport":    "wifi",
			"available_transports": transportsPayload["transports"],
		}),
		"GET /api/control/transport": reply(transportsPayload),
		"POST /api/command": func(w http.ResponseWriter, r *http.Request) {
			var req api.CommandRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, api.CommandResult{Command: req.Command, Raw: []string{"OK " + req.Command}, Data: map[string]any{}})
		},
	}
	for k, v := range overrides {
		routes[k] = v
	}

	b := &backend{hits: map[string]int{}, body: map[string]map[string]any{}}
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			if r.Method != http.MethodGet {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &body)
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}
			b.mu.Lock()
			b.hits[pattern]++
			if body != nil {
				b.body[pattern] = body
			}
			b.mu.Unlock()
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	c, err := New(Options{Cfg: cfg})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, b
}

func toastMessages(c *Console) []string {
	var out []string
	for _, t := range c.Toasts().Visible() {
		out = append(out, string(t.Tone)+": "+t.Message)
	}
	return out
}

// answer resolves the next confirmation prompt with ok.
func answer(t *testing.T, c *Console, ok bool) {
	t.Helper()
	go func() {
		assert.Eventually(t, func() bool {
			_, pending := c.Gate().Pending()
			return pending
		}, 2*time.Second, 5*time.Millisecond)
		c.Gate().Resolve(ok)
	}()
}

func TestFetchDiagnosticsDerivesHeader(t *testing.T) {
	c, _ := newConsole(t, nil)

	d, err := c.FetchDiagnostics(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Serial.Connected)

	s := c.Snapshot()
	assert.Equal(t, status.MediumWifi, s.Header.Medium)
	assert.False(t, s.Header.Stale)
	require.NotNil(t, s.Camera.Streaming)
	assert.True(t, *s.Camera.Streaming)
	assert.Equal(t, stream.PhaseConnecting, s.Phase)
	assert.Equal(t, "Connecting...", s.Verdict.Text)
}

func TestFetchDiagnosticsFailure(t *testing.T) {
	c, _ := newConsole(t, map[string]http.HandlerFunc{
		"GET /api/diagnostics": fail(http.StatusServiceUnavailable, "Serial port not found"),
	})

	_, err := c.FetchDiagnostics(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, api.StatusOf(err))
	assert.Equal(t, status.Offline(), c.Snapshot().Header)
	assert.Contains(t, toastMessages(c), "error: Failed to fetch diagnostics: Serial port not found")
}

func TestFetchServiceInfoFeedsRegistryAndCamera(t *testing.T) {
	c, _ := newConsole(t, nil)

	_, err := c.FetchServiceInfo(context.Background())
	require.NoError(t, err)

	s := c.Snapshot()
	require.NotNil(t, s.Control.Active)
	assert.Equal(t, "wifi", *s.Control.Active)
	assert.Len(t, s.Control.Transports, 2)
	assert.Equal(t, "wifi", s.Camera.Transport)
	assert.Equal(t, "auto", s.Camera.Source)
	assert.Equal(t, "Auto (Wi-Fi -> UART)", s.ModeLabel)
}

func TestFetchServiceInfoFailureMarksCamera(t *testing.T) {
	c, _ := newConsole(t, map[string]http.HandlerFunc{
		"GET /api/info": fail(http.StatusBadGateway, "backend down"),
	})
	_, err := c.FetchServiceInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, "backend down", c.Camera().State().Error)
}

func TestChangeTransport(t *testing.T) {
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/control/transport": reply(map[string]any{
			"mode":       "serial",
			"active":     "serial",
			"transports": transportsPayload["transports"],
		}),
		"GET /api/control/transport": reply(map[string]any{"mode": "serial", "active": "serial"}),
		"GET /api/info":              reply(map[string]any{"control_mode": "serial", "control_transport": "serial"}),
	})

	state, err := c.ChangeTransport(context.Background(), " SERIAL ", false)
	require.NoError(t, err)
	assert.Equal(t, "serial", state.Mode)
	assert.Equal(t, "serial", b.lastBody("POST /api/control/transport")["mode"])

	assert.Equal(t, 1, b.count("GET /api/info"))
	assert.Equal(t, 1, b.count("GET /api/control/transport"))
	assert.Equal(t, 1, b.count("GET /api/diagnostics"))
	assert.Contains(t, toastMessages(c), "success: Control link set to UART")
	assert.False(t, c.Snapshot().ControlPending)
}

func TestChangeTransportBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/control/transport": func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			<-release
			writeJSON(w, transportsPayload)
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.ChangeTransport(context.Background(), "auto", true)
		done <- err
	}()
	<-entered
	assert.True(t, c.Snapshot().ControlPending)

	_, err := c.ChangeTransport(context.Background(), "wifi", true)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.count("POST /api/control/transport"))
	assert.Empty(t, toastMessages(c), "silent change shows no toast")
}

func TestChangeTransportFailureKeepsState(t *testing.T) {
	c, _ := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/control/transport": fail(http.StatusBadRequest, "unknown transport"),
	})
	_, err := c.FetchControlState(context.Background(), true)
	require.NoError(t, err)
	before := c.ControlState()

	_, err = c.ChangeTransport(context.Background(), "lora", false)
	require.Error(t, err)
	assert.Equal(t, before, c.ControlState())
	assert.Contains(t, toastMessages(c), "error: unknown transport")
	assert.False(t, c.Snapshot().ControlPending)
}

func TestStartTask(t *testing.T) {
	c, b := newConsole(t, nil)

	require.NoError(t, c.StartTask(context.Background(), "3"))
	assert.Equal(t, "START 3", b.lastBody("POST /api/command")["command"])
	assert.Equal(t, false, b.lastBody("POST /api/command")["raise_on_error"])
	assert.Equal(t, "✓ START command sent (3)", c.CommandOutput())
	assert.Contains(t, toastMessages(c), "success: Task started: 3")
	require.Eventually(t, func() bool { return b.count("GET /api/diagnostics") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.StartTask(context.Background(), ""))
	assert.Equal(t, "START", b.lastBody("POST /api/command")["command"])
	assert.Equal(t, "✓ START command sent (default)", c.CommandOutput())
}

func TestCommandFailure(t *testing.T) {
	c, _ := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/command": fail(http.StatusServiceUnavailable, "Serial port not found"),
	})

	_, err := c.ExecuteRaw(context.Background(), "STATUS")
	require.Error(t, err)
	assert.Equal(t, "✗ Serial port not found", c.CommandOutput())

	_, err = c.Brake(context.Background())
	require.Error(t, err)
	assert.Contains(t, toastMessages(c), "error: BRAKE failed: Serial port not found")
}

func TestExecuteRawShowsResult(t *testing.T) {
	c, _ := newConsole(t, nil)

	res, err := c.ExecuteRaw(context.Background(), "  STATUS ")
	require.NoError(t, err)
	assert.Equal(t, "STATUS", res.Command)

	var out api.CommandResult
	require.NoError(t, json.Unmarshal([]byte(c.CommandOutput()), &out))
	assert.Equal(t, []string{"OK STATUS"}, out.Raw)
	assert.Contains(t, toastMessages(c), "success: Command executed")
}

func TestEmergencyBrakeConfirmed(t *testing.T) {
	c, b := newConsole(t, nil)

	answer(t, c, true)
	sent, err := c.EmergencyBrake(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, "BRAKE", b.lastBody("POST /api/command")["command"])
	assert.Equal(t, "[\n  \"OK BRAKE\"\n]", c.CommandOutput())
	assert.Contains(t, toastMessages(c), "warning: BRAKE activated")
}

func TestEmergencyBrakeDeclined(t *testing.T) {
	c, b := newConsole(t, nil)

	answer(t, c, false)
	sent, err := c.EmergencyBrake(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, b.count("POST /api/command"))
}

func TestEmergencyBrakeCancelledContext(t *testing.T) {
	c, b := newConsole(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sent, err := c.EmergencyBrake(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sent)
	assert.Zero(t, b.count("POST /api/command"))
	_, pending := c.Gate().Pending()
	assert.False(t, pending)
}

func TestCameraToggleUsesRaiseOnError(t *testing.T) {
	c, b := newConsole(t, nil)
	_, err := c.FetchServiceInfo(context.Background())
	require.NoError(t, err)
	before := b.count("GET /api/info")

	require.NoError(t, c.Camera().ToggleStreaming(context.Background()))
	body := b.lastBody("POST /api/command")
	assert.Equal(t, "CAMSTREAM OFF", body["command"])
	assert.Equal(t, true, body["raise_on_error"])
	assert.Equal(t, before+1, b.count("GET /api/info"))
	assert.Equal(t, 1, b.count("GET /api/diagnostics"))
	assert.Contains(t, toastMessages(c), "success: Camera stream disabled")
}

func TestNormalizeCameraConfig(t *testing.T) {
	assert.Nil(t, NormalizeCameraConfig(nil))

	cfg := NormalizeCameraConfig(map[string]any{
		"resolution":            "vga",
		"quality":               "12",
		"running":               true,
		"available_resolutions": []any{
			"qvga",
			map[string]any{"id": "VGA", "width": 640.0, "height": 480.0},
			map[string]any{"value": "uxga", "label": "UXGA", "supported": false},
			3.0,
		},
		"maxResolution":         " svga ",
	})
	assert.Equal(t, "VGA", cfg.Resolution)
	require.NotNil(t, cfg.Quality)
	assert.Equal(t, 12, *cfg.Quality)
	assert.Equal(t, 10, cfg.QualityMin)
	assert.Equal(t, 63, cfg.QualityMax)
	assert.Equal(t, []Resolution{
		{Value: "QVGA", Label: "QVGA"},
		{Value: "VGA", Label: "VGA (640×480)"},
		{Value: "UXGA", Label: "UXGA", Unsupported: true},
	}, cfg.AvailableResolutions)
	assert.Equal(t, "Current: VGA • Quality 12 • Streaming • Max SVGA", cfg.StatusMessage())

	idle := NormalizeCameraConfig(map[string]any{"quality": "high", "quality_min": 4.0})
	assert.Equal(t, "UNKNOWN", idle.Resolution)
	assert.Nil(t, idle.Quality)
	assert.Equal(t, 4, idle.QualityMin)
	assert.Equal(t, "Current: UNKNOWN • Quality — • Idle", idle.StatusMessage())
}

func TestApplyCameraConfig(t *testing.T) {
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/camera/config": reply(map[string]any{"resolution": "svga", "quality": 20, "running": true}),
	})

	_, err := c.ApplyCameraConfig(context.Background(), api.CameraConfigUpdate{})
	require.NoError(t, err)
	assert.Zero(t, b.count("POST /api/camera/config"))
	assert.Contains(t, toastMessages(c), "info: No camera settings changes detected")

	res := "SVGA"
	cfg, err := c.ApplyCameraConfig(context.Background(), api.CameraConfigUpdate{Resolution: &res})
	require.NoError(t, err)
	assert.Equal(t, "SVGA", cfg.Resolution)
	assert.Equal(t, map[string]any{"resolution": "SVGA"}, b.lastBody("POST /api/camera/config"))
	assert.Equal(t, StatusLine{Message: "Camera settings updated", Tone: toast.Success}, c.Snapshot().CameraStatus)
	assert.Equal(t, 1, b.count("GET /api/info"))
	assert.Equal(t, 1, b.count("GET /api/diagnostics"))
}

func TestLoadCameraConfigFailure(t *testing.T) {
	c, _ := newConsole(t, map[string]http.HandlerFunc{
		"GET /api/camera/config": fail(http.StatusServiceUnavailable, "camera offline"),
	})
	_, err := c.LoadCameraConfig(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, StatusLine{Message: "camera offline", Tone: toast.Error}, c.Snapshot().CameraStatus)
	assert.Contains(t, toastMessages(c), "error: Failed to fetch camera settings: camera offline")
}

func TestWifiChangesPayload(t *testing.T) {
	s := func(v string) *string { return &v }
	got := WifiChanges{
		MACAddress: s(" aa:bb:cc:dd:ee:ff "),
		MACPrefix:  s(""),
		IPAddress:  s(" 192.168.4.1 "),
		WSPort:     s("81"),
		WSPath:     s("ws"),
	}.Payload()
	assert.Equal(t, map[string]any{
		"mac_address": "AA:BB:CC:DD:EE:FF",
		"mac_prefix":  nil,
		"ip_address":  "192.168.4.1",
		"ws_port":     81,
		"ws_path":     "/ws",
	}, got)

	assert.Equal(t, map[string]any{"ws_port": nil, "ws_path": "/ctl"}, WifiChanges{WSPort: s(""), WSPath: s("/ctl")}.Payload())
	assert.Equal(t, map[string]any{"ws_port": "auto"}, WifiChanges{WSPort: s("auto")}.Payload())
	assert.Empty(t, WifiChanges{}.Payload())
}

func TestNormalizeWifiConfig(t *testing.T) {
	empty := NormalizeWifiConfig(nil)
	assert.True(t, empty.AutoDiscovery)
	assert.Equal(t, "Auto-discovery enabled. Waiting for ESP32 broadcast.", empty.StatusMessage())

	cfg := NormalizeWifiConfig(map[string]any{
		"mac_address":         "aa:bb",
		"port":                "81",
		"endpoint":            " ws://192.168.4.1:81/ws ",
		"transport_available": true,
		"auto_discovery":      false,
	})
	assert.Equal(t, "AA:BB", cfg.MACAddress)
	require.NotNil(t, cfg.WSPort)
	assert.Equal(t, 81, *cfg.WSPort)
	assert.Equal(t, "Control link ready at ws://192.168.4.1:81/ws", cfg.StatusMessage())

	cfg.TransportAvailable = false
	assert.Equal(t, "Static endpoint configured: ws://192.168.4.1:81/ws", cfg.StatusMessage())

	cfg.Endpoint = nil
	assert.Equal(t, "Wi-Fi transport disabled. Clear overrides or provide an ESP32 IP to reconnect.", cfg.StatusMessage())
}

func TestApplyWifiConfig(t *testing.T) {
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/control/wifi": reply(map[string]any{"ip_address": "192.168.4.1", "endpoint": "ws://192.168.4.1:81/ws", "transport_available": true}),
	})

	ip := "192.168.4.1"
	cfg, err := c.ApplyWifiConfig(context.Background(), WifiChanges{IPAddress: &ip}, false)
	require.NoError(t, err)
	assert.True(t, cfg.TransportAvailable)
	assert.Equal(t, map[string]any{"ip_address": "192.168.4.1"}, b.lastBody("POST /api/control/wifi"))
	assert.Equal(t, StatusLine{Message: "Control link ready at ws://192.168.4.1:81/ws", Tone: toast.Success}, c.Snapshot().WifiStatus)
	assert.Contains(t, toastMessages(c), "success: Wi-Fi settings updated")
	assert.Equal(t, 1, b.count("GET /api/control/transport"))

	_, err = c.ApplyWifiConfig(context.Background(), WifiChanges{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, b.count("POST /api/control/wifi"))
	assert.Contains(t, toastMessages(c), "info: No Wi-Fi changes detected")
}

func shelfReply(grid [][]string) http.HandlerFunc {
	return reply(map[string]any{
		"grid":    grid,
		"palette": []map[string]string{{"id": "-"}, {"id": "R", "label": "Red"}, {"id": "G"}},
		"source":  "firmware",
	})
}

func TestUpdateShelfMapValidatesFirst(t *testing.T) {
	grid := [][]string{{"R", "-", "G"}, {"-", "-", "-"}, {"-", "-", "R"}}
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"GET /api/shelf-map": shelfReply(grid),
		"PUT /api/shelf-map": shelfReply(grid),
	})
	_, err := c.ReloadShelfMap(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"-", "R", "G"}, shelfmap.Codes(c.ShelfPalette()))

	_, err = c.UpdateShelfMap(context.Background(), [][]string{{"Y", "-", "-"}, {"-", "-", "-"}, {"-", "-", "-"}}, false)
	require.ErrorIs(t, err, shelfmap.ErrInvalidGrid)
	assert.Zero(t, b.count("PUT /api/shelf-map"))

	m, err := c.UpdateShelfMap(context.Background(), [][]string{{"r", "null", "g"}, {"", "-", "-"}, {"-", "-", "R"}}, true)
	require.NoError(t, err)
	assert.Equal(t, shelfmap.Grid(grid), m.Grid)
	assert.Equal(t, true, b.lastBody("PUT /api/shelf-map")["persist"])
	assert.Contains(t, toastMessages(c), "success: Shelf map saved to flash")
	assert.Equal(t, "firmware", c.Snapshot().Shelf.Source)
}

func TestResetShelfMapGated(t *testing.T) {
	c, b := newConsole(t, map[string]http.HandlerFunc{
		"POST /api/shelf-map/reset": shelfReply(nil),
	})

	answer(t, c, false)
	m, err := c.ResetShelfMap(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Zero(t, b.count("POST /api/shelf-map/reset"))

	answer(t, c, true)
	m, err = c.ResetShelfMap(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, shelfmap.EmptyGrid(), m.Grid)
	assert.Contains(t, toastMessages(c), "success: Shelf map reset to firmware defaults")
}

func TestSnapshotServerLinkLost(t *testing.T) {
	c, _ := newConsole(t, nil)
	_, err := c.FetchServiceInfo(context.Background())
	require.NoError(t, err)
	_, err = c.FetchDiagnostics(context.Background())
	require.NoError(t, err)

	// The test backend has no WebSocket routes, so the dial fails.
	c.Telemetry().Connect()
	require.Eventually(t, func() bool { return c.Telemetry().Phase() == stream.PhaseDisconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Server Link Lost", c.Status().Text)
}
