package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/toast"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
	never   = time.Hour
)

type wsServer struct {
	*httptest.Server
	dials atomic.Int32
}

// newWSServer runs handle for every accepted socket and closes the socket
// when handle returns.
func newWSServer(t *testing.T, handle func(*websocket.Conn)) *wsServer {
	t.Helper()
	ws := &wsServer{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.dials.Add(1)
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(ws.Close)
	return ws
}

// drain blocks until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type recorder struct {
	mu    sync.Mutex
	shown []string
}

func (r *recorder) Show(message string, tone toast.Tone) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, string(tone)+": "+message)
	return int64(len(r.shown)), true
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...)
}

func (r *recorder) count(msg string) int {
	n := 0
	for _, m := range r.messages() {
		if m == msg {
			n++
		}
	}
	return n
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func info(streaming bool) *api.Info {
	return &api.Info{CameraStreaming: boolPtr(streaming), CameraSnapshotSource: strPtr("auto"), CameraTransport: strPtr("wifi")}
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"http://127.0.0.1:8000", "/ws/telemetry", "ws://127.0.0.1:8000/ws/telemetry", false},
		{"https://robot.local/", "ws/logs", "wss://robot.local/ws/logs", false},
		{"http://host/prefix/", "/ws/camera", "ws://host/prefix/ws/camera", false},
		{"ftp://host", "/ws/logs", "", true},
	}
	for _, tt := range tests {
		got, err := WSURL(tt.base, tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStatePhases(t *testing.T) {
	assert.Equal(t, PhaseConnecting, Connecting.Phase())
	assert.Equal(t, PhaseReady, Open.Phase())
	for _, s := range []State{Idle, Closing, ReconnectScheduled} {
		assert.Equal(t, PhaseDisconnected, s.Phase(), s.String())
	}
}

func TestTelemetryIngestsSamplesAndDedupsErrors(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		for _, m := range []string{
			`{"command":"STATUS","raw":["vbatt_mV=7400"],"data":{"vbatt_mV":7400,"elev_mm":"12.5"}}`,
			`{"command":"STATUS","error":"Serial port not found"}`,
			`{"command":"STATUS","error":"Serial port not found"}`,
			`not json`,
			`{"command":"STATUS","data":{"vbatt_mV":7390}}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		drain(conn)
	})

	rec := &recorder{}
	tm, err := NewTelemetry(TelemetryOptions{
		Options: Options{BaseURL: srv.URL, ReconnectDelay: never, Notifier: rec},
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseConnecting, tm.Phase())
	tm.Connect()
	t.Cleanup(tm.Disconnect)

	require.Eventually(t, func() bool { return len(tm.Samples()) == 2 }, waitFor, tick)
	samples := tm.Samples()
	v, ok := samples[0].Value("elev_mm")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)
	v, _ = samples[1].Value("vbatt_mV")
	assert.Equal(t, 7390.0, v)

	assert.Equal(t, PhaseReady, tm.Phase())
	assert.False(t, tm.RobotUnreachable())
	assert.Equal(t, 1, rec.count("success: WebSocket connected"))
	assert.Equal(t, 1, rec.count("warning: Robot offline: Serial port not found"))
}

func TestTelemetryReconnectTimer(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {})

	tm, err := NewTelemetry(TelemetryOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: never}})
	require.NoError(t, err)
	tm.Connect()
	t.Cleanup(tm.Disconnect)

	require.Eventually(t, tm.ReconnectPending, waitFor, tick)
	assert.Equal(t, ReconnectScheduled, tm.State())
	require.Eventually(t, func() bool { return tm.Phase() == PhaseDisconnected }, waitFor, tick)
	assert.EqualValues(t, 1, srv.dials.Load())

	// A manual connect replaces the pending timer with an immediate dial.
	tm.Connect()
	require.Eventually(t, func() bool { return srv.dials.Load() == 2 }, waitFor, tick)
	require.Eventually(t, tm.ReconnectPending, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, srv.dials.Load())
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {})

	tm, err := NewTelemetry(TelemetryOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: 30 * time.Millisecond}})
	require.NoError(t, err)
	tm.Connect()
	require.Eventually(t, func() bool { return srv.dials.Load() >= 2 }, waitFor, tick)

	tm.Disconnect()
	tm.Disconnect()
	assert.False(t, tm.ReconnectPending())
	assert.Equal(t, Idle, tm.State())

	time.Sleep(50 * time.Millisecond)
	n := srv.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, srv.dials.Load())
}

func TestLinkRestartReplacesSocket(t *testing.T) {
	srv := newWSServer(t, drain)

	var opens atomic.Int32
	l := NewLink(LinkOptions{
		Name:           "test",
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/test",
		ReconnectDelay: never,
		OnOpen:         func() { opens.Add(1) },
	})
	l.Restart()
	assert.Equal(t, Idle, l.State(), "restart without connect is a no-op")

	l.Connect()
	t.Cleanup(l.Disconnect)
	require.Eventually(t, func() bool { return l.State() == Open }, waitFor, tick)

	l.Restart()
	require.Eventually(t, func() bool { return opens.Load() == 2 && l.State() == Open }, waitFor, tick)
	assert.False(t, l.ReconnectPending(), "superseded socket must not schedule a reconnect")
}

func TestCameraGatedWithoutDialing(t *testing.T) {
	frame := base64.StdEncoding.EncodeToString([]byte("jpegbytes"))
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"frame","mime":"image/jpeg","payload":"`+frame+`"}`))
		drain(conn)
	})

	cam, err := NewCamera(CameraOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: never}})
	require.NoError(t, err)
	t.Cleanup(cam.DisconnectSocket)

	cam.ApplyServiceInfo(info(false), nil)
	cam.EnsureStream()
	assert.True(t, cam.Desired())
	assert.Equal(t, DisabledMessage, cam.State().Error)
	assert.Equal(t, PhaseDisconnected, cam.Phase())
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, srv.dials.Load())

	cam.ApplyServiceInfo(info(true), nil)
	require.Eventually(t, func() bool { return cam.State().Frame != nil }, waitFor, tick)
	st := cam.State()
	assert.Empty(t, st.Error)
	assert.Equal(t, "image/jpeg", st.Frame.Mime)
	assert.Equal(t, []byte("jpegbytes"), st.Frame.Data)
	assert.EqualValues(t, 1, srv.dials.Load())

	cam.DisconnectSocket()
	assert.Nil(t, cam.State().Frame)
	assert.False(t, cam.Desired())
}

func TestCameraOverrideIgnoresStreamingFlag(t *testing.T) {
	srv := newWSServer(t, drain)
	cam, err := NewCamera(CameraOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: never}})
	require.NoError(t, err)
	t.Cleanup(cam.DisconnectSocket)

	cam.ApplyServiceInfo(&api.Info{CameraStreaming: boolPtr(false), CameraSnapshotSource: strPtr(SourceOverride)}, nil)
	cam.EnsureStream()
	require.Eventually(t, func() bool { return cam.Phase() == PhaseReady }, waitFor, tick)
}

func TestCameraErrorsAnnouncedOnce(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"snapshot timeout"}`))
		}
		drain(conn)
	})
	rec := &recorder{}
	cam, err := NewCamera(CameraOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: never, Notifier: rec}})
	require.NoError(t, err)
	t.Cleanup(cam.DisconnectSocket)

	cam.EnsureStream()
	require.Eventually(t, func() bool { return cam.State().Error == "snapshot timeout" }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count("warning: Camera: snapshot timeout"))
}

func TestCameraRestartGuidance(t *testing.T) {
	rec := &recorder{}
	cam, err := NewCamera(CameraOptions{Options: Options{BaseURL: "http://127.0.0.1:1", ReconnectDelay: never, Notifier: rec}})
	require.NoError(t, err)
	t.Cleanup(cam.DisconnectSocket)

	cam.Restart(true)
	assert.Equal(t, []string{"info: Open the Camera tab to start the stream"}, rec.messages())

	cam.ApplyServiceInfo(info(false), nil)
	cam.EnsureStream()
	cam.Restart(true)
	assert.Contains(t, rec.messages(), "warning: Camera stream is disabled. Use Enable Stream above.")
}

func TestCameraToggleStreaming(t *testing.T) {
	rec := &recorder{}
	var (
		cam   *Camera
		sent  []string
		inner error
	)
	refreshed := false
	cam, err := NewCamera(CameraOptions{
		Options: Options{BaseURL: "http://127.0.0.1:1", ReconnectDelay: never, Notifier: rec},
		Send: func(ctx context.Context, command string) error {
			sent = append(sent, command)
			inner = cam.ToggleStreaming(ctx)
			return nil
		},
		Refresh: func(context.Context) { refreshed = true },
	})
	require.NoError(t, err)

	cam.ApplyServiceInfo(info(false), nil)
	require.NoError(t, cam.ToggleStreaming(context.Background()))

	assert.Equal(t, []string{"CAMSTREAM ON"}, sent)
	assert.ErrorIs(t, inner, ErrBusy)
	assert.True(t, refreshed)
	assert.False(t, cam.TogglePending())
	require.NotNil(t, cam.State().Streaming)
	assert.True(t, *cam.State().Streaming)
	assert.Equal(t, []string{"info: Sending CAMSTREAM ON...", "success: Camera stream enabled"}, rec.messages())
}

func TestCameraToggleOverrideSendsNothing(t *testing.T) {
	rec := &recorder{}
	called := false
	cam, err := NewCamera(CameraOptions{
		Options: Options{BaseURL: "http://127.0.0.1:1", Notifier: rec},
		Send:    func(context.Context, string) error { called = true; return nil },
	})
	require.NoError(t, err)

	cam.ApplyServiceInfo(&api.Info{CameraSnapshotSource: strPtr(SourceOverride)}, nil)
	require.NoError(t, cam.ToggleStreaming(context.Background()))
	assert.False(t, called)
	require.Len(t, rec.messages(), 1)
	assert.True(t, strings.HasPrefix(rec.messages()[0], "warning: "))
}

func TestCameraInfoFailureMarksUnavailable(t *testing.T) {
	cam, err := NewCamera(CameraOptions{Options: Options{BaseURL: "http://127.0.0.1:1"}})
	require.NoError(t, err)
	cam.ApplyServiceInfo(nil, nil)
	assert.Equal(t, "Unavailable", cam.State().Error)
	assert.Nil(t, cam.State().Streaming)
}

type fakeLogSource struct {
	entries []logs.Entry
	err     error
}

func (f fakeLogSource) Logs(context.Context, int) (*api.LogSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &api.LogSnapshot{Entries: f.entries}, nil
}

func TestLogsStreamMergesAndUpserts(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","entries":[{"id":"b","timestamp":2,"value":1},{"id":"a","timestamp":1,"value":1}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"log","entries":[{"id":"a","timestamp":1,"value":9}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"c","timestamp":3,"value":"x"}`))
		drain(conn)
	})

	m, err := NewLogs(LogsOptions{Options: Options{BaseURL: srv.URL, ReconnectDelay: never}})
	require.NoError(t, err)
	m.Connect()
	t.Cleanup(m.Disconnect)

	require.Eventually(t, func() bool { return len(m.Entries()) == 3 }, waitFor, tick)
	got := m.Entries()
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 9.0, got[0].Value)
	assert.Equal(t, "c", got[2].ID)
}

func TestLogsFetchSnapshot(t *testing.T) {
	m, err := NewLogs(LogsOptions{
		Options: Options{BaseURL: "http://127.0.0.1:1"},
		Source:  fakeLogSource{entries: []logs.Entry{{ID: "z", Timestamp: 5}}},
	})
	require.NoError(t, err)

	require.NoError(t, m.FetchSnapshot(context.Background(), 50, false))
	require.NoError(t, m.FetchSnapshot(context.Background(), 50, false))
	assert.Len(t, m.Entries(), 1)
	assert.False(t, m.Fetching())

	m.source = fakeLogSource{entries: []logs.Entry{{ID: "y", Timestamp: 1}}}
	require.NoError(t, m.FetchSnapshot(context.Background(), 50, true))
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, "y", m.Entries()[0].ID)

	m.source = fakeLogSource{err: assert.AnError}
	assert.ErrorIs(t, m.FetchSnapshot(context.Background(), 50, false), assert.AnError)
	assert.ErrorIs(t, m.LastError(), assert.AnError)
	assert.Len(t, m.Entries(), 1)
}
