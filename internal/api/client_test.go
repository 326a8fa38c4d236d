package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestCommandSendsBody(t *testing.T) {
	var got CommandRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/command", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(CommandResult{Command: got.Command, Raw: []string{"OK"}, Data: map[string]any{"ok": true}})
	})

	res, err := c.Command(context.Background(), "START 3", true)
	require.NoError(t, err)
	assert.Equal(t, CommandRequest{Command: "START 3", RaiseOnError: true}, got)
	assert.Equal(t, []string{"OK"}, res.Raw)
	assert.Equal(t, true, res.Data["ok"])
}

func TestErrorDetailPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail", 503, `{"detail":"Serial port not found"}`, "Serial port not found"},
		{"error field", 400, `{"error":"bad mode"}`, "bad mode"},
		{"structured detail", 422, `{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
		{"status text", 502, `not json`, "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Info(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}
}

func TestDiagnosticsDecoding(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"timestamp": 1700000000.25,
			"serial": {"requested_port": "/dev/ttyUSB0", "active_port": null, "connected": true},
			"camera": {"streaming": false, "source": "auto", "transport": "wifi"},
			"wifi": {"connected": true, "ip": "10.0.0.7"},
			"uno": {"connected": true, "state_id": 2},
			"status": {"cam_streaming": false},
			"meta": {"status_fresh": true, "status_age_s": 0.4}
		}`))
	})

	d, err := c.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Serial.Connected)
	assert.Nil(t, d.Serial.ActivePort)
	require.NotNil(t, d.Camera.Streaming)
	assert.False(t, *d.Camera.Streaming)
	assert.Equal(t, "10.0.0.7", *d.Wifi.IP)
	assert.Equal(t, 2, *d.Uno.StateID)
	require.NotNil(t, d.Meta)
	assert.True(t, *d.Meta.StatusFresh)
}

func TestLogsPassesLimit(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/logs", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"entries":[{"id":"a","timestamp":1,"parameter":"vbatt","value":7400}]}`))
	})
	snap, err := c.Logs(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, 7400.0, snap.Entries[0].Value)
}

func TestInfoControlPayload(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"camera_streaming": true,
			"status_fresh": true,
			"control_mode": "auto",
			"control_transport": "wifi",
			"available_transports": [{"id": "wifi", "available": true}]
		}`))
	})
	info, err := c.Info(context.Background())
	require.NoError(t, err)

	payload := info.ControlPayload()
	assert.Equal(t, "auto", payload["mode"])
	assert.Equal(t, "wifi", payload["active"])
	assert.NotContains(t, payload, "endpoint")
	assert.Len(t, payload["transports"], 1)
}

func TestShelfMapRoundTrip(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body ShelfMapUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, http.MethodPut, r.Method)
		assert.True(t, body.Persist)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"grid":    body.Grid,
			"palette": []map[string]string{{"id": "R", "label": "Red", "color": "#ef4444"}},
		})
	})
	m, err := c.UpdateShelfMap(context.Background(), [][]string{{"R", "-", "-"}, {"-", "-", "-"}, {"-", "-", "-"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "R", m.Grid[0][0])
	require.Len(t, m.Palette, 1)
	assert.Equal(t, "Red", m.Palette[0].Label)
}
