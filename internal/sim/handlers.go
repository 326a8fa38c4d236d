package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/shelfmap"
	"github.com/large-farva/operator-console/internal/telemetry"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/json" {
		s.mu.Lock()
		resp := map[string]any{
			"healthy":        true,
			"robot_online":   s.robot.online,
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
			"ws_clients": map[string]int{
				s.telemetryHub.Name(): s.telemetryHub.Clients(),
				s.cameraHub.Name():    s.cameraHub.Clients(),
				s.logHub.Name():       s.logHub.Clients(),
			},
		}
		s.mu.Unlock()
		writeJSON(w, resp)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	lines, data, err := s.run("status", true)
	if errors.Is(err, ErrOffline) {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, api.CommandResult{Command: "status", Raw: nonNil(lines), Data: data})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req api.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		jsonError(w, "command must not be empty", http.StatusBadRequest)
		return
	}

	lines, data, err := s.run(command, false)
	switch {
	case errors.Is(err, ErrOffline):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil && req.RaiseOnError:
		msg := err.Error()
		if len(lines) > 0 {
			msg = lines[len(lines)-1]
		}
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	writeJSON(w, api.CommandResult{Command: command, Raw: nonNil(lines), Data: data})
}

// ---------------------------------------------------------------------------
// Diagnostics and service info
// ---------------------------------------------------------------------------

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	_, data, err := s.run("status", true)

	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.robot.port
	d := api.Diagnostics{
		Timestamp: telemetry.UnixSeconds(time.Now()),
		Serial:    api.SerialStatus{RequestedPort: &port},
		Status:    map[string]any{},
	}
	fresh := err == nil && s.statusFreshLocked()
	if !fresh {
		msg := "no_data"
		if err != nil {
			msg = err.Error()
			d.Serial.Error = &msg
		}
		d.Serial.Stale = true
		d.Serial.StatusError = &msg
		d.Wifi = api.WifiStatus{Connected: ptr(false)}
		d.Meta = &api.Meta{StatusFresh: ptr(false), StatusError: &msg}
		d.Camera = s.cameraStatusLocked(false)
		writeJSON(w, d)
		return
	}

	d.Serial.ActivePort = &port
	d.Serial.Connected = true
	d.Serial.StatusAgeS = ptr(time.Since(s.lastStatus).Seconds())
	d.Status = data
	ip := s.robot.wifiIP
	d.Wifi = api.WifiStatus{Connected: ptr(true), IP: &ip}
	d.Uno = api.UnoStatus{
		Connected: true,
		StateID:   ptr(s.robot.state),
		ErrFlags:  ptr(s.robot.errFlag),
		SeqAck:    ptr(s.robot.seq),
	}
	d.Camera = s.cameraStatusLocked(true)
	d.Meta = &api.Meta{StatusFresh: ptr(true), StatusAgeS: d.Serial.StatusAgeS}
	writeJSON(w, d)
}

func (s *Server) cameraStatusLocked(fresh bool) api.CameraStatus {
	url, source := s.snapshotLocked()
	cs := api.CameraStatus{
		Configured:       ptr(url != nil),
		SnapshotURL:      url,
		Transport:        ptr("wifi"),
		StreamIntervalMS: ptr(s.cfg.Sim.CameraIntervalMS),
		Streaming:        ptr(fresh && s.robot.camStreaming),
		Source:           &source,
	}
	if fresh {
		cs.Resolution = ptr(s.robot.camResolution)
		cs.Quality = ptr(s.robot.camQuality)
		cs.MaxResolution = ptr(s.robot.camMax)
	}
	return cs
}

// snapshotLocked resolves the camera snapshot URL from the robot's Wi-Fi
// address. It is nil while the robot is offline or not streaming.
func (s *Server) snapshotLocked() (*string, string) {
	if !s.robot.online || !s.robot.camStreaming {
		return nil, "auto"
	}
	url := "http://" + s.robot.wifiIP + "/capture"
	return &url, "auto"
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := s.statusFreshLocked()
	url, source := s.snapshotLocked()
	control := s.controlLocked()
	transports, _ := json.Marshal(control["transports"])
	info := api.Info{
		SerialPort:           ptr(s.robot.port),
		CameraSnapshotURL:    url,
		CameraSnapshotSource: &source,
		CameraTransport:      ptr("wifi"),
		CameraStreaming:      ptr(fresh && s.robot.camStreaming),
		StatusFresh:          fresh,
		ControlMode:          ptr(s.mode),
		AvailableTransports:  transports,
	}
	if active, ok := control["active"].(string); ok {
		info.ControlTransport = &active
	}
	if endpoint, ok := control["endpoint"].(string); ok {
		info.ControlEndpoint = &endpoint
	}
	writeJSON(w, info)
}

// ---------------------------------------------------------------------------
// Control transport and Wi-Fi
// ---------------------------------------------------------------------------

func (s *Server) handleControlTransport(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.controlLocked())
}

func (s *Server) handleSetControlTransport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "auto", "wifi", "serial":
	default:
		jsonError(w, fmt.Sprintf("unsupported transport mode %q", req.Mode), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.mode = mode
	resp := s.controlLocked()
	s.mu.Unlock()

	s.log.Printf("control transport mode set to %s", mode)
	s.emitLine("[esp32] control_mode=" + mode)
	writeJSON(w, resp)
}

// controlLocked builds the control-transport payload. In auto mode Wi-Fi is
// preferred over UART.
func (s *Server) controlLocked() map[string]any {
	wifiEndpoint := s.wifi.endpoint(s.robot)
	wifiOK := s.robot.online && wifiEndpoint != ""
	serialOK := s.robot.online

	var active, endpoint any
	switch {
	case (s.mode == "auto" || s.mode == "wifi") && wifiOK:
		active, endpoint = "wifi", wifiEndpoint
	case (s.mode == "auto" || s.mode == "serial") && serialOK:
		active, endpoint = "serial", s.robot.port
	}

	var wifiURL any
	if wifiEndpoint != "" {
		wifiURL = wifiEndpoint
	}
	transports := []map[string]any{
		{"id": "wifi", "label": "Wi-Fi", "endpoint": wifiURL, "available": wifiOK},
		{"id": "serial", "label": "UART", "endpoint": s.robot.port, "available": serialOK},
	}
	if !s.lastStatus.IsZero() {
		for _, t := range transports {
			if t["available"] == true {
				t["last_success"] = telemetry.UnixSeconds(s.lastStatus)
			}
		}
	}
	if s.lastError != "" {
		for _, t := range transports {
			if t["available"] == false {
				t["last_error"] = s.lastError
			}
		}
	}
	return map[string]any{
		"mode":       s.mode,
		"active":     active,
		"endpoint":   endpoint,
		"transports": transports,
	}
}

func (s *Server) handleWifi(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.wifi.payload(s.robot))
}

func (s *Server) handleSetWifi(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	next, err := s.wifi.apply(changes)
	if err != nil {
		s.mu.Unlock()
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.wifi = next
	resp := s.wifi.payload(s.robot)
	s.mu.Unlock()

	s.emitLine("[wifi] config updated")
	writeJSON(w, resp)
}

// ---------------------------------------------------------------------------
// Camera
// ---------------------------------------------------------------------------

func (s *Server) handleCameraConfig(w http.ResponseWriter, _ *http.Request) {
	if _, _, err := s.run("camcfg ?", true); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.cameraConfigLocked())
}

func (s *Server) handleSetCameraConfig(w http.ResponseWriter, r *http.Request) {
	var req api.CameraConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Resolution == nil && req.Quality == nil {
		jsonError(w, "No parameters provided", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if !s.robot.online {
		s.mu.Unlock()
		jsonError(w, ErrOffline.Error(), http.StatusServiceUnavailable)
		return
	}
	if err := s.robot.setCamera(req.Resolution, req.Quality); err != nil {
		s.mu.Unlock()
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.cameraConfigLocked()
	line := s.robot.camcfgLine()
	s.mu.Unlock()

	s.emitLine("[cam] " + line)
	writeJSON(w, resp)
}

func (s *Server) cameraConfigLocked() map[string]any {
	limit := resolutionIndex(s.robot.camMax)
	options := make([]map[string]any, 0, len(resolutions))
	for i, r := range resolutions {
		if limit >= 0 && i > limit {
			break
		}
		options = append(options, map[string]any{
			"id":     r.ID,
			"label":  r.ID,
			"width":  r.Width,
			"height": r.Height,
		})
	}
	return map[string]any{
		"resolution":            s.robot.camResolution,
		"quality":               s.robot.camQuality,
		"running":               s.robot.online && s.robot.camStreaming,
		"available_resolutions": options,
		"quality_min":           qualityMin,
		"quality_max":           qualityMax,
		"max_resolution":        s.robot.camMax,
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	url, _ := s.snapshotLocked()
	width, height := s.robot.frameSize()
	seq := s.robot.seq
	s.mu.Unlock()
	if url == nil {
		jsonError(w, "camera snapshot URL not configured", http.StatusServiceUnavailable)
		return
	}
	b, err := renderFrame(width, height, seq)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(b)
}

// ---------------------------------------------------------------------------
// Shelf map
// ---------------------------------------------------------------------------

func (s *Server) handleShelfMap(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.robot.online {
		jsonError(w, ErrOffline.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.shelfLocked(nil))
}

func (s *Server) handleSetShelfMap(w http.ResponseWriter, r *http.Request) {
	var req api.ShelfMapUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	grid, err := shelfmap.ValidateGrid(req.Grid, shelfmap.DefaultCodes())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if !s.robot.online {
		s.mu.Unlock()
		jsonError(w, ErrOffline.Error(), http.StatusServiceUnavailable)
		return
	}
	s.robot.shelf = grid
	if req.Persist {
		s.robot.savedShelf = grid.Clone()
	}
	resp := s.shelfLocked(&req.Persist)
	s.mu.Unlock()

	s.emitLine("[shelf_map] grid=" + strings.ReplaceAll(shelfmap.Format(grid), " ", ""))
	writeJSON(w, resp)
}

func (s *Server) handleResetShelfMap(w http.ResponseWriter, r *http.Request) {
	var req api.ShelfMapReset
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	if !s.robot.online {
		s.mu.Unlock()
		jsonError(w, ErrOffline.Error(), http.StatusServiceUnavailable)
		return
	}
	s.robot.shelf = defaultShelf.Clone()
	if req.Persist {
		s.robot.savedShelf = defaultShelf.Clone()
	}
	resp := s.shelfLocked(&req.Persist)
	s.mu.Unlock()

	s.emitLine("[shelf_map] reset persist=" + strconv.FormatBool(req.Persist))
	writeJSON(w, resp)
}

func (s *Server) shelfLocked(persisted *bool) api.ShelfMap {
	palette := make([]shelfmap.RawPaletteEntry, len(shelfmap.DefaultPalette))
	for i, p := range shelfmap.DefaultPalette {
		palette[i] = shelfmap.RawPaletteEntry{ID: p.ID, Label: p.Label, Color: p.Color}
	}
	return api.ShelfMap{
		Grid:      s.robot.shelf.Clone(),
		Palette:   palette,
		Raw:       shelfmap.Format(s.robot.shelf),
		Timestamp: telemetry.UnixSeconds(time.Now()),
		Source:    "device",
		Persisted: persisted,
	}
}

// ---------------------------------------------------------------------------
// Logs
// ---------------------------------------------------------------------------

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = max(1, min(n, logCapacity))
	}
	writeJSON(w, api.LogSnapshot{Entries: s.recentLogs(limit)})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// jsonError writes an error body in the backend's {"detail": ...} form.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func ptr[T any](v T) *T { return &v }

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
