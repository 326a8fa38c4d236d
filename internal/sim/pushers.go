package sim

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/large-farva/operator-console/internal/telemetry"
)

// pushTelemetry advances the robot one tick and broadcasts the status poll,
// or the poll error while the robot is offline.
func (s *Server) pushTelemetry() {
	s.mu.Lock()
	if s.robot.online {
		s.robot.step()
	}
	s.mu.Unlock()

	lines, data, err := s.run("status", true)
	if err != nil {
		s.telemetryHub.BroadcastJSON(telemetry.Message{Command: "status", Error: err.Error()})
		return
	}
	raw, _ := json.Marshal(lines)
	s.telemetryHub.BroadcastJSON(telemetry.Message{Command: "status", Raw: raw, Data: data})
}

// pushFrame broadcasts one camera frame, or an error message while the
// camera has nothing to serve.
func (s *Server) pushFrame() {
	if s.cameraHub.Clients() == 0 {
		return
	}
	s.mu.Lock()
	url, _ := s.snapshotLocked()
	width, height := s.robot.frameSize()
	seq := s.robot.seq
	s.mu.Unlock()

	if url == nil {
		s.cameraHub.BroadcastJSON(telemetry.CameraMessage{
			Type:    telemetry.CameraError,
			Message: "camera snapshot URL not configured",
		})
		return
	}

	for width > 320 {
		width, height = width/2, height/2
	}
	b, err := renderFrame(width, height, seq)
	if err != nil {
		s.log.Printf("camera frame render failed: %v", err)
		s.cameraHub.BroadcastJSON(telemetry.CameraMessage{Type: telemetry.CameraError, Message: err.Error()})
		return
	}
	s.cameraHub.BroadcastJSON(telemetry.CameraMessage{
		Type:      telemetry.CameraFrame,
		Mime:      "image/png",
		Payload:   base64.StdEncoding.EncodeToString(b),
		Timestamp: telemetry.UnixSeconds(time.Now()),
	})
}

// pushChatter emits one line of background firmware output.
func (s *Server) pushChatter() {
	s.mu.Lock()
	online := s.robot.online
	line := s.robot.chatter()
	s.mu.Unlock()
	if online {
		s.emitLine(line)
	}
}

// renderFrame draws a test pattern: a vertical gradient with a bar that
// sweeps across as seq advances.
func renderFrame(width, height, seq int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bar := (seq * 8) % max(width, 1)
	for y := 0; y < height; y++ {
		shade := uint8(40 + 120*y/max(height, 1))
		for x := 0; x < width; x++ {
			c := color.RGBA{R: 15, G: shade / 2, B: shade, A: 255}
			if x >= bar && x < bar+width/16+1 {
				c = color.RGBA{R: 250, G: 204, B: 21, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
