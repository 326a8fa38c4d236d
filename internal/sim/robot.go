package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/shelfmap"
)

// ErrOffline is returned for every command while the robot is offline.
var ErrOffline = errors.New("robot not responding")

// errUnknown marks a firmware ERR reply.
var errUnknown = errors.New("unknown command")

// Controller states reported as state_id.
const (
	stateIdle    = 0
	stateRunning = 1
	stateBraked  = 2
)

// resolution is one camera frame size the firmware supports, smallest first.
type resolution struct {
	ID     string
	Width  int
	Height int
}

var resolutions = []resolution{
	{"QQVGA", 160, 120},
	{"QVGA", 320, 240},
	{"VGA", 640, 480},
	{"SVGA", 800, 600},
	{"XGA", 1024, 768},
	{"SXGA", 1280, 1024},
	{"UXGA", 1600, 1200},
}

// Camera quality bounds, lower is better.
const (
	qualityMin = 10
	qualityMax = 63
)

func resolutionIndex(id string) int {
	for i, r := range resolutions {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// defaultShelf is the firmware's built-in layout.
var defaultShelf = shelfmap.Grid{
	{"R", "G", "B"},
	{"Y", "W", "K"},
	{"-", "-", "-"},
}

// robot is the simulated firmware. It is not safe for concurrent use; the
// Server serializes access.
type robot struct {
	online  bool
	port    string
	state   int
	task    string
	seq     int
	errFlag int

	elevMM  float64
	elevSet float64
	gripDeg float64
	lineL   int
	lineR   int
	vbattMV float64

	wifiIP string

	camStreaming  bool
	camResolution string
	camQuality    int
	camMax        string

	shelf      shelfmap.Grid
	savedShelf shelfmap.Grid
}

func newRobot() *robot {
	return &robot{
		online:        true,
		port:          "/dev/ttyUSB0",
		vbattMV:       7800,
		wifiIP:        "192.168.4.23",
		camStreaming:  true,
		camResolution: "QVGA",
		camQuality:    12,
		camMax:        "SVGA",
		shelf:         defaultShelf.Clone(),
		savedShelf:    defaultShelf.Clone(),
	}
}

// step advances the physical readings by one telemetry tick.
func (r *robot) step() {
	if r.state == stateRunning {
		if math.Abs(r.elevSet-r.elevMM) < 1 {
			r.elevSet = float64(rand.IntN(300))
		}
	}
	r.elevMM += (r.elevSet - r.elevMM) * 0.2
	r.gripDeg = 45 + 30*math.Sin(float64(r.seq)/8)
	r.lineL = 480 + rand.IntN(120)
	r.lineR = 480 + rand.IntN(120)
	r.vbattMV -= rand.Float64() * 0.5
	if r.vbattMV < 6600 {
		r.vbattMV = 7800
	}
}

// execute runs one CLI command and returns the firmware's reply lines.
// ROBOT OFFLINE|ONLINE is handled here too so it works while offline.
func (r *robot) execute(command string) ([]string, error) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(command)))
	if len(fields) == 0 {
		return nil, errUnknown
	}

	if fields[0] == "ROBOT" && len(fields) == 2 {
		switch fields[1] {
		case "OFFLINE":
			r.online = false
			return []string{"OK ROBOT offline"}, nil
		case "ONLINE":
			r.online = true
			return []string{"OK ROBOT online"}, nil
		}
	}
	if !r.online {
		return nil, fmt.Errorf("%w on %s", ErrOffline, r.port)
	}
	r.seq++

	switch fields[0] {
	case "STATUS":
		return []string{r.statusLine()}, nil

	case "START":
		r.state = stateRunning
		r.task = "default"
		if len(fields) > 1 {
			// Keep the operator's casing for the task id.
			r.task = strings.Fields(strings.TrimSpace(command))[1]
		}
		r.elevSet = 150
		return []string{fmt.Sprintf("OK START task=%s seq=%d", r.task, r.seq)}, nil

	case "BRAKE":
		r.state = stateBraked
		r.elevSet = r.elevMM
		return []string{"OK BRAKE engaged=1", fmt.Sprintf("state_id=%d seq_ack=%d", r.state, r.seq)}, nil

	case "CAMSTREAM":
		if len(fields) != 2 || (fields[1] != "ON" && fields[1] != "OFF") {
			return []string{"ERR usage: CAMSTREAM ON|OFF"}, errUnknown
		}
		r.camStreaming = fields[1] == "ON"
		return []string{fmt.Sprintf("OK CAMSTREAM cam_streaming=%d", boolInt(r.camStreaming))}, nil

	case "CAMCFG":
		return []string{r.camcfgLine()}, nil
	}
	return []string{"ERR unknown command: " + fields[0]}, errUnknown
}

func (r *robot) statusLine() string {
	return fmt.Sprintf(
		"STATUS state_id=%d err_flags=%d seq_ack=%d elev_mm=%.1f grip_pos_deg=%.1f lineL_adc=%d lineR_adc=%d vbatt_mV=%d wifi_connected=1 wifi_ip=%s cam_streaming=%d cam_resolution=%s cam_quality=%d cam_max=%s",
		r.state, r.errFlag, r.seq, r.elevMM, r.gripDeg, r.lineL, r.lineR, int(r.vbattMV),
		r.wifiIP, boolInt(r.camStreaming), r.camResolution, r.camQuality, r.camMax,
	)
}

func (r *robot) camcfgLine() string {
	return fmt.Sprintf("camcfg cam_resolution=%s cam_quality=%d cam_max=%s", r.camResolution, r.camQuality, r.camMax)
}

// setCamera applies a camera config change, validating it the way the
// firmware does.
func (r *robot) setCamera(res *string, quality *int) error {
	if res != nil {
		id := strings.ToUpper(strings.TrimSpace(*res))
		i := resolutionIndex(id)
		if i < 0 {
			return fmt.Errorf("unsupported resolution %q", *res)
		}
		if i > resolutionIndex(r.camMax) {
			return fmt.Errorf("resolution %s exceeds sensor maximum %s", id, r.camMax)
		}
		r.camResolution = id
	}
	if quality != nil {
		if *quality < qualityMin || *quality > qualityMax {
			return fmt.Errorf("quality must be between %d and %d", qualityMin, qualityMax)
		}
		r.camQuality = *quality
	}
	return nil
}

func (r *robot) frameSize() (int, int) {
	if i := resolutionIndex(r.camResolution); i >= 0 {
		return resolutions[i].Width, resolutions[i].Height
	}
	return 320, 240
}

// parseReply collects the key=value pairs of reply lines, later keys
// overriding earlier ones.
func parseReply(lines []string) map[string]any {
	data := map[string]any{}
	for _, line := range lines {
		for _, segment := range strings.FieldsFunc(line, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ','
		}) {
			key, value, ok := strings.Cut(segment, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			data[strings.TrimSpace(key)] = logs.ParseValue(value)
		}
	}
	return data
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// chatter is the background firmware output the log stream carries.
func (r *robot) chatter() string {
	switch rand.IntN(6) {
	case 0:
		return fmt.Sprintf("[tlm] vbatt_mV=%d elev_mm=%.1f", int(r.vbattMV), r.elevMM)
	case 1:
		return fmt.Sprintf("[wifi] rssi=%d ip=%s", -45-rand.IntN(30), r.wifiIP)
	case 2:
		return fmt.Sprintf("[uno] state_id=%d err_flags=%d", r.state, r.errFlag)
	case 3:
		return fmt.Sprintf("[cam] streaming=%t fps=%d", r.camStreaming, 8+rand.IntN(8))
	case 4:
		return "[loop] heap_free=" + strconv.Itoa(180000+rand.IntN(20000))
	}
	return fmt.Sprintf("[i2c] lineL=%d lineR=%d", r.lineL, r.lineR)
}
