package sim

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	defaultWSPort = 81
	defaultWSPath = "/ws"
)

// wifiSettings are the operator overrides for the robot's Wi-Fi control
// link. An empty IP means the address comes from discovery.
type wifiSettings struct {
	MAC    string
	Prefix string
	IP     string
	Port   *int
	Path   string
}

func defaultWifi() wifiSettings {
	return wifiSettings{Prefix: "24:6F:28"}
}

// endpoint is the WebSocket URL of the control link, or "" when no address
// is known. A discovered address is only known while the robot is online.
func (w wifiSettings) endpoint(r *robot) string {
	ip := w.IP
	if ip == "" && r.online {
		ip = r.wifiIP
	}
	if ip == "" {
		return ""
	}
	port := defaultWSPort
	if w.Port != nil {
		port = *w.Port
	}
	path := w.Path
	if path == "" {
		path = defaultWSPath
	}
	return "ws://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path
}

func (w wifiSettings) payload(r *robot) map[string]any {
	endpoint := w.endpoint(r)
	out := map[string]any{
		"mac_address":         nullable(w.MAC),
		"mac_prefix":          nullable(w.Prefix),
		"ip_address":          nullable(w.IP),
		"ws_port":             nil,
		"ws_path":             nullable(w.Path),
		"endpoint":            nullable(endpoint),
		"transport_available": r.online && endpoint != "",
		"auto_discovery":      w.IP == "",
	}
	if w.Port != nil {
		out["ws_port"] = *w.Port
	}
	return out
}

// apply returns w with changes applied. A null value clears the override.
func (w wifiSettings) apply(changes map[string]any) (wifiSettings, error) {
	next := w
	for key, value := range changes {
		text, isText := value.(string)
		text = strings.TrimSpace(text)
		if value != nil && !isText && key != "ws_port" {
			return w, fmt.Errorf("%s must be a string or null", key)
		}

		switch key {
		case "mac_address":
			if text != "" {
				mac, err := net.ParseMAC(text)
				if err != nil || len(mac) != 6 {
					return w, fmt.Errorf("invalid mac_address %q", text)
				}
				text = strings.ToUpper(mac.String())
			}
			next.MAC = text
		case "mac_prefix":
			next.Prefix = strings.ToUpper(text)
		case "ip_address":
			if text != "" {
				if ip := net.ParseIP(text); ip == nil || ip.To4() == nil {
					return w, fmt.Errorf("invalid ip_address %q", text)
				}
			}
			next.IP = text
		case "ws_port":
			port, err := portOf(value)
			if err != nil {
				return w, err
			}
			next.Port = port
		case "ws_path":
			if text != "" && !strings.HasPrefix(text, "/") {
				text = "/" + text
			}
			next.Path = text
		default:
			return w, fmt.Errorf("unknown field %q", key)
		}
	}
	return next, nil
}

var errPort = errors.New("ws_port must be an integer")

func portOf(value any) (*int, error) {
	var n int
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		n = int(v)
		if float64(n) != v {
			return nil, errPort
		}
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, errPort
		}
		n = p
	default:
		return nil, errPort
	}
	if n < 1 || n > 65535 {
		return nil, errors.New("ws_port must be between 1 and 65535")
	}
	return &n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
