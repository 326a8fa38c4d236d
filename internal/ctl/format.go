// Package ctl implements the client-side commands for opctl.
// It talks to a running robot backend over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/status"
	"github.com/large-farva/operator-console/internal/stream"
	"github.com/large-farva/operator-console/internal/toast"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

// Terminal streams. Tests swap them for buffers.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// colorEnabled reports whether output goes to a terminal. When output is
// piped, redirected or captured, ANSI escape codes are suppressed.
func colorEnabled() bool {
	f, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// toneColor returns the ANSI color code for a status or toast tone.
func toneColor(tone string) string {
	switch tone {
	case string(status.Connected), string(toast.Success):
		return green
	case string(status.Warn), string(toast.Warning):
		return yellow
	case string(status.Connecting), string(toast.Info):
		return cyan
	case string(status.Disconnected), string(toast.Error):
		return red
	default:
		return white
	}
}

// phaseColor returns the ANSI color code for a stream phase.
func phaseColor(p stream.Phase) string {
	switch p {
	case stream.PhaseReady:
		return green
	case stream.PhaseConnecting:
		return yellow
	default:
		return red
	}
}

// colorize wraps text with an ANSI color sequence.
// Returns the text unchanged when color output is disabled.
func colorize(color, text string) string {
	if !colorEnabled() {
		return text
	}
	return color + text + reset
}

// header returns a bold section header, or plain text when color is off.
func header(title string) string {
	if colorEnabled() {
		return bold + title + reset
	}
	return title
}

// rule is the dim divider printed under section headers.
func rule(width int) string {
	return colorize(dim, "  "+strings.Repeat("─", width))
}

// field prints one "  Label:  value" row.
func field(label, value string) {
	fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, padRight(label+":", 12)), value)
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatBytes renders a byte count as a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// progressBar builds a simple ASCII bar of the given width.
// The filled portion is colored green when color output is enabled.
func progressBar(pct, width int) string {
	filled := max(min((pct*width)/100, width), 0)
	empty := width - filled
	if colorEnabled() {
		return green + strings.Repeat("=", filled) + reset + strings.Repeat(" ", empty)
	}
	return strings.Repeat("=", filled) + strings.Repeat(" ", empty)
}

func yesNo(b bool) string {
	if b {
		return colorize(green, "yes")
	}
	return colorize(red, "no")
}

// orDash dereferences s, or returns "-" when it is nil or blank.
func orDash(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}
