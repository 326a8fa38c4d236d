package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// NewLogger builds the program logger described by the logging section.
// The returned cleanup closes the log file, if one was opened.
func (l LoggingConfig) NewLogger(prefix string) (*log.Logger, func(), error) {
	var (
		w       io.Writer
		cleanup = func() {}
	)

	switch l.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "off":
		w = io.Discard
	default:
		if dir := filepath.Dir(l.Output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, cleanup, fmt.Errorf("config: create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(l.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("config: open log file: %w", err)
		}
		w = f
		cleanup = func() { _ = f.Close() }
	}

	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds), cleanup, nil
}
