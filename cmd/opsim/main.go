// Opsim is a simulated robot backend. It serves the REST and WebSocket
// surface the operator console expects, backed by an in-memory firmware
// model, so the console can be exercised without hardware. Shutdown is
// handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/operator-console/internal/config"
	"github.com/large-farva/operator-console/internal/sim"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults apply when empty)")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides sim.bind)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, cleanup, err := cfg.Logging.NewLogger("opsim ")
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer cleanup()

	s := sim.New(sim.Options{
		Logger: logger,
		Cfg:    cfg,
		Bind:   *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("opsim failed: %v", err)
		cleanup()
		os.Exit(1)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
