// Command kapsuled is the Kapsule daemon: it owns the org.frostyard.Kapsule
// bus name and bridges desktop IPC clients to an Incus container backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	flag "github.com/spf13/pflag"

	"github.com/frostyard/kapsule/internal/caller"
	"github.com/frostyard/kapsule/internal/config"
	"github.com/frostyard/kapsule/internal/containersvc"
	"github.com/frostyard/kapsule/internal/dbussvc"
	"github.com/frostyard/kapsule/internal/incusapi"
	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/operation"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to kapsule.conf (default: search /etc then /usr/lib)")
		socketPath = flag.String("incus-socket", incusapi.DefaultSocketPath, "path to the Incus Unix-domain socket")
		incusCLI   = flag.String("incus-cli", "incus", "path to the incus client binary used for PrepareEnter's exec_args")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log := logging.New(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration", logging.Ctx{"error": err.Error()})
	}

	backend := incusapi.NewUnixClient(*socketPath, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !backend.IsAvailable(ctx) {
		log.Fatal("Incus backend is not reachable", logging.Ctx{"socket": *socketPath})
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Fatal("failed to connect to system bus", logging.Ctx{"error": err.Error()})
	}
	defer conn.Close()

	engine := operation.New(log)
	services := containersvc.New(backend, nil, log, *incusCLI)
	resolver := caller.NewResolver(conn)
	facade := dbussvc.New(conn, engine, services, resolver, cfg, log)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		log.Info("received shutdown signal", logging.Ctx{"signal": sig.String()})
		cancel()
	}()

	log.Info("starting kapsuled", logging.Ctx{"version": dbussvc.Version})

	if err := facade.Run(ctx); err != nil {
		log.Fatal("facade exited with error", logging.Ctx{"error": err.Error()})
	}
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}
