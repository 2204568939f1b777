// Command robotd runs the robot navigation protocol server. Flag parsing
// and graceful shutdown follow the standard cobra + signal.NotifyContext
// entrypoint shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nodewell/robotd/internal/config"
	"github.com/nodewell/robotd/internal/logging"
	"github.com/nodewell/robotd/internal/observer"
	"github.com/nodewell/robotd/internal/server"
	"github.com/nodewell/robotd/internal/visualizer"
)

func main() {
	root := &cobra.Command{
		Use:   "robotd PORT",
		Short: "robot navigation protocol server",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}

	root.Flags().String("host", "127.0.0.1", "address to bind")
	root.Flags().Bool("gui", false, "enable the visualizer feed")
	root.Flags().Bool("verbose", false, "enable debug logging")
	root.Flags().String("log", "", "additionally write logs to this file")
	root.Flags().String("visualizer-addr", "127.0.0.1:8081", "visualizer listen address")
	root.Flags().String("visualizer-token", "", "bearer token required on the visualizer feed")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid PORT %q: %w", args[0], err)
	}

	host, _ := cmd.Flags().GetString("host")
	gui, _ := cmd.Flags().GetBool("gui")
	verbose, _ := cmd.Flags().GetBool("verbose")
	logPath, _ := cmd.Flags().GetString("log")
	vizAddr, _ := cmd.Flags().GetString("visualizer-addr")
	vizToken, _ := cmd.Flags().GetString("visualizer-token")

	cfg := config.Config{
		Host:            host,
		Port:            port,
		GUI:             gui,
		Verbose:         verbose,
		LogPath:         logPath,
		VisualizerAddr:  vizAddr,
		VisualizerToken: vizToken,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Verbose, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	log := logger.WithField("component", "robotd")

	bus := observer.NewBus()
	srv := server.New(cfg.Host, cfg.Port, log, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var vizSrv *http.Server
	if cfg.GUI {
		viz := visualizer.New(bus, cfg.VisualizerToken, log.WithField("component", "visualizer"))
		vizSrv = &http.Server{Addr: cfg.VisualizerAddr, Handler: viz.Handler()}
		go func() {
			log.WithField("addr", cfg.VisualizerAddr).Info("visualizer listening")
			if err := vizSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("visualizer stopped unexpectedly")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if vizSrv != nil {
			vizSrv.Close()
		}
		return <-errCh
	case err := <-errCh:
		if vizSrv != nil {
			vizSrv.Close()
		}
		return err
	}
}
