// Package cmd wires the urfave/cli entrypoint, mirroring the teacher's
// cmd.Run()/serverCmd() shape.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/onemail/sync-core/internal/config"
	"github.com/onemail/sync-core/internal/telemetry"
)

const (
	ServiceName = "sync-core"
)

var (
	version    = "0.0.0"
	commit     = "hash"
	commitDate = time.Now().String()
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Per-account IMAP IDLE sync core with WebSocket fan-out",
		Version: version + " (" + commit + ", " + commitDate + ")",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the sync core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "otlp_endpoint",
				Usage: "OTLP log collector endpoint; logs to stderr JSON when unset",
			},
		},
		Action: func(c *cli.Context) error {
			loader, logger, shutdownTelemetry, err := bootstrap(c.String("config_file"), c.String("otlp_endpoint"))
			if err != nil {
				return err
			}

			app := NewApp(loader, logger)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("synccore: shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), loader.Current().ShutdownDeadline)
			defer cancel()

			stopErr := app.Stop(ctx)
			_ = shutdownTelemetry(ctx)
			return stopErr
		},
	}
}

func bootstrap(configFile, otlpEndpoint string) (*config.Loader, *slog.Logger, func(context.Context) error, error) {
	// A bare JSON-to-stderr logger is used until the config is loaded, so
	// config-load failures are still reported structurally.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	loader, err := config.Load(configFile, bootLogger)
	if err != nil {
		return nil, nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(loader.Current().LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	logger, shutdown, err := telemetry.New(telemetry.Options{
		ServiceName:  ServiceName,
		Level:        level,
		OTLPEndpoint: otlpEndpoint,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return loader, logger, shutdown, nil
}
