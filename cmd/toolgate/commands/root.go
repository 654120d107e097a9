package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/toolgate/toolgate/internal/app"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	cmd := &cli.Command{
		Name:    "toolgate",
		Usage:   "OpenAI-compatible gateway for Claude tool calling",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			authCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Starts the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: "text",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cmd.String("log-level")
	if !cmd.IsSet("log-level") && cfg.Log.Level != "" {
		logLevel = cfg.Log.Level
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return err
	}

	logFormat := cmd.String("log-format")
	if !cmd.IsSet("log-format") && cfg.Log.Format != "" {
		logFormat = cfg.Log.Format
	}

	// Set up observability before creating app
	shutdownLogs, err := observability.Instrument(ctx, level, logFormat, cfg.Log.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		if err := shutdownLogs(context.Background()); err != nil {
			slog.Error("failed to flush logs", "error", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
