package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/podbox/config"
	"github.com/isdmx/podbox/images"
	"github.com/isdmx/podbox/logger"
	"github.com/isdmx/podbox/mcpserver"
	"github.com/isdmx/podbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox, torn down when the app stops
			newSandbox,
			func(sb *sandbox.Sandbox) mcpserver.Sandbox { return sb },

			// Registry client used to populate the image cache
			fx.Annotate(
				images.NewRemoteClientFromConfig,
				fx.As(new(sandbox.ImageClient)),
			),

			// MCP Server
			mcpserver.New,
		),

		fx.Invoke(startService),

		// Start the appropriate transport based on config
		fx.Invoke(serve),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newSandbox(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (*sandbox.Sandbox, error) {
	sb, err := sandbox.New(log, cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if outcome := sb.Teardown(); outcome.Status == sandbox.Failed {
				return outcome.Err
			}
			return nil
		},
	})

	return sb, nil
}

// startService runs the podman API service for the lifetime of the app when
// service.enabled is set.
func startService(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, sb *sandbox.Sandbox) {
	if !cfg.Service.Enabled {
		return
	}

	var proc *sandbox.Process
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			output := zap.NewStdLog(log.Named("service")).Writer()

			var err error
			proc, err = sb.StartService(sandbox.LaunchOptions{Stdout: output, Stderr: output})
			if err != nil {
				return err
			}
			log.Info("podman service started", zap.String("uri", sb.ServiceURI()), zap.Int("pid", proc.Pid()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return proc.Stop(ctx)
		},
	})
}

func serve(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, cfg *config.Config, server *mcpserver.MCPServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var run func() error
			switch cfg.Server.Transport {
			case "stdio":
				run = server.ServeStdio
			case "http":
				run = server.ServeHTTP
			}

			go func() {
				if err := run(); err != nil {
					log.Error("transport stopped", zap.String("transport", cfg.Server.Transport), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
	})
}
