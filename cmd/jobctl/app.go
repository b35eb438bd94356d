package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/quizjobs/internal/bootstrap"
	"github.com/cuongbtq/quizjobs/internal/config"
	"github.com/cuongbtq/quizjobs/shared/logger"
)

func newApp(configPath string) *cli.Command {
	return &cli.Command{
		Name:  "jobctl",
		Usage: "inspect and operate the quiz job pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "service configuration file",
				Value:   configPath,
				Sources: cli.NewValueSourceChain(cli.EnvVar("JOBCTL_CONFIG_PATH")),
			},
			withConfigFile(configPath, "log_level", &cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "warn",
				Sources: cli.NewValueSourceChain(cli.EnvVar("JOBCTL_LOG_LEVEL")),
			}),
		},
		Commands: []*cli.Command{
			submitCommand(),
			statusCommand(),
			listCommand(configPath),
			quizCommand(),
			exportCommand(),
			dlqCommand(configPath),
			reconcileCommand(configPath),
		},
	}
}

// withConfigFile lets key under the "jobctl" section of the YAML file supply a
// flag default after its env var.
func withConfigFile(path, key string, flag *cli.StringFlag) *cli.StringFlag {
	flag.Sources.Chain = append(flag.Sources.Chain, yaml.YAML("jobctl."+key, altsrc.StringSourcer(path)))
	return flag
}

func intFromConfigFile(path, key string, flag *cli.IntFlag) *cli.IntFlag {
	flag.Sources.Chain = append(flag.Sources.Chain, yaml.YAML("jobctl."+key, altsrc.StringSourcer(path)))
	return flag
}

func durationFromConfigFile(path, key string, flag *cli.DurationFlag) *cli.DurationFlag {
	flag.Sources.Chain = append(flag.Sources.Chain, yaml.YAML("jobctl."+key, altsrc.StringSourcer(path)))
	return flag
}

// session is what one command invocation works with
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *bootstrap.Backends
}

func (s *session) Close() {
	if err := s.backends.Close(); err != nil {
		s.logger.Warn("Failed to close backends", slog.Any("error", err))
	}
}

func openSession(ctx context.Context, cmd *cli.Command, opts bootstrap.Options) (*session, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      cmd.String("log-level"),
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.TimeOnly,
	})
	if err != nil {
		return nil, err
	}

	backends, err := bootstrap.Open(ctx, cfg, appLogger.Component("jobctl"), opts)
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, logger: appLogger.Component("jobctl"), backends: backends}, nil
}
