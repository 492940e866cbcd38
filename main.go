package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/client"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/config"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/metrics"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/sigcontext"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/transport"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "scriptwatch",
		Usage: "run scripts on a remote agent and watch them to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration `FILE`",
				EnvVars: []string{"SCRIPTWATCH_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "load environment variables from `FILE` before reading SCRIPTWATCH_* overrides",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "websocket `URL` of the agent",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log `LEVEL`",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log `FORMAT`, text or json",
			},
			&cli.BoolFlag{
				Name:  "log-split",
				Usage: "write warnings and errors to stderr and other logs to stdout",
			},
			&cli.BoolFlag{
				Name: "debug",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			capabilitiesCommand(),
			historyCommand(),
		},
	}

	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logging.New("main").WithError(err).Error("scriptwatch failed")
		cancel()
		os.Exit(1)
	}
}

// setup resolves the configuration for a command and applies its logging
// settings.
func setup(c *cli.Context) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(c.String("config"), c.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "configuration error")
	}
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if c.Bool("debug") {
		cfg.LogLevel = "debug"
	}

	setters := []logging.Setter{logging.Level(cfg.LogLevel), logging.Formatter(cfg.LogFormat)}
	if c.Bool("log-split") {
		setters = append(setters, logging.SplitOutput(os.Stdout, os.Stderr))
	}
	for _, setter := range setters {
		if err := logging.Set(setter); err != nil {
			return nil, nil, errors.WithMessage(err, "logging configuration")
		}
	}
	log := logging.New("main")

	// "debuggable" builds at runtime produce extensive logging output compared
	// to release builds with the debug flag enabled. This requires building and
	// using a distinct build in the deployment in order to use.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable produces large volumes of logs")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
		log.Info("starting logging.Debuggable enabled build")
	}

	return cfg, log, nil
}

// connect dials the agent lazily and returns a script client for it.
func connect(cfg *config.Config, collector *metrics.Collector, observer client.Observer) (*client.Client, *transport.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil, errors.New("agent endpoint must be provided")
	}
	tc := transport.NewClient(logging.New("transport"), cfg.Endpoint)
	opts := []client.Option{
		client.WithLogger(logging.New("client")),
		client.WithRetries(cfg.RetriesEnabled, cfg.RetryDuration),
		client.WithPolling(cfg.PollingStrategy()),
		client.WithAbandonCompleteAfter(cfg.AbandonCompleteAfter),
	}
	if collector != nil {
		opts = append(opts, client.WithRPCObserver(collector))
	}
	if observer != nil {
		opts = append(opts, client.WithObserver(observer))
	}
	cl, err := client.New(tc.Services(), opts...)
	if err != nil {
		tc.Close()
		return nil, nil, errors.WithMessage(err, "initialization error")
	}
	return cl, tc, nil
}
