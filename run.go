package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/client"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/config"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/journal"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/metrics"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/observability"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/scripts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/sigcontext"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/ticketlock"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/workgroup"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// cancelledExitCode is the conventional exit status after SIGINT.
const cancelledExitCode = 130

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a script on the agent and stream its output",
		ArgsUsage: "[-- ARGUMENTS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "script", Usage: "read the script body from `FILE`, - for stdin"},
			&cli.StringFlag{Name: "body", Usage: "script body given inline"},
			&cli.StringFlag{Name: "ticket", Usage: "script ticket, generated when empty"},
			&cli.StringFlag{Name: "task-id", Usage: "task the script belongs to"},
			&cli.StringSliceFlag{Name: "file", Usage: "stage an additional `NAME=PATH` next to the script"},
			&cli.BoolFlag{Name: "isolated", Usage: "serialise with other isolated scripts sharing the mutex"},
			&cli.StringFlag{Name: "mutex", Usage: "isolation mutex `NAME`"},
			&cli.DurationFlag{Name: "mutex-timeout", Value: 10 * time.Minute},
			&cli.DurationFlag{Name: "wait", Usage: "let the agent hold the start response until the script finishes, up to `DURATION`"},
			&cli.BoolFlag{Name: "kubernetes", Usage: "run the script in a pod"},
			&cli.StringFlag{Name: "image", Usage: "pod `IMAGE`, implies --kubernetes"},
			&cli.StringFlag{Name: "feed-url"},
			&cli.StringFlag{Name: "feed-username"},
			&cli.StringFlag{Name: "feed-password", EnvVars: []string{"SCRIPTWATCH_FEED_PASSWORD"}},
			&cli.StringFlag{Name: "service-account", Usage: "pod service account `NAME`"},
			&cli.BoolFlag{Name: "raw-script", Usage: "run the body directly instead of through the bootstrap script"},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			cmd, err := commandFromFlags(c)
			if err != nil {
				return errors.WithMessage(err, "invalid command")
			}
			code, err := runScript(c.Context, log, cfg, cmd)
			if err != nil {
				return err
			}
			if code != 0 {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

func commandFromFlags(c *cli.Context) (scripts.ExecuteScriptCommand, error) {
	cmd := scripts.ExecuteScriptCommand{
		ScriptTicket:                    contracts.ScriptTicket(c.String("ticket")),
		TaskID:                          c.String("task-id"),
		ScriptBody:                      c.String("body"),
		Arguments:                       c.Args().Slice(),
		DurationToWaitForScriptToFinish: c.Duration("wait"),
		Isolation: scripts.IsolationConfiguration{
			Level:        contracts.IsolationNone,
			MutexName:    c.String("mutex"),
			MutexTimeout: c.Duration("mutex-timeout"),
		},
	}
	if c.Bool("isolated") {
		cmd.Isolation.Level = contracts.IsolationFull
	}
	if cmd.ScriptTicket == "" {
		cmd.ScriptTicket = contracts.NewScriptTicket()
	}

	if path := c.String("script"); path != "" {
		if cmd.ScriptBody != "" {
			return cmd, errors.New("--script and --body are mutually exclusive")
		}
		body, err := readScript(path)
		if err != nil {
			return cmd, err
		}
		cmd.ScriptBody = body
	}
	if cmd.ScriptBody == "" {
		return cmd, errors.New("a script body is required, use --script or --body")
	}

	for _, staged := range c.StringSlice("file") {
		name, path, ok := strings.Cut(staged, "=")
		if !ok || name == "" || path == "" {
			return cmd, errors.Errorf("file %q must be NAME=PATH", staged)
		}
		contents, err := ioutil.ReadFile(path)
		if err != nil {
			return cmd, errors.Wrapf(err, "read %s", path)
		}
		cmd.Files = append(cmd.Files, contracts.ScriptFile{Name: name, Contents: contents})
	}

	if c.Bool("kubernetes") || c.IsSet("image") {
		k := &scripts.KubernetesConfiguration{
			ServiceAccountName: c.String("service-account"),
			IsRawScript:        c.Bool("raw-script"),
		}
		if image := c.String("image"); image != "" {
			k.Image = &scripts.ImageConfiguration{
				Image:        image,
				FeedURL:      c.String("feed-url"),
				FeedUsername: c.String("feed-username"),
				FeedPassword: c.String("feed-password"),
			}
		}
		cmd.Kubernetes = k
	}
	return cmd, nil
}

func readScript(path string) (string, error) {
	var (
		body []byte
		err  error
	)
	if path == "-" {
		body, err = ioutil.ReadAll(os.Stdin)
	} else {
		body, err = ioutil.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrap(err, "read script")
	}
	return string(body), nil
}

// runScript drives cmd to completion and returns the exit code for the
// process.
func runScript(ctx context.Context, log logging.Logger, cfg *config.Config, cmd scripts.ExecuteScriptCommand) (int, error) {
	log = log.WithField("ticket", cmd.ScriptTicket.String())

	shutdown, err := observability.InitTracing("scriptwatch", cfg.Tracing)
	if err != nil {
		return 0, errors.WithMessage(err, "tracing")
	}
	defer func() {
		if err := shutdown(sigcontext.Detached(ctx)); err != nil {
			log.WithError(err).Warn("unable to flush traces")
		}
	}()

	lock, err := ticketlock.Acquire(ctx, cfg.LockDir, cmd.ScriptTicket)
	if err != nil {
		return 0, errors.WithMessage(err, "ticket lock")
	}
	defer lock.Release()

	attempt := scripts.FirstAttempt
	var runs *journal.Journal
	if cfg.Journal != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal), 0o755); err != nil {
			return 0, errors.Wrap(err, "create journal directory")
		}
		runs, err = journal.Open(cfg.Journal)
		if err != nil {
			return 0, err
		}
		defer runs.Close()
	}

	var collector *metrics.Collector
	var listener net.Listener
	if cfg.MetricsAddress != "" {
		collector = metrics.New()
		listener, err = net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			return 0, errors.Wrap(err, "metrics listener")
		}
		defer listener.Close()
	}

	recorder := &outcomeRecorder{}
	var observer client.Observer = recorder
	if collector != nil {
		observer = observers{recorder, collector}
	}
	cl, tc, err := connect(cfg, collector, observer)
	if err != nil {
		return 0, err
	}
	defer tc.Close()

	// Begin only once nothing local can fail, an unfinished entry means the
	// start may have reached the agent.
	if runs != nil {
		resumed, err := runs.Begin(ctx, cmd.ScriptTicket, cmd.TaskID)
		if err != nil {
			return 0, errors.WithMessage(err, "journal")
		}
		if resumed {
			log.Warn("an earlier run of this ticket did not finish, the script may already be running")
			attempt = scripts.PossiblyBeingReattempted
		}
	}

	var (
		result *scripts.Result
		runErr error
		logs   = make(chan contracts.ProcessOutput, 256)
		done   = make(chan struct{})
	)
	group := workgroup.WithContext(ctx)
	group.Work(func(context.Context) error {
		defer close(done)
		defer close(logs)
		// The run keeps the caller's context so a metrics failure does not
		// cancel a script that is already running.
		result, runErr = cl.ExecuteScriptAttempt(ctx, cmd, attempt, func(status scripts.Status) {
			for _, line := range status.Logs {
				logs <- line
			}
		}, nil)
		return nil
	})
	group.Work(func(context.Context) error {
		return pumpLogs(logs, os.Stdout, os.Stderr)
	})
	if listener != nil {
		group.Work(func(ctx context.Context) error {
			return serveMetrics(ctx, log, listener, collector, done)
		})
	}
	if err := group.Wait(); err != nil {
		log.WithError(err).Warn("run support failed")
	}

	if runs != nil {
		outcome := journal.Outcome{
			Version:   recorder.version(),
			Result:    result,
			Cancelled: errors.Is(runErr, scripts.ErrCancelled),
			Err:       runErr,
		}
		if err := runs.Finish(sigcontext.Detached(ctx), cmd.ScriptTicket, outcome); err != nil {
			log.WithError(err).Error("unable to record the run in the journal")
		}
	}

	switch {
	case errors.Is(runErr, scripts.ErrCancelled):
		log.WithError(runErr).Warn("script run cancelled")
		return cancelledExitCode, nil
	case runErr != nil:
		return 0, errors.WithMessage(runErr, "script run")
	}
	log.WithField("exitCode", result.ExitCode).Info("script completed")
	return result.ExitCode, nil
}

// pumpLogs writes script output as it arrives until logs is closed. logs is
// always drained so the run never blocks on a failed writer.
func pumpLogs(logs <-chan contracts.ProcessOutput, stdout, stderr io.Writer) error {
	var werr error
	for line := range logs {
		if werr != nil {
			continue
		}
		w := stdout
		if line.Source == contracts.OutputSourceStdErr {
			w = stderr
		}
		if _, err := fmt.Fprintln(w, line.Text); err != nil {
			werr = errors.Wrap(err, "write script output")
		}
	}
	return werr
}

// serveMetrics exposes collector until the run is done or ctx ends.
func serveMetrics(ctx context.Context, log logging.Logger, listener net.Listener, collector *metrics.Collector, done <-chan struct{}) error {
	srv := &http.Server{
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	log.WithField("address", listener.Addr().String()).Info("serving metrics")

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "metrics server")
	case <-done:
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(sigcontext.Detached(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// outcomeRecorder keeps the protocol version a run was started with.
type outcomeRecorder struct {
	mu   sync.Mutex
	last client.OperationMetrics
}

func (r *outcomeRecorder) ExecuteScriptCompleted(m client.OperationMetrics) {
	r.mu.Lock()
	r.last = m
	r.mu.Unlock()
}

func (r *outcomeRecorder) version() scripts.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Version
}

type observers []client.Observer

func (o observers) ExecuteScriptCompleted(m client.OperationMetrics) {
	for _, observer := range o {
		observer.ExecuteScriptCompleted(m)
	}
}
