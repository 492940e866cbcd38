package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/journal"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func capabilitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "capabilities",
		Usage: "show what the agent supports and the protocol version a run would use",
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return err
			}
			cl, tc, err := connect(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer tc.Close()

			caps, err := cl.Capabilities(c.Context)
			if err != nil {
				return errors.WithMessage(err, "capabilities")
			}
			version, err := cl.DetermineVersion(c.Context)
			if err != nil {
				return errors.WithMessage(err, "version selection")
			}
			for _, capability := range caps.SupportedCapabilities {
				fmt.Fprintln(c.App.Writer, capability)
			}
			fmt.Fprintf(c.App.Writer, "selected: %s\n", version)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list recent runs from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
			&cli.BoolFlag{Name: "unfinished", Usage: "only runs that never finished"},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return err
			}
			if cfg.Journal == "" {
				return errors.New("the journal is disabled")
			}
			if _, err := os.Stat(cfg.Journal); err != nil {
				return errors.Wrap(err, "journal")
			}
			runs, err := journal.Open(filepath.Clean(cfg.Journal))
			if err != nil {
				return err
			}
			defer runs.Close()

			var entries []journal.Entry
			if c.Bool("unfinished") {
				entries, err = runs.Unfinished(c.Context)
			} else {
				entries, err = runs.Recent(c.Context, c.Int("limit"))
			}
			if err != nil {
				return errors.WithMessage(err, "read journal")
			}
			return printEntries(c, entries)
		},
	}
}

func printEntries(c *cli.Context, entries []journal.Entry) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tTASK\tSTARTED\tVERSION\tSTATE\tEXIT\tATTEMPTS\tERROR")
	for _, e := range entries {
		state := e.State
		switch {
		case !e.Finished():
			state = "Unfinished"
		case e.Cancelled:
			state = "Cancelled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Ticket, e.TaskID, e.StartedAt.Format(time.RFC3339), e.Version, state, e.ExitCode, e.Attempts, e.Error)
	}
	return w.Flush()
}
