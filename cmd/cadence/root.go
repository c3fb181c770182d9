package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cadence/internal/app"
)

const stopTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "cadence",
		Short: "Periodic executor and command scheduler",
		Long: `cadence runs a fixed-period loop that steps scheduled commands.

Triggers in the config file submit commands on cron or interval schedules.
Commands that need the same resource preempt one another; the newest wins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (.json, .yaml or .toml)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the executor until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and every trigger in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Check(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d triggers)\n", cfgPath, len(cfg.Triggers))
			for _, t := range cfg.Triggers {
				fmt.Fprintf(out, "  %-20s %-20s %s\n", t.Name, t.Schedule, strings.TrimSpace(t.Command))
			}
			return nil
		},
	})
	return root
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(parent); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		if parent.Err() != nil {
			reason = app.StopAppStop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return errors.Join(a.Err(), a.Stop(ctx, reason))
}
