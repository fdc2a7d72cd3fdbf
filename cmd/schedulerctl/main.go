// Command schedulerctl is the CLI front-end for the remote manager
// (spec.md §4.F), modeled on the teacher's telemetry-data CLI
// (controlplane/telemetry/internal/data/cli/root.go): a cobra root
// command with persistent verbose/address flags and tint-colorized
// console logging.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fleetharness/scheduler/internal/remote"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func main() {
	os.Exit(int(run()))
}

type exitCode int

const (
	exitSuccess exitCode = 0
	exitError   exitCode = 1
)

func run() exitCode {
	var (
		verbose bool
		addr    string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:   "schedulerctl",
		Short: "Control a running schedulerd remote manager.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "127.0.0.1:30103", "schedulerd remote-manager address")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "per-request timeout")

	connect := func() (*remote.Client, error) { return remote.Dial(addr, timeout) }

	rootCmd.AddCommand(
		newAllocateCmd(connect, &verbose),
		newFreeCmd(connect, &verbose),
		newAddCommandCmd(connect, &verbose),
		newExecCommandCmd(connect, &verbose),
		newListDevicesCmd(connect, &verbose),
		newResultCmd(connect, &verbose),
		newCloseCmd(connect, &verbose),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitError
	}
	return exitSuccess
}

func newAllocateCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "allocate <serial>",
		Short: "Force-allocate a device by serial.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.SendAllocateDevice(args[0])
			if err != nil {
				return err
			}
			log.Info("allocate", "serial", args[0], "ok", ok)
			return nil
		},
	}
}

func newFreeCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "free <serial|*>",
		Short: "Free a device, or with * every device the remote manager holds for remote peers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.SendFreeDevice(args[0])
			if err != nil {
				return err
			}
			log.Info("free", "serial", args[0], "ok", ok)
			return nil
		},
	}
}

func newAddCommandCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	var timeMs int64
	cmd := &cobra.Command{
		Use:   "add-command -- <args...>",
		Short: "Enqueue a command on the remote scheduler.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.SendAddCommand(time.Duration(timeMs)*time.Millisecond, args)
			if err != nil {
				return err
			}
			log.Info("add-command", "ok", ok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&timeMs, "total-exec-time-ms", 0, "starting accumulated execution time, in milliseconds")
	return cmd
}

func newExecCommandCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <serial> -- <args...>",
		Short: "Immediately run a command against an already-allocated device.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.SendExecCommand(args[0], args[1:])
			if err != nil {
				return err
			}
			log.Info("exec", "serial", args[0], "ok", ok)
			return nil
		},
	}
}

func newListDevicesCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List every device known to the remote fleet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			devices, err := c.SendListDevices()
			if err != nil {
				return err
			}
			return printJSON(devices)
		},
	}
}

func newResultCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "result <serial>",
		Short: "Get the last command result for a device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.SendGetLastCommandResult(args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newCloseCmd(connect func() (*remote.Client, error), verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Ask the remote manager to end this session (the manager keeps running).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			c, err := connect()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SendClose(); err != nil {
				return err
			}
			log.Info("close: ok")
			return nil
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
