package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"tokenwatch/internal/gate"
)

// Exit status of gate commands when the caller must stay paused.
const exitGatePaused = 3

func newGateCommand(ctx *commandContext) *cobra.Command {
	var caller string
	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Pause checks for collaborating scripts",
		Long: "Scripts that must not run while the process lock is held ask the gate first.\n" +
			"The worker, telegram_manager and wallet_manager are exempt by default.",
	}
	gateCmd.PersistentFlags().StringVar(&caller, "caller", "", "Identity of the calling script (for example scanner or scanner.py)")
	_ = gateCmd.MarkPersistentFlagRequired("caller")

	gateCmd.AddCommand(newGateCheckCommand(ctx, &caller))
	gateCmd.AddCommand(newGateWaitCommand(ctx, &caller))
	gateCmd.AddCommand(newGateExecCommand(ctx, &caller))
	return gateCmd
}

func (c *commandContext) pauseGate() *gate.Gate {
	cfg := c.configValue()
	return gate.FromConfig(cfg, c.lockStore(), c.logger())
}

func newGateCheckCommand(ctx *commandContext, caller *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the caller should pause (exit status 3 when paused)",
		RunE: func(cmd *cobra.Command, args []string) error {
			paused, err := ctx.pauseGate().ShouldPause(*caller)
			if err != nil {
				return err
			}
			if paused {
				fmt.Fprintln(cmd.OutOrStdout(), "paused")
				return silentExit(exitGatePaused)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "clear")
			return nil
		},
	}
}

func newGateWaitCommand(ctx *commandContext, caller *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the caller may proceed",
		RunE: func(cmd *cobra.Command, args []string) error {
			waitCtx, cancel := withOptionalTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := ctx.pauseGate().Wait(waitCtx, *caller); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return exitf(exitGatePaused, "still paused after %s", timeout)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default: wait indefinitely)")
	return cmd
}

func newGateExecCommand(ctx *commandContext, caller *string) *cobra.Command {
	var wait bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run a command unless the caller is paused",
		Long: "Without --wait the command is skipped when the caller is paused and the exit\n" +
			"status is 0. With --wait the command runs once the gate opens.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g := ctx.pauseGate()
			run := func(c context.Context) (int, error) {
				return runChild(c, cmd, args)
			}

			if wait {
				waitCtx, cancel := withOptionalTimeout(cmd.Context(), timeout)
				defer cancel()
				code, err := gate.WrapBlocking(g, *caller, run)(waitCtx)
				if errors.Is(err, context.DeadlineExceeded) {
					return exitf(exitGatePaused, "still paused after %s", timeout)
				}
				return childResult(code, err)
			}

			res, err := gate.Wrap(g, *caller, run)(cmd.Context())
			if err == nil && res.Skipped {
				fmt.Fprintln(cmd.ErrOrStderr(), "skipped: process lock held")
				return nil
			}
			return childResult(res.Value, err)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the gate to open instead of skipping")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (with --wait)")
	return cmd
}

// runChild runs args with the command's stdio and returns its exit status.
func runChild(ctx context.Context, cmd *cobra.Command, args []string) (int, error) {
	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	err := child.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func childResult(code int, err error) error {
	if err != nil {
		return err
	}
	if code != 0 {
		return silentExit(code)
	}
	return nil
}

func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
