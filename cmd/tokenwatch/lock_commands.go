package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokenwatch/internal/ipc"
	"tokenwatch/internal/lockstore"
)

// Exit status of `lock run` when a live holder already owns the lock.
const exitLockHeld = 75

func newLockCommand(ctx *commandContext) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage the shared process lock",
	}
	lockCmd.AddCommand(newLockStatusCommand(ctx))
	lockCmd.AddCommand(newLockRunCommand(ctx))
	lockCmd.AddCommand(newLockReleaseCommand(ctx))
	lockCmd.AddCommand(newLockCleanCommand(ctx))
	return lockCmd
}

func (c *commandContext) lockStore() *lockstore.Store {
	return lockstore.FromConfig(c.configValue(), c.logger())
}

func newLockStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the lock artifact and whether its owner is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := ipc.LockStatusFrom(ctx.lockStore().Inspect())
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, status)
			}
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine("Process lock", lockKind(status), lockSummary(status), colorize))
			if status.Present {
				fmt.Fprint(out, renderFields(lockFields(status)))
			}
			if status.Error != "" {
				return errors.New(status.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newLockRunCommand(ctx *commandContext) *cobra.Command {
	var holder string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command while holding the process lock",
		Long: "Acquires the process lock, runs the command, and releases the lock when the\n" +
			"command exits. The watchdog defers worker restarts while the command runs.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := ctx.lockStore()
			name := strings.TrimSpace(holder)
			if name == "" {
				name = filepath.Base(args[0])
			}

			if wait {
				waitCtx, cancel := withOptionalTimeout(cmd.Context(), timeout)
				defer cancel()
				if err := store.AcquireWait(waitCtx, name, ctx.configValue().GatePollInterval()); err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return exitf(exitLockHeld, "lock still held after %s", timeout)
					}
					return err
				}
				code, err := runChild(cmd.Context(), cmd, args)
				if relErr := store.Release(); relErr != nil {
					err = errors.Join(err, relErr)
				}
				return childResult(code, err)
			}

			runCtx, cancel := withOptionalTimeout(cmd.Context(), 0)
			defer cancel()
			var code int
			err := store.WithLock(runCtx, name, func(c context.Context) error {
				var runErr error
				code, runErr = runChild(c, cmd, args)
				return runErr
			})
			if errors.Is(err, lockstore.ErrAlreadyLocked) {
				return exitf(exitLockHeld, "%v", err)
			}
			return childResult(code, err)
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "", "Holder name recorded in the lock (defaults to the command name)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the lock instead of failing when it is held")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (with --wait)")
	return cmd
}

func newLockReleaseCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Remove the lock artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := ctx.lockStore()
			status := ipc.LockStatusFrom(store.Inspect())
			out := cmd.OutOrStdout()
			if !status.Present {
				fmt.Fprintln(out, "Lock is not held")
				return nil
			}
			if status.Held && !force {
				return fmt.Errorf("lock is held by live pid %d (use --force to remove it anyway)", status.HolderPID)
			}
			if err := store.Release(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Lock released")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Remove the artifact even when its owner is alive")
	return cmd
}

func newLockCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the lock artifact if its owner is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := ctx.lockStore().CleanStale()
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Stale lock removed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No stale lock found")
			}
			return nil
		},
	}
}

func lockKind(status ipc.LockStatus) statusKind {
	switch {
	case status.Error != "":
		return statusError
	case status.Held:
		return statusWarn
	case status.Present:
		return statusInfo
	default:
		return statusOK
	}
}

func lockSummary(status ipc.LockStatus) string {
	switch {
	case status.Error != "":
		return "Unreadable: " + status.Error
	case !status.Present:
		return "Not held"
	case status.Foreign:
		return "Held from another host"
	case status.Corrupt && status.Held:
		return "Held (artifact still being written)"
	case status.Corrupt:
		return "Stale (unreadable artifact)"
	case status.Held:
		return fmt.Sprintf("Held by pid %d", status.HolderPID)
	default:
		return fmt.Sprintf("Stale (pid %d is gone)", status.HolderPID)
	}
}

func lockFields(status ipc.LockStatus) [][2]string {
	fields := [][2]string{{"Path", status.Path}}
	if status.HolderPID > 0 {
		fields = append(fields, [2]string{"PID", strconv.Itoa(status.HolderPID)})
	}
	if status.HolderName != "" {
		fields = append(fields, [2]string{"Holder", status.HolderName})
	}
	fields = append(fields,
		[2]string{"Age", formatAge(time.Duration(status.AgeSeconds) * time.Second)},
		[2]string{"Owner alive", yesNo(status.Held && !status.Foreign && !status.Corrupt)},
	)
	return fields
}
