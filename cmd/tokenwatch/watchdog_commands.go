package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tokenwatch/internal/ipc"
	"tokenwatch/internal/watchdogctl"
)

func newWatchdogCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the watchdog in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := watchdogExecutable()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			if err := cfg.ValidateWorker(); err != nil {
				return err
			}

			result, err := watchdogctl.EnsureStarted(cfg.SocketPath(), exe, launchOptions(ctx, startLogLevel), 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case watchdogctl.StartStateStarted:
				fmt.Fprintf(stdout, "Watchdog started (pid %d)\n", result.PID)
			case watchdogctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Watchdog already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level for the watchdog")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the watchdog and its worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg := ctx.configValue()
			result, err := watchdogctl.StopAndTerminate(cfg, cfg.TerminateGrace()+5*time.Second)
			if errors.Is(err, watchdogctl.ErrWatchdogNotRunning) {
				fmt.Fprintln(stdout, "Watchdog is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed watchdog process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Watchdog stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the watchdog process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := watchdogExecutable()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			result, err := watchdogctl.Restart(cfg, exe, launchOptions(ctx, restartLogLevel), cfg.TerminateGrace()+5*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed watchdog process (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Watchdog stopped")
			}
			fmt.Fprintf(stdout, "Watchdog restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override logging.level for the watchdog")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show watchdog, lock and worker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := watchdogctl.BuildStatusSnapshot(cmd.Context(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			renderStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(out io.Writer, snap *watchdogctl.Snapshot) {
	colorize := shouldColorize(out)
	status := snap.Status

	for _, line := range renderSectionHeader("Watchdog", colorize) {
		fmt.Fprintln(out, line)
	}
	if snap.Running {
		fmt.Fprintln(out, renderStatusLine("Process", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		fmt.Fprintln(out, renderStatusLine("State", stateKind(status.State), stateLabel(status.State), colorize))
		if status.Pending != "" {
			fmt.Fprintln(out, renderStatusLine("Pending change", statusInfo, "since "+formatTime(status.PendingSince), colorize))
		}
		if status.LastError != "" {
			fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.LastError, colorize))
		}
	} else {
		fmt.Fprintln(out, renderStatusLine("Process", statusError, "Not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Watch file", statusInfo, fmt.Sprintf("%s (%s)", status.WatchFile, status.FingerprintMode), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Process Lock", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Lock", lockKind(status.Lock), lockSummary(status.Lock), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Worker", colorize) {
		fmt.Fprintln(out, line)
	}
	workerKind, workerText := statusWarn, "Not running"
	if status.Worker.Running {
		workerKind, workerText = statusOK, fmt.Sprintf("Running (pid %d)", status.Worker.PID)
	} else if status.Worker.LastExit != "" {
		workerText = "Exited: " + status.Worker.LastExit
	}
	fmt.Fprintln(out, renderStatusLine("Worker", workerKind, workerText, colorize))
	if status.Worker.Command != "" {
		fmt.Fprintln(out, renderStatusLine("Command", statusInfo, status.Worker.Command, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Restarts", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := [][]string{
		{"Restarted", strconv.Itoa(status.Restarts)},
		{"Suspended", strconv.Itoa(status.Suspensions)},
		{"Failed", strconv.Itoa(status.Failures)},
		{"Last restart", formatTime(status.LastRestart)},
	}
	fmt.Fprint(out, renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(snap.Checks) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Checks", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, check := range snap.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}
}

func newRestartWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart-worker",
		Short: "Ask the watchdog to restart the worker (deferred while the lock is held)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RestartWorker()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Restart queued (watchdog state: %s)\n", stateLabel(resp.State))
				if resp.Message != "" {
					fmt.Fprintln(out, resp.Message)
				}
				return nil
			})
		},
	}
}

func watchdogExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func launchOptions(ctx *commandContext, logLevel string) watchdogctl.LaunchOptions {
	return watchdogctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   logLevel,
	}
}
