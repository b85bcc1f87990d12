package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tokenwatch/internal/ipc"
	"tokenwatch/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var kind string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent watchdog events from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := loadHistory(cmd.Context(), ctx, limit, strings.TrimSpace(kind))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No watchdog events recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Time", "Event", "Old PID", "New PID", "Detail"},
				historyRows(entries),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show one event kind (for example restarted or restart_suspended)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

// loadHistory asks the running watchdog and falls back to reading the
// journal directly when it is offline.
func loadHistory(cmdCtx context.Context, ctx *commandContext, limit int, kind string) ([]ipc.HistoryEntry, error) {
	if client, err := ctx.dialClient(); err == nil {
		defer client.Close()
		resp, err := client.History(limit, kind)
		if err != nil {
			return nil, err
		}
		return resp.Entries, nil
	}

	cfg := ctx.configValue()
	if _, err := os.Stat(cfg.JournalPath()); os.IsNotExist(err) {
		return nil, nil
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	defer j.Close()
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	entries, err := j.Recent(cmdCtx, limit, kind)
	if err != nil {
		return nil, err
	}
	return ipc.HistoryFrom(entries), nil
}

func historyRows(entries []ipc.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			formatTime(e.RecordedAt),
			e.Kind,
			pidCell(e.OldPID),
			pidCell(e.NewPID),
			historyDetail(e),
		})
	}
	return rows
}

func historyDetail(e ipc.HistoryEntry) string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Reason != "":
		return e.Reason
	default:
		return e.Fingerprint
	}
}

func pidCell(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}
