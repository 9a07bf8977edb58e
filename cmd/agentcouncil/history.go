package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/store"
)

var (
	historyLimit int
	historyTasks bool
)

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "List recent pipeline runs or dispatched tasks of a requester",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		if historyTasks {
			return listTasks(cmd.Context(), os.Stdout, db, args[0], historyLimit)
		}
		return listRuns(cmd.Context(), os.Stdout, db, args[0], historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", store.DefaultHistoryLimit, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&historyTasks, "tasks", false, "List dispatched tasks instead of pipeline runs")
	historyCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the entries as JSON")
}

func listRuns(ctx context.Context, w io.Writer, reader core.HistoryReader, userID string, limit int) error {
	runs, err := reader.History(ctx, userID, limit)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %-9s  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Status, truncate(r.Prompt, 60))
	}
	return nil
}

func listTasks(ctx context.Context, w io.Writer, reader core.HistoryReader, userID string, limit int) error {
	tasks, err := reader.Tasks(ctx, userID, limit)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks recorded.")
		return nil
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%s  %-9s  %-10s  %-9s  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.AgentUsed, t.Status, truncate(t.Prompt, 60))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
