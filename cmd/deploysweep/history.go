package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"deploysweep/internal/cutoff"
	"deploysweep/internal/history"
	"deploysweep/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	historyDB    string
	historyLimit int
	historyRun   int64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded prune runs",
	Long: `Show recent prune runs recorded with --history-db.

With --run, lists the deployments handled by that run and their outcome.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", getEnvOrDefault("DEPLOYSWEEP_DB_PATH", "./deploysweep.db"), "Path to SQLite database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().Int64Var(&historyRun, "run", 0, "Show deployments of a single run")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !fileutil.FileExists(historyDB) {
		return fmt.Errorf("history database not found: %s", historyDB)
	}

	hist, err := history.NewHistory(historyDB)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	if historyRun > 0 {
		return showRunDeployments(cmd.Context(), hist, historyRun, cmd.OutOrStdout())
	}
	return showRecentRuns(cmd.Context(), hist, historyLimit, cmd.OutOrStdout())
}

func showRecentRuns(ctx context.Context, hist *history.History, limit int, out io.Writer) error {
	runs, err := hist.GetRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTARGET\tCUTOFF\tSTATUS\tCANDIDATES\tDELETED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Target,
			cutoff.FormatISO(r.Cutoff),
			r.Status(),
			r.Candidates,
			r.Deleted,
			r.Failed)
	}
	return w.Flush()
}

func showRunDeployments(ctx context.Context, hist *history.History, runID int64, out io.Writer) error {
	deployments, err := hist.GetRunDeployments(ctx, runID)
	if err != nil {
		return err
	}
	if len(deployments) == 0 {
		fmt.Fprintf(out, "No deployments recorded for run %d.\n", runID)
		return nil
	}

	for _, d := range deployments {
		line := fmt.Sprintf("%s | %s | created=%s | url=%s | %s",
			d.ProjectName, d.UID, cutoff.FormatISO(d.CreatedAt), d.URL, d.Outcome)
		if d.ErrorMessage != nil {
			line += ": " + *d.ErrorMessage
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
