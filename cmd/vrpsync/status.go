package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vrpsync/vrpsync/internal/store"
)

var (
	statusLimit   int
	statusRunID   int64
	statusSession string
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent sync runs",
		Long: `Show the most recent sync runs recorded in the history database, newest
first. Use --run, or --session with the session id from the sync logs, to
list the individual additions and removals of one run.`,
		Example: `  vrpsync status
  vrpsync status --limit 20
  vrpsync status --run 12
  vrpsync status --session 0b7e6d0c-3d1e-4d7a-9a55-2f3c1c7f9b10`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show (0 for all)")
	cmd.Flags().Int64Var(&statusRunID, "run", 0, "show per-release events for this run")
	cmd.Flags().StringVar(&statusSession, "session", "", "show per-release events for the run of this session")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	switch {
	case statusSession != "":
		run, err := globalStore.GetRunBySession(statusSession)
		if err != nil {
			return err
		}
		return printRunEvents(globalStore, run)
	case statusRunID > 0:
		run, err := globalStore.GetRun(statusRunID)
		if err != nil {
			return err
		}
		return printRunEvents(globalStore, run)
	}

	runs, err := globalStore.ListRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No sync runs recorded yet.")
		return nil
	}

	fmt.Println("=== RECENT RUNS ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tADDED\tREMOVED\tDURATION\tDESTINATION")
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry run)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, humanize.Time(r.StartTime), status, r.Additions, r.Removals,
			runDuration(r), r.Destination)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if last := runs[0]; last.ErrorMessage != "" {
		fmt.Printf("\nLast run error: %s\n", last.ErrorMessage)
	}

	failedPurges, err := globalStore.CountEvents(store.ActionRemove, store.OutcomeFailed)
	if err != nil {
		return err
	}
	if failedPurges > 0 {
		fmt.Printf("Failed purges in history: %d (counted as removed; see --run)\n", failedPurges)
	}
	return nil
}

func printRunEvents(st *store.Store, run *store.Run) error {
	events, err := st.ListEvents(run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d: %s, started %s (%s)\n", run.ID, run.Status,
		run.StartTime.Format(time.DateTime), humanize.Time(run.StartTime))
	if run.SessionID != "" {
		fmt.Printf("Session: %s\n", run.SessionID)
	}
	if len(events) == 0 {
		fmt.Println("No releases were added or removed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tRELEASE\tOUTCOME\tERROR")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Action, ev.Release, ev.Outcome, ev.ErrorMessage)
	}
	return w.Flush()
}

func runDuration(r store.Run) string {
	if r.EndTime.IsZero() {
		return "-"
	}
	return r.EndTime.Sub(r.StartTime).Round(time.Second).String()
}
