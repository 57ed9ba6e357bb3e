package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calvw/flowcheck/internal/config"
	"github.com/calvw/flowcheck/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DB      string
	Limit   int
	Session string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent run outcomes",
		Long: `Show recent workflow run outcomes from the history ledger.

With --session, lists every run recorded under that session in order;
otherwise the newest runs across all sessions.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "run history database path")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum entries to show")
	cmd.Flags().StringVar(&opts.Session, "session", "", "show runs for one session id")

	return cmd
}

func showHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(config.LoadOptions{ConfigPath: opts.ConfigPath})
	if err != nil {
		return formatter.CommandError("E002", "load configuration", err)
	}

	dbPath := cfg.History.DatabasePath
	if opts.DB != "" {
		dbPath = opts.DB
	}
	if dbPath == "" {
		return formatter.CommandError("E007", "run history is disabled; set --db or history.database_path", nil)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return formatter.CommandError("E007", fmt.Sprintf("history database not found: %s", dbPath), nil)
	}

	ledger, err := history.Open(dbPath)
	if err != nil {
		return formatter.CommandError("E007", "open history database", err)
	}
	defer ledger.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var runs []history.Run
	if opts.Session != "" {
		runs, err = ledger.SessionRuns(ctx, opts.Session)
	} else {
		runs, err = ledger.RecentRuns(ctx, opts.Limit)
	}
	if err != nil {
		return formatter.CommandError("E007", "query history", err)
	}

	if opts.Format == "json" {
		return formatter.Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %-8s %s (%s)", run.RecordedAt.Format("2006-01-02 15:04:05"),
			run.Outcome, run.WorkflowName, run.WorkflowID)
		if run.DiffCount > 0 {
			fmt.Fprintf(w, "  %d diffs", run.DiffCount)
		}
		if run.Message != "" {
			fmt.Fprintf(w, "  %s", run.Message)
		}
		fmt.Fprintln(w)
	}
	return nil
}
