package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/calvw/flowcheck/internal/config"
	"github.com/calvw/flowcheck/internal/executor"
	"github.com/calvw/flowcheck/internal/harness"
	"github.com/calvw/flowcheck/internal/history"
	"github.com/calvw/flowcheck/internal/logging"
	"github.com/calvw/flowcheck/internal/normalize"
	"github.com/calvw/flowcheck/internal/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SnapshotsDir string
	Update       bool
	Deep         bool
	SkipList     string
	Filter       string
	Parallel     int
	Executable   string
	Timeout      int
	DB           string
	Rules        string
}

// WorkflowResult is the per-workflow entry in the run report.
type WorkflowResult struct {
	WorkflowID string   `json:"workflowId"`
	Name       string   `json:"name"`
	Outcome    string   `json:"outcome"`
	Message    string   `json:"message,omitempty"`
	DiffPaths  []string `json:"diffPaths,omitempty"`
	DurationMS int64    `json:"durationMs"`
}

// RunReport holds the overall run result.
type RunReport struct {
	Workflows []WorkflowResult `json:"workflows"`
	Summary   harness.Summary  `json:"summary"`
	SessionID string           `json:"sessionId,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workflows-dir>",
		Short: "Execute workflows and compare snapshots",
		Long: `Run every workflow definition in a directory through the external
workflow CLI, normalize the execution traces, and compare or update the
stored snapshots.

Snapshot handling is selected by the SNAPSHOTS environment variable
(compare|update) or the --update flag; when neither is set, workflows are
executed without touching snapshots. SNAPSHOT_MODE=deep disables shallow
payload collapsing.

Exit codes:
  0 - All workflows passed
  1 - One or more workflows failed
  2 - Command error (invalid paths, etc.)

Examples:
  flowcheck run ./workflows
  SNAPSHOTS=compare flowcheck run ./workflows --parallel 4
  flowcheck run ./workflows --update --filter "billing-*"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflows(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SnapshotsDir, "snapshots-dir", "", "snapshot directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "record snapshots instead of comparing")
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "disable shallow payload collapsing")
	cmd.Flags().StringVar(&opts.SkipList, "skip-list", "", "JSON file of workflow ids to skip")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter workflows by glob on name or id")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "number of parallel workers")
	cmd.Flags().StringVar(&opts.Executable, "executable", "", "workflow CLI binary")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", 0, "per-workflow timeout in seconds")
	cmd.Flags().StringVar(&opts.DB, "db", "", "run history database path (empty disables)")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "YAML node-rule override file")

	return cmd
}

func runWorkflows(opts *RunOptions, workflowsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(workflowsDir); os.IsNotExist(err) {
		return formatter.CommandError("E001", fmt.Sprintf("workflows directory not found: %s", workflowsDir), nil)
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:    opts.ConfigPath,
		FlagOverrides: flagOverrides(opts, cmd),
	})
	if err != nil {
		return formatter.CommandError("E002", "load configuration", err)
	}

	defs, err := workflow.LoadDir(workflowsDir)
	if err != nil {
		// A single malformed definition aborts the whole run.
		return formatter.CommandError("E003", "load workflows", err)
	}
	defs = filterDefinitions(defs, opts.Filter)

	if len(defs) == 0 {
		if opts.Format == "json" {
			return formatter.Success(RunReport{Workflows: []WorkflowResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No workflows found.")
		return nil
	}

	skip, err := workflow.LoadSkipList(opts.SkipList)
	if err != nil {
		return formatter.CommandError("E004", "load skip list", err)
	}

	overrides, err := workflow.LoadOverrides(cfg.RulesFile)
	if err != nil {
		return formatter.CommandError("E005", "load rule overrides", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Setup.Command != "" {
		if err := runSetupBarrier(ctx, cfg.Setup); err != nil {
			return formatter.CommandError("E006", "session setup", err)
		}
	}

	runner := &harness.Runner{
		Exec: &executor.Executor{
			Executable:        cfg.Executor.Executable,
			EncryptionKey:     cfg.Executor.EncryptionKey,
			MaxOutputBytes:    int64(cfg.Executor.MaxOutputMB) << 20,
			TransientPatterns: cfg.Executor.TransientPatterns,
			Debug:             cfg.Executor.Debug,
		},
		Norm: &normalize.Normalizer{
			VolatileFields: cfg.Normalize.VolatileFields,
			Shallow:        !cfg.Snapshots.Deep,
		},
		SnapshotsDir: cfg.Snapshots.Dir,
		Snapshots:    harness.SnapshotPolicy(cfg.Snapshots.Policy),
		Skip:         skip,
		Overrides:    overrides,
		Timeout:      cfg.Executor.Timeout(),
	}

	formatter.VerboseLog("running %d workflows (parallel=%d, snapshots=%q, deep=%v)",
		len(defs), opts.Parallel, cfg.Snapshots.Policy, cfg.Snapshots.Deep)

	results := runner.Run(ctx, defs, opts.Parallel)
	summary := harness.Summarize(results)

	report := RunReport{
		Workflows: make([]WorkflowResult, 0, len(results)),
		Summary:   summary,
	}
	for _, res := range results {
		report.Workflows = append(report.Workflows, WorkflowResult{
			WorkflowID: res.WorkflowID,
			Name:       res.Name,
			Outcome:    string(res.Outcome),
			Message:    res.Message,
			DiffPaths:  res.DiffPaths,
			DurationMS: res.Duration.Milliseconds(),
		})
	}

	if sessionID, err := recordHistory(ctx, cfg, results); err != nil {
		logging.Warn("run history not recorded", "err", err)
	} else {
		report.SessionID = sessionID
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		outputRunText(cmd, results, summary)
	}

	if summary.HasFailures() {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d of %d workflows failed", summary.Failed+summary.Fatal, len(results)))
	}
	return nil
}

// flagOverrides maps changed CLI flags onto config keys so they win over
// file and environment values.
func flagOverrides(opts *RunOptions, cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	if cmd.Flags().Changed("snapshots-dir") {
		overrides["snapshots.dir"] = opts.SnapshotsDir
	}
	if opts.Update {
		overrides["snapshots.policy"] = "update"
	}
	if opts.Deep {
		overrides["snapshots.deep"] = true
	}
	if cmd.Flags().Changed("executable") {
		overrides["executor.executable"] = opts.Executable
	}
	if cmd.Flags().Changed("timeout") {
		overrides["executor.timeout_seconds"] = opts.Timeout
	}
	if cmd.Flags().Changed("db") {
		overrides["history.database_path"] = opts.DB
	}
	if cmd.Flags().Changed("rules") {
		overrides["rules_file"] = opts.Rules
	}
	return overrides
}

func filterDefinitions(defs []workflow.Definition, filter string) []workflow.Definition {
	if filter == "" {
		return defs
	}
	var kept []workflow.Definition
	for _, def := range defs {
		byName, _ := filepath.Match(filter, def.Name)
		byID, _ := filepath.Match(filter, def.ID)
		if byName || byID {
			kept = append(kept, def)
		}
	}
	return kept
}

// runSetupBarrier runs the configured session setup command exactly once
// across parallel harness invocations.
func runSetupBarrier(ctx context.Context, setup config.SetupConfig) error {
	barrier := &harness.Barrier{
		Dir:          setup.Dir,
		Timeout:      time.Duration(setup.TimeoutSeconds) * time.Second,
		PollInterval: time.Duration(setup.PollMillis) * time.Millisecond,
		StaleAfter:   time.Duration(setup.StaleMinutes) * time.Minute,
	}
	return barrier.Ensure(ctx, func(ctx context.Context) error {
		c := exec.CommandContext(ctx, "sh", "-c", setup.Command)
		c.Stdout = os.Stderr
		c.Stderr = os.Stderr
		return c.Run()
	})
}

// recordHistory appends the run to the SQLite ledger. An empty database
// path disables recording.
func recordHistory(ctx context.Context, cfg config.Config, results []harness.Result) (string, error) {
	if cfg.History.DatabasePath == "" {
		return "", nil
	}
	ledger, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return "", err
	}
	defer ledger.Close()

	session, err := ledger.BeginSession(ctx, cfg.Snapshots.Policy, !cfg.Snapshots.Deep)
	if err != nil {
		return "", err
	}
	var errs []error
	for _, res := range results {
		errs = append(errs, ledger.RecordRun(ctx, session.ID, res))
	}
	return session.ID, errors.Join(errs...)
}

func outputRunText(cmd *cobra.Command, results []harness.Result, summary harness.Summary) {
	w := cmd.OutOrStdout()

	for _, res := range results {
		switch res.Outcome {
		case harness.OutcomePass:
			fmt.Fprintf(w, "✓ %s (%s)\n", res.Name, res.WorkflowID)
			if res.Message != "" {
				fmt.Fprintf(w, "  %s\n", res.Message)
			}
		case harness.OutcomeSkipped:
			fmt.Fprintf(w, "- %s (%s) skipped\n", res.Name, res.WorkflowID)
		case harness.OutcomeWarning:
			fmt.Fprintf(w, "! %s (%s) warning: %s\n", res.Name, res.WorkflowID, res.Message)
		default:
			fmt.Fprintf(w, "✗ %s (%s) %s\n", res.Name, res.WorkflowID, res.Outcome)
			if res.Message != "" {
				fmt.Fprintf(w, "  %s\n", res.Message)
			}
			for _, path := range res.DiffPaths {
				fmt.Fprintf(w, "  diff: %s\n", path)
			}
		}
	}

	fmt.Fprintf(w, "\n%d passed, %d failed, %d fatal, %d warnings, %d skipped\n",
		summary.Passed, summary.Failed, summary.Fatal, summary.Warnings, summary.Skipped)
}
