// Package harness orchestrates the per-workflow regression pipeline:
// execute through the external CLI, normalize the trace, then compare or
// update the stored snapshot.
package harness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/calvw/flowcheck/internal/executor"
	"github.com/calvw/flowcheck/internal/normalize"
	"github.com/calvw/flowcheck/internal/snapshot"
	"github.com/calvw/flowcheck/internal/workflow"
)

// Outcome classifies how a single workflow run ended.
type Outcome string

const (
	// OutcomeSkipped means the workflow id was on the skip list.
	OutcomeSkipped Outcome = "SKIPPED"

	// OutcomeWarning means execution failed transiently; the run counts as
	// an annotated pass and the snapshot step is skipped.
	OutcomeWarning Outcome = "WARNING"

	// OutcomeFatal means execution failed with a non-transient error.
	OutcomeFatal Outcome = "FATAL"

	// OutcomePass means the pipeline completed and the snapshot matched,
	// was updated, or snapshot handling was disabled.
	OutcomePass Outcome = "PASS"

	// OutcomeFail means the normalized result differed from the snapshot.
	OutcomeFail Outcome = "FAIL"
)

// SnapshotPolicy selects what the pipeline does with snapshots.
type SnapshotPolicy string

const (
	// SnapshotsDisabled runs workflows without touching snapshots.
	SnapshotsDisabled SnapshotPolicy = ""

	// SnapshotsCompare diffs the normalized result against the stored
	// snapshot.
	SnapshotsCompare SnapshotPolicy = "compare"

	// SnapshotsUpdate overwrites the stored snapshot with the normalized
	// result.
	SnapshotsUpdate SnapshotPolicy = "update"
)

// Result is the outcome of one workflow's pipeline run.
type Result struct {
	WorkflowID string        `json:"workflowId"`
	Name       string        `json:"name"`
	Outcome    Outcome       `json:"outcome"`
	Message    string        `json:"message,omitempty"`
	DiffPaths  []string      `json:"diffPaths,omitempty"`
	Duration   time.Duration `json:"duration"`

	// SnapshotCreated distinguishes a first write from an overwrite in
	// update mode.
	SnapshotCreated bool `json:"snapshotCreated,omitempty"`

	// Err carries the underlying error for FATAL outcomes.
	Err error `json:"-"`
}

// Failed reports whether the result should fail the overall run.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFail || r.Outcome == OutcomeFatal
}

// Runner wires the pipeline stages together. Zero-value fields fall back to
// sensible defaults; only Exec is required.
type Runner struct {
	Exec *executor.Executor
	Norm *normalize.Normalizer

	SnapshotsDir string
	Snapshots    SnapshotPolicy

	// Skip holds workflow ids excluded from execution.
	Skip map[string]struct{}

	// Overrides take precedence over notes-derived node rules.
	Overrides *workflow.Overrides

	// Timeout bounds each execution; zero means no deadline.
	Timeout time.Duration

	// Now is the snapshot timestamp source, overridable in tests.
	Now func() time.Time
}

// RunOne executes the full pipeline for a single workflow definition.
func (r *Runner) RunOne(ctx context.Context, def workflow.Definition) Result {
	start := time.Now()
	res := r.runOne(ctx, def)
	res.WorkflowID = def.ID
	res.Name = def.Name
	res.Duration = time.Since(start)
	return res
}

func (r *Runner) runOne(ctx context.Context, def workflow.Definition) Result {
	if _, skip := r.Skip[def.ID]; skip {
		return Result{Outcome: OutcomeSkipped, Message: "on skip list"}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	outcome, err := r.Exec.Execute(ctx, def.ID)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Message: fatalMessage(err), Err: err}
	}
	if outcome.Transient {
		return Result{Outcome: OutcomeWarning, Message: outcome.Message}
	}

	rules := workflow.ParseNodeRules(def)
	if r.Overrides != nil {
		rules = r.Overrides.Merge(def.ID, rules)
	}

	norm := r.Norm
	if norm == nil {
		norm = &normalize.Normalizer{Shallow: true}
	}
	norm.Normalize(outcome.Result, rules)

	switch r.Snapshots {
	case SnapshotsUpdate:
		return r.updateSnapshot(def.ID, outcome.Result, norm.Shallow)
	case SnapshotsCompare:
		return r.compareSnapshot(def.ID, outcome.Result, norm.Shallow)
	default:
		return Result{Outcome: OutcomePass}
	}
}

func (r *Runner) updateSnapshot(workflowID string, result map[string]any, shallow bool) Result {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	created, err := snapshot.Write(r.SnapshotsDir, workflowID, result, shallow, now())
	if err != nil {
		return Result{Outcome: OutcomeFatal, Message: err.Error(), Err: err}
	}
	msg := "snapshot updated"
	if created {
		msg = "snapshot created"
	}
	return Result{Outcome: OutcomePass, Message: msg, SnapshotCreated: created}
}

func (r *Runner) compareSnapshot(workflowID string, result map[string]any, shallow bool) Result {
	snap, err := snapshot.Load(r.SnapshotsDir, workflowID)
	if err != nil {
		// A missing snapshot is an operator error, not a comparison
		// failure; FAIL is reserved for a snapshot that differs.
		return Result{Outcome: OutcomeFatal, Message: err.Error(), Err: err}
	}

	var note string
	if snap.Meta != nil && snap.Meta.Shallow != shallow {
		note = "snapshot recorded in a different normalization mode; re-record with SNAPSHOTS=update"
	}

	if paths := snapshot.Diff(snap.Result, result); len(paths) > 0 {
		return Result{Outcome: OutcomeFail, Message: note, DiffPaths: paths}
	}
	return Result{Outcome: OutcomePass, Message: note}
}

func fatalMessage(err error) string {
	var execErr *executor.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}

// Run executes every definition under a bounded worker pool and returns
// results in input order. parallel <= 1 runs sequentially.
func (r *Runner) Run(ctx context.Context, defs []workflow.Definition, parallel int) []Result {
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(defs) {
		parallel = len(defs)
	}

	results := make([]Result, len(defs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < parallel; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.RunOne(ctx, defs[i])
			}
		}()
	}

	for i := range defs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// Summary aggregates run results by outcome.
type Summary struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Fatal    int `json:"fatal"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`
}

// Summarize tallies outcomes over a result set.
func Summarize(results []Result) Summary {
	var s Summary
	for _, res := range results {
		switch res.Outcome {
		case OutcomePass:
			s.Passed++
		case OutcomeFail:
			s.Failed++
		case OutcomeFatal:
			s.Fatal++
		case OutcomeWarning:
			s.Warnings++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// HasFailures reports whether any result should fail the run.
func (s Summary) HasFailures() bool { return s.Failed > 0 || s.Fatal > 0 }
