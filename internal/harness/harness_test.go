package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvw/flowcheck/internal/executor"
	"github.com/calvw/flowcheck/internal/normalize"
	"github.com/calvw/flowcheck/internal/snapshot"
	"github.com/calvw/flowcheck/internal/workflow"
)

// writeStub writes an executable shell script standing in for the workflow
// CLI and returns its path.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "n8n-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func definition(id, name string) workflow.Definition {
	return workflow.Definition{ID: id, Name: name}
}

func testTime() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func mustCanonical(t *testing.T, v any) []byte {
	t.Helper()
	data, err := snapshot.MarshalCanonical(v)
	require.NoError(t, err)
	return data
}

const traceStub = `
echo '{"data":{"resultData":{"runData":{"Fetch":[{"data":{"main":[[{"json":{"id":1,"startTime":99}}]]}}]}}}'
`

func TestRunOne_SkipList(t *testing.T) {
	r := &Runner{
		Exec: &executor.Executor{Executable: "/nonexistent"},
		Skip: map[string]struct{}{"42": {}},
	}

	res := r.RunOne(context.Background(), definition("42", "Skipped"))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "42", res.WorkflowID)
	assert.Equal(t, "Skipped", res.Name)
}

func TestRunOne_PassWithoutSnapshots(t *testing.T) {
	r := &Runner{Exec: &executor.Executor{Executable: writeStub(t, traceStub)}}

	res := r.RunOne(context.Background(), definition("42", "Fetch users"))
	assert.Equal(t, OutcomePass, res.Outcome)
	assert.False(t, res.Failed())
}

func TestRunOne_TransientFailureIsWarning(t *testing.T) {
	stub := writeStub(t, `
echo "read ECONNRESET" >&2
exit 1
`)
	r := &Runner{Exec: &executor.Executor{Executable: stub}}

	res := r.RunOne(context.Background(), definition("42", "Flaky"))
	assert.Equal(t, OutcomeWarning, res.Outcome)
	assert.Contains(t, res.Message, "ECONNRESET")
	assert.False(t, res.Failed())
}

func TestRunOne_NonTransientFailureIsFatal(t *testing.T) {
	stub := writeStub(t, `
echo "credentials are invalid" >&2
exit 1
`)
	r := &Runner{Exec: &executor.Executor{Executable: stub}}

	res := r.RunOne(context.Background(), definition("42", "Broken"))
	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.Contains(t, res.Message, "credentials are invalid")
	assert.True(t, res.Failed())
	require.Error(t, res.Err)
}

func TestRunOne_UpdateThenCompareRoundTrip(t *testing.T) {
	stub := writeStub(t, traceStub)
	dir := t.TempDir()

	update := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		Norm:         &normalize.Normalizer{Shallow: true},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsUpdate,
	}
	res := update.RunOne(context.Background(), definition("42", "Fetch users"))
	require.Equal(t, OutcomePass, res.Outcome)
	assert.True(t, res.SnapshotCreated)
	assert.Equal(t, "snapshot created", res.Message)

	compare := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		Norm:         &normalize.Normalizer{Shallow: true},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsCompare,
	}
	res = compare.RunOne(context.Background(), definition("42", "Fetch users"))
	assert.Equal(t, OutcomePass, res.Outcome)
	assert.Empty(t, res.DiffPaths)
}

func TestRunOne_SecondUpdateReportsUpdated(t *testing.T) {
	stub := writeStub(t, traceStub)
	r := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		SnapshotsDir: t.TempDir(),
		Snapshots:    SnapshotsUpdate,
	}

	first := r.RunOne(context.Background(), definition("42", "Fetch users"))
	require.True(t, first.SnapshotCreated)

	second := r.RunOne(context.Background(), definition("42", "Fetch users"))
	assert.False(t, second.SnapshotCreated)
	assert.Equal(t, "snapshot updated", second.Message)
}

func TestRunOne_CompareDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	_, err := snapshot.Write(dir, "42", map[string]any{
		"data": map[string]any{"resultData": map[string]any{"runData": map[string]any{
			"Fetch": []any{map[string]any{"data": map[string]any{"main": []any{[]any{
				map[string]any{"json": map[string]any{"id": float64(2)}},
			}}}}},
		}}},
	}, true, testTime())
	require.NoError(t, err)

	r := &Runner{
		Exec:         &executor.Executor{Executable: writeStub(t, traceStub)},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsCompare,
	}

	res := r.RunOne(context.Background(), definition("42", "Fetch users"))
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Contains(t, res.DiffPaths, "data.resultData.runData.Fetch[0].data.main[0][0].json.id")
}

func TestRunOne_CompareMissingSnapshotIsFatal(t *testing.T) {
	r := &Runner{
		Exec:         &executor.Executor{Executable: writeStub(t, traceStub)},
		SnapshotsDir: t.TempDir(),
		Snapshots:    SnapshotsCompare,
	}

	res := r.RunOne(context.Background(), definition("42", "Fetch users"))
	assert.Equal(t, OutcomeFatal, res.Outcome)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Message, "SNAPSHOTS=update")

	var missing *snapshot.MissingError
	require.True(t, errors.As(res.Err, &missing))
}

func TestRunOne_ModeMismatchWarnsButCompares(t *testing.T) {
	stub := writeStub(t, traceStub)
	dir := t.TempDir()

	update := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		Norm:         &normalize.Normalizer{Shallow: false},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsUpdate,
	}
	require.Equal(t, OutcomePass, update.RunOne(context.Background(), definition("42", "Fetch users")).Outcome)

	compare := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		Norm:         &normalize.Normalizer{Shallow: true},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsCompare,
	}
	res := compare.RunOne(context.Background(), definition("42", "Fetch users"))

	// The recorded mode differs but the traces here have no nested
	// containers, so the comparison itself still passes.
	assert.Equal(t, OutcomePass, res.Outcome)
	assert.Contains(t, res.Message, "different normalization mode")
}

func TestRunOne_NodeRulesFromNotesApply(t *testing.T) {
	stub := writeStub(t, `
echo '{"data":{"resultData":{"runData":{"Fetch":[{"data":{"main":[[{"json":{"id":1,"secret":"x"}}]]}}]}}}'
`)
	dir := t.TempDir()

	def := workflow.Definition{
		ID:   "42",
		Name: "Fetch users",
		Nodes: []workflow.Node{
			{Name: "Fetch", Notes: "IGNORED_PROPERTIES=secret"},
		},
	}

	r := &Runner{
		Exec:         &executor.Executor{Executable: stub},
		SnapshotsDir: dir,
		Snapshots:    SnapshotsUpdate,
	}
	require.Equal(t, OutcomePass, r.RunOne(context.Background(), def).Outcome)

	snap, err := snapshot.Load(dir, "42")
	require.NoError(t, err)
	assert.NotContains(t, string(mustCanonical(t, snap.Result)), "secret")
}

func TestRun_PreservesInputOrder(t *testing.T) {
	stub := writeStub(t, traceStub)
	r := &Runner{Exec: &executor.Executor{Executable: stub}}

	defs := []workflow.Definition{
		definition("1", "a"),
		definition("2", "b"),
		definition("3", "c"),
		definition("4", "d"),
	}

	results := r.Run(context.Background(), defs, 3)
	require.Len(t, results, 4)
	for i, res := range results {
		assert.Equal(t, defs[i].ID, res.WorkflowID)
		assert.Equal(t, OutcomePass, res.Outcome)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Outcome: OutcomePass},
		{Outcome: OutcomePass},
		{Outcome: OutcomeFail},
		{Outcome: OutcomeWarning},
		{Outcome: OutcomeSkipped},
		{Outcome: OutcomeFatal},
	}

	s := Summarize(results)
	assert.Equal(t, Summary{Passed: 2, Failed: 1, Fatal: 1, Warnings: 1, Skipped: 1}, s)
	assert.True(t, s.HasFailures())

	assert.False(t, Summarize([]Result{{Outcome: OutcomePass}, {Outcome: OutcomeWarning}}).HasFailures())
}
