package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"resultData": map[string]any{
				"runData": map[string]any{
					"A": []any{map[string]any{
						"data": map[string]any{
							"main": []any{[]any{
								map[string]any{"json": map[string]any{"id": float64(1)}},
							}},
						},
					}},
				},
			},
		},
	}
}

func TestWriteThenLoad_RoundTripIsClean(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	created, err := Write(dir, "42", sampleResult(), true, now)
	require.NoError(t, err)
	assert.True(t, created)

	snap, err := Load(dir, "42")
	require.NoError(t, err)
	require.NotNil(t, snap.Meta)
	assert.True(t, snap.Meta.Shallow)
	assert.Equal(t, "42", snap.Meta.WorkflowID)
	assert.Equal(t, now, snap.Meta.CreatedAt)

	assert.Empty(t, Diff(snap.Result, sampleResult()))
}

func TestWrite_SecondWriteReportsUpdate(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	created, err := Write(dir, "42", sampleResult(), false, now)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Write(dir, "42", sampleResult(), false, now)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestWrite_CreatesSnapshotDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")

	_, err := Write(dir, "7", sampleResult(), true, time.Now())
	require.NoError(t, err)

	_, err = os.Stat(Path(dir, "7"))
	require.NoError(t, err)
}

func TestLoad_MissingSnapshot(t *testing.T) {
	_, err := Load(t.TempDir(), "42")
	require.Error(t, err)

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "42", missing.WorkflowID)
	assert.Contains(t, missing.Error(), "SNAPSHOTS=update")
}

func TestLoad_LegacyBareFormat(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"data":{"resultData":{"runData":{}}}}`
	require.NoError(t, os.WriteFile(Path(dir, "42"), []byte(legacy), 0644))

	snap, err := Load(dir, "42")
	require.NoError(t, err)
	assert.Nil(t, snap.Meta)

	data := snap.Result["data"].(map[string]any)
	resultData := data["resultData"].(map[string]any)
	assert.Equal(t, map[string]any{}, resultData["runData"])
}

func TestLoad_MalformedSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir, "42"), []byte("{broken"), 0644))

	_, err := Load(dir, "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse snapshot")
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("snaps", "42-snapshot.json"), Path("snaps", "42"))
}
