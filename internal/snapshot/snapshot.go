// Package snapshot persists expected execution results and diffs actual
// results against them.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Meta describes how a snapshot was created. Present only in the current
// wrapped format; legacy snapshots are bare result objects.
type Meta struct {
	Shallow    bool      `json:"shallow"`
	CreatedAt  time.Time `json:"createdAt"`
	WorkflowID string    `json:"workflowId"`
}

// Snapshot is a loaded expected result. Meta is nil for legacy files, so
// callers cannot tell which mode produced them.
type Snapshot struct {
	Result map[string]any
	Meta   *Meta
}

// MissingError reports a compare-mode run against a workflow that has no
// stored snapshot yet.
type MissingError struct {
	WorkflowID string
	Path       string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("no snapshot for workflow %s at %s; run with SNAPSHOTS=update to create it", e.WorkflowID, e.Path)
}

// Path returns the snapshot file path for a workflow id.
func Path(dir, workflowID string) string {
	return filepath.Join(dir, workflowID+"-snapshot.json")
}

// Write serializes the normalized result for the workflow, wrapped with
// creation metadata, overwriting any existing snapshot. It reports whether
// the file was created rather than updated.
func Write(dir, workflowID string, result map[string]any, shallow bool, now time.Time) (created bool, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("create snapshot directory: %w", err)
	}

	path := Path(dir, workflowID)
	_, statErr := os.Stat(path)
	created = os.IsNotExist(statErr)

	doc := map[string]any{
		"_meta": map[string]any{
			"shallow":    shallow,
			"createdAt":  now.UTC().Format(time.RFC3339),
			"workflowId": workflowID,
		},
		"result": result,
	}

	data, err := MarshalCanonical(doc)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	return created, nil
}

// Load reads the snapshot for a workflow id, accepting both the legacy bare
// format and the current meta-wrapped format. The two are resolved here,
// once, so comparison code never sees the distinction.
func Load(dir, workflowID string) (*Snapshot, error) {
	path := Path(dir, workflowID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingError{WorkflowID: workflowID, Path: path}
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	metaVal, hasMeta := doc["_meta"].(map[string]any)
	resultVal, hasResult := doc["result"].(map[string]any)
	if hasMeta && hasResult {
		return &Snapshot{Result: resultVal, Meta: parseMeta(metaVal)}, nil
	}

	// Legacy format: the document is the result itself.
	return &Snapshot{Result: doc}, nil
}

func parseMeta(m map[string]any) *Meta {
	meta := &Meta{}
	if shallow, ok := m["shallow"].(bool); ok {
		meta.Shallow = shallow
	}
	if id, ok := m["workflowId"].(string); ok {
		meta.WorkflowID = id
	}
	if ts, ok := m["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			meta.CreatedAt = t
		}
	}
	return meta
}
