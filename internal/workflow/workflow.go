// Package workflow loads workflow definition documents and the per-node
// redaction rules embedded in their notes.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Definition is a workflow definition document. The harness only interprets
// the identity fields and node notes; everything else belongs to the external
// platform and is left untouched.
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes,omitempty"`

	// Path is the file the definition was loaded from.
	Path string `json:"-"`
}

// Node is a single workflow node. Notes may carry KEY=VALUE redaction
// directives, one per line.
type Node struct {
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

// ParseError reports a malformed workflow or skip-list file.
// Any ParseError aborts the whole run; there is no partial load.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// definitionJSON mirrors Definition but tolerates numeric ids, which older
// exports use.
type definitionJSON struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Nodes []Node          `json:"nodes"`
}

// UnmarshalJSON decodes a definition, coercing a numeric id to its decimal
// string form.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var aux definitionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	id, err := decodeID(aux.ID)
	if err != nil {
		return err
	}

	d.ID = id
	d.Name = aux.Name
	d.Nodes = aux.Nodes
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", string(raw))
}

// LoadDir reads every .json file in dir as a workflow definition.
// Each document is schema-validated before being accepted. The first
// malformed file aborts the load with a ParseError.
func LoadDir(dir string) ([]Definition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workflow directory: not a directory: %s", dir)
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workflow directory: %w", err)
	}
	sort.Strings(files)

	validator, err := newValidator()
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		if err := validator.validate(path, data); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}

		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		def.Path = path
		defs = append(defs, def)
	}

	return defs, nil
}

// skipEntry is one element of the skip-list file.
type skipEntry struct {
	WorkflowID string `json:"workflowId"`
}

// LoadSkipList reads the skip-list file and returns the set of workflow ids
// to exclude. A missing file yields an empty set; a malformed one is a
// ParseError.
func LoadSkipList(path string) (map[string]struct{}, error) {
	skip := make(map[string]struct{})
	if path == "" {
		return skip, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return skip, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}

	var entries []skipEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	for _, e := range entries {
		if e.WorkflowID != "" {
			skip[e.WorkflowID] = struct{}{}
		}
	}
	return skip, nil
}

// capValue parses a CAP_RESULTS_LENGTH directive value. A non-numeric or
// negative value is treated as absent per the tolerant directive contract.
func capValue(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
