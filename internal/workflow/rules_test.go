package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeRules_AllDirectives(t *testing.T) {
	def := Definition{
		ID:   "1",
		Name: "rules",
		Nodes: []Node{
			{Name: "Fetch", Notes: "CAP_RESULTS_LENGTH=1\nIGNORED_PROPERTIES=createdAt,updatedAt"},
			{Name: "Map", Notes: "KEEP_ONLY_PROPERTIES=id, email"},
			{Name: "Plain", Notes: "just a human note"},
			{Name: "NoNotes"},
		},
	}

	rules := ParseNodeRules(def)
	require.Len(t, rules, 2)

	fetch := rules["Fetch"]
	require.NotNil(t, fetch.CapResults)
	assert.Equal(t, 1, *fetch.CapResults)
	assert.Equal(t, []string{"createdAt", "updatedAt"}, fetch.IgnoredProperties)

	assert.Equal(t, []string{"id", "email"}, rules["Map"].KeepOnlyProperties)
}

func TestParseNodeRules_MalformedLinesIgnored(t *testing.T) {
	def := Definition{
		Nodes: []Node{
			{Name: "A", Notes: "CAP_RESULTS_LENGTH=abc\nUNKNOWN_KEY=1\n===\nIGNORED_PROPERTIES=x"},
		},
	}

	rules := ParseNodeRules(def)
	a := rules["A"]
	// Non-numeric cap values are treated as absent, not fatal.
	assert.Nil(t, a.CapResults)
	assert.Equal(t, []string{"x"}, a.IgnoredProperties)
}

func TestParseNodeRules_NegativeCapIgnored(t *testing.T) {
	def := Definition{Nodes: []Node{{Name: "A", Notes: "CAP_RESULTS_LENGTH=-3"}}}
	rules := ParseNodeRules(def)
	assert.Empty(t, rules)
}

func TestLoadOverrides_StrictDecoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
workflows:
  "42":
    nodes:
      Fetch:
        cap_results: 2
        keep_only_properties: [id]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	ov, err := LoadOverrides(path)
	require.NoError(t, err)
	require.NotNil(t, ov)

	fetch := ov.Workflows["42"].Nodes["Fetch"]
	require.NotNil(t, fetch.CapResults)
	assert.Equal(t, 2, *fetch.CapResults)
}

func TestLoadOverrides_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  typo: true\n"), 0644))

	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	ov, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, ov)
}

func TestOverrides_Merge(t *testing.T) {
	cap1 := 1
	cap5 := 5
	base := RuleSet{
		"Fetch": {CapResults: &cap1, IgnoredProperties: []string{"createdAt"}},
	}
	ov := &Overrides{Workflows: map[string]WorkflowOverride{
		"42": {Nodes: map[string]RuleOverride{
			"Fetch": {CapResults: &cap5},
			"Map":   {KeepOnlyProperties: []string{"id"}},
		}},
	}}

	merged := ov.Merge("42", base)

	// Override replaces only the fields it sets.
	assert.Equal(t, 5, *merged["Fetch"].CapResults)
	assert.Equal(t, []string{"createdAt"}, merged["Fetch"].IgnoredProperties)
	assert.Equal(t, []string{"id"}, merged["Map"].KeepOnlyProperties)

	// Other workflow ids are untouched.
	same := ov.Merge("7", base)
	assert.Equal(t, base, same)
}
