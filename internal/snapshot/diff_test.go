package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff_EqualTrees(t *testing.T) {
	tree := func() map[string]any {
		return map[string]any{
			"data": map[string]any{
				"resultData": map[string]any{
					"runData": map[string]any{
						"A": []any{map[string]any{"json": map[string]any{"id": float64(1)}}},
					},
				},
			},
		}
	}

	assert.Empty(t, Diff(tree(), tree()))
}

func TestDiff_KeyPresenceSymmetry(t *testing.T) {
	withA := map[string]any{"a": float64(1)}
	empty := map[string]any{}

	assert.Equal(t, []string{"a"}, Diff(withA, empty))
	assert.Equal(t, []string{"a"}, Diff(empty, withA))
}

func TestDiff_ChangedLeaf(t *testing.T) {
	exp := map[string]any{"a": map[string]any{"b": float64(1)}}
	act := map[string]any{"a": map[string]any{"b": float64(2)}}

	assert.Equal(t, []string{"a.b"}, Diff(exp, act))
}

func TestDiff_ArrayLengthMismatchRecordsParentAndRecurses(t *testing.T) {
	exp := map[string]any{"items": []any{float64(1), float64(2), float64(3)}}
	act := map[string]any{"items": []any{float64(1), float64(9)}}

	paths := Diff(exp, act)
	assert.Equal(t, []string{"items", "items[1]"}, paths)
}

func TestDiff_ArrayIndexPathNotation(t *testing.T) {
	exp := map[string]any{
		"runData": map[string]any{
			"NodeA": []any{map[string]any{"json": map[string]any{"field": "x"}}},
		},
	}
	act := map[string]any{
		"runData": map[string]any{
			"NodeA": []any{map[string]any{"json": map[string]any{"field": "y"}}},
		},
	}

	assert.Equal(t, []string{"runData.NodeA[0].json.field"}, Diff(exp, act))
}

func TestDiff_KindMismatchStopsDescent(t *testing.T) {
	exp := map[string]any{"v": map[string]any{"deep": float64(1)}}
	act := map[string]any{"v": []any{float64(1)}}

	assert.Equal(t, []string{"v"}, Diff(exp, act))
}

func TestDiff_LeafAgainstContainer(t *testing.T) {
	exp := map[string]any{"v": "scalar"}
	act := map[string]any{"v": map[string]any{"k": float64(1)}}

	assert.Equal(t, []string{"v"}, Diff(exp, act))
}

func TestDiff_NullsCompareEqual(t *testing.T) {
	exp := map[string]any{"v": nil}
	act := map[string]any{"v": nil}

	assert.Empty(t, Diff(exp, act))
}

func TestDiff_RootKindMismatch(t *testing.T) {
	assert.Equal(t, []string{"(root)"}, Diff(map[string]any{}, []any{}))
}

func TestDiff_PathsDeduplicated(t *testing.T) {
	// Both a length mismatch and element mismatches under the same parent
	// must not repeat the parent path.
	exp := []any{[]any{float64(1)}, []any{float64(2)}}
	act := []any{[]any{float64(1), float64(5)}, []any{float64(9)}}

	paths := Diff(exp, act)
	assert.Equal(t, []string{"[0]", "[1][0]"}, paths)
}
