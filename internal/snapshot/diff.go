package snapshot

import (
	"fmt"
	"sort"
)

// rootPath labels a difference at the top of the tree.
const rootPath = "(root)"

// Diff walks expected and actual structurally and returns the de-duplicated
// list of paths where they differ, in dot/bracket notation
// (data.resultData.runData.NodeA[0].json.field). An empty list means the
// trees are equal. Volatile content is assumed to be normalized away already.
func Diff(expected, actual any) []string {
	var paths []string
	seen := make(map[string]struct{})
	record := func(path string) {
		if path == "" {
			path = rootPath
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}

	walk("", expected, actual, record)
	return paths
}

func walk(path string, expected, actual any, record func(string)) {
	expContainer := isContainer(expected)
	actContainer := isContainer(actual)

	// Leaves: primitive equality decides, and a leaf against a container is
	// a difference at this path with no further descent.
	if !expContainer || !actContainer {
		if !expContainer && !actContainer && expected == actual {
			return
		}
		record(path)
		return
	}

	expArr, expIsArr := expected.([]any)
	actArr, actIsArr := actual.([]any)
	if expIsArr != actIsArr {
		record(path)
		return
	}

	if expIsArr {
		if len(expArr) != len(actArr) {
			record(path)
		}
		n := len(expArr)
		if len(actArr) < n {
			n = len(actArr)
		}
		for i := 0; i < n; i++ {
			walk(fmt.Sprintf("%s[%d]", path, i), expArr[i], actArr[i], record)
		}
		return
	}

	expObj := expected.(map[string]any)
	actObj := actual.(map[string]any)

	keys := make([]string, 0, len(expObj)+len(actObj))
	seen := make(map[string]struct{}, len(expObj)+len(actObj))
	for k := range expObj {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range actObj {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		expVal, inExp := expObj[k]
		actVal, inAct := actObj[k]
		childPath := joinKey(path, k)
		if !inExp || !inAct {
			record(childPath)
			continue
		}
		walk(childPath, expVal, actVal, record)
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
