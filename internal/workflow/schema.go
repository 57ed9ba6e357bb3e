package workflow

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// definitionSchema constrains the fields the harness depends on. The structs
// stay open so platform-owned fields (connections, settings, pinned data)
// pass through untouched.
const definitionSchema = `
#Node: {
	name:   string & !=""
	notes?: string
	...
}

#Definition: {
	id:     string & !="" | int
	name:   string
	nodes?: [...#Node]
	...
}
`

// validator checks workflow documents against the embedded CUE schema.
type validator struct {
	ctx    *cue.Context
	schema cue.Value
}

func newValidator() (*validator, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(definitionSchema)
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Definition"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("resolve definition schema: %w", err)
	}
	return &validator{ctx: ctx, schema: schema}, nil
}

// validate unifies the document with the schema and reports any violation.
func (v *validator) validate(path string, data []byte) error {
	expr, err := cuejson.Extract(path, data)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build document: %w", err)
	}

	unified := v.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}
