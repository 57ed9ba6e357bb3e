package executor

import (
	"errors"
	"fmt"
)

// ErrOutputLimit is returned when the external CLI produces more stdout than
// the capture bound allows. Overflow is an explicit failure, never a silent
// truncation.
var ErrOutputLimit = errors.New("stdout exceeded capture limit")

// OutputFormatError reports non-empty CLI output that contained no JSON value.
type OutputFormatError struct {
	WorkflowID string
	Output     string
}

func (e *OutputFormatError) Error() string {
	return fmt.Sprintf("workflow %s: no JSON value found in CLI output", e.WorkflowID)
}

// ExecutionError reports a non-transient CLI failure. It keeps the raw
// streams and the extracted message so the failure can be diagnosed offline.
type ExecutionError struct {
	WorkflowID string
	Message    string
	Stdout     string
	Stderr     string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("workflow %s: execution failed: %s", e.WorkflowID, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
