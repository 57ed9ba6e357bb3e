// Package executor invokes the external workflow CLI and classifies its
// failures as transient warnings or fatal errors.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/calvw/flowcheck/internal/logging"
)

// DefaultMaxOutputBytes bounds captured stdout at 10 MiB.
const DefaultMaxOutputBytes = 10 << 20

// Executor runs workflows through the external CLI.
type Executor struct {
	// Executable is the workflow CLI binary (default "n8n").
	Executable string

	// EncryptionKey, when set, is exported as N8N_ENCRYPTION_KEY so the CLI
	// can decrypt stored credentials.
	EncryptionKey string

	// MaxOutputBytes bounds captured stdout; zero means DefaultMaxOutputBytes.
	MaxOutputBytes int64

	// TransientPatterns downgrade matching failures to warnings; nil means
	// DefaultTransientPatterns.
	TransientPatterns []string

	// Debug echoes the constructed command line before execution.
	Debug bool
}

// Outcome is the result of one execution attempt.
type Outcome struct {
	// Result is the parsed execution trace. Nil when Transient is set.
	Result map[string]any

	// Transient marks a failure downgraded to a warning.
	Transient bool

	// Message is the extracted failure message for transient outcomes.
	Message string
}

// Execute runs the CLI synchronously for one workflow id. Cancellation and
// per-execution deadlines come from ctx; a deadline kill is classified
// through the same transient matcher as any other failure.
func (e *Executor) Execute(ctx context.Context, workflowID string) (*Outcome, error) {
	bin := e.Executable
	if bin == "" {
		bin = "n8n"
	}
	maxBytes := e.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	patterns := e.TransientPatterns
	if patterns == nil {
		patterns = DefaultTransientPatterns
	}

	args := []string{"execute", fmt.Sprintf("--id=%s", workflowID), "--rawOutput"}
	if e.Debug {
		logging.Info("executing command", "cmd", bin+" "+strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = e.environment()

	stdout := &boundedBuffer{max: maxBytes}
	stderr := &boundedBuffer{max: maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	if stdout.overflowed {
		return nil, fmt.Errorf("workflow %s: %w (%d bytes)", workflowID, ErrOutputLimit, maxBytes)
	}

	if runErr == nil {
		result, err := parseResult(workflowID, stdout.String())
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: result}, nil
	}

	message := extractErrorMessage(stdout.String(), stderr.String(), runErr)
	if ctx.Err() == context.DeadlineExceeded {
		message = "execution timed out: " + message
	}

	if IsTransient(message, patterns) {
		logging.Warn("transient execution failure",
			"workflow", workflowID,
			"message", message,
		)
		return &Outcome{Transient: true, Message: message}, nil
	}

	return nil, &ExecutionError{
		WorkflowID: workflowID,
		Message:    message,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Err:        runErr,
	}
}

// environment returns the inherited environment plus the variables the CLI
// needs to run headless: telemetry and version checks off, settings-file
// permissions enforced, and the optional credentials encryption key.
func (e *Executor) environment() []string {
	env := append(os.Environ(),
		"N8N_DIAGNOSTICS_ENABLED=false",
		"N8N_VERSION_NOTIFICATIONS_ENABLED=false",
		"N8N_ENFORCE_SETTINGS_FILE_PERMISSIONS=true",
	)
	if e.EncryptionKey != "" {
		env = append(env, "N8N_ENCRYPTION_KEY="+e.EncryptionKey)
	}
	return env
}

// parseResult locates the first top-level JSON object in the captured output.
// The CLI is allowed to print log lines before the JSON payload. Empty output
// is a valid, empty result shape.
func parseResult(workflowID, output string) (map[string]any, error) {
	if strings.TrimSpace(output) == "" {
		return emptyResult(), nil
	}

	if result, ok := firstJSONObject(output); ok {
		return result, nil
	}
	return nil, &OutputFormatError{WorkflowID: workflowID, Output: output}
}

// firstJSONObject scans for the first '{' that starts a decodable JSON value.
// Braces inside log preamble are skipped by retrying at the next candidate.
func firstJSONObject(output string) (map[string]any, bool) {
	for offset := 0; offset < len(output); {
		idx := strings.IndexByte(output[offset:], '{')
		if idx < 0 {
			return nil, false
		}
		start := offset + idx

		var result map[string]any
		dec := json.NewDecoder(strings.NewReader(output[start:]))
		if err := dec.Decode(&result); err == nil {
			return result, true
		}
		offset = start + 1
	}
	return nil, false
}

// emptyResult is the shape of a successful execution that produced no data.
func emptyResult() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"resultData": map[string]any{
				"runData": map[string]any{},
			},
		},
	}
}

// extractErrorMessage pulls the most specific failure description available:
// the structured error embedded in stdout JSON, then stderr, then the
// process-level error.
func extractErrorMessage(stdout, stderr string, runErr error) string {
	if payload, ok := firstJSONObject(stdout); ok {
		if msg := structuredErrorMessage(payload); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	return runErr.Error()
}

// structuredErrorMessage walks data.resultData.error looking for a message.
func structuredErrorMessage(payload map[string]any) string {
	data, _ := payload["data"].(map[string]any)
	resultData, _ := data["resultData"].(map[string]any)
	errObj, _ := resultData["error"].(map[string]any)
	if errObj == nil {
		return ""
	}

	if msg, ok := errObj["message"].(string); ok && msg != "" {
		return msg
	}
	// Wrapped node errors nest the cause one level down.
	if nested, ok := errObj["error"].(map[string]any); ok {
		if msg, ok := nested["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}

// boundedBuffer captures writes up to max bytes. Overflow is recorded rather
// than returned as a write error so the child process can drain its pipe and
// exit; the caller fails the execution afterwards.
type boundedBuffer struct {
	buf        bytes.Buffer
	max        int64
	overflowed bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	remain := b.max - int64(b.buf.Len())
	if int64(len(p)) > remain {
		b.buf.Write(p[:remain])
		b.overflowed = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string { return b.buf.String() }
