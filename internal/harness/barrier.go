package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockFileName   = "setup.lock"
	markerFileName = "setup-complete"
)

// Barrier defaults.
const (
	DefaultSetupTimeout = 60 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStaleAfter   = time.Hour
)

// SetupTimeoutError reports a worker that gave up waiting for another
// worker's session setup to complete.
type SetupTimeoutError struct {
	Dir     string
	Timeout time.Duration
}

func (e *SetupTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for setup to complete in %s", e.Timeout, e.Dir)
}

// Barrier coordinates one-time session setup across parallel workers using
// an exclusive lock file and a completed marker in a shared directory. The
// first worker to create the lock runs setup; everyone else polls for the
// marker.
type Barrier struct {
	// Dir is the coordination directory, created if absent.
	Dir string

	// Timeout bounds how long a waiting worker polls for the marker.
	// Zero means DefaultSetupTimeout.
	Timeout time.Duration

	// PollInterval is the marker polling cadence. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// StaleAfter treats markers older than this as leftovers from a
	// previous session, so setup re-runs. Zero means DefaultStaleAfter.
	StaleAfter time.Duration
}

// Ensure runs setup exactly once per session. It returns once the completed
// marker exists, whether this worker ran setup or another one did. The lock
// is removed even when setup fails so a later worker can retry.
func (b *Barrier) Ensure(ctx context.Context, setup func(context.Context) error) error {
	if err := os.MkdirAll(b.Dir, 0755); err != nil {
		return fmt.Errorf("create coordination directory: %w", err)
	}

	if b.markerFresh() {
		return nil
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultSetupTimeout
	}
	poll := b.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		acquired, err := b.acquireLock()
		if err != nil {
			return err
		}
		if acquired {
			return b.runSetup(ctx, setup)
		}

		// Another worker holds the lock; poll for its marker.
		if err := b.wait(ctx, poll, deadline); err == nil {
			return nil
		} else if _, lockFreed := err.(*retryAcquire); !lockFreed {
			return err
		}
	}
}

// retryAcquire signals that the lock holder went away without writing a
// marker, so this worker should try to take the lock itself.
type retryAcquire struct{}

func (*retryAcquire) Error() string { return "setup lock released without marker" }

func (b *Barrier) runSetup(ctx context.Context, setup func(context.Context) error) error {
	defer os.Remove(b.lockPath())

	if err := setup(ctx); err != nil {
		return fmt.Errorf("session setup: %w", err)
	}
	if err := os.WriteFile(b.markerPath(), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("write setup marker: %w", err)
	}
	return nil
}

func (b *Barrier) wait(ctx context.Context, poll time.Duration, deadline time.Time) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.markerFresh() {
				return nil
			}
			if _, err := os.Stat(b.lockPath()); os.IsNotExist(err) {
				return &retryAcquire{}
			}
			if time.Now().After(deadline) {
				timeout := b.Timeout
				if timeout <= 0 {
					timeout = DefaultSetupTimeout
				}
				return &SetupTimeoutError{Dir: b.Dir, Timeout: timeout}
			}
		}
	}
}

func (b *Barrier) acquireLock() (bool, error) {
	f, err := os.OpenFile(b.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create setup lock: %w", err)
	}
	f.Close()
	return true, nil
}

// markerFresh reports whether the completed marker exists and is recent
// enough to belong to the current session.
func (b *Barrier) markerFresh() bool {
	info, err := os.Stat(b.markerPath())
	if err != nil {
		return false
	}
	stale := b.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	return time.Since(info.ModTime()) < stale
}

func (b *Barrier) lockPath() string   { return filepath.Join(b.Dir, lockFileName) }
func (b *Barrier) markerPath() string { return filepath.Join(b.Dir, markerFileName) }
