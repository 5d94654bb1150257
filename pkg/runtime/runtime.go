// Package runtime drives container execution for Helios tasks: pull the
// runtime image, run the entrypoint with the working directory bind-mounted
// in, stream its combined stdout/stderr line by line, and report the exit
// code.
package runtime

import (
	"context"

	"github.com/heliosrun/helios/pkg/types"
)

// Spec describes one task execution.
type Spec struct {
	TaskID     string
	Image      string
	WorkDir    string // host path bind-mounted into the container
	Entrypoint string // relative path inside WorkDir, already validated
	Resources  types.Resources
}

// Result is the terminal outcome of a container run.
type Result struct {
	ExitCode int
	// Err is set when the container started but its exit status could not
	// be obtained. Image pull, create, and start failures are returned by
	// Run itself instead. Err is nil whenever ExitCode reflects the
	// entrypoint's own exit status.
	Err error
}

// Execution is a running (or just-finished) container.
type Execution struct {
	// Lines yields each line of combined stdout/stderr output in order,
	// and is closed once the container's output streams are exhausted.
	Lines <-chan string
	// Done yields exactly one Result once the container has exited. Lines
	// may still hold unread output when the Result arrives.
	Done <-chan Result
}

// Runtime runs task containers.
type Runtime interface {
	// Run pulls spec.Image if necessary, starts a container with
	// spec.WorkDir mounted read-write and spec.Resources applied as caps,
	// and returns immediately with a handle to stream its output.
	Run(ctx context.Context, spec Spec) (*Execution, error)

	// Kill forcibly terminates the container started for spec.TaskID, for
	// use when a job's deadline expires. It is a no-op if the container has
	// already exited or was never started.
	Kill(ctx context.Context, spec Spec) error

	// Close releases any resources (e.g. the containerd client connection).
	Close() error
}
