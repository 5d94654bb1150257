package runtime

import (
	"context"
	"sync"
)

// FakeScript is a scripted outcome for one task run, keyed by Spec.TaskID.
type FakeScript struct {
	Lines    []string
	ExitCode int
	RunErr   error // if set, Run itself fails (e.g. image pull error)
	Hang     bool  // if set, Done never fires until Kill is called
}

// Fake is an in-process Runtime for tests: it never touches containerd,
// replaying a scripted line sequence and exit code per task.
type Fake struct {
	Scripts map[string]FakeScript
	Calls   []Spec
	Killed  []string // TaskIDs passed to Kill, in order

	mu      sync.Mutex
	hanging map[string]chan Result // pending Done channels for Hang scripts
}

// NewFake returns a ready-to-use Fake runtime.
func NewFake() *Fake {
	return &Fake{Scripts: make(map[string]FakeScript), hanging: make(map[string]chan Result)}
}

func (f *Fake) Run(_ context.Context, spec Spec) (*Execution, error) {
	f.Calls = append(f.Calls, spec)

	script := f.Scripts[spec.TaskID]
	if script.RunErr != nil {
		return nil, script.RunErr
	}

	lines := make(chan string, len(script.Lines)+1)
	for _, l := range script.Lines {
		lines <- l
	}
	close(lines)

	done := make(chan Result, 1)
	if script.Hang {
		f.mu.Lock()
		f.hanging[spec.TaskID] = done
		f.mu.Unlock()
	} else {
		done <- Result{ExitCode: script.ExitCode}
		close(done)
	}

	return &Execution{Lines: lines, Done: done}, nil
}

// Kill records the call and, if the task's run was scripted to Hang,
// delivers its terminal Result so the caller's Execution.Done unblocks.
func (f *Fake) Kill(_ context.Context, spec Spec) error {
	f.Killed = append(f.Killed, spec.TaskID)

	f.mu.Lock()
	done, ok := f.hanging[spec.TaskID]
	if ok {
		delete(f.hanging, spec.TaskID)
	}
	f.mu.Unlock()

	if ok {
		done <- Result{ExitCode: -1, Err: nil}
		close(done)
	}
	return nil
}

func (f *Fake) Close() error { return nil }
