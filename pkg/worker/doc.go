/*
Package worker implements Helios's execution agent: a lease loop against
the queue broker, a containerd run per job, and exactly one terminal
status/log marker per job.

# Per-Job Protocol

 1. Lease blocks until a job is available, draining the high-priority
    stream strictly before default.
 2. If the leased job's status is already terminal, a prior worker
    completed it before crashing; release the lease without re-running.
 3. Otherwise: write status=running, run the container, forward every
    output line to the task's log channel as it arrives, then publish
    exactly one terminal marker (MarkerComplete or a FailedMarker),
    record the terminal status, and remove the task's working directory.
 4. Release the lease: Complete once the job ran to a terminal state
    (including a non-zero exit or a timeout), Fail when the container
    could not be started. Helios never retries user code.

# Failure Modes

A job fails the same way regardless of cause: one terminal marker on its
log channel, one terminal status record. Causes distinguished in the
status detail field: a non-zero exit code, a runtime error starting the
container, or exceeding the configured wall-clock timeout.

# See Also

  - pkg/queue for the broker's lease/redelivery semantics
  - pkg/runtime for the container execution step
  - pkg/status and pkg/fanout for where the worker's output goes
*/
package worker
