/*
Package types defines the shared data model for Helios: task submission
metadata, the admitted task Descriptor queued for execution, resource caps,
and the task status lifecycle.

# Core Types

Submission:
  - Metadata: the validated "metadata" JSON part of a submission
    (entrypoint, priority, name, resources)
  - RawLimits: the wire-shape resources object before unit parsing
    (cpu as a core count, mem as a size string like "512m")

Admission:
  - Descriptor: the immutable record of an admitted task, built by
    pkg/manager and handed to pkg/queue for a worker to lease
  - Resources: parsed, disjoint CPU/memory caps (CPUCores, MemoryBytes)
  - Priority: "high" or "default", selects which queue a Descriptor is
    enqueued on

Status:
  - Status: a task's lifecycle state (pending, running, succeeded, failed)
  - Status.IsTerminal reports whether a status is final

# State Machine

Status transitions are monotonic and never revisited:

	Pending -> Running -> {Succeeded | Failed}

A worker redelivered a lease for a task whose status is already terminal
treats the lease as already handled rather than re-running it (see
pkg/worker's idempotency check).

# Log Markers

MarkerComplete and FailedMarker/FailedMarkerExitCode define the exact wire
text a worker appends to a task's log stream to signal its terminal state.
IsTerminalMarker recognizes either form. These are the literal strings
pkg/fanout and pkg/wsapi watch for to know when to stop forwarding a task's
log stream and close its WebSocket.

# Errors

errors.go defines the sentinel errors pkg/manager and pkg/httpapi classify
admission failures against (ErrBadArchive, ErrUnsafePath, ErrBadMetadata,
ErrStorageFull, ErrBrokerUnavailable, ErrNotFound). Callers use errors.Is
against these sentinels rather than string matching.

# Integration Points

This package is imported by every other Helios package:

  - pkg/manager builds a Descriptor from validated Metadata
  - pkg/queue transports a Descriptor to a worker as a Lease
  - pkg/status stores and reports Status by TaskID
  - pkg/worker writes terminal Status and publishes log markers
  - pkg/fanout and pkg/wsapi watch for terminal markers in a task's log
    stream
  - pkg/httpapi decodes Metadata from the submission's multipart body and
    classifies admission errors using the sentinels in errors.go

# See Also

  - pkg/manager for the Submit/QueryStatus contract
  - pkg/queue for the Broker interface Descriptor flows through
  - pkg/status for the Status record store
*/
package types
