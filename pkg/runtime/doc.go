/*
Package runtime drives the container execution step of a Helios task: pull
the fixed runtime image, run the entrypoint with the task's working
directory bind-mounted in, capture combined stdout/stderr line by line, and
report the exit code.

# Container Lifecycle

Run:
 1. Pull spec.Image (cached after the first pull).
 2. Generate an OCI spec: image config, /bin/sh -c "install deps && exec
    entrypoint", working directory bind mount, CPU/memory caps.
 3. Create the container and its task, with stdout/stderr wired to an
    in-process pipe.
 4. Start the task and return immediately; the caller reads Execution.Lines
    as output arrives and receives exactly one Result on Execution.Done.
 5. Once the task exits, delete the task and the container (with its
    snapshot) before publishing the Result.

# Resource Limits

CPU and memory caps are disjoint, never conflated:
  - CPUCores  -> CFS quota (period=100ms, quota=cores*100ms)
  - MemoryBytes -> cgroup memory limit

# Namespace

All Helios containers run in the "helios" containerd namespace, isolated
from anything else on the same daemon.

# See Also

  - pkg/worker for the per-job protocol that drives Run
  - pkg/types for Descriptor and Resources
  - containerd documentation: https://containerd.io/
*/
package runtime
