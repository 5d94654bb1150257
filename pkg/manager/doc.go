/*
Package manager implements Helios's ingress: task submission and status
query.

# Submit

 1. Validate metadata: entrypoint present and a safe relative path,
    name present, priority recognized, resource values (if present) parse
    to positive quantities.
 2. Mint a TaskID (a google/uuid v4) and create its working directory.
 3. Extract the archive into the working directory, rejecting any entry
    whose path would escape it.
 4. Write a pending status record and enqueue the job.
 5. On any failure after the working directory is created, it is removed
    before the error is returned, so a caller never observes a
    working directory without a matching status record and queued job.

# QueryStatus

Reads the shared status store directly; returns types.ErrNotFound if no
record exists for the given TaskID.

# See Also

  - pkg/httpapi for the HTTP handlers that call Submit and QueryStatus
  - pkg/queue and pkg/status for the collaborators this package depends on
*/
package manager
