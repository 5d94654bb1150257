// Package status tracks each task's lifecycle status in Redis, the same
// substrate used for the queue and log fan-out. Status transitions are
// monotonic: pending -> running -> {succeeded | failed}.
package status

import (
	"context"

	"github.com/heliosrun/helios/pkg/types"
)

// Record is the full status record returned to a status query.
type Record struct {
	TaskID string       `json:"task_id"`
	Status types.Status `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Store persists and retrieves task status.
type Store interface {
	// Set writes status unconditionally, overwriting any prior value.
	Set(ctx context.Context, taskID string, status types.Status, detail string) error

	// Get returns the current record for taskID, or ErrNotFound if no
	// record exists.
	Get(ctx context.Context, taskID string) (Record, error)
}
