// Package manager implements Helios's ingress: admit a submitted archive,
// stage its working directory, and enqueue the job; answer status queries.
package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/queue"
	"github.com/heliosrun/helios/pkg/status"
	"github.com/heliosrun/helios/pkg/types"
)

// Config holds manager configuration.
type Config struct {
	StoragePath string
}

// Manager implements Submit and QueryStatus against a shared queue broker
// and status store.
type Manager struct {
	cfg    Config
	broker queue.Broker
	status status.Store
}

// New constructs a Manager.
func New(cfg Config, broker queue.Broker, store status.Store) *Manager {
	return &Manager{cfg: cfg, broker: broker, status: store}
}

// SubmitRequest is the decoded multipart submission.
type SubmitRequest struct {
	Archive  io.Reader
	Metadata types.Metadata
}

// Submit admits a new task: mints a TaskID, stages its working directory
// from the archive, writes a pending status record, and enqueues the job.
// On any failure after the working directory is created, it is removed
// before returning the error.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (taskID string, err error) {
	entrypoint, priority, resources, err := validateMetadata(req.Metadata)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	workDir := filepath.Join(m.cfg.StoragePath, id)
	logger := log.WithTaskID(id)

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create working directory: %v", types.ErrStorageFull, err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				logger.Error().Err(rmErr).Msg("rollback: remove working directory")
			}
		}
	}()

	archiveBytes, err := io.ReadAll(req.Archive)
	if err != nil {
		return "", fmt.Errorf("%w: read archive: %v", types.ErrBadArchive, err)
	}
	if err := extractArchive(archiveBytes, workDir); err != nil {
		return "", err
	}

	if err := m.status.Set(ctx, id, types.StatusPending, ""); err != nil {
		return "", fmt.Errorf("%w: write status: %v", types.ErrBrokerUnavailable, err)
	}

	job := types.Descriptor{
		TaskID:     id,
		WorkDir:    workDir,
		Entrypoint: entrypoint,
		Priority:   priority,
		Name:       req.Metadata.Name,
		Resources:  resources,
		CreatedAt:  time.Now(),
	}
	if err := m.broker.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("%w: enqueue job: %v", types.ErrBrokerUnavailable, err)
	}

	metrics.TasksSubmittedTotal.WithLabelValues(string(priority), "accepted").Inc()
	logger.Info().Str("priority", string(priority)).Msg("task admitted")
	return id, nil
}

// QueryStatus returns the current status record for taskID, or
// types.ErrNotFound if none exists.
func (m *Manager) QueryStatus(ctx context.Context, taskID string) (status.Record, error) {
	return m.status.Get(ctx, taskID)
}

func validateMetadata(md types.Metadata) (string, types.Priority, types.Resources, error) {
	if md.Entrypoint == "" {
		return "", "", types.Resources{}, fmt.Errorf("%w: entrypoint is required", types.ErrBadMetadata)
	}
	if err := validateRelativePath(md.Entrypoint); err != nil {
		return "", "", types.Resources{}, err
	}
	if md.Name == "" {
		return "", "", types.Resources{}, fmt.Errorf("%w: name is required", types.ErrBadMetadata)
	}
	priority, ok := types.ParsePriority(md.Priority)
	if !ok {
		return "", "", types.Resources{}, fmt.Errorf("%w: unrecognized priority %q", types.ErrBadMetadata, md.Priority)
	}

	var resources types.Resources
	if md.Resources.CPU < 0 {
		return "", "", types.Resources{}, fmt.Errorf("%w: cpu must be positive", types.ErrBadMetadata)
	}
	resources.CPUCores = md.Resources.CPU

	if md.Resources.Mem != "" {
		bytes, err := units.RAMInBytes(md.Resources.Mem)
		if err != nil || bytes <= 0 {
			return "", "", types.Resources{}, fmt.Errorf("%w: invalid mem %q", types.ErrBadMetadata, md.Resources.Mem)
		}
		resources.MemoryBytes = bytes
	}

	return md.Entrypoint, priority, resources, nil
}

// validateRelativePath rejects absolute paths and parent-directory
// traversal, matching the entrypoint rule and the archive-extraction rule.
func validateRelativePath(p string) error {
	if filepath.IsAbs(p) {
		return fmt.Errorf("%w: %q is an absolute path", types.ErrUnsafePath, p)
	}
	cleaned := filepath.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "..\\") {
		return fmt.Errorf("%w: %q escapes the working directory", types.ErrUnsafePath, p)
	}
	return nil
}

// extractArchive unzips data into dir, rejecting any entry whose path would
// escape dir.
func extractArchive(data []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBadArchive, err)
	}

	for _, f := range reader.File {
		if err := validateRelativePath(f.Name); err != nil {
			return err
		}
		dest := filepath.Join(dir, f.Name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("%w: create directory %s: %v", types.ErrBadArchive, f.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("%w: create parent directory for %s: %v", types.ErrBadArchive, f.Name, err)
		}

		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", types.ErrBadArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", types.ErrBadArchive, dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("%w: write %s: %v", types.ErrBadArchive, dest, err)
	}
	return nil
}
