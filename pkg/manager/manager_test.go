package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosrun/helios/pkg/queue"
	"github.com/heliosrun/helios/pkg/status"
	"github.com/heliosrun/helios/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *queue.MemoryBroker, status.Store) {
	t.Helper()
	broker := queue.NewMemoryBroker()
	store := &memoryStatusStore{records: make(map[string]status.Record)}
	return New(Config{StoragePath: t.TempDir()}, broker, store), broker, store
}

// memoryStatusStore is a tiny in-process status.Store so manager tests
// don't need a Redis dependency.
type memoryStatusStore struct {
	records map[string]status.Record
}

func (s *memoryStatusStore) Set(_ context.Context, taskID string, st types.Status, detail string) error {
	s.records[taskID] = status.Record{TaskID: taskID, Status: st, Detail: detail}
	return nil
}

func (s *memoryStatusStore) Get(_ context.Context, taskID string) (status.Record, error) {
	rec, ok := s.records[taskID]
	if !ok {
		return status.Record{}, types.ErrNotFound
	}
	return rec, nil
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSubmitHappyPath(t *testing.T) {
	m, broker, store := newTestManager(t)
	ctx := context.Background()

	archive := zipOf(t, map[string]string{"main.py": "print('hi')\n"})
	taskID, err := m.Submit(ctx, SubmitRequest{
		Archive: bytes.NewReader(archive),
		Metadata: types.Metadata{
			Entrypoint: "main.py",
			Name:       "job-1",
			Priority:   "high",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	rec, err := store.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.Status)

	depth, err := broker.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth[types.QueueHigh])

	workDir := filepath.Join(m.cfg.StoragePath, taskID)
	_, err = os.Stat(filepath.Join(workDir, "main.py"))
	assert.NoError(t, err)
}

func TestSubmitRejectsUnsafeEntrypoint(t *testing.T) {
	m, _, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"main.py": ""})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Archive: bytes.NewReader(archive),
		Metadata: types.Metadata{
			Entrypoint: "../../etc/passwd",
			Name:       "evil",
		},
	})
	assert.ErrorIs(t, err, types.ErrUnsafePath)
}

func TestSubmitRejectsUnsafeArchiveMember(t *testing.T) {
	m, _, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"../escape.py": "print(1)\n"})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Archive: bytes.NewReader(archive),
		Metadata: types.Metadata{
			Entrypoint: "escape.py",
			Name:       "evil",
		},
	})
	assert.ErrorIs(t, err, types.ErrUnsafePath)
}

func TestSubmitRejectsMissingEntrypoint(t *testing.T) {
	m, _, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"main.py": ""})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Archive:  bytes.NewReader(archive),
		Metadata: types.Metadata{Name: "no-entrypoint"},
	})
	assert.ErrorIs(t, err, types.ErrBadMetadata)
}

func TestSubmitRollsBackWorkDirOnFailure(t *testing.T) {
	m, _, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"../escape.py": ""})

	before, err := os.ReadDir(m.cfg.StoragePath)
	require.NoError(t, err)
	require.Empty(t, before)

	_, err = m.Submit(context.Background(), SubmitRequest{
		Archive:  bytes.NewReader(archive),
		Metadata: types.Metadata{Entrypoint: "escape.py", Name: "x"},
	})
	require.Error(t, err)

	after, err := os.ReadDir(m.cfg.StoragePath)
	require.NoError(t, err)
	assert.Empty(t, after, "working directory must be rolled back on failure")
}

func TestQueryStatusNotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.QueryStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSubmitParsesResourceCaps(t *testing.T) {
	m, broker, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"main.py": ""})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Archive: bytes.NewReader(archive),
		Metadata: types.Metadata{
			Entrypoint: "main.py",
			Name:       "capped",
			Resources:  types.RawLimits{CPU: 2, Mem: "512m"},
		},
	})
	require.NoError(t, err)

	depth, err := broker.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth[types.QueueDefault])
}

func TestSubmitRejectsBadMemSize(t *testing.T) {
	m, _, _ := newTestManager(t)
	archive := zipOf(t, map[string]string{"main.py": ""})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Archive: bytes.NewReader(archive),
		Metadata: types.Metadata{
			Entrypoint: "main.py",
			Name:       "bad-mem",
			Resources:  types.RawLimits{Mem: "not-a-size"},
		},
	})
	assert.ErrorIs(t, err, types.ErrBadMetadata)
}
