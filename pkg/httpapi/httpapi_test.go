package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosrun/helios/pkg/manager"
	"github.com/heliosrun/helios/pkg/queue"
	"github.com/heliosrun/helios/pkg/status"
	"github.com/heliosrun/helios/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := queue.NewMemoryBroker()
	store := status.NewRedisStore(rdb, 0)
	mgr := manager.New(manager.Config{StoragePath: t.TempDir()}, broker, store)
	return New(mgr, rdb)
}

func multipartSubmission(t *testing.T, metadata types.Metadata, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	mdBytes, err := json.Marshal(metadata)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("metadata", string(mdBytes)))

	fw, err := mw.CreateFormFile("file", "archive.zip")
	require.NoError(t, err)
	_, err = fw.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func TestSubmitAndQueryStatus(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartSubmission(t, types.Metadata{
		Entrypoint: "main.py",
		Name:       "job-1",
		Priority:   "high",
	}, map[string]string{"main.py": "print('hi')\n"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/submit", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TaskID)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+resp.TaskID+"/status", nil)
	statusRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
	var statusResp statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
	assert.Equal(t, resp.TaskID, statusResp.TaskID)
	assert.Equal(t, string(types.StatusPending), statusResp.Status)
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("metadata", `{"entrypoint":"main.py","name":"x"}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/submit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownTaskReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/does-not-exist/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReadyRoot(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tasks/submit", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
