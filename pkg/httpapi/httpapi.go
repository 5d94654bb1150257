// Package httpapi is Helios's HTTP ingress surface: task submission and
// status query, plus the ambient health/readiness/metrics endpoints the
// manager exposes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/manager"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/types"
)

// Server wires the manager into a ServeMux, following the teacher's plain
// net/http convention rather than a third-party web framework.
type Server struct {
	mgr *manager.Manager
	rdb *redis.Client
	mux *http.ServeMux
}

// New constructs a Server. rdb is used only for the readiness check (a
// PING against the coordination substrate).
func New(mgr *manager.Manager, rdb *redis.Client) *Server {
	s := &Server{mgr: mgr, rdb: rdb, mux: http.NewServeMux()}

	s.mux.HandleFunc("/", s.root)
	s.mux.HandleFunc("/health", s.health)
	s.mux.HandleFunc("/ready", s.ready)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/api/v1/tasks/submit", s.submit)
	s.mux.HandleFunc("/api/v1/tasks/", s.status)

	return s
}

// Handler returns the CORS-wrapped HTTP handler for embedding in a server.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// withCORS allows any origin, mirroring the original implementation's
// allow-all CORSMiddleware.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Helios is running"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "submit")

	if r.Method != http.MethodPost {
		s.recordAndWrite(w, "submit", http.StatusMethodNotAllowed, submitResponse{Message: "method not allowed"})
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.recordAndWrite(w, "submit", http.StatusBadRequest, submitResponse{Message: "malformed multipart body"})
		return
	}

	metadata, err := decodeMetadataPart(r.MultipartForm)
	if err != nil {
		s.recordAndWrite(w, "submit", http.StatusBadRequest, submitResponse{Message: err.Error()})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.recordAndWrite(w, "submit", http.StatusBadRequest, submitResponse{Message: "missing \"file\" part"})
		return
	}
	defer file.Close()

	taskID, err := s.mgr.Submit(r.Context(), manager.SubmitRequest{Archive: file, Metadata: metadata})
	if err != nil {
		status, msg := classifyAdmissionError(err)
		s.recordAndWrite(w, "submit", status, submitResponse{Message: msg})
		return
	}

	s.recordAndWrite(w, "submit", http.StatusOK, submitResponse{Success: true, TaskID: taskID, Message: "task submitted"})
}

func decodeMetadataPart(form *multipart.Form) (types.Metadata, error) {
	parts := form.Value["metadata"]
	if len(parts) == 0 {
		return types.Metadata{}, errors.New("missing \"metadata\" part")
	}
	var md types.Metadata
	if err := json.Unmarshal([]byte(parts[0]), &md); err != nil {
		return types.Metadata{}, errors.New("metadata is not valid JSON")
	}
	return md, nil
}

func classifyAdmissionError(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrBadArchive),
		errors.Is(err, types.ErrUnsafePath),
		errors.Is(err, types.ErrBadMetadata):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrStorageFull), errors.Is(err, types.ErrBrokerUnavailable):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

type statusResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, "status")

	taskID, ok := parseStatusPath(r.URL.Path)
	if !ok {
		s.recordAndWrite(w, "status", http.StatusNotFound, nil)
		return
	}

	rec, err := s.mgr.QueryStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			s.recordAndWrite(w, "status", http.StatusNotFound, nil)
			return
		}
		s.recordAndWrite(w, "status", http.StatusInternalServerError, nil)
		return
	}

	s.recordAndWrite(w, "status", http.StatusOK, statusResponse{TaskID: rec.TaskID, Status: string(rec.Status)})
}

// parseStatusPath extracts {task_id} from "/api/v1/tasks/{task_id}/status".
func parseStatusPath(path string) (string, bool) {
	const prefix = "/api/v1/tasks/"
	const suffix = "/status"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return "", false
	}
	taskID := path[len(prefix) : len(path)-len(suffix)]
	if taskID == "" {
		return "", false
	}
	return taskID, true
}

func (s *Server) recordAndWrite(w http.ResponseWriter, route string, statusCode int, body interface{}) {
	metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(statusCode)).Inc()
	if body == nil {
		w.WriteHeader(statusCode)
		return
	}
	writeJSON(w, statusCode, body)
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("encode response body", err)
	}
}
