package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/velvacloud/queued/internal/events"
	"github.com/velvacloud/queued/internal/queue"
	"github.com/velvacloud/queued/internal/storage"
	"github.com/velvacloud/queued/internal/version"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store      *storage.Store
	Controller *queue.Controller
	Bus        *events.Bus
	// Token guards every route; empty disables auth (local development).
	Token string
}

// NewRouter builds the HTTP router with routes bound to our handlers.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.Use(versionHeaderMiddleware)

	admin := r.PathPrefix("/admin/queues").Subrouter()
	admin.Use(h.authMiddleware)

	// The events route is registered before the {queue} routes so "events"
	// is not parsed as a queue name.
	admin.HandleFunc("/events", h.StreamEvents).Methods("GET")
	admin.HandleFunc("", h.ListQueues).Methods("GET")
	admin.HandleFunc("/{queue}/jobs", h.ListJobs).Methods("GET")
	admin.HandleFunc("/{queue}/jobs", h.EnqueueJob).Methods("POST")
	admin.HandleFunc("/{queue}/pause", h.PauseQueue).Methods("POST")
	admin.HandleFunc("/{queue}/resume", h.ResumeQueue).Methods("POST")
	admin.HandleFunc("/{queue}/drain", h.DrainQueue).Methods("POST")
	admin.HandleFunc("/{queue}/clean", h.CleanQueue).Methods("POST")
	admin.HandleFunc("/{queue}/{jobId:[0-9]+}/retry", h.RetryJob).Methods("POST")
	admin.HandleFunc("/{queue}/{jobId:[0-9]+}/promote", h.PromoteJob).Methods("POST")
	admin.HandleFunc("/{queue}/{jobId:[0-9]+}/remove", h.RemoveJob).Methods("POST")

	workers := r.PathPrefix("/workers").Subrouter()
	workers.Use(h.authMiddleware)
	workers.HandleFunc("/claim", h.ClaimJob).Methods("POST")
	workers.HandleFunc("/{queue}/{jobId:[0-9]+}/result", h.ReportResult).Methods("POST")

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	return r
}

func versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add version header
		w.Header().Set("X-App-Version", version.Version)
		next.ServeHTTP(w, r)
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListQueues returns every known queue with paused flag and per-state counts.
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Store.Queues()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// ListJobs serves one page of a queue's jobs filtered by exact state.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	q := r.URL.Query()

	state := storage.JobState(q.Get("state"))
	if state == "" {
		state = storage.StateWaiting
	}
	page := intParam(q.Get("page"), 1)
	pageSize := intParam(q.Get("pageSize"), 20)

	jobs, total, err := h.Store.ListJobs(queueName, state, page, pageSize)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	items := make([]jobItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobItem(j))
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// EnqueueJob accepts a JSON body to create a job, optionally delayed.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	defer r.Body.Close()

	var req struct {
		Name    string          `json:"name"`
		Data    json.RawMessage `json:"data"`
		DelayMs int64           `json:"delayMs"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON")
		return
	}

	j, err := h.Controller.Enqueue(r.Context(), queueName, req.Name, req.Data, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobItem(j))
}

// PauseQueue stops claiming without touching enqueued jobs. Idempotent.
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Pause(r.Context(), mux.Vars(r)["queue"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeQueue re-enables claiming. Idempotent.
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Resume(r.Context(), mux.Vars(r)["queue"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DrainQueue removes all not-yet-started jobs and reports the count.
func (h *Handler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.Controller.Drain(r.Context(), mux.Vars(r)["queue"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

// CleanQueue bulk-removes terminal jobs in the state named by ?state=.
func (h *Handler) CleanQueue(w http.ResponseWriter, r *http.Request) {
	state := storage.JobState(r.URL.Query().Get("state"))
	n, err := h.Controller.Clean(r.Context(), mux.Vars(r)["queue"], state)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

// RetryJob moves a failed job back to waiting.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	queueName, id := jobVars(r)
	j, err := h.Controller.RetryJob(r.Context(), queueName, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobItem(j))
}

// PromoteJob makes a delayed job immediately eligible.
func (h *Handler) PromoteJob(w http.ResponseWriter, r *http.Request) {
	queueName, id := jobVars(r)
	j, err := h.Controller.PromoteJob(r.Context(), queueName, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobItem(j))
}

// RemoveJob deletes a job; removing an unknown id still succeeds.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	queueName, id := jobVars(r)
	if err := h.Controller.RemoveJob(r.Context(), queueName, id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClaimJob hands the oldest waiting job of ?queue= to the calling worker.
// 204 means nothing is claimable right now (empty or paused queue).
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "queue query parameter is required")
		return
	}
	j, err := h.Controller.ClaimNext(r.Context(), queueName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toJobItem(j))
}

// ReportResult records a worker's outcome for a claimed job.
func (h *Handler) ReportResult(w http.ResponseWriter, r *http.Request) {
	queueName, id := jobVars(r)

	var req struct {
		Success    bool   `json:"success"`
		Reason     string `json:"reason"`
		Stacktrace string `json:"stacktrace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON")
		return
	}
	defer r.Body.Close()

	j, err := h.Controller.ReportResult(r.Context(), queueName, id, storage.Outcome{
		Success:    req.Success,
		Reason:     req.Reason,
		Stacktrace: req.Stacktrace,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobItem(j))
}

func jobVars(r *http.Request) (string, int64) {
	vars := mux.Vars(r)
	id, _ := strconv.ParseInt(vars["jobId"], 10, 64)
	return vars["queue"], id
}
