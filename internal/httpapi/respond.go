package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/velvacloud/queued/internal/storage"
)

// jobItem is the wire shape of one job. Timestamps are epoch milliseconds,
// null until set, which is what EventSource-driven dashboards expect.
type jobItem struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Data         json.RawMessage  `json:"data"`
	AttemptsMade int              `json:"attemptsMade"`
	Timestamp    int64            `json:"timestamp"`
	ProcessedOn  *int64           `json:"processedOn"`
	FinishedOn   *int64           `json:"finishedOn"`
	FailedReason *string          `json:"failedReason"`
	Stacktrace   *string          `json:"stacktrace"`
	State        storage.JobState `json:"state"`
}

type listJobsResponse struct {
	Items    []jobItem `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

type countResponse struct {
	Removed int64 `json:"removed"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toJobItem(j *storage.Job) jobItem {
	item := jobItem{
		ID:           j.ID,
		Name:         j.Name,
		Data:         j.Payload,
		AttemptsMade: j.AttemptsMade,
		Timestamp:    j.CreatedAt.UnixMilli(),
		State:        j.State,
	}
	if j.ProcessedOn.Valid {
		ms := j.ProcessedOn.Time.UnixMilli()
		item.ProcessedOn = &ms
	}
	if j.FinishedOn.Valid {
		ms := j.FinishedOn.Time.UnixMilli()
		item.FinishedOn = &ms
	}
	if j.FailedReason.Valid {
		v := j.FailedReason.String
		item.FailedReason = &v
	}
	if j.Stacktrace.Valid {
		v := j.Stacktrace.String
		item.Stacktrace = &v
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}

// writeStoreError maps the store's error taxonomy onto HTTP status codes and
// always produces a structured body, never a bare transport failure.
func writeStoreError(w http.ResponseWriter, err error) {
	var se *storage.Error
	if errors.As(err, &se) {
		writeJSON(w, statusForKind(se.Kind), errorBody{Error: errorDetail{Kind: string(se.Kind), Message: se.Message}})
		return
	}
	log.Printf("[httpapi] internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "internal", Message: "internal server error"}})
}

func statusForKind(kind storage.ErrorKind) int {
	switch kind {
	case storage.KindNotFound:
		return http.StatusNotFound
	case storage.KindInvalidArgument:
		return http.StatusBadRequest
	case storage.KindInvalidStateTransition, storage.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}
