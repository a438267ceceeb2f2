package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// StreamEvents pushes queue-change notifications over Server-Sent Events.
// Each message carries only the queue name; clients re-fetch the job list
// themselves. The subscription is released the moment the client goes away.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.Bus.Subscribe()
	defer sub.Close()
	log.Printf("[sse] stream opened for subscriber %s", sub.ID())

	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[sse] subscriber %s disconnected", sub.ID())
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Notify():
			for _, queueName := range sub.Drain() {
				if err := writeQueueEvent(w, queueName); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func writeQueueEvent(w http.ResponseWriter, queueName string) error {
	b, err := json.Marshal(map[string]string{"queue": queueName})
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(b) + "\n\n"))
	return err
}
