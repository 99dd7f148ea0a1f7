package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// StreamHandler pushes store changes to the console UI over SSE.
type StreamHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st *store.Store, log *logger.Logger) *StreamHandler {
	return &StreamHandler{store: st, logger: log}
}

// Stream handles GET /api/v1/inbox/stream. It first replays a snapshot
// of the current inbox ordering so the client can render, then forwards
// live store changes until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	changes, cancel := h.store.Watch()
	defer cancel()

	// Snapshot first so the client has a consistent starting point; any
	// change racing the snapshot is already queued on the watcher.
	sendSSEEvent(w, flusher, "snapshot", h.store.Recency())

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected")
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(change.Kind), change); err != nil {
				h.logger.Warn("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
