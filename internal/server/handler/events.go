package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// StreamReader reads durable event streams.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// streams maps the public stream names to bus keys.
var streams = map[string]string{
	"entitlements": domain.StreamEntitlements,
	"settlement":   domain.StreamSettlement,
}

// EventHandler exposes the durable streams to downstream collaborators
// such as the payment service.
type EventHandler struct {
	bus    StreamReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(bus StreamReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, logger: logger}
}

type streamEvent struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type readStreamResponse struct {
	Stream string        `json:"stream"`
	Events []streamEvent `json:"events"`
	// NextID is passed back as after to continue reading.
	NextID string `json:"next_id"`
}

// ReadStream returns up to limit events after the given id. Readers keep
// their own cursor.
// GET /api/streams/{name}?after=0&limit=100
func (h *EventHandler) ReadStream(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	key, ok := streams[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream "+name)
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), key, after, limit)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "read stream", err)
		return
	}
	resp := readStreamResponse{Stream: name, Events: make([]streamEvent, 0, len(msgs)), NextID: after}
	for _, m := range msgs {
		payload := json.RawMessage(m.Payload)
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(m.Payload))
		}
		resp.Events = append(resp.Events, streamEvent{ID: m.ID, Payload: payload})
		resp.NextID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
