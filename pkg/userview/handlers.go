package userview

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/users"
)

// Handler serves the list and detail views from a shared query controller, so
// concurrent requests for the same user are answered by one upstream fetch.
type Handler struct {
	controller *query.Controller
	logger     zerolog.Logger
}

// NewHandler creates view handlers over c.
func NewHandler(c *query.Controller, logger zerolog.Logger) *Handler {
	return &Handler{
		controller: c,
		logger:     logger.With().Str("component", "UserViewHandler").Logger(),
	}
}

// Register mounts the view routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/invalidate", h.handleInvalidate)
	r.Get("/{id}", h.handleDetail)
	r.Get("/{id}/watch", h.handleWatch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res := query.Load[[]users.User](r.Context(), h.controller, users.List())
	v := NewListView(res)
	if v.Status == StatusError {
		hlog.FromRequest(r).Warn().Err(res.Err).Msg("User list unavailable.")
	}
	writeJSON(w, listStatusCode(v), v)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "id")
	id, ok := ParseID(routeID)
	if !ok {
		writeJSON(w, http.StatusNotFound, notFoundView(routeID))
		return
	}

	res := query.Load[users.User](r.Context(), h.controller, users.ByID(id))
	v := NewDetailView(routeID, res)
	if v.Status == StatusError {
		hlog.FromRequest(r).Warn().Err(res.Err).Int64("user_id", id).Msg("User unavailable.")
	}
	writeJSON(w, detailStatusCode(v), v)
}

// handleWatch streams every detail view transition as a Server-Sent Event
// until the client goes away. Slow clients only see the latest view.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	routeID := chi.URLParam(r, "id")
	id, ok := ParseID(routeID)
	if !ok {
		_ = writeEvent(w, notFoundView(routeID))
		flusher.Flush()
		return
	}

	updates := make(chan DetailView, 1)
	b, err := query.Bind[users.User](h.controller, users.ByID(id), func(res query.Resource[users.User]) {
		v := NewDetailView(routeID, res)
		for {
			select {
			case updates <- v:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", id).Msg("Failed to watch user.")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer b.Release()

	hlog.FromRequest(r).Debug().Int64("user_id", id).Msg("Watch stream opened.")
	for {
		select {
		case <-r.Context().Done():
			return
		case v := <-updates:
			if err := writeEvent(w, v); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	n := h.controller.InvalidateEndpoint(users.EndpointList) +
		h.controller.InvalidateEndpoint(users.EndpointDetail)
	h.logger.Info().Int("keys", n).Msg("Invalidated user queries.")
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func listStatusCode(v ListView) int {
	if v.Status == StatusError {
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func detailStatusCode(v DetailView) int {
	switch v.Status {
	case StatusNotFound:
		return http.StatusNotFound
	case StatusError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, v DetailView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", v.Status, data)
	return err
}
