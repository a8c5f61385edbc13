package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vestvault/services/custodyd/storage"
)

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	const op = "set_paused"
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	module := strings.TrimSpace(chi.URLParam(r, "module"))
	if err := s.pauses.SetPaused(caller, module, req.Paused); err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.handlePauseSnapshot(w, r)
}

func (s *Server) handlePauseSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.pauses.Snapshot()
	if err != nil {
		s.fail(w, r, "read_pauses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": snapshot})
}

// handleEvents pages through the journal. "after" is the last sequence
// number the client has seen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "event journal not configured")
		return
	}
	query := storage.Query{Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, "read_events", invalid("after must be an unsigned integer"))
			return
		}
		query.After = after
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, "read_events", invalid("limit must be an integer"))
			return
		}
		query.Limit = limit
	}
	notes, err := s.journal.Notifications(r.Context(), query)
	if err != nil {
		s.fail(w, r, "read_events", err)
		return
	}
	out := make([]eventView, 0, len(notes))
	for _, note := range notes {
		payload, err := note.Payload()
		if err != nil {
			s.fail(w, r, "read_events", err)
			return
		}
		out = append(out, eventView{
			Seq:        note.Seq,
			ID:         note.ID.String(),
			Type:       payload.Type,
			Attributes: payload.Attributes,
			CreatedAt:  note.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
