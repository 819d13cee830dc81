package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/store"
)

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	sc, err := requestScope(r, "")
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		AgentID:   q.Get("agent_id"),
		EventType: q.Get("event_type"),
		Severity:  q.Get("severity"),
		Limit:     s.cfg.EventQueryLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit < filter.Limit {
			filter.Limit = limit
		}
	}

	events, err := s.store.QueryEvents(r.Context(), sc.tenantID, filter)
	if err != nil {
		log.Error("event query failed", logging.KeyTenantID, sc.tenantID, logging.KeyError, err)
		httputil.WriteError(w, http.StatusInternalServerError, "event query failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	sc, err := requestScope(r, "")
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}

	err = s.store.ResolveEvent(r.Context(), sc.tenantID, id, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "event not found or already resolved")
		return
	}
	if err != nil {
		log.Error("event resolve failed", logging.KeyTenantID, sc.tenantID, "eventId", id, logging.KeyError, err)
		httputil.WriteError(w, http.StatusInternalServerError, "event resolve failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}
