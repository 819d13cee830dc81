package api

import (
	"encoding/json"
	"net/http"

	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/model"
)

// baselineEntry is the wire form of one expected identity.
type baselineEntry struct {
	IdentityKey string            `json:"identity_key"`
	Expected    map[string]string `json:"expected,omitempty"`
	IsCritical  bool              `json:"is_critical,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

type replaceBaselinesRequest struct {
	TenantID  string          `json:"tenant_id,omitempty"`
	Baselines []baselineEntry `json:"baselines"`
}

// handleReplaceBaselines replaces the full baseline set for one
// (tenant, agent scope, facet). An empty agent_id query targets the
// tenant-wide default scope.
func (s *Server) handleReplaceBaselines(w http.ResponseWriter, r *http.Request) {
	facet, err := model.ParseFacet(r.PathValue("facet"))
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	var req replaceBaselinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sc, err := requestScope(r, req.TenantID)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	agentID := r.URL.Query().Get("agent_id")

	baselines := make([]model.Baseline, 0, len(req.Baselines))
	for _, b := range req.Baselines {
		if b.IdentityKey == "" {
			httputil.WriteError(w, http.StatusBadRequest, "baseline entries require identity_key")
			return
		}
		baselines = append(baselines, model.Baseline{
			TenantID:    sc.tenantID,
			AgentID:     agentID,
			Facet:       facet,
			IdentityKey: b.IdentityKey,
			Expected:    b.Expected,
			IsCritical:  b.IsCritical,
			Notes:       b.Notes,
		})
	}

	if err := s.store.ReplaceBaselines(r.Context(), sc.tenantID, agentID, facet, baselines); err != nil {
		log.Error("baseline replace failed",
			logging.KeyTenantID, sc.tenantID,
			logging.KeyFacet, string(facet),
			logging.KeyError, err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "baseline replace failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"facet":    string(facet),
		"agent_id": agentID,
		"count":    len(baselines),
	})
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	facet, err := model.ParseFacet(r.PathValue("facet"))
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	sc, err := requestScope(r, "")
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	baselines, err := s.store.BaselinesForScope(r.Context(), sc.tenantID, agentID, facet)
	if err != nil {
		log.Error("baseline list failed",
			logging.KeyTenantID, sc.tenantID,
			logging.KeyFacet, string(facet),
			logging.KeyError, err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "baseline list failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"baselines": baselines})
}
