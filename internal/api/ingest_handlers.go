package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/ingest"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/model"
)

// ingestRequest is the shared batch envelope. Entries stay raw until the
// facet is known.
type ingestRequest struct {
	TenantID string            `json:"tenant_id,omitempty"`
	AgentID  string            `json:"agent_id"`
	FullSync bool              `json:"full_sync,omitempty"`
	Entries  []json.RawMessage `json:"entries"`
}

// processResponse is the inline drift payload the process facet responds
// with; agents act on it immediately instead of polling the event feed.
type processResponse struct {
	Ingested int                 `json:"ingested"`
	ReportID string              `json:"report_id"`
	Errors   []ingest.EntryError `json:"errors,omitempty"`
	Drift    processDrift        `json:"drift"`
}

type processDrift struct {
	Events []model.IntegrityEvent `json:"events"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	facet, err := model.ParseFacet(r.PathValue("facet"))
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	sc, err := requestScope(r, req.TenantID)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	entries, err := decodeEntries(facet, req.Entries)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.ingest.Ingest(r.Context(), ingest.Batch{
		TenantID: sc.tenantID,
		AgentID:  req.AgentID,
		Facet:    facet,
		FullSync: req.FullSync,
		Entries:  entries,
	})
	switch {
	case errors.Is(err, ingest.ErrAgentNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ingest.ErrScopeMismatch):
		httputil.WriteError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, ingest.ErrBatchTooLarge):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error("ingest failed",
			logging.KeyTenantID, sc.tenantID,
			logging.KeyAgentID, req.AgentID,
			logging.KeyFacet, string(facet),
			logging.KeyError, err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	if facet == model.FacetProcess {
		httputil.WriteJSON(w, http.StatusOK, processResponse{
			Ingested: result.Ingested,
			ReportID: result.ReportID,
			Errors:   result.Errors,
			Drift:    processDrift{Events: result.Events},
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// decodeEntries unmarshals the raw entries into the facet's observation type.
// A type-level decode failure rejects the body; field-level validation runs
// per entry inside the service.
func decodeEntries(facet model.Facet, raw []json.RawMessage) ([]model.Observation, error) {
	out := make([]model.Observation, 0, len(raw))
	for i, msg := range raw {
		obs, err := decodeEntry(facet, msg)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

func decodeEntry(facet model.Facet, msg json.RawMessage) (model.Observation, error) {
	switch facet {
	case model.FacetRegistry:
		var e model.RegistryEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		return e, nil
	case model.FacetService:
		var e model.ServiceEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		return e, nil
	case model.FacetTask:
		var e model.TaskEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		return e, nil
	case model.FacetProcess:
		var e model.ProcessEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		return e, nil
	case model.FacetBootConfig:
		var e model.BootConfigEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown facet %q", facet)
}
