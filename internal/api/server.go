// Package api exposes the HTTP surface: per-facet ingestion, baseline
// management, event queries, the live event stream, and health.
//
// Caller identity arrives pre-resolved as headers (X-Tenant-ID, X-Privileged)
// from the fronting auth layer; handlers only enforce scope rules.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/breeze-rmm/driftd/internal/config"
	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/ingest"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/store"
)

var log = logging.L("api")

const (
	headerTenantID   = "X-Tenant-ID"
	headerPrivileged = "X-Privileged"
)

// Server wires the handlers over the store and ingestion service.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	ingest  *ingest.Service
	hub     *Hub
	httpSrv *http.Server
}

func NewServer(cfg *config.Config, st *store.Store, svc *ingest.Service, hub *Hub) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		ingest: svc,
		hub:    hub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest/{facet}", s.handleIngest)
	mux.HandleFunc("GET /v1/baselines/{facet}", s.handleListBaselines)
	mux.HandleFunc("PUT /v1/baselines/{facet}", s.handleReplaceBaselines)
	mux.HandleFunc("GET /v1/events", s.handleQueryEvents)
	mux.HandleFunc("POST /v1/events/{id}/resolve", s.handleResolveEvent)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	log.Info("http server listening", "addr", s.cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// scope is the resolved caller identity for one request.
type scope struct {
	tenantID   string
	privileged bool
}

// requestScope resolves the caller scope from headers. bodyTenant is the
// optional tenant_id from the request body, honored for privileged callers
// acting on behalf of a tenant.
func requestScope(r *http.Request, bodyTenant string) (scope, error) {
	sc := scope{
		tenantID:   r.Header.Get(headerTenantID),
		privileged: r.Header.Get(headerPrivileged) == "true",
	}
	if bodyTenant != "" && bodyTenant != sc.tenantID {
		if !sc.privileged {
			return scope{}, errors.New("tenant_id override requires a privileged caller")
		}
		sc.tenantID = bodyTenant
	}
	if sc.tenantID == "" {
		return scope{}, errors.New("missing " + headerTenantID + " header")
	}
	return sc, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
