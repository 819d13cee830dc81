// Package ingest orchestrates snapshot ingestion: scope checks, persistence,
// diffing against history and baselines, severity classification, event
// emission, and full-sync reconciliation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/driftd/internal/drift"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/model"
	"github.com/breeze-rmm/driftd/internal/store"
)

var log = logging.L("ingest")

// Scope errors fail the whole call; everything else degrades per entry.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrScopeMismatch = errors.New("agent does not belong to tenant")
	ErrBatchTooLarge = errors.New("batch exceeds entry limit")
)

// Batch is one ingestion call for a single facet.
type Batch struct {
	TenantID string
	AgentID  string
	Facet    model.Facet
	FullSync bool
	Entries  []model.Observation
}

// EntryError reports one rejected entry. The rest of the batch proceeds.
type EntryError struct {
	Index    int    `json:"index"`
	Identity string `json:"identity_key,omitempty"`
	Error    string `json:"error"`
}

// Result summarizes one ingestion call.
type Result struct {
	ReportID string                 `json:"report_id"`
	Ingested int                    `json:"ingested"`
	Errors   []EntryError           `json:"errors,omitempty"`
	Events   []model.IntegrityEvent `json:"events,omitempty"`
}

// Options tunes the service from config.
type Options struct {
	ReconcileWindowRows int
	MaxBatchEntries     int
	IgnoreRules         []string
}

// Service runs the ingestion pipeline against the store.
type Service struct {
	store   *store.Store
	emitter *Emitter
	opts    Options
}

func NewService(st *store.Store, emitter *Emitter, opts Options) *Service {
	if opts.ReconcileWindowRows < 1 {
		opts.ReconcileWindowRows = 2000
	}
	if opts.MaxBatchEntries < 1 {
		opts.MaxBatchEntries = 5000
	}
	return &Service{store: st, emitter: emitter, opts: opts}
}

// Ingest processes one batch. Entries are handled in submitted order; a
// malformed or unpersistable entry is reported per index and skipped, it
// never aborts the rest. At most one event fires per identity per call.
func (s *Service) Ingest(ctx context.Context, batch Batch) (*Result, error) {
	if len(batch.Entries) > s.opts.MaxBatchEntries {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(batch.Entries), s.opts.MaxBatchEntries)
	}

	agent, err := s.store.GetAgent(ctx, batch.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	if agent.TenantID != "" && agent.TenantID != batch.TenantID {
		return nil, ErrScopeMismatch
	}

	now := time.Now().UTC()
	if err := s.store.TouchAgent(ctx, batch.AgentID, now); err != nil {
		log.Warn("touch agent failed", logging.KeyAgentID, batch.AgentID, logging.KeyError, err)
	}

	ignore, err := s.ignoreSet(ctx, batch)
	if err != nil {
		return nil, err
	}

	scopedLog := logging.WithScope(log, batch.TenantID, batch.AgentID)
	result := &Result{ReportID: uuid.NewString()}

	observed := make(map[string]struct{}, len(batch.Entries))
	emitted := make(map[string]struct{})
	cutoff := now

	for i, entry := range batch.Entries {
		if entry.Facet() != batch.Facet {
			result.Errors = append(result.Errors, EntryError{Index: i, Error: fmt.Sprintf("entry facet %q does not match batch facet %q", entry.Facet(), batch.Facet)})
			continue
		}
		if err := entry.Validate(); err != nil {
			result.Errors = append(result.Errors, EntryError{Index: i, Error: err.Error()})
			continue
		}

		collectedAt := entry.ObservedAt().UTC()
		if entry.ObservedAt().IsZero() {
			collectedAt = now
		}
		if collectedAt.Before(cutoff) {
			cutoff = collectedAt
		}

		snap := model.Snapshot{
			TenantID:    batch.TenantID,
			AgentID:     batch.AgentID,
			Facet:       batch.Facet,
			IdentityKey: entry.IdentityKey(),
			Fields:      entry.Fields(),
			CollectedAt: collectedAt,
		}
		if r, ok := entry.(model.RegistryEntry); ok {
			snap.Checksum = r.Checksum
		}

		stored, inserted, err := s.store.UpsertSnapshot(ctx, snap)
		if err != nil {
			result.Errors = append(result.Errors, EntryError{Index: i, Identity: snap.IdentityKey, Error: err.Error()})
			continue
		}
		result.Ingested++
		observed[stored.IdentityKey] = struct{}{}

		// A replayed (identity, collected_at) already went through diffing
		// the first time; re-deciding it would duplicate the event.
		if !inserted {
			continue
		}
		if ignore.Match(batch.Facet, stored.IdentityKey) {
			continue
		}
		if _, done := emitted[stored.IdentityKey]; done {
			continue
		}

		decision, err := s.decide(ctx, batch, stored)
		if err != nil {
			scopedLog.Error("diff lookup failed", logging.KeyFacet, string(batch.Facet), "identity", stored.IdentityKey, logging.KeyError, err)
			continue
		}
		if decision == nil {
			continue
		}

		s.emit(ctx, scopedLog, batch, *decision, result)
		emitted[stored.IdentityKey] = struct{}{}
	}

	if batch.FullSync {
		s.reconcile(ctx, scopedLog, batch, observed, emitted, cutoff, ignore, result)
	}

	return result, nil
}

// decide runs the history and baseline lookups and the pure comparison for
// one stored snapshot.
func (s *Service) decide(ctx context.Context, batch Batch, stored model.Snapshot) (*drift.Decision, error) {
	prior, err := s.store.PriorSnapshot(ctx, batch.TenantID, batch.AgentID, batch.Facet, stored.IdentityKey, stored.ID)
	if err != nil {
		return nil, err
	}
	baseline, err := s.store.FindBaseline(ctx, batch.TenantID, batch.AgentID, batch.Facet, stored.IdentityKey)
	if err != nil {
		return nil, err
	}
	return drift.Compare(prior, stored, baseline), nil
}

// reconcile emits removal decisions for a full-sync inventory. A failed
// known-identity query is logged and skipped; the entries already persisted
// in this call stand.
func (s *Service) reconcile(ctx context.Context, scopedLog *slog.Logger, batch Batch, observed, emitted map[string]struct{}, cutoff time.Time, ignore *drift.IgnoreSet, result *Result) {
	known, err := s.store.KnownIdentities(ctx, batch.TenantID, batch.AgentID, batch.Facet, cutoff, s.opts.ReconcileWindowRows)
	if err != nil {
		scopedLog.Error("reconciliation skipped", logging.KeyFacet, string(batch.Facet), logging.KeyError, err)
		return
	}

	criticals, err := s.store.CriticalBaselines(ctx, batch.TenantID, batch.AgentID, batch.Facet)
	if err != nil {
		scopedLog.Error("reconciliation skipped", logging.KeyFacet, string(batch.Facet), logging.KeyError, err)
		return
	}

	for _, d := range drift.Reconcile(observed, known, criticals, ignore) {
		if _, done := emitted[d.IdentityKey]; done {
			continue
		}
		s.emit(ctx, scopedLog, batch, d, result)
		emitted[d.IdentityKey] = struct{}{}
	}
}

func (s *Service) emit(ctx context.Context, scopedLog *slog.Logger, batch Batch, d drift.Decision, result *Result) {
	c := drift.Classify(d)
	res, err := s.emitter.Emit(ctx, batch.TenantID, batch.AgentID, d, c)
	if err != nil {
		scopedLog.Error("event emit failed", logging.KeyFacet, string(batch.Facet), "identity", d.IdentityKey, logging.KeyError, err)
		return
	}
	for _, failure := range res.EnqueueFailures {
		scopedLog.Warn("notification enqueue failed", "eventUid", res.Event.EventUID, logging.KeyError, failure)
	}
	result.Events = append(result.Events, res.Event)
}

func (s *Service) ignoreSet(ctx context.Context, batch Batch) (*drift.IgnoreSet, error) {
	stored, err := s.store.IgnoreRulesForScope(ctx, batch.TenantID, batch.AgentID, batch.Facet)
	if err != nil {
		return nil, fmt.Errorf("load ignore rules: %w", err)
	}
	return drift.NewIgnoreSet(s.opts.IgnoreRules, stored), nil
}
