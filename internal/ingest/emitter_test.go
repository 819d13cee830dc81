package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/driftd/internal/drift"
	"github.com/breeze-rmm/driftd/internal/model"
	"github.com/breeze-rmm/driftd/internal/store"
)

func newEmitterStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "emitter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertTenant(ctx, model.Tenant{ID: testTenant}))
	require.NoError(t, st.UpsertAgent(ctx, model.Agent{ID: testAgent, TenantID: testTenant}))
	return st
}

func criticalDecision() drift.Decision {
	snap := model.Snapshot{
		TenantID:    testTenant,
		AgentID:     testAgent,
		Facet:       model.FacetService,
		IdentityKey: "GuardSvc",
		Fields:      map[string]string{"name": "GuardSvc", "start_mode": "auto"},
		CollectedAt: time.Now().UTC(),
	}
	return drift.Decision{
		Type:        drift.DecisionNew,
		Facet:       model.FacetService,
		IdentityKey: "GuardSvc",
		New:         &snap,
		Baseline:    &model.Baseline{TenantID: testTenant, Facet: model.FacetService, IdentityKey: "GuardSvc", IsCritical: true},
	}
}

func TestEmitCriticalFansOutToEveryRecipient(t *testing.T) {
	st := newEmitterStore(t)
	e := NewEmitter(st, staticRecipients{addrs: []string{"a@example.com", "b@example.com"}}, nil)

	d := criticalDecision()
	res, err := e.Emit(context.Background(), testTenant, testAgent, d, drift.Classify(d))
	require.NoError(t, err)
	require.Empty(t, res.EnqueueFailures)
	require.Equal(t, model.SeverityCritical, res.Event.Severity)

	ns, err := st.NotificationsForEvent(context.Background(), res.Event.ID)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	for _, n := range ns {
		require.Equal(t, model.NotificationQueued, n.Status)
		require.Contains(t, n.Subject, "[critical]")
	}
}

func TestEmitResolverFailureKeepsEvent(t *testing.T) {
	st := newEmitterStore(t)
	e := NewEmitter(st, staticRecipients{err: errors.New("settings unavailable")}, nil)

	d := criticalDecision()
	res, err := e.Emit(context.Background(), testTenant, testAgent, d, drift.Classify(d))
	require.NoError(t, err, "enqueue failure must not roll back the event")
	require.Len(t, res.EnqueueFailures, 1)

	events, err := st.QueryEvents(context.Background(), testTenant, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestEmitNonCriticalSkipsNotifications(t *testing.T) {
	st := newEmitterStore(t)
	e := NewEmitter(st, staticRecipients{addrs: []string{"a@example.com"}}, nil)

	snap := model.Snapshot{
		TenantID: testTenant, AgentID: testAgent, Facet: model.FacetTask,
		IdentityKey: `\Microsoft\Cleanup`, Fields: map[string]string{"name": "Cleanup"},
		CollectedAt: time.Now().UTC(),
	}
	d := drift.Decision{Type: drift.DecisionNew, Facet: model.FacetTask, IdentityKey: snap.IdentityKey, New: &snap}

	res, err := e.Emit(context.Background(), testTenant, testAgent, d, drift.Classify(d))
	require.NoError(t, err)

	ns, err := st.NotificationsForEvent(context.Background(), res.Event.ID)
	require.NoError(t, err)
	require.Empty(t, ns)
}
