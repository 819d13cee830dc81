package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/driftd/internal/model"
	"github.com/breeze-rmm/driftd/internal/store"
)

const (
	testTenant = "tenant-a"
	testAgent  = "agent-1"
)

type staticRecipients struct {
	addrs []string
	err   error
}

func (r staticRecipients) Resolve(ctx context.Context, tenantID string) ([]string, error) {
	return r.addrs, r.err
}

type captivePublisher struct {
	events []model.IntegrityEvent
}

func (p *captivePublisher) Publish(ev model.IntegrityEvent) {
	p.events = append(p.events, ev)
}

func newTestService(t *testing.T, opts Options) (*Service, *store.Store, *captivePublisher) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertTenant(ctx, model.Tenant{ID: testTenant, Name: "Tenant A"}))
	require.NoError(t, st.UpsertAgent(ctx, model.Agent{ID: testAgent, TenantID: testTenant, Hostname: "host-1"}))

	pub := &captivePublisher{}
	emitter := NewEmitter(st, staticRecipients{addrs: []string{"ops@example.com"}}, pub)
	return NewService(st, emitter, opts), st, pub
}

func registryBatch(fullSync bool, entries ...model.Observation) Batch {
	return Batch{
		TenantID: testTenant,
		AgentID:  testAgent,
		Facet:    model.FacetRegistry,
		FullSync: fullSync,
		Entries:  entries,
	}
}

func regEntry(valueName, valueData string, at time.Time) model.RegistryEntry {
	return model.RegistryEntry{
		Hive:        "HKLM",
		KeyPath:     `SOFTWARE\Microsoft\Windows\CurrentVersion\Run`,
		ValueName:   valueName,
		ValueType:   "REG_SZ",
		ValueData:   valueData,
		CollectedAt: at,
	}
}

func TestIngestFirstObservationEmitsNew(t *testing.T) {
	svc, _, pub := newTestService(t, Options{})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, registryBatch(false, regEntry("Updater", `C:\updater.exe`, time.Now())))
	require.NoError(t, err)

	require.Equal(t, 1, res.Ingested)
	require.Empty(t, res.Errors)
	require.Len(t, res.Events, 1)
	require.Equal(t, "registry_new", res.Events[0].EventType)
	require.Equal(t, model.SeverityMedium, res.Events[0].Severity)
	require.NotEmpty(t, res.ReportID)
	require.Len(t, pub.events, 1)
}

func TestIngestUnchangedEmitsNothing(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	first := time.Now().Add(-time.Hour)
	_, err := svc.Ingest(ctx, registryBatch(false, regEntry("Updater", `C:\updater.exe`, first)))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, registryBatch(false, regEntry("Updater", `C:\updater.exe`, time.Now())))
	require.NoError(t, err)

	require.Equal(t, 1, res.Ingested)
	require.Empty(t, res.Events)
}

func TestIngestValueChangeEmitsOneChangeEvent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, registryBatch(false, regEntry("Updater", `C:\updater.exe`, time.Now().Add(-time.Hour))))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, registryBatch(false, regEntry("Updater", `C:\evil.exe`, time.Now())))
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	require.Equal(t, "registry_change", res.Events[0].EventType)
	require.Equal(t, model.SeverityHigh, res.Events[0].Severity)
	require.Equal(t, `C:\updater.exe`, res.Events[0].Metadata["old_value_data"])
	require.Equal(t, `C:\evil.exe`, res.Events[0].Metadata["new_value_data"])
}

func TestIngestDuplicateTimestampIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	at := time.Now().Truncate(time.Second)
	entry := regEntry("Updater", `C:\updater.exe`, at)

	first, err := svc.Ingest(ctx, registryBatch(false, entry))
	require.NoError(t, err)
	require.Len(t, first.Events, 1)

	// Same (identity, collected_at) again: the upsert resolves to the
	// existing row and the replay is not re-diffed.
	second, err := svc.Ingest(ctx, registryBatch(false, entry))
	require.NoError(t, err)
	require.Equal(t, 1, second.Ingested)
	require.Empty(t, second.Events)
}

func TestIngestMalformedEntryContinuesBatch(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	bad := model.RegistryEntry{Hive: "HKLM", CollectedAt: time.Now()}
	good := regEntry("Updater", `C:\updater.exe`, time.Now())

	res, err := svc.Ingest(ctx, registryBatch(false, bad, good))
	require.NoError(t, err)

	require.Equal(t, 1, res.Ingested)
	require.Len(t, res.Errors, 1)
	require.Equal(t, 0, res.Errors[0].Index)
	require.Len(t, res.Events, 1)
}

func TestIngestUnknownAgent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	batch := registryBatch(false, regEntry("Updater", "x", time.Now()))
	batch.AgentID = "ghost"

	_, err := svc.Ingest(context.Background(), batch)
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestIngestTenantMismatch(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	batch := registryBatch(false, regEntry("Updater", "x", time.Now()))
	batch.TenantID = "tenant-b"

	_, err := svc.Ingest(context.Background(), batch)
	require.ErrorIs(t, err, ErrScopeMismatch)
}

func TestIngestBatchTooLarge(t *testing.T) {
	svc, _, _ := newTestService(t, Options{MaxBatchEntries: 1})
	batch := registryBatch(false,
		regEntry("A", "1", time.Now()),
		regEntry("B", "2", time.Now()),
	)

	_, err := svc.Ingest(context.Background(), batch)
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestIngestIgnoredIdentityStoredWithoutEvent(t *testing.T) {
	svc, st, _ := newTestService(t, Options{
		IgnoreRules: []string{`registry:hklm\software\microsoft\windows\currentversion\run\updater`},
	})
	ctx := context.Background()

	entry := regEntry("Updater", `C:\updater.exe`, time.Now())
	res, err := svc.Ingest(ctx, registryBatch(false, entry))
	require.NoError(t, err)

	require.Equal(t, 1, res.Ingested)
	require.Empty(t, res.Events)

	history, err := st.SnapshotsForIdentity(ctx, testAgent, model.FacetRegistry, entry.IdentityKey())
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestFullSyncEmitsRemovals(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	earlier := time.Now().Add(-time.Hour)
	_, err := svc.Ingest(ctx, registryBatch(false,
		regEntry("Updater", "a", earlier),
		regEntry("Telemetry", "b", earlier),
	))
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, registryBatch(true, regEntry("Updater", "a", time.Now())))
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	require.Equal(t, "registry_removed", ev.EventType)
	require.Equal(t, model.SeverityMedium, ev.Severity)
	require.Zero(t, ev.SnapshotID)
}

func TestFullSyncCriticalBaselineMissing(t *testing.T) {
	svc, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	proc := model.ProcessEntry{PID: 4242, ProcessName: "guard.exe", ExecutablePath: `C:\guard\guard.exe`, Hash: "abc", CollectedAt: time.Now().Add(-time.Hour)}
	other := model.ProcessEntry{PID: 100, ProcessName: "svchost.exe", ExecutablePath: `C:\Windows\svchost.exe`, CollectedAt: time.Now().Add(-time.Hour)}

	require.NoError(t, st.ReplaceBaselines(ctx, testTenant, "", model.FacetProcess, []model.Baseline{
		{TenantID: testTenant, Facet: model.FacetProcess, IdentityKey: proc.IdentityKey(), IsCritical: true},
	}))

	batch := Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetProcess, Entries: []model.Observation{proc, other}}
	_, err := svc.Ingest(ctx, batch)
	require.NoError(t, err)

	// Full sync without the critical process.
	sync := Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetProcess, FullSync: true,
		Entries: []model.Observation{model.ProcessEntry{PID: 100, ProcessName: "svchost.exe", ExecutablePath: `C:\Windows\svchost.exe`, CollectedAt: time.Now()}}}
	res, err := svc.Ingest(ctx, sync)
	require.NoError(t, err)

	var critical *model.IntegrityEvent
	for i := range res.Events {
		if res.Events[i].EventType == "missing_critical" {
			critical = &res.Events[i]
		}
	}
	require.NotNil(t, critical, "expected a missing_critical event")
	require.Equal(t, model.SeverityCritical, critical.Severity)

	// Critical severity queued a notification for the resolver's recipient.
	ns, err := st.NotificationsForEvent(ctx, critical.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
	require.Equal(t, testTenant, ns[0].TenantID)
	require.Equal(t, "ops@example.com", ns[0].Recipient)
}

func TestCriticalBaselineNewArrivalIsCritical(t *testing.T) {
	svc, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	svcEntry := model.ServiceEntry{Name: "EvilSvc", Status: "running", StartMode: "auto", CollectedAt: time.Now()}
	require.NoError(t, st.ReplaceBaselines(ctx, testTenant, "", model.FacetService, []model.Baseline{
		{TenantID: testTenant, Facet: model.FacetService, IdentityKey: "EvilSvc", IsCritical: true},
	}))

	batch := Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetService, Entries: []model.Observation{svcEntry}}
	res, err := svc.Ingest(ctx, batch)
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	require.Equal(t, model.SeverityCritical, res.Events[0].Severity)

	ns, err := st.NotificationsForEvent(ctx, res.Events[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
}

func TestServiceStartModeEscalation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	before := model.ServiceEntry{Name: "Spooler", Status: "stopped", StartMode: "disabled", CollectedAt: time.Now().Add(-time.Hour)}
	after := model.ServiceEntry{Name: "Spooler", Status: "stopped", StartMode: "auto", CollectedAt: time.Now()}

	_, err := svc.Ingest(ctx, Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetService, Entries: []model.Observation{before}})
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetService, Entries: []model.Observation{after}})
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	require.Equal(t, "service_change", res.Events[0].EventType)
	require.Equal(t, model.SeverityHigh, res.Events[0].Severity)
}

func TestBootConfigValueChange(t *testing.T) {
	svc, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	entry := model.BootConfigEntry{
		Entry:       "{current}",
		Element:     "nointegritychecks",
		Value:       "No",
		CollectedAt: time.Now().Add(-time.Hour),
	}
	batch := Batch{TenantID: testTenant, AgentID: testAgent, Facet: model.FacetBootConfig, Entries: []model.Observation{entry}}

	res, err := svc.Ingest(ctx, batch)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Equal(t, "bootconfig_new", res.Events[0].EventType)

	entry.Value = "Yes"
	entry.CollectedAt = time.Now()
	batch.Entries = []model.Observation{entry}

	res, err = svc.Ingest(ctx, batch)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	require.Equal(t, "bootconfig_change", ev.EventType)
	require.Equal(t, model.SeverityHigh, ev.Severity)
	require.Equal(t, "No", ev.Metadata["old_value"])
	require.Equal(t, "Yes", ev.Metadata["new_value"])

	history, err := st.SnapshotsForIdentity(ctx, testAgent, model.FacetBootConfig, entry.IdentityKey())
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestIngestFacetMismatchRejectedPerEntry(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	res, err := svc.Ingest(context.Background(), registryBatch(false,
		model.ServiceEntry{Name: "Spooler", CollectedAt: time.Now()},
	))
	require.NoError(t, err)
	require.Equal(t, 0, res.Ingested)
	require.Len(t, res.Errors, 1)
}
