package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/driftd/internal/drift"
	"github.com/breeze-rmm/driftd/internal/model"
	"github.com/breeze-rmm/driftd/internal/store"
)

// RecipientResolver resolves the notification recipients for a tenant. The
// production implementation lives in internal/notify.
type RecipientResolver interface {
	Resolve(ctx context.Context, tenantID string) ([]string, error)
}

// EventPublisher receives events as they are created, for the live stream.
// Publish must not block; the hub drops slow subscribers on its own.
type EventPublisher interface {
	Publish(ev model.IntegrityEvent)
}

// EmitResult is the outcome of emitting one decision. EnqueueFailures carries
// the per-recipient errors from notification fan-out; the event itself is
// always persisted when the error return is nil.
type EmitResult struct {
	Event           model.IntegrityEvent
	EnqueueFailures []error
}

// Emitter turns classified drift decisions into persisted integrity events
// and, for critical severity, queued notifications.
type Emitter struct {
	store      *store.Store
	recipients RecipientResolver
	publisher  EventPublisher
}

// NewEmitter wires an emitter. publisher may be nil when no live stream is
// attached (tests, migrate command).
func NewEmitter(st *store.Store, recipients RecipientResolver, publisher EventPublisher) *Emitter {
	return &Emitter{
		store:      st,
		recipients: recipients,
		publisher:  publisher,
	}
}

// Emit persists one event for the decision. Notification enqueue failures do
// not roll back the event; they are returned for the caller to log.
func (e *Emitter) Emit(ctx context.Context, tenantID, agentID string, d drift.Decision, c drift.Classification) (EmitResult, error) {
	ev := model.IntegrityEvent{
		EventUID:    uuid.NewString(),
		TenantID:    tenantID,
		AgentID:     agentID,
		EventType:   c.EventType,
		Severity:    c.Severity,
		Title:       eventTitle(d, c),
		Description: eventDescription(d),
		Metadata:    eventMetadata(d),
		DetectedAt:  time.Now().UTC(),
	}
	if d.New != nil {
		ev.SnapshotID = d.New.ID
	}

	stored, err := e.store.InsertEvent(ctx, ev)
	if err != nil {
		return EmitResult{}, fmt.Errorf("emit %s for %q: %w", c.EventType, d.IdentityKey, err)
	}

	result := EmitResult{Event: stored}

	if stored.Severity == model.SeverityCritical {
		result.EnqueueFailures = e.enqueueNotifications(ctx, stored)
	}

	if e.publisher != nil {
		e.publisher.Publish(stored)
	}

	return result, nil
}

func (e *Emitter) enqueueNotifications(ctx context.Context, ev model.IntegrityEvent) []error {
	recipients, err := e.recipients.Resolve(ctx, ev.TenantID)
	if err != nil {
		return []error{fmt.Errorf("resolve recipients: %w", err)}
	}

	var failures []error
	for _, recipient := range recipients {
		n := model.Notification{
			TenantID:  ev.TenantID,
			EventID:   ev.ID,
			Recipient: recipient,
			Subject:   "[critical] " + ev.Title,
			Body:      notificationBody(ev),
		}
		if _, err := e.store.EnqueueNotification(ctx, n); err != nil {
			failures = append(failures, fmt.Errorf("enqueue for %s: %w", recipient, err))
		}
	}
	return failures
}

func eventTitle(d drift.Decision, c drift.Classification) string {
	label := facetLabel(d.Facet)
	if c.EventType == "missing_critical" {
		return fmt.Sprintf("Critical %s missing: %s", strings.ToLower(label), d.IdentityKey)
	}
	switch d.Type {
	case drift.DecisionNew:
		return fmt.Sprintf("New %s detected: %s", strings.ToLower(label), d.IdentityKey)
	case drift.DecisionChanged:
		return fmt.Sprintf("%s changed: %s", label, d.IdentityKey)
	case drift.DecisionRemoved:
		return fmt.Sprintf("%s removed: %s", label, d.IdentityKey)
	}
	return label + ": " + d.IdentityKey
}

func facetLabel(f model.Facet) string {
	switch f {
	case model.FacetRegistry:
		return "Registry value"
	case model.FacetService:
		return "Service"
	case model.FacetTask:
		return "Scheduled task"
	case model.FacetProcess:
		return "Process"
	case model.FacetBootConfig:
		return "Boot config element"
	}
	return string(f)
}

func eventDescription(d drift.Decision) string {
	switch d.Type {
	case drift.DecisionChanged:
		fields := drift.ChangedFields(d.Old, d.New)
		return fmt.Sprintf("Significant fields changed: %s", strings.Join(fields, ", "))
	case drift.DecisionRemoved:
		if d.Old != nil {
			return fmt.Sprintf("Last observed at %s", d.Old.CollectedAt.Format(time.RFC3339))
		}
	case drift.DecisionNew:
		if d.Baseline != nil && d.Baseline.IsCritical {
			return "Identity appeared under a critical baseline"
		}
		return "Identity observed for the first time"
	}
	return ""
}

// eventMetadata records the facet, identity, and for changes the old and new
// value of every significant field that differed.
func eventMetadata(d drift.Decision) map[string]string {
	meta := map[string]string{
		"facet":        string(d.Facet),
		"identity_key": d.IdentityKey,
	}

	if d.Type == drift.DecisionChanged {
		fields := drift.ChangedFields(d.Old, d.New)
		meta["changed_fields"] = strings.Join(fields, ",")
		for _, f := range fields {
			meta["old_"+f] = d.Old.Fields[f]
			meta["new_"+f] = d.New.Fields[f]
		}
	}
	if d.Type == drift.DecisionRemoved && d.Old != nil {
		meta["last_seen"] = d.Old.CollectedAt.UTC().Format(time.RFC3339Nano)
	}
	if d.Baseline != nil {
		meta["baseline_critical"] = fmt.Sprintf("%t", d.Baseline.IsCritical)
	}
	return meta
}

func notificationBody(ev model.IntegrityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nSeverity: %s\nAgent: %s\nDetected: %s\n",
		ev.Title, ev.Severity, ev.AgentID, ev.DetectedAt.Format(time.RFC3339))
	if ev.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", ev.Description)
	}
	return b.String()
}
