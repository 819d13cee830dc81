// Package drift holds the pure decision logic: diffing an observation against
// its history and baseline, classifying severity, and reconciling full-sync
// inventories. Nothing here touches the database; callers supply lookups.
package drift

import (
	"github.com/breeze-rmm/driftd/internal/model"
)

// DecisionType is the kind of drift a comparison produced.
type DecisionType string

const (
	DecisionNew     DecisionType = "new"
	DecisionChanged DecisionType = "changed"
	DecisionRemoved DecisionType = "removed"
)

// Decision is one detected drift, before classification. Old is nil for new
// identities, New is nil for removed ones.
type Decision struct {
	Type        DecisionType
	Facet       model.Facet
	IdentityKey string
	Old         *model.Snapshot
	New         *model.Snapshot
	Baseline    *model.Baseline
}

// significantFields are the per-facet fields whose change constitutes drift.
// Everything else (display names, folder paths, volatile status text) is
// recorded in the snapshot but does not fire an event.
var significantFields = map[model.Facet][]string{
	model.FacetRegistry:   {"value_data", "value_type"},
	model.FacetService:    {"status", "hash", "start_mode"},
	model.FacetTask:       {"command", "schedule"},
	model.FacetProcess:    {"hash", "username"},
	model.FacetBootConfig: {"value"},
}

// Compare evaluates one stored observation against its prior snapshot and
// resolved baseline. Returns nil when nothing significant changed. Identity
// matching is literal; ignore filtering happens before Compare is called.
func Compare(prior *model.Snapshot, current model.Snapshot, baseline *model.Baseline) *Decision {
	if prior == nil {
		return &Decision{
			Type:        DecisionNew,
			Facet:       current.Facet,
			IdentityKey: current.IdentityKey,
			New:         &current,
			Baseline:    baseline,
		}
	}

	if changedFields(prior, &current) == nil {
		return nil
	}

	return &Decision{
		Type:        DecisionChanged,
		Facet:       current.Facet,
		IdentityKey: current.IdentityKey,
		Old:         prior,
		New:         &current,
		Baseline:    baseline,
	}
}

// changedFields returns the significant fields that differ between two
// snapshots of the same identity, or nil when none do.
func changedFields(old, new *model.Snapshot) []string {
	var changed []string
	for _, field := range significantFields[new.Facet] {
		if old.Fields[field] != new.Fields[field] {
			changed = append(changed, field)
		}
	}
	return changed
}

// ChangedFields exposes the significant diff for event metadata.
func ChangedFields(old, new *model.Snapshot) []string {
	return changedFields(old, new)
}
