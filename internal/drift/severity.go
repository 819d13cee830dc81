package drift

import (
	"strings"

	"github.com/breeze-rmm/driftd/internal/model"
)

// Classification is the result of severity mapping for one decision.
type Classification struct {
	EventType string
	Severity  model.Severity
}

// Classify maps a decision to an event type and severity. Pure function of
// (decision type, old value, new value, baseline); callable without any
// persistence in scope.
func Classify(d Decision) Classification {
	critical := d.Baseline != nil && d.Baseline.IsCritical

	c := Classification{EventType: eventType(d, critical)}

	switch d.Type {
	case DecisionNew:
		c.Severity = model.SeverityMedium
	case DecisionChanged:
		c.Severity = model.SeverityHigh
	case DecisionRemoved:
		c.Severity = model.SeverityMedium
	}
	if critical {
		c.Severity = model.SeverityCritical
	}

	if d.Facet == model.FacetService {
		c.Severity = escalateService(d, c.Severity)
	}

	return c
}

// escalateService applies the service-specific heuristics. Escalation only
// raises severity, never lowers what the baseline seeded.
func escalateService(d Decision, seeded model.Severity) model.Severity {
	out := seeded

	// A service flipping from disabled to auto-start is a persistence
	// technique regardless of whether anyone baselined it.
	if d.Old != nil && d.New != nil {
		oldMode := strings.ToLower(d.Old.Fields["start_mode"])
		newMode := strings.ToLower(d.New.Fields["start_mode"])
		if oldMode == "disabled" && newMode == "auto" && severityRank(out) < severityRank(model.SeverityHigh) {
			out = model.SeverityHigh
		}
	}

	// Kernel drivers with a changed or vanished binary hash.
	if d.New != nil && strings.HasSuffix(strings.ToLower(d.New.Fields["binary_path"]), ".sys") {
		newHash := d.New.Fields["hash"]
		hashChanged := d.Old != nil && d.Old.Fields["hash"] != newHash
		if newHash == "" || hashChanged {
			out = model.SeverityCritical
		}
	}

	return out
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityLow:
		return 0
	case model.SeverityMedium:
		return 1
	case model.SeverityHigh:
		return 2
	case model.SeverityCritical:
		return 3
	}
	return 0
}

// eventType derives the wire name for a decision. Removals of baselined
// critical identities surface as missing_critical across every facet.
func eventType(d Decision, critical bool) string {
	if d.Type == DecisionRemoved && critical {
		return "missing_critical"
	}

	suffix := ""
	switch d.Type {
	case DecisionNew:
		suffix = "new"
		if d.Facet == model.FacetProcess {
			suffix = "added"
		}
	case DecisionChanged:
		suffix = "change"
	case DecisionRemoved:
		suffix = "removed"
	}
	return string(d.Facet) + "_" + suffix
}
