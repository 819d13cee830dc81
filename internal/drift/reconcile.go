package drift

import (
	"github.com/breeze-rmm/driftd/internal/model"
)

// Reconcile computes removal decisions for a full-sync inventory: every
// previously-known identity absent from the observed set. known maps identity
// to its last snapshot before the batch's collection timestamp; baselines maps
// identity to the baseline that applies for the scope (used for the
// missing_critical escalation). Ignored identities are excluded from known
// before the subtraction so they never generate removal noise.
func Reconcile(observed map[string]struct{}, known map[string]model.Snapshot, baselines map[string]model.Baseline, ignore *IgnoreSet) []Decision {
	var decisions []Decision
	for identity, last := range known {
		if _, present := observed[identity]; present {
			continue
		}
		if ignore.Match(last.Facet, identity) {
			continue
		}

		d := Decision{
			Type:        DecisionRemoved,
			Facet:       last.Facet,
			IdentityKey: identity,
			Old:         cloneSnapshot(last),
		}
		if b, ok := baselines[identity]; ok {
			bc := b
			d.Baseline = &bc
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func cloneSnapshot(s model.Snapshot) *model.Snapshot {
	c := s
	return &c
}
