package drift

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/breeze-rmm/driftd/internal/model"
)

func genFieldValue() gopter.Gen {
	return gen.AlphaString().Map(func(s string) string {
		if len(s) > 24 {
			return s[:24]
		}
		return s
	})
}

// Ingesting the same significant fields twice never yields a decision, for any
// field values on any facet.
func TestPropertyUnchangedNeverFires(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical significant fields produce no decision", prop.ForAll(
		func(data, mode, hash string) bool {
			for facet, sig := range significantFields {
				fields := map[string]string{}
				values := []string{data, mode, hash}
				for i, f := range sig {
					fields[f] = values[i%len(values)]
				}
				prior := snap(facet, "id", fields)
				current := snap(facet, "id", fields)
				current.CollectedAt = prior.CollectedAt.Add(time.Minute)
				if Compare(prior, *current, nil) != nil {
					return false
				}
			}
			return true
		},
		genFieldValue(), genFieldValue(), genFieldValue(),
	))

	properties.TestingRun(t)
}

// Changing any single significant field always yields exactly a changed
// decision, and the classifier never emits a severity below the decision
// default.
func TestPropertyChangedFieldAlwaysFires(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any significant field change is detected", prop.ForAll(
		func(before, after string) bool {
			if before == after {
				return true
			}
			for facet, sig := range significantFields {
				for _, field := range sig {
					prior := snap(facet, "id", map[string]string{field: before})
					current := snap(facet, "id", map[string]string{field: after})
					current.CollectedAt = prior.CollectedAt.Add(time.Minute)

					d := Compare(prior, *current, nil)
					if d == nil || d.Type != DecisionChanged {
						return false
					}
					c := Classify(*d)
					if severityRank(c.Severity) < severityRank(model.SeverityHigh) {
						return false
					}
				}
			}
			return true
		},
		genFieldValue(), genFieldValue(),
	))

	properties.TestingRun(t)
}

// A critical baseline always classifies at critical severity, regardless of
// facet or decision type.
func TestPropertyCriticalBaselineDominates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	decisionTypes := []DecisionType{DecisionNew, DecisionChanged, DecisionRemoved}

	properties.Property("baseline is_critical forces critical severity", prop.ForAll(
		func(value string) bool {
			for facet := range significantFields {
				for _, dt := range decisionTypes {
					d := Decision{
						Type: dt, Facet: facet, IdentityKey: "id",
						Baseline: &model.Baseline{IsCritical: true},
					}
					s := snap(facet, "id", map[string]string{"value": value})
					switch dt {
					case DecisionNew:
						d.New = s
					case DecisionRemoved:
						d.Old = s
					default:
						d.Old = s
						d.New = snap(facet, "id", map[string]string{"value": value + "x"})
					}
					if Classify(d).Severity != model.SeverityCritical {
						return false
					}
				}
			}
			return true
		},
		genFieldValue(),
	))

	properties.TestingRun(t)
}
