package rules

import (
	"time"

	"github.com/factoryops/core/internal/domain"
)

// Evaluate is the pure function from spec.md §4.5:
// evaluate(rule, metrics, now, timezone) -> fires?
// It has no side effects and must return the same result for the same
// inputs every time (spec.md §8 purity property).
func Evaluate(rule domain.Rule, metrics map[string]float64, now time.Time, loc *time.Location) bool {
	if !IsScheduled(rule.ScheduleType, rule.ScheduleConfig, now, loc) {
		return false
	}
	return EvaluateTree(rule.Conditions, metrics) == triTrue
}
