package rules

import (
	"math"

	"github.com/factoryops/core/internal/domain"
)

// tri is the three-valued logic result of condition-tree evaluation:
// true, false, or undetermined (a referenced parameter was missing).
type tri int

const (
	triFalse tri = iota
	triTrue
	triUndetermined
)

// floatEqual applies the eq/neq comparison tolerance from spec.md §4.5:
// |a-b| <= 1e-9 * max(1, |a|, |b|).
func floatEqual(a, b float64) bool {
	tol := 1e-9 * math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tol
}

// EvaluateTree evaluates a ConditionTree against metrics using the
// three-valued logic of spec.md §4.5: a missing parameter yields
// undetermined, never false, and groups eliminate undetermined children
// per the AND/OR reduction rules there.
func EvaluateTree(c domain.ConditionTree, metrics map[string]float64) tri {
	if c.IsLeaf() {
		return evaluateLeaf(c, metrics)
	}
	results := make([]tri, 0, len(c.Conditions))
	for _, child := range c.Conditions {
		results = append(results, EvaluateTree(child, metrics))
	}
	switch c.Operator {
	case domain.GroupAND:
		return reduceAND(results)
	case domain.GroupOR:
		return reduceOR(results)
	default:
		return triUndetermined
	}
}

func evaluateLeaf(c domain.ConditionTree, metrics map[string]float64) tri {
	v, ok := metrics[c.Parameter]
	if !ok {
		return triUndetermined
	}
	var result bool
	switch c.Op {
	case domain.OpGT:
		result = v > c.Threshold
	case domain.OpLT:
		result = v < c.Threshold
	case domain.OpGTE:
		result = v >= c.Threshold || floatEqual(v, c.Threshold)
	case domain.OpLTE:
		result = v <= c.Threshold || floatEqual(v, c.Threshold)
	case domain.OpEQ:
		result = floatEqual(v, c.Threshold)
	case domain.OpNEQ:
		result = !floatEqual(v, c.Threshold)
	default:
		return triUndetermined
	}
	if result {
		return triTrue
	}
	return triFalse
}

// reduceAND: any-false wins, else all-undetermined -> undetermined, else
// true (every defined child was true).
func reduceAND(results []tri) tri {
	sawDefined := false
	for _, r := range results {
		if r == triFalse {
			return triFalse
		}
		if r == triTrue {
			sawDefined = true
		}
	}
	if !sawDefined {
		return triUndetermined
	}
	return triTrue
}

// reduceOR: any-true wins, else all-undetermined -> undetermined, else
// false (every defined child was false).
func reduceOR(results []tri) tri {
	sawDefined := false
	for _, r := range results {
		if r == triTrue {
			return triTrue
		}
		if r == triFalse {
			sawDefined = true
		}
	}
	if !sawDefined {
		return triUndetermined
	}
	return triFalse
}
