package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/factoryops/core/internal/domain"
)

func leaf(param string, op domain.ComparisonOp, threshold float64) domain.ConditionTree {
	return domain.ConditionTree{Parameter: param, Op: op, Threshold: threshold}
}

func group(op domain.GroupOperator, children ...domain.ConditionTree) domain.ConditionTree {
	return domain.ConditionTree{Operator: op, Conditions: children}
}

func TestEvaluateTree_UndeterminedLeaf(t *testing.T) {
	tree := group(domain.GroupOR, leaf("temp", domain.OpGT, 50), leaf("vibration", domain.OpGT, 5))

	require.Equal(t, triTrue, EvaluateTree(tree, map[string]float64{"temp": 60}))
	require.Equal(t, triFalse, EvaluateTree(tree, map[string]float64{"vibration": 3}))
	require.Equal(t, triUndetermined, EvaluateTree(tree, map[string]float64{}))
}

func TestEvaluateTree_ANDAllUndetermined(t *testing.T) {
	tree := group(domain.GroupAND, leaf("a", domain.OpGT, 1), leaf("b", domain.OpGT, 1))
	require.Equal(t, triUndetermined, EvaluateTree(tree, map[string]float64{}))
}

func TestEvaluateTree_ANDAnyFalseWins(t *testing.T) {
	tree := group(domain.GroupAND, leaf("a", domain.OpGT, 1), leaf("b", domain.OpGT, 100))
	require.Equal(t, triFalse, EvaluateTree(tree, map[string]float64{"a": 5, "b": 1}))
}

func TestEvaluateTree_FloatTolerance(t *testing.T) {
	tree := leaf("temp", domain.OpEQ, 80.0)
	require.Equal(t, triTrue, EvaluateTree(tree, map[string]float64{"temp": 80.0 + 1e-10}))
	require.Equal(t, triFalse, EvaluateTree(tree, map[string]float64{"temp": 80.01}))
}

func TestEvaluateTree_CooldownScenarioRule(t *testing.T) {
	tree := group(domain.GroupAND, leaf("spindle_temp", domain.OpGT, 80), leaf("coolant_flow", domain.OpLT, 5))
	require.Equal(t, triTrue, EvaluateTree(tree, map[string]float64{"spindle_temp": 82.5, "coolant_flow": 3.2}))
}

func TestIsScheduled_Always(t *testing.T) {
	require.True(t, IsScheduled(domain.ScheduleAlways, domain.ScheduleConfig{}, time.Now(), time.UTC))
}

func TestIsScheduled_TimeWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	cfg := domain.ScheduleConfig{Days: []int{1, 2, 3, 4, 5}, StartTime: "06:00", EndTime: "22:00"}

	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, loc) // Saturday
	require.False(t, IsScheduled(domain.ScheduleTimeWindow, cfg, saturday, loc))

	monday2159 := time.Date(2026, 1, 5, 21, 59, 0, 0, loc)
	require.True(t, IsScheduled(domain.ScheduleTimeWindow, cfg, monday2159, loc))

	monday2201 := time.Date(2026, 1, 5, 22, 1, 0, 0, loc)
	require.False(t, IsScheduled(domain.ScheduleTimeWindow, cfg, monday2201, loc))
}

func TestIsScheduled_TimeWindowWrapsMidnight(t *testing.T) {
	cfg := domain.ScheduleConfig{StartTime: "22:00", EndTime: "06:00"}
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, IsScheduled(domain.ScheduleTimeWindow, cfg, late, time.UTC))
	require.True(t, IsScheduled(domain.ScheduleTimeWindow, cfg, early, time.UTC))
	require.False(t, IsScheduled(domain.ScheduleTimeWindow, cfg, midday, time.UTC))
}

func TestIsScheduled_DateRange(t *testing.T) {
	cfg := domain.ScheduleConfig{StartDate: "2026-01-01", EndDate: "2026-01-31"}
	inside := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, IsScheduled(domain.ScheduleDateRange, cfg, inside, time.UTC))
	require.False(t, IsScheduled(domain.ScheduleDateRange, cfg, outside, time.UTC))
}

func TestEvaluate_ScheduleGatesFiring(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	rule := domain.Rule{
		ScheduleType:   domain.ScheduleTimeWindow,
		ScheduleConfig: domain.ScheduleConfig{Days: []int{1, 2, 3, 4, 5}, StartTime: "06:00", EndTime: "22:00"},
		Conditions:     group(domain.GroupAND, leaf("spindle_temp", domain.OpGT, 80), leaf("coolant_flow", domain.OpLT, 5)),
	}
	metrics := map[string]float64{"spindle_temp": 82.5, "coolant_flow": 3.2}

	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, loc)
	require.False(t, Evaluate(rule, metrics, saturday, loc))

	monday2159 := time.Date(2026, 1, 5, 21, 59, 0, 0, loc)
	require.True(t, Evaluate(rule, metrics, monday2159, loc))
}

func TestEvaluate_UndeterminedRootDoesNotFire(t *testing.T) {
	rule := domain.Rule{
		ScheduleType: domain.ScheduleAlways,
		Conditions:   leaf("missing_param", domain.OpGT, 1),
	}
	require.False(t, Evaluate(rule, map[string]float64{}, time.Now(), time.UTC))
}
