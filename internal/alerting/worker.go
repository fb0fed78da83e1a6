// Package alerting implements the Alerting Worker (C6): it consumes
// rule_engine tasks, evaluates each candidate rule against the task's
// telemetry snapshot, and on a cooldown-gated firing inserts an Alert and
// enqueues a notifications task.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/domain"
	"github.com/factoryops/core/internal/queue"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/rulecache"
	"github.com/factoryops/core/internal/rules"
)

// ruleEvalTask mirrors internal/ingest's wire shape for the rule_engine
// queue; duplicated here rather than imported so this package's only
// dependency on ingest's internals is the shape of bytes on the wire.
type ruleEvalTask struct {
	FactoryID int64              `json:"factory_id"`
	DeviceID  int64              `json:"device_id"`
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// notificationTask is the payload enqueued to the notifications queue.
type notificationTask struct {
	AlertID int64 `json:"alert_id"`
}

// Worker drains the rule_engine queue, evaluating candidate rules per
// spec.md §4.6.
type Worker struct {
	ruleQueue    queue.Queue
	notifyQueue  queue.Queue
	ruleCache    *rulecache.Cache
	factories    *repository.FactoryRepo
	alerts       *repository.AlertRepo

	tzMu      sync.RWMutex
	factoryTZ map[int64]*time.Location
}

func NewWorker(ruleQueue, notifyQueue queue.Queue, ruleCache *rulecache.Cache, factories *repository.FactoryRepo, alerts *repository.AlertRepo) *Worker {
	return &Worker{
		ruleQueue:   ruleQueue,
		notifyQueue: notifyQueue,
		ruleCache:   ruleCache,
		factories:   factories,
		alerts:      alerts,
		factoryTZ:   make(map[int64]*time.Location),
	}
}

// Run consumes the rule_engine queue until ctx is canceled.
func (w *Worker) Run(ctx context.Context, maxInFlight int) error {
	return w.ruleQueue.Consume(ctx, maxInFlight, w.handle)
}

func (w *Worker) handle(ctx context.Context, task queue.Task) error {
	var t ruleEvalTask
	if err := json.Unmarshal(task.Payload, &t); err != nil {
		log.Error().Err(err).Str("ticket", task.Ticket).Msg("alerting.malformed_task")
		return nil // not retryable; drop rather than jam the queue
	}

	loc, err := w.timezoneFor(ctx, t.FactoryID)
	if err != nil {
		return fmt.Errorf("alerting: resolve factory timezone: %w", err)
	}

	candidates, err := w.ruleCache.CandidatesForDevice(ctx, t.FactoryID, t.DeviceID)
	if err != nil {
		return fmt.Errorf("alerting: load candidate rules: %w", err)
	}

	for _, rule := range candidates {
		if !rules.Evaluate(rule, t.Metrics, t.Timestamp, loc) {
			continue
		}
		if err := w.fire(ctx, rule, t); err != nil {
			log.Error().Err(err).Int64("rule_id", rule.ID).Int64("device_id", t.DeviceID).
				Msg("alerting.fire_failed")
			return fmt.Errorf("alerting: fire rule %d: %w", rule.ID, err)
		}
	}
	return nil
}

// fire implements spec.md §4.6 steps 3a-3c: the cooldown claim is the
// commit marker, so an alert row is only ever visible alongside a
// successfully-claimed cooldown.
func (w *Worker) fire(ctx context.Context, rule domain.Rule, t ruleEvalTask) error {
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	claimed, err := w.alerts.TryClaimCooldown(ctx, rule.ID, t.DeviceID, cooldown, t.Timestamp)
	if err != nil {
		return fmt.Errorf("claim cooldown: %w", err)
	}
	if !claimed {
		return nil
	}

	alert := domain.Alert{
		FactoryID:         t.FactoryID,
		RuleID:            rule.ID,
		DeviceID:          t.DeviceID,
		TriggeredAt:       t.Timestamp,
		Severity:          rule.Severity,
		Message:           composeMessage(rule, t.Metrics),
		TelemetrySnapshot: domain.TelemetrySnapshot(t.Metrics),
	}
	created, err := w.alerts.Create(ctx, alert)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	body, err := json.Marshal(notificationTask{AlertID: created.ID})
	if err != nil {
		return fmt.Errorf("marshal notification task: %w", err)
	}
	if _, err := w.notifyQueue.Submit(ctx, body); err != nil {
		log.Error().Err(err).Int64("alert_id", created.ID).Msg("alerting.notification_submit_failed")
	}
	return nil
}

// composeMessage builds a deterministic, human-readable description of
// which leaf conditions were satisfied, referencing the triggering
// parameters by name and value (spec.md §4.6 step 3a).
func composeMessage(rule domain.Rule, metrics map[string]float64) string {
	params := triggeringParameters(rule.Conditions, metrics)
	if len(params) == 0 {
		return fmt.Sprintf("%s triggered", rule.Name)
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if v, ok := metrics[p]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.2f", p, v))
		}
	}
	return fmt.Sprintf("%s triggered (%s)", rule.Name, strings.Join(parts, ", "))
}

func triggeringParameters(c domain.ConditionTree, metrics map[string]float64) []string {
	if c.IsLeaf() {
		leaf := domain.Rule{ScheduleType: domain.ScheduleAlways, Conditions: c}
		if rules.Evaluate(leaf, metrics, time.Time{}, time.UTC) {
			return []string{c.Parameter}
		}
		return nil
	}
	var out []string
	for _, child := range c.Conditions {
		out = append(out, triggeringParameters(child, metrics)...)
	}
	return out
}

func (w *Worker) timezoneFor(ctx context.Context, factoryID int64) (*time.Location, error) {
	w.tzMu.RLock()
	loc, ok := w.factoryTZ[factoryID]
	w.tzMu.RUnlock()
	if ok {
		return loc, nil
	}

	f, err := w.factories.GetByID(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	loc, err = time.LoadLocation(f.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", f.Timezone).Int64("factory_id", factoryID).
			Msg("alerting.unknown_timezone_falling_back_to_utc")
		loc = time.UTC
	}

	w.tzMu.Lock()
	w.factoryTZ[factoryID] = loc
	w.tzMu.Unlock()
	return loc, nil
}
