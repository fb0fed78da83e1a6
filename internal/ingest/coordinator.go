package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/parameter"
	"github.com/factoryops/core/internal/queue"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/timeseries"
)

// Message is one MQTT delivery handed to the coordinator. Ack/Nack let
// the broker client's own delivery semantics be driven from here without
// this package depending on a specific MQTT library type.
type Message struct {
	Topic   string
	Payload []byte
	Ack     func()
	Nack    func()
}

// Coordinator implements C4: it partitions incoming telemetry by
// hash(factory_slug, device_key) across a fixed worker pool so a device's
// messages process in order while different devices run concurrently, per
// spec.md §4.4's final paragraph.
type Coordinator struct {
	identity   *identity.Cache
	discoverer *parameter.Discoverer
	devices    *repository.DeviceRepo
	timeseries *timeseries.Writer
	ruleQueue  queue.Queue

	poolSize int
	lanes    []chan Message

	lastSeenMu    sync.Mutex
	lastSeenSeen  map[int64]time.Time
	lastSeenWrite map[int64]time.Time

	retryMu     sync.Mutex
	retryCounts map[string]int
	retryCap    int
	deadLetter  *deadLetterFile

	wg sync.WaitGroup
}

func New(
	identityCache *identity.Cache,
	discoverer *parameter.Discoverer,
	devices *repository.DeviceRepo,
	tsWriter *timeseries.Writer,
	ruleQueue queue.Queue,
) *Coordinator {
	poolSize := config.IngestWorkerPoolSize()
	if poolSize <= 0 {
		poolSize = 2 * runtime.NumCPU()
	}
	lanes := make([]chan Message, poolSize)
	for i := range lanes {
		lanes[i] = make(chan Message, 64)
	}
	return &Coordinator{
		identity:      identityCache,
		discoverer:    discoverer,
		devices:       devices,
		timeseries:    tsWriter,
		ruleQueue:     ruleQueue,
		poolSize:      poolSize,
		lanes:         lanes,
		lastSeenSeen:  make(map[int64]time.Time),
		lastSeenWrite: make(map[int64]time.Time),
		retryCounts:   make(map[string]int),
		retryCap:      config.MessageRetryCap(),
		deadLetter:    newDeadLetterFile(config.DeadLetterPath()),
	}
}

// Start launches the worker pool; call Stop to drain and join it.
func (c *Coordinator) Start() {
	for i := 0; i < c.poolSize; i++ {
		lane := c.lanes[i]
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runLane(lane)
		}()
	}
}

// Stop closes every lane and waits, up to config.ShutdownGracePeriod, for
// in-flight messages to finish draining (spec.md's Shutdown operation: stop
// pulling new broker messages, drain in-flight work within a bounded grace
// period, then close). Lanes that are still processing when the grace
// period elapses are abandoned; their messages rely on broker redelivery.
func (c *Coordinator) Stop() {
	for _, lane := range c.lanes {
		close(lane)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(config.ShutdownGracePeriod()):
		log.Warn().Msg("ingest.shutdown_grace_period_exceeded")
	}
}

// Dispatch routes one broker delivery to its partition lane by
// hash(factory_slug, device_key) mod N, parsing just enough of the topic
// to compute the hash before handing off.
func (c *Coordinator) Dispatch(msg Message) {
	parsed, err := ParseTopic(msg.Topic)
	if err != nil {
		log.Warn().Str("topic", msg.Topic).Err(err).Msg("ingest.malformed_topic")
		msg.Ack()
		return
	}
	lane := c.lanes[partitionOf(parsed.FactorySlug, parsed.DeviceKey, c.poolSize)]
	lane <- msg
}

func partitionOf(slug, deviceKey string, n int) int {
	h := fnv.New64a()
	h.Write([]byte(slug))
	h.Write([]byte{0})
	h.Write([]byte(deviceKey))
	return int(h.Sum64() % uint64(n))
}

// runLane processes one partition's messages strictly in order, recovering
// a panic in any single message's handling so one bad message never kills
// the lane (spec.md §5's "bounded, panic-safe worker pools").
func (c *Coordinator) runLane(lane chan Message) {
	for msg := range lane {
		var pc panics.Catcher
		pc.Try(func() { c.handle(msg) })
		if recovered := pc.Recovered(); recovered != nil {
			log.Error().Str("topic", msg.Topic).Interface("panic", recovered.Value).
				Msg("ingest.message_handler_panicked")
			msg.Nack()
		}
	}
}

func (c *Coordinator) handle(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DBQueryTimeout())
	defer cancel()

	parsed, err := ParseTopic(msg.Topic)
	if err != nil {
		log.Warn().Str("topic", msg.Topic).Err(err).Msg("ingest.malformed_topic")
		msg.Ack()
		return
	}

	telemetry, err := ParsePayload(msg.Payload)
	if err != nil {
		log.Warn().Str("topic", msg.Topic).Err(err).Msg("ingest.malformed_payload")
		msg.Ack()
		return
	}

	factoryID, err := c.identity.ResolveFactory(ctx, parsed.FactorySlug)
	if err != nil {
		if !errors.Is(err, identity.ErrUnknownFactory) {
			c.retryOrDeadLetter(msg, "factory_resolve", err)
			return
		}
		log.Info().Str("slug", parsed.FactorySlug).Msg("ingest.unknown_factory")
		msg.Ack()
		return
	}

	deviceID, err := c.resolveDevice(ctx, factoryID, parsed.DeviceKey)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownDevice) {
			log.Info().Str("slug", parsed.FactorySlug).Str("device_key", parsed.DeviceKey).
				Msg("ingest.unknown_device")
			msg.Ack()
			return
		}
		c.retryOrDeadLetter(msg, "device_resolve", err)
		return
	}

	if err := c.discoverer.Reconcile(ctx, factoryID, deviceID, telemetry.Metrics); err != nil {
		c.retryOrDeadLetter(msg, "parameter_discovery", err)
		return
	}

	ts := time.Now().UTC()
	if telemetry.Timestamp != nil {
		ts = *telemetry.Timestamp
	}

	fields := make(map[string]float64, len(telemetry.Metrics))
	for k, v := range telemetry.Metrics {
		fields[k] = v.Float()
	}
	c.timeseries.Enqueue(timeseries.Point{
		FactoryID: factoryID,
		DeviceID:  deviceID,
		Fields:    fields,
		Timestamp: ts,
	})

	c.touchLastSeen(factoryID, deviceID, ts)

	c.dispatchRuleEval(ctx, factoryID, deviceID, fields, ts)

	c.clearRetryCount(msg)
	msg.Ack()
}

// resolveDevice implements spec.md §4.4 step 4 with the auto-create branch
// from §7's error table: when INGEST_AUTO_CREATE_DEVICE is disabled, an
// unknown device key surfaces identity.ErrUnknownDevice instead of being
// silently registered.
func (c *Coordinator) resolveDevice(ctx context.Context, factoryID int64, deviceKey string) (int64, error) {
	if !config.IngestAutoCreateDevice() {
		return c.identity.ResolveDevice(ctx, factoryID, deviceKey)
	}
	device, err := c.identity.ResolveOrCreateDevice(ctx, factoryID, deviceKey)
	if err != nil {
		return 0, err
	}
	return device.ID, nil
}

// retryOrDeadLetter implements spec.md §4.4 step 9's retry cap: transient
// relational-store failures nack for broker redelivery until the
// per-message retry counter exceeds MESSAGE_RETRY_CAP, after which the
// message is appended to the local dead-letter file and acked so it stops
// cycling through the broker.
func (c *Coordinator) retryOrDeadLetter(msg Message, stage string, cause error) {
	key := retryKey(msg.Topic, msg.Payload)

	c.retryMu.Lock()
	c.retryCounts[key]++
	attempts := c.retryCounts[key]
	c.retryMu.Unlock()

	if attempts <= c.retryCap {
		log.Warn().Err(cause).Str("stage", stage).Int("attempt", attempts).
			Str("topic", msg.Topic).Msg("ingest.transient_failure")
		msg.Nack()
		return
	}

	log.Error().Err(cause).Str("stage", stage).Str("topic", msg.Topic).
		Msg("ingest.retry_cap_exceeded_dead_lettered")
	c.deadLetter.Append(msg.Topic, msg.Payload, stage, cause)
	c.retryMu.Lock()
	delete(c.retryCounts, key)
	c.retryMu.Unlock()
	msg.Ack()
}

func (c *Coordinator) clearRetryCount(msg Message) {
	key := retryKey(msg.Topic, msg.Payload)
	c.retryMu.Lock()
	delete(c.retryCounts, key)
	c.retryMu.Unlock()
}

func retryKey(topic string, payload []byte) string {
	h := fnv.New64a()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return fmt.Sprintf("%x", h.Sum64())
}

// touchLastSeen coalesces last_seen writes per device: only the first
// message in a debounce window triggers a relational write, spec.md §4.4
// step 7's "write amplification" guard.
func (c *Coordinator) touchLastSeen(factoryID, deviceID int64, at time.Time) {
	debounce := config.LastSeenDebounce()

	c.lastSeenMu.Lock()
	if seen, ok := c.lastSeenSeen[deviceID]; ok && at.Before(seen) {
		at = seen
	}
	c.lastSeenSeen[deviceID] = at
	last, wrote := c.lastSeenWrite[deviceID]
	due := !wrote || at.Sub(last) >= debounce
	if due {
		c.lastSeenWrite[deviceID] = at
	}
	c.lastSeenMu.Unlock()

	if !due {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.DBQueryTimeout())
	defer cancel()
	if err := c.devices.TouchLastSeen(ctx, factoryID, deviceID, at); err != nil {
		log.Warn().Err(err).Int64("device_id", deviceID).Msg("ingest.last_seen_write_failed")
	}
}

// ruleEvalTask is the payload shape the C6 alerting worker decodes.
type ruleEvalTask struct {
	FactoryID int64              `json:"factory_id"`
	DeviceID  int64              `json:"device_id"`
	Metrics   map[string]float64 `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// dispatchRuleEval implements spec.md §4.4 step 8: bounded back-pressure
// wait, then drop on timeout rather than block the lane indefinitely. A
// dropped task is logged as ingest.rule_dispatch_dropped; no counter is
// kept.
func (c *Coordinator) dispatchRuleEval(ctx context.Context, factoryID, deviceID int64, metrics map[string]float64, ts time.Time) {
	body, err := json.Marshal(ruleEvalTask{FactoryID: factoryID, DeviceID: deviceID, Metrics: metrics, Timestamp: ts})
	if err != nil {
		log.Error().Err(err).Msg("ingest.rule_task_marshal_failed")
		return
	}

	dctx, cancel := context.WithTimeout(ctx, config.RuleDispatchTimeout())
	defer cancel()

	if _, err := c.ruleQueue.Submit(dctx, body); err != nil {
		log.Warn().Err(err).Int64("factory_id", factoryID).Int64("device_id", deviceID).
			Msg("ingest.rule_dispatch_dropped")
	}
}

// deadLetterFile appends JSON-lines describing messages that exhausted
// their retry cap, mirroring timeseries.Overflow's on-disk shape but for
// whole ingest messages rather than time-series batches.
type deadLetterFile struct {
	path string
	mu   sync.Mutex
}

func newDeadLetterFile(path string) *deadLetterFile {
	return &deadLetterFile{path: path}
}

type deadLetterRecord struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Stage     string    `json:"stage"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *deadLetterFile) Append(topic string, payload []byte, stage string, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", d.path).Msg("ingest.dead_letter_open_failed")
		return
	}
	defer f.Close()

	rec := deadLetterRecord{Topic: topic, Payload: string(payload), Stage: stage, Cause: cause.Error(), Timestamp: time.Now().UTC()}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	w := bufio.NewWriter(f)
	w.Write(b)
	w.WriteByte('\n')
	w.Flush()
}
