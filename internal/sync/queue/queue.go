// Package queue provides the durable queue of local mutations waiting to reach the
// remote store. Operations are drained one at a time, retried with a linear cooling-off,
// and parked once they exhaust their retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/uuid"
)

// Handler executes one operation. A non-nil error schedules a retry, except for the
// outcomes below.
type Handler func(ctx context.Context, op models.QueuedOperation) error

var (
	// ErrDeferred means the operation cannot run yet. It stays pending at its position
	// without spending a retry and waits for the next drain trigger.
	ErrDeferred = errors.New("operation deferred")
	// ErrParked means the handler already parked the operation's intent. The operation is
	// removed without being parked a second time.
	ErrParked = errors.New("operation parked by handler")
)

// Persister stores the queue and its parked writes. store.State implements it.
type Persister interface {
	Queue(ctx context.Context) ([]models.QueuedOperation, error)
	SaveQueue(ctx context.Context, ops []models.QueuedOperation) error
	Park(ctx context.Context, w models.ParkedWrite, limit int) error
}

// Config tunes retries and capacity.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	ParkedCap  int
	MaxSize    int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		ParkedCap:  20,
		MaxSize:    1000,
	}
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Processed int
	Succeeded int
	Retried   int
	Failed    int
	Deferred  int
}

// OperationQueue is a durable FIFO with a high-priority head lane.
type OperationQueue struct {
	cfg      Config
	persist  Persister
	handlers map[models.OperationKind]Handler
	now      func() time.Time

	mu        sync.Mutex
	items     []models.QueuedOperation
	gate      func() bool
	onDrained func(DrainStats)
	baseCtx   context.Context
	timer     *time.Timer

	// saveMu orders snapshots with their writes so an older snapshot never lands last.
	saveMu sync.Mutex

	draining atomic.Bool
	// rerun records a trigger that arrived while a pass was running.
	rerun atomic.Bool
	wg    sync.WaitGroup
}

// New creates an OperationQueue. Zero config fields take their defaults.
func New(cfg Config, persist Persister) *OperationQueue {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.ParkedCap <= 0 {
		cfg.ParkedCap = def.ParkedCap
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	return &OperationQueue{
		cfg:      cfg,
		persist:  persist,
		handlers: make(map[models.OperationKind]Handler),
		now:      time.Now,
		gate:     func() bool { return true },
		baseCtx:  context.Background(),
	}
}

// Handle registers the handler for kind.
func (q *OperationQueue) Handle(kind models.OperationKind, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

// SetGate sets the predicate consulted before draining, typically "network allows sync".
func (q *OperationQueue) SetGate(gate func() bool) {
	q.mu.Lock()
	q.gate = gate
	q.mu.Unlock()
}

// OnDrained sets a callback run after every drain pass that processed operations.
func (q *OperationQueue) OnDrained(fn func(DrainStats)) {
	q.mu.Lock()
	q.onDrained = fn
	q.mu.Unlock()
}

// SetContext sets the context used by background drains.
func (q *OperationQueue) SetContext(ctx context.Context) {
	q.mu.Lock()
	q.baseCtx = ctx
	q.mu.Unlock()
}

// Load restores the persisted queue. Operations interrupted mid-flight return to pending.
func (q *OperationQueue) Load(ctx context.Context) error {
	ops, err := q.persist.Queue(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "load operation queue", err)
	}

	restored := 0
	kept := make([]models.QueuedOperation, 0, len(ops))
	for _, op := range ops {
		switch op.Status {
		case models.OperationProcessing:
			op.Status = models.OperationPending
			restored++
		case models.OperationCompleted, models.OperationFailed:
			continue
		}
		kept = append(kept, op)
	}

	q.mu.Lock()
	q.items = kept
	q.mu.Unlock()

	if restored > 0 {
		logging.Info("Restored interrupted operations", map[string]interface{}{"count": restored})
		return q.save(ctx)
	}
	return nil
}

// Validate checks that payload fits kind.
func Validate(kind models.OperationKind, payload json.RawMessage) error {
	invalid := func(msg string) error {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("%s: %s", kind, msg))
	}

	switch kind {
	case models.OperationUpload, models.OperationForcedPull:
		return nil
	case models.OperationDeleteRecord:
		var p models.DeleteRecordPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.RecordID == "" {
			return invalid("recordId is required")
		}
	case models.OperationDeleteAdmin:
		var p models.DeleteAdminPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.Username == "" {
			return invalid("username is required")
		}
	case models.OperationRenameOwner:
		var p models.RenameOwnerPayload
		if err := json.Unmarshal(payload, &p); err != nil || p.OwnerID == "" || p.NewName == "" {
			return invalid("ownerId and newName are required")
		}
	default:
		return invalid("unknown operation kind")
	}
	return nil
}

// Enqueue validates, persists and schedules an operation. High priority operations go
// ahead of every normal one but stay behind earlier high priority ones.
func (q *OperationQueue) Enqueue(ctx context.Context, kind models.OperationKind, payload interface{}, priority models.Priority) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "encode payload", err)
	}
	if err := Validate(kind, raw); err != nil {
		return "", err
	}
	if priority == "" {
		priority = models.PriorityNormal
	}

	op := models.QueuedOperation{
		ID:         uuid.NewOperationID(),
		Kind:       kind,
		Payload:    raw,
		Priority:   priority,
		EnqueuedAt: q.now(),
		Status:     models.OperationPending,
	}

	q.mu.Lock()
	if len(q.items) >= q.cfg.MaxSize {
		q.mu.Unlock()
		return "", apperrors.New(apperrors.ErrQueueFull, fmt.Sprintf("queue is full (max size: %d)", q.cfg.MaxSize))
	}
	if priority == models.PriorityHigh {
		i := 0
		for i < len(q.items) && q.items[i].Priority == models.PriorityHigh {
			i++
		}
		q.items = append(q.items, models.QueuedOperation{})
		copy(q.items[i+1:], q.items[i:])
		q.items[i] = op
	} else {
		q.items = append(q.items, op)
	}
	q.mu.Unlock()

	if err := q.save(ctx); err != nil {
		return "", err
	}

	logging.Info("Enqueued operation", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         string(kind),
		"priority":     string(priority),
	})

	q.TriggerDrain()
	return op.ID, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// TriggerDrain starts a background drain if the gate allows it and none is running.
func (q *OperationQueue) TriggerDrain() {
	q.mu.Lock()
	gate, ctx := q.gate, q.baseCtx
	q.mu.Unlock()

	if !gate() {
		return
	}
	q.rerun.Store(true)
	if q.draining.Load() {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.Drain(ctx)
	}()
}

// Wait blocks until background drains started so far have finished.
func (q *OperationQueue) Wait() {
	q.wg.Wait()
}

// Close stops the retry timer and waits for background drains.
func (q *OperationQueue) Close() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// next marks the first ready pending operation not in skip as processing and returns a copy.
func (q *OperationQueue) next(skip map[string]bool) (models.QueuedOperation, Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i := range q.items {
		op := &q.items[i]
		if op.Status != models.OperationPending || op.NextAttemptAt.After(now) || skip[op.ID] {
			continue
		}
		op.Status = models.OperationProcessing
		return *op, q.handlers[op.Kind], true
	}
	return models.QueuedOperation{}, nil, false
}

func (q *OperationQueue) hasReady(skip map[string]bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, op := range q.items {
		if op.Status == models.OperationPending && !op.NextAttemptAt.After(now) && !skip[op.ID] {
			return true
		}
	}
	return false
}

func (q *OperationQueue) indexOf(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Drain processes ready operations one at a time until none is ready, the gate closes or
// ctx ends. It returns false without doing anything when another drain is running.
func (q *OperationQueue) Drain(ctx context.Context) (DrainStats, bool) {
	var stats DrainStats
	if !q.draining.CompareAndSwap(false, true) {
		return stats, false
	}
	q.rerun.Store(false)
	deferred := make(map[string]bool)
	defer func() {
		q.draining.Store(false)
		// A trigger that raced with this pass found the flag still set.
		if ctx.Err() == nil && (q.rerun.Load() || q.hasReady(deferred)) {
			q.TriggerDrain()
		}
	}()

	for ctx.Err() == nil {
		q.mu.Lock()
		gate := q.gate
		q.mu.Unlock()
		if !gate() {
			break
		}

		op, handler, ok := q.next(deferred)
		if !ok {
			break
		}
		if err := q.save(ctx); err != nil {
			logging.Warn("Failed to persist queue", map[string]interface{}{"error": err.Error()})
		}

		var err error
		if handler == nil {
			err = fmt.Errorf("no handler for %s", op.Kind)
		} else {
			err = handler(ctx, op)
		}

		if errors.Is(err, ErrDeferred) {
			stats.Deferred++
			deferred[op.ID] = true
			q.requeue(ctx, op, err)
			continue
		}

		stats.Processed++
		if err == nil {
			stats.Succeeded++
			q.complete(ctx, op)
			continue
		}
		if errors.Is(err, ErrParked) {
			stats.Failed++
			q.complete(ctx, op)
			logging.Warn("Operation parked by handler", map[string]interface{}{
				"operation_id": op.ID,
				"kind":         string(op.Kind),
				"error":        err.Error(),
			})
			continue
		}
		if q.fail(ctx, op, err) {
			stats.Failed++
		} else {
			stats.Retried++
		}
	}

	q.scheduleRetry()

	if stats.Processed > 0 || stats.Deferred > 0 {
		logging.Info("Queue drain completed", map[string]interface{}{
			"processed": stats.Processed,
			"succeeded": stats.Succeeded,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"deferred":  stats.Deferred,
			"remaining": q.Len(),
		})
		q.mu.Lock()
		fn := q.onDrained
		q.mu.Unlock()
		if fn != nil {
			fn(stats)
		}
	}
	return stats, true
}

func (q *OperationQueue) complete(ctx context.Context, op models.QueuedOperation) {
	q.mu.Lock()
	if i := q.indexOf(op.ID); i >= 0 {
		q.items = append(q.items[:i], q.items[i+1:]...)
	}
	q.mu.Unlock()

	if err := q.save(ctx); err != nil {
		logging.Warn("Failed to persist queue", map[string]interface{}{"error": err.Error()})
	}
	logging.Debug("Completed operation", map[string]interface{}{"operation_id": op.ID, "kind": string(op.Kind)})
}

// requeue returns op to pending at its position without counting an attempt.
func (q *OperationQueue) requeue(ctx context.Context, op models.QueuedOperation, cause error) {
	q.mu.Lock()
	if i := q.indexOf(op.ID); i >= 0 {
		q.items[i].Status = models.OperationPending
	}
	q.mu.Unlock()

	if err := q.save(ctx); err != nil {
		logging.Warn("Failed to persist queue", map[string]interface{}{"error": err.Error()})
	}
	logging.Debug("Deferred operation", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         string(op.Kind),
		"reason":       cause.Error(),
	})
}

// fail records a failed attempt and reports whether the operation was given up.
func (q *OperationQueue) fail(ctx context.Context, op models.QueuedOperation, cause error) bool {
	q.mu.Lock()
	i := q.indexOf(op.ID)
	if i < 0 {
		q.mu.Unlock()
		return false
	}
	item := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)

	item.RetryCount++
	item.LastError = cause.Error()

	exhausted := item.RetryCount >= q.cfg.MaxRetries
	if exhausted {
		item.Status = models.OperationFailed
	} else {
		item.Status = models.OperationPending
		item.NextAttemptAt = q.now().Add(time.Duration(item.RetryCount) * q.cfg.RetryDelay)
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	if exhausted {
		parked := models.ParkedWrite{
			ID:        item.ID,
			Kind:      item.Kind,
			Reason:    models.ParkReasonRetriesExhausted,
			Payload:   item.Payload,
			LastError: item.LastError,
			ParkedAt:  q.now(),
		}
		if err := q.persist.Park(ctx, parked, q.cfg.ParkedCap); err != nil {
			logging.Error("Failed to park operation", err, map[string]interface{}{"operation_id": item.ID})
		}
		logging.ErrorWithCode("Operation failed permanently", string(apperrors.ErrSyncFailed), cause,
			map[string]interface{}{
				"operation_id": item.ID,
				"kind":         string(item.Kind),
				"attempts":     item.RetryCount,
			})
	} else {
		logging.Warn("Operation failed, will retry", map[string]interface{}{
			"operation_id": item.ID,
			"kind":         string(item.Kind),
			"attempt":      item.RetryCount,
			"max_retries":  q.cfg.MaxRetries,
			"retry_at":     item.NextAttemptAt,
			"error":        cause.Error(),
		})
	}

	if err := q.save(ctx); err != nil {
		logging.Warn("Failed to persist queue", map[string]interface{}{"error": err.Error()})
	}
	return exhausted
}

// scheduleRetry arms a timer for the earliest cooling-off operation.
func (q *OperationQueue) scheduleRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Ready operations left behind by a closed gate wait for the next trigger.
	now := q.now()
	var earliest time.Time
	for _, op := range q.items {
		if op.Status != models.OperationPending || !op.NextAttemptAt.After(now) {
			continue
		}
		if earliest.IsZero() || op.NextAttemptAt.Before(earliest) {
			earliest = op.NextAttemptAt
		}
	}
	if earliest.IsZero() {
		return
	}

	wait := earliest.Sub(now)
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(wait, q.TriggerDrain)
}

func (q *OperationQueue) save(ctx context.Context) error {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	snapshot := make([]models.QueuedOperation, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	if err := q.persist.SaveQueue(ctx, snapshot); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "persist operation queue", err)
	}
	return nil
}

// Len returns the number of queued operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// List returns a copy of the queue in order.
func (q *OperationQueue) List() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedOperation, len(q.items))
	copy(out, q.items)
	return out
}

// Stats returns counts by status.
func (q *OperationQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":      len(q.items),
		"pending":    0,
		"processing": 0,
	}
	for _, op := range q.items {
		switch op.Status {
		case models.OperationPending:
			stats["pending"]++
		case models.OperationProcessing:
			stats["processing"]++
		}
	}
	return stats
}

// IsDraining reports whether a drain is running.
func (q *OperationQueue) IsDraining() bool {
	return q.draining.Load()
}
