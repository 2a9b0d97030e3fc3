// Package sync reconciles the local board with the shared remote document. The SyncEngine
// pulls the remote snapshot, merges it with last-writer-wins, and pushes the result back
// under optimistic concurrency, retrying when another device wrote first.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/slotboard/internal/config"
	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/netmon"
	"github.com/kimhsiao/slotboard/internal/remote"
	"github.com/kimhsiao/slotboard/internal/store"
	"github.com/kimhsiao/slotboard/internal/sync/conflict"
	"github.com/kimhsiao/slotboard/internal/sync/notify"
	"github.com/kimhsiao/slotboard/internal/sync/queue"
	"github.com/kimhsiao/slotboard/internal/uuid"
)

// CredentialStore is the single authoritative location of the remote credential.
// crypto.CredentialStore and remote.AmbientCredentials implement it.
type CredentialStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// NetworkMonitor reports network quality. netmon.Monitor implements it.
type NetworkMonitor interface {
	Probe(ctx context.Context) netmon.State
	Tier() netmon.Tier
}

// Options wires a SyncEngine.
type Options struct {
	Sync        config.SyncConfig
	Queue       config.QueueConfig
	Backend     string
	AppVersion  string
	State       *store.State
	Remote      remote.Store
	Credentials CredentialStore
	Network     NetworkMonitor
	// Bus is optional. When set, local overwrites are announced to other instances.
	Bus notify.Bus
}

// SyncEngine coordinates local state, the operation queue and the remote store.
type SyncEngine struct {
	cfg        config.SyncConfig
	queueCfg   config.QueueConfig
	backend    string
	appVersion string

	state    *store.State
	remote   remote.Store
	creds    CredentialStore
	net      NetworkMonitor
	bus      notify.Bus
	queue    *queue.OperationQueue
	resolver *conflict.Resolver

	deviceID string
	now      func() time.Time

	// mu serializes local state mutations. It is never held across network I/O.
	mu sync.Mutex
	// cycleMu serializes remote cycles between SyncNow and queue handlers.
	cycleMu sync.Mutex

	syncing    atomic.Bool
	enabled    atomic.Bool
	autoUpload atomic.Bool
	lastSync   atomic.Value

	statusMu sync.RWMutex
	st       statusState

	eventMu sync.RWMutex
	handler SyncEventHandler

	unsubscribe func()
}

// NewSyncEngine creates a SyncEngine. Call Start before use.
func NewSyncEngine(opts Options) (*SyncEngine, error) {
	if opts.State == nil || opts.Remote == nil || opts.Network == nil {
		return nil, apperrors.New(apperrors.ErrValidation, "state, remote and network are required")
	}
	if opts.Credentials == nil {
		opts.Credentials = remote.AmbientCredentials{}
	}
	if opts.Sync.MaxConflictRetries < 1 {
		opts.Sync.MaxConflictRetries = 3
	}
	if opts.Sync.ConflictBackoff < 0 {
		opts.Sync.ConflictBackoff = 0
	}

	e := &SyncEngine{
		cfg:        opts.Sync,
		queueCfg:   opts.Queue,
		backend:    opts.Backend,
		appVersion: opts.AppVersion,
		state:      opts.State,
		remote:     opts.Remote,
		creds:      opts.Credentials,
		net:        opts.Network,
		bus:        opts.Bus,
		resolver:   conflict.NewResolver(),
		now:        time.Now,
		st:         statusState{phase: PhaseIdle},
	}

	e.queue = queue.New(queue.Config{
		MaxRetries: opts.Queue.MaxRetries,
		RetryDelay: opts.Queue.RetryDelay,
		ParkedCap:  opts.Queue.ParkedCap,
	}, opts.State)
	e.queue.SetGate(e.canDrain)
	e.registerHandlers()

	return e, nil
}

// Start loads persisted state, runs the version upgrade hook, seeds the default admin and
// resumes the operation queue.
func (e *SyncEngine) Start(ctx context.Context) error {
	if e.appVersion != "" {
		if _, err := e.state.UpgradeAppVersion(ctx, e.appVersion); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "upgrade app version", err)
		}
	}

	bk, err := e.state.Bookkeeping(ctx, e.cfg.Enabled, e.cfg.AutoUpload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "load bookkeeping", err)
	}
	e.deviceID = bk.DeviceID
	e.enabled.Store(bk.SyncEnabled)
	e.autoUpload.Store(bk.AutoUploadEnabled)
	if !bk.LastSyncTimestamp.IsZero() {
		e.lastSync.Store(bk.LastSyncTimestamp)
	}

	if err := e.seedDefaultAdmin(ctx); err != nil {
		return err
	}

	if e.bus != nil {
		unsubscribe, err := e.bus.Subscribe(ctx, e.onBusEvent)
		if err != nil {
			logging.Warn("Notify bus unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			e.unsubscribe = unsubscribe
		}
	}

	e.queue.SetContext(ctx)
	if err := e.queue.Load(ctx); err != nil {
		return err
	}

	logging.Info("Sync engine started", map[string]interface{}{
		"device_id":   uuid.Short(e.deviceID),
		"backend":     e.backend,
		"enabled":     bk.SyncEnabled,
		"auto_upload": bk.AutoUploadEnabled,
		"pending_ops": e.queue.Len(),
	})

	e.queue.TriggerDrain()
	return nil
}

// Close stops background work.
func (e *SyncEngine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.queue.Close()
}

// DeviceID returns the per-install id.
func (e *SyncEngine) DeviceID() string {
	return e.deviceID
}

// Queue returns the operation queue.
func (e *SyncEngine) Queue() *queue.OperationQueue {
	return e.queue
}

// OnQueueDrained registers fn to run after every queue drain that processed operations.
func (e *SyncEngine) OnQueueDrained(fn func(queue.DrainStats)) {
	e.queue.OnDrained(fn)
}

func (e *SyncEngine) canDrain() bool {
	return e.enabled.Load() && e.net.Tier().AllowsSync()
}

// EnableSync turns synchronization on and resumes the queue.
func (e *SyncEngine) EnableSync(ctx context.Context) error {
	if err := e.state.SetSyncEnabled(ctx, true); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "enable sync", err)
	}
	e.enabled.Store(true)
	logging.Info("Sync enabled")
	e.queue.TriggerDrain()
	return nil
}

// DisableSync turns synchronization off. Queued operations are kept.
func (e *SyncEngine) DisableSync(ctx context.Context) error {
	if err := e.state.SetSyncEnabled(ctx, false); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "disable sync", err)
	}
	e.enabled.Store(false)
	logging.Info("Sync disabled")
	return nil
}

// IsEnabled reports whether sync is enabled.
func (e *SyncEngine) IsEnabled() bool {
	return e.enabled.Load()
}

// SetAutoUpload toggles uploading after a pull. Turning it on resumes deferred operations.
func (e *SyncEngine) SetAutoUpload(ctx context.Context, enabled bool) error {
	if err := e.state.SetAutoUpload(ctx, enabled); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "set auto upload", err)
	}
	e.autoUpload.Store(enabled)
	if enabled {
		e.queue.TriggerDrain()
	}
	return nil
}

// LastSyncTime returns the time of the last definitive success, or the zero time.
func (e *SyncEngine) LastSyncTime() time.Time {
	t, _ := e.lastSync.Load().(time.Time)
	return t
}

// ParkedWrites returns writes the engine gave up on, oldest first.
func (e *SyncEngine) ParkedWrites(ctx context.Context) ([]models.ParkedWrite, error) {
	return e.state.Parked(ctx)
}

// Enqueue adds an operation to the durable queue.
func (e *SyncEngine) Enqueue(ctx context.Context, kind models.OperationKind, payload interface{}, priority models.Priority) (string, error) {
	return e.queue.Enqueue(ctx, kind, payload, priority)
}

// SyncNow runs one full cycle: probe, pull, merge when the remote changed, then push.
// It returns a skipped result when sync is disabled, the network is below fair, or a
// cycle is already running.
func (e *SyncEngine) SyncNow(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: e.now()}

	// Claimed before any I/O.
	if !e.syncing.CompareAndSwap(false, true) {
		return e.skip(result, "sync already in progress", apperrors.ErrSyncSkipped)
	}
	defer e.syncing.Store(false)

	if !e.enabled.Load() {
		return e.skip(result, "sync disabled", apperrors.ErrSyncDisabled)
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	defer e.setPhase(PhaseIdle)

	e.setPhase(PhaseProbing)
	if st := e.net.Probe(ctx); !st.Tier.AllowsSync() {
		return e.skip(result, fmt.Sprintf("network %s", st.Tier), apperrors.ErrSyncSkipped)
	}

	// The network is usable, so operations queued while offline can go too.
	defer e.queue.TriggerDrain()

	e.emitEvent(SyncEvent{Type: SyncEventStarted})
	logging.Info("Sync started", map[string]interface{}{"device_id": uuid.Short(e.deviceID)})

	err := e.runCycle(ctx, cycleOptions{}, result)
	return e.finish(result, err)
}

func (e *SyncEngine) skip(result *SyncResult, reason string, code apperrors.ErrorCode) (*SyncResult, error) {
	result.Skipped = true
	result.SkipReason = reason
	result.EndTime = e.now()
	logging.Debug("Sync skipped", map[string]interface{}{"reason": reason})
	e.emitEvent(SyncEvent{Type: SyncEventSkipped, Message: reason})
	return result, apperrors.New(code, reason)
}

func (e *SyncEngine) finish(result *SyncResult, err error) (*SyncResult, error) {
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if err != nil {
		result.Error = err.Error()
		e.setLastError(err)
		logging.ErrorWithCode("Sync failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"conflict_retries": result.ConflictRetries,
		})
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: err.Error()})
		return result, err
	}

	e.setLastError(nil)
	logging.Info("Sync completed", map[string]interface{}{
		"merged":      result.Merged,
		"downloaded":  result.Downloaded,
		"uploaded":    result.Uploaded,
		"conflicts":   result.Conflicts,
		"duration_ms": result.Duration.Milliseconds(),
	})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Phase: PhaseSuccess})
	return result, nil
}

// cycleOptions adapts runCycle to queue handlers.
type cycleOptions struct {
	// forceMerge merges even when the remote token equals the last known one.
	forceMerge bool
	// pullOnly never uploads.
	pullOnly bool
	// mutate is re-applied after every merge so a local edit survives re-merges.
	mutate func(ctx context.Context) error
	// updatedBy overrides the uploader name recorded in the document.
	updatedBy string
	// op is the queued operation the cycle runs for, nil for SyncNow.
	op *models.QueuedOperation
}

func (e *SyncEngine) runCycle(ctx context.Context, opts cycleOptions, result *SyncResult) error {
	bk, err := e.state.Bookkeeping(ctx, e.cfg.Enabled, e.cfg.AutoUpload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "load bookkeeping", err)
	}

	e.setPhase(PhasePulling)
	fr, err := e.remote.FetchSnapshot(ctx)
	if err != nil {
		return e.remoteFailure(ctx, "fetch", err)
	}
	result.RemoteFound = fr.Found

	var conflictIDs []string
	if fr.Found {
		result.Token = fr.Snapshot.VersionToken
		if opts.forceMerge || fr.Snapshot.VersionToken == "" || fr.Snapshot.VersionToken != bk.LastKnownVersionToken {
			ids, err := e.pullMerge(ctx, fr.Snapshot, result)
			if err != nil {
				return err
			}
			conflictIDs = append(conflictIDs, ids...)
		}
	} else {
		logging.Info("Remote document not found, uploading local state")
	}

	if opts.mutate != nil {
		if err := opts.mutate(ctx); err != nil {
			return err
		}
	}

	upload, err := e.canUpload(ctx, opts)
	if err != nil {
		return err
	}
	if !upload {
		if opts.op != nil && !opts.pullOnly {
			// The credential went away after the operation started.
			return deferredError(*opts.op)
		}
		if fr.Found {
			return e.recordSuccess(ctx, result.Token)
		}
		return nil
	}

	token, err := e.push(ctx, fr, opts, result, conflictIDs)
	if err != nil {
		return err
	}
	result.Token = token
	return e.recordSuccess(ctx, token)
}

func (e *SyncEngine) canUpload(ctx context.Context, opts cycleOptions) (bool, error) {
	if opts.pullOnly || !e.autoUpload.Load() {
		return false, nil
	}
	_, ok, err := e.creds.Get(ctx)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCryptoFailed, "read credential", err)
	}
	return ok, nil
}

// pullMerge merges snap into local state and returns the ids of resolved conflicts.
func (e *SyncEngine) pullMerge(ctx context.Context, snap *models.RemoteSnapshot, result *SyncResult) ([]string, error) {
	e.setPhase(PhaseMerging)

	e.mu.Lock()
	local, err := e.state.Schedules(ctx)
	if err != nil {
		e.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "load schedules", err)
	}
	localAdmins, err := e.state.Admins(ctx)
	if err != nil {
		e.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}

	merged := e.resolver.Merge(local, snap.Schedules)
	admins := conflict.MergeAdmins(localAdmins, snap.Admins)

	if err := e.state.SaveSchedules(ctx, merged.Records); err != nil {
		e.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "save schedules", err)
	}
	if err := e.state.SaveAdmins(ctx, admins); err != nil {
		e.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "save admins", err)
	}
	e.mu.Unlock()

	if err := e.reapplyPending(ctx); err != nil {
		return nil, err
	}

	result.Merged = true
	result.Downloaded += len(snap.Schedules)
	result.Conflicts += len(merged.Conflicts)
	e.recordConflicts(merged.Conflicts)

	ids := merged.ConflictIDs()
	if len(ids) > 0 {
		e.emitEvent(SyncEvent{Type: SyncEventConflict, RecordIDs: ids})
	}
	e.localChanged(ctx, snap.VersionToken)
	return ids, nil
}

// push writes local state, refetching and re-merging on version conflicts.
func (e *SyncEngine) push(ctx context.Context, fr remote.FetchResult, opts cycleOptions, result *SyncResult, conflictIDs []string) (string, error) {
	expected, err := e.expectedToken(ctx, fr)
	if err != nil {
		return "", e.remoteFailure(ctx, "fetch token", err)
	}

	for attempt := 1; ; attempt++ {
		e.setPhase(PhasePushing)

		doc, err := e.buildUpload(ctx, opts.updatedBy)
		if err != nil {
			return "", err
		}

		token, err := e.remote.WriteSnapshot(ctx, doc, expected)
		if err == nil {
			result.Uploaded = len(doc.Schedules)
			e.clearManualResolution()
			e.publish(ctx, notify.EventSyncCompleted, token)
			return token, nil
		}
		if !remote.IsVersionConflict(err) {
			return "", e.remoteFailure(ctx, "write", err)
		}

		result.ConflictRetries++
		if attempt >= e.cfg.MaxConflictRetries {
			return "", e.parkConflict(ctx, opts, conflictIDs, err)
		}

		e.setPhase(PhaseConflictRetry)
		logging.Warn("Remote changed during upload, retrying", map[string]interface{}{
			"attempt":     attempt,
			"max_retries": e.cfg.MaxConflictRetries,
		})

		if err := sleepCtx(ctx, e.cfg.ConflictBackoff*time.Duration(attempt)); err != nil {
			return "", apperrors.Wrap(apperrors.ErrSyncTimeout, "conflict backoff", err)
		}

		e.setPhase(PhasePulling)
		fr, err = e.remote.FetchSnapshot(ctx)
		if err != nil {
			return "", e.remoteFailure(ctx, "refetch", err)
		}
		if fr.Found {
			ids, err := e.pullMerge(ctx, fr.Snapshot, result)
			if err != nil {
				return "", err
			}
			conflictIDs = appendUnique(conflictIDs, ids...)
		}
		if opts.mutate != nil {
			if err := opts.mutate(ctx); err != nil {
				return "", err
			}
		}
		if expected, err = e.expectedToken(ctx, fr); err != nil {
			return "", e.remoteFailure(ctx, "fetch token", err)
		}
	}
}

// expectedToken is the token a write must match: the fetched one, else a fresh lookup.
// An empty token means "create".
func (e *SyncEngine) expectedToken(ctx context.Context, fr remote.FetchResult) (string, error) {
	if !fr.Found {
		return "", nil
	}
	if fr.Snapshot.VersionToken != "" {
		return fr.Snapshot.VersionToken, nil
	}
	token, ok, err := e.remote.FetchVersionToken(ctx)
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

func (e *SyncEngine) buildUpload(ctx context.Context, updatedBy string) (*models.RemoteSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.state.Schedules(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "load schedules", err)
	}
	admins, err := e.state.Admins(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}
	if updatedBy == "" {
		updatedBy = uuid.Short(e.deviceID)
	}

	now := e.now().UTC()
	snap := &models.RemoteSnapshot{
		Schedules: records,
		Admins:    admins,
		LastSync:  now,
		Version:   e.appVersion,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}
	return snap.ForUpload(), nil
}

func (e *SyncEngine) recordSuccess(ctx context.Context, token string) error {
	now := e.now()
	if err := e.state.RecordSuccess(ctx, now, token); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "record sync success", err)
	}
	e.lastSync.Store(now)
	e.setPhase(PhaseSuccess)
	return nil
}

// remoteFailure classifies a remote error. An auth failure clears the credential and
// turns auto-upload off until the user reconfigures.
func (e *SyncEngine) remoteFailure(ctx context.Context, op string, err error) error {
	if !remote.IsAuth(err) {
		return err
	}

	if clearErr := e.creds.Clear(ctx); clearErr != nil {
		logging.Error("Failed to clear credential", clearErr)
	}
	if setErr := e.SetAutoUpload(ctx, false); setErr != nil {
		logging.Error("Failed to disable auto upload", setErr)
	}

	e.statusMu.Lock()
	e.st.needsReconfig = true
	e.statusMu.Unlock()

	e.emitEvent(SyncEvent{Type: SyncEventAuthRequired, Message: err.Error()})
	return apperrors.Wrap(apperrors.ErrSyncAuthFailed, fmt.Sprintf("%s rejected credential", op), err)
}

// parkConflict parks the write that lost every conflict retry. A queued operation is
// parked as itself and reported with queue.ErrParked so the queue drops it.
func (e *SyncEngine) parkConflict(ctx context.Context, opts cycleOptions, ids []string, cause error) error {
	parked := models.ParkedWrite{
		Reason:         models.ParkReasonConflictExhausted,
		ConflictingIDs: ids,
		LastError:      cause.Error(),
		ParkedAt:       e.now(),
	}
	if opts.op != nil {
		parked.ID = opts.op.ID
		parked.Kind = opts.op.Kind
		parked.Payload = opts.op.Payload
	} else {
		parked.ID = uuid.NewOperationID()
		parked.Kind = models.OperationUpload
		parked.Payload, _ = json.Marshal(models.UploadPayload{UpdatedBy: opts.updatedBy})
	}
	if err := e.state.Park(ctx, parked, e.queueCfg.ParkedCap); err != nil {
		logging.Error("Failed to park write", err)
	}

	e.statusMu.Lock()
	e.st.needsManual = true
	e.st.conflictingIDs = append([]string(nil), ids...)
	e.statusMu.Unlock()

	e.setPhase(PhaseParked)
	e.emitEvent(SyncEvent{Type: SyncEventParked, RecordIDs: ids, Message: cause.Error()})
	if opts.op != nil {
		cause = fmt.Errorf("%w: %w", queue.ErrParked, cause)
	}
	return apperrors.Wrap(apperrors.ErrSyncConflict,
		fmt.Sprintf("gave up after %d conflicting writes", e.cfg.MaxConflictRetries), cause)
}

func (e *SyncEngine) clearManualResolution() {
	e.statusMu.Lock()
	e.st.needsManual = false
	e.st.conflictingIDs = nil
	e.statusMu.Unlock()
}

func (e *SyncEngine) localChanged(ctx context.Context, token string) {
	e.emitEvent(SyncEvent{Type: SyncEventLocalChanged})
	e.publish(ctx, notify.EventLocalStateChanged, token)
}

func (e *SyncEngine) publish(ctx context.Context, t notify.EventType, token string) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(ctx, notify.Event{Type: t, DeviceID: e.deviceID, Token: token, At: e.now()})
	if err != nil {
		logging.Warn("Failed to publish notify event", map[string]interface{}{"type": string(t), "error": err.Error()})
	}
}

// onBusEvent relays changes made by other instances to the host.
func (e *SyncEngine) onBusEvent(ev notify.Event) {
	if ev.DeviceID == e.deviceID || ev.Type != notify.EventLocalStateChanged {
		return
	}
	e.emitEvent(SyncEvent{Type: SyncEventLocalChanged, Message: "changed by " + uuid.Short(ev.DeviceID)})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, d := range dst {
			if d == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
