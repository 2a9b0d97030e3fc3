package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kimhsiao/slotboard/internal/crypto"
	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/remote"
	"github.com/kimhsiao/slotboard/internal/sync/queue"
	"github.com/kimhsiao/slotboard/internal/uuid"
)

// DefaultAdminUsername is the admin seeded into an empty board.
const DefaultAdminUsername = "admin"

func (e *SyncEngine) registerHandlers() {
	e.queue.Handle(models.OperationUpload, e.handleUpload)
	e.queue.Handle(models.OperationForcedPull, e.handleForcedPull)
	e.queue.Handle(models.OperationDeleteRecord, e.handleMutation)
	e.queue.Handle(models.OperationDeleteAdmin, e.handleMutation)
	e.queue.Handle(models.OperationRenameOwner, e.handleMutation)
}

// runQueued runs a cycle for a queued operation. Queue handlers skip the probe; the queue
// gate already checked the network tier. An operation that must upload is deferred while
// there is no credential or auto-upload is off.
func (e *SyncEngine) runQueued(ctx context.Context, op models.QueuedOperation, opts cycleOptions) error {
	opts.op = &op
	if !opts.pullOnly {
		upload, err := e.canUpload(ctx, opts)
		if err != nil {
			return err
		}
		if !upload {
			return deferredError(op)
		}
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	defer e.setPhase(PhaseIdle)

	result := &SyncResult{StartTime: e.now()}
	err := e.runCycle(ctx, opts, result)
	if err != nil {
		if errors.Is(err, queue.ErrDeferred) {
			return err
		}
		e.setLastError(err)
		if apperrors.Is(err, apperrors.ErrSyncAuthFailed) {
			// The credential was cleared; wait for a new one.
			return fmt.Errorf("%w: %w", queue.ErrDeferred, err)
		}
		return err
	}

	logging.Debug("Queued operation synced", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         string(op.Kind),
		"uploaded":     result.Uploaded,
	})
	return nil
}

func deferredError(op models.QueuedOperation) error {
	return fmt.Errorf("%w: %s waits for a credential and auto-upload", queue.ErrDeferred, op.Kind)
}

func (e *SyncEngine) handleUpload(ctx context.Context, op models.QueuedOperation) error {
	var p models.UploadPayload
	if len(op.Payload) > 0 {
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "decode upload payload", err)
		}
	}
	return e.runQueued(ctx, op, cycleOptions{updatedBy: p.UpdatedBy})
}

func (e *SyncEngine) handleForcedPull(ctx context.Context, op models.QueuedOperation) error {
	return e.runQueued(ctx, op, cycleOptions{forceMerge: true, pullOnly: true})
}

// handleMutation propagates a queued local edit. The edit is re-applied after every merge.
func (e *SyncEngine) handleMutation(ctx context.Context, op models.QueuedOperation) error {
	mutate, err := e.mutationFor(op)
	if err != nil {
		return err
	}
	return e.runQueued(ctx, op, cycleOptions{forceMerge: true, mutate: mutate})
}

// mutationFor returns the local edit carried by op, or nil for kinds that carry none.
func (e *SyncEngine) mutationFor(op models.QueuedOperation) (func(context.Context) error, error) {
	switch op.Kind {
	case models.OperationDeleteRecord:
		var p models.DeleteRecordPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "decode delete payload", err)
		}
		return func(ctx context.Context) error {
			_, err := e.removeRecord(ctx, p.RecordID)
			return err
		}, nil
	case models.OperationDeleteAdmin:
		var p models.DeleteAdminPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "decode delete admin payload", err)
		}
		return func(ctx context.Context) error {
			_, err := e.removeAdmin(ctx, p.Username)
			return err
		}, nil
	case models.OperationRenameOwner:
		var p models.RenameOwnerPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "decode rename payload", err)
		}
		return func(ctx context.Context) error {
			_, err := e.renameOwner(ctx, p.OwnerID, p.NewName)
			return err
		}, nil
	}
	return nil, nil
}

// reapplyPending re-applies the edits of queued operations so a merge cannot bring back
// what they removed before they reach the remote.
func (e *SyncEngine) reapplyPending(ctx context.Context) error {
	for _, op := range e.queue.List() {
		mutate, err := e.mutationFor(op)
		if err != nil {
			logging.Warn("Skipping undecodable queued operation", map[string]interface{}{
				"operation_id": op.ID,
				"error":        err.Error(),
			})
			continue
		}
		if mutate == nil {
			continue
		}
		if err := mutate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Records returns the local schedule records.
func (e *SyncEngine) Records(ctx context.Context) ([]models.ScheduleRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Schedules(ctx)
}

// Admins returns the local admin profiles.
func (e *SyncEngine) Admins(ctx context.Context) ([]models.AdminProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Admins(ctx)
}

// AddRecord validates and stores rec, then queues an upload. An empty ID is generated.
// A record with an existing ID replaces it and gets a fresh UpdatedAt.
func (e *SyncEngine) AddRecord(ctx context.Context, rec models.ScheduleRecord) (models.ScheduleRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if err := rec.Validate(); err != nil {
		return rec, apperrors.Wrap(apperrors.ErrValidation, "invalid record", err)
	}

	now := e.now().UTC()
	e.mu.Lock()
	records, err := e.state.Schedules(ctx)
	if err != nil {
		e.mu.Unlock()
		return rec, apperrors.Wrap(apperrors.ErrStorage, "load schedules", err)
	}

	replaced := false
	for i := range records {
		if records[i].ID == rec.ID {
			rec.CreatedAt = records[i].CreatedAt
			rec.Touch(now)
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		records = append(records, rec)
	}

	if err := e.state.SaveSchedules(ctx, records); err != nil {
		e.mu.Unlock()
		return rec, apperrors.Wrap(apperrors.ErrStorage, "save schedules", err)
	}
	e.mu.Unlock()
	e.localChanged(ctx, "")

	if _, err := e.queue.Enqueue(ctx, models.OperationUpload, models.UploadPayload{UpdatedBy: rec.OwnerName}, models.PriorityNormal); err != nil {
		return rec, err
	}
	return rec, nil
}

// DeleteRecord removes a record locally and queues the remote deletion.
func (e *SyncEngine) DeleteRecord(ctx context.Context, id string) error {
	found, err := e.removeRecord(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}
	e.localChanged(ctx, "")
	_, err = e.queue.Enqueue(ctx, models.OperationDeleteRecord, models.DeleteRecordPayload{RecordID: id}, models.PriorityHigh)
	return err
}

// RenameOwner changes the owner display name on every record of ownerID and queues the
// propagation.
func (e *SyncEngine) RenameOwner(ctx context.Context, ownerID, newName string) error {
	if ownerID == "" || newName == "" {
		return apperrors.New(apperrors.ErrValidation, "owner id and name are required")
	}
	changed, err := e.renameOwner(ctx, ownerID, newName)
	if err != nil {
		return err
	}
	if changed > 0 {
		e.localChanged(ctx, "")
	}
	_, err = e.queue.Enqueue(ctx, models.OperationRenameOwner,
		models.RenameOwnerPayload{OwnerID: ownerID, NewName: newName}, models.PriorityNormal)
	return err
}

// DeleteAdmin removes an admin locally and queues the remote deletion.
func (e *SyncEngine) DeleteAdmin(ctx context.Context, username string) error {
	found, err := e.removeAdmin(ctx, username)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("admin %s not found", username))
	}
	e.localChanged(ctx, "")
	_, err = e.queue.Enqueue(ctx, models.OperationDeleteAdmin, models.DeleteAdminPayload{Username: username}, models.PriorityHigh)
	return err
}

func (e *SyncEngine) removeRecord(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.state.Schedules(ctx)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "load schedules", err)
	}
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return false, nil
	}
	if err := e.state.SaveSchedules(ctx, kept); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "save schedules", err)
	}
	return true, nil
}

func (e *SyncEngine) removeAdmin(ctx context.Context, username string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	admins, err := e.state.Admins(ctx)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}
	kept := admins[:0]
	for _, a := range admins {
		if a.Username != username {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(admins) {
		return false, nil
	}
	if err := e.state.SaveAdmins(ctx, kept); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "save admins", err)
	}
	return true, nil
}

func (e *SyncEngine) renameOwner(ctx context.Context, ownerID, newName string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.state.Schedules(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "load schedules", err)
	}

	now := e.now().UTC()
	changed := 0
	for i := range records {
		if records[i].OwnerID == ownerID && records[i].OwnerName != newName {
			records[i].OwnerName = newName
			records[i].Touch(now)
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := e.state.SaveSchedules(ctx, records); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "save schedules", err)
	}
	return changed, nil
}

func (e *SyncEngine) seedDefaultAdmin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	admins, err := e.state.Admins(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}
	if len(admins) > 0 {
		return nil
	}

	name := e.cfg.DefaultAdminName
	if name == "" {
		name = "System Administrator"
	}
	admin := models.AdminProfile{
		Username:         DefaultAdminUsername,
		DisplayName:      name,
		CredentialSecret: models.PlaceholderSecret,
		NeedsSecretReset: true,
		CreatedAt:        e.now().UTC(),
	}
	if err := e.state.SaveAdmins(ctx, []models.AdminProfile{admin}); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "seed default admin", err)
	}
	logging.Info("Seeded default admin", map[string]interface{}{"username": DefaultAdminUsername})
	return nil
}

// SetAdminSecret hashes secret and stores it on the admin, clearing any reset flag.
// Secrets never leave the device.
func (e *SyncEngine) SetAdminSecret(ctx context.Context, username, secret string) error {
	hash, err := crypto.HashSecret(secret)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "hash secret", err)
	}

	if err := e.storeAdminSecret(ctx, username, hash); err != nil {
		return err
	}
	e.localChanged(ctx, "")
	return nil
}

func (e *SyncEngine) storeAdminSecret(ctx context.Context, username, hash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	admins, err := e.state.Admins(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}
	for i := range admins {
		if admins[i].Username == username {
			admins[i].CredentialSecret = hash
			admins[i].NeedsSecretReset = false
			if err := e.state.SaveAdmins(ctx, admins); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "save admins", err)
			}
			return nil
		}
	}
	return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("admin %s not found", username))
}

// VerifyAdmin reports whether secret matches the admin's stored secret.
func (e *SyncEngine) VerifyAdmin(ctx context.Context, username, secret string) (bool, error) {
	admins, err := e.Admins(ctx)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "load admins", err)
	}
	for _, a := range admins {
		if a.Username == username {
			return a.HasUsableSecret() && crypto.VerifySecret(a.CredentialSecret, secret), nil
		}
	}
	return false, nil
}

// TestCredential checks token format and, when the backend supports it, that the remote
// accepts it. Nothing is stored.
func (e *SyncEngine) TestCredential(ctx context.Context, token string) error {
	if err := crypto.ValidateToken(e.backend, token); err != nil {
		return err
	}
	tester, ok := e.remote.(remote.CredentialTester)
	if !ok {
		return nil
	}
	if err := tester.TestCredential(ctx, token); err != nil {
		if remote.IsAuth(err) {
			return apperrors.Wrap(apperrors.ErrSyncAuthFailed, "credential rejected", err)
		}
		return err
	}
	return nil
}

// SetCredential tests and stores token, then turns auto-upload on.
func (e *SyncEngine) SetCredential(ctx context.Context, token string) error {
	if err := e.TestCredential(ctx, token); err != nil {
		return err
	}
	if err := e.creds.Set(ctx, token); err != nil {
		return apperrors.Wrap(apperrors.ErrCryptoFailed, "store credential", err)
	}

	e.statusMu.Lock()
	e.st.needsReconfig = false
	e.statusMu.Unlock()

	logging.Info("Sync credential updated", map[string]interface{}{"backend": e.backend})
	return e.SetAutoUpload(ctx, true)
}

// ClearCredential removes the stored credential and turns auto-upload off.
func (e *SyncEngine) ClearCredential(ctx context.Context) error {
	if err := e.creds.Clear(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrCryptoFailed, "clear credential", err)
	}
	logging.Info("Sync credential cleared")
	return e.SetAutoUpload(ctx, false)
}
