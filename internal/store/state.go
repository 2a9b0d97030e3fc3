package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/uuid"
)

// Keys under which local state is persisted.
const (
	KeySchedules      = "schedules"
	KeyAdmins         = "admin_users"
	KeyLastSyncTime   = "last_sync_time"
	KeyLastKnownToken = "last_known_version"
	KeyCredential     = "sync_credential"
	KeyAutoUpload     = "auto_upload_enabled"
	KeySyncEnabled    = "sync_enabled"
	KeyDeviceID       = "device_id"
	KeyQueue          = "operation_queue"
	KeyParked         = "parked_writes"
	KeyAppVersion     = "app_version"
)

// StaleKeys are transient diagnostics removed when the application version changes.
var StaleKeys = []string{
	"credential_error",
	"credential_try_count",
	"credential_save_error",
	"last_credential_error",
}

// State is typed access to the persisted local state.
type State struct {
	kv KV

	// parkMu serializes the read-modify-write of the parked list.
	parkMu sync.Mutex
}

// NewState wraps kv.
func NewState(kv KV) *State {
	return &State{kv: kv}
}

// KV returns the underlying store.
func (s *State) KV() KV {
	return s.kv
}

func (s *State) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *State) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, data)
}

// Schedules returns the local schedule records.
func (s *State) Schedules(ctx context.Context) ([]models.ScheduleRecord, error) {
	var out []models.ScheduleRecord
	_, err := s.getJSON(ctx, KeySchedules, &out)
	return out, err
}

// SaveSchedules replaces the local schedule records.
func (s *State) SaveSchedules(ctx context.Context, records []models.ScheduleRecord) error {
	if records == nil {
		records = []models.ScheduleRecord{}
	}
	return s.setJSON(ctx, KeySchedules, records)
}

// Admins returns the local admin profiles, including secrets.
func (s *State) Admins(ctx context.Context) ([]models.AdminProfile, error) {
	var out []models.AdminProfile
	_, err := s.getJSON(ctx, KeyAdmins, &out)
	return out, err
}

// SaveAdmins replaces the local admin profiles.
func (s *State) SaveAdmins(ctx context.Context, admins []models.AdminProfile) error {
	if admins == nil {
		admins = []models.AdminProfile{}
	}
	return s.setJSON(ctx, KeyAdmins, admins)
}

// Bookkeeping loads the sync bookkeeping, creating the device id on first use.
// Sync and auto-upload default to defaultEnabled and defaultAutoUpload when never set.
func (s *State) Bookkeeping(ctx context.Context, defaultEnabled, defaultAutoUpload bool) (models.SyncBookkeeping, error) {
	var bk models.SyncBookkeeping

	var millis int64
	ok, err := s.getJSON(ctx, KeyLastSyncTime, &millis)
	if err != nil {
		return bk, err
	}
	if ok && millis > 0 {
		bk.LastSyncTimestamp = time.UnixMilli(millis).UTC()
	}

	if _, err := s.getJSON(ctx, KeyLastKnownToken, &bk.LastKnownVersionToken); err != nil {
		return bk, err
	}

	bk.SyncEnabled = defaultEnabled
	if _, err := s.getJSON(ctx, KeySyncEnabled, &bk.SyncEnabled); err != nil {
		return bk, err
	}
	bk.AutoUploadEnabled = defaultAutoUpload
	if _, err := s.getJSON(ctx, KeyAutoUpload, &bk.AutoUploadEnabled); err != nil {
		return bk, err
	}

	id, err := s.DeviceID(ctx)
	if err != nil {
		return bk, err
	}
	bk.DeviceID = id
	return bk, nil
}

// RecordSuccess stores the bookkeeping of a definitive sync success.
func (s *State) RecordSuccess(ctx context.Context, at time.Time, token string) error {
	if err := s.setJSON(ctx, KeyLastSyncTime, at.UnixMilli()); err != nil {
		return err
	}
	return s.setJSON(ctx, KeyLastKnownToken, token)
}

// SetSyncEnabled persists the sync-enabled flag.
func (s *State) SetSyncEnabled(ctx context.Context, enabled bool) error {
	return s.setJSON(ctx, KeySyncEnabled, enabled)
}

// SetAutoUpload persists the auto-upload flag.
func (s *State) SetAutoUpload(ctx context.Context, enabled bool) error {
	return s.setJSON(ctx, KeyAutoUpload, enabled)
}

// DeviceID returns the stable per-install id, generating it on first use.
func (s *State) DeviceID(ctx context.Context) (string, error) {
	var id string
	ok, err := s.getJSON(ctx, KeyDeviceID, &id)
	if err != nil {
		return "", err
	}
	if ok && uuid.IsDeviceID(id) {
		return id, nil
	}
	id = uuid.NewDeviceID()
	if err := s.setJSON(ctx, KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Queue returns the persisted operation queue in order.
func (s *State) Queue(ctx context.Context) ([]models.QueuedOperation, error) {
	var out []models.QueuedOperation
	_, err := s.getJSON(ctx, KeyQueue, &out)
	return out, err
}

// SaveQueue persists the operation queue.
func (s *State) SaveQueue(ctx context.Context, ops []models.QueuedOperation) error {
	if ops == nil {
		ops = []models.QueuedOperation{}
	}
	return s.setJSON(ctx, KeyQueue, ops)
}

// Parked returns the parked writes, oldest first.
func (s *State) Parked(ctx context.Context) ([]models.ParkedWrite, error) {
	var out []models.ParkedWrite
	_, err := s.getJSON(ctx, KeyParked, &out)
	return out, err
}

// Park appends w to the parked writes, evicting the oldest entries beyond limit.
func (s *State) Park(ctx context.Context, w models.ParkedWrite, limit int) error {
	s.parkMu.Lock()
	defer s.parkMu.Unlock()

	parked, err := s.Parked(ctx)
	if err != nil {
		return err
	}
	parked = append(parked, w)
	if limit > 0 && len(parked) > limit {
		parked = parked[len(parked)-limit:]
	}
	return s.setJSON(ctx, KeyParked, parked)
}

// UpgradeAppVersion records version as the current application version. When it differs
// from the stored one, stale diagnostic keys are removed first. It reports whether an
// upgrade happened.
func (s *State) UpgradeAppVersion(ctx context.Context, version string) (bool, error) {
	var previous string
	if _, err := s.getJSON(ctx, KeyAppVersion, &previous); err != nil {
		return false, err
	}
	if previous == version {
		return false, nil
	}

	for _, key := range StaleKeys {
		if err := s.kv.Delete(ctx, key); err != nil {
			return false, err
		}
	}
	if err := s.setJSON(ctx, KeyAppVersion, version); err != nil {
		return false, err
	}

	logging.Info("Application version changed", map[string]interface{}{
		"from": previous,
		"to":   version,
	})
	return true, nil
}
