// Package app wires configuration, storage, the remote backend and the sync engine into
// one runnable unit shared by the host binaries.
package app

import (
	"context"
	"fmt"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/crypto"
	"github.com/kimhsiao/slotboard/internal/db"
	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/netmon"
	"github.com/kimhsiao/slotboard/internal/remote"
	"github.com/kimhsiao/slotboard/internal/remote/s3store"
	"github.com/kimhsiao/slotboard/internal/store"
	syncpkg "github.com/kimhsiao/slotboard/internal/sync"
	"github.com/kimhsiao/slotboard/internal/sync/notify"
	"github.com/kimhsiao/slotboard/internal/sync/scheduler"
)

// App owns every long-lived component.
type App struct {
	Config    *config.Config
	State     *store.State
	Engine    *syncpkg.SyncEngine
	Scheduler *scheduler.Scheduler
	Monitor   *netmon.Monitor
	Bus       notify.Bus

	db     *db.DB
	kv     *db.KVRepository
	cancel context.CancelFunc
}

// New opens local storage and builds the engine. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	database, err := db.Open(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	kv := db.NewKVRepository(database.DB, cfg.Data.Compress)
	state := store.NewState(kv)

	a := &App{Config: cfg, State: state, db: database, kv: kv}

	deviceID, err := state.DeviceID(ctx)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("load device id: %w", err)
	}

	rs, creds, err := NewRemote(ctx, cfg, kv, deviceID)
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	bus, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		// Cross-instance notifications are optional.
		logging.Warn("Notify bus unavailable, using in-process bus", map[string]interface{}{"error": err.Error()})
		bus = notify.NewLocalBus()
	}
	a.Bus = bus

	a.Monitor = netmon.New(cfg.Netmon, nil)

	engine, err := syncpkg.NewSyncEngine(syncpkg.Options{
		Sync:        cfg.Sync,
		Queue:       cfg.Queue,
		Backend:     cfg.Remote.Backend,
		AppVersion:  version,
		State:       state,
		Remote:      rs,
		Credentials: creds,
		Network:     a.Monitor,
		Bus:         bus,
	})
	if err != nil {
		_ = bus.Close()
		a.closeStorage()
		return nil, err
	}
	a.Engine = engine
	a.Scheduler = scheduler.NewScheduler(engine, a.Monitor, &scheduler.SchedulerConfig{
		SyncInterval: cfg.Sync.Interval,
	})

	return a, nil
}

// NewRemote builds the remote store selected by cfg.Remote.Backend together with the
// credential store it authenticates with.
func NewRemote(ctx context.Context, cfg *config.Config, kv store.KV, deviceID string) (remote.Store, syncpkg.CredentialStore, error) {
	switch cfg.Remote.Backend {
	case config.BackendGitHub:
		creds := crypto.NewCredentialStore(kv, deviceID, cfg.Remote.Backend)
		gh := remote.NewGitHubStore(cfg.Remote.GitHub, creds, nil, cfg.Remote.Timeout, cfg.Remote.RequestsPerSecond)
		return gh, creds, nil
	case config.BackendS3:
		s3, err := s3store.New(ctx, cfg.Remote.S3, cfg.Remote.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 store: %w", err)
		}
		return s3, remote.AmbientCredentials{}, nil
	case config.BackendFile:
		return remote.NewFileStore(cfg.Remote.File.Dir), remote.AmbientCredentials{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend: %s", cfg.Remote.Backend)
	}
}

// Start resumes the engine, the scheduler and network monitoring. The scheduler
// subscribes before the first probe so that coming online triggers a sync.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Engine.Start(runCtx); err != nil {
		cancel()
		return err
	}
	a.Scheduler.Start(runCtx)
	go a.Monitor.Run(runCtx)

	logging.Info("Slotboard started", map[string]interface{}{
		"backend":   a.Config.Remote.Backend,
		"data_dir":  a.Config.Data.Dir,
		"device_id": a.Engine.DeviceID(),
	})
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	return a.closeStorage()
}

func (a *App) closeStorage() error {
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
