package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/skobkin/meshola/internal/bridge"
	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/config"
	"github.com/skobkin/meshola/internal/logging"
	"github.com/skobkin/meshola/internal/meshcore"
	"github.com/skobkin/meshola/internal/notifications"
	"github.com/skobkin/meshola/internal/platform"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/radio"
	"github.com/skobkin/meshola/internal/store"
)

// Options tweak where Initialize looks for its configuration.
type Options struct {
	// ConfigPath overrides <user config dir>/meshola/config.json.
	ConfigPath string
}

// Runtime is the composition root wiring every long-lived component.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	Registry   *protocol.Registry
	Driver     radio.Driver
	Profiles   *profile.Manager
	Messages   *store.Store
	Service    *Service

	Notifications *NotificationService
	Bridge        *bridge.Bridge
	natsConn      *nats.Conn
	dataLock      platform.DataDirLock
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	configFile := strings.TrimSpace(opts.ConfigPath)
	if configFile == "" {
		root, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		configFile = filepath.Join(root, ConfigFilename)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(configFile, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	paths, err := ResolvePaths(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	paths.ConfigFile = configFile

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting meshola runtime",
		"version", BuildVersion(),
		"build_date", BuildDateYMD(),
		"release", IsReleaseBuild(),
		"data_dir", paths.DataDir,
		"radio", cfg.Radio.Driver,
		"target", ConnectionTarget(cfg.Radio),
	)

	lock, err := platform.LockDataDir(paths.DataDir)
	switch {
	case err == nil:
		rt.dataLock = lock
	case errors.Is(err, platform.ErrLockUnsupported):
		slog.Warn("data directory is not locked", "error", err)
	default:
		_ = rt.Close()

		return nil, err
	}

	rt.Bus = bus.New(logMgr.Logger("bus"), bus.DefaultCapacity)

	driver, err := NewRadioDriver(cfg.Radio, logMgr.Logger("radio"))
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize radio driver: %w", err)
	}
	rt.Driver = driver

	rt.Registry = protocol.NewRegistry()
	sharedDriver := func() radio.Driver { return driver }
	if err := meshcore.Register(rt.Registry, sharedDriver, meshcore.WithLogger(logMgr.Logger("meshcore"))); err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("register protocols: %w", err)
	}

	rt.Profiles = profile.NewManager(paths.DataDir, profile.WithLogger(logMgr.Logger("profile")))
	rt.Messages = store.New(paths.DataDir, logMgr.Logger("store"))
	rt.Service = NewService(
		ServiceConfig{
			DataDir:      paths.DataDir,
			LoopInterval: time.Duration(cfg.Radio.LoopIntervalMS) * time.Millisecond,
			Autostart:    cfg.Radio.Autostart,
		},
		rt.Profiles,
		rt.Messages,
		rt.Registry,
		rt.Bus,
		logMgr.Logger("service"),
	)

	if cfg.Notifications.Enabled {
		rt.Notifications = NewNotificationService(
			rt.Bus,
			rt.Service,
			rt.CurrentConfig,
			notifications.NewDesktopSender(Name, logMgr.Logger("notifications")),
			logMgr.Logger("app.notifications"),
		)
		rt.Notifications.Start(ctx)
	}

	if url := strings.TrimSpace(cfg.Bridge.NATSURL); url != "" {
		nc, err := bridge.Connect(url, ClientName(), logMgr.Logger("nats"))
		if err != nil {
			_ = rt.Close()

			return nil, err
		}
		rt.natsConn = nc
		rt.Bridge = bridge.New(rt.Bus, nc, cfg.Bridge.SubjectPrefix, logMgr.Logger("bridge"))
		rt.Bridge.Start(ctx)
	}

	if err := rt.Service.Start(ctx); err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("start service: %w", err)
	}

	return rt, nil
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	return r.Config
}

// Close tears components down in reverse start order.
func (r *Runtime) Close() error {
	var errs []error
	if r.Service != nil {
		if err := r.Service.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close service: %w", err))
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.natsConn != nil {
		r.natsConn.Close()
	}
	if r.Driver != nil {
		if err := r.Driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close radio: %w", err))
		}
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.dataLock != nil {
		if err := r.dataLock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release data dir: %w", err))
		}
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return errors.Join(errs...)
}
