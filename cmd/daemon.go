package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/slotpost/slotpost/cmd/common"
	"github.com/slotpost/slotpost/internal/config"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/daemon"
	"github.com/slotpost/slotpost/internal/hooks"
	"github.com/slotpost/slotpost/internal/imaging"
	"github.com/slotpost/slotpost/internal/keepalive"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/scheduler"
	"github.com/slotpost/slotpost/internal/server"
	"github.com/slotpost/slotpost/internal/session"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"golang.org/x/net/publicsuffix"
)

// DaemonComponents holds everything the daemon wires together so that it
// can be released in reverse order.
type DaemonComponents struct {
	Config    *config.Config
	Scheduler *scheduler.PostScheduler
	Ledger    *ledger.Ledger
	Syncer    *remotesync.Syncer
	Server    *server.Server
	Log       logger.Logger
}

// Close releases resources in reverse order of initialization.
func (c *DaemonComponents) Close() error {
	var errs *multierror.Error
	if c.Scheduler != nil {
		c.Scheduler.Shutdown()
	}
	if c.Syncer != nil {
		if err := c.Syncer.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close remote: %w", err))
		}
	}
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

func runDaemon(ctx *cli.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "load_config", err)
		return nil
	}
	l, err := newDaemonLogger(cfg)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "logger", err)
		return nil
	}
	defer l.Close()
	if cfg.Source != "" {
		l.Info("config: loaded %s", cfg.Source)
	}
	if cfg.RPCSecret == "" {
		l.Warning("config: no rpc secret set, every admin call will be rejected")
	}

	comps, err := initDaemonComponents(cfg, afero.NewOsFs(), l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "init", err)
		return nil
	}

	runner := daemonRunner(cfg, comps)
	sigCtx, cancel := setupShutdownHandler()
	defer cancel()

	// Start gets its own context so that a signal goes through Shutdown,
	// which stops the scheduler before the HTTP server.
	startCtx, stopStart := context.WithCancel(context.Background())
	defer stopStart()
	startErr := make(chan error, 1)
	go func() { startErr <- runner.Start(startCtx) }()

	select {
	case err := <-startErr:
		_ = comps.Close()
		if err != nil {
			common.PrintRuntimeErr(ctx, "daemon", "start", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	err = runner.Shutdown()
	stopStart()
	<-startErr
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		_ = comps.Close()
	case err != nil:
		common.PrintRuntimeErr(ctx, "daemon", "shutdown", err)
	}
	l.Info("daemon: stopped")
	return nil
}

func daemonRunner(cfg *config.Config, comps *DaemonComponents) *daemon.Runner {
	return daemon.New(&daemon.Config{
		Host: cfg.APIHost,
		Port: cfg.APIPort,
	}, &daemon.Dependencies{
		Server:       comps.Server,
		OnStart:      comps.Scheduler.Restore,
		ShutdownFunc: comps.Close,
		Log:          comps.Log,
	})
}

func newDaemonLogger(cfg *config.Config) (logger.Logger, error) {
	flags := log.LstdFlags
	if cfg.Debug {
		flags |= log.Lmicroseconds
	}
	console := logger.NewStandardLogger(log.New(os.Stderr, "", flags))
	if !cfg.LogFile {
		return console, nil
	}
	file, err := logger.NewFileLogger(cfg.LogPath())
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(console, file), nil
}

// initDaemonComponents builds the scheduler and its collaborators. On error,
// anything already opened is closed before returning.
var initDaemonComponents = func(cfg *config.Config, fsys afero.Fs, l logger.Logger) (*DaemonComponents, error) {
	lib, err := content.NewLibrary(fsys, cfg.ContentPath, l)
	if err != nil {
		return nil, fmt.Errorf("content library: %w", err)
	}
	store, err := state.NewStore(fsys, state.Options{
		StatePath:    cfg.StatePath(),
		HistoryPath:  cfg.HistoryPath(),
		DefaultTimes: cfg.PostTimes,
		Location:     cfg.Location(),
		Log:          l,
	})
	if err != nil {
		return nil, err
	}
	slotMgr, err := slots.New(cfg.PostTimes, cfg.Location())
	if err != nil {
		return nil, err
	}
	pub, err := newPublisher(cfg, fsys, l)
	if err != nil {
		return nil, err
	}

	comps := &DaemonComponents{Config: cfg, Log: l}
	opts := scheduler.Options{
		Queue:         queue.New(lib),
		Slots:         slotMgr,
		Store:         store,
		Classifier:    content.NewClassifier(fsys, l),
		Library:       lib,
		Normalizer:    imaging.NewJPEGNormalizer(fsys, cfg.NormalizeDir(), l),
		Publisher:     pub,
		Pinger:        keepalive.New(cfg.KeepAliveURL, nil, l),
		Log:           l,
		SyncCron:      cfg.SyncCron,
		KeepAliveCron: cfg.KeepAliveCron,
	}

	if cfg.Remote.URL != "" {
		backend, err := remotesync.Open(cfg.Remote.URL, remoteOptions(cfg, l))
		if err != nil {
			return nil, fmt.Errorf("remote store: %w", err)
		}
		comps.Syncer = remotesync.NewSyncer(backend, lib, l)
		opts.Syncer = comps.Syncer
	}

	if cfg.CaptionHook != "" {
		hook, err := hooks.Load(fsys, cfg.CaptionHook, l)
		if err != nil {
			_ = comps.Close()
			return nil, err
		}
		opts.Hook = hook
	}

	led, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		l.Warning("ledger: %v, publish attempts will not be recorded", err)
	} else {
		comps.Ledger = led
		opts.Ledger = led
	}

	notifier := server.NewRPCNotifier(l)
	opts.Notifier = notifier

	sched, err := scheduler.New(opts)
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	comps.Scheduler = sched

	var reader server.LedgerReader
	if comps.Ledger != nil {
		reader = comps.Ledger
	}
	comps.Server = server.NewServer(l, &server.RPCConfig{
		Secret:    cfg.RPCSecret,
		Version:   currentBuildArgs.Version,
		Commit:    currentBuildArgs.Commit,
		BuildType: currentBuildArgs.BuildType,
	}, sched, reader, notifier)
	return comps, nil
}

// newPublisher returns the relay publisher wrapped with auth retry and
// pacing, or the dry-run publisher when no relay is configured.
func newPublisher(cfg *config.Config, fsys afero.Fs, l logger.Logger) (publish.Publisher, error) {
	if cfg.Publish.URL == "" {
		l.Warning("publish: no relay configured, running in dry-run mode")
		return publish.NewDryRunPublisher(l), nil
	}
	user := cfg.Publish.Username
	if user == "" {
		user = "default"
	}
	sessions := session.NewKeyringStore(user, session.NewFileStore(fsys, cfg.SessionPath()), l)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	relay, err := publish.NewRelayPublisher(publish.RelayConfig{
		BaseURL:   cfg.Publish.URL,
		Username:  cfg.Publish.Username,
		Password:  cfg.Publish.Password,
		SessionID: cfg.Publish.SessionID,
		Sessions:  sessions,
		Client:    &http.Client{Timeout: 2 * time.Minute, Jar: jar},
		Fs:        fsys,
		UserAgent: "slotpost/" + currentBuildArgs.Version,
		Log:       l,
	})
	if err != nil {
		return nil, err
	}
	return publish.NewPaced(publish.WithTransientRetry(publish.WithAuthRetry(relay), publish.DefaultBackoff())), nil
}
