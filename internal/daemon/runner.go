// Package daemon runs the slotpost service: it binds the admin listener,
// serves the HTTP surface, restores the scheduler and shuts everything down
// in order.
package daemon

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/pkg/logger"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultShutdownTimeout bounds Shutdown when the config leaves it unset.
const DefaultShutdownTimeout = 30 * time.Second

// Config holds the configuration for the daemon runner.
type Config struct {
	// Host and Port form the admin listen address. Port 0 picks an
	// ephemeral port.
	Host string
	Port int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server is the HTTP surface driven by the runner.
type Server interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// Dependencies holds the external dependencies for the daemon runner.
type Dependencies struct {
	// ListenerFactory creates network listeners.
	// If nil, net.Listen is used.
	ListenerFactory func(network, address string) (net.Listener, error)

	// Server is served on the listener. May be nil in tests.
	Server Server

	// OnStart runs once the listener is bound, typically restoring the
	// scheduler from persisted state. An error aborts Start.
	OnStart func() error

	// ShutdownFunc stops the scheduler and releases resources. It runs
	// before the HTTP server is shut down.
	ShutdownFunc func() error

	Log logger.Logger
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config   *Config
	deps     *Dependencies
	log      logger.Logger
	running  bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	listener net.Listener
	serveErr chan error
}

// New creates a new daemon runner with the given configuration and dependencies.
// If config is nil, default values are used.
func New(config *Config, deps *Dependencies) *Runner {
	cfg := applyConfigDefaults(config)
	d := applyDependencyDefaults(deps)

	return &Runner{
		config: cfg,
		deps:   d,
		log:    logger.OrNop(d.Log),
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{Host: common.DefaultAPIHost, Port: common.DefaultAPIPort}
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	return config
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	return deps
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Addr returns the bound listen address, or nil before Start.
func (r *Runner) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Start binds the listener, starts serving, runs OnStart and blocks until
// the context is canceled or the server fails.
// Returns ErrAlreadyRunning if the daemon is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, r.cancel = context.WithCancel(ctx)

	// Create listener BEFORE setting running=true to avoid race condition
	listener, err := r.deps.ListenerFactory("tcp", formatListenAddress(r.config.Host, r.config.Port))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.listener = listener
	r.serveErr = make(chan error, 1)
	r.running = true
	r.mu.Unlock()

	if r.deps.Server != nil {
		go func() { r.serveErr <- r.deps.Server.Serve(listener) }()
	}
	r.log.Info("daemon: listening on %s", listener.Addr())

	if r.deps.OnStart != nil {
		if err := r.deps.OnStart(); err != nil {
			r.stopServer()
			r.cleanupOnStop()
			return err
		}
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-r.serveErr:
		if err == nil {
			err = ctx.Err()
		}
	}
	r.cleanupOnStop()
	return err
}

// formatListenAddress returns the address string for the given host and port.
// Port 0 results in an ephemeral port assignment.
func formatListenAddress(host string, port int) string {
	if port < 0 {
		port = 0
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (r *Runner) cleanupOnStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	r.closeListener()
}

// closeListener closes the listener if it exists.
// Caller must hold the mutex.
func (r *Runner) closeListener() {
	if r.listener != nil {
		_ = r.listener.Close()
		r.listener = nil
	}
}

// Shutdown stops the scheduler through ShutdownFunc, then shuts down the
// HTTP server. An error from ShutdownFunc is returned after the server
// is down.
// Returns ErrNotRunning if the daemon is not running.
// Returns ErrShutdownTimeout if the shutdown function exceeds the timeout.
func (r *Runner) Shutdown() error {
	if err := r.validateRunning(); err != nil {
		return err
	}
	r.log.Info("daemon: shutting down")

	err := r.executeShutdownFunc()
	if errors.Is(err, ErrShutdownTimeout) {
		return err
	}
	r.stopServer()
	r.performShutdown()
	return err
}

func (r *Runner) validateRunning() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrNotRunning
	}
	return nil
}

func (r *Runner) executeShutdownFunc() error {
	if r.deps.ShutdownFunc == nil {
		return nil
	}
	return r.executeWithTimeout(r.deps.ShutdownFunc, r.config.ShutdownTimeout)
}

// executeWithTimeout runs fn and returns its error, or ErrShutdownTimeout
// after forcing the runner down.
func (r *Runner) executeWithTimeout(fn func() error, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		r.stopServer()
		r.forceStop()
		return ErrShutdownTimeout
	}
}

func (r *Runner) stopServer() {
	if r.deps.Server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()
	if err := r.deps.Server.Shutdown(ctx); err != nil {
		r.log.Warning("daemon: http shutdown: %v", err)
	}
}

func (r *Runner) forceStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) performShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
	r.closeListener()
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
