package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// fakeServer is an http.Server-backed Server that counts calls.
type fakeServer struct {
	srv       *http.Server
	served    atomic.Bool
	shutdowns atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{srv: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}}
}

func (f *fakeServer) Serve(l net.Listener) error {
	f.served.Store(true)
	err := f.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	return f.srv.Shutdown(ctx)
}

func localConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}
}

// startRunner starts r in the background and waits until it is running.
func startRunner(t *testing.T, r *Runner, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for !r.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("runner did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errCh
}

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		wantPort int
		wantHost string
	}{
		{"nil config", nil, 8000, "127.0.0.1"},
		{"custom", &Config{Host: "0.0.0.0", Port: 9100}, 9100, "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.config, nil)
			if r.Config().Port != tt.wantPort || r.Config().Host != tt.wantHost {
				t.Errorf("config = %+v", r.Config())
			}
			if r.Config().ShutdownTimeout != DefaultShutdownTimeout {
				t.Errorf("ShutdownTimeout = %v, want %v", r.Config().ShutdownTimeout, DefaultShutdownTimeout)
			}
		})
	}
}

func TestFormatListenAddress(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"127.0.0.1", 8000, "127.0.0.1:8000"},
		{"", 0, ":0"},
		{"::1", 9000, "[::1]:9000"},
		{"localhost", -1, "localhost:0"},
	}
	for _, tt := range tests {
		if got := formatListenAddress(tt.host, tt.port); got != tt.want {
			t.Errorf("formatListenAddress(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestRunner_StartServesAndRestores(t *testing.T) {
	srv := newFakeServer()
	var listenerCreated, restored atomic.Bool
	r := New(localConfig(), &Dependencies{
		ListenerFactory: func(network, address string) (net.Listener, error) {
			listenerCreated.Store(true)
			return net.Listen(network, address)
		},
		Server:  srv,
		OnStart: func() error { restored.Store(true); return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := startRunner(t, r, ctx)
	deadline := time.Now().Add(2 * time.Second)
	for !restored.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if !listenerCreated.Load() || !restored.Load() {
		t.Fatal("Start() did not bind or restore")
	}
	resp, err := http.Get("http://" + r.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := r.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("server shutdowns = %d", srv.shutdowns.Load())
	}
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
	if r.IsRunning() {
		t.Error("runner still running")
	}
}

func TestRunner_OnStartFailure(t *testing.T) {
	srv := newFakeServer()
	boom := errors.New("restore failed")
	r := New(localConfig(), &Dependencies{Server: srv, OnStart: func() error { return boom }})

	err := r.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start() = %v, want %v", err, boom)
	}
	if r.IsRunning() || srv.shutdowns.Load() != 1 {
		t.Errorf("running=%v shutdowns=%d", r.IsRunning(), srv.shutdowns.Load())
	}
}

func TestRunner_ListenFailure(t *testing.T) {
	want := errors.New("address in use")
	r := New(localConfig(), &Dependencies{
		ListenerFactory: func(string, string) (net.Listener, error) { return nil, want },
	})
	if err := r.Start(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Start() = %v", err)
	}
	if r.IsRunning() {
		t.Error("running after listen failure")
	}
}

func TestRunner_ShutdownOrder(t *testing.T) {
	srv := newFakeServer()
	var order []string
	r := New(localConfig(), &Dependencies{
		Server: srv,
		ShutdownFunc: func() error {
			if srv.shutdowns.Load() != 0 {
				order = append(order, "server")
			}
			order = append(order, "scheduler")
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRunner(t, r, ctx)

	if err := r.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 || order[0] != "scheduler" || srv.shutdowns.Load() != 1 {
		t.Errorf("order = %v, shutdowns = %d", order, srv.shutdowns.Load())
	}
}

func TestRunner_Shutdown_WithTimeout(t *testing.T) {
	cfg := localConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	r := New(cfg, &Dependencies{
		ShutdownFunc: func() error {
			time.Sleep(500 * time.Millisecond)
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRunner(t, r, ctx)

	if err := r.Shutdown(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Shutdown() error = %v, want ErrShutdownTimeout", err)
	}
}

func TestRunner_Shutdown_NotRunning(t *testing.T) {
	r := New(localConfig(), nil)
	if err := r.Shutdown(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Shutdown() error = %v, want ErrNotRunning", err)
	}
}

func TestRunner_Shutdown_ReturnsFuncError(t *testing.T) {
	expectedErr := errors.New("ledger close failed")
	r := New(localConfig(), &Dependencies{ShutdownFunc: func() error { return expectedErr }})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRunner(t, r, ctx)

	if err := r.Shutdown(); !errors.Is(err, expectedErr) {
		t.Errorf("Shutdown() error = %v, want %v", err, expectedErr)
	}
	if r.IsRunning() {
		t.Error("runner still running after failed shutdown func")
	}
}

func TestRunner_Context_CancellationStopsRunner(t *testing.T) {
	r := New(localConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := startRunner(t, r, ctx)

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Start() returned unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Start() did not return after context cancellation")
	}
	if r.IsRunning() {
		t.Error("Runner should not be running after context cancellation")
	}
}
