package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
)

const testSecret = "cli-test-secret"

// captureOutput captures stdout during f. Runtime errors are printed with
// fmt.Printf, so they land here rather than in out.
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	f()

	w.Close()
	os.Stdout = old
	s := <-done
	r.Close()
	return s
}

// captureOut swaps the command output writer for a buffer.
func captureOut(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := out
	out = &buf
	t.Cleanup(func() { out = old })
	return &buf
}

func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// fakeDaemon serves methods over /jsonrpc and points dialDaemon at it.
type fakeDaemon struct {
	srv     *httptest.Server
	mu      sync.Mutex
	authHdr []string
}

func newFakeDaemon(t *testing.T, methods handler.Map) *fakeDaemon {
	t.Helper()
	fd := &fakeDaemon{}
	bridge := jhttp.NewBridge(methods, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.authHdr = append(fd.authHdr, r.Header.Get("Authorization"))
		fd.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+testSecret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		bridge.ServeHTTP(w, r)
	})
	fd.srv = httptest.NewServer(mux)

	oldDial := dialDaemon
	dialDaemon = func() (*rpcClient, error) {
		return newRPCClient(fd.srv.URL, testSecret), nil
	}
	t.Cleanup(func() {
		dialDaemon = oldDial
		fd.srv.Close()
		bridge.Close()
	})
	return fd
}

func (fd *fakeDaemon) headers() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]string(nil), fd.authHdr...)
}

func run(t *testing.T, args ...string) {
	t.Helper()
	full := append([]string{"slotpost"}, args...)
	if err := Execute(full, BuildArgs{Version: "1.0.0", BuildType: "test"}); err != nil {
		t.Fatalf("Execute(%v): %v", args, err)
	}
}
