// Package keepalive pings the service's own public URL so free-tier hosts
// that sleep idle instances keep it awake.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/slotpost/slotpost/pkg/logger"
)

// DefaultTimeout is the per-ping budget. Hosts waking from sleep often
// exceed it, which is fine: the request itself is what keeps them awake.
const DefaultTimeout = 3 * time.Second

// HealthPath is appended to the base URL.
const HealthPath = "/health"

// Pinger sends liveness pings. A Pinger with an empty URL does nothing.
type Pinger struct {
	url    string
	client *http.Client
	log    logger.Logger
}

// New creates a pinger for baseURL. client may be nil.
func New(baseURL string, client *http.Client, l logger.Logger) *Pinger {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	u := ""
	if baseURL != "" {
		u = strings.TrimRight(baseURL, "/") + HealthPath
	}
	return &Pinger{url: u, client: client, log: logger.OrNop(l)}
}

// URL returns the full ping target, or "" when disabled.
func (p *Pinger) URL() string { return p.url }

// Ping issues one GET. Timeouts are logged and swallowed; other transport
// failures are returned. Any HTTP status counts as alive.
func (p *Pinger) Ping(ctx context.Context) error {
	if p == nil || p.url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			p.log.Info("keepalive: ping sent, timed out waiting for %s", p.url)
			return nil
		}
		return fmt.Errorf("keepalive: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	p.log.Info("keepalive: ping %d", resp.StatusCode)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
