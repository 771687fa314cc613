package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/config"
)

const (
	DEF_TIMEOUT = time.Second * 30
	// POST_TIMEOUT covers pacing delays and one re-login on the daemon side.
	POST_TIMEOUT = time.Minute * 10
)

// ErrNoSecret is returned when an admin command runs without an RPC secret.
var ErrNoSecret = errors.New("no rpc secret: set " + common.RPCSecretEnv + " or api.rpc_secret")

// rpcClient calls the daemon's /jsonrpc endpoint.
type rpcClient struct {
	cli     *jrpc2.Client
	timeout time.Duration
}

// bearerTransport adds the Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b *bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}

func newRPCClient(baseURL, secret string) *rpcClient {
	hc := &http.Client{
		Transport: &bearerTransport{token: secret, base: http.DefaultTransport},
	}
	ch := jhttp.NewChannel(strings.TrimRight(baseURL, "/")+"/jsonrpc", &jhttp.ChannelOptions{Client: hc})
	return &rpcClient{cli: jrpc2.NewClient(ch, nil), timeout: DEF_TIMEOUT}
}

// dialDaemon loads the configuration and returns a client for the daemon it
// describes. Replaced in tests.
var dialDaemon = func() (*rpcClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.RPCSecret == "" {
		return nil, ErrNoSecret
	}
	return newRPCClient(cfg.BaseURL(), cfg.RPCSecret), nil
}

func (c *rpcClient) call(method common.Method, params, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.cli.CallResult(ctx, string(method), params, result)
}

func (c *rpcClient) Close() error {
	return c.cli.Close()
}

// callDaemon dials, performs one call and closes the client.
func callDaemon(method common.Method, params, result any) error {
	return callDaemonWithin(DEF_TIMEOUT, method, params, result)
}

func callDaemonWithin(timeout time.Duration, method common.Method, params, result any) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()
	client.timeout = timeout
	return client.call(method, params, result)
}

// rpcMessage strips the JSON-RPC framing from server errors.
func rpcMessage(err error) error {
	var rerr *jrpc2.Error
	if errors.As(err, &rerr) {
		return errors.New(rerr.Message)
	}
	return err
}
