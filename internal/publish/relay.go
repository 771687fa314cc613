package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slotpost/slotpost/internal/session"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
)

// Relay endpoints, relative to the configured base URL.
const (
	relaySessionPath = "/v1/session"
	relayLoginPath   = "/v1/login"
	relayMediaPath   = "/v1/media/"

	relayTimeout    = 2 * time.Minute
	maxErrorBodyLen = 4096
)

// RelayConfig configures a RelayPublisher.
type RelayConfig struct {
	BaseURL  string
	Username string
	Password string
	// SessionID is used as the initial token when no session is stored, and
	// to log in when no username is configured.
	SessionID string
	Sessions  session.Store
	Client    *http.Client
	// Fs opens the image files. Defaults to the OS filesystem.
	Fs        afero.Fs
	UserAgent string
	Log       logger.Logger
}

// RelayPublisher publishes through an HTTP relay that holds the platform
// client. Images are sent as multipart uploads with a Bearer session token.
type RelayPublisher struct {
	base     *url.URL
	cfg      RelayConfig
	client   *http.Client
	fs       afero.Fs
	sessions session.Store
	log      logger.Logger

	mu    sync.Mutex
	token string
}

var _ Publisher = (*RelayPublisher)(nil)

// NewRelayPublisher validates cfg and loads any stored session token.
func NewRelayPublisher(cfg RelayConfig) (*RelayPublisher, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("relay url: unsupported scheme %q", base.Scheme)
	}
	r := &RelayPublisher{
		base:     base,
		cfg:      cfg,
		client:   cfg.Client,
		fs:       cfg.Fs,
		sessions: cfg.Sessions,
		log:      logger.OrNop(cfg.Log),
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: relayTimeout}
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.cfg.UserAgent == "" {
		r.cfg.UserAgent = "slotpost"
	}
	if r.sessions != nil {
		if tok, err := r.sessions.Load(); err == nil {
			r.token = tok
		} else if !errors.Is(err, session.ErrNoSession) {
			r.log.Warning("relay: load session: %v", err)
		}
	}
	if r.token == "" {
		r.token = cfg.SessionID
	}
	return r, nil
}

func (r *RelayPublisher) endpoint(p string) string {
	u := *r.base
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (r *RelayPublisher) currentToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

func (r *RelayPublisher) setToken(tok string) {
	r.mu.Lock()
	r.token = tok
	r.mu.Unlock()
	if r.sessions == nil {
		return
	}
	var err error
	if tok == "" {
		err = r.sessions.Clear()
	} else {
		err = r.sessions.Save(tok)
	}
	if err != nil {
		r.log.Warning("relay: persist session: %v", err)
	}
}

func (r *RelayPublisher) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.endpoint(p), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	if tok := r.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// IsAuthenticated asks the relay whether the current token is valid.
func (r *RelayPublisher) IsAuthenticated(ctx context.Context) bool {
	if r.currentToken() == "" {
		return false
	}
	req, err := r.newRequest(ctx, http.MethodGet, relaySessionPath, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warning("relay: session check: %v", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyLen))
	return resp.StatusCode == http.StatusOK
}

type loginRequest struct {
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Reauthenticate drops the current token and logs in again, preferring the
// username and password over the seed session id.
func (r *RelayPublisher) Reauthenticate(ctx context.Context) error {
	body := loginRequest{Username: r.cfg.Username, Password: r.cfg.Password}
	if body.Username == "" || body.Password == "" {
		if r.cfg.SessionID == "" {
			return fmt.Errorf("%w: no credentials configured", ErrRejected)
		}
		body = loginRequest{SessionID: r.cfg.SessionID}
	}
	r.setToken("")

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := r.newRequest(ctx, http.MethodPost, relayLoginPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		if errors.Is(err, ErrAuthExpired) {
			// A rejected login is not something a retry can fix.
			return fmt.Errorf("%w: login refused: %v", ErrRejected, err)
		}
		return err
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("login: decode response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("%w: login returned no token", ErrRejected)
	}
	r.setToken(lr.Token)
	r.log.Info("relay: logged in as %s", firstNonEmpty(r.cfg.Username, "session"))
	return nil
}

func (r *RelayPublisher) PublishSingle(ctx context.Context, image, caption string) (Result, error) {
	return r.upload(ctx, "single", "image", []string{image}, caption)
}

func (r *RelayPublisher) PublishAlbum(ctx context.Context, images []string, caption string) (Result, error) {
	if len(images) < 2 || len(images) > MaxAlbumImages {
		return Result{}, fmt.Errorf("%w: album needs 2-%d images, got %d", ErrTooManyImages, MaxAlbumImages, len(images))
	}
	return r.upload(ctx, "album", "images", images, caption)
}

func (r *RelayPublisher) PublishStory(ctx context.Context, image string) (Result, error) {
	return r.upload(ctx, "story", "image", []string{image}, "")
}

// upload streams a multipart body so album uploads are never held in
// memory at once.
func (r *RelayPublisher) upload(ctx context.Context, kind, field string, images []string, caption string) (Result, error) {
	for _, img := range images {
		if ok, _ := afero.Exists(r.fs, img); !ok {
			return Result{}, fmt.Errorf("%w: image not found: %s", ErrRejected, img)
		}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(r.writeParts(mw, field, images, caption))
	}()

	req, err := r.newRequest(ctx, http.MethodPost, relayMediaPath+kind, pr)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, statusError(resp)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode %s response: %w", kind, err)
	}
	if res.ID == "" {
		return Result{}, fmt.Errorf("%w: %s response without id", ErrRejected, kind)
	}
	return res, nil
}

func (r *RelayPublisher) writeParts(mw *multipart.Writer, field string, images []string, caption string) error {
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	for _, img := range images {
		part, err := mw.CreateFormFile(field, filepath.Base(img))
		if err != nil {
			return err
		}
		f, err := r.fs.Open(img)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

// statusError maps a non-success relay response to a classified error.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		msg = firstNonEmpty(payload.Message, payload.Error, msg)
	}
	if msg == "" {
		msg = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthExpired, msg)
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "login_required"):
		return fmt.Errorf("%w: %s", ErrAuthExpired, msg)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrThrottled, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, msg)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
