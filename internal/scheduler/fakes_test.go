package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/imaging"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
)

var testNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

type publishCall struct {
	kind    string
	images  []string
	caption string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
	n     int
}

func (p *fakePublisher) record(kind string, images []string, caption string) (publish.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{kind: kind, images: images, caption: caption})
	if p.err != nil {
		return publish.Result{}, p.err
	}
	p.n++
	return publish.Result{ID: "id-" + string(rune('0'+p.n)), Code: "C" + string(rune('0'+p.n))}, nil
}

func (p *fakePublisher) PublishSingle(_ context.Context, image, caption string) (publish.Result, error) {
	return p.record("single", []string{image}, caption)
}

func (p *fakePublisher) PublishAlbum(_ context.Context, images []string, caption string) (publish.Result, error) {
	return p.record("album", images, caption)
}

func (p *fakePublisher) PublishStory(_ context.Context, image string) (publish.Result, error) {
	return p.record("story", []string{image}, "")
}

func (p *fakePublisher) IsAuthenticated(context.Context) bool { return true }
func (p *fakePublisher) Reauthenticate(context.Context) error { return nil }

func (p *fakePublisher) Calls() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

// fakeNormalizer maps each image to norm/<base> without touching files.
type fakeNormalizer struct {
	mu        sync.Mutex
	targets   []imaging.Size
	discarded [][]string
	failFor   string
}

func (n *fakeNormalizer) Normalize(_ context.Context, images []string, target imaging.Size) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	out := make([]string, len(images))
	for i, img := range images {
		if n.failFor != "" && strings.Contains(img, n.failFor) {
			return nil, &content.ContentError{Folder: n.failFor, Err: imaging.ErrTooSmall}
		}
		out[i] = "norm/" + filepath.Base(img)
	}
	return out, nil
}

func (n *fakeNormalizer) Discard(paths []string) error {
	n.mu.Lock()
	n.discarded = append(n.discarded, paths)
	n.mu.Unlock()
	return nil
}

type fakeLedger struct {
	mu   sync.Mutex
	rows []ledger.Row
}

func (l *fakeLedger) Record(_ context.Context, r ledger.Row) (ledger.Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, r)
	return r, nil
}

type notification struct {
	n      common.Notification
	params any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(n common.Notification, params any) {
	f.mu.Lock()
	f.sent = append(f.sent, notification{n, params})
	f.mu.Unlock()
}

func (f *fakeNotifier) count(n common.Notification) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := 0
	for _, s := range f.sent {
		if s.n == n {
			c++
		}
	}
	return c
}

// fakeSyncer materializes folder names on the content filesystem.
type fakeSyncer struct {
	fs    afero.Fs
	root  string
	names []string
	err   error
	calls int
}

func (f *fakeSyncer) Sync(context.Context) ([]string, error) {
	f.calls++
	var out []string
	for _, n := range f.names {
		p := filepath.Join(f.root, n)
		if ok, _ := afero.DirExists(f.fs, p); ok {
			continue
		}
		_ = afero.WriteFile(f.fs, filepath.Join(p, "1.jpg"), []byte("img"), 0644)
		out = append(out, p)
	}
	return out, f.err
}

func (f *fakeSyncer) Status(context.Context) (remotesync.Status, error) {
	return remotesync.Status{RemoteCount: len(f.names)}, nil
}

type fakePinger struct{ pings int }

func (p *fakePinger) Ping(context.Context) error {
	p.pings++
	return nil
}

type prefixHook struct{ prefix string }

func (h prefixHook) Apply(_ context.Context, caption, folder string) string {
	return h.prefix + caption
}

// archiveFailFs fails renames into the archive directory.
type archiveFailFs struct{ afero.Fs }

func (f archiveFailFs) Rename(oldname, newname string) error {
	if strings.Contains(newname, "/"+content.PostedDir+"/") {
		return errors.New("rename: device busy")
	}
	return f.Fs.Rename(oldname, newname)
}

type harness struct {
	fs       afero.Fs
	sched    *PostScheduler
	store    *state.Store
	queue    *queue.Queue
	lib      *content.Library
	pub      *fakePublisher
	norm     *fakeNormalizer
	ledger   *fakeLedger
	notifier *fakeNotifier
	syncer   *fakeSyncer
	pinger   *fakePinger
	log      *logger.MockLogger
	withSync bool
}

type harnessOption func(*Options, *harness)

func withFs(fs afero.Fs) harnessOption {
	return func(_ *Options, h *harness) { h.fs = fs }
}

func withSyncer(names ...string) harnessOption {
	return func(o *Options, h *harness) {
		h.syncer = &fakeSyncer{names: names}
		h.withSync = true
	}
}

func withHook(prefix string) harnessOption {
	return func(o *Options, _ *harness) { o.Hook = prefixHook{prefix: prefix} }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		fs:       afero.NewMemMapFs(),
		pub:      &fakePublisher{},
		norm:     &fakeNormalizer{},
		ledger:   &fakeLedger{},
		notifier: &fakeNotifier{},
		pinger:   &fakePinger{},
		log:      logger.NewMockLogger(),
	}
	o := Options{}
	for _, fn := range opts {
		fn(&o, h)
	}

	lib, err := content.NewLibrary(h.fs, "/content", nil)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	store, err := state.NewStore(h.fs, state.Options{
		StatePath:    "/data/state.json",
		HistoryPath:  "/data/posted.json",
		DefaultTimes: common.DefaultPostTimes,
		Now:          func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mgr, err := slots.New(common.DefaultPostTimes, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	h.lib, h.store, h.queue = lib, store, queue.New(lib)

	o.Queue = h.queue
	o.Slots = mgr
	o.Store = store
	o.Classifier = content.NewClassifier(h.fs, nil)
	o.Library = lib
	o.Normalizer = h.norm
	o.Publisher = h.pub
	o.Ledger = h.ledger
	o.Notifier = h.notifier
	o.Pinger = h.pinger
	o.Log = h.log
	o.Now = func() time.Time { return testNow }
	if h.withSync {
		h.syncer.fs, h.syncer.root = h.fs, "/content"
		o.Syncer = h.syncer
	}

	s, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	h.sched = s
	return h
}

func (h *harness) folder(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join("/content", name)
	for f, body := range files {
		if err := afero.WriteFile(h.fs, filepath.Join(dir, f), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func (h *harness) exists(p string) bool {
	_, err := h.fs.Stat(p)
	return !os.IsNotExist(err)
}
