package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/hooks"
	"github.com/slotpost/slotpost/internal/imaging"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
	"github.com/slotpost/slotpost/pkg/logger"
)

// Default periodic triggers.
const (
	DefaultSyncCron      = "*/30 * * * *"
	DefaultKeepAliveCron = "*/5 * * * *"
)

// Event IDs registered on the engine.
const (
	slotEventPrefix = "slot:"
	syncEventID     = "sync"
	keepAliveID     = "keepalive"
)

// Syncer pulls new content folders from the remote store.
type Syncer interface {
	Sync(ctx context.Context) ([]string, error)
	Status(ctx context.Context) (remotesync.Status, error)
}

// Pinger sends a liveness ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ledger records every publish attempt.
type Ledger interface {
	Record(ctx context.Context, r ledger.Row) (ledger.Row, error)
}

// Notifier pushes events to connected admin clients.
type Notifier interface {
	Notify(n common.Notification, params any)
}

// Options wire a PostScheduler. Queue, Slots, Store, Classifier, Library,
// Normalizer and Publisher are required; the rest may be nil.
type Options struct {
	Queue      *queue.Queue
	Slots      *slots.Manager
	Store      *state.Store
	Classifier *content.Classifier
	Library    *content.Library
	Normalizer imaging.Normalizer
	Publisher  publish.Publisher

	Syncer   Syncer
	Pinger   Pinger
	Ledger   Ledger
	Hook     hooks.CaptionHook
	Notifier Notifier
	Log      logger.Logger

	// Now defaults to time.Now.
	Now func() time.Time
	// SyncCron and KeepAliveCron default to DefaultSyncCron and
	// DefaultKeepAliveCron.
	SyncCron      string
	KeepAliveCron string
}

// Status is a snapshot for the admin surface.
type Status struct {
	Running    bool                `json:"running"`
	Enabled    bool                `json:"enabled"`
	PostTimes  []string            `json:"post_times"`
	NextPost   string              `json:"next_post"`
	NextPostAt *time.Time          `json:"next_post_at,omitempty"`
	QueueSize  int                 `json:"queue_size"`
	NextFolder string              `json:"next_folder,omitempty"`
	InFlight   []string            `json:"in_flight,omitempty"`
	PostsToday int                 `json:"posts_today"`
	LastPost   *state.HistoryEntry `json:"last_post,omitempty"`
}

// PostScheduler is the Stopped/Running state machine that publishes queued
// folders at each configured slot.
type PostScheduler struct {
	opts Options
	log  logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	engine  *Engine
	cancel  context.CancelFunc

	cbMu      sync.RWMutex
	onSuccess func(state.HistoryEntry)
	onError   func(error)
}

// New validates opts and returns a stopped scheduler.
func New(opts Options) (*PostScheduler, error) {
	switch {
	case opts.Queue == nil:
		return nil, errors.New("scheduler: queue is required")
	case opts.Slots == nil:
		return nil, errors.New("scheduler: slot manager is required")
	case opts.Store == nil:
		return nil, errors.New("scheduler: state store is required")
	case opts.Classifier == nil || opts.Library == nil:
		return nil, errors.New("scheduler: content classifier and library are required")
	case opts.Normalizer == nil:
		return nil, errors.New("scheduler: normalizer is required")
	case opts.Publisher == nil:
		return nil, errors.New("scheduler: publisher is required")
	}
	if opts.SyncCron == "" {
		opts.SyncCron = DefaultSyncCron
	}
	if opts.KeepAliveCron == "" {
		opts.KeepAliveCron = DefaultKeepAliveCron
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PostScheduler{opts: opts, log: logger.OrNop(opts.Log), now: now}, nil
}

// SetCallbacks installs handlers for scheduled-post outcomes. Either may be nil.
func (s *PostScheduler) SetCallbacks(onSuccess func(state.HistoryEntry), onError func(error)) {
	s.cbMu.Lock()
	s.onSuccess, s.onError = onSuccess, onError
	s.cbMu.Unlock()
}

// IsRunning reports whether timers are active.
func (s *PostScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start registers the slot, sync and liveness triggers and persists
// scheduler_enabled=true. It is a no-op when already running. A failure to
// persist is returned but the scheduler keeps running.
func (s *PostScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.startLocked()
	s.mu.Unlock()

	s.log.Info("scheduler: started, next post %s", s.opts.Slots.FormatNext(s.now()))
	s.notifyToggled(true)
	return s.persistRunning(true)
}

// Stop cancels all future triggers and persists scheduler_enabled=false. A
// publish already in progress is not interrupted.
func (s *PostScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopLocked()
	s.mu.Unlock()

	s.log.Info("scheduler: stopped")
	s.notifyToggled(false)
	return s.persistRunning(false)
}

// Shutdown cancels all future triggers for process exit. Unlike Stop it
// leaves scheduler_enabled untouched, so the next Restore resumes posting.
func (s *PostScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
		s.log.Info("scheduler: shut down")
	}
}

// Toggle starts a stopped scheduler or stops a running one and returns the
// new running state.
func (s *PostScheduler) Toggle() (bool, error) {
	if s.IsRunning() {
		return false, s.Stop()
	}
	return true, s.Start()
}

func (s *PostScheduler) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(ctx, s.trigger)
	loc := s.opts.Slots.Location()
	for slot, expr := range s.opts.Slots.CronExprs() {
		e.Add(Event{ID: slotEventPrefix + slot, CronExpr: expr, Location: loc})
		s.log.Info("scheduler: post scheduled daily at %s", slot)
	}
	e.Add(Event{ID: syncEventID, CronExpr: s.opts.SyncCron, Location: loc})
	e.Add(Event{ID: keepAliveID, CronExpr: s.opts.KeepAliveCron, Location: loc})
	s.engine, s.cancel, s.running = e, cancel, true
}

func (s *PostScheduler) stopLocked() {
	s.cancel()
	s.engine, s.cancel, s.running = nil, nil, false
}

func (s *PostScheduler) persistRunning(running bool) error {
	var err error
	if serr := s.opts.Store.SetSchedulerEnabled(running); serr != nil {
		s.log.Error("scheduler: %v", serr)
		err = serr
	}
	if serr := s.opts.Store.SetNextPostTime(s.nextPostAt(running)); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (s *PostScheduler) nextPostAt(running bool) *time.Time {
	if !running {
		return nil
	}
	next, ok := s.opts.Slots.Next(s.now())
	if !ok {
		return nil
	}
	return &next
}

// trigger runs on the engine goroutine.
func (s *PostScheduler) trigger(ev Event) {
	ctx := context.Background()
	switch {
	case ev.ID == syncEventID:
		s.runSync(ctx)
	case ev.ID == keepAliveID:
		if s.opts.Pinger != nil {
			if err := s.opts.Pinger.Ping(ctx); err != nil {
				s.log.Warning("scheduler: keepalive: %v", err)
			}
		}
	case strings.HasPrefix(ev.ID, slotEventPrefix):
		s.runScheduledPost(ctx, strings.TrimPrefix(ev.ID, slotEventPrefix))
	}
}

func (s *PostScheduler) runScheduledPost(ctx context.Context, slot string) {
	s.log.Info("scheduler: [%s] running scheduled post", slot)
	entry, err := s.PostNext(ctx)
	if err != nil {
		s.log.Error("scheduler: [%s] scheduled post failed: %v", slot, err)
		s.cbMu.RLock()
		cb := s.onError
		s.cbMu.RUnlock()
		if cb != nil {
			cb(err)
		}
	} else if entry == nil {
		s.log.Info("scheduler: [%s] nothing queued", slot)
	} else {
		s.cbMu.RLock()
		cb := s.onSuccess
		s.cbMu.RUnlock()
		if cb != nil {
			cb(*entry)
		}
	}
	if err := s.opts.Store.SetNextPostTime(s.nextPostAt(s.IsRunning())); err != nil {
		s.log.Warning("scheduler: %v", err)
	}
}

func (s *PostScheduler) runSync(ctx context.Context) {
	if s.opts.Syncer == nil {
		return
	}
	downloaded, err := s.SyncNow(ctx)
	if err != nil {
		s.log.Warning("scheduler: sync: %v", err)
	}
	if len(downloaded) > 0 {
		s.log.Info("scheduler: sync downloaded %d new folder(s)", len(downloaded))
	}
}

// UpdateTimes validates and persists new slots. A running scheduler re-registers
// its triggers; there is a brief window with no slot timers.
func (s *PostScheduler) UpdateTimes(times []string) error {
	if err := s.opts.Slots.SetSlots(times); err != nil {
		return schedErr("update_times", "", err)
	}
	s.mu.Lock()
	if s.running {
		s.stopLocked()
		s.startLocked()
	}
	running := s.running
	s.mu.Unlock()

	s.log.Info("scheduler: post times set to %v", s.opts.Slots.Times())
	if err := s.opts.Store.UpdatePostTimes(s.opts.Slots.Times()); err != nil {
		return err
	}
	return s.opts.Store.SetNextPostTime(s.nextPostAt(running))
}

// Times returns the configured slots.
func (s *PostScheduler) Times() []string {
	return s.opts.Slots.Times()
}

// ResetState restores default state and slots and clears queue priority
// overrides. History is kept and the running state is unchanged.
func (s *PostScheduler) ResetState() error {
	if err := s.opts.Store.ClearState(); err != nil {
		return err
	}
	defaults := s.opts.Store.DefaultState()
	if err := s.opts.Slots.SetSlots(defaults.PostTimes); err != nil {
		return schedErr("reset", "", err)
	}
	for name := range s.opts.Queue.Priorities() {
		s.opts.Queue.SetPriority(name, queue.DefaultPriority)
	}

	s.mu.Lock()
	if s.running {
		s.stopLocked()
		s.startLocked()
	}
	running := s.running
	s.mu.Unlock()

	s.log.Info("scheduler: state reset")
	return s.persistRunning(running)
}

// Restore applies persisted state at startup: saved slots and priorities,
// then starts the scheduler if it was enabled.
func (s *PostScheduler) Restore() error {
	st := s.opts.Store.LoadState()
	if st.PostTimes != nil {
		if err := s.opts.Slots.SetSlots(st.PostTimes); err != nil {
			s.log.Warning("scheduler: ignoring saved post times: %v", err)
		}
	}
	if err := s.opts.Queue.LoadPriorities(st.QueuePriorities); err != nil {
		s.log.Warning("scheduler: restore queue: %v", err)
	}
	if !st.SchedulerEnabled {
		s.log.Info("scheduler: disabled in saved state, not starting")
		return nil
	}
	return s.Start()
}

// Status returns a snapshot of scheduler, queue and post counters.
func (s *PostScheduler) Status() Status {
	now := s.now()
	st := s.opts.Store.LoadState()
	out := Status{
		Running:    s.IsRunning(),
		Enabled:    st.SchedulerEnabled,
		PostTimes:  s.opts.Slots.Times(),
		NextPost:   s.opts.Slots.FormatNext(now),
		InFlight:   s.opts.Queue.InFlight(),
		PostsToday: s.opts.Store.Stats().PostsToday,
	}
	if next, ok := s.opts.Slots.Next(now); ok {
		out.NextPostAt = &next
	}
	if err := s.opts.Queue.Refresh(); err != nil {
		s.log.Warning("scheduler: refresh queue: %v", err)
	}
	out.QueueSize = s.opts.Queue.Size()
	if head, ok := s.opts.Queue.Peek(); ok {
		out.NextFolder = head.Name
	}
	if last, ok := s.opts.Store.LastPost(); ok {
		out.LastPost = &last
	}
	return out
}

// QueueList refreshes the queue and returns it in publish order.
func (s *PostScheduler) QueueList() []queue.Entry {
	if err := s.opts.Queue.Refresh(); err != nil {
		s.log.Warning("scheduler: refresh queue: %v", err)
	}
	return s.opts.Queue.List()
}

// MoveToFront puts name ahead of every other queued folder and persists the
// override.
func (s *PostScheduler) MoveToFront(name string) bool {
	_ = s.opts.Queue.Refresh()
	if !s.opts.Queue.MoveToFront(name) {
		return false
	}
	s.savePriorities()
	return true
}

// SetPriority sets name's priority and persists the override.
func (s *PostScheduler) SetPriority(name string, priority int) bool {
	_ = s.opts.Queue.Refresh()
	if !s.opts.Queue.SetPriority(name, priority) {
		return false
	}
	s.savePriorities()
	return true
}

func (s *PostScheduler) savePriorities() {
	if err := s.opts.Store.SetQueuePriorities(s.opts.Queue.Priorities()); err != nil {
		s.log.Warning("scheduler: save queue priorities: %v", err)
	}
}

// History returns up to limit entries, newest first.
func (s *PostScheduler) History(limit int) []state.HistoryEntry {
	return s.opts.Store.History(limit)
}

// Stats returns counters derived from history.
func (s *PostScheduler) Stats() state.Stats {
	return s.opts.Store.Stats()
}

// SyncNow runs one remote sync and refreshes the queue when new folders
// arrived.
func (s *PostScheduler) SyncNow(ctx context.Context) ([]string, error) {
	if s.opts.Syncer == nil {
		return nil, schedErr("sync", "", ErrSyncDisabled)
	}
	downloaded, err := s.opts.Syncer.Sync(ctx)
	if len(downloaded) > 0 {
		if rerr := s.opts.Queue.Refresh(); rerr != nil {
			s.log.Warning("scheduler: refresh queue: %v", rerr)
		}
	}
	params := map[string]any{"downloaded": downloaded, "count": len(downloaded)}
	if err != nil {
		params["error"] = err.Error()
	}
	s.notify(common.NotifySyncCompleted, params)
	return downloaded, err
}

// SyncStatus compares the remote store with the local content root.
func (s *PostScheduler) SyncStatus(ctx context.Context) (remotesync.Status, error) {
	if s.opts.Syncer == nil {
		return remotesync.Status{}, schedErr("sync_status", "", ErrSyncDisabled)
	}
	return s.opts.Syncer.Status(ctx)
}

// CleanupPosted deletes archived folders older than days.
func (s *PostScheduler) CleanupPosted(days int) (int, error) {
	if days < 0 {
		return 0, schedErr("cleanup", "", fmt.Errorf("days must not be negative, got %d", days))
	}
	return s.opts.Library.CleanupPosted(days, s.now())
}

func (s *PostScheduler) notify(n common.Notification, params any) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(n, params)
	}
}

func (s *PostScheduler) notifyToggled(running bool) {
	s.notify(common.NotifySchedulerToggled, map[string]bool{"running": running})
}
