package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/scheduler"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
)

// fakeScheduler is an in-memory Scheduler.
type fakeScheduler struct {
	mu       sync.Mutex
	running  bool
	times    []string
	queue    []queue.Entry
	history  []state.HistoryEntry
	postErr  error
	syncErr  error
	synced   []string
	removed  int
	resets   int
	lastPost string
	lastDays int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		times: []string{"09:00", "15:00", "21:00"},
		queue: []queue.Entry{
			{Position: 1, Folder: "alpha", Priority: 0},
			{Position: 2, Folder: "beta", Priority: 0},
		},
		history: []state.HistoryEntry{
			{Folder: "old", Type: "single", Slides: 1, Timestamp: "2024-03-09T09:00:00Z"},
		},
	}
}

func (f *fakeScheduler) Status() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := scheduler.Status{
		Running:   f.running,
		Enabled:   f.running,
		PostTimes: f.times,
		NextPost:  "Today at 15:00",
		QueueSize: len(f.queue),
	}
	if len(f.queue) > 0 {
		st.NextFolder = f.queue[0].Folder
	}
	return st
}

func (f *fakeScheduler) Toggle() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = !f.running
	return f.running, nil
}

func (f *fakeScheduler) ResetState() error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) QueueList() []queue.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Entry(nil), f.queue...)
}

func (f *fakeScheduler) MoveToFront(name string) bool {
	return f.SetPriority(name, -1)
}

func (f *fakeScheduler) SetPriority(name string, priority int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queue {
		if f.queue[i].Folder == name {
			f.queue[i].Priority = priority
			return true
		}
	}
	return false
}

func (f *fakeScheduler) History(limit int) []state.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && len(f.history) > limit {
		return f.history[:limit]
	}
	return f.history
}

func (f *fakeScheduler) Stats() state.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return state.Stats{TotalPosts: len(f.history), PostsToday: 0, PostsThisWeek: len(f.history)}
}

func (f *fakeScheduler) PostNow(_ context.Context, name string) (*state.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPost = name
	if f.postErr != nil {
		return nil, f.postErr
	}
	if name == "" {
		if len(f.queue) == 0 {
			return nil, &scheduler.SchedulerError{Op: "post_now", Err: scheduler.ErrQueueEmpty}
		}
		name = f.queue[0].Folder
	}
	e := state.HistoryEntry{Folder: name, Type: "carousel", Slides: 2, Timestamp: "2024-03-10T10:00:00Z"}
	f.history = append([]state.HistoryEntry{e}, f.history...)
	return &e, nil
}

func (f *fakeScheduler) Times() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times
}

func (f *fakeScheduler) UpdateTimes(times []string) error {
	for _, t := range times {
		if !slots.ValidSlot(t) {
			return &scheduler.SchedulerError{Op: "update_times", Err: &slots.SlotError{Slot: t}}
		}
	}
	f.mu.Lock()
	f.times = times
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) SyncNow(context.Context) ([]string, error) {
	return f.synced, f.syncErr
}

func (f *fakeScheduler) SyncStatus(context.Context) (remotesync.Status, error) {
	if f.syncErr != nil {
		return remotesync.Status{}, f.syncErr
	}
	return remotesync.Status{RemoteCount: 3, LocalCount: 1, PendingCount: 2, PendingNames: []string{"x", "y"}}, nil
}

func (f *fakeScheduler) CleanupPosted(days int) (int, error) {
	f.mu.Lock()
	f.lastDays = days
	f.mu.Unlock()
	return f.removed, nil
}

type fakeLedger struct {
	rows []ledger.Row
	err  error
}

func (l *fakeLedger) Recent(_ context.Context, limit int) ([]ledger.Row, error) {
	if l.err != nil {
		return nil, l.err
	}
	if limit > 0 && len(l.rows) > limit {
		return l.rows[:limit], nil
	}
	return l.rows, nil
}

func (l *fakeLedger) Count(context.Context) (ledger.Counts, error) {
	c := ledger.Counts{Total: len(l.rows)}
	for _, r := range l.rows {
		if !r.OK() {
			c.Failures++
		}
	}
	return c, nil
}

func sampleLedger() *fakeLedger {
	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	return &fakeLedger{rows: []ledger.Row{
		{ID: "r2", Folder: "b", Type: "single", Slides: 1, Trigger: ledger.TriggerManual, Error: "rejected", PostedAt: at},
		{ID: "r1", Folder: "a", Type: "carousel", Slides: 3, Trigger: ledger.TriggerSchedule, RemoteID: "m-1", Code: "C1", PostedAt: at},
	}}
}

var (
	errPublishRejected = &scheduler.SchedulerError{Op: "post", Folder: "a", Err: &publish.PublishError{Op: "album", Err: publish.ErrRejected}}
	errContentBad      = &scheduler.SchedulerError{Op: "post", Folder: "a", Err: &content.ContentError{Folder: "a", Err: content.ErrNoImages}}
	errStateWrite      = &state.StateError{Op: "write", Path: "/data/state.json", Err: errors.New("disk full")}
)
