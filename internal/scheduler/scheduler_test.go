package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/imaging"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
	"github.com/spf13/afero"
)

func TestPostTripEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.folder(t, "trip", map[string]string{
		"slide-1.jpg": "a",
		"slide-2.jpg": "b",
		"caption.txt": "Hello",
	})

	entry, err := h.sched.PostNow(context.Background(), "trip")
	if err != nil {
		t.Fatalf("PostNow: %v", err)
	}

	calls := h.pub.Calls()
	if len(calls) != 1 || calls[0].kind != "album" {
		t.Fatalf("publish calls = %+v, want one album", calls)
	}
	if want := []string{"norm/slide-1.jpg", "norm/slide-2.jpg"}; !reflect.DeepEqual(calls[0].images, want) {
		t.Errorf("album images = %v, want %v", calls[0].images, want)
	}
	if calls[0].caption != "Hello" {
		t.Errorf("caption = %q, want Hello", calls[0].caption)
	}
	if len(h.norm.targets) != 1 || h.norm.targets[0] != imaging.Targets[content.Carousel] {
		t.Errorf("normalize targets = %v", h.norm.targets)
	}
	if len(h.norm.discarded) != 1 {
		t.Errorf("normalized images not discarded")
	}

	archived := "/content/posted/trip_20240310_100000"
	if !h.exists(archived) || h.exists("/content/trip") {
		t.Errorf("folder not archived to %s", archived)
	}

	if entry.Folder != "trip" || entry.Type != "carousel" || entry.Slides != 2 {
		t.Errorf("entry = %+v", entry)
	}
	hist := h.store.History(0)
	if len(hist) != 1 || hist[0].Folder != "trip" || hist[0].Type != "carousel" || hist[0].Slides != 2 {
		t.Fatalf("history = %+v", hist)
	}
	var outcome publish.Outcome
	if err := json.Unmarshal(hist[0].Result, &outcome); err != nil || outcome.Count != 2 || outcome.IDs()[0] != "id-1" {
		t.Errorf("history result = %s, %v", hist[0].Result, err)
	}
	if st := h.store.LoadState(); st.PostsToday != 1 || st.LastPostTime == nil {
		t.Errorf("state after post = %+v", st)
	}
	if len(h.ledger.rows) != 1 || h.ledger.rows[0].RemoteID != "id-1" || h.ledger.rows[0].Trigger != ledger.TriggerManual {
		t.Errorf("ledger = %+v", h.ledger.rows)
	}
	if h.notifier.count(common.NotifyPostPublished) != 1 {
		t.Errorf("post.published not sent")
	}
	if h.queue.Contains("trip") || len(h.queue.InFlight()) != 0 {
		t.Errorf("queue still tracks trip: contains=%v inflight=%v", h.queue.Contains("trip"), h.queue.InFlight())
	}
}

func TestPostNowNextAndEmpty(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.PostNow(context.Background(), "")
	var se *SchedulerError
	if !errors.As(err, &se) || !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("PostNow on empty queue = %v, want SchedulerError(ErrQueueEmpty)", err)
	}

	h.folder(t, "b", map[string]string{"1.jpg": "x"})
	h.folder(t, "a", map[string]string{"1.jpg": "x"})
	entry, err := h.sched.PostNow(context.Background(), "")
	if err != nil {
		t.Fatalf("PostNow: %v", err)
	}
	if entry.Folder != "a" || entry.Type != "single" {
		t.Errorf("entry = %+v, want single post of a", entry)
	}
	if calls := h.pub.Calls(); len(calls) != 1 || calls[0].kind != "single" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestPostNowUnknownFolder(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"missing", "../etc", "posted"} {
		_, err := h.sched.PostNow(context.Background(), name)
		if !errors.Is(err, ErrFolderNotFound) {
			t.Errorf("PostNow(%q) = %v, want ErrFolderNotFound", name, err)
		}
	}
}

func TestPostFolderBusy(t *testing.T) {
	h := newHarness(t)
	dir := h.folder(t, "a", map[string]string{"1.jpg": "x"})
	if !h.queue.Claim(dir) {
		t.Fatal("Claim failed")
	}
	_, err := h.sched.PostFolder(context.Background(), dir)
	if !errors.Is(err, ErrFolderBusy) {
		t.Fatalf("PostFolder = %v, want ErrFolderBusy", err)
	}
	if len(h.pub.Calls()) != 0 {
		t.Error("busy folder was published")
	}
}

func TestPublishFailurePropagatesAndKeepsFolder(t *testing.T) {
	h := newHarness(t)
	h.pub.err = publish.ErrRejected
	dir := h.folder(t, "a", map[string]string{"1.jpg": "x", "2.jpg": "y"})
	h.folder(t, "b", map[string]string{"1.jpg": "x"})
	h.sched.SetPriority("a", -3)

	_, err := h.sched.PostNow(context.Background(), "")
	var se *SchedulerError
	var pe *publish.PublishError
	if !errors.As(err, &se) || !errors.As(err, &pe) || !errors.Is(err, publish.ErrRejected) {
		t.Fatalf("PostNow error = %v, want SchedulerError wrapping PublishError", err)
	}
	if !h.exists(dir) {
		t.Error("folder removed after failed publish")
	}
	if len(h.store.History(0)) != 0 {
		t.Error("failed publish recorded in history")
	}
	if head, ok := h.queue.Peek(); !ok || head.Name != "a" || head.Priority != -3 {
		t.Errorf("queue head = %+v, want a with priority kept", head)
	}
	if len(h.ledger.rows) != 1 || h.ledger.rows[0].OK() {
		t.Errorf("ledger = %+v, want one failure row", h.ledger.rows)
	}
	if h.notifier.count(common.NotifyPostFailed) != 1 {
		t.Error("post.failed not sent")
	}
}

func TestScheduledTriggerFailureDoesNotPropagate(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("connection reset by peer")
	h.folder(t, "a", map[string]string{"1.jpg": "x"})

	var gotErr error
	var successes int
	h.sched.SetCallbacks(func(state.HistoryEntry) { successes++ }, func(err error) { gotErr = err })

	h.sched.trigger(Event{ID: slotEventPrefix + "09:00"})

	if gotErr == nil || successes != 0 {
		t.Fatalf("onError = %v, successes = %d", gotErr, successes)
	}
	if len(h.log.Errors()) == 0 {
		t.Error("scheduled failure not logged as error")
	}
	if !h.queue.Contains("a") {
		t.Error("failed folder not requeued")
	}

	h.pub.err = nil
	h.sched.trigger(Event{ID: slotEventPrefix + "09:00"})
	if successes != 1 {
		t.Errorf("successes = %d after retry slot", successes)
	}
}

func TestScheduledTriggerEmptyQueue(t *testing.T) {
	h := newHarness(t)
	var called bool
	h.sched.SetCallbacks(func(state.HistoryEntry) { called = true }, func(error) { called = true })

	h.sched.trigger(Event{ID: slotEventPrefix + "09:00"})

	if called {
		t.Error("callback fired for empty queue")
	}
	if len(h.log.Errors()) != 0 {
		t.Errorf("empty queue logged errors: %v", h.log.Errors())
	}
	found := false
	for _, m := range h.log.Infos() {
		if strings.Contains(m, "nothing queued") {
			found = true
		}
	}
	if !found {
		t.Errorf("infos = %v, want empty-queue message", h.log.Infos())
	}
}

func TestContentErrorMovesFolderBack(t *testing.T) {
	h := newHarness(t)
	h.norm.failFor = "aaa"
	h.folder(t, "aaa", map[string]string{"1.jpg": "x"})
	h.folder(t, "bbb", map[string]string{"1.jpg": "x"})

	entry, err := h.sched.PostNext(context.Background())
	var ce *content.ContentError
	if entry != nil || !errors.As(err, &ce) {
		t.Fatalf("PostNext = %v, %v, want ContentError", entry, err)
	}
	list := h.sched.QueueList()
	if len(list) != 2 || list[0].Folder != "bbb" || list[1].Folder != "aaa" {
		t.Fatalf("queue = %+v, want bbb before aaa", list)
	}
	if got := h.store.LoadState().QueuePriorities; got["aaa"] != 1 {
		t.Errorf("persisted priorities = %v", got)
	}

	entry, err = h.sched.PostNext(context.Background())
	if err != nil || entry.Folder != "bbb" {
		t.Errorf("second PostNext = %+v, %v", entry, err)
	}
}

func TestOversizedFolderDoesNotBlockQueue(t *testing.T) {
	h := newHarness(t)
	slides := map[string]string{}
	for i := 1; i <= content.MaxSlides+1; i++ {
		slides[fmt.Sprintf("%d.jpg", i)] = "x"
	}
	h.folder(t, "aaa", slides)
	h.folder(t, "bbb", map[string]string{"1.jpg": "x"})

	_, err := h.sched.PostNext(context.Background())
	var ce *content.ContentError
	if !errors.As(err, &ce) || !errors.Is(err, content.ErrTooManySlides) {
		t.Fatalf("PostNext = %v, want ContentError(ErrTooManySlides)", err)
	}
	if len(h.pub.Calls()) != 0 {
		t.Error("oversized folder reached the publisher")
	}

	entry, err := h.sched.PostNext(context.Background())
	if err != nil || entry == nil || entry.Folder != "bbb" {
		t.Fatalf("second PostNext = %+v, %v, want bbb", entry, err)
	}
	if list := h.sched.QueueList(); len(list) != 1 || list[0].Folder != "aaa" {
		t.Errorf("queue = %+v, want only aaa left", list)
	}
}

func TestStoryPublishesEachImage(t *testing.T) {
	h := newHarness(t, withHook(">> "))
	h.folder(t, "s", map[string]string{
		"story-2.jpg": "b",
		"story-1.jpg": "a",
		"slide-1.jpg": "c",
		"slide-2.jpg": "d",
		"caption.txt": "ignored",
	})
	entry, err := h.sched.PostNow(context.Background(), "s")
	if err != nil {
		t.Fatalf("PostNow: %v", err)
	}
	if entry.Type != "story" || entry.Slides != 2 {
		t.Errorf("entry = %+v", entry)
	}
	calls := h.pub.Calls()
	if len(calls) != 2 || calls[0].images[0] != "norm/story-1.jpg" || calls[1].images[0] != "norm/story-2.jpg" {
		t.Errorf("story calls = %+v", calls)
	}
	if h.norm.targets[0] != imaging.Targets[content.Story] {
		t.Errorf("target = %v", h.norm.targets[0])
	}
}

func TestCaptionHookApplied(t *testing.T) {
	h := newHarness(t, withHook(">> "))
	h.folder(t, "c", map[string]string{"1.jpg": "a", "2.jpg": "b", "caption.txt": "hi"})
	if _, err := h.sched.PostNow(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	if calls := h.pub.Calls(); calls[0].caption != ">> hi" {
		t.Errorf("caption = %q", calls[0].caption)
	}
}

func TestArchiveFailureStillRecords(t *testing.T) {
	h := newHarness(t, withFs(archiveFailFs{afero.NewMemMapFs()}))
	dir := h.folder(t, "a", map[string]string{"1.jpg": "x"})

	entry, err := h.sched.PostNow(context.Background(), "a")
	if err != nil {
		t.Fatalf("PostNow = %v, want success despite archive failure", err)
	}
	if entry == nil || len(h.store.History(0)) != 1 {
		t.Fatal("history not recorded")
	}
	if !h.exists(dir) {
		t.Error("folder should remain after failed archive")
	}
	warned := false
	for _, w := range h.log.Warnings() {
		if strings.Contains(w, "could not be archived") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("warnings = %v", h.log.Warnings())
	}
}

func TestStartStopToggle(t *testing.T) {
	h := newHarness(t)
	if err := h.store.SetSchedulerEnabled(false); err != nil {
		t.Fatal(err)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sched.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !h.sched.IsRunning() || !h.store.SchedulerEnabled() {
		t.Fatal("not running after Start")
	}
	// Three slots plus the sync and keepalive triggers.
	if n := h.sched.engine.Len(); n != 5 {
		t.Errorf("engine events = %d, want 5", n)
	}
	if h.store.LoadState().NextPostTime == nil {
		t.Error("next post time not persisted")
	}

	running, err := h.sched.Toggle()
	if err != nil || running {
		t.Fatalf("Toggle = %v, %v, want stopped", running, err)
	}
	if h.sched.IsRunning() || h.store.SchedulerEnabled() {
		t.Error("still enabled after Toggle")
	}
	if err := h.sched.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if h.notifier.count(common.NotifySchedulerToggled) != 2 {
		t.Errorf("toggled notifications = %d, want 2", h.notifier.count(common.NotifySchedulerToggled))
	}
}

func TestShutdownKeepsEnabledFlag(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sched.Shutdown()
	if h.sched.IsRunning() {
		t.Fatal("still running after Shutdown")
	}
	if !h.store.SchedulerEnabled() {
		t.Error("Shutdown cleared scheduler_enabled")
	}
	h.sched.Shutdown()

	if err := h.sched.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !h.sched.IsRunning() {
		t.Error("Restore after Shutdown did not resume")
	}
	h.sched.Shutdown()
}

func TestUpdateTimes(t *testing.T) {
	h := newHarness(t)

	err := h.sched.UpdateTimes([]string{"10:00", "25:00"})
	var se *SchedulerError
	if !errors.As(err, &se) || !errors.Is(err, slots.ErrInvalidTime) || !strings.Contains(err.Error(), "25:00") {
		t.Fatalf("UpdateTimes invalid = %v", err)
	}
	if got := h.sched.Times(); !reflect.DeepEqual(got, common.DefaultPostTimes) {
		t.Errorf("times changed after invalid update: %v", got)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.UpdateTimes([]string{"18:30", "08:00"}); err != nil {
		t.Fatalf("UpdateTimes: %v", err)
	}
	want := []string{"08:00", "18:30"}
	if got := h.store.PostTimes(); !reflect.DeepEqual(got, want) {
		t.Errorf("persisted times = %v, want %v", got, want)
	}
	if !h.sched.IsRunning() {
		t.Error("scheduler stopped by UpdateTimes")
	}
	if n := h.sched.engine.Len(); n != 4 {
		t.Errorf("engine events = %d, want 4", n)
	}

	if err := h.sched.UpdateTimes(nil); err != nil {
		t.Fatalf("UpdateTimes(empty): %v", err)
	}
	if n := h.sched.engine.Len(); n != 2 {
		t.Errorf("engine events with no slots = %d, want sync and keepalive only", n)
	}
	if st := h.sched.Status(); st.NextPost != "No time configured" || st.NextPostAt != nil {
		t.Errorf("status with no slots = %+v", st)
	}
}

func TestResetStateKeepsHistoryAndRunState(t *testing.T) {
	h := newHarness(t)
	h.folder(t, "a", map[string]string{"1.jpg": "x"})
	h.folder(t, "b", map[string]string{"1.jpg": "x"})
	if _, err := h.sched.PostNow(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.UpdateTimes([]string{"12:00"}); err != nil {
		t.Fatal(err)
	}
	h.sched.SetPriority("b", 7)

	if err := h.sched.ResetState(); err != nil {
		t.Fatalf("ResetState: %v", err)
	}
	if got := h.sched.Times(); !reflect.DeepEqual(got, common.DefaultPostTimes) {
		t.Errorf("times = %v, want defaults", got)
	}
	if len(h.store.History(0)) != 1 {
		t.Error("history lost on reset")
	}
	if p := h.queue.Priorities(); len(p) != 0 {
		t.Errorf("priorities after reset = %v", p)
	}
	if h.sched.IsRunning() || h.store.SchedulerEnabled() {
		t.Error("reset changed the stopped scheduler's state")
	}
}

func TestRestore(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t)
		h.folder(t, "a", map[string]string{"1.jpg": "x"})
		h.folder(t, "b", map[string]string{"1.jpg": "x"})
		st := h.store.LoadState()
		st.SchedulerEnabled = false
		st.PostTimes = []string{"07:15"}
		st.QueuePriorities = map[string]int{"b": -1}
		if err := h.store.SaveState(st); err != nil {
			t.Fatal(err)
		}
		if err := h.sched.Restore(); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if h.sched.IsRunning() {
			t.Error("started although disabled")
		}
		if got := h.sched.Times(); !reflect.DeepEqual(got, []string{"07:15"}) {
			t.Errorf("times = %v", got)
		}
		if head, _ := h.queue.Peek(); head.Name != "b" {
			t.Errorf("head = %s, want b", head.Name)
		}
	})
	t.Run("enabled", func(t *testing.T) {
		h := newHarness(t)
		if err := h.sched.Restore(); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if !h.sched.IsRunning() {
			t.Error("default state should start the scheduler")
		}
	})
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.folder(t, "zeta", map[string]string{"1.jpg": "x"})
	h.folder(t, "alpha", map[string]string{"1.jpg": "x"})

	st := h.sched.Status()
	if st.Running || st.QueueSize != 2 || st.NextFolder != "alpha" {
		t.Errorf("status = %+v", st)
	}
	if st.NextPost != "Today at 15:00" {
		t.Errorf("NextPost = %q", st.NextPost)
	}
	if st.NextPostAt == nil || st.NextPostAt.Hour() != 15 {
		t.Errorf("NextPostAt = %v", st.NextPostAt)
	}
}

func TestMoveToFrontPersists(t *testing.T) {
	h := newHarness(t)
	h.folder(t, "a", map[string]string{"1.jpg": "x"})
	h.folder(t, "b", map[string]string{"1.jpg": "x"})
	if !h.sched.MoveToFront("b") {
		t.Fatal("MoveToFront(b) = false")
	}
	if h.sched.MoveToFront("nope") {
		t.Error("MoveToFront(nope) = true")
	}
	if got := h.store.LoadState().QueuePriorities; got["b"] != -1 {
		t.Errorf("persisted priorities = %v", got)
	}
	if list := h.sched.QueueList(); list[0].Folder != "b" {
		t.Errorf("queue = %+v", list)
	}
}

func TestSyncAndKeepAliveTriggers(t *testing.T) {
	h := newHarness(t, withSyncer("fresh"))

	h.sched.trigger(Event{ID: syncEventID})
	if h.syncer.calls != 1 || !h.queue.Contains("fresh") {
		t.Errorf("sync trigger: calls=%d queued=%v", h.syncer.calls, h.queue.Contains("fresh"))
	}
	if h.notifier.count(common.NotifySyncCompleted) != 1 {
		t.Error("sync.completed not sent")
	}

	h.sched.trigger(Event{ID: keepAliveID})
	if h.pinger.pings != 1 {
		t.Errorf("pings = %d", h.pinger.pings)
	}

	st, err := h.sched.SyncStatus(context.Background())
	if err != nil || st.RemoteCount != 1 {
		t.Errorf("SyncStatus = %+v, %v", st, err)
	}
}

func TestSyncDisabled(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sched.SyncNow(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("SyncNow = %v", err)
	}
	if _, err := h.sched.SyncStatus(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("SyncStatus = %v", err)
	}
	h.sched.trigger(Event{ID: syncEventID})
}

func TestCleanupPosted(t *testing.T) {
	h := newHarness(t)
	h.folder(t, "posted/old_20240101_120000", map[string]string{"1.jpg": "x"})
	h.folder(t, "posted/new_20240309_120000", map[string]string{"1.jpg": "x"})
	n, err := h.sched.CleanupPosted(30)
	if err != nil || n != 1 {
		t.Fatalf("CleanupPosted = %d, %v", n, err)
	}
	if _, err := h.sched.CleanupPosted(-1); err == nil {
		t.Error("negative days accepted")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New with empty options succeeded")
	}
}
