package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/slotpost/slotpost/common"
)

func TestVersionCommand(t *testing.T) {
	output := captureOutput(func() { run(t, "version") })
	assertContains(t, output, "slotpost 1.0.0-test")
}

func TestStatusCommand(t *testing.T) {
	last := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	newFakeDaemon(t, handler.Map{
		string(common.MethodStatus): handler.New(func(context.Context) (*common.StatusResult, error) {
			return &common.StatusResult{
				Response:   common.OK("ok"),
				Running:    true,
				PostTimes:  []string{"09:00", "15:00"},
				NextPost:   "Today at 15:00",
				QueueSize:  3,
				NextFolder: "beach-day",
				PostsToday: 1,
				LastPost:   &common.HistoryItem{Folder: "sunrise", Timestamp: last},
			}, nil
		}),
	})
	buf := captureOut(t)

	run(t, "status")

	got := buf.String()
	for _, want := range []string{
		"Scheduler:  running",
		"Post times: 09:00, 15:00",
		"Next post:  Today at 15:00",
		"3 folder(s), next up beach-day",
		"Last post:  sunrise (2 hours ago)",
	} {
		assertContains(t, got, want)
	}
}

func TestCommandsSendBearerToken(t *testing.T) {
	fd := newFakeDaemon(t, handler.Map{
		string(common.MethodToggle): handler.New(func(context.Context) (*common.ToggleResult, error) {
			return &common.ToggleResult{Response: common.OK("Scheduler started"), Running: true}, nil
		}),
	})
	buf := captureOut(t)

	run(t, "toggle")

	assertContains(t, buf.String(), "Scheduler started")
	hdrs := fd.headers()
	if len(hdrs) != 1 || hdrs[0] != "Bearer "+testSecret {
		t.Fatalf("authorization headers = %v", hdrs)
	}
}

func TestQueueCommand(t *testing.T) {
	var (
		mu       sync.Mutex
		front    []string
		priority []common.PriorityParams
	)
	newFakeDaemon(t, handler.Map{
		string(common.MethodQueueList): handler.New(func(context.Context) (*common.QueueListResult, error) {
			return &common.QueueListResult{
				Response: common.OK("ok"),
				Items: []common.QueueItem{
					{Position: 1, Folder: "beach-day", Priority: -1},
					{Position: 2, Folder: "city-lights"},
				},
				Total: 2,
			}, nil
		}),
		string(common.MethodQueueFront): handler.New(func(_ context.Context, p *common.FolderParams) (*common.Response, error) {
			mu.Lock()
			front = append(front, p.Folder)
			mu.Unlock()
			r := common.OK(p.Folder + " moved to the front")
			return &r, nil
		}),
		string(common.MethodQueuePriority): handler.New(func(_ context.Context, p *common.PriorityParams) (*common.Response, error) {
			mu.Lock()
			priority = append(priority, *p)
			mu.Unlock()
			r := common.OK("priority set")
			return &r, nil
		}),
	})

	t.Run("list", func(t *testing.T) {
		buf := captureOut(t)
		run(t, "queue")
		got := buf.String()
		assertContains(t, got, "2 folder(s) queued")
		assertContains(t, got, "beach-day")
		assertContains(t, got, "city-lights")
	})

	t.Run("front", func(t *testing.T) {
		buf := captureOut(t)
		run(t, "queue", "--front", "city-lights")
		assertContains(t, buf.String(), "city-lights moved to the front")
	})

	t.Run("priority", func(t *testing.T) {
		captureOut(t)
		run(t, "queue", "--priority", "beach-day=-5")
	})

	t.Run("bad priority", func(t *testing.T) {
		captureOut(t)
		output := captureOutput(func() { run(t, "queue", "--priority", "beach-day") })
		assertContains(t, output, "expected FOLDER=N")
	})

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(front, []string{"city-lights"}) {
		t.Errorf("front calls = %v", front)
	}
	want := []common.PriorityParams{{Folder: "beach-day", Priority: -5}}
	if !reflect.DeepEqual(priority, want) {
		t.Errorf("priority calls = %+v, want %+v", priority, want)
	}
}

func TestPostCommand(t *testing.T) {
	var got []string
	var mu sync.Mutex
	newFakeDaemon(t, handler.Map{
		string(common.MethodPostNow): handler.New(func(_ context.Context, p *common.FolderParams) (*common.PostResult, error) {
			mu.Lock()
			got = append(got, p.Folder)
			mu.Unlock()
			if p.Folder == "missing" {
				return nil, &jrpc2.Error{Code: -32002, Message: "folder not found: missing"}
			}
			name := p.Folder
			if name == "" {
				name = "beach-day"
			}
			return &common.PostResult{
				Response: common.OK(name + " published as carousel"),
				Entry:    &common.HistoryItem{Folder: name, Type: "carousel", Slides: 4},
			}, nil
		}),
	})

	buf := captureOut(t)
	run(t, "post")
	assertContains(t, buf.String(), "beach-day published as carousel")
	assertContains(t, buf.String(), "4 slide(s)")

	output := captureOutput(func() { run(t, "post", "missing") })
	assertContains(t, output, "post[post_now]: folder not found: missing")

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"", "missing"}) {
		t.Errorf("folders sent = %q", got)
	}
}

func TestTimesCommand(t *testing.T) {
	var updates [][]string
	var mu sync.Mutex
	newFakeDaemon(t, handler.Map{
		string(common.MethodTimesGet): handler.New(func(context.Context) (*common.TimesResult, error) {
			return &common.TimesResult{Response: common.OK("ok"), NextPost: "No time configured"}, nil
		}),
		string(common.MethodTimesUpdate): handler.New(func(_ context.Context, p *common.TimesParams) (*common.TimesResult, error) {
			mu.Lock()
			updates = append(updates, p.Times)
			mu.Unlock()
			return &common.TimesResult{Response: common.OK("ok"), Times: p.Times, NextPost: "Today at 21:00"}, nil
		}),
	})

	buf := captureOut(t)
	run(t, "times")
	assertContains(t, buf.String(), "Post times: none")
	assertContains(t, buf.String(), "No time configured")

	buf.Reset()
	run(t, "times", "09:00", "21:00,13:00")
	assertContains(t, buf.String(), "Post times: 09:00, 21:00, 13:00")

	mu.Lock()
	defer mu.Unlock()
	if want := [][]string{{"09:00", "21:00", "13:00"}}; !reflect.DeepEqual(updates, want) {
		t.Errorf("updates = %v, want %v", updates, want)
	}
}

func TestHistoryCommand(t *testing.T) {
	var limits []int
	var mu sync.Mutex
	record := func(n int) {
		mu.Lock()
		limits = append(limits, n)
		mu.Unlock()
	}
	newFakeDaemon(t, handler.Map{
		string(common.MethodHistoryList): handler.New(func(_ context.Context, p *common.LimitParams) (*common.HistoryResult, error) {
			record(p.Limit)
			return &common.HistoryResult{
				Response: common.OK("ok"),
				Entries: []common.HistoryItem{{
					Folder: "sunrise", Type: "single", Slides: 1,
					Timestamp: time.Now().Add(-time.Minute).Format(time.RFC3339),
				}},
			}, nil
		}),
		string(common.MethodLedgerRecent): handler.New(func(_ context.Context, p *common.LimitParams) (*common.LedgerResult, error) {
			record(p.Limit)
			return &common.LedgerResult{
				Response: common.OK("ok"),
				Rows: []common.LedgerRow{
					{Folder: "city-lights", Trigger: "manual", Type: "carousel", Error: "rejected", PostedAt: time.Now()},
					{Folder: "sunrise", Trigger: "slot", Type: "single", RemoteID: "m-1", PostedAt: time.Now()},
				},
			}, nil
		}),
	})

	buf := captureOut(t)
	run(t, "history", "--limit", "5")
	assertContains(t, buf.String(), "sunrise")
	assertContains(t, buf.String(), "1 slide(s)")

	buf.Reset()
	run(t, "history", "--ledger")
	assertContains(t, buf.String(), "FAILED: rejected")
	assertContains(t, buf.String(), "ok m-1")

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(limits, []int{5, 0}) {
		t.Errorf("limits = %v", limits)
	}
}

func TestStatsCommand(t *testing.T) {
	newFakeDaemon(t, handler.Map{
		string(common.MethodHistoryStats): handler.New(func(context.Context) (*common.StatsResult, error) {
			return &common.StatsResult{
				Response:      common.OK("ok"),
				TotalPosts:    1234,
				PostsToday:    2,
				PostsThisWeek: 9,
				Pending:       4,
				Failures:      1,
			}, nil
		}),
	})
	buf := captureOut(t)
	run(t, "stats")
	assertContains(t, buf.String(), "Total posts: 1,234")
	assertContains(t, buf.String(), "Failures:    1")
}

func TestSyncCommand(t *testing.T) {
	newFakeDaemon(t, handler.Map{
		string(common.MethodSyncRun): handler.New(func(context.Context) (*common.SyncResult, error) {
			return &common.SyncResult{Response: common.OK("Downloaded 1 folder(s)"), Downloaded: []string{"fresh"}, Count: 1}, nil
		}),
		string(common.MethodSyncStatus): handler.New(func(context.Context) (*common.SyncStatusResult, error) {
			return &common.SyncStatusResult{
				Response:     common.OK("ok"),
				RemoteCount:  5,
				LocalCount:   3,
				PendingCount: 2,
				PendingNames: []string{"a", "b"},
			}, nil
		}),
	})

	buf := captureOut(t)
	run(t, "sync")
	assertContains(t, buf.String(), "Downloaded 1 folder(s)")
	assertContains(t, buf.String(), "+ fresh")

	buf.Reset()
	run(t, "sync", "--status")
	assertContains(t, buf.String(), "Remote folders: 5")
	assertContains(t, buf.String(), "Pending sync:   2")
}

func TestCleanupCommand(t *testing.T) {
	var days []int
	var mu sync.Mutex
	newFakeDaemon(t, handler.Map{
		string(common.MethodContentCleanup): handler.New(func(_ context.Context, p *common.CleanupParams) (*common.CleanupResult, error) {
			mu.Lock()
			days = append(days, p.Days)
			mu.Unlock()
			return &common.CleanupResult{Response: common.OK("removed 0 folder(s)")}, nil
		}),
	})
	captureOut(t)
	run(t, "cleanup")
	run(t, "cleanup", "--days", "7")

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(days, []int{common.DefaultCleanupDays, 7}) {
		t.Errorf("days = %v", days)
	}
}

func TestDialDaemonRequiresSecret(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(common.RPCSecretEnv, "")
	t.Setenv(common.PublishURLEnv, "")
	t.Setenv(common.RemoteURLEnv, "")
	old := configPath
	configPath = filepath.Join(t.TempDir(), "none.toml")
	defer func() { configPath = old }()

	_, err := dialDaemon()
	if !errors.Is(err, ErrNoSecret) {
		t.Fatalf("err = %v, want ErrNoSecret", err)
	}
}

func TestRPCMessage(t *testing.T) {
	err := rpcMessage(&jrpc2.Error{Code: -32003, Message: "publish rejected"})
	if err.Error() != "publish rejected" {
		t.Errorf("rpcMessage = %q", err)
	}
	plain := errors.New("dial tcp: refused")
	if rpcMessage(plain) != plain {
		t.Error("non-RPC errors should pass through")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    common.PriorityParams
		wantErr bool
	}{
		{in: "beach-day=3", want: common.PriorityParams{Folder: "beach-day", Priority: 3}},
		{in: " beach-day = -2 ", want: common.PriorityParams{Folder: "beach-day", Priority: -2}},
		{in: "beach-day", wantErr: true},
		{in: "=4", wantErr: true},
		{in: "beach-day=high", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parsePriority(tt.in)
		if tt.wantErr {
			if !errors.Is(err, errPriorityFormat) {
				t.Errorf("parsePriority(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parsePriority(%q) = %+v, %v", tt.in, got, err)
		}
	}
}

func TestSplitTimes(t *testing.T) {
	got := splitTimes([]string{"09:00", "13:00, 21:00", " ", ","})
	want := []string{"09:00", "13:00", "21:00"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitTimes = %v, want %v", got, want)
	}
}

func TestPrintQueueEmptyAndTruncated(t *testing.T) {
	var b strings.Builder
	printQueue(&b, &common.QueueListResult{})
	assertContains(t, b.String(), "the queue is empty")

	b.Reset()
	long := strings.Repeat("x", 40)
	printQueue(&b, &common.QueueListResult{Items: []common.QueueItem{{Position: 1, Folder: long}}, Total: 1})
	assertContains(t, b.String(), strings.Repeat("x", 22)+"...")
}

func TestRelTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := relTime(now.Add(-3*time.Hour).Format(time.RFC3339), now); got != "3 hours ago" {
		t.Errorf("relTime = %q", got)
	}
	if got := relTime("yesterday-ish", now); got != "yesterday-ish" {
		t.Errorf("relTime fallback = %q", got)
	}
}
