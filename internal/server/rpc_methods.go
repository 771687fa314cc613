package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/ledger"
	"github.com/slotpost/slotpost/internal/publish"
	"github.com/slotpost/slotpost/internal/queue"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/scheduler"
	"github.com/slotpost/slotpost/internal/slots"
	"github.com/slotpost/slotpost/internal/state"
)

// JSON-RPC error codes for administrative failures.
const (
	codeScheduler     = jrpc2.Code(-32001)
	codeContent       = jrpc2.Code(-32002)
	codePublish       = jrpc2.Code(-32003)
	codeState         = jrpc2.Code(-32004)
	codeInvalidParams = jrpc2.Code(-32602)
)

const defaultLedgerLimit = 50

// Scheduler is the part of *scheduler.PostScheduler the admin surface drives.
type Scheduler interface {
	Status() scheduler.Status
	Toggle() (bool, error)
	ResetState() error
	QueueList() []queue.Entry
	MoveToFront(name string) bool
	SetPriority(name string, priority int) bool
	History(limit int) []state.HistoryEntry
	Stats() state.Stats
	PostNow(ctx context.Context, name string) (*state.HistoryEntry, error)
	Times() []string
	UpdateTimes(times []string) error
	SyncNow(ctx context.Context) ([]string, error)
	SyncStatus(ctx context.Context) (remotesync.Status, error)
	CleanupPosted(days int) (int, error)
}

// LedgerReader is the read side of the post ledger.
type LedgerReader interface {
	Recent(ctx context.Context, limit int) ([]ledger.Row, error)
	Count(ctx context.Context) (ledger.Counts, error)
}

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret    string // Bearer token; empty rejects every call
	Version   string
	Commit    string
	BuildType string
}

// RPCServer owns the method table shared by the HTTP bridge and every
// WebSocket connection.
type RPCServer struct {
	methods   handler.Map
	bridge    jhttp.Bridge
	secret    string
	version   string
	commit    string
	buildType string
	sched     Scheduler
	ledger    LedgerReader
}

// NewRPCServer creates an RPCServer. led may be nil, in which case
// ledger.recent fails with a state error.
func NewRPCServer(cfg *RPCConfig, sched Scheduler, led LedgerReader) *RPCServer {
	rs := &RPCServer{
		secret:    cfg.Secret,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildType: cfg.BuildType,
		sched:     sched,
		ledger:    led,
	}
	rs.methods = handler.Map{
		string(common.MethodVersion):        handler.New(rs.systemGetVersion),
		string(common.MethodStatus):         handler.New(rs.schedulerStatus),
		string(common.MethodToggle):         handler.New(rs.schedulerToggle),
		string(common.MethodReset):          handler.New(rs.schedulerReset),
		string(common.MethodQueueList):      handler.New(rs.queueList),
		string(common.MethodQueueFront):     handler.New(rs.queueMoveToFront),
		string(common.MethodQueuePriority):  handler.New(rs.queueSetPriority),
		string(common.MethodHistoryList):    handler.New(rs.historyList),
		string(common.MethodHistoryStats):   handler.New(rs.historyStats),
		string(common.MethodLedgerRecent):   handler.New(rs.ledgerRecent),
		string(common.MethodPostNow):        handler.New(rs.postNow),
		string(common.MethodTimesGet):       handler.New(rs.timesGet),
		string(common.MethodTimesUpdate):    handler.New(rs.timesUpdate),
		string(common.MethodSyncRun):        handler.New(rs.syncRun),
		string(common.MethodSyncStatus):     handler.New(rs.syncStatus),
		string(common.MethodContentCleanup): handler.New(rs.contentCleanup),
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.buildType,
	}, nil
}

func (rs *RPCServer) schedulerStatus(_ context.Context) (*common.StatusResult, error) {
	st := rs.sched.Status()
	return &common.StatusResult{
		Response:   common.OK("ok"),
		Running:    st.Running,
		Enabled:    st.Enabled,
		PostTimes:  st.PostTimes,
		NextPost:   st.NextPost,
		NextPostAt: st.NextPostAt,
		QueueSize:  st.QueueSize,
		NextFolder: st.NextFolder,
		InFlight:   st.InFlight,
		PostsToday: st.PostsToday,
		LastPost:   historyItemPtr(st.LastPost),
	}, nil
}

func (rs *RPCServer) schedulerToggle(_ context.Context) (*common.ToggleResult, error) {
	running, err := rs.sched.Toggle()
	if err != nil {
		return nil, rpcError(err)
	}
	msg := "Scheduler stopped"
	if running {
		msg = "Scheduler started"
	}
	return &common.ToggleResult{Response: common.OK(msg), Running: running}, nil
}

func (rs *RPCServer) schedulerReset(_ context.Context) (*common.Response, error) {
	if err := rs.sched.ResetState(); err != nil {
		return nil, rpcError(err)
	}
	r := common.OK("State reset")
	return &r, nil
}

func (rs *RPCServer) queueList(_ context.Context) (*common.QueueListResult, error) {
	entries := rs.sched.QueueList()
	items := make([]common.QueueItem, len(entries))
	for i, e := range entries {
		items[i] = common.QueueItem{Position: e.Position, Folder: e.Folder, Priority: e.Priority}
	}
	return &common.QueueListResult{
		Response: common.OK(fmt.Sprintf("%d folder(s) queued", len(items))),
		Items:    items,
		Total:    len(items),
	}, nil
}

func (rs *RPCServer) queueMoveToFront(_ context.Context, p *common.FolderParams) (*common.Response, error) {
	if p.Folder == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: folder"}
	}
	if !rs.sched.MoveToFront(p.Folder) {
		return nil, &jrpc2.Error{Code: codeContent, Message: "folder not queued: " + p.Folder}
	}
	r := common.OK(p.Folder + " moved to the front of the queue")
	return &r, nil
}

func (rs *RPCServer) queueSetPriority(_ context.Context, p *common.PriorityParams) (*common.Response, error) {
	if p.Folder == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: folder"}
	}
	if !rs.sched.SetPriority(p.Folder, p.Priority) {
		return nil, &jrpc2.Error{Code: codeContent, Message: "folder not queued: " + p.Folder}
	}
	r := common.OK(fmt.Sprintf("%s priority set to %d", p.Folder, p.Priority))
	return &r, nil
}

func (rs *RPCServer) historyList(_ context.Context, p *common.LimitParams) (*common.HistoryResult, error) {
	if p.Limit < 0 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "limit must not be negative"}
	}
	limit := p.Limit
	if limit == 0 {
		limit = common.DefaultHistorySize
	}
	hist := rs.sched.History(limit)
	entries := make([]common.HistoryItem, len(hist))
	for i, e := range hist {
		entries[i] = historyItem(e)
	}
	return &common.HistoryResult{Response: common.OK(fmt.Sprintf("%d entries", len(entries))), Entries: entries}, nil
}

func (rs *RPCServer) historyStats(ctx context.Context) (*common.StatsResult, error) {
	st := rs.sched.Stats()
	res := &common.StatsResult{
		Response:      common.OK("ok"),
		TotalPosts:    st.TotalPosts,
		PostsToday:    st.PostsToday,
		PostsThisWeek: st.PostsThisWeek,
		LastPost:      historyItemPtr(st.LastPost),
		Pending:       rs.sched.Status().QueueSize,
	}
	if rs.ledger != nil {
		if c, err := rs.ledger.Count(ctx); err == nil {
			res.Failures = c.Failures
		}
	}
	return res, nil
}

func (rs *RPCServer) ledgerRecent(ctx context.Context, p *common.LimitParams) (*common.LedgerResult, error) {
	if rs.ledger == nil {
		return nil, &jrpc2.Error{Code: codeState, Message: "ledger is not configured"}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	rows, err := rs.ledger.Recent(ctx, limit)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeState, Message: err.Error()}
	}
	out := make([]common.LedgerRow, len(rows))
	for i, r := range rows {
		out[i] = common.LedgerRow{
			ID:       r.ID,
			Folder:   r.Folder,
			Type:     r.Type,
			Slides:   r.Slides,
			Trigger:  r.Trigger,
			RemoteID: r.RemoteID,
			Code:     r.Code,
			Error:    r.Error,
			PostedAt: r.PostedAt,
		}
	}
	return &common.LedgerResult{Response: common.OK(fmt.Sprintf("%d row(s)", len(out))), Rows: out}, nil
}

// postNow publishes the named folder, or the head of the queue. It blocks
// until the publish finishes.
func (rs *RPCServer) postNow(ctx context.Context, p *common.FolderParams) (*common.PostResult, error) {
	if p.Folder != "" && !content.ValidName(p.Folder) {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "invalid folder name: " + p.Folder}
	}
	entry, err := rs.sched.PostNow(ctx, p.Folder)
	if err != nil {
		return nil, rpcError(err)
	}
	item := historyItem(*entry)
	return &common.PostResult{
		Response: common.OK(fmt.Sprintf("%s published as %s", entry.Folder, entry.Type)),
		Entry:    &item,
	}, nil
}

func (rs *RPCServer) timesGet(_ context.Context) (*common.TimesResult, error) {
	return &common.TimesResult{
		Response: common.OK("ok"),
		Times:    rs.sched.Times(),
		NextPost: rs.sched.Status().NextPost,
	}, nil
}

func (rs *RPCServer) timesUpdate(_ context.Context, p *common.TimesParams) (*common.TimesResult, error) {
	if err := rs.sched.UpdateTimes(p.Times); err != nil {
		return nil, rpcError(err)
	}
	times := rs.sched.Times()
	return &common.TimesResult{
		Response: common.OK(fmt.Sprintf("Post times updated to %v", times)),
		Times:    times,
		NextPost: rs.sched.Status().NextPost,
	}, nil
}

func (rs *RPCServer) syncRun(ctx context.Context) (*common.SyncResult, error) {
	downloaded, err := rs.sched.SyncNow(ctx)
	if err != nil && len(downloaded) == 0 {
		return nil, rpcError(err)
	}
	if downloaded == nil {
		downloaded = []string{}
	}
	res := &common.SyncResult{
		Response:   common.OK(fmt.Sprintf("%d new folder(s) downloaded", len(downloaded))),
		Downloaded: downloaded,
		Count:      len(downloaded),
	}
	if err != nil {
		res.Message += "; some folders failed: " + err.Error()
	}
	return res, nil
}

func (rs *RPCServer) syncStatus(ctx context.Context) (*common.SyncStatusResult, error) {
	st, err := rs.sched.SyncStatus(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.SyncStatusResult{
		Response:     common.OK(fmt.Sprintf("%d folder(s) waiting to sync", st.PendingCount)),
		RemoteCount:  st.RemoteCount,
		LocalCount:   st.LocalCount,
		PendingCount: st.PendingCount,
		PendingNames: st.PendingNames,
	}, nil
}

func (rs *RPCServer) contentCleanup(_ context.Context, p *common.CleanupParams) (*common.CleanupResult, error) {
	if p.Days < 0 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "days must not be negative"}
	}
	days := p.Days
	if days == 0 {
		days = common.DefaultCleanupDays
	}
	n, err := rs.sched.CleanupPosted(days)
	if err != nil && n == 0 {
		return nil, rpcError(err)
	}
	return &common.CleanupResult{
		Response: common.OK(fmt.Sprintf("%d archived folder(s) older than %d days removed", n, days)),
		Removed:  n,
	}, nil
}

// rpcError maps the error taxonomy onto JSON-RPC codes. Publish failures
// are checked first because a failed post wraps them in a SchedulerError.
func rpcError(err error) *jrpc2.Error {
	var (
		pe *publish.PublishError
		ce *content.ContentError
		se *state.StateError
	)
	code := codeScheduler
	switch {
	case errors.As(err, &pe):
		code = codePublish
	case errors.Is(err, slots.ErrInvalidTime):
		code = codeInvalidParams
	case errors.As(err, &ce), errors.Is(err, scheduler.ErrFolderNotFound):
		code = codeContent
	case errors.As(err, &se):
		code = codeState
	}
	return &jrpc2.Error{Code: code, Message: err.Error()}
}

func historyItem(e state.HistoryEntry) common.HistoryItem {
	return common.HistoryItem{
		Folder:    e.Folder,
		Type:      e.Type,
		Slides:    e.Slides,
		Result:    e.Result,
		Timestamp: e.Timestamp,
	}
}

func historyItemPtr(e *state.HistoryEntry) *common.HistoryItem {
	if e == nil {
		return nil
	}
	h := historyItem(*e)
	return &h
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}
