package common

// Method is a JSON-RPC method name exposed by the daemon.
type Method string

const (
	MethodVersion        Method = "system.getVersion"
	MethodStatus         Method = "scheduler.status"
	MethodToggle         Method = "scheduler.toggle"
	MethodReset          Method = "scheduler.reset"
	MethodQueueList      Method = "queue.list"
	MethodQueueFront     Method = "queue.moveToFront"
	MethodQueuePriority  Method = "queue.setPriority"
	MethodHistoryList    Method = "history.list"
	MethodHistoryStats   Method = "history.stats"
	MethodLedgerRecent   Method = "ledger.recent"
	MethodPostNow        Method = "post.now"
	MethodTimesGet       Method = "times.get"
	MethodTimesUpdate    Method = "times.update"
	MethodSyncRun        Method = "sync.run"
	MethodSyncStatus     Method = "sync.status"
	MethodContentCleanup Method = "content.cleanup"
)

// Notification is a push notification method sent to WebSocket clients.
type Notification string

const (
	NotifyPostPublished    Notification = "post.published"
	NotifyPostFailed       Notification = "post.failed"
	NotifySyncCompleted    Notification = "sync.completed"
	NotifySchedulerToggled Notification = "scheduler.toggled"
)

// Defaults shared by the daemon configuration and the CLI client.
const (
	DefaultTimezone    = "America/Sao_Paulo"
	DefaultContentPath = "./content/posts"
	DefaultDataPath    = "./data"
	DefaultAPIHost     = "127.0.0.1"
	DefaultAPIPort     = 8000
	DefaultHistorySize = 20
	DefaultCleanupDays = 30
)

// DefaultPostTimes are the daily slots used when nothing is configured.
var DefaultPostTimes = []string{"09:00", "15:00", "21:00"}
