package common

import (
	"encoding/json"
	"time"
)

// Response is embedded in every administrative result.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OK returns a successful Response carrying message.
func OK(message string) Response {
	return Response{Success: true, Message: message}
}

type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// HistoryItem is one published folder.
type HistoryItem struct {
	Folder    string          `json:"folder"`
	Type      string          `json:"type"`
	Slides    int             `json:"slides"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// StatusResult is the response for scheduler.status.
type StatusResult struct {
	Response
	Running    bool         `json:"running"`
	Enabled    bool         `json:"enabled"`
	PostTimes  []string     `json:"post_times"`
	NextPost   string       `json:"next_post"`
	NextPostAt *time.Time   `json:"next_post_at,omitempty"`
	QueueSize  int          `json:"queue_size"`
	NextFolder string       `json:"next_folder,omitempty"`
	InFlight   []string     `json:"in_flight,omitempty"`
	PostsToday int          `json:"posts_today"`
	LastPost   *HistoryItem `json:"last_post,omitempty"`
}

// ToggleResult is the response for scheduler.toggle.
type ToggleResult struct {
	Response
	Running bool `json:"running"`
}

// QueueItem is a positioned queue entry.
type QueueItem struct {
	Position int    `json:"position"`
	Folder   string `json:"folder"`
	Priority int    `json:"priority"`
}

// QueueListResult is the response for queue.list.
type QueueListResult struct {
	Response
	Items []QueueItem `json:"items"`
	Total int         `json:"total"`
}

// FolderParams names a content folder.
type FolderParams struct {
	Folder string `json:"folder"`
}

// PriorityParams is the input for queue.setPriority.
type PriorityParams struct {
	Folder   string `json:"folder"`
	Priority int    `json:"priority"`
}

// LimitParams bounds list results. Zero selects the server default.
type LimitParams struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResult is the response for history.list.
type HistoryResult struct {
	Response
	Entries []HistoryItem `json:"entries"`
}

// StatsResult is the response for history.stats.
type StatsResult struct {
	Response
	TotalPosts    int          `json:"total_posts"`
	PostsToday    int          `json:"posts_today"`
	PostsThisWeek int          `json:"posts_this_week"`
	LastPost      *HistoryItem `json:"last_post,omitempty"`
	Pending       int          `json:"pending"`
	Failures      int          `json:"failures"`
}

// LedgerRow is one recorded publish attempt.
type LedgerRow struct {
	ID       string    `json:"id"`
	Folder   string    `json:"folder"`
	Type     string    `json:"type,omitempty"`
	Slides   int       `json:"slides"`
	Trigger  string    `json:"trigger"`
	RemoteID string    `json:"remote_id,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// LedgerResult is the response for ledger.recent.
type LedgerResult struct {
	Response
	Rows []LedgerRow `json:"rows"`
}

// PostResult is the response for post.now.
type PostResult struct {
	Response
	Entry *HistoryItem `json:"entry,omitempty"`
}

// TimesParams is the input for times.update.
type TimesParams struct {
	Times []string `json:"times"`
}

// TimesResult is the response for times.get and times.update.
type TimesResult struct {
	Response
	Times    []string `json:"times"`
	NextPost string   `json:"next_post"`
}

// SyncResult is the response for sync.run.
type SyncResult struct {
	Response
	Downloaded []string `json:"downloaded"`
	Count      int      `json:"count"`
}

// SyncStatusResult is the response for sync.status.
type SyncStatusResult struct {
	Response
	RemoteCount  int      `json:"remote_count"`
	LocalCount   int      `json:"local_count"`
	PendingCount int      `json:"pending_sync"`
	PendingNames []string `json:"pending_names,omitempty"`
}

// CleanupParams is the input for content.cleanup.
type CleanupParams struct {
	Days int `json:"days"`
}

// CleanupResult is the response for content.cleanup.
type CleanupResult struct {
	Response
	Removed int `json:"removed"`
}
