// Package state persists the scheduler state (state.json) and the capped,
// newest-first post history (posted.json).
//
// Loading never fails: a missing or corrupt state file yields the default
// state so a damaged file can not keep the daemon from starting. Writes are
// encoded in memory first, written to a temporary file and renamed over the
// target.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
)

// MaxHistory is the number of entries kept in posted.json.
const MaxHistory = 100

// State is the scheduler state document.
type State struct {
	SchedulerEnabled bool           `json:"scheduler_enabled"`
	PostTimes        []string       `json:"post_times"`
	LastPostTime     *time.Time     `json:"last_post_time"`
	NextPostTime     *time.Time     `json:"next_post_time"`
	PostsToday       int            `json:"posts_today"`
	QueuePriorities  map[string]int `json:"queue_priorities,omitempty"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// HistoryEntry records one publish attempt.
type HistoryEntry struct {
	Folder    string          `json:"folder"`
	Type      string          `json:"type"`
	Slides    int             `json:"slides"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Time parses the entry timestamp.
func (e HistoryEntry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Timestamp)
}

// Stats are derived from the stored history.
type Stats struct {
	TotalPosts    int           `json:"total_posts"`
	PostsToday    int           `json:"posts_today"`
	PostsThisWeek int           `json:"posts_this_week"`
	LastPost      *HistoryEntry `json:"last_post"`
}

// Options configure a Store.
type Options struct {
	StatePath    string
	HistoryPath  string
	DefaultTimes []string
	Location     *time.Location
	Log          logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store reads and writes the state and history files. Writers are serialized
// in-process; readers may observe the previous or the new document.
type Store struct {
	fs           afero.Fs
	statePath    string
	historyPath  string
	defaultTimes []string
	loc          *time.Location
	log          logger.Logger
	now          func() time.Time
	mu           sync.Mutex
}

// NewStore creates a store on fsys and makes sure the parent directories
// exist.
func NewStore(fsys afero.Fs, opts Options) (*Store, error) {
	s := &Store{
		fs:           fsys,
		statePath:    opts.StatePath,
		historyPath:  opts.HistoryPath,
		defaultTimes: append([]string{}, opts.DefaultTimes...),
		loc:          opts.Location,
		log:          logger.OrNop(opts.Log),
		now:          opts.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, p := range []string{s.statePath, s.historyPath} {
		if err := fsys.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, &StateError{Op: "mkdir", Path: p, Err: err}
		}
	}
	return s, nil
}

// DefaultState returns the state used when nothing valid is on disk.
func (s *Store) DefaultState() *State {
	return &State{
		SchedulerEnabled: true,
		PostTimes:        append([]string{}, s.defaultTimes...),
		LastUpdated:      s.now().In(s.loc),
	}
}

// LoadState returns the persisted state, or the default state when the file
// is missing or can not be decoded.
func (s *Store) LoadState() *State {
	data, err := afero.ReadFile(s.fs, s.statePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warning("state: read %s: %v, using defaults", s.statePath, err)
		}
		return s.DefaultState()
	}
	st := &State{SchedulerEnabled: true}
	if err := json.Unmarshal(data, st); err != nil {
		s.log.Warning("state: decode %s: %v, using defaults", s.statePath, err)
		return s.DefaultState()
	}
	// An absent key means "never configured"; an explicit [] is kept.
	if st.PostTimes == nil {
		st.PostTimes = append([]string{}, s.defaultTimes...)
	}
	return st
}

// SaveState stamps LastUpdated and writes st.
func (s *Store) SaveState(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveStateLocked(st)
}

func (s *Store) saveStateLocked(st *State) error {
	st.LastUpdated = s.now().In(s.loc)
	return s.writeJSON("save state", s.statePath, st)
}

// update applies fn to the current state and saves it.
func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.LoadState()
	fn(st)
	return s.saveStateLocked(st)
}

// SetSchedulerEnabled persists the enabled flag.
func (s *Store) SetSchedulerEnabled(enabled bool) error {
	return s.update(func(st *State) { st.SchedulerEnabled = enabled })
}

// SchedulerEnabled reports the persisted enabled flag.
func (s *Store) SchedulerEnabled() bool {
	return s.LoadState().SchedulerEnabled
}

// UpdatePostTimes persists the slot list.
func (s *Store) UpdatePostTimes(times []string) error {
	return s.update(func(st *State) { st.PostTimes = append([]string{}, times...) })
}

// PostTimes returns the persisted slot list.
func (s *Store) PostTimes() []string {
	return s.LoadState().PostTimes
}

// SetNextPostTime persists the next scheduled slot; nil clears it.
func (s *Store) SetNextPostTime(next *time.Time) error {
	return s.update(func(st *State) { st.NextPostTime = next })
}

// SetQueuePriorities persists queue priority overrides.
func (s *Store) SetQueuePriorities(p map[string]int) error {
	return s.update(func(st *State) {
		if len(p) == 0 {
			st.QueuePriorities = nil
			return
		}
		st.QueuePriorities = p
	})
}

// RecordPost updates the last post time and the posts-today counter, which
// restarts at zero on a new calendar day.
func (s *Store) RecordPost(at time.Time) error {
	at = at.In(s.loc)
	return s.update(func(st *State) {
		if st.LastPostTime == nil || !sameDay(st.LastPostTime.In(s.loc), at) {
			st.PostsToday = 0
		}
		st.PostsToday++
		st.LastPostTime = &at
	})
}

// ClearState overwrites the state with the default state. History is kept.
func (s *Store) ClearState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveStateLocked(s.DefaultState())
}

// AddToHistory prepends e, stamping the timestamp when empty, and keeps the
// newest MaxHistory entries.
func (s *Store) AddToHistory(e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp == "" {
		e.Timestamp = s.now().In(s.loc).Format(time.RFC3339)
	}
	prev, err := s.loadHistory()
	if err != nil {
		return &StateError{Op: "save history", Path: s.historyPath, Err: err}
	}
	history := append([]HistoryEntry{e}, prev...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	return s.writeJSON("save history", s.historyPath, history)
}

// History returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) History(limit int) []HistoryEntry {
	h := s.readHistory()
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return h
}

// LastPost returns the newest history entry.
func (s *Store) LastPost() (HistoryEntry, bool) {
	h := s.History(1)
	if len(h) == 0 {
		return HistoryEntry{}, false
	}
	return h[0], true
}

// Stats derives counts from the history. Entries with malformed timestamps
// count toward the total but not toward the daily or weekly windows.
func (s *Store) Stats() Stats {
	h := s.readHistory()
	st := Stats{TotalPosts: len(h)}
	if len(h) == 0 {
		return st
	}
	last := h[0]
	st.LastPost = &last

	now := s.now().In(s.loc)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, e := range h {
		t, err := e.Time()
		if err != nil {
			continue
		}
		if sameDay(t.In(s.loc), now) {
			st.PostsToday++
		}
		if t.After(weekAgo) {
			st.PostsThisWeek++
		}
	}
	return st
}

// ClearHistory empties posted.json.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON("clear history", s.historyPath, []HistoryEntry{})
}

func (s *Store) readHistory() []HistoryEntry {
	h, err := s.loadHistory()
	if err != nil {
		s.log.Warning("state: read %s: %v", s.historyPath, err)
	}
	return h
}

// loadHistory treats a missing or corrupt file as empty and reports any
// other read failure, so an unreadable history is never overwritten.
func (s *Store) loadHistory() ([]HistoryEntry, error) {
	data, err := afero.ReadFile(s.fs, s.historyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var h []HistoryEntry
	if err := json.Unmarshal(data, &h); err != nil {
		s.log.Warning("state: decode %s: %v", s.historyPath, err)
		return nil, nil
	}
	return h, nil
}

// writeJSON encodes v into a buffer first so an encoding error never
// truncates the target, then writes a temporary file and renames it.
func (s *Store) writeJSON(op, path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return &StateError{Op: op, Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0644); err != nil {
		return &StateError{Op: op, Path: path, Err: err}
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return &StateError{Op: op, Path: path, Err: err}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
