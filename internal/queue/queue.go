// Package queue holds the ordered set of content folders waiting to be
// published. Items are ordered by priority (lower first) and then by
// case-insensitive folder name, so the order is reproducible from folder
// names alone.
package queue

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPriority is assigned to folders discovered by Refresh.
const DefaultPriority = 0

// Source lists the folders that are ready to be queued. content.Library
// satisfies it.
type Source interface {
	Pending() ([]string, error)
	Exists(path string) bool
}

// Item is a queued content folder.
type Item struct {
	Name     string
	Path     string
	Priority int
	AddedAt  time.Time
}

// Entry is a positioned view of an Item, as returned by List.
type Entry struct {
	Position int    `json:"position"`
	Folder   string `json:"folder"`
	Path     string `json:"path"`
	Priority int    `json:"priority"`
}

// Queue is safe for concurrent use. Dequeue refreshes and pops under a single
// lock so a scheduled trigger and a manual post never receive the same folder.
// A dequeued folder stays out of the queue until Release is called for it,
// even though it is still on disk while being published.
type Queue struct {
	src      Source
	now      func() time.Time
	items    []*Item
	inflight map[string]bool
	mu       sync.Mutex
}

// New creates an empty queue backed by src.
func New(src Source) *Queue {
	return &Queue{src: src, now: time.Now, inflight: make(map[string]bool)}
}

// Refresh resynchronizes the queue with the source: new folders are added
// with DefaultPriority, folders that no longer exist are dropped, and
// existing priorities are kept.
func (q *Queue) Refresh() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refreshLocked()
}

func (q *Queue) refreshLocked() error {
	pending, err := q.src.Pending()
	if err != nil {
		return err
	}
	tracked := make(map[string]bool, len(q.items))
	for _, it := range q.items {
		tracked[it.Path] = true
	}
	now := q.now()
	for _, p := range pending {
		if !tracked[p] && !q.inflight[p] {
			q.items = append(q.items, &Item{
				Name:     filepath.Base(p),
				Path:     p,
				Priority: DefaultPriority,
				AddedAt:  now,
			})
		}
	}
	kept := q.items[:0]
	for _, it := range q.items {
		if q.src.Exists(it.Path) {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.sortLocked()
	return nil
}

// Enqueue adds path with the given priority, or overwrites the priority of
// an already queued folder.
func (q *Queue) Enqueue(path string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Path == path {
			it.Priority = priority
			q.sortLocked()
			return
		}
	}
	q.items = append(q.items, &Item{
		Name:     filepath.Base(path),
		Path:     path,
		Priority: priority,
		AddedAt:  q.now(),
	})
	q.sortLocked()
}

// Dequeue refreshes the queue, then removes and returns the head. ok is false
// when the queue is empty. A refresh failure leaves the in-memory order in
// place and still pops from it.
func (q *Queue) Dequeue() (item Item, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.refreshLocked()
	if len(q.items) == 0 {
		return Item{}, false, err
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.inflight[head.Path] = true
	return *head, true, err
}

// Claim removes path from the queue (if present) and marks it in flight, for
// callers that publish a folder chosen by name rather than by Dequeue. It
// returns false when the folder is already in flight.
func (q *Queue) Claim(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight[path] {
		return false
	}
	for i, it := range q.items {
		if it.Path == path {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.inflight[path] = true
	return true
}

// Release ends the in-flight hold on path. If the folder is still on disk the
// next refresh queues it again with the default priority.
func (q *Queue) Release(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, path)
}

// Remove drops the named folder from the queue.
func (q *Queue) Remove(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.Name == name {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Peek refreshes the queue and returns the head without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.refreshLocked()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return *q.items[0], true
}

// MoveToFront gives the named folder a priority one below the current
// minimum so it strictly precedes every other item. It returns false when
// the queue is empty or the folder is not queued.
func (q *Queue) MoveToFront(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return false
	}
	min := q.items[0].Priority
	for _, it := range q.items {
		if it.Priority < min {
			min = it.Priority
		}
	}
	return q.setPriorityLocked(name, min-1)
}

// SetPriority sets the priority of the named folder.
func (q *Queue) SetPriority(name string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setPriorityLocked(name, priority)
}

func (q *Queue) setPriorityLocked(name string, priority int) bool {
	for _, it := range q.items {
		if it.Name == name {
			it.Priority = priority
			q.sortLocked()
			return true
		}
	}
	return false
}

// Size refreshes and returns the number of queued folders.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.refreshLocked()
	return len(q.items)
}

// IsEmpty refreshes and reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Contains reports whether the named folder is queued, without refreshing.
func (q *Queue) Contains(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// List refreshes and returns the queue in order, positions starting at 1.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	_ = q.refreshLocked()
	out := make([]Entry, len(q.items))
	for i, it := range q.items {
		out[i] = Entry{Position: i + 1, Folder: it.Name, Path: it.Path, Priority: it.Priority}
	}
	return out
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// InFlight returns the paths currently held by Dequeue or Claim.
func (q *Queue) InFlight() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.inflight))
	for p := range q.inflight {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Priorities returns the non-default priorities keyed by folder name, for
// persistence across restarts.
func (q *Queue) Priorities() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, it := range q.items {
		if it.Priority != DefaultPriority {
			out[it.Name] = it.Priority
		}
	}
	return out
}

// LoadPriorities refreshes the queue and applies saved priorities to the
// folders that are still present. Unknown names are ignored.
func (q *Queue) LoadPriorities(p map[string]int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshLocked(); err != nil {
		return err
	}
	for _, it := range q.items {
		if v, ok := p[it.Name]; ok {
			it.Priority = v
		}
	}
	q.sortLocked()
	return nil
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		return less(q.items[i], q.items[j])
	})
}

func less(a, b *Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	al, bl := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if al != bl {
		return al < bl
	}
	return a.Name < b.Name
}
