// Package slots manages the daily wall-clock times at which a post is
// published automatically, and computes the next trigger instant in a fixed
// timezone.
package slots

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// ErrInvalidTime is wrapped by every slot validation failure.
var ErrInvalidTime = errors.New("invalid time, expected HH:MM (00:00-23:59)")

// SlotError names the offending slot string.
type SlotError struct {
	Slot string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("%q: %v", e.Slot, ErrInvalidTime)
}

func (e *SlotError) Unwrap() error { return ErrInvalidTime }

// ParseSlot parses "HH:MM" (a single-digit hour is accepted) and returns the
// hour, the minute and the zero-padded canonical form.
func ParseSlot(s string) (hour, minute int, canonical string, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, 0, "", &SlotError{Slot: s}
	}
	hour, herr := strconv.Atoi(hs)
	minute, merr := strconv.Atoi(ms)
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, "", &SlotError{Slot: s}
	}
	return hour, minute, fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidSlot reports whether s parses as a slot.
func ValidSlot(s string) bool {
	_, _, _, err := ParseSlot(s)
	return err == nil
}

// CronExpr returns the daily cron expression firing at slot.
func CronExpr(slot string) (string, error) {
	h, m, _, err := ParseSlot(slot)
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf("%d %d * * *", m, h)
	if !gronx.IsValid(expr) {
		return "", &SlotError{Slot: slot}
	}
	return expr, nil
}

// Manager holds a sorted, de-duplicated list of slots. It is safe for
// concurrent use.
type Manager struct {
	loc   *time.Location
	times []string
	mu    sync.RWMutex
}

// New validates times and returns a Manager evaluating them in loc. A nil loc
// means UTC.
func New(times []string, loc *time.Location) (*Manager, error) {
	if loc == nil {
		loc = time.UTC
	}
	m := &Manager{loc: loc}
	if err := m.SetSlots(times); err != nil {
		return nil, err
	}
	return m, nil
}

func normalize(times []string) ([]string, error) {
	seen := make(map[string]bool, len(times))
	out := make([]string, 0, len(times))
	for _, t := range times {
		_, _, c, err := ParseSlot(t)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	// Zero-padded fixed-width strings sort chronologically.
	sort.Strings(out)
	return out, nil
}

// SetSlots replaces the slot list. On error the current list is unchanged and
// the error names the first invalid entry.
func (m *Manager) SetSlots(times []string) error {
	norm, err := normalize(times)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.times = norm
	m.mu.Unlock()
	return nil
}

// AddSlot inserts slot, keeping the list sorted. Adding an existing slot is a
// no-op.
func (m *Manager) AddSlot(slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	norm, err := normalize(append(append([]string(nil), m.times...), slot))
	if err != nil {
		return err
	}
	m.times = norm
	return nil
}

// RemoveSlot removes slot and reports whether it was present.
func (m *Manager) RemoveSlot(slot string) bool {
	_, _, c, err := ParseSlot(slot)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.times {
		if t == c {
			m.times = append(m.times[:i:i], m.times[i+1:]...)
			return true
		}
	}
	return false
}

// Times returns a copy of the slot list in ascending order.
func (m *Manager) Times() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.times...)
}

// Location returns the timezone slots are evaluated in.
func (m *Manager) Location() *time.Location { return m.loc }

// Next returns the soonest slot instant strictly after now. ok is false only
// when no slots are configured.
func (m *Manager) Next(now time.Time) (next time.Time, ok bool) {
	times := m.Times()
	if len(times) == 0 {
		return time.Time{}, false
	}
	local := now.In(m.loc)
	y, mo, d := local.Date()
	for _, t := range times {
		h, mi, _, _ := ParseSlot(t)
		at := time.Date(y, mo, d, h, mi, 0, 0, m.loc)
		if at.After(now) {
			return at, true
		}
	}
	h, mi, _, _ := ParseSlot(times[0])
	return time.Date(y, mo, d+1, h, mi, 0, 0, m.loc), true
}

// Until returns the time remaining until the next slot.
func (m *Manager) Until(now time.Time) (time.Duration, bool) {
	next, ok := m.Next(now)
	if !ok {
		return 0, false
	}
	return next.Sub(now), true
}

// SlotsToday returns the slots that are still ahead of now today.
func (m *Manager) SlotsToday(now time.Time) []string {
	local := now.In(m.loc)
	y, mo, d := local.Date()
	var out []string
	for _, t := range m.Times() {
		h, mi, _, _ := ParseSlot(t)
		if time.Date(y, mo, d, h, mi, 0, 0, m.loc).After(now) {
			out = append(out, t)
		}
	}
	return out
}

// FormatNext describes the next slot relative to now, e.g. "Today at 15:00".
func (m *Manager) FormatNext(now time.Time) string {
	next, ok := m.Next(now)
	if !ok {
		return "No time configured"
	}
	return FormatRelative(next, now.In(m.loc))
}

// FormatRelative renders at relative to the calendar day of now.
func FormatRelative(at, now time.Time) string {
	at = at.In(now.Location())
	clock := at.Format("15:04")
	y, mo, d := now.Date()
	switch {
	case sameDay(at, now):
		return "Today at " + clock
	case sameDay(at, time.Date(y, mo, d+1, 12, 0, 0, 0, now.Location())):
		return "Tomorrow at " + clock
	default:
		return at.Format("02/01") + " at " + clock
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CronExprs maps every slot to its daily cron expression.
func (m *Manager) CronExprs() map[string]string {
	out := make(map[string]string)
	for _, t := range m.Times() {
		if expr, err := CronExpr(t); err == nil {
			out[t] = expr
		}
	}
	return out
}
