package scheduler

import "time"

// Event is a pending trigger in the engine heap.
type Event struct {
	// ID identifies the event. Adding an event with an ID already in the
	// heap replaces it.
	ID string
	// TriggerAt is when the event fires. For recurring events a zero value
	// means the first cron occurrence after the event is added.
	TriggerAt time.Time
	// CronExpr makes the event recurring. Empty means one-shot.
	CronExpr string
	// Location is the timezone CronExpr is evaluated in. Nil means UTC.
	Location *time.Location
}

func (e Event) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}
