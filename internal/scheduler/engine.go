package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// Engine fires Events from a min-heap on a single goroutine. The goroutine
// exits when the context passed to NewEngine is cancelled; a trigger that is
// already running is allowed to finish.
type Engine struct {
	cmdChan chan command
	lenChan chan chan int
	ctx     context.Context
	done    chan struct{}
}

// NewEngine creates and starts an engine. onTrigger is called for every
// event that comes due, never concurrently with itself.
func NewEngine(ctx context.Context, onTrigger func(Event)) *Engine {
	e := &Engine{
		cmdChan: make(chan command, 64),
		lenChan: make(chan chan int),
		ctx:     ctx,
		done:    make(chan struct{}),
	}
	go e.run(onTrigger)
	return e
}

// command is an add or remove request. Both share one channel so they are
// applied in the order they were made.
type command struct {
	event  Event
	remove bool
}

// Add schedules ev, replacing any event with the same ID.
func (e *Engine) Add(ev Event) {
	select {
	case e.cmdChan <- command{event: ev}:
	case <-e.ctx.Done():
	}
}

// Remove cancels the event with id.
func (e *Engine) Remove(id string) {
	select {
	case e.cmdChan <- command{event: Event{ID: id}, remove: true}:
	case <-e.ctx.Done():
	}
}

// Len returns the number of pending events, or 0 once the engine stopped.
// It blocks while a trigger is running.
func (e *Engine) Len() int {
	reply := make(chan int, 1)
	select {
	case e.lenChan <- reply:
		return <-reply
	case <-e.done:
		return 0
	}
}

// Done is closed when the engine goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run(onTrigger func(Event)) {
	defer close(e.done)
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	push := func(ev Event) {
		heapRemove(h, ev.ID)
		if ev.TriggerAt.IsZero() {
			if ev.CronExpr == "" {
				return
			}
			next, err := nextCronOccurrence(ev, time.Now())
			if err != nil {
				return
			}
			ev.TriggerAt = next
		}
		heapPush(h, ev)
	}

	apply := func(c command) {
		if c.remove {
			heapRemove(h, c.event.ID)
			return
		}
		push(c.event)
	}

	timerCh := resetTimer()

	for {
		select {
		case <-e.ctx.Done():
			return

		case c := <-e.cmdChan:
			apply(c)
			timerCh = resetTimer()

		case reply := <-e.lenChan:
			// Apply requests already sent so Len reflects them.
		drain:
			for {
				select {
				case c := <-e.cmdChan:
					apply(c)
				default:
					break drain
				}
			}
			reply <- h.Len()
			timerCh = resetTimer()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				if e.ctx.Err() != nil {
					return
				}
				ev := heapPop(h)
				onTrigger(ev)
				if ev.CronExpr != "" {
					// Missed occurrences during a slow trigger are not replayed.
					from := time.Now()
					if ev.TriggerAt.After(from) {
						from = ev.TriggerAt
					}
					if next, err := nextCronOccurrence(ev, from); err == nil {
						ev.TriggerAt = next
						heapPush(h, ev)
					}
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextCronOccurrence returns the first time strictly after start at which
// ev's cron expression fires, evaluated in ev's location.
func nextCronOccurrence(ev Event, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(ev.CronExpr, start.In(ev.location()), false)
}
