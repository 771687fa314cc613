// Package scheduler publishes queued content at configured daily times.
//
// Timing is handled by Engine, a single goroutine holding a min-heap of
// Events sorted by trigger time. It sleeps at most 60 seconds at a time so
// clock steps, DST changes and host sleep are noticed promptly. Recurring
// events carry a cron expression and are re-armed after firing, evaluated in
// the event's location. Triggers run one at a time on the engine goroutine.
//
// PostScheduler is the Stopped/Running state machine on top of the engine.
// It registers one event per time slot plus periodic sync and liveness
// events, and runs the parse, normalize, publish, archive and record
// sequence for both scheduled and manual posts.
package scheduler
