package jitterbuffer

import (
	"context"

	"github.com/looplab/fsm"
)

// Lifecycle states for the supervisory state machine layered over the
// buffer. These never gate the data-path algorithm in Write/Read; they
// track warm-up progress in the buffer's unexported lifecycle field,
// which has no exported accessor and no metric. No event leads to
// lifecycleClosed.
const (
	lifecycleIdle    = "idle"
	lifecycleArmed   = "armed"
	lifecycleWarming = "warming"
	lifecycleReady   = "ready"
	lifecycleClosed  = "closed"
)

const (
	eventSetClock  = "set_clock"
	eventFirstByte = "first_write"
	eventReady     = "ready"
	eventReset     = "reset"
)

func newLifecycleFSM() *fsm.FSM {
	return fsm.NewFSM(
		lifecycleIdle,
		fsm.Events{
			{Name: eventSetClock, Src: []string{lifecycleIdle}, Dst: lifecycleArmed},
			{Name: eventFirstByte, Src: []string{lifecycleArmed}, Dst: lifecycleWarming},
			{Name: eventReady, Src: []string{lifecycleWarming}, Dst: lifecycleReady},
			{Name: eventReset, Src: []string{lifecycleArmed, lifecycleWarming, lifecycleReady}, Dst: lifecycleArmed},
		},
		fsm.Callbacks{},
	)
}

// fireLifecycle drives the supervisory FSM and swallows invalid-transition
// errors: a transition that doesn't apply (e.g. a second set_clock call)
// is not a data-path error, just a no-op for observability purposes.
func fireLifecycle(f *fsm.FSM, event string) {
	_ = f.Event(context.Background(), event)
}
