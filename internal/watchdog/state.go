package watchdog

import (
	"context"

	"github.com/looplab/fsm"
)

// State is a watchdog state.
type State string

const (
	StateIdle             State = "IDLE"
	StateChangeDetected   State = "CHANGE_DETECTED"
	StateRestartSuspended State = "RESTART_SUSPENDED"
	StateRestarting       State = "RESTARTING"
)

// States lists every state in lifecycle order.
var States = []State{StateIdle, StateChangeDetected, StateRestartSuspended, StateRestarting}

const (
	eventChange  = "change"
	eventSuspend = "suspend"
	eventRestart = "restart"
	eventSettle  = "settle"
	eventFail    = "fail"
)

func newMachine(onEnter func(from, to State, event string)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventChange, Src: []string{string(StateIdle)}, Dst: string(StateChangeDetected)},
			{Name: eventSuspend, Src: []string{string(StateChangeDetected)}, Dst: string(StateRestartSuspended)},
			{Name: eventRestart, Src: []string{string(StateChangeDetected), string(StateRestartSuspended)}, Dst: string(StateRestarting)},
			{Name: eventSettle, Src: []string{string(StateRestarting)}, Dst: string(StateIdle)},
			{Name: eventFail, Src: []string{string(StateRestarting)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst), e.Event)
			},
		},
	)
}
