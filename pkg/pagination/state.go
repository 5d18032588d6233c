package pagination

import (
	"fmt"

	"github.com/Sternrassler/arcgis-client/pkg/client"
)

// State is the lifecycle position of one RunQuery call.
type State int

const (
	StateInit State = iota
	StateCountPending
	StatePaging
	StateMerging
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCountPending:
		return "count_pending"
	case StatePaging:
		return "paging"
	case StateMerging:
		return "merging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var transitions = map[State][]State{
	StateInit:         {StateCountPending, StateFailed},
	StateCountPending: {StatePaging, StateFailed},
	StatePaging:       {StateMerging, StateFailed},
	StateMerging:      {StateComplete, StateFailed},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker enforces the state machine of a single query.
type tracker struct {
	state   State
	onState func(State)
}

func newTracker(onState func(State)) *tracker {
	t := &tracker{state: StateInit, onState: onState}
	if onState != nil {
		onState(StateInit)
	}
	return t
}

func (t *tracker) to(next State) error {
	if !CanTransition(t.state, next) {
		return client.NewError(client.KindInternal, 0,
			fmt.Sprintf("illegal query state transition %s -> %s", t.state, next), client.ErrInvariant)
	}
	t.state = next
	if t.onState != nil {
		t.onState(next)
	}
	return nil
}

// fail moves to StateFailed unless already terminal.
func (t *tracker) fail() {
	if t.state.Terminal() {
		return
	}
	_ = t.to(StateFailed)
}
