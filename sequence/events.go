package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/casualjim/flow/eventbus"
)

var stateKeyNames map[State]string
var namedStateKeys map[string]State

func init() {
	stateKeyNames = map[State]string{
		StateUnknown:    "unknown",
		StateWaiting:    "waiting",
		StateProcessing: "processing",
		StateSuccess:    "completed",
		StateFailed:     "failed",
	}

	namedStateKeys = make(map[string]State, len(stateKeyNames))
	for k, v := range stateKeyNames {
		namedStateKeys[v] = k
	}
}

// StateFromString creates a state from a string
func StateFromString(name string) (State, error) {
	if v, ok := namedStateKeys[name]; ok {
		return v, nil
	}
	return StateUnknown, fmt.Errorf("invalid state %q", name)
}

// State of a run, a step or an iteration entry
type State uint8

const (
	// StateUnknown indicates the state is unknown
	StateUnknown State = iota
	// StateWaiting indicates the step is known but hasn't started yet
	StateWaiting
	// StateProcessing indicates the run, step or entry is executing
	StateProcessing
	// StateSuccess indicates it completed successfully
	StateSuccess
	// StateFailed indicates it has failed
	StateFailed
)

func (e State) String() string {
	return stateKeyNames[e]
}

// Finished is true for the completed and failed states
func (e State) Finished() bool {
	return e == StateSuccess || e == StateFailed
}

// MarshalText renders this state to text
func (e State) MarshalText() (text []byte, err error) {
	return []byte(stateKeyNames[e]), nil
}

// UnmarshalText parses this state from text
func (e *State) UnmarshalText(text []byte) error {
	st, err := StateFromString(string(text))
	if err != nil {
		return err
	}
	*e = st
	return nil
}

var actionKeyNames = map[Action]string{
	ActionRun:  "run",
	ActionStep: "step",
}

// ActionFromString creates an action from a string
func ActionFromString(name string) (Action, error) {
	for k, v := range actionKeyNames {
		if v == name {
			return k, nil
		}
	}
	return ActionRun, fmt.Errorf("invalid action %q", name)
}

// Action indicates what a lifecycle event is about, the whole run or a single step
type Action uint8

const (
	// ActionRun is emitted for the run as a whole
	ActionRun Action = iota
	// ActionStep is emitted for a single step
	ActionStep
)

func (e Action) String() string {
	return actionKeyNames[e]
}

// MarshalText renders this action to text
func (e Action) MarshalText() (text []byte, err error) {
	return []byte(actionKeyNames[e]), nil
}

// UnmarshalText parses this action from text
func (e *Action) UnmarshalText(text []byte) error {
	a, err := ActionFromString(string(text))
	if err != nil {
		return err
	}
	*e = a
	return nil
}

const (
	// TopicLifecycle is the event topic for run and step lifecycle events
	TopicLifecycle = "lifecycle"
	// TopicIteration is the event topic for the progress of iterator steps
	TopicIteration = "iteration"
)

// A LifecycleEvent is emitted when a run or one of its steps changes state.
// Step numbers are 1-indexed, Step is 0 for run events.
type LifecycleEvent struct {
	Context context.Context `json:"-"`
	Flow    string          `json:"flow"`
	RunID   string          `json:"runId"`
	Action  Action          `json:"action"`
	State   State           `json:"state"`
	Step    int             `json:"step,omitempty"`
	Steps   int             `json:"steps"`
	Kind    Kind            `json:"kind"`
	Label   string          `json:"label,omitempty"`
	Attempt int             `json:"attempt,omitempty"`
	Reason  error           `json:"-"`
}

func (l LifecycleEvent) String() string {
	if l.Action == ActionRun {
		switch l.State {
		case StateProcessing:
			return fmt.Sprintf("run %s started with %d steps", l.RunID, l.Steps)
		case StateFailed:
			return fmt.Sprintf("run %s failed: %v", l.RunID, l.Reason)
		default:
			return fmt.Sprintf("run %s %s", l.RunID, l.State)
		}
	}
	switch l.State {
	case StateProcessing:
		if l.Attempt > 1 {
			return fmt.Sprintf("repeat step %d of %d (%s), attempt %d", l.Step, l.Steps, l.Label, l.Attempt)
		}
		return fmt.Sprintf("exec step %d of %d (%s)", l.Step, l.Steps, l.Label)
	case StateSuccess:
		return fmt.Sprintf("step %d done", l.Step)
	case StateFailed:
		return fmt.Sprintf("step %d fail: %v", l.Step, l.Reason)
	default:
		return fmt.Sprintf("step %d %s", l.Step, l.State)
	}
}

// An IterationEvent is emitted for every entry an iterator step starts and finishes
type IterationEvent struct {
	Flow      string `json:"flow"`
	RunID     string `json:"runId"`
	Step      int    `json:"step"`
	Kind      Kind   `json:"kind"`
	Key       Value  `json:"key"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	State     State  `json:"state"`
	Reason    error  `json:"-"`
}

func (i IterationEvent) String() string {
	switch i.State {
	case StateProcessing:
		return fmt.Sprintf("step %d %s entry %v (%d of %d)", i.Step, i.Kind, i.Key, i.Index+1, i.Total)
	case StateFailed:
		return fmt.Sprintf("step %d entry %v fail: %v (%d/%d done, %d failed)", i.Step, i.Key, i.Reason, i.Completed, i.Total, i.Failed)
	default:
		return fmt.Sprintf("step %d entry %v done (%d/%d done, %d failed)", i.Step, i.Key, i.Completed, i.Total, i.Failed)
	}
}

// IsLifecycleEvent returns true if this is a lifecycle event for the given action and given state
func IsLifecycleEvent(evt eventbus.Event, action Action, state State) bool {
	return LifecycleEventFilter(action, state)(evt)
}

// LifecycleEventFilter is an event filter that matches specific lifecycle events
func LifecycleEventFilter(action Action, state State) eventbus.EventPredicate {
	return func(evt eventbus.Event) bool {
		if evt.Name != TopicLifecycle {
			return false
		}
		lce, ok := evt.Args.(LifecycleEvent)
		return ok && lce.State == state && lce.Action == action
	}
}

// IterationEventFilter is an event filter that only selects iteration events
func IterationEventFilter(evt eventbus.Event) bool {
	if evt.Name != TopicIteration {
		return false
	}
	_, ok := evt.Args.(IterationEvent)
	return ok
}

func newEvent(topic string, args interface{}) eventbus.Event {
	return eventbus.Event{Name: topic, At: time.Now(), Args: args}
}
