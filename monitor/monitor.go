// Package monitor keeps track of the state of flow runs and their steps.
//
// A Monitor is an event handler, register it with sequence.Trace or sequence.Observe
// to get ordered updates, or subscribe it to a bus the flows publish to.
package monitor

import (
	"sync"
	"time"

	"github.com/casualjim/flow"
	"github.com/casualjim/flow/eventbus"
	"github.com/casualjim/flow/sequence"
	"github.com/rcrowley/go-metrics"
)

// Option configures a monitor
type Option func(*Monitor)

// Registry records the run metrics in the provided registry instead of metrics.DefaultRegistry
func Registry(registry metrics.Registry) Option {
	return func(m *Monitor) { m.registry = registry }
}

// Keep at most n finished runs, the oldest ones are forgotten first
func Keep(n int) Option {
	return func(m *Monitor) { m.keep = n }
}

// LogWith is used to log events the monitor can't make sense of
func LogWith(log flow.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// New creates a monitor
func New(opts ...Option) *Monitor {
	m := &Monitor{
		runs:     make(map[string]*RunInfo, 150),
		registry: metrics.DefaultRegistry,
		keep:     150,
		log:      flow.NopLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Monitor is a state store for runs, fed by diagnostic events
type Monitor struct {
	m        sync.RWMutex
	runs     map[string]*RunInfo
	order    []string
	registry metrics.Registry
	keep     int
	log      flow.Logger
}

// On event trigger
func (m *Monitor) On(evt eventbus.Event) error {
	switch evt.Name {
	case sequence.TopicLifecycle:
		if lce, ok := evt.Args.(sequence.LifecycleEvent); ok {
			m.addLifecycleEvent(evt.At, lce)
			return nil
		}
	case sequence.TopicIteration:
		if ite, ok := evt.Args.(sequence.IterationEvent); ok {
			m.addIterationEvent(ite)
			return nil
		}
	default:
		return nil
	}
	m.log.Warnf("monitor: unexpected payload %T for topic %q", evt.Args, evt.Name)
	return nil
}

// Run returns the state of the run with the given id
func (m *Monitor) Run(id string) (RunInfo, bool) {
	m.m.RLock()
	defer m.m.RUnlock()
	info, ok := m.runs[id]
	if !ok {
		return RunInfo{}, false
	}
	return info.clone(), true
}

// Runs returns the known runs of a flow, oldest first
func (m *Monitor) Runs(flowName string) []RunInfo {
	m.m.RLock()
	defer m.m.RUnlock()
	var result []RunInfo
	for _, id := range m.order {
		if info := m.runs[id]; info.Flow == flowName {
			result = append(result, info.clone())
		}
	}
	return result
}

// Len returns the number of runs the monitor knows about
func (m *Monitor) Len() int {
	m.m.RLock()
	sz := len(m.runs)
	m.m.RUnlock()
	return sz
}

func (m *Monitor) addLifecycleEvent(at time.Time, evt sequence.LifecycleEvent) {
	m.m.Lock()
	defer m.m.Unlock()

	info := m.info(evt.RunID, evt.Flow, evt.Steps)
	if evt.Action == sequence.ActionRun {
		m.trackRun(info, at, evt)
		return
	}

	if evt.Step < 1 || evt.Step > len(info.Steps) {
		m.log.Warnf("monitor: run %s has no step %d", evt.RunID, evt.Step)
		return
	}
	st := &info.Steps[evt.Step-1]
	if evt.Attempt < st.Attempts || (evt.Attempt == st.Attempts && st.State.Finished()) {
		return
	}
	st.Label = evt.Label
	st.Kind = evt.Kind
	st.Attempts = evt.Attempt
	st.State = evt.State
	st.Reason = evt.Reason
	if evt.State == sequence.StateProcessing {
		st.Entries, st.EntriesDone, st.EntriesFailed = 0, 0, 0
	}
	if evt.State == sequence.StateFailed {
		metrics.GetOrRegisterCounter("flow."+info.Flow+".steps.failed", m.registry).Inc(1)
	}
}

func (m *Monitor) trackRun(info *RunInfo, at time.Time, evt sequence.LifecycleEvent) {
	switch evt.State {
	case sequence.StateProcessing:
		if !info.StartedAt.IsZero() {
			return
		}
		info.StartedAt = at
		if !info.State.Finished() {
			info.State = evt.State
		}
		metrics.GetOrRegisterCounter("flow."+info.Flow+".runs.started", m.registry).Inc(1)
	case sequence.StateSuccess, sequence.StateFailed:
		if info.State.Finished() {
			return
		}
		info.State = evt.State
		info.Reason = evt.Reason
		info.FinishedAt = at
		if evt.State == sequence.StateFailed {
			metrics.GetOrRegisterCounter("flow."+info.Flow+".runs.failed", m.registry).Inc(1)
		} else {
			metrics.GetOrRegisterCounter("flow."+info.Flow+".runs.completed", m.registry).Inc(1)
		}
		if !info.StartedAt.IsZero() {
			metrics.GetOrRegisterTimer("flow."+info.Flow+".run", m.registry).Update(at.Sub(info.StartedAt))
		}
		m.evict()
	}
}

func (m *Monitor) addIterationEvent(evt sequence.IterationEvent) {
	m.m.Lock()
	defer m.m.Unlock()

	info, ok := m.runs[evt.RunID]
	if !ok || evt.Step < 1 || evt.Step > len(info.Steps) {
		return
	}
	st := &info.Steps[evt.Step-1]
	st.Entries = evt.Total
	if evt.Completed > st.EntriesDone {
		st.EntriesDone = evt.Completed
	}
	if evt.Failed > st.EntriesFailed {
		st.EntriesFailed = evt.Failed
	}
}

// info returns the run with that id, creating it when it isn't known yet
func (m *Monitor) info(id, flowName string, steps int) *RunInfo {
	if info, ok := m.runs[id]; ok {
		return info
	}
	info := &RunInfo{
		ID:    id,
		Flow:  flowName,
		State: sequence.StateWaiting,
		Steps: make([]StepInfo, steps),
	}
	for i := range info.Steps {
		info.Steps[i] = StepInfo{Number: i + 1, State: sequence.StateWaiting}
	}
	m.runs[id] = info
	m.order = append(m.order, id)
	return info
}

// evict forgets the oldest finished runs until at most keep finished runs remain
func (m *Monitor) evict() {
	if m.keep <= 0 {
		return
	}
	finished := 0
	for _, id := range m.order {
		if m.runs[id].State.Finished() {
			finished++
		}
	}
	if finished <= m.keep {
		return
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if finished > m.keep && m.runs[id].State.Finished() {
			delete(m.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// RunInfo contains the information about a run
type RunInfo struct {
	ID         string
	Flow       string
	State      sequence.State
	Reason     error
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepInfo
}

// Duration of the run, zero while it hasn't finished
func (r RunInfo) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *RunInfo) clone() RunInfo {
	c := *r
	c.Steps = append([]StepInfo(nil), r.Steps...)
	return c
}

// StepInfo contains the information about a step of a run
type StepInfo struct {
	Number        int
	Label         string
	Kind          sequence.Kind
	State         sequence.State
	Attempts      int
	Reason        error
	Entries       int
	EntriesDone   int
	EntriesFailed int
}
