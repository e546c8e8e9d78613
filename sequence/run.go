package sequence

import (
	"context"
	"sync"

	"github.com/casualjim/flow"
	"github.com/segmentio/ksuid"
)

// Run is the context of a single invocation of a flow. Every step of the run receives the same Run,
// so steps can share state through Self or through the named values.
type Run struct {
	id    ksuid.KSUID
	flow  string
	ctx   context.Context
	self  interface{}
	sched Scheduler
	trace *tracer

	// owned by the scheduler
	stack    []*step
	position int
	calls    []Args
	attempts []int
	done     Callback
	finished bool

	vm     sync.RWMutex
	values map[string]Value
}

func newRun(ctx context.Context, name string, self interface{}, stack []*step, done Callback, sched Scheduler, t *tracer) *Run {
	return &Run{
		id:       ksuid.New(),
		flow:     name,
		ctx:      ctx,
		self:     self,
		sched:    sched,
		trace:    t,
		stack:    stack,
		calls:    make([]Args, len(stack)),
		attempts: make([]int, len(stack)),
		done:     done,
		values:   make(map[string]Value),
	}
}

// ID of the run
func (r *Run) ID() string { return r.id.String() }

// Flow is the name of the flow this run belongs to
func (r *Run) Flow() string { return r.flow }

// Context the run was started with
func (r *Run) Context() context.Context { return r.ctx }

// Self is the value the run is bound to
func (r *Run) Self() interface{} { return r.self }

// Logger for this run
func (r *Run) Logger() flow.Logger { return r.trace.log }

// Set a named value that is visible to all the steps of the run
func (r *Run) Set(key string, value Value) {
	r.vm.Lock()
	r.values[key] = value
	r.vm.Unlock()
}

// Get a named value
func (r *Run) Get(key string) (Value, bool) {
	r.vm.RLock()
	v, ok := r.values[key]
	r.vm.RUnlock()
	return v, ok
}

func (r *Run) start(args Args) {
	r.calls[0] = args
	r.sched.Post(func() {
		r.lifecycle(ActionRun, StateProcessing, 0, nil)
		r.exec(0)
	})
}

// exec posts the body of the step at pos with the arguments buffered for it
func (r *Run) exec(pos int) {
	if r.finished {
		return
	}
	st := r.stack[pos]
	r.position = pos
	r.attempts[pos]++
	attempt := r.attempts[pos]
	args := append(Args(nil), r.calls[pos]...)

	next := &Next{
		sched: r.sched,
		log:   r.trace.log,
		step:  pos + 1,
		resolve: func(err error, results Args) {
			r.resume(pos, attempt, err, results)
		},
	}
	next.repeat = func() {
		r.sched.Post(func() {
			if r.finished || pos != r.position || attempt != r.attempts[pos] {
				r.trace.log.Warnf("%s: step %d can only be repeated while it is running, dropping it", r.flow, pos+1)
				return
			}
			r.exec(pos)
		})
	}

	r.sched.Post(func() {
		if r.finished {
			return
		}
		r.lifecycle(ActionStep, StateProcessing, pos+1, nil)
		if st.arity >= 0 && len(args) != st.arity {
			next.Fail(&ArityError{Step: pos + 1, Expected: st.arity, Got: len(args)})
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				next.Fail(&PanicError{Step: pos + 1, Value: rec})
			}
		}()
		st.fn(r, args, next)
	})
}

// resume handles the outcome of the step at pos, it runs on the scheduler
func (r *Run) resume(pos, attempt int, err error, results Args) {
	if r.finished {
		r.trace.log.Warnf("%s: step %d reported after the run %s finished, dropping it", r.flow, pos+1, r.ID())
		return
	}
	if pos != r.position || attempt != r.attempts[pos] {
		r.trace.log.Warnf("%s: stale continuation for step %d, dropping it", r.flow, pos+1)
		return
	}

	if err != nil {
		r.lifecycle(ActionStep, StateFailed, pos+1, err)
		r.finish(err, results)
		return
	}
	r.lifecycle(ActionStep, StateSuccess, pos+1, nil)

	if pos == len(r.stack)-1 {
		r.finish(nil, results)
		return
	}
	r.calls[pos+1] = results
	r.exec(pos + 1)
}

func (r *Run) finish(err error, results Args) {
	if err != nil {
		r.lifecycle(ActionRun, StateFailed, 0, err)
	} else {
		r.lifecycle(ActionRun, StateSuccess, 0, nil)
	}

	done := r.done
	r.finished = true
	r.done = nil
	r.stack = nil
	r.calls = nil
	r.attempts = nil

	done(err, results...)
}

func (r *Run) lifecycle(action Action, state State, pos int, reason error) {
	evt := LifecycleEvent{
		Context: r.ctx,
		Flow:    r.flow,
		RunID:   r.ID(),
		Action:  action,
		State:   state,
		Step:    pos,
		Steps:   len(r.stack),
		Reason:  reason,
	}
	if pos > 0 {
		st := r.stack[pos-1]
		evt.Kind = st.kind
		evt.Label = st.label
		evt.Attempt = r.attempts[pos-1]
	}
	r.trace.emit(TopicLifecycle, evt)
}

func (r *Run) iteration(evt IterationEvent) {
	evt.Flow = r.flow
	evt.RunID = r.ID()
	r.trace.emit(TopicIteration, evt)
}
