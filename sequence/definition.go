package sequence

import (
	"context"
	"sync"

	"github.com/casualjim/flow"
	"github.com/casualjim/flow/eventbus"
	"github.com/casualjim/flow/future"
	"github.com/casualjim/flow/loop"
)

// Scheduler runs posted tasks one at a time, never in-line with the call to Post
type Scheduler interface {
	Post(func())
}

// Option represents a configuration option for a flow definition
type Option func(*Definition)

// WithLogger makes the flow log through the provided logger instead of the one found in the run context
func WithLogger(log flow.Logger) Option {
	return func(d *Definition) { d.log = log }
}

// WithScheduler runs the steps of this flow on the provided scheduler instead of loop.Default
func WithScheduler(s Scheduler) Option {
	return func(d *Definition) { d.sched = s }
}

// PublishTo adds an existing eventbus the diagnostic events get published to
func PublishTo(bus eventbus.EventBus) Option {
	return func(d *Definition) { d.bus = bus }
}

// Trace delivers the diagnostic events of every run to the handlers, in order, as they happen
func Trace(handlers ...eventbus.EventHandler) Option {
	return func(d *Definition) { d.handlers = append(d.handlers, handlers...) }
}

// StepOption configures a single registered step
type StepOption func(*step)

// Named gives the step a label that is used in the diagnostic events
func Named(label string) StepOption {
	return func(s *step) { s.label = label }
}

// Expects declares the number of arguments the step receives,
// the run fails with an ArityError when the previous step produced a different amount.
func Expects(n int) StepOption {
	return func(s *step) { s.arity = n }
}

type step struct {
	kind  Kind
	label string
	arity int
	fn    StepFunc
}

// Definition is a named sequence of steps, build it once and run it as often as needed.
// Runs don't share any state, except for the steps themselves.
type Definition struct {
	name     string
	m        sync.Mutex
	stack    []*step
	log      flow.Logger
	sched    Scheduler
	bus      eventbus.EventBus
	handlers []eventbus.EventHandler
}

// Define a new flow, the name is only used for diagnostics
func Define(name string, opts ...Option) *Definition {
	d := &Definition{
		name:  name,
		sched: loop.Default,
		bus:   eventbus.NopBus,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name of the flow
func (d *Definition) Name() string { return d.name }

// Len returns the number of registered steps
func (d *Definition) Len() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.stack)
}

// Kind returns the kind of the i-th step (0-indexed)
func (d *Definition) Kind(i int) Kind {
	d.m.Lock()
	defer d.m.Unlock()
	return d.stack[i].kind
}

// Step adds a function to the flow sequence.
// It panics with a ConfigurationError when fn is nil.
func (d *Definition) Step(fn StepFunc, opts ...StepOption) *Definition {
	if fn == nil {
		panic(configErr("step", "first arg must be a function"))
	}
	return d.push(KindStep, fn, opts)
}

// Stepping adds a step that iterates over the collection it receives, one entry at a time.
// It panics with a ConfigurationError when fn is nil.
func (d *Definition) Stepping(fn IteratorFunc, opts ...StepOption) *Definition {
	if fn == nil {
		panic(configErr("stepping", "first arg must be a function"))
	}
	return d.push(KindSerial, iterator(KindSerial, fn), opts)
}

// Together adds a step that starts the iteration of every entry of the collection it receives at once.
// It panics with a ConfigurationError when fn is nil.
func (d *Definition) Together(fn IteratorFunc, opts ...StepOption) *Definition {
	if fn == nil {
		panic(configErr("together", "first arg must be a function"))
	}
	return d.push(KindParallel, iterator(KindParallel, fn), opts)
}

func (d *Definition) push(kind Kind, fn StepFunc, opts []StepOption) *Definition {
	s := &step{kind: kind, label: kind.String(), arity: -1, fn: fn}
	for _, opt := range opts {
		opt(s)
	}
	d.m.Lock()
	d.stack = append(d.stack, s)
	d.m.Unlock()
	return d
}

// Run starts a new run of the flow. self is the value every step of the run can get at through run.Self().
// The first step runs on the scheduler, so done is never called before Run returns.
func (d *Definition) Run(ctx context.Context, self interface{}, done Callback, args ...Value) error {
	if done == nil {
		return configErr("run", "flow last argument must be a function")
	}

	d.m.Lock()
	stack := d.stack[:len(d.stack):len(d.stack)]
	d.m.Unlock()
	if len(stack) == 0 {
		return configErr("run", "flow has 0 steps")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	log := d.log
	if log == nil {
		log = flow.ContextLogger(ctx)
	}
	handlers := make([]eventbus.EventHandler, 0, len(d.handlers))
	handlers = append(handlers, d.handlers...)
	handlers = append(handlers, observersFor(d.name)...)

	r := newRun(ctx, d.name, self, stack, done, d.sched, &tracer{
		flow:     d.name,
		log:      log,
		handlers: handlers,
		bus:      d.bus,
	})
	r.start(append(Args(nil), args...))
	return nil
}

// Method is a flow bound to a receiver
type Method func(ctx context.Context, done Callback, args ...Value) error

// Bind the flow to self, so it can be used as a method of self
func (d *Definition) Bind(self interface{}) Method {
	return func(ctx context.Context, done Callback, args ...Value) error {
		return d.Run(ctx, self, done, args...)
	}
}

// Go runs the flow and returns a future for its outcome.
// A configuration error resolves the future right away.
func (d *Definition) Go(ctx context.Context, self interface{}, args ...Value) future.Future {
	f, resolve := future.New()
	err := d.Run(ctx, self, func(err error, results ...Value) {
		values := make([]future.Value, len(results))
		for i, v := range results {
			values[i] = v
		}
		resolve(err, values...)
	}, args...)
	if err != nil {
		resolve(err)
	}
	return f
}
