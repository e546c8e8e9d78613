package sequence

import (
	"sync/atomic"

	"github.com/casualjim/flow"
	multierror "github.com/hashicorp/go-multierror"
)

// Next is the continuation a step receives. A step reports its outcome by calling it exactly once:
// an error ends the run, results become the arguments of the following step.
//
// The outcome is handled on the scheduler, so Next can be called from any goroutine.
type Next struct {
	sched   Scheduler
	log     flow.Logger
	step    int
	called  int32
	resolve func(error, Args)
	repeat  func()
	join    *join
}

// Call reports the outcome of the step. A typed nil error is replaced with a NormalizationError.
// Only the first call counts, later calls are logged and dropped.
func (n *Next) Call(err error, results ...Value) {
	if !atomic.CompareAndSwapInt32(&n.called, 0, 1) {
		n.log.Warnf("sequence: continuation of step %d called more than once, dropping it", n.step)
		return
	}
	err = normalize(err)
	res := append(Args(nil), results...)
	n.sched.Post(func() { n.resolve(err, res) })
}

// Done reports success with the provided results
func (n *Next) Done(results ...Value) {
	n.Call(nil, results...)
}

// Fail reports an error
func (n *Next) Fail(err error) {
	n.Call(err)
}

// Func returns the continuation as a plain callback, for handing it to callback based APIs
func (n *Next) Func() Callback {
	return n.Call
}

// Repeat returns a function that runs the current step again with the arguments it received,
// instead of advancing. The continuation of the current attempt is then no longer used.
func (n *Next) Repeat() func() {
	if n.repeat == nil {
		return func() {}
	}
	return n.repeat
}

// Split returns a share of this continuation. The step only advances when every share was called.
// Shares have to be created from within the step, before any of them can report.
//
// The next step receives one argument per share, in the order the shares were created.
// When shares fail the step fails with a multierror containing their errors.
func (n *Next) Split() *Next {
	if n.join == nil {
		n.join = &join{}
	}
	j := n.join
	idx := len(j.results)
	j.results = append(j.results, nil)
	j.errs = append(j.errs, nil)
	j.pending++

	return &Next{
		sched:  n.sched,
		log:    n.log,
		step:   n.step,
		repeat: n.repeat,
		resolve: func(err error, res Args) {
			j.results[idx] = res
			j.errs[idx] = err
			j.pending--
			if j.pending == 0 {
				values, err := j.outcome()
				n.Call(err, values...)
			}
		},
	}
}

// join counts the outstanding shares of a split continuation, it's only used from the scheduler
type join struct {
	pending int
	results []Args
	errs    []error
}

func (j *join) outcome() ([]Value, error) {
	var merr *multierror.Error
	values := make([]Value, len(j.results))
	for i := range j.results {
		if j.errs[i] != nil {
			merr = multierror.Append(merr, j.errs[i])
			continue
		}
		values[i] = collapse(j.results[i])
	}
	return values, merr.ErrorOrNil()
}

// collapse a single result to its value, other amounts of results are kept as a list
func collapse(results Args) Value {
	if len(results) == 1 {
		return results[0]
	}
	return results
}
