package sequence_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/casualjim/flow"
	"github.com/casualjim/flow/sequence"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nilError struct{}

func (*nilError) Error() string { return "never" }

func TestNext_NormalizesTypedNil(t *testing.T) {
	d := sequence.Define("typed nil").Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
		var e *nilError
		next.Fail(e)
	})

	_, err := runAndWait(t, d, nil)
	var nerr *sequence.NormalizationError
	if assert.ErrorAs(t, err, &nerr) {
		assert.Equal(t, "*sequence_test.nilError", nerr.Type)
		assert.Contains(t, err.Error(), "received non-error as error")
	}
}

func TestNext_CalledOnce(t *testing.T) {
	var buf bytes.Buffer
	s := &manual{}
	o, done := recorder()
	d := sequence.Define("twice",
		sequence.WithScheduler(s),
		sequence.WithLogger(flow.GoLog(&buf, "", 0)),
	).
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
			next.Done(1)
			next.Done(2)
			next.Fail(errors.New("too late"))
		}).
		Step(noopStep)

	require.NoError(t, d.Run(context.Background(), nil, done))
	s.drain()

	assert.Equal(t, 1, o.calls)
	assert.NoError(t, o.err)
	assert.Equal(t, []sequence.Value{1}, o.results)
	assert.Contains(t, buf.String(), "[WARN]  sequence: continuation of step 1 called more than once")
}

func TestNext_Func(t *testing.T) {
	validate := func(v sequence.Value, callback sequence.Callback) {
		if _, ok := v.(string); !ok {
			callback(errors.New("expected a string"))
			return
		}
		callback(nil, v)
	}

	d := sequence.Define("callback style").Step(func(_ *sequence.Run, args sequence.Args, next *sequence.Next) {
		validate(args.Get(0), next.Func())
	})

	results, err := runAndWait(t, d, nil, "value")
	if assert.NoError(t, err) {
		assert.Equal(t, []sequence.Value{"value"}, results)
	}

	_, err = runAndWait(t, d, nil, 12)
	assert.EqualError(t, err, "expected a string")
}

func TestNext_Split(t *testing.T) {
	s := &manual{}
	o, done := recorder()

	var shares []*sequence.Next
	var secondRan bool
	d := sequence.Define("split", sequence.WithScheduler(s)).
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
			for i := 0; i < 3; i++ {
				shares = append(shares, next.Split())
			}
		}).
		Step(func(_ *sequence.Run, args sequence.Args, next *sequence.Next) {
			secondRan = true
			next.Done(args...)
		})

	require.NoError(t, d.Run(context.Background(), nil, done))
	s.drain()
	require.Len(t, shares, 3)

	shares[2].Done("c")
	shares[0].Done("a", "extra")
	s.drain()
	assert.False(t, secondRan, "the step should wait for every share")
	assert.Equal(t, 0, o.calls)

	shares[1].Done()
	s.drain()
	assert.True(t, secondRan)
	assert.Equal(t, 1, o.calls)
	if assert.NoError(t, o.err) {
		assert.Equal(t, []sequence.Value{
			sequence.Args{"a", "extra"},
			sequence.Args(nil),
			"c",
		}, o.results)
	}
}

func TestNext_SplitFailure(t *testing.T) {
	s := &manual{}
	o, done := recorder()
	e1, e2 := errors.New("first"), errors.New("second")

	d := sequence.Define("split failure", sequence.WithScheduler(s)).
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
			a, b, c := next.Split(), next.Split(), next.Split()
			c.Fail(e2)
			b.Done(1)
			a.Fail(e1)
		}).
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
			assert.Fail(t, "should not run")
			next.Done()
		})

	require.NoError(t, d.Run(context.Background(), nil, done))
	s.drain()

	require.Equal(t, 1, o.calls)
	merr, ok := o.err.(*multierror.Error)
	if assert.True(t, ok, "expected a multierror, got %T", o.err) {
		assert.Equal(t, []error{e1, e2}, merr.Errors)
	}
	assert.True(t, errors.Is(o.err, e2))
}

func TestNext_Repeat(t *testing.T) {
	var attempts []sequence.Args
	d := sequence.Define("repeat").
		Step(func(run *sequence.Run, args sequence.Args, next *sequence.Next) {
			attempts = append(attempts, args)
			if _, open := run.Get("open"); !open {
				retry := next.Repeat()
				go func() {
					run.Set("open", true)
					retry()
				}()
				return
			}
			next.Done(args.Get(0), "opened")
		}).
		Step(noopStep)

	results, err := runAndWait(t, d, nil, "resource")
	if assert.NoError(t, err) {
		assert.Equal(t, []sequence.Value{"resource", "opened"}, results)
		assert.Equal(t, []sequence.Args{{"resource"}, {"resource"}}, attempts)
	}
}

func TestNext_StaleRepeatIsDropped(t *testing.T) {
	s := &manual{}
	o, done := recorder()
	var retry func()
	var runs int
	d := sequence.Define("stale repeat", sequence.WithScheduler(s)).
		Step(func(_ *sequence.Run, args sequence.Args, next *sequence.Next) {
			runs++
			retry = next.Repeat()
			next.Done(args...)
		}).
		Step(func(_ *sequence.Run, args sequence.Args, next *sequence.Next) {
			retry()
			next.Done(args...)
		})

	require.NoError(t, d.Run(context.Background(), nil, done, 1))
	s.drain()

	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, o.calls)
	assert.NoError(t, o.err)
}

func TestNext_Arity(t *testing.T) {
	d := sequence.Define("arity").
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) {
			next.Done(1)
		}).
		Step(noopStep, sequence.Expects(2))

	_, err := runAndWait(t, d, nil)
	var aerr *sequence.ArityError
	if assert.ErrorAs(t, err, &aerr) {
		assert.Equal(t, 2, aerr.Step)
		assert.Equal(t, 2, aerr.Expected)
		assert.Equal(t, 1, aerr.Got)
	}

	d = sequence.Define("arity ok").Step(noopStep, sequence.Expects(2))
	results, err := runAndWait(t, d, nil, "a", "b")
	if assert.NoError(t, err) {
		assert.Len(t, results, 2)
	}
}

func TestNext_Panic(t *testing.T) {
	d := sequence.Define("panics").
		Step(noopStep).
		Step(func(_ *sequence.Run, _ sequence.Args, _ *sequence.Next) {
			panic("boom")
		})

	_, err := runAndWait(t, d, nil)
	var perr *sequence.PanicError
	if assert.ErrorAs(t, err, &perr) {
		assert.Equal(t, 2, perr.Step)
		assert.Equal(t, "boom", perr.Value)
	}
}
