package sequence_test

import (
	"context"
	"testing"
	"time"

	"github.com/casualjim/flow/sequence"
	"github.com/stretchr/testify/require"
)

// manual is a scheduler that only runs tasks when drained, from the test goroutine
type manual struct {
	tasks []func()
}

func (m *manual) Post(fn func()) {
	m.tasks = append(m.tasks, fn)
}

func (m *manual) drain() {
	for len(m.tasks) > 0 {
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		fn()
	}
}

type outcome struct {
	err     error
	results []sequence.Value
	calls   int
}

// recorder returns a terminal callback that records what it was called with
func recorder() (*outcome, sequence.Callback) {
	o := &outcome{}
	return o, func(err error, results ...sequence.Value) {
		o.calls++
		o.err = err
		o.results = results
	}
}

type result struct {
	err     error
	results []sequence.Value
}

// runAndWait runs the definition and waits for its terminal callback
func runAndWait(t testing.TB, d *sequence.Definition, self interface{}, args ...sequence.Value) ([]sequence.Value, error) {
	t.Helper()
	ch := make(chan result, 1)
	err := d.Run(context.Background(), self, func(err error, results ...sequence.Value) {
		ch <- result{err, results}
	}, args...)
	require.NoError(t, err)

	select {
	case r := <-ch:
		return r.results, r.err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "flow did not complete", "flow %s", d.Name())
	}
	return nil, nil
}

func mapEntries(m *sequence.Map) map[sequence.Value]sequence.Value {
	res := make(map[sequence.Value]sequence.Value, m.Len())
	m.Each(func(k, v sequence.Value) bool {
		res[k] = v
		return true
	})
	return res
}
