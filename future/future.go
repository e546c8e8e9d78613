package future

import (
	"context"
	"sync"
)

// Value to be returned from a future
type Value interface{}

type result struct {
	Values []Value
	Err    error
	_      struct{} // avoid unkeyed usage
}

// Future represents the outcome of a callback based operation that will become available in the future.
//
// A future resolves exactly once, with either an error or a list of values.
type Future interface {
	AndThen(func([]Value) ([]Value, error)) Future
	Get() ([]Value, error)
	GetContext(context.Context) ([]Value, error)
	Done() <-chan struct{}
}

// Resolver completes a future, only the first call has an effect.
// Its signature matches the terminal callback of a flow.
type Resolver func(error, ...Value)

// New creates a future and the resolver that completes it
func New() (Future, Resolver) {
	f := &future{
		done: make(chan struct{}),
		once: new(sync.Once),
	}
	return f, f.resolve
}

type future struct {
	done chan struct{}
	once *sync.Once
	val  result
}

func (f *future) resolve(err error, values ...Value) {
	f.once.Do(func() {
		f.val = result{Values: values, Err: err}
		close(f.done)
	})
}

func (f *future) Done() <-chan struct{} {
	return f.done
}

func (f *future) Get() ([]Value, error) {
	<-f.done
	return f.val.Values, f.val.Err
}

// GetContext waits for the future or for the context to be done, whichever comes first.
// Giving up on waiting doesn't stop the operation that backs the future.
func (f *future) GetContext(ctx context.Context) ([]Value, error) {
	select {
	case <-f.done:
		return f.val.Values, f.val.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *future) AndThen(fn func([]Value) ([]Value, error)) Future {
	next, resolve := New()
	go func() {
		v, e := f.Get()
		if e != nil { // on error we fail here
			resolve(e, v...)
			return
		}
		vv, e2 := fn(v)
		resolve(e2, vv...)
	}()
	return next
}
