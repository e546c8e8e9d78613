package sequence

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/errwrap"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ConfigurationError is raised when a flow is defined or invoked in a way that can't work,
// like registering a nil step or running a flow without steps.
type ConfigurationError struct {
	Op      string
	Message string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("sequence: %s: %s", c.Op, c.Message)
}

func configErr(op, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsConfiguration returns true when this error is or contains a configuration error
func IsConfiguration(err error) bool {
	return errwrap.GetType(err, &ConfigurationError{}) != nil
}

// NormalizationError replaces a value passed as error that isn't a usable error,
// a typed nil pointer stored in an error interface for example.
type NormalizationError struct {
	Type string
}

func (n *NormalizationError) Error() string {
	return "sequence: received non-error as error: " + n.Type
}

// normalize turns typed nils into a NormalizationError, a real error is returned untouched
func normalize(err error) error {
	if err == nil {
		return nil
	}
	rv := reflect.ValueOf(err)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			return &NormalizationError{Type: fmt.Sprintf("%T", err)}
		}
	}
	return err
}

// ArityError is raised when a step declared how many arguments it expects and received a different amount
type ArityError struct {
	Step     int
	Expected int
	Got      int
}

func (a *ArityError) Error() string {
	return fmt.Sprintf("sequence: step %d expects %d arguments, got %d", a.Step, a.Expected, a.Got)
}

// PanicError is delivered through the continuation when a step panics
type PanicError struct {
	Step  int
	Value interface{}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("sequence: step %d panicked: %v", p.Step, p.Value)
}

// AggregateError collects the failures of an iterator step by the key of the entry that failed.
type AggregateError struct {
	errs *orderedmap.OrderedMap[Value, error]
}

func newAggregate() *AggregateError {
	return &AggregateError{errs: orderedmap.New[Value, error]()}
}

func (a *AggregateError) add(key Value, err error) {
	a.errs.Set(key, err)
}

// Len is the number of entries that failed
func (a *AggregateError) Len() int {
	if a == nil {
		return 0
	}
	return a.errs.Len()
}

// Get the error for the entry with the given key, nil when that entry didn't fail
func (a *AggregateError) Get(key Value) error {
	if a == nil {
		return nil
	}
	err, _ := a.errs.Get(key)
	return err
}

// Keys of the entries that failed, in collection order
func (a *AggregateError) Keys() []Value {
	keys := make([]Value, 0, a.Len())
	a.Each(func(k Value, _ error) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Each calls fn for every failure until fn returns false
func (a *AggregateError) Each(fn func(key Value, err error) bool) {
	if a == nil {
		return
	}
	for pair := a.errs.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

func (a *AggregateError) Error() string {
	parts := make([]string, 0, a.Len())
	a.Each(func(k Value, err error) bool {
		parts = append(parts, fmt.Sprintf("%v: %v", k, err))
		return true
	})
	noun := "entries"
	if len(parts) == 1 {
		noun = "entry"
	}
	return fmt.Sprintf("%d %s failed: %s", len(parts), noun, strings.Join(parts, "; "))
}

// WrappedErrors implements errwrap.Wrapper from https://github.com/hashicorp/errwrap
func (a *AggregateError) WrappedErrors() []error {
	errs := make([]error, 0, a.Len())
	a.Each(func(_ Value, err error) bool {
		errs = append(errs, err)
		return true
	})
	return errs
}

// Unwrap supports errors.Is and errors.As for the collected failures
func (a *AggregateError) Unwrap() []error {
	return a.WrappedErrors()
}

// AsAggregate returns the aggregate error wrapped in err, if any
func AsAggregate(err error) (*AggregateError, bool) {
	if agg, ok := err.(*AggregateError); ok {
		return agg, true
	}
	agg, ok := errwrap.GetType(err, &AggregateError{}).(*AggregateError)
	return agg, ok
}
