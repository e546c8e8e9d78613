package sequence

import "fmt"

// Value is an argument or a result threaded from one step into the next
type Value interface{}

// Args is the positional argument list a step receives, it holds the results of the previous step
type Args []Value

// Len returns the number of arguments
func (a Args) Len() int { return len(a) }

// Get the argument at position i, or nil when there is no such argument
func (a Args) Get(i int) Value {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// StepFunc is a plain step. It must eventually call next exactly once.
type StepFunc func(run *Run, args Args, next *Next)

// IteratorFunc is invoked once per entry of the collection an iterator step receives.
// extra holds the arguments that followed the collection.
type IteratorFunc func(run *Run, key, value Value, extra Args, next *Next)

// Callback receives the outcome of a run: either an error or the results of the last step
type Callback func(err error, results ...Value)

// Kind of step in the stack
type Kind uint8

const (
	// KindStep is a plain step
	KindStep Kind = iota
	// KindSerial walks a collection one entry at a time
	KindSerial
	// KindParallel dispatches every entry of a collection at once
	KindParallel
)

var kindNames = map[Kind]string{
	KindStep:     "step",
	KindSerial:   "stepping",
	KindParallel: "together",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText renders this kind to text
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
