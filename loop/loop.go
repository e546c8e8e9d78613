// Package loop provides a cooperative scheduler: tasks posted to a loop run
// one at a time, in the order they were posted, on a single drain goroutine.
//
// Posting never runs the task in-line, so a task can post follow-up work
// for itself without growing the stack.
package loop

import (
	"sync"

	"github.com/casualjim/flow"
)

// Default loop shared by everything that doesn't bring its own
var Default = New()

// Option configures a loop
type Option func(*Loop)

// LogWith logs recovered task panics to the provided logger
func LogWith(log flow.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// New creates a new loop, the drain goroutine is only alive while there is work
func New(opts ...Option) *Loop {
	l := &Loop{log: flow.NopLogger}
	for _, opt := range opts {
		opt(l)
	}
	l.idle = sync.NewCond(&l.m)
	return l
}

// Loop is a FIFO task queue drained by at most one goroutine at a time
type Loop struct {
	m       sync.Mutex
	idle    *sync.Cond
	queue   []func()
	head    int
	running bool
	log     flow.Logger
}

// Post a task to run on the next tick of the loop
func (l *Loop) Post(task func()) {
	if task == nil {
		return
	}
	l.m.Lock()
	l.queue = append(l.queue, task)
	if !l.running {
		l.running = true
		go l.drain()
	}
	l.m.Unlock()
}

func (l *Loop) drain() {
	for {
		l.m.Lock()
		if l.head == len(l.queue) {
			l.queue = l.queue[:0]
			l.head = 0
			l.running = false
			l.idle.Broadcast()
			l.m.Unlock()
			return
		}
		task := l.queue[l.head]
		l.queue[l.head] = nil
		l.head++
		l.m.Unlock()

		l.invoke(task)
	}
}

func (l *Loop) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("loop: task panicked: %v", r)
		}
	}()
	task()
}

// Len returns the number of tasks waiting to run
func (l *Loop) Len() int {
	l.m.Lock()
	n := len(l.queue) - l.head
	l.m.Unlock()
	return n
}

// Wait blocks until the loop has no more work, including work posted while waiting.
// Calling Wait from a task deadlocks.
func (l *Loop) Wait() {
	l.m.Lock()
	for l.running {
		l.idle.Wait()
	}
	l.m.Unlock()
}
