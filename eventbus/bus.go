package eventbus

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Event you can subscribe to
type Event struct {
	Name string
	At   time.Time
	Args interface{}
}

// NOOPHandler drops events on the floor without taking action
var NOOPHandler = Handler(func(_ Event) error { return nil })

// NopBus is an event bus that drops every event, it is used when no bus is configured
var NopBus EventBus = &nopBus{}

type nopBus struct{}

func (nopBus) Close() error                { return nil }
func (nopBus) Publish(Event)               {}
func (nopBus) Subscribe(...EventHandler)   {}
func (nopBus) Unsubscribe(...EventHandler) {}
func (nopBus) Len() int                    { return 0 }

// Handler wraps a function that will be called when an event is received
// In this mode the handler is quiet when an error is produced by the handler
// so the user of the eventbus needs to handle that error
func Handler(on func(Event) error) EventHandler {
	return &defaultHandler{
		on: on,
	}
}

type defaultHandler struct {
	on func(Event) error
}

// On event trigger
func (h *defaultHandler) On(event Event) error {
	return h.on(event)
}

func newSubscription(handler EventHandler, errorHandler func(error)) *eventSubcription {
	return &eventSubcription{
		handler: handler,
		once:    new(sync.Once),
		onError: errorHandler,
	}
}

type eventSubcription struct {
	listener chan Event
	handler  EventHandler
	once     *sync.Once
	onError  func(error)
}

func (e *eventSubcription) Listen() {
	e.once.Do(func() {
		e.listener = make(chan Event)
		go func(listener <-chan Event) {
			for evt := range listener {
				if err := e.handler.On(evt); err != nil {
					e.onError(err)
				}
			}
		}(e.listener)
	})
}

func (e *eventSubcription) Stop() {
	close(e.listener)
	e.listener = nil
	e.once = new(sync.Once)
}

func (e *eventSubcription) Matches(handler EventHandler) bool {
	return e.handler == handler
}

// EventHandler deals with handling events
type EventHandler interface {
	On(Event) error
}

type filteredHandler struct {
	Next    EventHandler
	Matches EventPredicate
}

func (f *filteredHandler) On(evt Event) error {
	if !f.Matches(evt) {
		return nil
	}
	return f.Next.On(evt)
}

// EventPredicate for filtering events
type EventPredicate func(Event) bool

// Filtered composes an event handler with a filter
func Filtered(matches EventPredicate, next EventHandler) EventHandler {
	return &filteredHandler{
		Matches: matches,
		Next:    next,
	}
}

// Topics is a predicate that matches events published with one of the provided names
func Topics(names ...string) EventPredicate {
	return func(evt Event) bool {
		for _, n := range names {
			if evt.Name == n {
				return true
			}
		}
		return false
	}
}

// EventBus does fanout to registered channels
type EventBus interface {
	Close() error
	Publish(Event)
	Subscribe(...EventHandler)
	Unsubscribe(...EventHandler)
	Len() int
}

// Option configures an event bus
type Option func(*defaultEventBus)

// Timeout after which delivery of an event to a slow handler is abandoned
func Timeout(d time.Duration) Option {
	return func(e *defaultEventBus) { e.timeout = d }
}

// Buffer is the amount of events that can be published before Publish blocks
func Buffer(size int) Option {
	return func(e *defaultEventBus) { e.buffer = size }
}

// Metrics registry to record the notification timings in
func Metrics(registry metrics.Registry) Option {
	return func(e *defaultEventBus) { e.registry = registry }
}

type defaultEventBus struct {
	lock *sync.RWMutex

	channel      chan Event
	handlers     []*eventSubcription
	closing      chan chan struct{}
	closed       chan struct{}
	closeOnce    sync.Once
	log          logrus.FieldLogger
	errorHandler func(error)
	timeout      time.Duration
	buffer       int
	registry     metrics.Registry
}

// New event bus with specified logger
func New(log logrus.FieldLogger, opts ...Option) EventBus {
	if log == nil {
		log = logrus.New().WithFields(nil)
	}
	e := &defaultEventBus{
		closing:  make(chan chan struct{}),
		closed:   make(chan struct{}),
		log:      log,
		lock:     new(sync.RWMutex),
		timeout:  100 * time.Millisecond,
		buffer:   100,
		registry: metrics.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.channel = make(chan Event, e.buffer)
	e.errorHandler = func(err error) { log.Errorln(err) }
	go e.dispatcherLoop()
	return e
}

func (e *defaultEventBus) dispatcherLoop() {
	totWait := new(sync.WaitGroup)
	for {
		select {
		case evt := <-e.channel:
			e.log.Debugf("got event %q in channel", evt.Name)
			metrics.GetOrRegisterCounter("eventbus.published", e.registry).Inc(1)
			timer := metrics.GetOrRegisterTimer("eventbus."+evt.Name+".notify", e.registry)
			totWait.Add(1)
			go timer.Time(func() {
				defer totWait.Done()
				e.notify(evt)
			})
		case closed := <-e.closing:
			totWait.Wait()
			e.lock.Lock()
			for _, h := range e.handlers {
				h.Stop()
			}
			e.handlers = nil
			e.lock.Unlock()

			closed <- struct{}{}
			e.log.Debug("event bus closed")
			return
		}
	}
}

func (e *defaultEventBus) notify(evt Event) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	noh := len(e.handlers)
	if noh == 0 {
		e.log.Debugf("there are no active listeners, skipping broadcast")
		return
	}

	var wg sync.WaitGroup
	wg.Add(noh)
	e.log.Debugf("notifying %d listeners", noh)
	for _, handler := range e.handlers {
		go func(listener chan<- Event) {
			defer wg.Done()
			timer := time.NewTimer(e.timeout)
			defer timer.Stop()
			select {
			case listener <- evt:
			case <-timer.C:
				metrics.GetOrRegisterCounter("eventbus.dropped", e.registry).Inc(1)
				e.log.Warnf("failed to send event %q to listener within %v", evt.Name, e.timeout)
			}
		}(handler.listener)
	}
	wg.Wait()
}

// SetErrorHandler changes the default error handler which logs as error
// to the new error handler provided to this method
func (e *defaultEventBus) SetErrorHandler(handler func(error)) {
	e.lock.Lock()
	e.errorHandler = handler
	e.lock.Unlock()
}

// Publish an event to all interested subscribers
// Once the bus is closed events are dropped instead.
func (e *defaultEventBus) Publish(evt Event) {
	select {
	case <-e.closed:
		e.drop(evt)
		return
	default:
	}
	select {
	case e.channel <- evt:
	case <-e.closed:
		e.drop(evt)
	}
}

func (e *defaultEventBus) drop(evt Event) {
	metrics.GetOrRegisterCounter("eventbus.dropped", e.registry).Inc(1)
	e.log.Debugf("event bus is closed, dropping event %q", evt.Name)
}

// Subscribe to events published in the bus
func (e *defaultEventBus) Subscribe(handlers ...EventHandler) {
	e.lock.Lock()
	e.log.Debugf("adding %d listeners", len(handlers))
	for _, handler := range handlers {
		sub := newSubscription(handler, e.errorHandler)
		e.handlers = append(e.handlers, sub)
		sub.Listen()
	}
	e.lock.Unlock()
}

func (e *defaultEventBus) Unsubscribe(handlers ...EventHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.handlers) == 0 {
		e.log.Debugf("nothing to remove from, ignoring %d listeners", len(handlers))
		return
	}
	e.log.Debugf("removing %d listeners", len(handlers))
	for _, h := range handlers {
		for i, handler := range e.handlers {
			if handler.Matches(h) {
				handler.Stop()
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				break
			}
		}
	}
}

// Close stops the dispatcher after the events in flight were delivered, closing twice is a no-op
func (e *defaultEventBus) Close() error {
	e.closeOnce.Do(func() {
		e.log.Debugf("closing eventbus")
		close(e.closed)
		ch := make(chan struct{})
		e.closing <- ch
		<-ch
	})
	return nil
}

func (e *defaultEventBus) Len() int {
	e.lock.RLock()
	sz := len(e.handlers)
	e.lock.RUnlock()
	return sz
}
