package sequence

import (
	"fmt"
	"path"
	"sync"

	"github.com/casualjim/flow"
	"github.com/casualjim/flow/eventbus"
)

type observer struct {
	pattern string
	handler eventbus.EventHandler
}

var observers struct {
	sync.RWMutex
	entries []observer
}

// Observe registers a handler for the diagnostic events of every flow whose name matches pattern.
// Patterns use path.Match syntax, so "*" observes all flows.
// Handlers are resolved when a run starts.
func Observe(pattern string, handler eventbus.EventHandler) error {
	if handler == nil {
		return configErr("observe", "handler can't be nil")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return configErr("observe", "invalid pattern %q: %v", pattern, err)
	}
	observers.Lock()
	observers.entries = append(observers.entries, observer{pattern: pattern, handler: handler})
	observers.Unlock()
	return nil
}

// Forget removes every registration of the handler
func Forget(handler eventbus.EventHandler) {
	observers.Lock()
	kept := observers.entries[:0]
	for _, o := range observers.entries {
		if o.handler != handler {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(observers.entries); i++ {
		observers.entries[i] = observer{}
	}
	observers.entries = kept
	observers.Unlock()
}

func observersFor(name string) []eventbus.EventHandler {
	observers.RLock()
	defer observers.RUnlock()
	var res []eventbus.EventHandler
	for _, o := range observers.entries {
		if ok, _ := path.Match(o.pattern, name); ok {
			res = append(res, o.handler)
		}
	}
	return res
}

// tracer fans the events of one run out to the log, the synchronous handlers and the bus.
// It is only used from the scheduler.
type tracer struct {
	flow     string
	log      flow.Logger
	handlers []eventbus.EventHandler
	bus      eventbus.EventBus
}

func (t *tracer) emit(topic string, args fmt.Stringer) {
	t.log.Debugf("%s: %s", t.flow, args)

	evt := newEvent(topic, args)
	for _, h := range t.handlers {
		if err := h.On(evt); err != nil {
			t.log.Warnf("%s: event handler failed: %v", t.flow, err)
		}
	}
	t.bus.Publish(evt)
}
