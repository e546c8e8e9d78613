package sequence

// iterator wraps a per entry function into the step that walks the collection
func iterator(kind Kind, fn IteratorFunc) StepFunc {
	return func(run *Run, args Args, next *Next) {
		entries, list, err := entriesOf(args.Get(0))
		if err != nil {
			next.Fail(configErr(kind.String(), "%v", err))
			return
		}

		it := &iteration{
			run:      run,
			next:     next,
			fn:       fn,
			kind:     kind,
			entries:  entries,
			list:     list,
			attempts: make([]int, len(entries)),
			settled:  make([]bool, len(entries)),
			values:   make([]Value, len(entries)),
			errs:     make([]error, len(entries)),
		}
		if len(args) > 1 {
			it.extra = args[1:]
		}

		if len(entries) == 0 {
			it.complete()
			return
		}
		if kind == KindParallel {
			for i := range entries {
				it.dispatch(i)
			}
			return
		}
		it.dispatch(0)
	}
}

// iteration is the state of one iterator step, it's only used from the scheduler
type iteration struct {
	run       *Run
	next      *Next
	fn        IteratorFunc
	kind      Kind
	entries   []entry
	list      bool
	extra     Args
	attempts  []int
	settled   []bool
	values    []Value
	errs      []error
	completed int
	failed    int
}

// dispatch posts the invocation of the iterator function for entry i
func (it *iteration) dispatch(i int) {
	it.attempts[i]++
	attempt := it.attempts[i]
	e := it.entries[i]
	sched := it.next.sched

	item := &Next{
		sched: sched,
		log:   it.next.log,
		step:  it.next.step,
		resolve: func(err error, res Args) {
			it.settle(i, attempt, err, res)
		},
	}
	item.repeat = func() {
		sched.Post(func() {
			if it.settled[i] || attempt != it.attempts[i] {
				it.next.log.Warnf("sequence: entry %v of step %d can only be repeated while it is running, dropping it", e.key, it.next.step)
				return
			}
			it.dispatch(i)
		})
	}

	extra := append(Args(nil), it.extra...)
	sched.Post(func() {
		it.progress(i, StateProcessing, nil)
		defer func() {
			if rec := recover(); rec != nil {
				item.Fail(&PanicError{Step: it.next.step, Value: rec})
			}
		}()
		it.fn(it.run, e.key, e.value, extra, item)
	})
}

func (it *iteration) settle(i, attempt int, err error, res Args) {
	if it.settled[i] || attempt != it.attempts[i] {
		it.next.log.Warnf("sequence: stale continuation for entry %v of step %d, dropping it", it.entries[i].key, it.next.step)
		return
	}
	it.settled[i] = true
	it.completed++

	if err != nil {
		it.errs[i] = err
		it.failed++
		it.progress(i, StateFailed, err)
	} else {
		it.values[i] = collapse(res)
		it.progress(i, StateSuccess, nil)
	}

	if it.completed == len(it.entries) {
		it.complete()
		return
	}
	if it.kind == KindSerial {
		it.dispatch(i + 1)
	}
}

// complete reports the results and failures keyed in collection order, whatever order the entries finished in
func (it *iteration) complete() {
	results := NewMap()
	if it.list {
		results = newList()
	}
	agg := newAggregate()
	for i, e := range it.entries {
		if it.errs[i] != nil {
			agg.add(e.key, it.errs[i])
			continue
		}
		results.Set(e.key, it.values[i])
	}

	if agg.Len() > 0 {
		it.next.Call(agg, results)
		return
	}
	it.next.Call(nil, results)
}

func (it *iteration) progress(i int, state State, reason error) {
	it.run.iteration(IterationEvent{
		Step:      it.next.step,
		Kind:      it.kind,
		Key:       it.entries[i].key,
		Index:     i,
		Total:     len(it.entries),
		Completed: it.completed,
		Failed:    it.failed,
		State:     state,
		Reason:    reason,
	})
}
