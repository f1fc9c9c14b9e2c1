package dom

// Event is a dispatched UI event. Button follows the DOM numbering
// (0 primary, 1 middle, 2 secondary).
type Event struct {
	Type          string
	Button        int
	Target        *Element
	CurrentTarget *Element

	prevented bool
	stopped   bool
}

func (ev *Event) PreventDefault()        { ev.prevented = true }
func (ev *Event) DefaultPrevented() bool { return ev.prevented }
func (ev *Event) StopPropagation()       { ev.stopped = true }

type Listener func(ev *Event)

type listener struct {
	typ     string
	fn      Listener
	capture bool
}

// AddEventListener registers fn for events of typ. Capturing listeners run
// on the way down to the target, the others on the way back up.
func (e *Element) AddEventListener(typ string, fn Listener, capture bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.listeners = append(e.listeners, listener{typ: typ, fn: fn, capture: capture})
}

// Dispatch delivers ev with e as target and reports whether the default
// action was prevented.
func (e *Element) Dispatch(ev *Event) bool {
	ev.Target = e

	// ancestors, outermost first
	var path []*Element
	for cur := e.Parent(); cur != nil; cur = cur.Parent() {
		path = append([]*Element{cur}, path...)
	}

	for _, el := range path {
		if ev.stopped {
			return ev.prevented
		}
		el.invoke(ev, func(l listener) bool { return l.capture })
	}
	if !ev.stopped {
		e.invoke(ev, func(listener) bool { return true })
	}
	for i := len(path) - 1; i >= 0; i-- {
		if ev.stopped {
			break
		}
		path[i].invoke(ev, func(l listener) bool { return !l.capture })
	}
	return ev.prevented
}

func (e *Element) invoke(ev *Event, phase func(listener) bool) {
	e.doc.mu.Lock()
	ls := make([]listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		if l.typ == ev.Type && phase(l) {
			ls = append(ls, l)
		}
	}
	e.doc.mu.Unlock()

	ev.CurrentTarget = e
	for _, l := range ls {
		l.fn(ev)
	}
}
