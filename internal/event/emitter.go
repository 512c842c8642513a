// Package event provides a minimal named-event emitter.
//
// An Emitter is owned by a single goroutine (the event loop) and is not
// safe for concurrent use.  Listeners registered for the same name run in
// registration order.
package event

// Lifecycle event names shared by every socket implementation.
const (
	Connect       = "connect"
	SecureConnect = "secureConnect"
	Error         = "error"
	Close         = "close"
	Data          = "data"
	Drain         = "drain"
	Timeout       = "timeout"
	End           = "end"
)

// Listener receives the argument passed to Emit.  The argument is an
// error for Error, a []byte for Data, a bool (had error) for Close and
// nil otherwise.
type Listener func(arg any)

// ListenerID identifies one registration so it can be removed.
type ListenerID uint64

type entry struct {
	id   ListenerID
	fn   Listener
	live bool
}

// Emitter dispatches named events to registered listeners.
// The zero value is ready to use.
type Emitter struct {
	next      ListenerID
	listeners map[string][]*entry
}

// On registers fn for name and returns an id for Off.
func (e *Emitter) On(name string, fn Listener) ListenerID {
	if e.listeners == nil {
		e.listeners = make(map[string][]*entry)
	}
	e.next++
	e.listeners[name] = append(e.listeners[name], &entry{id: e.next, fn: fn, live: true})
	return e.next
}

// Off removes the registration with the given id.  Unknown ids are
// ignored, so Off is safe to call more than once.
func (e *Emitter) Off(name string, id ListenerID) {
	list := e.listeners[name]
	for i, ent := range list {
		if ent.id != id {
			continue
		}
		ent.live = false
		e.listeners[name] = append(list[:i:i], list[i+1:]...)
		if len(e.listeners[name]) == 0 {
			delete(e.listeners, name)
		}
		return
	}
}

// Emit invokes every listener for name with arg and reports whether any
// listener was registered.  A listener removed by an earlier listener of
// the same Emit is skipped.
func (e *Emitter) Emit(name string, arg any) bool {
	list := e.listeners[name]
	if len(list) == 0 {
		return false
	}
	snapshot := make([]*entry, len(list))
	copy(snapshot, list)
	for _, ent := range snapshot {
		if ent.live {
			ent.fn(arg)
		}
	}
	return true
}

// ListenerCount returns the number of listeners registered for name.
func (e *Emitter) ListenerCount(name string) int {
	return len(e.listeners[name])
}

// RemoveAll drops every listener for every event.
func (e *Emitter) RemoveAll() {
	for _, list := range e.listeners {
		for _, ent := range list {
			ent.live = false
		}
	}
	e.listeners = nil
}
