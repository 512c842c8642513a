// Package completion binds a single callback to the first of several
// competing events on an event source.
//
// A binding subscribes to a success event and the source's error event
// (and optionally its close event).  Whichever fires first wins: every
// listener of the binding is removed and only then is the callback
// invoked, exactly once.  A callback that starts a new operation on the
// same source therefore never sees a stale listener of its own binding.
package completion

import (
	"fmt"

	ncerr "sockwrap/internal/errors"
	"sockwrap/internal/event"
)

// Source is the subscription surface of an event emitter.
type Source interface {
	On(name string, fn event.Listener) event.ListenerID
	Off(name string, id event.ListenerID)
}

// Callback receives the outcome of a binding.  err is nil when the
// success event fired; payload is the success event's argument.
type Callback func(err error, payload any)

// Disposer removes a binding's listeners without invoking its callback.
// It is idempotent and a no-op once the binding has fired.
type Disposer func()

// Bind waits for success or the source's error event.
func Bind(src Source, success string, cb Callback) Disposer {
	return bind(src, success, false, cb)
}

// BindWithClose is Bind that also treats the source's close event as a
// failure, completing with ErrUnexpectedClose.  Use it when the peer
// closing would otherwise leave the callback unfired forever, e.g. while
// waiting for drain.
func BindWithClose(src Source, success string, cb Callback) Disposer {
	return bind(src, success, true, cb)
}

type binding struct {
	src  Source
	subs []subscription
	done bool
}

type subscription struct {
	name string
	id   event.ListenerID
}

func bind(src Source, success string, withClose bool, cb Callback) Disposer {
	b := &binding{src: src}

	fire := func(err error, payload any) {
		if b.done {
			return
		}
		b.release()
		cb(err, payload)
	}

	b.subscribe(success, func(arg any) { fire(nil, arg) })
	b.subscribe(event.Error, func(arg any) { fire(asError(arg), nil) })
	if withClose {
		b.subscribe(event.Close, func(any) { fire(ncerr.ErrUnexpectedClose, nil) })
	}

	return b.release
}

func (b *binding) subscribe(name string, fn event.Listener) {
	b.subs = append(b.subs, subscription{name: name, id: b.src.On(name, fn)})
}

// release marks the binding done and unsubscribes everything.
func (b *binding) release() {
	if b.done {
		return
	}
	b.done = true
	for _, s := range b.subs {
		b.src.Off(s.name, s.id)
	}
	b.subs = nil
}

func asError(arg any) error {
	switch v := arg.(type) {
	case error:
		return v
	case nil:
		return fmt.Errorf("unknown transport error")
	default:
		return fmt.Errorf("%v", v)
	}
}
